package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/andydunstall/gossamer/pkg/log"
)

type ChurnConfig struct {
	// Interval is how often to replace a node in the cluster. If zero the
	// nodes are never replaced.
	Interval time.Duration `json:"interval" yaml:"interval"`
}

type Config struct {
	// Nodes is the number of nodes in the cluster.
	Nodes int `json:"nodes" yaml:"nodes"`

	// GossipInterval is the gossip round interval of each node.
	GossipInterval time.Duration `json:"gossip_interval" yaml:"gossip_interval"`

	Churn ChurnConfig `json:"churn" yaml:"churn"`

	Log log.Config `json:"log" yaml:"log"`
}

func Default() *Config {
	return &Config{
		Nodes:          3,
		GossipInterval: time.Millisecond * 100,
		Log:            log.DefaultConfig(),
	}
}

func (c *Config) Validate() error {
	if c.Nodes <= 0 {
		return fmt.Errorf("missing nodes")
	}
	if c.GossipInterval <= 0 {
		return fmt.Errorf("missing gossip interval")
	}
	if c.Churn.Interval < 0 {
		return fmt.Errorf("invalid churn interval")
	}

	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.IntVar(
		&c.Nodes,
		"nodes",
		c.Nodes,
		`
The number of cluster nodes to start.`,
	)

	fs.DurationVar(
		&c.GossipInterval,
		"gossip-interval",
		c.GossipInterval,
		`
The gossip round interval of each node.`,
	)

	fs.DurationVar(
		&c.Churn.Interval,
		"churn.interval",
		c.Churn.Interval,
		`
How often to replace a node in the cluster. The oldest node gracefully leaves
and a new node joins in its place.

If zero nodes are never replaced.`,
	)

	c.Log.RegisterFlags(fs)
}
