package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/andydunstall/gossamer/pkg/gossip"
	"github.com/andydunstall/gossamer/pkg/log"
)

type AdminConfig struct {
	// BindAddr is the address to bind to listen for incoming HTTP connections.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	// AdvertiseAddr is the address to advertise to other nodes.
	AdvertiseAddr string `json:"advertise_addr" yaml:"advertise_addr"`
}

func (c *AdminConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	return nil
}

type ClusterConfig struct {
	// Join contains a list of addresses of members in the cluster to join.
	Join []string `json:"join" yaml:"join"`

	// JoinTimeout is the maximum duration to attempt to join the cluster
	// on startup.
	JoinTimeout time.Duration `json:"join_timeout" yaml:"join_timeout"`

	// AbortIfJoinFails indicates whether the node should exit if it fails to
	// join any of the configured members.
	AbortIfJoinFails bool `json:"abort_if_join_fails" yaml:"abort_if_join_fails"`
}

func (c *ClusterConfig) Validate() error {
	if len(c.Join) > 0 && c.JoinTimeout == 0 {
		return fmt.Errorf("missing join timeout")
	}
	return nil
}

type Config struct {
	Admin   AdminConfig   `json:"admin" yaml:"admin"`
	Gossip  gossip.Config `json:"gossip" yaml:"gossip"`
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`
	Log     log.Config    `json:"log" yaml:"log"`

	// GracePeriod is the duration to gracefully shutdown the node. During
	// the grace period the node notifies its peers it is leaving and waits
	// for pending admin requests to complete.
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

func Default() *Config {
	return &Config{
		Admin: AdminConfig{
			BindAddr: ":8002",
		},
		Gossip: *gossip.DefaultConfig(),
		Cluster: ClusterConfig{
			JoinTimeout:      time.Minute,
			AbortIfJoinFails: true,
		},
		Log:         log.DefaultConfig(),
		GracePeriod: time.Minute,
	}
}

func (c *Config) Validate() error {
	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if err := c.Gossip.Validate(); err != nil {
		return fmt.Errorf("gossip: %w", err)
	}
	if err := c.Cluster.Validate(); err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	if c.GracePeriod == 0 {
		return fmt.Errorf("missing grace period")
	}

	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.Admin.BindAddr,
		"admin.bind-addr",
		c.Admin.BindAddr,
		`
The host/port to listen for incoming admin connections.

If the host is unspecified it defaults to all listeners, such as
'--admin.bind-addr :8002' will listen on '0.0.0.0:8002'`,
	)
	fs.StringVar(
		&c.Admin.AdvertiseAddr,
		"admin.advertise-addr",
		c.Admin.AdvertiseAddr,
		`
Admin listen address to advertise to other nodes in the cluster. This is the
address other nodes will use to forward admin requests.

Such as if the listen address is ':8002', the advertised address may be
'10.26.104.45:8002' or 'node1.cluster:8002'.

By default, if the bind address includes an IP to bind to that will be used.
If the bind address does not include an IP (such as ':8002') the nodes
private IP will be used, such as a bind address of ':8002' may have an
advertise address of '10.26.104.14:8002'.`,
	)

	c.Gossip.RegisterFlags(fs, "")

	fs.StringSliceVar(
		&c.Cluster.Join,
		"cluster.join",
		c.Cluster.Join,
		`
A list of addresses of members in the cluster to join.

This may be either addresses of specific nodes, such as
'--cluster.join 10.26.104.14,10.26.104.75', or a domain that resolves to
the addresses of the nodes in the cluster (e.g. a Kubernetes headless
service), such as '--cluster.join gossamer.prod-ns'.

Each address must include the host, and may optionally include a port. If no
port is given, the gossip port of this node is used.

Note each node propagates membership information to the other known nodes,
so the initial set of configured members only needs to be a subset of nodes.`,
	)
	fs.DurationVar(
		&c.Cluster.JoinTimeout,
		"cluster.join-timeout",
		c.Cluster.JoinTimeout,
		`
Maximum duration to attempt to join the cluster on startup. Joining is
retried with backoff until the timeout expires.`,
	)
	fs.BoolVar(
		&c.Cluster.AbortIfJoinFails,
		"cluster.abort-if-join-fails",
		c.Cluster.AbortIfJoinFails,
		`
Whether the node should exit if it is configured with members to join but
fails to join any of them.`,
	)

	c.Log.RegisterFlags(fs)

	fs.DurationVar(
		&c.GracePeriod,
		"grace-period",
		c.GracePeriod,
		`
Maximum duration after a shutdown signal is received (SIGTERM or
SIGINT) to gracefully shutdown the node before terminating.
This includes announcing to the cluster the node is leaving and
handling in-progress admin requests.`,
	)
}
