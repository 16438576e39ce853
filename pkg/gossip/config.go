package gossip

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	// BindAddr is the address to bind to listen for gossip traffic.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	// AdvertiseAddr is the address to advertise to other nodes.
	AdvertiseAddr string `json:"advertise_addr" yaml:"advertise_addr"`

	// Interval is the rate to initiate a gossip round.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// SampleSize is the number of peers to synchronize with each round.
	SampleSize int `json:"sample_size" yaml:"sample_size"`

	// ViewCapacity is the maximum number of peers in the partial view.
	ViewCapacity int `json:"view_capacity" yaml:"view_capacity"`

	// ShuffleLength is the number of view entries exchanged with a peer, and
	// the maximum number of local entries replaced by each exchange.
	ShuffleLength int `json:"shuffle_length" yaml:"shuffle_length"`

	// ExchangeTimeout is the maximum duration of an exchange with a peer.
	ExchangeTimeout time.Duration `json:"exchange_timeout" yaml:"exchange_timeout"`

	// SuspicionTimeout is the duration a node may be suspect before it is
	// considered dead.
	SuspicionTimeout time.Duration `json:"suspicion_timeout" yaml:"suspicion_timeout"`

	// SuspicionThreshold is the failure detector suspicion level (phi) at
	// which an alive peer becomes suspect.
	SuspicionThreshold float64 `json:"suspicion_threshold" yaml:"suspicion_threshold"`

	// DeadRetention is the duration a dead node is retained as a tombstone
	// before it is purged.
	DeadRetention time.Duration `json:"dead_retention" yaml:"dead_retention"`

	// DeadConfirmations is the number of distinct nodes that must report a
	// node as dead before a gossiped dead report is accepted.
	DeadConfirmations int `json:"dead_confirmations" yaml:"dead_confirmations"`

	// RetransmitMult is the multiplier for the number of times a status
	// update is piggybacked on outgoing messages, which is
	// RetransmitMult * ceil(log10(n+1)).
	RetransmitMult int `json:"retransmit_mult" yaml:"retransmit_mult"`

	// PushOnWrite pushes local writes to a sampled peer immediately rather
	// than waiting for the next round.
	PushOnWrite bool `json:"push_on_write" yaml:"push_on_write"`

	// MaxMessageSize is the maximum size of a message in bytes.
	MaxMessageSize int `json:"max_message_size" yaml:"max_message_size"`
}

// DefaultConfig returns the configuration with the default values.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:           ":8003",
		Interval:           time.Second,
		SampleSize:         3,
		ViewCapacity:       20,
		ShuffleLength:      5,
		ExchangeTimeout:    time.Second * 2,
		SuspicionTimeout:   time.Second * 5,
		SuspicionThreshold: 20,
		DeadRetention:      time.Minute,
		DeadConfirmations:  1,
		RetransmitMult:     4,
		PushOnWrite:        false,
		MaxMessageSize:     4 << 20,
	}
}

func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("missing interval")
	}
	if c.SampleSize <= 0 {
		return fmt.Errorf("missing sample size")
	}
	if c.ViewCapacity <= 0 {
		return fmt.Errorf("missing view capacity")
	}
	if c.SampleSize > c.ViewCapacity {
		return fmt.Errorf(
			"sample size exceeds view capacity: %d > %d",
			c.SampleSize, c.ViewCapacity,
		)
	}
	if c.ShuffleLength <= 0 {
		return fmt.Errorf("missing shuffle length")
	}
	if c.ExchangeTimeout <= 0 {
		return fmt.Errorf("missing exchange timeout")
	}
	if c.SuspicionTimeout <= 0 {
		return fmt.Errorf("missing suspicion timeout")
	}
	if c.SuspicionThreshold <= 0 {
		return fmt.Errorf("missing suspicion threshold")
	}
	if c.DeadRetention <= 0 {
		return fmt.Errorf("missing dead retention")
	}
	if c.DeadConfirmations <= 0 {
		return fmt.Errorf("missing dead confirmations")
	}
	if c.RetransmitMult <= 0 {
		return fmt.Errorf("missing retransmit mult")
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("missing max message size")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	prefix = prefix + "gossip."

	fs.StringVar(
		&c.BindAddr,
		prefix+"bind-addr",
		c.BindAddr,
		`
The host/port to listen for inter-node gossip traffic.

If the host is unspecified it defaults to all listeners, such as
a bind address ':8003' will listen on '0.0.0.0:8003'`,
	)

	fs.StringVar(
		&c.AdvertiseAddr,
		prefix+"advertise-addr",
		c.AdvertiseAddr,
		`
Gossip listen address to advertise to other nodes in the cluster. This is the
address other nodes will use to gossip with the node, and is the nodes
identity in the cluster.

Such as if the listen address is ':8003', the advertised address may be
'10.26.104.45:8003' or 'node1.cluster:8003'.

By default, if the bind address includes an IP to bind to that will be used.
If the bind address does not include an IP (such as ':8003') the nodes
private IP will be used, such as a bind address of ':8003' may have an
advertise address of '10.26.104.14:8003'.`,
	)

	fs.DurationVar(
		&c.Interval,
		prefix+"interval",
		c.Interval,
		`
The interval to initiate rounds of gossip.

Each gossip round selects '--gossip.sample-size' peers from the partial view
to synchronize with.`,
	)

	fs.IntVar(
		&c.SampleSize,
		prefix+"sample-size",
		c.SampleSize,
		`
The number of peers to synchronize with each gossip round.`,
	)

	fs.IntVar(
		&c.ViewCapacity,
		prefix+"view-capacity",
		c.ViewCapacity,
		`
The maximum number of peers in the nodes partial view of the cluster.

Peers are only selected from the partial view, so this bounds the cost of
each round regardless of the cluster size.`,
	)

	fs.IntVar(
		&c.ShuffleLength,
		prefix+"shuffle-length",
		c.ShuffleLength,
		`
The number of partial view entries exchanged with each peer.`,
	)

	fs.DurationVar(
		&c.ExchangeTimeout,
		prefix+"exchange-timeout",
		c.ExchangeTimeout,
		`
The timeout for each exchange with a peer. If the exchange times out the peer
is marked as suspect.`,
	)

	fs.DurationVar(
		&c.SuspicionTimeout,
		prefix+"suspicion-timeout",
		c.SuspicionTimeout,
		`
The duration a node may be suspect before it is considered dead, unless the
node refutes the suspicion.`,
	)

	fs.Float64Var(
		&c.SuspicionThreshold,
		prefix+"suspicion-threshold",
		c.SuspicionThreshold,
		`
The failure detector suspicion level at which a peer in the partial view
that hasn't been contacted is marked as suspect.`,
	)

	fs.DurationVar(
		&c.DeadRetention,
		prefix+"dead-retention",
		c.DeadRetention,
		`
The duration a dead node is retained before being removed. This prevents
stale updates resurrecting the node.`,
	)

	fs.IntVar(
		&c.DeadConfirmations,
		prefix+"dead-confirmations",
		c.DeadConfirmations,
		`
The number of distinct nodes that must report a node as dead before accepting
a gossiped dead report. Until then the node is considered suspect.`,
	)

	fs.IntVar(
		&c.RetransmitMult,
		prefix+"retransmit-mult",
		c.RetransmitMult,
		`
The multiplier for the number of times to piggyback a membership update on
outgoing messages. Each update is sent 'retransmit-mult * ceil(log10(n+1))'
times, where n is the number of known nodes.`,
	)

	fs.BoolVar(
		&c.PushOnWrite,
		prefix+"push-on-write",
		c.PushOnWrite,
		`
Whether to push local writes to a sampled peer immediately, rather than
waiting for the next gossip round.`,
	)

	fs.IntVar(
		&c.MaxMessageSize,
		prefix+"max-message-size",
		c.MaxMessageSize,
		`
The maximum size of a gossip message in bytes. Larger messages are rejected.`,
	)
}
