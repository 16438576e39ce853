package gossip

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	// Rounds is the total number of gossip rounds initiated.
	Rounds prometheus.Counter

	// Exchanges is the total number of outbound exchanges labelled by
	// message type and result ('ok', 'failed').
	Exchanges *prometheus.CounterVec

	// MessagesInbound is the total number of handled inbound messages
	// labelled by message type.
	MessagesInbound *prometheus.CounterVec

	// MessagesRejected is the total number of inbound messages rejected as
	// malformed.
	MessagesRejected prometheus.Counter

	// ConnectionsInbound is the total number of incoming stream
	// connections.
	ConnectionsInbound prometheus.Counter

	// ConnectionsOutbound is the total number of outgoing stream
	// connections.
	ConnectionsOutbound prometheus.Counter

	// StreamBytesInbound is the total number of read bytes via a stream
	// connection.
	StreamBytesInbound prometheus.Counter

	// StreamBytesOutbound is the total number of written bytes via a stream
	// connection.
	StreamBytesOutbound prometheus.Counter

	// Members is the number of known members labelled by status.
	Members *prometheus.GaugeVec

	// Entries is the number of entries in the state tree, including
	// tombstones.
	Entries prometheus.Gauge

	// EntriesInbound is the total number of remote entries that updated the
	// local state tree.
	EntriesInbound prometheus.Counter

	// ViewSize is the number of peers in the partial view.
	ViewSize prometheus.Gauge

	// BroadcastsOutbound is the total number of queued member updates
	// piggybacked on outgoing messages.
	BroadcastsOutbound prometheus.Counter

	// Refutations is the total number of times the local node refuted a
	// suspect or dead claim about itself.
	Refutations prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Rounds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossamer",
				Subsystem: "gossip",
				Name:      "rounds_total",
				Help:      "Total number of gossip rounds",
			},
		),
		Exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gossamer",
				Subsystem: "gossip",
				Name:      "exchanges_total",
				Help:      "Total number of outbound exchanges",
			},
			[]string{"type", "result"},
		),
		MessagesInbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gossamer",
				Subsystem: "gossip",
				Name:      "messages_inbound_total",
				Help:      "Total number of handled inbound messages",
			},
			[]string{"type"},
		),
		MessagesRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossamer",
				Subsystem: "gossip",
				Name:      "messages_rejected_total",
				Help:      "Total number of rejected inbound messages",
			},
		),
		ConnectionsInbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossamer",
				Subsystem: "gossip",
				Name:      "connections_inbound_total",
				Help:      "Total number of incoming stream connections",
			},
		),
		ConnectionsOutbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossamer",
				Subsystem: "gossip",
				Name:      "connections_outbound_total",
				Help:      "Total number of outbound stream connections",
			},
		),
		StreamBytesInbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossamer",
				Subsystem: "gossip",
				Name:      "stream_bytes_inbound_total",
				Help:      "Total number of read bytes via a stream connection",
			},
		),
		StreamBytesOutbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossamer",
				Subsystem: "gossip",
				Name:      "stream_bytes_outbound_total",
				Help:      "Total number of written bytes via a stream connection",
			},
		),
		Members: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gossamer",
				Subsystem: "gossip",
				Name:      "members",
				Help:      "Number of known members",
			},
			[]string{"status"},
		),
		Entries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gossamer",
				Subsystem: "gossip",
				Name:      "entries",
				Help:      "Number of state entries",
			},
		),
		EntriesInbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossamer",
				Subsystem: "gossip",
				Name:      "entries_inbound_total",
				Help:      "Total number of applied remote entries",
			},
		),
		ViewSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gossamer",
				Subsystem: "gossip",
				Name:      "view_size",
				Help:      "Number of peers in the partial view",
			},
		),
		BroadcastsOutbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossamer",
				Subsystem: "gossip",
				Name:      "broadcasts_outbound_total",
				Help:      "Total number of piggybacked member updates",
			},
		),
		Refutations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossamer",
				Subsystem: "gossip",
				Name:      "refutations_total",
				Help:      "Total number of refuted claims about the local node",
			},
		),
	}
}

func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.Rounds,
		m.Exchanges,
		m.MessagesInbound,
		m.MessagesRejected,
		m.ConnectionsInbound,
		m.ConnectionsOutbound,
		m.StreamBytesInbound,
		m.StreamBytesOutbound,
		m.Members,
		m.Entries,
		m.EntriesInbound,
		m.ViewSize,
		m.BroadcastsOutbound,
		m.Refutations,
	)
}
