package cluster

import (
	"sync"

	"go.uber.org/zap"

	"github.com/andydunstall/gossamer/gossamertest/cluster/config"
	"github.com/andydunstall/gossamer/pkg/log"
)

// Manager manages a cluster of in-process nodes.
type Manager struct {
	nodes []*Node

	mu sync.Mutex

	opts []Option

	logger log.Logger
}

func NewManager(opts ...Option) *Manager {
	options := options{
		logger: log.NewNopLogger(),
	}
	for _, o := range opts {
		o.apply(&options)
	}

	return &Manager{
		opts:   opts,
		logger: options.logger.WithSubsystem("cluster.manager"),
	}
}

// Update adds or removes nodes to match the configured number of nodes.
func (m *Manager) Update(config *config.Config) {
	m.logger.Info("update", zap.Any("config", config))

	m.mu.Lock()
	defer m.mu.Unlock()

	// Update the active nodes to ensure we have the correct number.
	if config.Nodes > len(m.nodes) {
		added := config.Nodes - len(m.nodes)
		for i := 0; i != added; i++ {
			m.addNodeLocked()
		}
	} else if len(m.nodes) > config.Nodes {
		removed := len(m.nodes) - config.Nodes
		for i := 0; i != removed; i++ {
			m.removeNodeLocked()
		}
	}
}

// Churn replaces the oldest node with a new node.
func (m *Manager) Churn() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.nodes) == 0 {
		return
	}

	m.logger.Info("churn")

	m.removeNodeLocked()
	m.addNodeLocked()
}

func (m *Manager) Nodes() []*Node {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy nodes to avoid race conditions when m.nodes is updated.
	var nodes []*Node
	nodes = append(nodes, m.nodes...)
	return nodes
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := len(m.nodes)
	for i := 0; i != removed; i++ {
		m.removeNodeLocked()
	}
}

func (m *Manager) addNodeLocked() {
	var gossipAddrs []string
	for _, node := range m.nodes {
		gossipAddrs = append(gossipAddrs, node.GossipAddr())
	}

	opts := append([]Option{}, m.opts...)
	opts = append(opts, WithJoin(gossipAddrs))
	node := NewNode(opts...)
	node.Start()

	m.logger.Info(
		"added node",
		zap.String("gossip-addr", node.GossipAddr()),
		zap.String("admin-addr", node.AdminAddr()),
	)

	m.nodes = append(m.nodes, node)
}

func (m *Manager) removeNodeLocked() {
	// Remove the oldest node.
	node := m.nodes[0]
	m.nodes = m.nodes[1:]
	node.Stop()

	m.logger.Info(
		"removed node",
		zap.String("gossip-addr", node.GossipAddr()),
	)
}
