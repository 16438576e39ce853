package gossip

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/andydunstall/gossamer/pkg/backoff"
	"github.com/andydunstall/gossamer/pkg/gossip"
	"github.com/andydunstall/gossamer/pkg/log"
)

// Gossip runs the gossip protocol for a server node.
//
// It serves gossip traffic from a TCP listener, publishes the nodes admin
// address to the cluster state so other nodes can forward admin requests,
// and tracks the admin addresses of the other nodes.
type Gossip struct {
	gossip *gossip.Gossip

	transport *gossip.StreamTransport

	watcher *watcher

	conf *gossip.Config

	logger log.Logger
}

// NewGossip creates the gossip node identified by the configured advertise
// address.
//
// The caller must call Serve to start handling gossip traffic and
// gossiping with the cluster.
func NewGossip(
	ln net.Listener,
	adminAddr string,
	conf *gossip.Config,
	registry *prometheus.Registry,
	logger log.Logger,
) (*Gossip, error) {
	local, err := gossip.ParseNode(conf.AdvertiseAddr)
	if err != nil {
		return nil, fmt.Errorf("advertise addr: %w", err)
	}

	metrics := gossip.NewMetrics()
	if registry != nil {
		metrics.Register(registry)
	}

	watcher := newWatcher(logger.WithSubsystem("gossip.watcher"))
	transport := gossip.NewStreamTransport(
		ln,
		conf.ExchangeTimeout,
		conf.MaxMessageSize,
		metrics,
		logger.WithSubsystem("gossip.transport"),
	)
	sampler := gossip.NewPeerSamplingService(local, nil, conf.ViewCapacity)

	g := gossip.New(
		local,
		sampler,
		transport,
		conf,
		watcher,
		metrics,
		logger,
	)
	if adminAddr != "" {
		g.OnChange(adminAddrKey(local), adminAddr)
	}

	return &Gossip{
		gossip:    g,
		transport: transport,
		watcher:   watcher,
		conf:      conf,
		logger:    logger.WithSubsystem("gossip"),
	}, nil
}

// Serve handles inbound gossip traffic and starts gossiping with the
// cluster. Blocks until the transport is closed.
func (g *Gossip) Serve() {
	g.gossip.Start()
	g.transport.Serve(g.gossip)
}

// JoinOnStartup attempts to join an existing cluster by synchronizing with
// the members at the given addresses.
//
// This will retry until the context is cancelled (with backoff).
func (g *Gossip) JoinOnStartup(ctx context.Context, addrs []string) ([]gossip.Node, error) {
	backoff := backoff.New(0, time.Second, time.Second*15)
	var lastErr error
	for {
		if !backoff.Wait(ctx) {
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return nil, lastErr
		}

		nodes, err := g.gossip.Join(ctx, addrs)
		if err == nil {
			return nodes, nil
		}
		g.logger.Warn("failed to join cluster", zap.Error(err))
		lastErr = err
	}
}

// Leave notifies the known members that this node is leaving the cluster.
//
// The admin address is removed from the cluster state first so the leave
// notification carries the delete.
func (g *Gossip) Leave(ctx context.Context) error {
	g.gossip.OnDelete(adminAddrKey(g.gossip.LocalNode()))
	return g.gossip.Leave(ctx)
}

// LocalNode returns the ID of the local node.
func (g *Gossip) LocalNode() string {
	return g.gossip.LocalNode().String()
}

// AdminAddr returns the admin address of the node with the given ID.
func (g *Gossip) AdminAddr(node string) (string, bool) {
	return g.watcher.AdminAddr(node)
}

// Gossip returns the underlying gossip node.
func (g *Gossip) Gossip() *gossip.Gossip {
	return g.gossip
}

// Close stops gossiping and closes the transport.
func (g *Gossip) Close() error {
	if err := g.transport.Close(); err != nil {
		_ = g.gossip.Close()
		return fmt.Errorf("transport: %w", err)
	}
	return g.gossip.Close()
}
