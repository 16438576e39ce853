package cluster

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/andydunstall/gossamer/pkg/log"
	"github.com/andydunstall/gossamer/server"
	"github.com/andydunstall/gossamer/server/config"
)

// Node is a server node running in-process, listening on loopback
// addresses.
type Node struct {
	server *server.Server

	cancel func()
	doneCh chan struct{}

	logger log.Logger
}

func NewNode(opts ...Option) *Node {
	options := options{
		gossipInterval: time.Millisecond * 100,
		logger:         log.NewNopLogger(),
	}
	for _, o := range opts {
		o.apply(&options)
	}

	conf := config.Default()
	conf.Cluster.Join = options.join
	conf.Cluster.JoinTimeout = time.Second * 10
	conf.Admin.BindAddr = "127.0.0.1:0"
	conf.Gossip.BindAddr = "127.0.0.1:0"
	conf.Gossip.Interval = options.gossipInterval
	conf.GracePeriod = time.Second * 5

	server, err := server.NewServer(conf, options.logger)
	if err != nil {
		panic("server: " + err.Error())
	}

	return &Node{
		server: server,
		doneCh: make(chan struct{}),
		logger: options.logger.With(zap.String("node", server.GossipAddr())),
	}
}

func (n *Node) AdminAddr() string {
	return n.server.AdminAddr()
}

func (n *Node) GossipAddr() string {
	return n.server.GossipAddr()
}

// Start runs the node in the background.
func (n *Node) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	go func() {
		defer close(n.doneCh)

		if err := n.server.Run(ctx); err != nil {
			n.logger.Error("failed to run node", zap.Error(err))
		}
	}()
}

// Stop gracefully leaves the cluster and waits for the node to shutdown.
func (n *Node) Stop() {
	if n.cancel == nil {
		return
	}
	n.cancel()
	<-n.doneCh
}
