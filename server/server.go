package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	rungroup "github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/andydunstall/gossamer/pkg/log"
	"github.com/andydunstall/gossamer/server/admin"
	"github.com/andydunstall/gossamer/server/config"
	"github.com/andydunstall/gossamer/server/gossip"
)

var (
	errJoinFailed = errors.New("failed to join cluster")
)

// Server is a gossamer server node.
//
// The node gossips with the cluster to disseminate membership and state,
// and runs an admin server to inspect the node.
type Server struct {
	gossip *gossip.Gossip

	adminLn     net.Listener
	adminServer *admin.Server

	registry *prometheus.Registry

	conf *config.Config

	logger log.Logger
}

// NewServer binds the gossip and admin listeners and creates the node.
//
// If an advertise address isn't configured, the listeners bound address is
// advertised.
func NewServer(conf *config.Config, logger log.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()

	gossipLn, err := net.Listen("tcp", conf.Gossip.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("gossip listen: %s: %w", conf.Gossip.BindAddr, err)
	}
	if conf.Gossip.AdvertiseAddr == "" {
		conf.Gossip.AdvertiseAddr = gossipLn.Addr().String()
	}

	adminLn, err := net.Listen("tcp", conf.Admin.BindAddr)
	if err != nil {
		gossipLn.Close()
		return nil, fmt.Errorf("admin listen: %s: %w", conf.Admin.BindAddr, err)
	}
	if conf.Admin.AdvertiseAddr == "" {
		conf.Admin.AdvertiseAddr = adminLn.Addr().String()
	}

	g, err := gossip.NewGossip(
		gossipLn,
		conf.Admin.AdvertiseAddr,
		&conf.Gossip,
		registry,
		logger,
	)
	if err != nil {
		gossipLn.Close()
		adminLn.Close()
		return nil, fmt.Errorf("gossip: %w", err)
	}

	adminServer := admin.NewServer(g, registry, logger)
	adminServer.AddStatus("/gossip", gossip.NewStatus(g.Gossip()))

	return &Server{
		gossip:      g,
		adminLn:     adminLn,
		adminServer: adminServer,
		registry:    registry,
		conf:        conf,
		logger:      logger.WithSubsystem("server"),
	}, nil
}

// Run joins the cluster and runs the node until the context is cancelled,
// at which point the node gracefully leaves the cluster and shuts down.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(
		"starting server",
		zap.String("node", s.gossip.LocalNode()),
		zap.Any("conf", s.conf),
	)

	var group rungroup.Group

	// Gossip.
	group.Add(func() error {
		s.gossip.Serve()
		return nil
	}, func(error) {
		if err := s.gossip.Close(); err != nil {
			s.logger.Warn("failed to close gossip", zap.Error(err))
		}

		s.logger.Info("gossip shut down")
	})

	// Admin server.
	group.Add(func() error {
		if err := s.adminServer.Serve(s.adminLn); err != nil {
			return fmt.Errorf("admin server serve: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.conf.GracePeriod,
		)
		defer cancel()

		if err := s.adminServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("failed to gracefully shutdown admin server", zap.Error(err))
		}

		s.logger.Info("admin server shut down")
	})

	// Join and leave.
	runCtx, runCancel := context.WithCancel(ctx)
	group.Add(func() error {
		if err := s.join(runCtx); err != nil {
			return err
		}

		<-runCtx.Done()
		if ctx.Err() == nil {
			// Another actor failed so don't leave.
			return nil
		}

		s.logger.Info("shutting down")

		leaveCtx, cancel := context.WithTimeout(
			context.Background(),
			s.conf.GracePeriod,
		)
		defer cancel()

		if err := s.gossip.Leave(leaveCtx); err != nil {
			s.logger.Warn("failed to gracefully leave cluster", zap.Error(err))
		} else {
			s.logger.Info("left cluster")
		}
		return nil
	}, func(error) {
		runCancel()
	})

	if err := group.Run(); err != nil {
		return err
	}

	s.logger.Info("shutdown complete")

	return nil
}

// GossipAddr returns the advertised gossip address of the node.
func (s *Server) GossipAddr() string {
	return s.conf.Gossip.AdvertiseAddr
}

// AdminAddr returns the advertised admin address of the node.
func (s *Server) AdminAddr() string {
	return s.conf.Admin.AdvertiseAddr
}

// Registry returns the metrics registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) join(ctx context.Context) error {
	if len(s.conf.Cluster.Join) == 0 {
		return nil
	}

	joinCtx, cancel := context.WithTimeout(ctx, s.conf.Cluster.JoinTimeout)
	defer cancel()

	// Note if 'join' is a domain that doesn't map to any entries (except
	// ourselves), then join will succeed since it means we're the first
	// member.
	nodes, err := s.gossip.JoinOnStartup(joinCtx, s.conf.Cluster.Join)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down.
			return nil
		}
		if s.conf.Cluster.AbortIfJoinFails {
			return fmt.Errorf("%w: %w", errJoinFailed, err)
		}
		s.logger.Warn("failed to join cluster", zap.Error(err))
		return nil
	}

	var joined []string
	for _, node := range nodes {
		joined = append(joined, node.String())
	}
	s.logger.Info("joined cluster", zap.Strings("nodes", joined))
	return nil
}
