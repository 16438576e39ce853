package admin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/andydunstall/gossamer/pkg/log"
	"github.com/andydunstall/gossamer/server/middleware"
	"github.com/andydunstall/gossamer/server/status"
)

const (
	forwardTimeout = time.Second * 15
)

// Cluster looks up the admin address of nodes in the cluster.
type Cluster interface {
	// LocalNode returns the ID of the local node.
	LocalNode() string

	// AdminAddr returns the advertised admin address of the node with the
	// given ID.
	AdminAddr(node string) (string, bool)
}

// Server is the admin HTTP server, which exposes endpoints for metrics, health
// and inspecting the node status.
type Server struct {
	cluster Cluster

	registry *prometheus.Registry

	forwarder *forwarder

	httpServer *http.Server

	router *gin.Engine

	logger log.Logger
}

// NewServer creates an admin server.
//
// If cluster is non-nil, requests with a 'forward' query are forwarded to
// the admin server of the node with the given ID.
func NewServer(
	cluster Cluster,
	registry *prometheus.Registry,
	logger log.Logger,
) *Server {
	logger = logger.WithSubsystem("admin")

	router := gin.New()
	server := &Server{
		cluster:   cluster,
		registry:  registry,
		forwarder: newForwarder(forwardTimeout, logger),
		httpServer: &http.Server{
			Handler:  router,
			ErrorLog: logger.StdLogger(zapcore.WarnLevel),
		},
		router: router,
		logger: logger,
	}

	// Recover from panics.
	router.Use(gin.CustomRecoveryWithWriter(nil, server.panicRoute))
	router.Use(middleware.NewLogger(logger))

	if registry != nil {
		metrics := middleware.NewMetrics("admin")
		metrics.Register(registry)
		router.Use(metrics.Handler())
	}

	if cluster != nil {
		router.Use(server.forwardInterceptor)
	}

	server.registerRoutes(router)

	return server
}

func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info(
		"starting admin server",
		zap.String("addr", ln.Addr().String()),
	)

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Shutdown attempts to gracefully shutdown the server by waiting for pending
// requests to complete.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// AddStatus registers the status handler routes under '/status/<route>'.
func (s *Server) AddStatus(route string, handler status.Handler) {
	group := s.router.Group("/status").Group(route)
	handler.Register(group)
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/health", s.healthRoute)

	if s.registry != nil {
		router.GET("/metrics", s.metricsHandler())
	}
}

func (s *Server) healthRoute(c *gin.Context) {
	c.Status(http.StatusOK)
}

// forwardInterceptor intercepts all admin requests. If the request has a
// 'forward' query, the request is forwarded to the node with the requested ID.
func (s *Server) forwardInterceptor(c *gin.Context) {
	forward, ok := c.GetQuery("forward")
	if !ok || forward == s.cluster.LocalNode() {
		// No forward configuration so handle locally.
		c.Next()
		return
	}

	addr, ok := s.cluster.AdminAddr(forward)
	if !ok {
		_ = errorResponse(c.Writer, http.StatusNotFound, "node not found")
		c.Abort()
		return
	}

	s.forwarder.Forward(c.Writer, c.Request, addr)

	// Abort to avoid going to the next handler.
	c.Abort()
}

func (s *Server) panicRoute(c *gin.Context, err any) {
	s.logger.Error(
		"handler panic",
		zap.String("path", c.FullPath()),
		zap.Any("err", err),
	)
	c.AbortWithStatus(http.StatusInternalServerError)
}

func (s *Server) metricsHandler() gin.HandlerFunc {
	h := promhttp.HandlerFor(
		s.registry,
		promhttp.HandlerOpts{Registry: s.registry},
	)
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func init() {
	// Disable Gin debug logs.
	gin.SetMode(gin.ReleaseMode)
}
