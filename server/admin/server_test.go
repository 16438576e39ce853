package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/gossamer/pkg/log"
	"github.com/andydunstall/gossamer/server/status"
)

type fakeStatus struct {
	value string
}

func (s *fakeStatus) Register(group *gin.RouterGroup) {
	group.GET("/foo", s.fooRoute)
	group.GET("/panic", s.panicRoute)
}

func (s *fakeStatus) fooRoute(c *gin.Context) {
	c.String(http.StatusOK, s.value)
}

func (s *fakeStatus) panicRoute(_ *gin.Context) {
	panic("foo")
}

var _ status.Handler = &fakeStatus{}

type fakeCluster struct {
	local string
	addrs map[string]string
}

func (c *fakeCluster) LocalNode() string {
	return c.local
}

func (c *fakeCluster) AdminAddr(node string) (string, bool) {
	addr, ok := c.addrs[node]
	return addr, ok
}

var _ Cluster = &fakeCluster{}

func startServer(t *testing.T, s *Server) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		assert.NoError(t, s.Serve(ln))
	}()
	t.Cleanup(func() {
		_ = s.Shutdown(context.TODO())
	})

	return ln.Addr().String()
}

func get(t *testing.T, url string) (int, string) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestServer_AdminRoutes(t *testing.T) {
	s := NewServer(
		nil,
		prometheus.NewRegistry(),
		log.NewNopLogger(),
	)
	addr := startServer(t, s)

	t.Run("health", func(t *testing.T) {
		code, _ := get(t, fmt.Sprintf("http://%s/health", addr))
		assert.Equal(t, http.StatusOK, code)
	})

	t.Run("metrics", func(t *testing.T) {
		code, _ := get(t, fmt.Sprintf("http://%s/metrics", addr))
		assert.Equal(t, http.StatusOK, code)
	})

	t.Run("not found", func(t *testing.T) {
		code, _ := get(t, fmt.Sprintf("http://%s/foo", addr))
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestServer_StatusRoutes(t *testing.T) {
	s := NewServer(
		nil,
		prometheus.NewRegistry(),
		log.NewNopLogger(),
	)
	s.AddStatus("/mystatus", &fakeStatus{value: "foo"})
	addr := startServer(t, s)

	t.Run("status ok", func(t *testing.T) {
		code, body := get(t, fmt.Sprintf("http://%s/status/mystatus/foo", addr))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "foo", body)
	})

	t.Run("not found", func(t *testing.T) {
		code, _ := get(t, fmt.Sprintf("http://%s/status/notfound", addr))
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("panic", func(t *testing.T) {
		code, _ := get(t, fmt.Sprintf("http://%s/status/mystatus/panic", addr))
		assert.Equal(t, http.StatusInternalServerError, code)
	})
}

func TestServer_Forward(t *testing.T) {
	remote := NewServer(nil, nil, log.NewNopLogger())
	remote.AddStatus("/mystatus", &fakeStatus{value: "remote"})
	remoteAddr := startServer(t, remote)

	// Reserve an address with nothing listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedAddr := ln.Addr().String()
	require.NoError(t, ln.Close())

	local := NewServer(&fakeCluster{
		local: "10.26.104.1:8003",
		addrs: map[string]string{
			"10.26.104.2:8003": remoteAddr,
			"10.26.104.3:8003": closedAddr,
		},
	}, nil, log.NewNopLogger())
	local.AddStatus("/mystatus", &fakeStatus{value: "local"})
	localAddr := startServer(t, local)

	t.Run("no forward", func(t *testing.T) {
		code, body := get(t, fmt.Sprintf("http://%s/status/mystatus/foo", localAddr))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "local", body)
	})

	t.Run("forward local", func(t *testing.T) {
		code, body := get(t, fmt.Sprintf(
			"http://%s/status/mystatus/foo?forward=10.26.104.1:8003", localAddr,
		))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "local", body)
	})

	t.Run("forward remote", func(t *testing.T) {
		code, body := get(t, fmt.Sprintf(
			"http://%s/status/mystatus/foo?forward=10.26.104.2:8003", localAddr,
		))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "remote", body)
	})

	t.Run("forward unknown node", func(t *testing.T) {
		code, body := get(t, fmt.Sprintf(
			"http://%s/status/mystatus/foo?forward=10.26.104.9:8003", localAddr,
		))
		assert.Equal(t, http.StatusNotFound, code)

		var m errorMessage
		require.NoError(t, json.Unmarshal([]byte(body), &m))
		assert.Equal(t, "node not found", m.Error)
	})

	t.Run("forward unreachable", func(t *testing.T) {
		code, body := get(t, fmt.Sprintf(
			"http://%s/status/mystatus/foo?forward=10.26.104.3:8003", localAddr,
		))
		assert.Equal(t, http.StatusBadGateway, code)

		var m errorMessage
		require.NoError(t, json.Unmarshal([]byte(body), &m))
		assert.Equal(t, "node unreachable", m.Error)
	})
}
