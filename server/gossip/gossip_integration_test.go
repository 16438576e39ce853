//go:build integration

package gossip

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/gossamer/pkg/gossip"
	"github.com/andydunstall/gossamer/pkg/log"
)

func newServerGossip(t *testing.T, adminAddr string) *Gossip {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	conf := gossip.DefaultConfig()
	conf.BindAddr = ln.Addr().String()
	conf.AdvertiseAddr = ln.Addr().String()
	conf.Interval = time.Millisecond * 10

	g, err := NewGossip(ln, adminAddr, conf, prometheus.NewRegistry(), log.NewNopLogger())
	require.NoError(t, err)
	go g.Serve()

	t.Cleanup(func() {
		g.Close()
	})
	return g
}

func TestGossip_AdminAddr(t *testing.T) {
	node1 := newServerGossip(t, "127.0.0.1:9001")
	node2 := newServerGossip(t, "127.0.0.1:9002")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	joined, err := node2.JoinOnStartup(ctx, []string{node1.LocalNode()})
	require.NoError(t, err)
	assert.Equal(t, []gossip.Node{node1.Gossip().LocalNode()}, joined)

	// The joining node adopts the seeds state on join.
	addr, ok := node2.AdminAddr(node1.LocalNode())
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1:9001", addr)

	assert.Eventually(t, func() bool {
		addr, ok := node1.AdminAddr(node2.LocalNode())
		return ok && addr == "127.0.0.1:9002"
	}, time.Second*5, time.Millisecond*10)

	require.NoError(t, node2.Leave(ctx))

	assert.Eventually(t, func() bool {
		_, ok := node1.AdminAddr(node2.LocalNode())
		if ok {
			return false
		}
		m, ok := node1.Gossip().Member(node2.Gossip().LocalNode())
		return ok && m.Status == gossip.StatusDead
	}, time.Second*5, time.Millisecond*10)
}

func TestGossip_JoinOnStartupTimeout(t *testing.T) {
	// Reserve an address with nothing listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	node := newServerGossip(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
	defer cancel()

	_, err = node.JoinOnStartup(ctx, []string{addr})
	assert.Error(t, err)
}
