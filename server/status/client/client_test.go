package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/gossamer/pkg/gossip"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	c := NewClient(u)
	t.Cleanup(c.Close)
	return c
}

func TestClient_Request(t *testing.T) {
	t.Run("forward", func(t *testing.T) {
		var forward string
		var path string
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			forward = r.URL.Query().Get("forward")
			path = r.URL.Path
			w.WriteHeader(http.StatusOK)
		})
		c.SetForward("10.26.104.2:8003")

		r, err := c.Request("/status/gossip/members")
		require.NoError(t, err)
		r.Close()

		assert.Equal(t, "10.26.104.2:8003", forward)
		assert.Equal(t, "/status/gossip/members", path)
	})

	t.Run("bad status", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(errorMessage{Error: "member not found"})
		})

		_, err := c.Request("/status/gossip/members/foo")
		assert.EqualError(t, err, "request: bad status: 404: member not found")
	})

	t.Run("bad status no body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := c.Request("/status/gossip/members")
		assert.EqualError(t, err, "request: bad status: 500")
	})
}

func TestGossip_Members(t *testing.T) {
	members := []gossip.Member{
		{
			Node:        gossip.Node{Host: "10.26.104.1", Port: 8003},
			Status:      gossip.StatusAlive,
			Incarnation: 2,
		},
		{
			Node:   gossip.Node{Host: "10.26.104.2", Port: 8003},
			Status: gossip.StatusDead,
		},
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status/gossip/members", r.URL.Path)
		_ = json.NewEncoder(w).Encode(members)
	})

	received, err := NewGossip(c).Members()
	require.NoError(t, err)
	assert.Equal(t, members, received)
}

func TestGossip_Entry(t *testing.T) {
	entry := gossip.Entry{
		Key:   "admin-addr/10.26.104.1:8003",
		Value: "10.26.104.1:8002",
		Version: gossip.Version{
			Counter: 3,
			Writer:  gossip.Node{Host: "10.26.104.1", Port: 8003},
		},
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status/gossip/state/admin-addr/10.26.104.1:8003", r.URL.Path)
		_ = json.NewEncoder(w).Encode(entry)
	})

	received, err := NewGossip(c).Entry("admin-addr/10.26.104.1:8003")
	require.NoError(t, err)
	assert.Equal(t, &entry, received)
}
