package gossip

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/gossamer/pkg/gossip"
	"github.com/andydunstall/gossamer/pkg/log"
)

var (
	testNode1 = gossip.Node{Host: "10.26.104.1", Port: 8003}
	testNode2 = gossip.Node{Host: "10.26.104.2", Port: 8003}
	testNode3 = gossip.Node{Host: "10.26.104.3", Port: 8003}
)

type unreachableTransport struct {
}

func (t *unreachableTransport) Send(
	_ context.Context, _ gossip.Node, _ *gossip.Message,
) (*gossip.Message, error) {
	return nil, errors.New("unreachable")
}

func newTestGossip(local gossip.Node, peers ...gossip.Node) *gossip.Gossip {
	conf := gossip.DefaultConfig()
	return gossip.New(
		local,
		gossip.NewPeerSamplingService(local, peers, conf.ViewCapacity),
		&unreachableTransport{},
		conf,
		nil,
		gossip.NewMetrics(),
		log.NewNopLogger(),
	)
}

func newTestRouter(g *gossip.Gossip) *gin.Engine {
	router := gin.New()
	NewStatus(g).Register(router.Group("/status/gossip"))
	return router
}

func request(t *testing.T, router *gin.Engine, path string, v any) int {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if w.Code == http.StatusOK && v != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
	}
	return w.Code
}

func TestStatus_Members(t *testing.T) {
	g := newTestGossip(testNode1, testNode3, testNode2)
	router := newTestRouter(g)

	t.Run("list", func(t *testing.T) {
		var members []gossip.Member
		code := request(t, router, "/status/gossip/members", &members)
		assert.Equal(t, http.StatusOK, code)

		var nodes []gossip.Node
		for _, m := range members {
			nodes = append(nodes, m.Node)
			assert.Equal(t, gossip.StatusAlive, m.Status)
		}
		// Sorted by node.
		assert.Equal(t, []gossip.Node{testNode1, testNode2, testNode3}, nodes)
	})

	t.Run("get", func(t *testing.T) {
		var member gossip.Member
		code := request(t, router, "/status/gossip/members/10.26.104.2:8003", &member)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, testNode2, member.Node)
		assert.Equal(t, gossip.StatusAlive, member.Status)
	})

	t.Run("get dead", func(t *testing.T) {
		g.OnDead(testNode3)

		var member gossip.Member
		code := request(t, router, "/status/gossip/members/10.26.104.3:8003", &member)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, gossip.StatusDead, member.Status)
	})

	t.Run("not found", func(t *testing.T) {
		code := request(t, router, "/status/gossip/members/10.26.104.9:8003", nil)
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("invalid node", func(t *testing.T) {
		code := request(t, router, "/status/gossip/members/foo", nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})
}

func TestStatus_State(t *testing.T) {
	g := newTestGossip(testNode1)
	g.OnChange("k2", "v2")
	g.OnChange("k1", "v1")
	g.OnChange("admin-addr/10.26.104.1:8003", "10.26.104.1:8002")
	g.OnDelete("k2")

	router := newTestRouter(g)

	t.Run("list", func(t *testing.T) {
		var entries []gossip.Entry
		code := request(t, router, "/status/gossip/state", &entries)
		assert.Equal(t, http.StatusOK, code)

		var keys []string
		for _, e := range entries {
			keys = append(keys, e.Key)
		}
		// Includes tombstones.
		assert.Equal(t, []string{"admin-addr/10.26.104.1:8003", "k1", "k2"}, keys)
	})

	t.Run("get", func(t *testing.T) {
		var entry gossip.Entry
		code := request(t, router, "/status/gossip/state/k1", &entry)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "v1", entry.Value)
		assert.Equal(t, testNode1, entry.Version.Writer)
	})

	t.Run("get nested key", func(t *testing.T) {
		var entry gossip.Entry
		code := request(t, router, "/status/gossip/state/admin-addr/10.26.104.1:8003", &entry)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "10.26.104.1:8002", entry.Value)
	})

	t.Run("get deleted", func(t *testing.T) {
		var entry gossip.Entry
		code := request(t, router, "/status/gossip/state/k2", &entry)
		assert.Equal(t, http.StatusOK, code)
		assert.True(t, entry.Deleted)
	})

	t.Run("not found", func(t *testing.T) {
		code := request(t, router, "/status/gossip/state/foo", nil)
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestStatus_View(t *testing.T) {
	g := newTestGossip(testNode1, testNode3, testNode2)
	router := newTestRouter(g)

	var view []gossip.ViewEntry
	code := request(t, router, "/status/gossip/view", &view)
	assert.Equal(t, http.StatusOK, code)

	var nodes []gossip.Node
	for _, e := range view {
		nodes = append(nodes, e.Node)
	}
	assert.Equal(t, []gossip.Node{testNode2, testNode3}, nodes)
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
