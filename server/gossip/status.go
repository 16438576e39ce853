package gossip

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/andydunstall/gossamer/pkg/gossip"
	"github.com/andydunstall/gossamer/server/status"
)

// Status exposes the gossip state of the node in the admin status API.
type Status struct {
	gossip *gossip.Gossip
}

func NewStatus(gossip *gossip.Gossip) *Status {
	return &Status{
		gossip: gossip,
	}
}

func (s *Status) Register(group *gin.RouterGroup) {
	group.GET("/members", s.listMembersRoute)
	group.GET("/members/:node", s.getMemberRoute)
	group.GET("/state", s.listStateRoute)
	// Keys may contain '/'.
	group.GET("/state/*key", s.getStateRoute)
	group.GET("/view", s.viewRoute)
}

func (s *Status) listMembersRoute(c *gin.Context) {
	members := s.gossip.Members()
	sort.Slice(members, func(i, j int) bool {
		return members[i].Node.Compare(members[j].Node) < 0
	})
	c.JSON(http.StatusOK, members)
}

func (s *Status) getMemberRoute(c *gin.Context) {
	node, err := gossip.ParseNode(c.Param("node"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, ok := s.gossip.Member(node)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		return
	}
	c.JSON(http.StatusOK, member)
}

func (s *Status) listStateRoute(c *gin.Context) {
	// Entries are sorted by key.
	c.JSON(http.StatusOK, s.gossip.Entries())
}

func (s *Status) getStateRoute(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing key"})
		return
	}

	entry, ok := s.gossip.Entry(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Status) viewRoute(c *gin.Context) {
	view := s.gossip.View()
	sort.Slice(view, func(i, j int) bool {
		return view[i].Node.Compare(view[j].Node) < 0
	})
	c.JSON(http.StatusOK, view)
}

var _ status.Handler = &Status{}
