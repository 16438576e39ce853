package gossip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNode(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		node, err := ParseNode("10.26.104.1:8003")
		require.NoError(t, err)
		assert.Equal(t, testNode1, node)
		assert.Equal(t, "10.26.104.1:8003", node.Addr())
	})

	t.Run("ipv6", func(t *testing.T) {
		node, err := ParseNode("[::1]:8003")
		require.NoError(t, err)
		assert.Equal(t, Node{Host: "::1", Port: 8003}, node)
		assert.Equal(t, "[::1]:8003", node.Addr())
	})

	t.Run("invalid", func(t *testing.T) {
		for _, addr := range []string{
			"10.26.104.1",
			":8003",
			"10.26.104.1:foo",
			"10.26.104.1:0",
			"10.26.104.1:70000",
		} {
			_, err := ParseNode(addr)
			assert.Error(t, err, addr)
		}
	})
}

func TestNode_Compare(t *testing.T) {
	assert.Equal(t, 0, testNode1.Compare(testNode1))
	assert.Equal(t, -1, testNode1.Compare(testNode2))
	assert.Equal(t, 1, testNode2.Compare(testNode1))
	assert.Equal(t, -1, testNode1.Compare(Node{Host: testNode1.Host, Port: 8004}))
	assert.True(t, Node{}.IsZero())
	assert.False(t, testNode1.IsZero())
}
