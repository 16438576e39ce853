package gossip

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Node identifies a member of the cluster by its gossip address.
//
// Node is an immutable value and is comparable, so may be used as a map key.
type Node struct {
	Host string `json:"host" codec:"host"`
	Port uint16 `json:"port" codec:"port"`
}

// ParseNode parses a node from a 'host:port' address.
func ParseNode(addr string) (Node, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Node{}, fmt.Errorf("invalid addr: %s: %w", addr, err)
	}
	if host == "" {
		return Node{}, fmt.Errorf("invalid addr: %s: missing host", addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Node{}, fmt.Errorf("invalid addr: %s: invalid port: %w", addr, err)
	}
	if port == 0 {
		return Node{}, fmt.Errorf("invalid addr: %s: missing port", addr)
	}
	return Node{Host: host, Port: uint16(port)}, nil
}

// Addr returns the 'host:port' address of the node.
func (n Node) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(int(n.Port)))
}

func (n Node) String() string {
	return n.Addr()
}

// IsZero returns whether the node is unset.
func (n Node) IsZero() bool {
	return n.Host == "" && n.Port == 0
}

// Compare orders nodes by host then port. This is the fixed total order used
// to break ties between concurrent writes.
func (n Node) Compare(o Node) int {
	if c := strings.Compare(n.Host, o.Host); c != 0 {
		return c
	}
	switch {
	case n.Port < o.Port:
		return -1
	case n.Port > o.Port:
		return 1
	default:
		return 0
	}
}

func (n Node) validate() error {
	if n.Host == "" {
		return fmt.Errorf("missing host")
	}
	if n.Port == 0 {
		return fmt.Errorf("missing port")
	}
	return nil
}
