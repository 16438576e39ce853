package gossip

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/andydunstall/gossamer/pkg/gossip"
	"github.com/andydunstall/gossamer/pkg/log"
)

const (
	adminAddrKeyPrefix = "admin-addr/"
)

func adminAddrKey(node gossip.Node) string {
	return adminAddrKeyPrefix + node.String()
}

// watcher logs membership changes and tracks the advertised admin address
// of each node from the gossiped state.
//
// Callbacks are invoked with gossip locks held so must not call back into
// gossip.
type watcher struct {
	// adminAddrs contains the admin address of each node, keyed by the node
	// ID.
	adminAddrs map[string]string

	// mu protects the above fields.
	mu sync.Mutex

	logger log.Logger
}

func newWatcher(logger log.Logger) *watcher {
	return &watcher{
		adminAddrs: make(map[string]string),
		logger:     logger,
	}
}

// AdminAddr returns the admin address of the node with the given ID.
func (w *watcher) AdminAddr(node string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	addr, ok := w.adminAddrs[node]
	return addr, ok
}

func (w *watcher) OnJoin(node gossip.Node) {
	w.logger.Info("node joined", zap.String("node", node.String()))
}

func (w *watcher) OnSuspect(node gossip.Node) {
	w.logger.Warn("node suspect", zap.String("node", node.String()))
}

func (w *watcher) OnDead(node gossip.Node) {
	w.logger.Warn("node dead", zap.String("node", node.String()))
}

func (w *watcher) OnAlive(node gossip.Node) {
	w.logger.Info("node alive", zap.String("node", node.String()))
}

func (w *watcher) OnExpired(node gossip.Node) {
	w.logger.Info("node expired", zap.String("node", node.String()))
}

func (w *watcher) OnUpsertKey(key, value string) {
	node, ok := strings.CutPrefix(key, adminAddrKeyPrefix)
	if !ok {
		w.logger.Debug(
			"key updated",
			zap.String("key", key),
		)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.adminAddrs[node] = value

	w.logger.Debug(
		"node admin addr updated",
		zap.String("node", node),
		zap.String("addr", value),
	)
}

func (w *watcher) OnDeleteKey(key string) {
	node, ok := strings.CutPrefix(key, adminAddrKeyPrefix)
	if !ok {
		w.logger.Debug(
			"key deleted",
			zap.String("key", key),
		)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.adminAddrs, node)

	w.logger.Debug(
		"node admin addr removed",
		zap.String("node", node),
	)
}

var _ gossip.Watcher = &watcher{}
