package gossip

// Watcher is used to receive notifications when the known cluster state
// changes.
//
// The implementations of Watcher must not block. Watcher is also called with
// the membership or state mutex held so should not call back to Gossip.
type Watcher interface {
	// OnJoin notifies that a new node was discovered.
	OnJoin(node Node)

	// OnSuspect notifies that a node is suspected of having failed.
	OnSuspect(node Node)

	// OnDead notifies that a node is considered dead.
	OnDead(node Node)

	// OnAlive notifies that a suspect or dead node is alive again.
	OnAlive(node Node)

	// OnExpired notifies that a dead node has been purged.
	OnExpired(node Node)

	// OnUpsertKey notifies that a remote write updated a key.
	OnUpsertKey(key, value string)

	// OnDeleteKey notifies that a remote write deleted a key.
	OnDeleteKey(key string)
}

type nopWatcher struct {
}

func NewNopWatcher() Watcher {
	return &nopWatcher{}
}

func (w *nopWatcher) OnJoin(_ Node) {}

func (w *nopWatcher) OnSuspect(_ Node) {}

func (w *nopWatcher) OnDead(_ Node) {}

func (w *nopWatcher) OnAlive(_ Node) {}

func (w *nopWatcher) OnExpired(_ Node) {}

func (w *nopWatcher) OnUpsertKey(_, _ string) {}

func (w *nopWatcher) OnDeleteKey(_ string) {}

var _ Watcher = &nopWatcher{}
