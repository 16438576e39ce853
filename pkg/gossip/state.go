package gossip

import (
	"sort"
	"sync"
	"time"
)

// Version orders writes to a key.
//
// Versions are compared by counter, then by writer using the fixed node
// order, so any two versions from different writers are never equal.
type Version struct {
	Counter uint64 `json:"counter" codec:"counter"`
	Writer  Node   `json:"writer" codec:"writer"`
}

// Compare returns -1, 0 or 1 if v is older, equal or newer than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Counter < o.Counter:
		return -1
	case v.Counter > o.Counter:
		return 1
	}
	return v.Writer.Compare(o.Writer)
}

// Entry represents a versioned key-value pair state.
type Entry struct {
	Key     string  `json:"key" codec:"key"`
	Value   string  `json:"value" codec:"value"`
	Version Version `json:"version" codec:"version"`

	// Timestamp is the wall clock time in Unix nanoseconds the writer
	// updated the entry. It is informational only and never used to order
	// writes.
	Timestamp int64 `json:"timestamp" codec:"timestamp"`

	// Deleted indicates whether this entry represents a deleted key.
	Deleted bool `json:"deleted" codec:"deleted"`
}

type digestEntry struct {
	Key     string  `codec:"key"`
	Version Version `codec:"version"`
}

type digest []digestEntry

// StateTree is a versioned key-value store where each key is a
// last-writer-wins register.
//
// Merging is commutative, associative and idempotent, so replicas that have
// applied the same set of entries hold the same state regardless of the order
// they were received.
type StateTree struct {
	local   Node
	entries map[string]Entry

	// broadcasts contains the keys of recently updated entries waiting to
	// be pushed to peers.
	broadcasts *broadcastQueue[string, string]

	// mu protects the above fields.
	mu sync.RWMutex

	metrics *Metrics

	watcher Watcher
}

func newStateTree(local Node, metrics *Metrics, watcher Watcher) *StateTree {
	return &StateTree{
		local:      local,
		entries:    make(map[string]Entry),
		broadcasts: newBroadcastQueue[string, string](),
		metrics:    metrics,
		watcher:    watcher,
	}
}

// Set writes the value for the key locally and returns the new entry.
//
// The new version supersedes any version of the key this replica has seen,
// including versions from other writers.
func (t *StateTree) Set(key, value string) Entry {
	return t.SetAt(key, value, time.Now())
}

func (t *StateTree) SetAt(key, value string, now time.Time) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.entries[key]
	entry := Entry{
		Key:   key,
		Value: value,
		Version: Version{
			Counter: existing.Version.Counter + 1,
			Writer:  t.local,
		},
		Timestamp: now.UnixNano(),
	}
	t.entries[key] = entry
	t.broadcasts.Push(key, key)

	if !ok {
		t.metrics.Entries.Inc()
	}
	return entry
}

// Delete marks the key as deleted. The deletion is kept as a tombstone so
// it supersedes older writes on other replicas.
//
// Returns false if the key is unknown or already deleted.
func (t *StateTree) Delete(key string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.entries[key]
	if !ok || existing.Deleted {
		return Entry{}, false
	}

	entry := Entry{
		Key: key,
		Version: Version{
			Counter: existing.Version.Counter + 1,
			Writer:  t.local,
		},
		Timestamp: time.Now().UnixNano(),
		Deleted:   true,
	}
	t.entries[key] = entry
	t.broadcasts.Push(key, key)
	return entry, true
}

// Get returns the entry for the key, including tombstones.
func (t *StateTree) Get(key string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[key]
	return entry, ok
}

// Value returns the value of the key if it exists and isn't deleted.
func (t *StateTree) Value(key string) (string, bool) {
	entry, ok := t.Get(key)
	if !ok || entry.Deleted {
		return "", false
	}
	return entry.Value, true
}

// Entries returns all entries sorted by key.
func (t *StateTree) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]Entry, 0, len(t.entries))
	for _, entry := range t.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// Snapshot returns the live key-value pairs, excluding tombstones.
func (t *StateTree) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[string]string, len(t.entries))
	for key, entry := range t.entries {
		if entry.Deleted {
			continue
		}
		snapshot[key] = entry.Value
	}
	return snapshot
}

func (t *StateTree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.entries)
}

// Digest returns the version of every key.
func (t *StateTree) Digest() digest {
	t.mu.RLock()
	defer t.mu.RUnlock()

	digest := make(digest, 0, len(t.entries))
	for key, entry := range t.entries {
		digest = append(digest, digestEntry{
			Key:     key,
			Version: entry.Version,
		})
	}
	return digest
}

// Diff compares the remote digest against the local state. It returns the
// entries the remote is missing or has older versions of, and the keys
// where the remote has a newer version.
//
// If fullDigest is true the digest is assumed to contain every remote key,
// so local keys missing from the digest are included in the push.
func (t *StateTree) Diff(d digest, fullDigest bool) ([]Entry, []string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var push []Entry
	var pull []string

	seen := make(map[string]struct{}, len(d))
	for _, remote := range d {
		seen[remote.Key] = struct{}{}

		local, ok := t.entries[remote.Key]
		if !ok {
			pull = append(pull, remote.Key)
			continue
		}
		switch local.Version.Compare(remote.Version) {
		case 1:
			push = append(push, local)
		case -1:
			pull = append(pull, remote.Key)
		}
	}

	if fullDigest {
		for key, entry := range t.entries {
			if _, ok := seen[key]; ok {
				continue
			}
			push = append(push, entry)
		}
	}

	sort.Slice(push, func(i, j int) bool {
		return push[i].Key < push[j].Key
	})
	sort.Strings(pull)
	return push, pull
}

// Broadcasts returns up to max recently updated entries to push to a peer.
// Each entry is pushed at most retransmitLimit times.
func (t *StateTree) Broadcasts(max int, retransmitLimit int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := t.broadcasts.Take(max, retransmitLimit)
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, t.entries[key])
	}
	return entries
}

// Select returns the entries for the given keys. Unknown keys are ignored.
func (t *StateTree) Select(keys []string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var entries []Entry
	for _, key := range keys {
		if entry, ok := t.entries[key]; ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Merge applies the given remote entries, keeping the newer version of each
// key. Returns the entries that changed the local state.
//
// Entries with an equal or older version than the local entry are
// discarded, so re-applying the same entries has no effect.
func (t *StateTree) Merge(entries []Entry) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var applied []Entry
	for _, e := range entries {
		existing, ok := t.entries[e.Key]
		if ok && existing.Version.Compare(e.Version) >= 0 {
			// Discard old versions.
			continue
		}

		t.entries[e.Key] = e
		applied = append(applied, e)
		// Relay the update to other peers.
		t.broadcasts.Push(e.Key, e.Key)

		if !ok {
			t.metrics.Entries.Inc()
		}

		if e.Deleted {
			t.watcher.OnDeleteKey(e.Key)
		} else {
			t.watcher.OnUpsertKey(e.Key, e.Value)
		}
	}
	return applied
}

func (d digest) validate() error {
	for _, entry := range d {
		if entry.Key == "" {
			return errEmptyKey
		}
		if err := entry.Version.Writer.validate(); err != nil {
			return err
		}
	}
	return nil
}

func validateEntries(entries []Entry) error {
	for _, entry := range entries {
		if entry.Key == "" {
			return errEmptyKey
		}
		if entry.Version.Counter == 0 {
			return errZeroVersion
		}
		if err := entry.Version.Writer.validate(); err != nil {
			return err
		}
	}
	return nil
}
