package gossip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeKeyWatcher struct {
	nopWatcher

	upserts map[string]string
	deletes []string
}

func newFakeKeyWatcher() *fakeKeyWatcher {
	return &fakeKeyWatcher{
		upserts: make(map[string]string),
	}
}

func (w *fakeKeyWatcher) OnUpsertKey(key, value string) {
	w.upserts[key] = value
}

func (w *fakeKeyWatcher) OnDeleteKey(key string) {
	w.deletes = append(w.deletes, key)
}

func TestVersion_Compare(t *testing.T) {
	tests := []struct {
		Name     string
		A        Version
		B        Version
		Expected int
	}{
		{
			Name:     "lower counter",
			A:        Version{Counter: 1, Writer: testNode2},
			B:        Version{Counter: 2, Writer: testNode1},
			Expected: -1,
		},
		{
			Name:     "higher counter",
			A:        Version{Counter: 3, Writer: testNode1},
			B:        Version{Counter: 2, Writer: testNode2},
			Expected: 1,
		},
		{
			Name:     "writer tie break",
			A:        Version{Counter: 2, Writer: testNode1},
			B:        Version{Counter: 2, Writer: testNode2},
			Expected: -1,
		},
		{
			Name:     "port tie break",
			A:        Version{Counter: 2, Writer: Node{Host: "10.26.104.1", Port: 8004}},
			B:        Version{Counter: 2, Writer: Node{Host: "10.26.104.1", Port: 8003}},
			Expected: 1,
		},
		{
			Name:     "equal",
			A:        Version{Counter: 2, Writer: testNode1},
			B:        Version{Counter: 2, Writer: testNode1},
			Expected: 0,
		},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			assert.Equal(t, test.Expected, test.A.Compare(test.B))
			assert.Equal(t, -test.Expected, test.B.Compare(test.A))
		})
	}
}

func TestStateTree_Set(t *testing.T) {
	tree := newStateTree(testNode1, NewMetrics(), NewNopWatcher())

	now := time.Unix(1700000000, 0)
	entry := tree.SetAt("k1", "v1", now)
	assert.Equal(t, Entry{
		Key:       "k1",
		Value:     "v1",
		Version:   Version{Counter: 1, Writer: testNode1},
		Timestamp: now.UnixNano(),
	}, entry)

	// A local write supersedes a remote version.
	tree.Merge([]Entry{
		{Key: "k1", Value: "v2", Version: Version{Counter: 5, Writer: testNode2}},
	})
	entry = tree.Set("k1", "v3")
	assert.Equal(t, Version{Counter: 6, Writer: testNode1}, entry.Version)

	v, ok := tree.Value("k1")
	assert.True(t, ok)
	assert.Equal(t, "v3", v)
	assert.Equal(t, 1, tree.Len())
}

func TestStateTree_Delete(t *testing.T) {
	tree := newStateTree(testNode1, NewMetrics(), NewNopWatcher())

	_, ok := tree.Delete("k1")
	assert.False(t, ok)

	tree.Set("k1", "v1")
	tree.Set("k2", "v2")

	entry, ok := tree.Delete("k1")
	assert.True(t, ok)
	assert.True(t, entry.Deleted)
	assert.Equal(t, uint64(2), entry.Version.Counter)

	// Already deleted.
	_, ok = tree.Delete("k1")
	assert.False(t, ok)

	_, ok = tree.Value("k1")
	assert.False(t, ok)
	assert.Equal(t, map[string]string{"k2": "v2"}, tree.Snapshot())
	// The tombstone is retained.
	assert.Equal(t, 2, tree.Len())
}

func TestStateTree_Merge(t *testing.T) {
	t.Run("newer version", func(t *testing.T) {
		watcher := newFakeKeyWatcher()
		tree := newStateTree(testNode1, NewMetrics(), watcher)
		tree.Set("k1", "v1")

		applied := tree.Merge([]Entry{
			{Key: "k1", Value: "v2", Version: Version{Counter: 2, Writer: testNode2}},
			{Key: "k2", Value: "v3", Version: Version{Counter: 1, Writer: testNode2}},
		})
		assert.Len(t, applied, 2)
		assert.Equal(t, map[string]string{"k1": "v2", "k2": "v3"}, tree.Snapshot())
		assert.Equal(t, map[string]string{"k1": "v2", "k2": "v3"}, watcher.upserts)
	})

	t.Run("older version", func(t *testing.T) {
		watcher := newFakeKeyWatcher()
		tree := newStateTree(testNode2, NewMetrics(), watcher)
		tree.Set("k1", "v1")
		tree.Set("k1", "v2")

		applied := tree.Merge([]Entry{
			{Key: "k1", Value: "old", Version: Version{Counter: 1, Writer: testNode3}},
			// Same counter but lower writer.
			{Key: "k1", Value: "old", Version: Version{Counter: 2, Writer: testNode1}},
		})
		assert.Empty(t, applied)
		v, _ := tree.Value("k1")
		assert.Equal(t, "v2", v)
		assert.Empty(t, watcher.upserts)
	})

	t.Run("tombstone", func(t *testing.T) {
		watcher := newFakeKeyWatcher()
		tree := newStateTree(testNode1, NewMetrics(), watcher)
		tree.Set("k1", "v1")

		tree.Merge([]Entry{
			{Key: "k1", Version: Version{Counter: 2, Writer: testNode2}, Deleted: true},
		})
		_, ok := tree.Value("k1")
		assert.False(t, ok)
		assert.Equal(t, []string{"k1"}, watcher.deletes)
	})

	t.Run("idempotent", func(t *testing.T) {
		tree := newStateTree(testNode1, NewMetrics(), NewNopWatcher())
		entries := []Entry{
			{Key: "k1", Value: "v1", Version: Version{Counter: 1, Writer: testNode2}},
			{Key: "k2", Value: "v2", Version: Version{Counter: 3, Writer: testNode3}},
		}

		assert.Len(t, tree.Merge(entries), 2)
		snapshot := tree.Entries()
		assert.Empty(t, tree.Merge(entries))
		assert.Equal(t, snapshot, tree.Entries())
	})

	t.Run("commutative", func(t *testing.T) {
		entries := []Entry{
			{Key: "k1", Value: "a", Version: Version{Counter: 2, Writer: testNode1}},
			{Key: "k1", Value: "b", Version: Version{Counter: 2, Writer: testNode3}},
			{Key: "k1", Value: "c", Version: Version{Counter: 1, Writer: testNode2}},
			{Key: "k2", Value: "d", Version: Version{Counter: 4, Writer: testNode2}},
		}

		forward := newStateTree(testNode1, NewMetrics(), NewNopWatcher())
		forward.Merge(entries)

		backward := newStateTree(testNode2, NewMetrics(), NewNopWatcher())
		for i := len(entries) - 1; i >= 0; i-- {
			backward.Merge([]Entry{entries[i]})
		}

		assert.Equal(t, forward.Entries(), backward.Entries())
		assert.Equal(t, map[string]string{"k1": "b", "k2": "d"}, forward.Snapshot())
	})
}

func TestStateTree_Diff(t *testing.T) {
	tree := newStateTree(testNode1, NewMetrics(), NewNopWatcher())
	tree.Merge([]Entry{
		{Key: "equal", Value: "v", Version: Version{Counter: 2, Writer: testNode1}},
		{Key: "local-newer", Value: "v", Version: Version{Counter: 3, Writer: testNode1}},
		{Key: "remote-newer", Value: "v", Version: Version{Counter: 1, Writer: testNode1}},
		{Key: "local-only", Value: "v", Version: Version{Counter: 1, Writer: testNode1}},
	})

	d := digest{
		{Key: "equal", Version: Version{Counter: 2, Writer: testNode1}},
		{Key: "local-newer", Version: Version{Counter: 2, Writer: testNode2}},
		{Key: "remote-newer", Version: Version{Counter: 1, Writer: testNode2}},
		{Key: "remote-only", Version: Version{Counter: 1, Writer: testNode2}},
	}

	push, pull := tree.Diff(d, false)
	assert.Equal(t, []string{"remote-newer", "remote-only"}, pull)
	assert.Len(t, push, 1)
	assert.Equal(t, "local-newer", push[0].Key)

	push, pull = tree.Diff(d, true)
	assert.Equal(t, []string{"remote-newer", "remote-only"}, pull)
	assert.Len(t, push, 2)
	assert.Equal(t, "local-newer", push[0].Key)
	assert.Equal(t, "local-only", push[1].Key)
}

func TestStateTree_Broadcasts(t *testing.T) {
	tree := newStateTree(testNode1, NewMetrics(), NewNopWatcher())
	tree.Set("k1", "v1")
	tree.Set("k2", "v2")

	entries := tree.Broadcasts(maxBroadcastsPerMessage, 2)
	assert.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "k2", entries[0].Key)

	assert.Len(t, tree.Broadcasts(maxBroadcastsPerMessage, 2), 2)
	// Each entry has been sent twice.
	assert.Empty(t, tree.Broadcasts(maxBroadcastsPerMessage, 2))

	// Remote updates are relayed.
	tree.Merge([]Entry{
		{Key: "k3", Value: "v3", Version: Version{Counter: 1, Writer: testNode2}},
	})
	entries = tree.Broadcasts(maxBroadcastsPerMessage, 2)
	assert.Len(t, entries, 1)
	assert.Equal(t, "k3", entries[0].Key)
}
