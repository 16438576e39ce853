package gossip

import (
	"math"
	"sort"
)

// maxBroadcastsPerMessage bounds the number of queued updates attached to a
// single outgoing message.
const maxBroadcastsPerMessage = 256

type broadcast[V any] struct {
	value     V
	transmits int
	// seq orders broadcasts with the same number of transmits so newer
	// updates are sent first.
	seq uint64
}

// broadcastQueue holds updates waiting to be piggybacked on outgoing
// messages.
//
// Each update is sent a limited number of times then dropped, which bounds
// message amplification. Queuing an update with the same key replaces the
// pending update and resets its counter.
//
// broadcastQueue is not thread safe, it is protected by its owners mutex.
type broadcastQueue[K comparable, V any] struct {
	items map[K]*broadcast[V]
	seq   uint64
}

func newBroadcastQueue[K comparable, V any]() *broadcastQueue[K, V] {
	return &broadcastQueue[K, V]{
		items: make(map[K]*broadcast[V]),
	}
}

func (q *broadcastQueue[K, V]) Push(key K, value V) {
	q.seq++
	q.items[key] = &broadcast[V]{
		value: value,
		seq:   q.seq,
	}
}

func (q *broadcastQueue[K, V]) Remove(key K) {
	delete(q.items, key)
}

func (q *broadcastQueue[K, V]) Len() int {
	return len(q.items)
}

// Take returns up to max pending updates, preferring those sent the fewest
// times. Each returned update has its transmit count incremented, and is
// dropped once it has been sent retransmitLimit times.
func (q *broadcastQueue[K, V]) Take(max int, retransmitLimit int) []V {
	if len(q.items) == 0 {
		return nil
	}

	keys := make([]K, 0, len(q.items))
	for key := range q.items {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := q.items[keys[i]], q.items[keys[j]]
		if a.transmits != b.transmits {
			return a.transmits < b.transmits
		}
		return a.seq > b.seq
	})
	if len(keys) > max {
		keys = keys[:max]
	}

	values := make([]V, 0, len(keys))
	for _, key := range keys {
		item := q.items[key]
		values = append(values, item.value)

		item.transmits++
		if item.transmits >= retransmitLimit {
			delete(q.items, key)
		}
	}
	return values
}

// retransmitLimit returns the number of times to send each update given the
// number of known nodes, which scales with log(n) so updates reach the
// whole cluster with high probability.
func retransmitLimit(mult int, n int) int {
	limit := mult * int(math.Ceil(math.Log10(float64(n+1))))
	if limit < 1 {
		return 1
	}
	return limit
}
