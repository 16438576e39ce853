package gossip

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// ViewEntry is the local knowledge of a peer in the partial view.
type ViewEntry struct {
	Node        Node      `json:"node" codec:"node"`
	Status      Status    `json:"status" codec:"status"`
	Incarnation uint64    `json:"incarnation" codec:"incarnation"`
	LastContact time.Time `json:"last_contact" codec:"-"`

	// Added is when the entry was inserted into the view, used to evict the
	// oldest entries when the view is full.
	Added time.Time `json:"added" codec:"-"`
}

// PeerSamplingService maintains a bounded random partial view of the
// cluster and selects peers to gossip with.
//
// The view is much smaller than the cluster, which bounds the cost of each
// round, while periodically shuffling entries with peers keeps the overlay
// connected with high probability.
//
// PeerSamplingService does no network I/O.
type PeerSamplingService struct {
	local Node

	view map[Node]*ViewEntry

	capacity int

	rand *rand.Rand

	// mu protects the above fields.
	mu sync.Mutex
}

// NewPeerSamplingService creates a view seeded with the given nodes.
//
// The local node and duplicates are ignored. If there are more initial nodes
// than the capacity, the remaining nodes are discarded.
func NewPeerSamplingService(local Node, initial []Node, capacity int) *PeerSamplingService {
	s := &PeerSamplingService{
		local:    local,
		view:     make(map[Node]*ViewEntry),
		capacity: capacity,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	now := time.Now()
	for _, node := range initial {
		if node == local {
			continue
		}
		if _, ok := s.view[node]; ok {
			continue
		}
		if len(s.view) >= capacity {
			break
		}
		s.view[node] = &ViewEntry{
			Node:   node,
			Status: StatusAlive,
			Added:  now,
		}
	}
	return s
}

// Sample returns up to k distinct peers selected uniformly at random from
// the view. Dead peers are never returned.
//
// Returns fewer than k peers if the view is smaller, or nil if there are no
// peers available.
func (s *PeerSamplingService) Sample(k int) []Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k <= 0 {
		return nil
	}

	candidates := s.nodesLocked(func(e *ViewEntry) bool {
		return e.Status != StatusDead
	})
	if len(candidates) == 0 {
		return nil
	}

	s.rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// ShuffleSample returns up to n random view entries to send to a peer,
// along with a fresh entry for the local node so the peer can learn about
// us.
func (s *PeerSamplingService) ShuffleSample(n int, self ViewEntry) []ViewEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := s.nodesLocked(func(e *ViewEntry) bool {
		return e.Status != StatusDead
	})
	s.rand.Shuffle(len(nodes), func(i, j int) {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	})
	if len(nodes) > n {
		nodes = nodes[:n]
	}

	sample := make([]ViewEntry, 0, len(nodes)+1)
	sample = append(sample, self)
	for _, node := range nodes {
		sample = append(sample, *s.view[node])
	}
	return sample
}

// Merge shuffles entries received from a peer into the local view.
//
// Only entries for nodes not already in the view are considered. While
// there is space they are added, otherwise each replaces a randomly selected
// existing entry, up to maxReplace replacements. The view size never exceeds
// the capacity.
//
// Returns the nodes added to the view.
func (s *PeerSamplingService) Merge(remote []ViewEntry, maxReplace int) []Node {
	return s.MergeAt(remote, maxReplace, time.Now())
}

func (s *PeerSamplingService) MergeAt(remote []ViewEntry, maxReplace int, now time.Time) []Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unseen []ViewEntry
	seen := make(map[Node]struct{})
	for _, entry := range remote {
		if entry.Node == s.local || entry.Status == StatusDead {
			continue
		}
		if _, ok := s.view[entry.Node]; ok {
			continue
		}
		if _, ok := seen[entry.Node]; ok {
			continue
		}
		seen[entry.Node] = struct{}{}
		unseen = append(unseen, entry)
	}
	if len(unseen) == 0 {
		return nil
	}

	s.rand.Shuffle(len(unseen), func(i, j int) {
		unseen[i], unseen[j] = unseen[j], unseen[i]
	})

	// Entries added in this merge are never replaced by the same merge.
	var added []Node
	var replaceable []Node
	for node := range s.view {
		replaceable = append(replaceable, node)
	}
	sortNodes(replaceable)
	s.rand.Shuffle(len(replaceable), func(i, j int) {
		replaceable[i], replaceable[j] = replaceable[j], replaceable[i]
	})

	replaced := 0
	for _, entry := range unseen {
		if len(s.view) >= s.capacity {
			if replaced >= maxReplace || len(replaceable) == 0 {
				break
			}
			delete(s.view, replaceable[0])
			replaceable = replaceable[1:]
			replaced++
		}

		s.view[entry.Node] = &ViewEntry{
			Node:        entry.Node,
			Status:      entry.Status,
			Incarnation: entry.Incarnation,
			Added:       now,
		}
		added = append(added, entry.Node)
	}
	return added
}

// Offer adds the node to the view if there is space. Unlike OnNodeJoin it
// never evicts, so nodes discovered second hand don't churn the view.
func (s *PeerSamplingService) Offer(entry ViewEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Node == s.local || entry.Status == StatusDead {
		return false
	}
	if _, ok := s.view[entry.Node]; ok {
		return false
	}
	if len(s.view) >= s.capacity {
		return false
	}
	entry.Added = time.Now()
	s.view[entry.Node] = &entry
	return true
}

// OnNodeJoin inserts the node into the view, evicting the oldest entry if
// the view is full.
func (s *PeerSamplingService) OnNodeJoin(node Node) {
	s.upsert(ViewEntry{
		Node:   node,
		Status: StatusAlive,
	})
}

// OnNodeAlive inserts or updates the entry for the node, evicting the oldest
// entry if the view is full.
func (s *PeerSamplingService) OnNodeAlive(node Node, incarnation uint64) {
	s.upsert(ViewEntry{
		Node:        node,
		Status:      StatusAlive,
		Incarnation: incarnation,
	})
}

// OnNodeSuspect updates the status of the node if it is in the view.
//
// Suspect nodes are still sampled so they get a chance to refute the
// suspicion.
func (s *PeerSamplingService) OnNodeSuspect(node Node, incarnation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.view[node]
	if !ok {
		return
	}
	entry.Status = StatusSuspect
	entry.Incarnation = incarnation
}

// OnNodeDead removes the node from the view.
func (s *PeerSamplingService) OnNodeDead(node Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.view, node)
}

// Touch records a successful exchange with the node.
func (s *PeerSamplingService) Touch(node Node, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.view[node]; ok {
		entry.LastContact = t
	}
}

func (s *PeerSamplingService) Contains(node Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.view[node]
	return ok
}

func (s *PeerSamplingService) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.view)
}

func (s *PeerSamplingService) Capacity() int {
	return s.capacity
}

// Nodes returns the nodes in the view.
func (s *PeerSamplingService) Nodes() []Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := s.nodesLocked(func(_ *ViewEntry) bool {
		return true
	})
	sortNodes(nodes)
	return nodes
}

// Entries returns a copy of the view entries sorted by node.
func (s *PeerSamplingService) Entries() []ViewEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]ViewEntry, 0, len(s.view))
	for _, entry := range s.view {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Node.Compare(entries[j].Node) < 0
	})
	return entries
}

func (s *PeerSamplingService) upsert(entry ViewEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Node == s.local {
		return
	}

	if existing, ok := s.view[entry.Node]; ok {
		existing.Status = entry.Status
		if entry.Incarnation > existing.Incarnation {
			existing.Incarnation = entry.Incarnation
		}
		return
	}

	if len(s.view) >= s.capacity {
		s.evictOldestLocked()
	}
	entry.Added = time.Now()
	s.view[entry.Node] = &entry
}

func (s *PeerSamplingService) evictOldestLocked() {
	var oldest *ViewEntry
	for _, entry := range s.view {
		if oldest == nil || entry.Added.Before(oldest.Added) ||
			(entry.Added.Equal(oldest.Added) && entry.Node.Compare(oldest.Node) < 0) {
			oldest = entry
		}
	}
	if oldest != nil {
		delete(s.view, oldest.Node)
	}
}

func (s *PeerSamplingService) nodesLocked(filter func(e *ViewEntry) bool) []Node {
	nodes := make([]Node, 0, len(s.view))
	for node, entry := range s.view {
		if filter(entry) {
			nodes = append(nodes, node)
		}
	}
	// Sort before shuffling so the result only depends on the random source.
	sortNodes(nodes)
	return nodes
}

func sortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Compare(nodes[j]) < 0
	})
}
