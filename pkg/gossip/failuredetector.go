package gossip

import (
	"sync"
	"time"
)

// contactHistory records the gaps between successful exchanges with a peer.
//
// Gaps are kept in a fixed-size ring, so the mean follows recent behaviour.
// Since gossip targets are sampled at random from a partial view, a peer
// may go several rounds without being contacted, and the gaps grow to
// match.
type contactHistory struct {
	gaps []time.Duration
	// next is the ring index the next gap is written to.
	next  int
	count int
	total time.Duration

	lastContact time.Time
	initialGap  time.Duration
}

func newContactHistory(initialGap time.Duration, size int) *contactHistory {
	return &contactHistory{
		gaps:       make([]time.Duration, size),
		initialGap: initialGap,
	}
}

// Contact records an exchange with the peer at the given time.
//
// The first contact has no previous exchange to measure against, so it
// records the initial gap. This avoids suspecting a peer after a single
// short gap.
func (h *contactHistory) Contact(at time.Time) {
	gap := h.initialGap
	if !h.lastContact.IsZero() {
		gap = at.Sub(h.lastContact)
	}
	h.lastContact = at

	if h.count == len(h.gaps) {
		h.total -= h.gaps[h.next]
	} else {
		h.count++
	}
	h.gaps[h.next] = gap
	h.total += gap
	h.next = (h.next + 1) % len(h.gaps)
}

// Phi returns the time since the last contact relative to the mean gap.
//
// Contact must have been called at least once.
func (h *contactHistory) Phi(at time.Time) float64 {
	if h.count == 0 || h.total <= 0 {
		panic("contact history: phi requires a recorded contact")
	}
	mean := float64(h.total) / float64(h.count)
	return float64(at.Sub(h.lastContact)) / mean
}

// failureDetector estimates the liveness of peers from the times of
// successful exchanges.
type failureDetector interface {
	Report(node Node, timestamp time.Time)
	SuspicionLevel(node Node, timestamp time.Time) float64
	Remove(node Node)
}

// accrualFailureDetector is a phi accrual failure detector keyed by peer.
//
// Rather than a fixed timeout, a peer is suspected once the time since it
// was last reached is large compared to how often it is normally reached.
// Both inbound and outbound exchanges count as contact.
type accrualFailureDetector struct {
	peers map[Node]*contactHistory

	// mu protects the above fields
	mu sync.Mutex

	initialGap  time.Duration
	historySize int
}

func newAccrualFailureDetector(
	initialGap time.Duration,
	historySize int,
) *accrualFailureDetector {
	return &accrualFailureDetector{
		peers:       make(map[Node]*contactHistory),
		initialGap:  initialGap,
		historySize: historySize,
	}
}

// Report records a successful exchange with the peer.
func (d *accrualFailureDetector) Report(node Node, timestamp time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.peers[node]
	if !ok {
		h = newContactHistory(d.initialGap, d.historySize)
		d.peers[node] = h
	}
	h.Contact(timestamp)
}

// SuspicionLevel returns the phi value of the peer at the given time.
//
// A peer that has never been reached is treated as reached at the first
// check. Its level then rises from zero, so a peer that is learned about
// but never reached is still suspected eventually.
func (d *accrualFailureDetector) SuspicionLevel(node Node, timestamp time.Time) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.peers[node]
	if !ok {
		h = newContactHistory(d.initialGap, d.historySize)
		h.Contact(timestamp)
		d.peers[node] = h
	}
	return h.Phi(timestamp)
}

// Remove forgets the peer, such as once it has expired.
func (d *accrualFailureDetector) Remove(node Node) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.peers, node)
}

var _ failureDetector = &accrualFailureDetector{}
