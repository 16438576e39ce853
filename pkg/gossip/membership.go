package gossip

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the liveness status of a member.
type Status uint8

const (
	StatusAlive Status = iota + 1
	StatusSuspect
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusAlive:
		return "alive"
	case StatusSuspect:
		return "suspect"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "alive":
		*s = StatusAlive
	case "suspect":
		*s = StatusSuspect
	case "dead":
		*s = StatusDead
	default:
		return fmt.Errorf("unknown status: %s", string(b))
	}
	return nil
}

func (s Status) valid() bool {
	return s >= StatusAlive && s <= StatusDead
}

// Member contains the known liveness state of a node.
type Member struct {
	Node Node `json:"node"`

	Status Status `json:"status"`

	// Incarnation is incremented by the node itself to refute suspicion.
	Incarnation uint64 `json:"incarnation"`

	// LastContact is the time of the last successful exchange with the node.
	LastContact time.Time `json:"last_contact"`

	// SuspectedAt is when the node became suspect. Only set while suspect.
	SuspectedAt time.Time `json:"suspected_at"`

	// Expiry is when a dead node will be purged. Only set while dead.
	Expiry time.Time `json:"expiry"`
}

// memberUpdate is a gossiped claim about the status of a node.
type memberUpdate struct {
	Node        Node   `codec:"node"`
	Status      Status `codec:"status"`
	Incarnation uint64 `codec:"incarnation"`

	// Reporter is the node that originated a suspect or dead claim.
	Reporter Node `codec:"reporter"`
}

type deadReports struct {
	incarnation uint64
	reporters   map[Node]struct{}
}

// membershipTable tracks the liveness of every known node, including the
// local node.
//
// Status updates are ordered by incarnation. An update is applied only if it
// has a higher incarnation than the known state, or the same incarnation
// with a stronger status (suspect over alive, dead over both). Only a node
// can increase its own incarnation, so it can always refute false
// suspicion.
type membershipTable struct {
	local   Node
	members map[Node]*Member

	deadReports map[Node]*deadReports

	broadcasts *broadcastQueue[Node, memberUpdate]

	// mu protects the above fields.
	mu sync.Mutex

	view *PeerSamplingService

	failureDetector failureDetector

	config *Config

	metrics *Metrics

	watcher Watcher
}

func newMembershipTable(
	local Node,
	view *PeerSamplingService,
	failureDetector failureDetector,
	config *Config,
	metrics *Metrics,
	watcher Watcher,
) *membershipTable {
	t := &membershipTable{
		local:           local,
		members:         make(map[Node]*Member),
		deadReports:     make(map[Node]*deadReports),
		broadcasts:      newBroadcastQueue[Node, memberUpdate](),
		view:            view,
		failureDetector: failureDetector,
		config:          config,
		metrics:         metrics,
		watcher:         watcher,
	}
	t.members[local] = &Member{
		Node:   local,
		Status: StatusAlive,
	}
	t.metrics.Members.WithLabelValues(StatusAlive.String()).Inc()
	return t
}

func (t *membershipTable) Member(node Node) (Member, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.members[node]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Members returns all known members sorted by node.
func (t *membershipTable) Members() []Member {
	t.mu.Lock()
	defer t.mu.Unlock()

	members := make([]Member, 0, len(t.members))
	for _, m := range t.members {
		members = append(members, *m)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].Node.Compare(members[j].Node) < 0
	})
	return members
}

func (t *membershipTable) Incarnation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.members[t.local].Incarnation
}

// Self returns the view entry advertising the local node.
func (t *membershipTable) Self() ViewEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	self := t.members[t.local]
	return ViewEntry{
		Node:        self.Node,
		Status:      self.Status,
		Incarnation: self.Incarnation,
	}
}

// Join admits the node as alive.
//
// A dead node rejoining is given a higher incarnation so the join overrides
// the outstanding dead claims.
func (t *membershipTable) Join(node Node, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node == t.local {
		return
	}

	m, ok := t.members[node]
	if !ok {
		t.addLocked(node, StatusAlive, 0, now)
		t.view.OnNodeJoin(node)
		t.broadcastLocked(m2u(t.members[node], Node{}))
		return
	}

	if m.Status == StatusDead {
		m.Incarnation++
		t.transitionLocked(m, StatusAlive, now)
		t.broadcastLocked(m2u(m, Node{}))
		return
	}
	t.view.OnNodeAlive(node, m.Incarnation)
}

// Alive handles an explicit report that the node is alive.
//
// For the local node this refutes any suspicion by incrementing our
// incarnation. For a suspect or dead remote node the node is marked alive
// with a higher incarnation so the report overrides the outstanding claims.
func (t *membershipTable) Alive(node Node, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node == t.local {
		self := t.members[t.local]
		self.Incarnation++
		if self.Status != StatusAlive {
			// Rejoining after leaving.
			t.metrics.Members.WithLabelValues(self.Status.String()).Dec()
			t.metrics.Members.WithLabelValues(StatusAlive.String()).Inc()
			self.Status = StatusAlive
			self.Expiry = time.Time{}
		}
		t.broadcastLocked(m2u(self, Node{}))
		return
	}

	m, ok := t.members[node]
	if !ok {
		t.addLocked(node, StatusAlive, 0, now)
		t.view.OnNodeJoin(node)
		t.broadcastLocked(m2u(t.members[node], Node{}))
		return
	}

	m.LastContact = now
	if m.Status == StatusAlive {
		return
	}

	m.Incarnation++
	delete(t.deadReports, node)
	t.transitionLocked(m, StatusAlive, now)
	t.broadcastLocked(m2u(m, Node{}))
}

// Dead marks the node as dead. A single local report suffices.
//
// If the node is unknown a tombstone is added so stale alive claims about
// the node are ignored.
//
// Returns false if the node is the local node, which cannot be declared dead
// locally (see Gossip.Leave).
func (t *membershipTable) Dead(node Node, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node == t.local {
		return false
	}

	m, ok := t.members[node]
	if !ok {
		t.addLocked(node, StatusDead, 0, now)
		t.broadcastLocked(memberUpdate{
			Node:     node,
			Status:   StatusDead,
			Reporter: t.local,
		})
		return true
	}
	if m.Status == StatusDead {
		return true
	}

	t.transitionLocked(m, StatusDead, now)
	t.broadcastLocked(m2u(m, t.local))
	return true
}

// Leave marks the local node as dead with a higher incarnation than any
// claim about it, and returns the update announcing the leave.
func (t *membershipTable) Leave() memberUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()

	self := t.members[t.local]
	self.Incarnation++
	if self.Status != StatusDead {
		t.metrics.Members.WithLabelValues(self.Status.String()).Dec()
		t.metrics.Members.WithLabelValues(StatusDead.String()).Inc()
		self.Status = StatusDead
	}

	u := m2u(self, t.local)
	t.broadcastLocked(u)
	return u
}

// Left handles a node announcing it has left. Since the claim comes from the
// node itself it is accepted without confirmation.
func (t *membershipTable) Left(node Node, incarnation uint64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node == t.local {
		return
	}

	m, ok := t.members[node]
	if !ok {
		t.addLocked(node, StatusDead, incarnation, now)
		return
	}
	if incarnation < m.Incarnation {
		return
	}
	m.Incarnation = incarnation
	delete(t.deadReports, node)
	if m.Status != StatusDead {
		t.transitionLocked(m, StatusDead, now)
	}
	t.broadcastLocked(m2u(m, node))
}

// Suspect marks an alive node as suspect following a failed exchange.
func (t *membershipTable) Suspect(node Node, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.members[node]
	if !ok || node == t.local || m.Status != StatusAlive {
		return
	}

	t.transitionLocked(m, StatusSuspect, now)
	t.broadcastLocked(m2u(m, t.local))
}

// Reachable records a successful exchange with the node. A suspect node is
// confirmed alive at its current incarnation.
func (t *membershipTable) Reachable(node Node, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node == t.local {
		return
	}

	t.failureDetector.Report(node, now)
	t.view.Touch(node, now)

	m, ok := t.members[node]
	if !ok {
		t.addLocked(node, StatusAlive, 0, now)
		t.view.Offer(ViewEntry{Node: node, Status: StatusAlive})
		t.broadcastLocked(m2u(t.members[node], Node{}))
		return
	}

	m.LastContact = now
	if m.Status == StatusSuspect {
		t.transitionLocked(m, StatusAlive, now)
	}
}

// Admit filters view entries received from a peer before they are merged
// into the view. Entries for nodes known to be dead at the same or a higher
// incarnation are dropped so stale views can't resurrect them. Unknown
// nodes are admitted as members.
func (t *membershipTable) Admit(entries []ViewEntry, now time.Time) []ViewEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	admitted := make([]ViewEntry, 0, len(entries))
	for _, e := range entries {
		if e.Node == t.local {
			continue
		}

		m, ok := t.members[e.Node]
		if !ok {
			if e.Status == StatusDead {
				continue
			}
			t.addLocked(e.Node, e.Status, e.Incarnation, now)
			t.broadcastLocked(m2u(t.members[e.Node], Node{}))
			admitted = append(admitted, e)
			continue
		}
		if m.Status == StatusDead && m.Incarnation >= e.Incarnation {
			continue
		}
		admitted = append(admitted, e)
	}
	return admitted
}

// Apply merges gossiped member updates.
func (t *membershipTable) Apply(updates []memberUpdate, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, u := range updates {
		t.applyLocked(u, now)
	}
}

func (t *membershipTable) applyLocked(u memberUpdate, now time.Time) {
	if u.Node == t.local {
		t.applySelfLocked(u)
		return
	}

	m, ok := t.members[u.Node]
	if !ok {
		// If we don't know about a dead node, ignore it. Otherwise nodes
		// will keep being rediscovered after they've been purged.
		if u.Status == StatusDead {
			return
		}
		t.addLocked(u.Node, u.Status, u.Incarnation, now)
		t.view.Offer(ViewEntry{
			Node:        u.Node,
			Status:      u.Status,
			Incarnation: u.Incarnation,
		})
		t.broadcastLocked(u)
		return
	}

	if u.Incarnation < m.Incarnation {
		return
	}

	status := u.Status
	if status == StatusDead && t.config.DeadConfirmations > 1 {
		if !t.confirmDeadLocked(u) {
			// Hold the node as suspect until enough distinct reporters
			// agree it is dead.
			status = StatusSuspect
		}
	}

	if u.Incarnation == m.Incarnation && status <= m.Status {
		// Still relay dead reports awaiting confirmation so other nodes can
		// count them.
		if u.Status == StatusDead && status != u.Status {
			t.broadcastLocked(u)
		}
		return
	}

	if u.Incarnation > m.Incarnation && u.Status != StatusDead {
		// Dead reports at the new incarnation were already recorded by
		// confirmDeadLocked.
		delete(t.deadReports, u.Node)
	}
	m.Incarnation = u.Incarnation
	if status != m.Status {
		t.transitionLocked(m, status, now)
	} else if status == StatusAlive {
		t.view.OnNodeAlive(m.Node, m.Incarnation)
	}
	t.broadcastLocked(u)
}

func (t *membershipTable) applySelfLocked(u memberUpdate) {
	self := t.members[t.local]
	if self.Status == StatusDead {
		// We have left the cluster so don't refute.
		return
	}
	if u.Status == StatusAlive {
		// Another node may have confirmed we are alive with a higher
		// incarnation, adopt it so our next refutation exceeds it.
		if u.Incarnation > self.Incarnation {
			self.Incarnation = u.Incarnation
		}
		return
	}
	if u.Incarnation < self.Incarnation {
		// Stale claim that we have already refuted.
		return
	}

	self.Incarnation = u.Incarnation + 1
	t.metrics.Refutations.Inc()
	t.broadcastLocked(m2u(self, Node{}))
}

// confirmDeadLocked records the dead report and returns whether enough
// distinct reporters agree the node is dead.
//
// Reports are counted per incarnation. A report for a newer incarnation
// replaces the recorded reporters and an older report is ignored.
func (t *membershipTable) confirmDeadLocked(u memberUpdate) bool {
	reports, ok := t.deadReports[u.Node]
	if ok && u.Incarnation < reports.incarnation {
		return false
	}
	if !ok || u.Incarnation > reports.incarnation {
		reports = &deadReports{
			incarnation: u.Incarnation,
			reporters:   make(map[Node]struct{}),
		}
		t.deadReports[u.Node] = reports
	}
	if !u.Reporter.IsZero() {
		reports.reporters[u.Reporter] = struct{}{}
	}
	return len(reports.reporters) >= t.config.DeadConfirmations
}

// Tick updates the liveness of each member at the given time.
//
// Suspect members that haven't refuted within the suspicion timeout are
// marked dead, and dead members whose retention has expired are purged.
// Alive members in the view whose suspicion level exceeds the threshold are
// marked suspect.
func (t *membershipTable) Tick(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []Node
	for node, m := range t.members {
		if node == t.local {
			continue
		}

		switch m.Status {
		case StatusAlive:
			if !t.view.Contains(node) {
				continue
			}
			level := t.failureDetector.SuspicionLevel(node, now)
			if level > t.config.SuspicionThreshold {
				t.transitionLocked(m, StatusSuspect, now)
				t.broadcastLocked(m2u(m, t.local))
			}
		case StatusSuspect:
			if now.Sub(m.SuspectedAt) >= t.config.SuspicionTimeout {
				t.transitionLocked(m, StatusDead, now)
				t.broadcastLocked(m2u(m, t.local))
			}
		case StatusDead:
			if now.After(m.Expiry) {
				expired = append(expired, node)
			}
		}
	}

	for _, node := range expired {
		t.metrics.Members.WithLabelValues(StatusDead.String()).Dec()
		delete(t.members, node)
		delete(t.deadReports, node)
		t.broadcasts.Remove(node)
		t.failureDetector.Remove(node)
		t.watcher.OnExpired(node)
	}
}

// Outgoing returns the member updates to attach to a message sent to the
// given peer.
//
// This always includes the local node and our view of the peer, so the
// peer can refute any suspicion about itself in the same exchange, plus
// queued broadcasts.
func (t *membershipTable) Outgoing(peer Node) []memberUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()

	updates := []memberUpdate{m2u(t.members[t.local], Node{})}
	if m, ok := t.members[peer]; ok && peer != t.local {
		updates = append(updates, m2u(m, t.local))
	}

	limit := retransmitLimit(t.config.RetransmitMult, len(t.members))
	for _, u := range t.broadcasts.Take(maxBroadcastsPerMessage, limit) {
		if u.Node == t.local || u.Node == peer {
			// Already included the latest state.
			continue
		}
		updates = append(updates, u)
		t.metrics.BroadcastsOutbound.Inc()
	}
	return updates
}

func (t *membershipTable) addLocked(node Node, status Status, incarnation uint64, now time.Time) {
	m := &Member{
		Node:        node,
		Status:      status,
		Incarnation: incarnation,
	}
	switch status {
	case StatusAlive:
		m.LastContact = now
	case StatusSuspect:
		m.SuspectedAt = now
	case StatusDead:
		m.Expiry = now.Add(t.config.DeadRetention)
	}
	t.members[node] = m
	t.metrics.Members.WithLabelValues(status.String()).Inc()

	if status != StatusDead {
		t.watcher.OnJoin(node)
	}
}

func (t *membershipTable) transitionLocked(m *Member, status Status, now time.Time) {
	t.metrics.Members.WithLabelValues(m.Status.String()).Dec()
	t.metrics.Members.WithLabelValues(status.String()).Inc()

	m.Status = status
	switch status {
	case StatusAlive:
		m.SuspectedAt = time.Time{}
		m.Expiry = time.Time{}
		t.view.OnNodeAlive(m.Node, m.Incarnation)
		t.watcher.OnAlive(m.Node)
	case StatusSuspect:
		m.SuspectedAt = now
		m.Expiry = time.Time{}
		t.view.OnNodeSuspect(m.Node, m.Incarnation)
		t.watcher.OnSuspect(m.Node)
	case StatusDead:
		m.SuspectedAt = time.Time{}
		m.Expiry = now.Add(t.config.DeadRetention)
		t.view.OnNodeDead(m.Node)
		t.failureDetector.Remove(m.Node)
		t.watcher.OnDead(m.Node)
	}
}

func (t *membershipTable) broadcastLocked(u memberUpdate) {
	t.broadcasts.Push(u.Node, u)
}

func m2u(m *Member, reporter Node) memberUpdate {
	u := memberUpdate{
		Node:        m.Node,
		Status:      m.Status,
		Incarnation: m.Incarnation,
	}
	if m.Status != StatusAlive {
		u.Reporter = reporter
	}
	return u
}

func validateMemberUpdates(updates []memberUpdate) error {
	for _, u := range updates {
		if err := u.Node.validate(); err != nil {
			return err
		}
		if !u.Status.valid() {
			return fmt.Errorf("invalid status: %d", u.Status)
		}
	}
	return nil
}
