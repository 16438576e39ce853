package gossip

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andydunstall/gossamer/pkg/log"
)

const (
	// maxLeaveNotifications is the number of peers to notify when leaving.
	maxLeaveNotifications = 3
)

var (
	errUnexpectedMessageType = errors.New("unexpected message type")
	errMessageIDMismatch     = errors.New("response id mismatch")
)

// Gossip disseminates membership and key-value state across the cluster.
//
// Each round the node selects a random sample of peers from its partial view
// and runs a push-pull exchange with each. The exchange shuffles view
// entries, piggybacks member status updates, and reconciles the state by
// comparing digests, so every replica converges to the same state.
//
// Failed exchanges never surface to the caller. Instead the peer is marked
// as suspect and is declared dead if it doesn't refute the suspicion within
// the suspicion timeout.
type Gossip struct {
	local Node

	view    *PeerSamplingService
	members *membershipTable
	state   *StateTree

	transport Transport

	config *Config

	metrics *Metrics

	logger log.Logger

	// wg tracks background pushes so Close can wait for them.
	wg sync.WaitGroup
	// pushMu orders adding a push to wg with Close.
	pushMu sync.Mutex

	started    *atomic.Bool
	closed     *atomic.Bool
	shutdownCh chan struct{}
}

// New creates a gossip node identified by its advertised address.
//
// The nodes in the sampler's initial view are admitted as alive members.
// The caller is responsible for routing received messages to
// HandleMessage.
func New(
	local Node,
	sampler *PeerSamplingService,
	transport Transport,
	config *Config,
	watcher Watcher,
	metrics *Metrics,
	logger log.Logger,
) *Gossip {
	logger = logger.WithSubsystem("gossip")

	if watcher == nil {
		watcher = NewNopWatcher()
	}

	failureDetector := newAccrualFailureDetector(config.Interval*2, 50)
	members := newMembershipTable(
		local, sampler, failureDetector, config, metrics, watcher,
	)
	now := time.Now()
	for _, node := range sampler.Nodes() {
		members.Join(node, now)
	}
	metrics.ViewSize.Set(float64(sampler.Size()))

	return &Gossip{
		local:      local,
		view:       sampler,
		members:    members,
		state:      newStateTree(local, metrics, watcher),
		transport:  transport,
		config:     config,
		metrics:    metrics,
		logger:     logger,
		started:    atomic.NewBool(false),
		closed:     atomic.NewBool(false),
		shutdownCh: make(chan struct{}),
	}
}

// Start schedules gossip rounds and liveness checks in the background.
func (g *Gossip) Start() {
	if !g.started.CompareAndSwap(false, true) {
		return
	}

	g.logger.Info(
		"starting gossip",
		zap.String("node", g.local.String()),
		zap.Duration("interval", g.config.Interval),
		zap.Int("sample-size", g.config.SampleSize),
		zap.Int("view-capacity", g.config.ViewCapacity),
	)

	g.schedule()
}

// OnJoin admits a newly joined node as alive and inserts it into the view.
func (g *Gossip) OnJoin(node Node) {
	g.members.Join(node, time.Now())
	g.metrics.ViewSize.Set(float64(g.view.Size()))
}

// OnChange writes the key locally with a new version. The write is
// propagated by subsequent rounds, or pushed to a sampled peer immediately
// if push on write is enabled.
func (g *Gossip) OnChange(key, value string) Entry {
	entry := g.state.Set(key, value)
	if g.config.PushOnWrite {
		g.pushWrite(entry)
	}
	return entry
}

// OnDelete deletes the key locally by writing a tombstone. Returns false if
// the key doesn't exist.
func (g *Gossip) OnDelete(key string) bool {
	entry, ok := g.state.Delete(key)
	if !ok {
		return false
	}
	if g.config.PushOnWrite {
		g.pushWrite(entry)
	}
	return true
}

// OnDead marks the node as dead and removes it from the view. The local
// node can't be declared dead, use Leave instead.
func (g *Gossip) OnDead(node Node) {
	if !g.members.Dead(node, time.Now()) {
		g.logger.Warn(
			"ignoring dead report for local node",
			zap.String("node", node.String()),
		)
		return
	}
	g.metrics.ViewSize.Set(float64(g.view.Size()))
}

// OnAlive marks the node as alive, overriding any suspicion with a higher
// incarnation. If the node is the local node this refutes any suspicion
// about it.
func (g *Gossip) OnAlive(node Node) {
	g.members.Alive(node, time.Now())
	g.metrics.ViewSize.Set(float64(g.view.Size()))
}

// TriggerStateSynchronization runs one gossip round, synchronizing with a
// random sample of peers from the view concurrently.
//
// Returns the number of peers successfully synchronized with. If the view
// is empty the round is a no-op.
func (g *Gossip) TriggerStateSynchronization(ctx context.Context) int {
	g.metrics.Rounds.Inc()

	peers := g.view.Sample(g.config.SampleSize)
	if len(peers) == 0 {
		g.logger.Debug("gossip round: no peers available")
		return 0
	}

	synced := atomic.NewInt64(0)
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(len(peers))
	for _, peer := range peers {
		group.Go(func() error {
			if g.SynchronizeStateWithPeer(ctx, peer) {
				synced.Inc()
			}
			return nil
		})
	}
	_ = group.Wait()

	g.metrics.ViewSize.Set(float64(g.view.Size()))
	return int(synced.Load())
}

// SynchronizeStateWithPeer runs a push-pull exchange with the peer.
//
// The local node sends a view sample, member updates and its state digest.
// The peer responds with its own view sample and member updates, the
// entries the local node is missing, and the keys it wants pulled, which
// are then pushed in a second message.
//
// Returns false if the exchange failed, in which case the peer is marked as
// suspect. Errors are never returned to the caller.
func (g *Gossip) SynchronizeStateWithPeer(ctx context.Context, peer Node) bool {
	if peer == g.local {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.ExchangeTimeout)
	defer cancel()

	req := newMessage(MessageTypeSync, g.local)
	req.View = g.view.ShuffleSample(g.config.ShuffleLength, g.selfViewEntry())
	req.Members = g.members.Outgoing(peer)
	req.Digest = g.state.Digest()
	req.Entries = g.stateBroadcasts()

	resp, err := g.send(ctx, peer, req, MessageTypeSync)
	if err != nil {
		g.onExchangeFailed(peer, MessageTypeSync, err)
		return false
	}

	now := time.Now()
	g.members.Reachable(peer, now)
	g.members.Apply(resp.Members, now)
	g.mergeView(resp.View, g.config.ShuffleLength)
	g.applyEntries(resp.Entries)

	if len(resp.Pull) > 0 {
		push := newMessage(MessageTypePush, g.local)
		push.Entries = g.state.Select(resp.Pull)
		if _, err := g.send(ctx, peer, push, MessageTypeAck); err != nil {
			g.onExchangeFailed(peer, MessageTypePush, err)
			return false
		}
	}

	g.metrics.Exchanges.WithLabelValues(
		MessageTypeSync.String(), "success",
	).Inc()
	return true
}

// HandleMessage handles a message received from a peer and returns the
// response.
//
// Malformed messages are rejected with an error wrapping
// ErrMalformedMessage without modifying any local state.
func (g *Gossip) HandleMessage(_ context.Context, m *Message) (*Message, error) {
	if err := m.Validate(); err != nil {
		g.metrics.MessagesRejected.Inc()
		g.logger.Warn(
			"rejected message",
			zap.String("type", m.Type.String()),
			zap.Error(err),
		)
		return nil, err
	}

	g.metrics.MessagesInbound.WithLabelValues(m.Type.String()).Inc()

	switch m.Type {
	case MessageTypeJoin:
		return g.handleJoin(m), nil
	case MessageTypeSync:
		return g.handleSync(m), nil
	case MessageTypePush:
		return g.handlePush(m), nil
	case MessageTypeLeave:
		return g.handleLeave(m), nil
	default:
		g.metrics.MessagesRejected.Inc()
		return nil, fmt.Errorf("%w: %s", errUnexpectedMessageType, m.Type)
	}
}

// Join attempts to join an existing cluster by synchronizing with the nodes
// at the given addresses.
//
// The addresses may contain either IP addresses or domain names. When a
// domain name is used, the domain is resolved and each resolved IP address
// is attempted. If the port is omitted the default bind port is used.
//
// Returns the joined nodes. If addresses were provided but no nodes could be
// joined an error is returned.
func (g *Gossip) Join(ctx context.Context, addrs []string) ([]Node, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	var joined []Node
	var lastJoinErr error
	for _, unresolvedAddr := range addrs {
		unresolvedAddr = g.ensurePort(unresolvedAddr)
		resolvedAddrs, err := resolveAddr(unresolvedAddr)
		if err != nil {
			return nil, fmt.Errorf("resolve: %s: %w", unresolvedAddr, err)
		}

		if len(resolvedAddrs) == 0 {
			g.logger.Warn(
				"join: domain did not resolve any addresses",
				zap.String("addr", unresolvedAddr),
			)
			continue
		}

		for _, addr := range resolvedAddrs {
			node, err := g.join(ctx, addr)
			if err != nil {
				lastJoinErr = err

				g.logger.Warn(
					"failed to join node",
					zap.String("addr", addr),
					zap.Error(err),
				)
				continue
			}
			if node == g.local {
				// The domain may resolve to ourselves.
				continue
			}
			joined = append(joined, node)
		}
	}

	// Return an error if we couldn't join any resolved addresses (if there
	// were no resolved addresses return nil).
	if len(joined) == 0 && lastJoinErr != nil {
		return nil, lastJoinErr
	}
	g.metrics.ViewSize.Set(float64(g.view.Size()))
	return joined, nil
}

// Leave gracefully leaves the cluster.
//
// This blocks while it attempts to notify up to 3 peers that the node is
// leaving to ensure the status update is propagated.
//
// Returns an error if no peers could be notified.
func (g *Gossip) Leave(ctx context.Context) error {
	update := g.members.Leave()

	peers := g.view.Sample(g.view.Size())

	notified := 0
	var lastLeaveErr error
	for _, peer := range peers {
		if notified >= maxLeaveNotifications {
			break
		}

		if err := g.leave(ctx, peer, update); err != nil {
			g.logger.Warn(
				"failed to send leave to node",
				zap.String("node", peer.String()),
				zap.Error(err),
			)
			lastLeaveErr = err
			continue
		}

		g.logger.Info(
			"notified node of leave",
			zap.String("node", peer.String()),
		)
		notified++
	}

	if notified > 0 || lastLeaveErr == nil {
		return nil
	}
	return lastLeaveErr
}

// TickAt runs the liveness checks as of now. It's run every interval by Start,
// and can be called directly to drive the membership state machine.
func (g *Gossip) TickAt(now time.Time) {
	g.members.Tick(now)
	g.metrics.ViewSize.Set(float64(g.view.Size()))
}

// LocalNode returns the identity of the local node.
func (g *Gossip) LocalNode() Node {
	return g.local
}

// Value returns the value of the key if it exists and isn't deleted.
func (g *Gossip) Value(key string) (string, bool) {
	return g.state.Value(key)
}

// Entry returns the entry for the key, including tombstones.
func (g *Gossip) Entry(key string) (Entry, bool) {
	return g.state.Get(key)
}

// Entries returns all state entries sorted by key, including tombstones.
func (g *Gossip) Entries() []Entry {
	return g.state.Entries()
}

// State returns the live key-value pairs.
func (g *Gossip) State() map[string]string {
	return g.state.Snapshot()
}

// Member returns the known state of the node.
func (g *Gossip) Member(node Node) (Member, bool) {
	return g.members.Member(node)
}

// Members returns the known state of every node, including the local node.
func (g *Gossip) Members() []Member {
	return g.members.Members()
}

// View returns the entries in the partial view.
func (g *Gossip) View() []ViewEntry {
	return g.view.Entries()
}

func (g *Gossip) Metrics() *Metrics {
	return g.metrics
}

// Close stops gossiping and waits for any pending pushes to complete.
//
// To leave gracefully, first call Leave, otherwise other nodes in the
// cluster will detect this node as failed rather than as having left.
func (g *Gossip) Close() error {
	g.pushMu.Lock()
	if !g.closed.CompareAndSwap(false, true) {
		g.pushMu.Unlock()
		// Already closed.
		return nil
	}
	close(g.shutdownCh)
	g.pushMu.Unlock()

	g.wg.Wait()
	return nil
}

// schedule gossips at the configured rate.
func (g *Gossip) schedule() {
	go g.scheduleFunc(g.config.Interval, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			select {
			case <-g.shutdownCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		g.TriggerStateSynchronization(ctx)
	})
	go g.scheduleFunc(g.config.Interval, func() {
		g.TickAt(time.Now())
	})
}

func (g *Gossip) scheduleFunc(interval time.Duration, f func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Add 10% jitter to avoid nodes synchronising.
			jitter := time.Duration(rand.Int63n(int64(interval)/10 + 1))
			select {
			case <-time.After(jitter):
				f()
			case <-g.shutdownCh:
				return
			}

		case <-g.shutdownCh:
			return
		}
	}
}

func (g *Gossip) handleJoin(req *Message) *Message {
	now := time.Now()
	g.members.Join(req.From, now)
	g.members.Reachable(req.From, now)
	g.members.Apply(req.Members, now)
	g.applyEntries(req.Entries)

	g.logger.Info("node joined", zap.String("node", req.From.String()))

	// Send our full view, membership and state so the joining node can
	// bootstrap from a single exchange.
	resp := req.reply(MessageTypeJoin, g.local)
	resp.View = g.view.ShuffleSample(g.config.ViewCapacity, g.selfViewEntry())
	resp.Members = g.allMembers()
	resp.Entries = g.state.Entries()
	return resp
}

func (g *Gossip) handleSync(req *Message) *Message {
	now := time.Now()
	g.members.Reachable(req.From, now)
	g.members.Apply(req.Members, now)
	g.mergeView(req.View, g.config.ShuffleLength)
	g.applyEntries(req.Entries)

	push, pull := g.state.Diff(req.Digest, true)

	resp := req.reply(MessageTypeSync, g.local)
	resp.View = g.view.ShuffleSample(g.config.ShuffleLength, g.selfViewEntry())
	resp.Members = g.members.Outgoing(req.From)
	resp.Entries = push
	resp.Pull = pull
	return resp
}

func (g *Gossip) handlePush(req *Message) *Message {
	g.members.Reachable(req.From, time.Now())
	g.applyEntries(req.Entries)
	return req.reply(MessageTypeAck, g.local)
}

func (g *Gossip) handleLeave(req *Message) *Message {
	now := time.Now()
	for _, u := range req.Members {
		if u.Node == req.From && u.Status == StatusDead {
			g.members.Left(req.From, u.Incarnation, now)
			g.logger.Info("node left", zap.String("node", req.From.String()))
		}
	}
	g.applyEntries(req.Entries)
	return req.reply(MessageTypeAck, g.local)
}

// join sends a join request to the node at the given address and applies
// the response. Returns the identity the node advertises.
func (g *Gossip) join(ctx context.Context, addr string) (Node, error) {
	seed, err := ParseNode(addr)
	if err != nil {
		return Node{}, err
	}
	if seed == g.local {
		return seed, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.ExchangeTimeout)
	defer cancel()

	req := newMessage(MessageTypeJoin, g.local)
	req.View = []ViewEntry{g.selfViewEntry()}
	req.Members = g.members.Outgoing(seed)
	req.Entries = g.state.Entries()

	resp, err := g.send(ctx, seed, req, MessageTypeJoin)
	if err != nil {
		return Node{}, err
	}

	// The seed may advertise a different address to the one we dialed.
	node := resp.From

	now := time.Now()
	g.members.Join(node, now)
	g.members.Reachable(node, now)
	g.members.Apply(resp.Members, now)
	g.mergeView(resp.View, g.config.ViewCapacity)
	g.applyEntries(resp.Entries)

	g.metrics.Exchanges.WithLabelValues(
		MessageTypeJoin.String(), "success",
	).Inc()
	return node, nil
}

func (g *Gossip) leave(ctx context.Context, peer Node, update memberUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, g.config.ExchangeTimeout)
	defer cancel()

	req := newMessage(MessageTypeLeave, g.local)
	req.Members = []memberUpdate{update}
	req.Entries = g.stateBroadcasts()
	if _, err := g.send(ctx, peer, req, MessageTypeAck); err != nil {
		return err
	}
	g.metrics.Exchanges.WithLabelValues(
		MessageTypeLeave.String(), "success",
	).Inc()
	return nil
}

// pushWrite pushes the entry to a sampled peer in the background.
func (g *Gossip) pushWrite(entry Entry) {
	peers := g.view.Sample(1)
	if len(peers) == 0 {
		return
	}
	peer := peers[0]

	g.pushMu.Lock()
	if g.closed.Load() {
		g.pushMu.Unlock()
		return
	}
	g.wg.Add(1)
	g.pushMu.Unlock()

	go func() {
		defer g.wg.Done()

		ctx, cancel := context.WithTimeout(
			context.Background(), g.config.ExchangeTimeout,
		)
		defer cancel()

		req := newMessage(MessageTypePush, g.local)
		req.Entries = []Entry{entry}
		if _, err := g.send(ctx, peer, req, MessageTypeAck); err != nil {
			g.onExchangeFailed(peer, MessageTypePush, err)
			return
		}
		g.members.Reachable(peer, time.Now())
		g.metrics.Exchanges.WithLabelValues(
			MessageTypePush.String(), "success",
		).Inc()
	}()
}

// send sends the request to the peer and validates the response.
func (g *Gossip) send(
	ctx context.Context,
	peer Node,
	req *Message,
	expected MessageType,
) (*Message, error) {
	resp, err := g.transport.Send(ctx, peer, req)
	if err != nil {
		return nil, err
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	if resp.Type != expected {
		return nil, fmt.Errorf(
			"%w: %s (expected %s)", errUnexpectedMessageType, resp.Type, expected,
		)
	}
	if resp.ID != req.ID {
		return nil, errMessageIDMismatch
	}
	return resp, nil
}

func (g *Gossip) onExchangeFailed(peer Node, t MessageType, err error) {
	g.metrics.Exchanges.WithLabelValues(t.String(), "failure").Inc()
	g.logger.Warn(
		"exchange failed",
		zap.String("node", peer.String()),
		zap.String("type", t.String()),
		zap.Error(err),
	)
	g.members.Suspect(peer, time.Now())
}

func (g *Gossip) applyEntries(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	g.metrics.EntriesInbound.Add(float64(len(entries)))
	applied := g.state.Merge(entries)
	if len(applied) > 0 {
		g.logger.Debug(
			"applied entries",
			zap.Int("received", len(entries)),
			zap.Int("applied", len(applied)),
		)
	}
}

// stateBroadcasts returns recently updated entries to piggyback on an
// outgoing message.
func (g *Gossip) stateBroadcasts() []Entry {
	limit := retransmitLimit(g.config.RetransmitMult, len(g.members.Members()))
	return g.state.Broadcasts(maxBroadcastsPerMessage, limit)
}

// allMembers returns an update for every known member.
func (g *Gossip) allMembers() []memberUpdate {
	members := g.members.Members()
	updates := make([]memberUpdate, 0, len(members))
	for _, m := range members {
		reporter := Node{}
		if m.Node != g.local {
			reporter = g.local
		}
		updates = append(updates, m2u(&m, reporter))
	}
	return updates
}

func (g *Gossip) selfViewEntry() ViewEntry {
	return g.members.Self()
}

// mergeView merges view entries received from a peer into the view.
func (g *Gossip) mergeView(remote []ViewEntry, maxReplace int) {
	admitted := g.members.Admit(remote, time.Now())
	if added := g.view.Merge(admitted, maxReplace); len(added) > 0 {
		g.logger.Debug("added nodes to view", zap.Int("added", len(added)))
	}
}

// ensurePort adds the configured bind port to addr if addr doesn't already
// have a port.
func (g *Gossip) ensurePort(addr string) string {
	if strings.Contains(addr, ":") {
		return addr
	}

	_, bindPort, err := net.SplitHostPort(g.config.BindAddr)
	if err != nil {
		return addr + ":" + fmt.Sprint(g.local.Port)
	}
	return addr + ":" + bindPort
}

// resolveAddr resolves the given address, which may be a domain pointing
// to multiple IP addresses.
func resolveAddr(addr string) ([]string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid addr: %s: %w", addr, err)
	}

	// If the address already contains an IP address, do nothing.
	if ip := net.ParseIP(host); ip != nil {
		return []string{addr}, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("lookup host: %s: %w", host, err)
	}

	var addrs []string
	for _, ip := range ips {
		addrs = append(addrs, net.JoinHostPort(ip.String(), port))
	}
	return addrs, nil
}

var _ Handler = &Gossip{}
