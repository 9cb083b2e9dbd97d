package pairing

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"coordinator/internal/core/domain"
	"coordinator/internal/core/ports"

	"go.uber.org/zap"
)

type entry struct {
	handle ports.ClientHandle
	role   domain.Role
	state  domain.PairState
	peer   domain.ClientID
	seq    uint64
}

// Registry owns every classified connection and all pairing transitions.
// A single mutex serializes mutations; handles are only touched through
// SetPairing while it is held.
type Registry struct {
	mu         sync.Mutex
	entries    map[domain.ClientID]*entry
	seq        uint64
	compatible CompatibilityFunc
	strict     bool
	logger     *zap.SugaredLogger
}

type Option func(*Registry)

// WithStrict makes invariant violations panic instead of being healed.
func WithStrict(strict bool) Option {
	return func(r *Registry) { r.strict = strict }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *Registry) { r.logger = logger }
}

func NewRegistry(compatible CompatibilityFunc, opts ...Option) *Registry {
	if compatible == nil {
		compatible = OppositeRoles
	}
	r := &Registry{
		entries:    make(map[domain.ClientID]*entry),
		compatible: compatible,
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ ports.Registry = (*Registry)(nil)

// Register adds a classified connection and pairs it with the longest
// waiting compatible client, if any.
func (r *Registry) Register(h ports.ClientHandle) (domain.RegisterResult, error) {
	if h == nil {
		return domain.RegisterResult{}, fmt.Errorf("nil client handle")
	}
	role := h.Role()
	if role == "" {
		return domain.RegisterResult{}, fmt.Errorf("client %s: %w", h.ID(), domain.ErrInvalidRole)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[h.ID()]; exists {
		return domain.RegisterResult{}, fmt.Errorf("client %s: %w", h.ID(), domain.ErrAlreadyRegistered)
	}

	r.seq++
	e := &entry{handle: h, role: role, state: domain.StateUnpaired, seq: r.seq}
	r.entries[h.ID()] = e
	r.setWaiting(e)

	var result domain.RegisterResult
	if pair, ok := r.match(e, ""); ok {
		result = domain.RegisterResult{State: domain.StatePaired, Peer: pair.B}
	} else {
		result = domain.RegisterResult{State: domain.StateWaiting}
	}

	r.checkLocked("register")
	return result, nil
}

// Unregister removes a connection. A former peer goes back to waiting and is
// immediately offered to other waiting clients.
func (r *Registry) Unregister(id domain.ClientID) domain.UnregisterResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.UnregisterResult{}
	}

	result := domain.UnregisterResult{Removed: true, Role: e.role}
	if e.state == domain.StatePaired {
		if peer, ok := r.entries[e.peer]; ok {
			result.FormerPeer = peer.handle.ID()
			r.setWaiting(peer)
		}
	}
	delete(r.entries, id)
	e.handle.SetPairing(domain.StateUnpaired, "")

	if result.FormerPeer != "" {
		if pair, ok := r.match(r.entries[result.FormerPeer], ""); ok {
			result.Pairs = append(result.Pairs, pair)
		}
	}

	r.checkLocked("unregister")
	return result
}

// ForcePair pairs a and b regardless of role compatibility, first detaching
// any existing partners of either side.
func (r *Registry) ForcePair(a, b domain.ClientID) (domain.ForcePairResult, error) {
	if a == b {
		return domain.ForcePairResult{}, fmt.Errorf("client %s: %w", a, domain.ErrSelfPair)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ea, ok := r.entries[a]
	if !ok {
		return domain.ForcePairResult{}, fmt.Errorf("client %s: %w", a, domain.ErrClientNotFound)
	}
	eb, ok := r.entries[b]
	if !ok {
		return domain.ForcePairResult{}, fmt.Errorf("client %s: %w", b, domain.ErrClientNotFound)
	}

	if ea.state == domain.StatePaired && ea.peer == b {
		return domain.ForcePairResult{AlreadyPaired: true}, nil
	}

	var result domain.ForcePairResult

	for _, e := range []*entry{ea, eb} {
		if e.state != domain.StatePaired {
			continue
		}
		if partner, ok := r.entries[e.peer]; ok {
			r.setWaiting(partner)
			result.Displaced = append(result.Displaced, partner.handle.ID())
		}
	}

	r.link(ea, eb)

	for _, id := range result.Displaced {
		if e := r.entries[id]; e.state == domain.StateWaiting {
			if pair, ok := r.match(e, ""); ok {
				result.Pairs = append(result.Pairs, pair)
			}
		}
	}

	r.checkLocked("force_pair")
	return result, nil
}

// Unpair breaks the pair id belongs to. Both sides go back to waiting and are
// re-matched, never with each other.
func (r *Registry) Unpair(id domain.ClientID) (domain.UnpairResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.UnpairResult{}, fmt.Errorf("client %s: %w", id, domain.ErrClientNotFound)
	}
	if e.state != domain.StatePaired {
		return domain.UnpairResult{}, fmt.Errorf("client %s: %w", id, domain.ErrNotPaired)
	}

	result := domain.UnpairResult{FormerPeer: e.peer}
	peer := r.entries[e.peer]
	r.setWaiting(e)
	if peer != nil {
		r.setWaiting(peer)
	}

	if pair, ok := r.match(e, result.FormerPeer); ok {
		result.Pairs = append(result.Pairs, pair)
	}
	if peer != nil && peer.state == domain.StateWaiting {
		if pair, ok := r.match(peer, id); ok {
			result.Pairs = append(result.Pairs, pair)
		}
	}

	r.checkLocked("unpair")
	return result, nil
}

func (r *Registry) LookupPeer(id domain.ClientID) (domain.ClientID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.state != domain.StatePaired {
		return "", false
	}
	return e.peer, true
}

// PeerOf returns the handle of id's current peer.
func (r *Registry) PeerOf(id domain.ClientID) (ports.ClientHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.state != domain.StatePaired {
		return nil, false
	}
	peer, ok := r.entries[e.peer]
	if !ok {
		return nil, false
	}
	return peer.handle, true
}

func (r *Registry) Get(id domain.ClientID) (ports.ClientHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Handles returns all registered handles, oldest first.
func (r *Registry) Handles() []ports.ClientHandle {
	r.mu.Lock()
	ordered := r.orderedLocked()
	r.mu.Unlock()

	handles := make([]ports.ClientHandle, len(ordered))
	for i, e := range ordered {
		handles[i] = e.handle
	}
	return handles
}

// Candidates lists unpaired clients compatible with id, oldest first.
func (r *Registry) Candidates(id domain.ClientID) ([]domain.ClientID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("client %s: %w", id, domain.ErrClientNotFound)
	}

	var ids []domain.ClientID
	for _, c := range r.orderedLocked() {
		if c == e || c.state == domain.StatePaired {
			continue
		}
		if r.compatible(e.role, c.role) {
			ids = append(ids, c.handle.ID())
		}
	}
	return ids, nil
}

type snapshotRow struct {
	handle   ports.ClientHandle
	role     domain.Role
	state    domain.PairState
	peer     domain.ClientID
	peerRole domain.Role
}

// Snapshot copies pairing state under the lock and reads per-connection
// counters after releasing it.
func (r *Registry) Snapshot() []domain.ConnectionSummary {
	r.mu.Lock()
	ordered := r.orderedLocked()
	rows := make([]snapshotRow, len(ordered))
	for i, e := range ordered {
		rows[i] = r.rowLocked(e)
	}
	r.mu.Unlock()

	summaries := make([]domain.ConnectionSummary, len(rows))
	for i, row := range rows {
		summaries[i] = summarize(row)
	}
	return summaries
}

func (r *Registry) Summary(id domain.ClientID) (domain.ConnectionSummary, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return domain.ConnectionSummary{}, fmt.Errorf("client %s: %w", id, domain.ErrClientNotFound)
	}
	row := r.rowLocked(e)
	r.mu.Unlock()

	return summarize(row), nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Verify checks pairing symmetry and single-peer ownership.
func (r *Registry) Verify() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verifyLocked()
}

func (r *Registry) verifyLocked() error {
	var problems []string
	owners := make(map[domain.ClientID]domain.ClientID)

	for id, e := range r.entries {
		if e.state != domain.StatePaired {
			if e.peer != "" {
				problems = append(problems, fmt.Sprintf("%s is %s but has peer %s", id, e.state, e.peer))
			}
			continue
		}
		peer, ok := r.entries[e.peer]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s is paired with unknown client %s", id, e.peer))
			continue
		}
		if peer.state != domain.StatePaired || peer.peer != id {
			problems = append(problems, fmt.Sprintf("%s -> %s is not symmetric", id, e.peer))
		}
		if prev, dup := owners[e.peer]; dup {
			problems = append(problems, fmt.Sprintf("%s claimed as peer by %s and %s", e.peer, prev, id))
		}
		owners[e.peer] = id
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("registry invariant violated: %s", strings.Join(problems, "; "))
}

// checkLocked runs after every mutation. Violations are programming errors:
// strict registries panic, others log and re-derive a consistent state.
func (r *Registry) checkLocked(op string) {
	err := r.verifyLocked()
	if err == nil {
		return
	}
	if r.strict {
		panic(fmt.Sprintf("%s: %v", op, err))
	}
	r.logger.Errorw("pairing invariant violated, healing", "operation", op, "error", err)
	r.healLocked()
}

func (r *Registry) healLocked() {
	for id, e := range r.entries {
		if e.state != domain.StatePaired {
			if e.peer != "" {
				r.setWaiting(e)
			}
			continue
		}
		peer, ok := r.entries[e.peer]
		if !ok || peer.state != domain.StatePaired || peer.peer != id {
			r.setWaiting(e)
		}
	}
}

// match pairs e with the oldest waiting compatible client other than exclude.
func (r *Registry) match(e *entry, exclude domain.ClientID) (domain.Pair, bool) {
	if e == nil || e.state != domain.StateWaiting {
		return domain.Pair{}, false
	}

	var best *entry
	for id, c := range r.entries {
		if c == e || id == exclude || c.state != domain.StateWaiting {
			continue
		}
		if !r.compatible(e.role, c.role) {
			continue
		}
		if best == nil || older(c, best) {
			best = c
		}
	}
	if best == nil {
		return domain.Pair{}, false
	}

	r.link(e, best)
	return domain.Pair{A: e.handle.ID(), B: best.handle.ID()}, true
}

func (r *Registry) link(a, b *entry) {
	a.state, a.peer = domain.StatePaired, b.handle.ID()
	b.state, b.peer = domain.StatePaired, a.handle.ID()
	a.handle.SetPairing(domain.StatePaired, a.peer)
	b.handle.SetPairing(domain.StatePaired, b.peer)
}

func (r *Registry) setWaiting(e *entry) {
	e.state, e.peer = domain.StateWaiting, ""
	e.handle.SetPairing(domain.StateWaiting, "")
}

func (r *Registry) orderedLocked() []*entry {
	ordered := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return older(ordered[i], ordered[j]) })
	return ordered
}

func (r *Registry) rowLocked(e *entry) snapshotRow {
	row := snapshotRow{handle: e.handle, role: e.role, state: e.state, peer: e.peer}
	if p, ok := r.entries[e.peer]; ok {
		row.peerRole = p.role
	}
	return row
}

func summarize(row snapshotRow) domain.ConnectionSummary {
	stats := row.handle.Stats()
	s := domain.ConnectionSummary{
		ID:               row.handle.ID(),
		Role:             row.role,
		RemoteAddr:       row.handle.RemoteAddr(),
		ConnectedAt:      row.handle.ConnectedAt(),
		State:            row.state,
		PairedWith:       row.peer,
		PairedWithRole:   row.peerRole,
		MessagesReceived: stats.MessagesReceived,
		MessagesSent:     stats.MessagesSent,
		QueueDropped:     stats.QueueDropped,
	}
	if stats.LatencySamples > 0 {
		ms := float64(stats.AvgLatency) / float64(time.Millisecond)
		s.AvgLatencyMs = &ms
	}
	return s
}

// older orders by connection time, then by registration order.
func older(a, b *entry) bool {
	at, bt := a.handle.ConnectedAt(), b.handle.ConnectedAt()
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return a.seq < b.seq
}
