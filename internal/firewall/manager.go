package firewall

import (
	"errors"
	"net/netip"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// OffenseRecord is the offense history of one source address.
type OffenseRecord struct {
	Addr      netip.Addr `json:"address"`
	Count     int        `json:"count"`
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`
	Blocked   bool       `json:"blocked"`
	BlockedAt time.Time  `json:"blocked_at,omitempty"`
}

// TrackResult lists the outcome of one TrackFlows call.
type TrackResult struct {
	Blocked []netip.Addr
	Failed  []netip.Addr
	Skipped []netip.Addr
}

// ReconcileResult lists the rules Reconcile corrected.
type ReconcileResult struct {
	Removed   []netip.Addr `json:"removed"`
	Installed []netip.Addr `json:"installed"`
	Failed    []netip.Addr `json:"failed"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithProtected lists addresses that are never counted or blocked.
func WithProtected(addrs []netip.Addr) Option {
	return func(m *Manager) {
		for _, a := range addrs {
			m.protected[a.Unmap()] = struct{}{}
		}
	}
}

// WithBlockTTL makes blocks expire after d. Zero disables expiry.
func WithBlockTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithListener registers a listener for block lifecycle events.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, l) }
}

// Manager owns the offense records and keeps the backend's rule set equal to
// the set of blocked records. A single mutex covers both, so the control
// loop and operator calls can interleave freely.
type Manager struct {
	mu        sync.Mutex
	backend   Backend
	threshold int
	offenses  map[netip.Addr]*OffenseRecord

	now       func() time.Time
	ttl       time.Duration
	protected map[netip.Addr]struct{}
	listeners []Listener
}

// NewManager creates a manager that blocks an address once it has been
// reported malicious in naughtyCount tracking calls.
func NewManager(backend Backend, naughtyCount int, opts ...Option) *Manager {
	if naughtyCount < 1 {
		naughtyCount = 1
	}
	m := &Manager{
		backend:   backend,
		threshold: naughtyCount,
		offenses:  make(map[netip.Addr]*OffenseRecord),
		now:       time.Now,
		protected: make(map[netip.Addr]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Threshold returns the configured naughty count.
func (m *Manager) Threshold() int {
	return m.threshold
}

// TrackFlows records one offense for every address in sources and blocks
// those that reach the threshold. A failed install leaves the record
// unblocked with its count, so the next call retries it.
func (m *Manager) TrackFlows(sources []netip.Addr) TrackResult {
	var res TrackResult
	var events []Event

	m.mu.Lock()
	now := m.now()
	seen := make(map[netip.Addr]struct{}, len(sources))
	for _, addr := range sources {
		addr = addr.Unmap()
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}

		if _, ok := m.protected[addr]; ok {
			res.Skipped = append(res.Skipped, addr)
			continue
		}

		rec, ok := m.offenses[addr]
		if !ok {
			rec = &OffenseRecord{Addr: addr, FirstSeen: now}
			m.offenses[addr] = rec
		}
		rec.Count++
		rec.LastSeen = now

		if rec.Blocked || rec.Count < m.threshold {
			continue
		}
		if err := m.backend.InstallBlock(addr); err != nil {
			err = &EnforcementError{Op: "install", Addr: addr, Err: err}
			res.Failed = append(res.Failed, addr)
			events = append(events, Event{Type: EventBlockFailed, Addr: addr, Count: rec.Count, Time: now, Err: err})
			continue
		}
		rec.Blocked = true
		rec.BlockedAt = now
		res.Blocked = append(res.Blocked, addr)
		events = append(events, Event{Type: EventBlocked, Addr: addr, Count: rec.Count, Time: now})
	}
	m.mu.Unlock()

	m.emit(events)
	return res
}

// Reconcile removes live rules for addresses not believed blocked and
// reinstalls missing rules for blocked addresses. A reinstall that fails
// demotes the record to unblocked so TrackFlows retries it.
func (m *Manager) Reconcile() (ReconcileResult, error) {
	var res ReconcileResult
	var events []Event

	m.mu.Lock()
	live, err := m.backend.ListActiveBlocks()
	if err != nil {
		m.mu.Unlock()
		return res, &EnforcementError{Op: "list", Err: err}
	}
	now := m.now()

	liveSet := make(map[netip.Addr]struct{}, len(live))
	for _, addr := range live {
		addr = addr.Unmap()
		liveSet[addr] = struct{}{}
		if rec, ok := m.offenses[addr]; ok && rec.Blocked {
			continue
		}
		if err := m.backend.RemoveBlock(addr); err != nil {
			res.Failed = append(res.Failed, addr)
			log.WithError(err).Warnf("Failed to remove stale block rule for %s", addr)
			continue
		}
		res.Removed = append(res.Removed, addr)
		events = append(events, Event{Type: EventReconcileRemoved, Addr: addr, Time: now})
	}

	for _, rec := range m.sortedLocked() {
		if !rec.Blocked {
			continue
		}
		if _, ok := liveSet[rec.Addr]; ok {
			continue
		}
		if err := m.backend.InstallBlock(rec.Addr); err != nil {
			err = &EnforcementError{Op: "install", Addr: rec.Addr, Err: err}
			rec.Blocked = false
			rec.BlockedAt = time.Time{}
			res.Failed = append(res.Failed, rec.Addr)
			events = append(events, Event{Type: EventBlockFailed, Addr: rec.Addr, Count: rec.Count, Time: now, Err: err})
			continue
		}
		res.Installed = append(res.Installed, rec.Addr)
		events = append(events, Event{Type: EventReconcileInstalled, Addr: rec.Addr, Count: rec.Count, Time: now})
	}
	m.mu.Unlock()

	m.emit(events)
	return res, nil
}

// Unblock removes the block for addr and resets its offense count.
func (m *Manager) Unblock(addr netip.Addr) error {
	addr = addr.Unmap()

	m.mu.Lock()
	rec, ok := m.offenses[addr]
	if !ok {
		m.mu.Unlock()
		return ErrNotTracked
	}
	if rec.Blocked {
		if err := m.backend.RemoveBlock(addr); err != nil {
			m.mu.Unlock()
			return &EnforcementError{Op: "remove", Addr: addr, Err: err}
		}
	}
	wasBlocked := rec.Blocked
	rec.Blocked = false
	rec.BlockedAt = time.Time{}
	rec.Count = 0
	now := m.now()
	m.mu.Unlock()

	if wasBlocked {
		m.emit([]Event{{Type: EventUnblocked, Addr: addr, Time: now}})
	}
	return nil
}

// ExpireBlocks lifts every block older than the configured TTL and resets
// the offense counts of the expired addresses.
func (m *Manager) ExpireBlocks(now time.Time) []netip.Addr {
	if m.ttl <= 0 {
		return nil
	}

	var expired []netip.Addr
	var events []Event

	m.mu.Lock()
	for _, rec := range m.sortedLocked() {
		if !rec.Blocked || now.Sub(rec.BlockedAt) < m.ttl {
			continue
		}
		if err := m.backend.RemoveBlock(rec.Addr); err != nil {
			log.WithError(err).Warnf("Failed to expire block for %s", rec.Addr)
			continue
		}
		rec.Blocked = false
		rec.BlockedAt = time.Time{}
		rec.Count = 0
		expired = append(expired, rec.Addr)
		events = append(events, Event{Type: EventExpired, Addr: rec.Addr, Time: now})
	}
	m.mu.Unlock()

	m.emit(events)
	return expired
}

// Offenses returns a snapshot of every record, ordered by address.
func (m *Manager) Offenses() []OffenseRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.sortedLocked()
	out := make([]OffenseRecord, len(recs))
	for i, r := range recs {
		out[i] = *r
	}
	return out
}

// Offense returns a copy of the record for addr.
func (m *Manager) Offense(addr netip.Addr) (OffenseRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.offenses[addr.Unmap()]
	if !ok {
		return OffenseRecord{}, false
	}
	return *rec, true
}

// ActiveBlocks returns the addresses the manager believes are blocked.
func (m *Manager) ActiveBlocks() []netip.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []netip.Addr
	for addr, rec := range m.offenses {
		if rec.Blocked {
			out = append(out, addr)
		}
	}
	sortAddrs(out)
	return out
}

// LiveBlocks returns the rule set as reported by the backend.
func (m *Manager) LiveBlocks() ([]netip.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live, err := m.backend.ListActiveBlocks()
	if err != nil {
		return nil, &EnforcementError{Op: "list", Err: err}
	}
	return live, nil
}

// Close releases the backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.Close()
}

func (m *Manager) sortedLocked() []*OffenseRecord {
	addrs := make([]netip.Addr, 0, len(m.offenses))
	for a := range m.offenses {
		addrs = append(addrs, a)
	}
	sortAddrs(addrs)
	out := make([]*OffenseRecord, len(addrs))
	for i, a := range addrs {
		out[i] = m.offenses[a]
	}
	return out
}

func (m *Manager) emit(events []Event) {
	for _, ev := range events {
		if ev.Type == EventBlockFailed {
			log.WithError(ev.Err).Warnf("Block of %s failed, will retry", ev.Addr)
		} else {
			log.WithField("count", ev.Count).Printf("Firewall %s: %s", ev.Type, ev.Addr)
		}
		for _, l := range m.listeners {
			l(ev)
		}
	}
}

// IsPrivilegeError reports whether err is, or wraps, a *PrivilegeError.
func IsPrivilegeError(err error) bool {
	var pe *PrivilegeError
	return errors.As(err, &pe)
}
