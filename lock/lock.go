/*
Package lock grants mutually-exclusive write access to the ledger store.

PURPOSE:
  Advisory locking: a cooperative, time-bounded lease that all writers
  honor before a read-compare-write against the shared state. The lease
  has a hard TTL so a crashed or slow writer cannot block others forever.

STATE MACHINE (per slot):
  Absent -> Held(owner, request, acquiredAt) -> Absent

  Acquire:
    - Absent:                         grant
    - Held by same owner:             grant (re-entrant; a client retrying
                                      its own write must not deadlock itself)
    - Held by other, lease fresh:     deny
    - Held by other, lease expired:   abandoned, overwrite and grant
    - Corrupt lease:                  treated as absent by the slot
  Release:
    - Absent:                         released (idempotent no-op)
    - owner+request match:            clear
    - owner matches, request differs:
        expired -> clear (stale lease from an earlier attempt)
        fresh   -> deny (another in-flight request owns it)
    - owner differs:                  deny

  Every write that requires mutual exclusion acquires before the
  read-compare-write and releases in a defer on every exit path.

SEE ALSO:
  - slot.go: lease persistence (process memory or lock file)
*/
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/frioserv/gas-ledger/ledger"
)

// TTL is how long a lease stays valid without being released. An expired
// lease is treated as abandoned by the next acquirer.
const TTL = 30 * time.Second

// Lease is the advisory write lock record.
type Lease struct {
	OwnerID    string    `json:"ownerId"`
	RequestID  string    `json:"requestId"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Expired reports whether the lease is past its TTL at now.
func (l Lease) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(l.AcquiredAt) >= ttl
}

// Manager owns at most one lease at a time over a persistence Slot.
type Manager struct {
	mu    sync.Mutex
	slot  Slot
	clock ledger.Clock
	ttl   time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects a clock for expiry decisions.
func WithClock(c ledger.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithTTL overrides the default lease TTL.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// NewManager creates a lock manager over the given slot.
func NewManager(slot Slot, opts ...Option) *Manager {
	m := &Manager{
		slot:  slot,
		clock: ledger.SystemClock{},
		ttl:   TTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire attempts to take the lease for ownerID with the per-attempt
// nonce requestID. Returns whether the lease was granted.
func (m *Manager) Acquire(ctx context.Context, ownerID, requestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	current, err := m.slot.Load(ctx)
	if err != nil {
		return false, err
	}

	if current != nil && current.OwnerID != ownerID && !current.Expired(now, m.ttl) {
		return false, nil
	}

	lease := Lease{OwnerID: ownerID, RequestID: requestID, AcquiredAt: now}
	if err := m.slot.Save(ctx, lease); err != nil {
		return false, err
	}
	return true, nil
}

// Release clears the lease if (ownerID, requestID) may do so.
// Returns whether the slot is released from this caller's perspective.
func (m *Manager) Release(ctx context.Context, ownerID, requestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.slot.Load(ctx)
	if err != nil {
		return false, err
	}
	if current == nil {
		return true, nil
	}

	if current.OwnerID != ownerID {
		return false, nil
	}
	if current.RequestID != requestID && !current.Expired(m.clock.Now(), m.ttl) {
		return false, nil
	}

	if err := m.slot.Clear(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Holder returns the current lease, or nil when the slot is absent.
// Diagnostic use only; do not make decisions on a snapshot.
func (m *Manager) Holder(ctx context.Context) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slot.Load(ctx)
}
