package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frioserv/gas-ledger/ledger"
	"github.com/frioserv/gas-ledger/store"
	"github.com/frioserv/gas-ledger/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyBackend wraps a real backend and fails on demand.
type flakyBackend struct {
	store.Backend
	fail bool
}

func (b *flakyBackend) Load(ctx context.Context) (*ledger.State, error) {
	if b.fail {
		return nil, errors.New("disk on fire")
	}
	return b.Backend.Load(ctx)
}

func newTestStore(t *testing.T) (*store.Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s := store.New(memory.New(), store.WithClock(clock))
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func registered(s ledger.State, quantity float64, operator string, at time.Time) ledger.State {
	out, _ := ledger.Register(s, quantity, operator, at)
	return out
}

// =============================================================================
// READ TESTS
// =============================================================================

func TestStore_Read_InitializesDefault(t *testing.T) {
	// GIVEN: A backend with no persisted state
	// WHEN: Reading
	// THEN: A fresh default is created, stamped, and persisted

	s, clock := newTestStore(t)

	got, err := s.Read(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0.0, got.Accumulated)
	assert.Equal(t, 1, got.Round)
	assert.Empty(t, got.History)
	assert.Equal(t, clock.Now().UnixMilli(), got.Version)

	// A second read sees the same initialized record, not a new one.
	again, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, got.Version, again.Version)
}

func TestStore_Read_LastKnownGoodOnFailure(t *testing.T) {
	// GIVEN: A store that served a state, then its backend starts failing
	// WHEN: Reading
	// THEN: The last-known-good state is returned instead of an error

	clock := newFakeClock()
	backend := &flakyBackend{Backend: memory.New()}
	s := store.New(backend, store.WithClock(clock))
	ctx := context.Background()

	base, err := s.Read(ctx)
	require.NoError(t, err)

	candidate := registered(base, 350, "Carlos", clock.Now())
	_, err = s.Write(ctx, candidate)
	require.NoError(t, err)

	backend.fail = true
	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 350.0, got.Accumulated)
	require.Len(t, got.History, 1)
}

// =============================================================================
// WRITE TESTS
// =============================================================================

func TestStore_Write_AcceptsAndStamps(t *testing.T) {
	// GIVEN: An initialized store
	// WHEN: Writing a candidate with one more entry
	// THEN: Accepted, and lastUpdated/version are stamped by the store

	s, clock := newTestStore(t)
	ctx := context.Background()

	base, err := s.Read(ctx)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	candidate := registered(base, 350, "Carlos", clock.Now())
	candidate.LastUpdated = time.Time{} // the store stamps, not the client

	res, err := s.Write(ctx, candidate)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 350.0, got.Accumulated)
	assert.Equal(t, clock.Now().UnixMilli(), got.Version)
	assert.True(t, got.LastUpdated.Equal(clock.Now()))
}

func TestStore_Write_DuplicateIsAcceptedNoOp(t *testing.T) {
	// GIVEN: A state already persisted
	// WHEN: The exact same snapshot is written again (a retried push)
	// THEN: Not an error; reported as a rejected no-op

	s, clock := newTestStore(t)
	ctx := context.Background()

	base, err := s.Read(ctx)
	require.NoError(t, err)

	candidate := registered(base, 350, "Carlos", clock.Now())
	res, err := s.Write(ctx, candidate)
	require.NoError(t, err)
	require.True(t, res.Accepted)

	stored, err := s.Read(ctx)
	require.NoError(t, err)

	res, err = s.Write(ctx, stored)
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	// The persisted state is unchanged.
	after, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, stored.Version, after.Version)
}

func TestStore_Write_StaleCandidateRejected(t *testing.T) {
	// GIVEN: A store holding a 2-entry state
	// WHEN: A 1-entry candidate with an older timestamp is written
	// THEN: Rejected as a no-op, stored state untouched

	s, clock := newTestStore(t)
	ctx := context.Background()

	base, err := s.Read(ctx)
	require.NoError(t, err)

	one := registered(base, 100, "Carlos", clock.Now())
	two := registered(one, 200, "Ana", clock.Now())
	_, err = s.Write(ctx, two)
	require.NoError(t, err)

	stale := one
	stale.LastUpdated = clock.Now().Add(-time.Hour)
	res, err := s.Write(ctx, stale)
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Len(t, got.History, 2)
}

func TestStore_Write_ValidationFailure(t *testing.T) {
	// GIVEN: A candidate whose entry is malformed
	// WHEN: Writing
	// THEN: An error that unwraps to the validation sentinel; nothing stored

	s, clock := newTestStore(t)
	ctx := context.Background()

	base, err := s.Read(ctx)
	require.NoError(t, err)

	candidate := registered(base, 350, "Carlos", clock.Now())
	candidate.History[0].ID = ""

	_, err = s.Write(ctx, candidate)
	assert.ErrorIs(t, err, ledger.ErrInvalidEntry)

	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.History)
}

func TestStore_Write_FirstWriteWithoutPriorRead(t *testing.T) {
	// GIVEN: A brand new store that has never been read
	// WHEN: A candidate with history arrives
	// THEN: It is compared against the implicit default and accepted

	s, clock := newTestStore(t)

	candidate := registered(ledger.Initial(), 350, "Carlos", clock.Now())
	res, err := s.Write(context.Background(), candidate)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}
