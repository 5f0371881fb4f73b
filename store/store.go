/*
Package store is the durable holder of the shared ledger state.

PURPOSE:
  One Store front, many persistence backends. Earlier iterations of this
  system kept near-duplicate storage services (in-memory, flat file,
  locked file, embedded KV); they collapse here into a single read/write
  contract over a pluggable Backend selected by configuration.

CONTRACT:
  Read():  never fails with "not found". If no state exists yet it is
           atomically initialized to {accumulated:0, round:1, history:[]}.
           On a transient backend failure Read falls back to the
           last-known-good state so callers always have a value to render.
  Write(): persists the candidate only if the conflict policy approves;
           a rejection is returned as an accepted no-op, not an error.
           Backend failures surface to the caller, who owns the retry.

SIDE EFFECTS:
  Every accepted write stamps lastUpdated and version (unix milliseconds,
  the logical clock used by the conflict policy).

IMPLEMENTATIONS:
  - store/memory: process memory (testing/dev, single process)
  - store/file:   flat JSON file
  - store/bolt:   embedded KV (bbolt)
  - store/sqlite: SQLite in WAL mode

SEE ALSO:
  - ledger/resolve.go: the conflict policy applied on Write
  - lock: advisory lease guarding multi-process writers
*/
package store

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/frioserv/gas-ledger/ledger"
)

// ErrNotExist is returned by a Backend when no state has been persisted
// yet. The Store translates it into lazy initialization; it never escapes
// to Store callers.
var ErrNotExist = errors.New("ledger state not initialized")

// Backend persists a single ledger state record.
type Backend interface {
	// Load returns the persisted state, or ErrNotExist when absent.
	// Corrupt persisted data is self-healing: backends report it as
	// ErrNotExist so it gets overwritten with a fresh default.
	Load(ctx context.Context) (*ledger.State, error)

	// Save replaces the persisted state.
	Save(ctx context.Context, s *ledger.State) error

	Close() error
}

// WriteResult reports the outcome of a Write.
type WriteResult struct {
	// Accepted is false when the conflict policy rejected the candidate
	// as stale or duplicate. That is a success from the caller's view.
	Accepted bool
	Message  string
}

// Store is the authoritative holder of the shared ledger state.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	clock    ledger.Clock
	lastGood *ledger.State
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects a clock, used by tests to control version stamping.
func WithClock(c ledger.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New wraps a backend in the Store contract.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		clock:   ledger.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read returns the current authoritative state, initializing it on first
// use. A transient backend failure degrades to the last-known-good state
// rather than propagating to callers that only need a value to render.
func (s *Store) Read(ctx context.Context) (ledger.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.backend.Load(ctx)
	switch {
	case err == nil:
		s.lastGood = cur
		return cur.Clone(), nil

	case errors.Is(err, ErrNotExist):
		init := ledger.Initial()
		s.stamp(&init)
		if saveErr := s.backend.Save(ctx, &init); saveErr != nil {
			log.Printf("store: failed to initialize state: %v", saveErr)
		}
		s.lastGood = &init
		return init.Clone(), nil

	default:
		log.Printf("store: read failed, serving last-known-good: %v", err)
		if s.lastGood != nil {
			return s.lastGood.Clone(), nil
		}
		return ledger.Initial(), nil
	}
}

// Write persists candidate as the new authoritative state if the conflict
// policy approves. A rejected candidate returns WriteResult{Accepted:false}
// with a nil error. Validation failures and backend failures are errors.
func (s *Store) Write(ctx context.Context, candidate ledger.State) (WriteResult, error) {
	if err := ledger.ValidateState(candidate); err != nil {
		return WriteResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.backend.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotExist) {
			return WriteResult{}, err
		}
		init := ledger.Initial()
		current = &init
	}

	if !ledger.ShouldAccept(candidate, *current) {
		return WriteResult{Accepted: false, Message: "no update needed"}, nil
	}

	next := candidate.Clone()
	s.stamp(&next)
	if err := s.backend.Save(ctx, &next); err != nil {
		return WriteResult{}, err
	}

	s.lastGood = &next
	return WriteResult{Accepted: true, Message: "data saved"}, nil
}

// Close releases the backing medium.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) stamp(st *ledger.State) {
	now := s.clock.Now()
	st.LastUpdated = now
	st.Version = now.UnixMilli()
}
