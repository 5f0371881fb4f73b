/*
sync.go - Sync orchestrator: polling, debounced pushes, queue draining

PURPOSE:
  The coordination layer between a client's optimistic local state and the
  authoritative store. Polls on a fixed cadence so one client's committed
  write becomes visible to the others without a push channel; coalesces
  rapid successive mutations into a single network write; tracks
  connectivity so the UI can show "saved locally, will sync".

INVARIANTS:
  - Single in-flight poll: a new poll never starts while the previous one
    is unresolved.
  - Stop cancels the poll cadence and any pending debounce timer;
    in-flight requests complete but their results are discarded.

STATUS:
  online  - last interaction with the server succeeded
  offline - the liveness probe fails (server unreachable)
  local   - writes are being kept locally pending delivery
  error   - the server answers but requests fail
*/
package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/frioserv/gas-ledger/ledger"
)

// Status is the orchestrator's connectivity state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusLocal   Status = "local"
	StatusError   Status = "error"
)

const (
	// DefaultPollInterval is the cadence for fetching remote changes.
	DefaultPollInterval = 3 * time.Second

	// DefaultDebounce coalesces rapid successive pushes.
	DefaultDebounce = 300 * time.Millisecond
)

// Syncer coordinates polling, debounced pushes, and queue draining.
type Syncer struct {
	remote *Remote
	local  *LocalState
	queue  *Queue

	pollInterval time.Duration
	debounce     time.Duration

	// OnChange observes authoritative states that differ materially from
	// the local snapshot. Called from the poll goroutine.
	OnChange func(ledger.State)

	// OnStatus observes connectivity transitions.
	OnStatus func(Status)

	mu       sync.Mutex
	status   Status
	started  bool
	cancel   context.CancelFunc
	debTimer *time.Timer
	pending  *ledger.State

	pollBusy sync.Mutex // held while a poll is in flight
	wg       sync.WaitGroup
}

// SyncOption configures a Syncer.
type SyncOption func(*Syncer)

// WithPollInterval overrides the poll cadence.
func WithPollInterval(d time.Duration) SyncOption {
	return func(s *Syncer) { s.pollInterval = d }
}

// WithDebounce overrides the push debounce window.
func WithDebounce(d time.Duration) SyncOption {
	return func(s *Syncer) { s.debounce = d }
}

// NewSyncer wires the orchestrator. Start must be called to begin polling.
func NewSyncer(remote *Remote, local *LocalState, queue *Queue, opts ...SyncOption) *Syncer {
	s := &Syncer{
		remote:       remote,
		local:        local,
		queue:        queue,
		pollInterval: DefaultPollInterval,
		debounce:     DefaultDebounce,
		status:       StatusOnline,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the poll loop. Stop (or cancelling ctx) ends it.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.pollLoop(ctx)
}

// Stop cancels polling and any pending debounce timer, then waits for the
// in-flight work to wind down.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	if s.debTimer != nil {
		s.debTimer.Stop()
		s.debTimer = nil
	}
	s.pending = nil
	s.mu.Unlock()

	s.wg.Wait()
}

// Status returns the current connectivity state.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PushImmediate bypasses the debounce and sends state now. On failure the
// state is enqueued for retry and the status degrades to local.
func (s *Syncer) PushImmediate(ctx context.Context, state ledger.State) error {
	s.mu.Lock()
	if s.debTimer != nil {
		s.debTimer.Stop()
		s.debTimer = nil
	}
	s.pending = nil
	s.mu.Unlock()

	return s.pushNow(ctx, state)
}

// PushDebounced schedules state for delivery after the debounce window;
// a newer call within the window replaces the payload and resets the timer.
func (s *Syncer) PushDebounced(state ledger.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := state.Clone()
	s.pending = &st
	if s.debTimer != nil {
		s.debTimer.Stop()
	}
	s.debTimer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		payload := s.pending
		s.pending = nil
		s.debTimer = nil
		s.mu.Unlock()
		if payload == nil {
			return
		}
		if err := s.pushNow(context.Background(), *payload); err != nil {
			log.Printf("sync: debounced push: %v", err)
		}
	})
}

// SyncNow fetches the authoritative state, reconciles the local snapshot,
// and drains the retry queue. Used for a user-initiated "sync now" action.
func (s *Syncer) SyncNow(ctx context.Context) (ledger.State, error) {
	remote, err := s.remote.Fetch(ctx)
	if err != nil {
		s.degrade(err)
		snap, ok, serr := s.local.Snapshot()
		if serr != nil || !ok {
			return ledger.Initial(), err
		}
		return snap, err
	}

	s.setStatus(StatusOnline)
	s.reconcile(remote)
	if err := s.queue.Drain(ctx); err != nil {
		log.Printf("sync: drain during sync-now: %v", err)
	}
	return remote, nil
}

func (s *Syncer) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Never start a new poll while the previous one is unresolved.
			if !s.pollBusy.TryLock() {
				continue
			}
			s.pollOnce(ctx)
			s.pollBusy.Unlock()
		}
	}
}

func (s *Syncer) pollOnce(ctx context.Context) {
	remote, err := s.remote.Fetch(ctx)
	if ctx.Err() != nil {
		// Stopped while in flight; discard the result.
		return
	}
	if err != nil {
		s.degrade(err)
		return
	}

	s.setStatus(StatusOnline)
	s.reconcile(remote)

	if err := s.queue.Drain(ctx); err != nil && ctx.Err() == nil {
		log.Printf("sync: drain during poll: %v", err)
	}
}

// reconcile replaces the local snapshot when the authoritative state is
// materially different: history length, accumulator, or round.
func (s *Syncer) reconcile(remote ledger.State) {
	snap, ok, err := s.local.Snapshot()
	if err != nil {
		log.Printf("sync: read local snapshot: %v", err)
		return
	}
	if ok && !materiallyDifferent(snap, remote) {
		return
	}

	if err := s.local.SaveSnapshot(remote); err != nil {
		log.Printf("sync: save reconciled snapshot: %v", err)
		return
	}
	if s.OnChange != nil {
		s.OnChange(remote)
	}
}

func (s *Syncer) pushNow(ctx context.Context, state ledger.State) error {
	err := s.remote.Push(ctx, state)
	if err == nil {
		s.setStatus(StatusOnline)
		return nil
	}

	// Validation failures must not enter the queue; everything else is
	// recoverable and queued for retry.
	if errors.Is(err, ErrRejected) {
		s.setStatus(StatusError)
		return err
	}

	if qerr := s.queue.Enqueue(state); qerr != nil {
		s.setStatus(StatusError)
		return errors.Join(err, qerr)
	}
	s.setStatus(StatusLocal)
	return err
}

// degrade classifies a failed fetch: unreachable server means offline,
// a reachable but failing server means error.
func (s *Syncer) degrade(cause error) {
	if _, perr := s.remote.Probe(context.Background()); perr != nil {
		s.setStatus(StatusOffline)
	} else {
		s.setStatus(StatusError)
	}
	log.Printf("sync: degraded (%v)", cause)
}

func (s *Syncer) setStatus(st Status) {
	s.mu.Lock()
	changed := s.status != st
	s.status = st
	s.mu.Unlock()
	if changed && s.OnStatus != nil {
		s.OnStatus(st)
	}
}

func materiallyDifferent(a, b ledger.State) bool {
	return len(a.History) != len(b.History) ||
		a.Accumulated != b.Accumulated ||
		a.Round != b.Round
}
