/*
collector.go - Optimistic mutation flow for a collection client

PURPOSE:
  The client-side counterpart of the server's mutation endpoints: a
  mutation is computed locally, applied optimistically so the operator
  sees it at once, persisted to the durable local store, enqueued for
  at-least-once delivery, and pushed (debounced) to the server.
*/
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/frioserv/gas-ledger/ledger"
)

// ErrInvalidQuantity is returned for a non-positive gas quantity.
var ErrInvalidQuantity = errors.New("quantity must be greater than zero")

// Collector applies ledger mutations optimistically and hands them to the
// sync machinery.
type Collector struct {
	syncer *Syncer
	local  *LocalState
	queue  *Queue
	clock  ledger.Clock

	mu    sync.Mutex
	state ledger.State
}

// NewCollector creates a collector over the client's sync stack.
func NewCollector(syncer *Syncer, local *LocalState, queue *Queue) *Collector {
	return &Collector{
		syncer: syncer,
		local:  local,
		queue:  queue,
		clock:  ledger.SystemClock{},
		state:  ledger.Initial(),
	}
}

// Load primes the collector: authoritative state when reachable, the
// durable local snapshot otherwise.
func (c *Collector) Load(ctx context.Context) (ledger.State, error) {
	state, err := c.syncer.SyncNow(ctx)
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	return state, err
}

// State returns the current optimistic local state.
func (c *Collector) State() ledger.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Register logs quantity grams collected by operator.
func (c *Collector) Register(quantity float64, operator string) (ledger.State, error) {
	if quantity <= 0 {
		return c.State(), ErrInvalidQuantity
	}
	operator = strings.TrimSpace(operator)

	c.mu.Lock()
	next, _ := ledger.Register(c.state, quantity, operator, c.clock.Now())
	c.state = next
	c.mu.Unlock()

	return next, c.commit(next)
}

// SwapCylinder closes the current round.
func (c *Collector) SwapCylinder(operator string) (ledger.State, error) {
	operator = strings.TrimSpace(operator)

	c.mu.Lock()
	next, _ := ledger.SwapCylinder(c.state, operator, c.clock.Now())
	c.state = next
	c.mu.Unlock()

	return next, c.commit(next)
}

// Undo reverses the last applied entry.
func (c *Collector) Undo() (ledger.State, error) {
	c.mu.Lock()
	next, err := ledger.Undo(c.state)
	if err != nil {
		c.mu.Unlock()
		return c.state.Clone(), err
	}
	c.state = next
	c.mu.Unlock()

	return next, c.commit(next)
}

// ExportCSV renders the current history for download.
func (c *Collector) ExportCSV() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ledger.ExportCSV(c.state.History)
}

// ApplyRemote replaces the optimistic state with an authoritative one.
// Wired to Syncer.OnChange.
func (c *Collector) ApplyRemote(state ledger.State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// commit makes an optimistic state durable and schedules delivery: the
// retry queue records the candidate and drains it asynchronously.
// The candidate is stamped with the client's clock so the conflict policy
// can order it; undo states shrink the history and win on recency alone.
func (c *Collector) commit(state ledger.State) error {
	candidate := state.Clone()
	candidate.LastUpdated = c.clock.Now()

	if err := c.local.SaveSnapshot(candidate); err != nil {
		return fmt.Errorf("persist local snapshot: %w", err)
	}
	if err := c.queue.Enqueue(candidate); err != nil {
		return fmt.Errorf("enqueue for delivery: %w", err)
	}
	return nil
}
