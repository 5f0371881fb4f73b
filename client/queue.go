/*
queue.go - Durable retry queue for not-yet-confirmed writes

PURPOSE:
  Guarantees at-least-once delivery of locally-applied mutations to the
  authoritative store, surviving process restarts and offline periods,
  without blocking the caller. Operations drain strictly in enqueue order:
  an older mutation is never skipped in favor of a newer one, so the
  client's own edits keep their causal order even under partial failure.

BOUNDS:
  - 5 attempts per operation, exponential backoff 2s * 2^attempts
  - at most 100 queued operations (oldest dropped beyond that)
  - operations older than 24h are discarded on load (and on drain, for
    clients that stay up past the bound)
  A dropped operation keeps its diagnostic trail and is reported through
  the DroppedFn hook so the UI can surface it. An entry that no longer
  parses is discarded the same way corrupt snapshots and leases are.

REENTRANCY:
  A drain already in progress makes a concurrent trigger a no-op. A drain
  that has been "in progress" for more than 30s is treated as stuck and
  its flag is forcibly taken over, so a wedged drain can never block the
  queue permanently.
*/
package client

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/frioserv/gas-ledger/ledger"
)

const (
	// MaxRetryAttempts is how many times one operation is tried before
	// being dropped.
	MaxRetryAttempts = 5

	// RetryDelayBase is the backoff unit: delay = base * 2^attempts.
	RetryDelayBase = 2 * time.Second

	// MaxQueueLength bounds the queue; beyond it the oldest entries drop.
	MaxQueueLength = 100

	// MaxOperationAge bounds how long an operation may wait for delivery.
	MaxOperationAge = 24 * time.Hour

	// DrainTimeout is how long a drain may run before a concurrent
	// trigger treats it as stuck.
	DrainTimeout = 30 * time.Second
)

// OpSave is the only operation kind the ledger produces.
const OpSave = "save"

// errCorruptOperation marks a queue entry that no longer parses. Such
// entries are discarded, like corrupt snapshots and leases; they must
// never wedge the queue.
var errCorruptOperation = errors.New("corrupt queue operation")

// Operation is one durable queue entry.
type Operation struct {
	ID            string       `json:"id"`
	EnqueuedAt    time.Time    `json:"enqueuedAt"`
	Kind          string       `json:"kind"`
	Payload       ledger.State `json:"payload"`
	Attempts      int          `json:"attempts"`
	LastAttemptAt *time.Time   `json:"lastAttemptAt,omitempty"`
	Errors        []string     `json:"errors,omitempty"`
}

// backoffRemaining reports how long the operation must still wait before
// its next attempt at now.
func (op Operation) backoffRemaining(now time.Time) time.Duration {
	if op.LastAttemptAt == nil {
		return 0
	}
	required := RetryDelayBase * (1 << op.Attempts)
	elapsed := now.Sub(*op.LastAttemptAt)
	if elapsed >= required {
		return 0
	}
	return required - elapsed
}

// Pusher delivers a candidate state to the authoritative store.
// *Remote satisfies it.
type Pusher interface {
	Push(ctx context.Context, s ledger.State) error
}

// Queue is the durable retry queue. It shares the client's bbolt database.
type Queue struct {
	local *LocalState
	push  Pusher
	clock ledger.Clock

	// DroppedFn, when set, observes operations dropped after exhausting
	// their retries or their age bound.
	DroppedFn func(Operation)

	mu          sync.Mutex
	draining    bool
	drainStart  time.Time
	manualDrain bool
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueClock injects a clock for backoff decisions.
func WithQueueClock(c ledger.Clock) QueueOption {
	return func(q *Queue) { q.clock = c }
}

// WithManualDrain disables the fire-and-forget drain trigger on Enqueue.
// Tests use it to drive Drain deterministically; the sync orchestrator's
// poll loop still drains on its own cadence.
func WithManualDrain() QueueOption {
	return func(q *Queue) { q.manualDrain = true }
}

// NewQueue creates a retry queue over the client's local database.
// Operations past their age bound are discarded here, before any drain
// runs, so a client that rarely syncs still sheds its stale backlog.
func NewQueue(local *LocalState, push Pusher, opts ...QueueOption) *Queue {
	q := &Queue{
		local: local,
		push:  push,
		clock: ledger.SystemClock{},
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.dropExpired(); err != nil {
		log.Printf("queue: sweep expired operations: %v", err)
	}
	return q
}

// dropExpired removes operations older than MaxOperationAge from disk.
func (q *Queue) dropExpired() error {
	now := q.clock.Now()
	return q.local.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketQueue).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var op Operation
			if json.Unmarshal(v, &op) != nil {
				continue // Drain discards unparseable entries
			}
			if now.Sub(op.EnqueuedAt) > MaxOperationAge {
				q.reportDropped(op, "operation exceeded maximum age")
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Enqueue validates the candidate, records it durably, and triggers an
// async drain. It never blocks on the network.
func (q *Queue) Enqueue(s ledger.State) error {
	if err := ledger.ValidateState(s); err != nil {
		return err
	}

	op := Operation{
		ID:         "op_" + uuid.NewString(),
		EnqueuedAt: q.clock.Now(),
		Kind:       OpSave,
		Payload:    s,
	}
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}

	err = q.local.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}

		// Capacity bound: drop oldest beyond MaxQueueLength.
		for bucketLen(b) > MaxQueueLength {
			k, v := b.Cursor().First()
			if k == nil {
				break
			}
			q.reportDroppedRaw(v, "queue capacity exceeded")
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue operation: %w", err)
	}

	if q.manualDrain {
		return nil
	}

	go func() {
		if err := q.Drain(context.Background()); err != nil {
			log.Printf("queue: background drain: %v", err)
		}
	}()
	return nil
}

// Drain processes queued operations oldest-first until the queue is empty,
// the head operation is inside its backoff window, or an attempt fails.
// Reentrant-safe: a concurrent call while a drain is running is a no-op
// unless that drain has exceeded DrainTimeout, in which case it is treated
// as stuck and taken over.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	start := q.clock.Now()
	if q.draining {
		if start.Sub(q.drainStart) <= DrainTimeout {
			q.mu.Unlock()
			return nil
		}
		// The in-progress flag is stale; clear it and take over.
		log.Printf("queue: stuck drain detected, resetting drain state")
	}
	q.draining = true
	q.drainStart = start
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if q.clock.Now().Sub(start) > DrainTimeout {
			log.Printf("queue: drain exceeded %s, stopping", DrainTimeout)
			return nil
		}

		key, op, ok, err := q.head()
		if err != nil {
			if errors.Is(err, errCorruptOperation) && key != nil {
				log.Printf("queue: dropping unparseable operation: %v", err)
				if derr := q.delete(key); derr != nil {
					return derr
				}
				continue
			}
			return err
		}
		if !ok {
			return nil
		}

		now := q.clock.Now()

		// Age bound.
		if now.Sub(op.EnqueuedAt) > MaxOperationAge {
			q.reportDropped(op, "operation exceeded maximum age")
			if err := q.delete(key); err != nil {
				return err
			}
			continue
		}

		// Retry bound.
		if op.Attempts >= MaxRetryAttempts {
			q.reportDropped(op, "operation exceeded maximum retry attempts")
			if err := q.delete(key); err != nil {
				return err
			}
			continue
		}

		// Backoff window. Later operations must not overtake the head,
		// so a waiting head stops the whole drain.
		if remaining := op.backoffRemaining(now); remaining > 0 {
			return nil
		}

		if err := q.push.Push(ctx, op.Payload); err != nil {
			op.Attempts++
			attemptAt := now
			op.LastAttemptAt = &attemptAt
			op.Errors = append(op.Errors,
				fmt.Sprintf("attempt %d at %s: %v", op.Attempts, now.Format(time.RFC3339), err))
			if err := q.update(key, op); err != nil {
				return err
			}
			// FIFO: nothing behind the failed head may be sent.
			return nil
		}

		if err := q.delete(key); err != nil {
			return err
		}
	}
}

// Pending returns the number of queued operations.
func (q *Queue) Pending() (int, error) {
	n := 0
	err := q.local.db.View(func(tx *bolt.Tx) error {
		n = bucketLen(tx.Bucket(bucketQueue))
		return nil
	})
	return n, err
}

// Operations returns a snapshot of the queue, oldest first. Diagnostic use.
func (q *Queue) Operations() ([]Operation, error) {
	var ops []Operation
	err := q.local.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).ForEach(func(_, v []byte) error {
			var op Operation
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			ops = append(ops, op)
			return nil
		})
	})
	return ops, err
}

// Clear empties the queue. Escape hatch for operators.
func (q *Queue) Clear() error {
	return q.local.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketQueue); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketQueue)
		return err
	})
}

func (q *Queue) head() (key []byte, op Operation, ok bool, err error) {
	err = q.local.db.View(func(tx *bolt.Tx) error {
		k, v := tx.Bucket(bucketQueue).Cursor().First()
		if k == nil {
			return nil
		}
		key = append([]byte(nil), k...)
		if uerr := json.Unmarshal(v, &op); uerr != nil {
			return fmt.Errorf("%w: %v", errCorruptOperation, uerr)
		}
		ok = true
		return nil
	})
	return key, op, ok, err
}

func (q *Queue) update(key []byte, op Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return q.local.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).Put(key, data)
	})
}

func (q *Queue) delete(key []byte) error {
	return q.local.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).Delete(key)
	})
}

func (q *Queue) reportDropped(op Operation, reason string) {
	log.Printf("queue: dropping operation %s: %s (attempts=%d)", op.ID, reason, op.Attempts)
	if q.DroppedFn != nil {
		op.Errors = append(op.Errors, reason)
		q.DroppedFn(op)
	}
}

func (q *Queue) reportDroppedRaw(raw []byte, reason string) {
	var op Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return
	}
	q.reportDropped(op, reason)
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func bucketLen(b *bolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}
