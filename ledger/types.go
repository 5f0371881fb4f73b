/*
types.go - Core domain types for the gas collection ledger

PURPOSE:
  Defines the single shared record (State) and its history items (Entry).
  The ledger tracks incremental gas-cylinder readings submitted by human
  operators: a running accumulator in grams and a "round" counter that
  increments on each cylinder swap.

DATA MODEL:
  State:
    - accumulated: grams collected in the current round (cached; always
      derivable by replaying history)
    - round: logical period between cylinder swaps, starts at 1
    - history: newest-first, append-only except for Undo
    - lastUpdated / version: conflict-resolution metadata stamped by the
      authoritative store on every accepted write

  Entry:
    - immutable once created
    - created by Register or SwapCylinder, removed only by Undo (head only)
    - swap entries carry roundFinalValue: the accumulator at the moment
      the round ended

INVARIANT:
  accumulated and round must always match history[0] after every mutation.
  The mutation functions in mutate.go are the only code that touches them.

SEE ALSO:
  - mutate.go: Register, SwapCylinder, Undo
  - resolve.go: conflict policy between competing State snapshots
  - validate.go: structural validation before persistence
*/
package ledger

import "time"

// RoundLimit is the nominal cylinder capacity in grams. The accumulator is
// allowed to exceed it; callers use it for progress display and to prompt
// a cylinder swap.
const RoundLimit = 10000

// State is the single shared ledger record.
type State struct {
	Accumulated float64   `json:"accumulated"`
	Round       int       `json:"round"`
	History     []Entry   `json:"history"`
	LastUpdated time.Time `json:"lastUpdated"`
	Version     int64     `json:"version,omitempty"`
}

// Entry is one history item. Index 0 of State.History is the last applied.
type Entry struct {
	ID               string    `json:"id"`
	Quantity         float64   `json:"quantity"`
	AccumulatedAfter float64   `json:"accumulatedAfter"`
	Round            int       `json:"round"`
	Operator         string    `json:"operator"`
	Timestamp        time.Time `json:"timestamp"`
	CylinderSwap     bool      `json:"isCylinderSwap,omitempty"`

	// RoundFinalValue is present only on swap entries (or entries that
	// closed out a round): the accumulator value when the round ended.
	RoundFinalValue *float64 `json:"roundFinalValue,omitempty"`
}

// Initial returns the ledger state before any collection has been logged.
func Initial() State {
	return State{
		Accumulated: 0,
		Round:       1,
		History:     []Entry{},
	}
}

// Clone returns a deep copy. History entries are value types except for
// RoundFinalValue, which is re-pointed so the copy shares nothing.
func (s State) Clone() State {
	out := s
	out.History = make([]Entry, len(s.History))
	for i, e := range s.History {
		if e.RoundFinalValue != nil {
			v := *e.RoundFinalValue
			e.RoundFinalValue = &v
		}
		out.History[i] = e
	}
	return out
}

// RoundProgress reports how full the current cylinder is, in [0, 1].
// Values above 1 are clamped; the accumulator itself is not.
func (s State) RoundProgress() float64 {
	p := s.Accumulated / RoundLimit
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}

// Clock supplies the current time. Production code uses SystemClock; tests
// inject a fixed or stepping clock so lease expiry and retry backoff can be
// exercised without real timers.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
