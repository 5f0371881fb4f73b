/*
mutate.go - Pure mutations on the ledger state

PURPOSE:
  The three operations a collection client can perform:
  - Register:     log grams removed from the cylinder
  - SwapCylinder: close the current round, reset the accumulator
  - Undo:         reverse exactly the last applied entry

  All three are pure: they take a State and return a new one, leaving the
  input untouched. Callers apply the result optimistically to local state
  and enqueue it for delivery to the authoritative store.

UNDO SEMANTICS:
  Undo removes history[0] whole; it never partially reverts an entry.
  Reconstructing accumulated/round depends on what the head entry was:
  - a swap marker: step the round back and restore the accumulator to the
    value the round ended with (roundFinalValue)
  - an entry that closed out a round: step back and subtract its quantity
    from the final value
  - a plain register: subtract its quantity
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Register logs a gas collection event of quantity grams by operator.
// Returns the new state and the entry that was prepended to history.
func Register(s State, quantity float64, operator string, now time.Time) (State, Entry) {
	entry := Entry{
		ID:               uuid.NewString(),
		Quantity:         quantity,
		AccumulatedAfter: s.Accumulated + quantity,
		Round:            s.Round,
		Operator:         operator,
		Timestamp:        now,
	}

	next := s.Clone()
	next.Accumulated = entry.AccumulatedAfter
	next.History = prepend(next.History, entry)
	return next, entry
}

// SwapCylinder closes the current round: the accumulator resets to 0 and
// the round counter increments. A marker entry records the final value of
// the round that just ended.
func SwapCylinder(s State, operator string, now time.Time) (State, Entry) {
	final := s.Accumulated
	entry := Entry{
		ID:               uuid.NewString(),
		Quantity:         0,
		AccumulatedAfter: 0,
		Round:            s.Round + 1,
		Operator:         operator,
		Timestamp:        now,
		CylinderSwap:     true,
		RoundFinalValue:  &final,
	}

	next := s.Clone()
	next.Accumulated = 0
	next.Round = s.Round + 1
	next.History = prepend(next.History, entry)
	return next, entry
}

// Undo removes the entry at history[0] and rewinds accumulated/round to
// the values they held before that entry was applied.
func Undo(s State) (State, error) {
	if len(s.History) == 0 {
		return s, ErrEmptyHistory
	}

	head := s.History[0]
	next := s.Clone()
	next.History = next.History[1:]

	switch {
	case head.CylinderSwap:
		next.Round = s.Round - 1
		if head.RoundFinalValue != nil {
			next.Accumulated = *head.RoundFinalValue
		} else {
			next.Accumulated = 0
		}
	case head.RoundFinalValue != nil:
		// The entry closed out a round without being a swap marker.
		next.Round = s.Round - 1
		next.Accumulated = *head.RoundFinalValue - head.Quantity
	default:
		next.Accumulated = s.Accumulated - head.Quantity
	}

	if next.Round < 1 {
		next.Round = 1
	}
	return next, nil
}

func prepend(history []Entry, e Entry) []Entry {
	out := make([]Entry, 0, len(history)+1)
	out = append(out, e)
	return append(out, history...)
}
