/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All domain error types in one place. Storage and transport layers wrap
  these with additional context and map them onto HTTP status codes.

ERROR CATEGORIES:
  1. Validation errors - malformed state or entries, rejected before I/O
  2. Mutation errors   - operations that make no sense on the current state

USAGE:
  if errors.Is(err, ledger.ErrInvalidEntry) { ... }

  var verr *ledger.EntryValidationError
  if errors.As(err, &verr) { ... verr.Reason ... }
*/
package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when a candidate state fails structural
	// validation. It never reaches storage or the retry queue.
	ErrInvalidState = errors.New("invalid ledger state")

	// ErrInvalidEntry is returned when a history entry fails validation.
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrEmptyHistory is returned by Undo when there is nothing to undo.
	ErrEmptyHistory = errors.New("no entries to undo")
)

// EntryValidationError reports which entry failed validation and why.
type EntryValidationError struct {
	Index   int
	EntryID string
	Reason  string
}

func (e *EntryValidationError) Error() string {
	return fmt.Sprintf("entry %d (%s): %s", e.Index, e.EntryID, e.Reason)
}

func (e *EntryValidationError) Unwrap() error {
	return ErrInvalidEntry
}

// StateValidationError reports a top-level state validation failure.
type StateValidationError struct {
	Reason string
}

func (e *StateValidationError) Error() string {
	return fmt.Sprintf("invalid state: %s", e.Reason)
}

func (e *StateValidationError) Unwrap() error {
	return ErrInvalidState
}
