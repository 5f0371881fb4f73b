/*
validate.go - Structural validation of states and entries

PURPOSE:
  Gatekeeper applied before any I/O. Malformed candidates are rejected
  locally; they never reach storage or the durable retry queue.

RULES:
  State: round >= 1, every history entry valid.
  Entry: id and timestamp required; a non-swap entry must remove a
         strictly positive quantity of gas.
*/
package ledger

// ValidateState checks a candidate state before it is persisted or queued.
func ValidateState(s State) error {
	if s.Round < 1 {
		return &StateValidationError{Reason: "round must be at least 1"}
	}
	for i, e := range s.History {
		if err := validateEntryAt(i, e); err != nil {
			return err
		}
	}
	return nil
}

// ValidateEntry checks a single history entry.
func ValidateEntry(e Entry) error {
	return validateEntryAt(0, e)
}

func validateEntryAt(i int, e Entry) error {
	if e.ID == "" {
		return &EntryValidationError{Index: i, Reason: "missing id"}
	}
	if e.Timestamp.IsZero() {
		return &EntryValidationError{Index: i, EntryID: e.ID, Reason: "missing timestamp"}
	}
	if e.Round < 1 {
		return &EntryValidationError{Index: i, EntryID: e.ID, Reason: "round must be at least 1"}
	}
	if !e.CylinderSwap && e.Quantity <= 0 {
		return &EntryValidationError{Index: i, EntryID: e.ID, Reason: "quantity must be positive"}
	}
	return nil
}
