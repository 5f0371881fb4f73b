/*
resolve.go - Conflict policy between competing state snapshots

PURPOSE:
  Decides, on write, whether an incoming snapshot should supersede the
  currently stored one. History length is checked before timestamps:
  a snapshot with strictly more entries is more complete, and completeness
  is a stronger signal than wall-clock time because client clocks skew.

  Rejection is not an error. It makes writes idempotent under retry and
  replay: pushing the same snapshot twice is a no-op the second time.

KNOWN LIMITATION:
  Two clients that each add one differing entry concurrently to the same
  base produce branches of equal length; the later timestamp wins and the
  other branch is silently discarded. There is no per-entry merge.
*/
package ledger

// ShouldAccept reports whether incoming should replace current.
func ShouldAccept(incoming, current State) bool {
	if len(incoming.History) > len(current.History) {
		return true
	}
	if !incoming.LastUpdated.IsZero() && !current.LastUpdated.IsZero() &&
		incoming.LastUpdated.After(current.LastUpdated) {
		return true
	}
	return false
}
