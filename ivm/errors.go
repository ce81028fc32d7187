package ivm

import (
	"errors"
)

// Sentinel errors shared across the engine. Callers distinguish them with
// errors.Is.
var (
	// ErrBelowSince reports an update at a time below a trace's compaction
	// floor. Accuracy below the floor is not guaranteed, so such updates
	// are rejected rather than silently folded in.
	ErrBelowSince = errors.New("update time below compaction floor")

	// ErrOutOfWindow reports a batch insert whose window is not contiguous
	// with the trace's current frontier.
	ErrOutOfWindow = errors.New("batch window not contiguous with trace frontier")

	// ErrSplit wraps a key/value split failure. The offending batch is
	// failed as a whole; the arrangement is left untouched.
	ErrSplit = errors.New("row key/value split failed")
)
