package sync2

import "errors"

// ErrTimeout and ErrCancelled are the two distinct outcomes an interruptible
// wait must be able to report (spec.md §5): a deadline elapsing is not the
// same condition as the caller being cancelled out from under it, and code
// waiting on a socket buffer or a listen queue needs to tell them apart.
var (
	ErrTimeout   = errors.New("sync2: wait timed out")
	ErrCancelled = errors.New("sync2: wait cancelled")
)
