package timerq

import "errors"

// ErrQueueFull is returned by WorkQueue.Schedule when the ring is at
// capacity (spec.md §4.11: "bounded ring").
var ErrQueueFull = errors.New("timerq: work queue is full")
