package stack

import "errors"

var (
	// ErrStopped is returned when work is scheduled on a stopped executor.
	ErrStopped = errors.New("stack: executor stopped")

	// ErrQueueFull is returned when the work queue has no free slot.
	ErrQueueFull = errors.New("stack: work queue full")
)
