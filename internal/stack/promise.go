package stack

import (
	"context"
	"sync"
)

// Promise is a single-assignment result shared between the goroutine that
// produces it and any number of waiters.
//
// Resolve succeeds exactly once; later calls are ignored and report false.
type Promise[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

// NewPromise creates an unresolved promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolve stores v and wakes all waiters. It returns false if the promise was
// already resolved.
func (p *Promise[T]) Resolve(v T) bool {
	resolved := false
	p.once.Do(func() {
		p.value = v
		close(p.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the promise has a value.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Resolved reports whether Resolve has been called.
func (p *Promise[T]) Resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the promise resolves or ctx ends.
//
// Returns:
//   - T: the resolved value (zero value on ctx expiry)
//   - error: ctx.Err() if the context ended first
func (p *Promise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
