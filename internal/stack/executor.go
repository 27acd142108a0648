package stack

import (
	"context"
	"fmt"
	"sync"
)

// defaultQueueSize bounds the number of closures waiting to run.
const defaultQueueSize = 256

// Scheduler accepts work for the stack goroutine.
type Scheduler interface {
	Schedule(fn func()) error
}

// Logger defines the logging interface used by the Executor.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// Executor is the protocol stack thread: one goroutine that drains a FIFO of
// closures. Every interaction with the controller and its sessions is
// scheduled here so protocol objects are never touched concurrently.
//
// Work must return quickly. Blocking inside a closure stalls every other
// protocol operation.
//
// Thread Safety: Schedule, Start and Stop are safe for concurrent use.
type Executor struct {
	queue  chan func()
	logger Logger

	mu      sync.RWMutex
	started bool
	stopped bool

	quit chan struct{}
	done chan struct{}
}

// NewExecutor creates an executor with the given queue size.
// A size of zero or less uses the default.
func NewExecutor(queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Executor{
		queue:  make(chan func(), queueSize),
		logger: noopLogger{},
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the executor.
func (e *Executor) SetLogger(logger Logger) {
	e.logger = logger
}

// Start launches the stack goroutine. It returns when ctx is cancelled or
// Stop is called; calling Start twice is a no-op.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	go e.loop(ctx)
}

// Schedule queues fn to run on the stack goroutine.
//
// Returns:
//   - error: ErrStopped after Stop, ErrQueueFull if the queue is saturated
func (e *Executor) Schedule(fn func()) error {
	if fn == nil {
		return fmt.Errorf("stack: nil work")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return ErrStopped
	}

	select {
	case e.queue <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Call schedules fn and waits for it to finish, or for ctx to expire.
// It must not be called from the stack goroutine itself.
func (e *Executor) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := e.Schedule(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new work, lets queued work drain, then waits for the stack
// goroutine to exit.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		started := e.started
		e.mu.Unlock()
		if started {
			<-e.done
		}
		return
	}
	e.stopped = true
	started := e.started
	close(e.quit)
	e.mu.Unlock()

	if !started {
		close(e.done)
		return
	}
	<-e.done
}

func (e *Executor) loop(ctx context.Context) {
	defer close(e.done)
	e.logger.Debug("stack executor started")

	for {
		select {
		case fn := <-e.queue:
			e.run(fn)
		case <-ctx.Done():
			e.mu.Lock()
			e.stopped = true
			e.mu.Unlock()
			e.drain()
			return
		case <-e.quit:
			e.drain()
			return
		}
	}
}

// drain runs whatever is already queued. Releases scheduled during shutdown
// still execute on this goroutine.
func (e *Executor) drain() {
	for {
		select {
		case fn := <-e.queue:
			e.run(fn)
		default:
			e.logger.Debug("stack executor stopped")
			return
		}
	}
}

func (e *Executor) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("stack work panic recovered", "panic", r)
		}
	}()
	fn()
}
