package subsystem

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-gateway/internal/retry"
)

// AttemptFunc is one bring-up attempt. It must be idempotent: a failed
// attempt is simply run again later.
type AttemptFunc func(ctx context.Context) error

// RetryLoop runs a subsystem's bring-up in the background until it succeeds.
//
// Start schedules the first attempt and returns immediately. Overlapping
// fires are dropped through a busy flag. The first success reports onReady
// exactly once and cancels the task. Stop clears the initialised state,
// cancels the task and releases owned resources, then reports onNotReady. An
// attempt still in flight when Stop runs releases what it acquired itself.
//
// Thread Safety: All methods are safe for concurrent use.
type RetryLoop struct {
	name    string
	runner  *retry.Runner
	policy  retry.Policy
	attempt AttemptFunc
	logger  Logger

	busy atomic.Bool

	mu          sync.Mutex
	task        *retry.Task
	epoch       uint64
	initialized bool
	ready       bool
	release     func()
	onReady     ReadinessFunc
	onNotReady  ReadinessFunc
	lastErr     error
}

// NewRetryLoop creates a loop named after its subsystem.
func NewRetryLoop(name string, runner *retry.Runner, policy retry.Policy, attempt AttemptFunc) *RetryLoop {
	return &RetryLoop{
		name:    name,
		runner:  runner,
		policy:  policy,
		attempt: attempt,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the loop.
func (l *RetryLoop) SetLogger(logger Logger) {
	l.mu.Lock()
	l.logger = logger
	l.mu.Unlock()
}

// SetRelease sets the function Stop uses to release resources acquired by
// successful attempts.
func (l *RetryLoop) SetRelease(fn func()) {
	l.mu.Lock()
	l.release = fn
	l.mu.Unlock()
}

// Start schedules bring-up. It returns false if the loop is already running
// or the policy is invalid.
func (l *RetryLoop) Start(onReady, onNotReady ReadinessFunc) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized {
		return false
	}
	l.onReady = onReady
	l.onNotReady = onNotReady
	l.ready = false
	l.lastErr = nil

	task, err := l.runner.Schedule(l.name+"-init", l.policy, l.run)
	if err != nil {
		l.logger.Error("scheduling subsystem bring-up failed", "subsystem", l.name, "error", err)
		return false
	}
	l.task = task
	l.epoch++
	l.initialized = true
	return true
}

func (l *RetryLoop) run(ctx context.Context) retry.Result {
	if !l.busy.CompareAndSwap(false, true) {
		return retry.Again
	}
	defer l.busy.Store(false)

	l.mu.Lock()
	epoch := l.epoch
	l.mu.Unlock()

	err := l.attempt(ctx)

	l.mu.Lock()
	if !l.initialized || l.epoch != epoch {
		// Stopped while the attempt ran: Stop has already released, so
		// anything this attempt acquired is released here.
		release := l.release
		l.mu.Unlock()
		if err == nil && release != nil {
			release()
		}
		return retry.Done
	}
	if err != nil {
		l.lastErr = err
		logger := l.logger
		l.mu.Unlock()
		logger.Warn("subsystem bring-up attempt failed; will retry", "subsystem", l.name, "error", err)
		return retry.Again
	}
	if l.ready {
		l.mu.Unlock()
		return retry.Done
	}
	l.ready = true
	l.lastErr = nil
	onReady := l.onReady
	l.mu.Unlock()

	if onReady != nil {
		onReady(l.name)
	}
	return retry.Done
}

// Stop tears the loop down. It is a no-op if the loop is not running.
func (l *RetryLoop) Stop() {
	l.mu.Lock()
	if !l.initialized {
		l.mu.Unlock()
		return
	}
	l.initialized = false
	l.ready = false
	task := l.task
	l.task = nil
	release := l.release
	onNotReady := l.onNotReady
	l.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
	if release != nil {
		release()
	}
	if onNotReady != nil {
		onNotReady(l.name)
	}
}

// Ready reports whether bring-up has succeeded since the last Start.
func (l *RetryLoop) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// Running reports whether the loop has been started and not stopped.
func (l *RetryLoop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

// LastError returns the most recent attempt error, cleared on success.
func (l *RetryLoop) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Attempts returns how many attempts the current task has started.
func (l *RetryLoop) Attempts() int {
	l.mu.Lock()
	task := l.task
	l.mu.Unlock()
	if task == nil {
		return 0
	}
	return task.Attempts()
}
