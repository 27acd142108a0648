package retry

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
)

// Result tells the Runner whether a task wants another run.
type Result int

const (
	// Again asks the Runner to schedule another run per the task's Policy.
	Again Result = iota

	// Done stops the task. No further runs are scheduled.
	Done
)

// String returns a lowercase name for logging.
func (r Result) String() string {
	if r == Done {
		return "done"
	}
	return "again"
}

// Func is the body of a repeating task. The context is cancelled when the
// task is cancelled or the Runner is closed.
type Func func(ctx context.Context) Result

// Logger defines the logging interface used by the Runner.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Runner schedules repeating tasks on timers owned by a clock.Clock.
//
// Thread Safety: All methods are safe for concurrent use.
type Runner struct {
	clock  clock.Clock
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[*Task]struct{}
	closed bool
}

// NewRunner creates a Runner. Pass clock.New() in production and
// clock.NewMock() in tests.
func NewRunner(clk clock.Clock) *Runner {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		clock:  clk,
		logger: noopLogger{},
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[*Task]struct{}),
	}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Clock returns the clock driving this runner.
func (r *Runner) Clock() clock.Clock {
	return r.clock
}

// Schedule validates the policy and arms the first run of fn.
//
// Parameters:
//   - name: task name used in logs
//   - p: policy deciding the delay before each run
//   - fn: task body
//
// Returns:
//   - *Task: handle used to cancel the task
//   - error: ErrRunnerClosed, or the policy's validation error
func (r *Runner) Schedule(name string, p Policy, fn Func) (*Task, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("scheduling %s: %w", name, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRunnerClosed
	}
	ctx, cancel := context.WithCancel(r.ctx)
	t := &Task{
		name:   name,
		runner: r,
		policy: p,
		fn:     fn,
		ahead:  runsAhead(p),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: r.logger,
	}
	r.tasks[t] = struct{}{}
	r.mu.Unlock()

	t.mu.Lock()
	t.armLocked()
	t.mu.Unlock()

	return t, nil
}

// Close cancels every task and rejects further scheduling.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	tasks := make([]*Task, 0, len(r.tasks))
	for t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	r.cancel()
}

// Len returns the number of live tasks.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *Runner) remove(t *Task) {
	r.mu.Lock()
	delete(r.tasks, t)
	r.mu.Unlock()
}

// Task is a handle to one scheduled repeating task.
type Task struct {
	name   string
	runner *Runner
	policy Policy
	fn     Func
	ahead  bool
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timer   *clock.Timer
	attempt Attempt
	stopped bool
	done    chan struct{}
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Cancel stops future runs. A run already in progress completes but its
// context is cancelled. Cancel is idempotent.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishLocked()
}

// Done is closed once the task has finished or been cancelled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Attempts returns how many runs have started.
func (t *Task) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt.Count
}

// armLocked schedules the next fire. Caller holds t.mu.
func (t *Task) armLocked() {
	if t.stopped {
		return
	}
	a := t.attempt
	a.Now = t.runner.clock.Now()
	d := t.policy.NextDelay(a)
	if d <= 0 {
		t.timer = nil
		go t.fire()
		return
	}
	t.timer = t.runner.clock.AfterFunc(d, t.fire)
}

func (t *Task) finishLocked() {
	if t.stopped {
		return
	}
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.cancel()
	close(t.done)
	t.runner.remove(t)
}

func (t *Task) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	now := t.runner.clock.Now()
	if t.attempt.Count == 0 {
		t.attempt.FirstStart = now
	}
	t.attempt.Count++
	t.attempt.LastStart = now
	a := t.attempt
	a.Now = now
	if t.ahead {
		t.armLocked()
	}
	t.mu.Unlock()

	if h, ok := t.policy.(PreRunHook); ok {
		h.BeforeRun(a)
	}

	res := t.run()

	if h, ok := t.policy.(PostRunHook); ok {
		h.AfterRun(a, res)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempt.LastFinish = t.runner.clock.Now()
	if res == Done {
		t.finishLocked()
		return
	}
	if !t.ahead {
		t.armLocked()
	}
}

// run invokes the task body, converting a panic into Again.
func (t *Task) run() (res Result) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("retry task panic recovered", "task", t.name, "panic", r)
			res = Again
		}
	}()
	return t.fn(t.ctx)
}
