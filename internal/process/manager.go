package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-gateway/internal/retry"
)

// Status represents the current state of a supervised daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// outputBufferSize is the buffer size for capturing daemon stdout/stderr.
const outputBufferSize = 4096

// maxHealthFailures is how many consecutive failed health checks kill the daemon.
const maxHealthFailures = 3

// Config holds configuration for a supervised daemon.
type Config struct {
	// Name identifies the daemon in logs and stats (e.g. "otbr-agent").
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the daemon.
	// If empty, inherits from parent process.
	WorkDir string

	// RestartOnFailure enables automatic restart when the daemon exits unexpectedly.
	RestartOnFailure bool

	// RestartPolicy computes the wait before each restart. If nil, the delay
	// doubles from RestartDelay up to MaxRestartDelay.
	RestartPolicy retry.Policy

	// RestartDelay is the first restart delay of the default policy.
	RestartDelay time.Duration

	// MaxRestartDelay caps the default policy.
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last before the restart
	// counter resets.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// FatalExitCodes are exit statuses that mean a restart cannot help
	// (bad arguments, missing radio). The daemon is left failed.
	FatalExitCodes []int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheckFunc is called periodically to verify the daemon is healthy.
	// If nil, the daemon is considered healthy while running.
	HealthCheckFunc func(ctx context.Context) error

	// HealthCheckInterval is how often to run health checks.
	HealthCheckInterval time.Duration

	// OnStart is called each time the daemon starts.
	OnStart func()

	// OnStop is called when the daemon stops, with nil for a requested stop.
	OnStop func(err error)

	// OnRestart is called before each restart with the attempt number and
	// the delay about to be waited.
	OnRestart func(attempt int, delay time.Duration)

	// Clock drives restart delays, uptime and health checks. Defaults to the
	// wall clock.
	Clock clock.Clock
}

// DefaultConfig returns a Config that restarts the daemon with backoff.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:                name,
		Binary:              binary,
		Args:                args,
		RestartOnFailure:    true,
		RestartDelay:        5 * time.Second,
		MaxRestartDelay:     5 * time.Minute,
		StableThreshold:     2 * time.Minute,
		MaxRestartAttempts:  10,
		GracefulTimeout:     10 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// RecoverableError is implemented by exit errors that know whether a
// restart may help.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether err allows the daemon to be restarted.
// Errors that do not implement RecoverableError are treated as recoverable.
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// fatalExitError marks an exit status listed in Config.FatalExitCodes.
type fatalExitError struct {
	code int
	err  error
}

func (e *fatalExitError) Error() string {
	return fmt.Sprintf("fatal exit status %d: %v", e.code, e.err)
}

func (e *fatalExitError) Unwrap() error       { return e.err }
func (e *fatalExitError) IsRecoverable() bool { return false }

// Logger defines the logging interface for the daemon supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises one daemon process.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	config Config
	policy retry.Policy
	clock  clock.Clock
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	firstStart    time.Time
	startTime     time.Time
	stopTime      time.Time
	stopRequested bool

	done chan struct{}
}

// NewManager creates a supervisor for the configured daemon. Zero durations
// take the DefaultConfig values.
func NewManager(cfg Config) *Manager {
	defaults := DefaultConfig(cfg.Name, cfg.Binary, cfg.Args)
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = defaults.RestartDelay
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = defaults.MaxRestartDelay
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = defaults.StableThreshold
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaults.GracefulTimeout
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	policy := cfg.RestartPolicy
	if policy == nil || policy.Validate() != nil {
		policy = retry.Exponential{
			Initial:    cfg.RestartDelay,
			Multiplier: 2,
			Max:        cfg.MaxRestartDelay,
		}
	}

	return &Manager{
		config: cfg,
		policy: policy,
		clock:  cfg.Clock,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// Name returns the configured daemon name.
func (m *Manager) Name() string {
	return m.config.Name
}

// Start launches the daemon and begins supervising it.
//
// Parameters:
//   - ctx: Cancelling it kills the daemon and ends supervision
//
// Returns:
//   - error: If the daemon is already running or fails to launch
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restartCount = 0
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.launch(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.supervise(ctx)
	return nil
}

func (m *Manager) launch(ctx context.Context) error {
	m.logger.Info("starting daemon",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from validated subsystem config

	// Own process group so shutdown signals reach the daemon's children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	now := m.clock.Now()
	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = now
	if m.firstStart.IsZero() {
		m.firstStart = now
	}
	m.mu.Unlock()

	go m.captureOutput("stdout", stdout)
	go m.captureOutput("stderr", stderr)

	m.logger.Info("daemon started", "name", m.config.Name, "pid", cmd.Process.Pid)
	if m.config.OnStart != nil {
		m.config.OnStart()
	}
	return nil
}

func (m *Manager) captureOutput(stream string, r io.Reader) {
	buf := make([]byte, outputBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.logger.Debug("daemon output",
				"name", m.config.Name,
				"stream", stream,
				"output", string(buf[:n]),
			)
		}
		if err != nil {
			if err != io.EOF {
				m.logger.Debug("output stream closed", "name", m.config.Name, "stream", stream)
			}
			return
		}
	}
}

// wait blocks until the daemon exits or its health check fails
// maxHealthFailures times in a row, in which case the daemon is killed.
func (m *Manager) wait(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- m.classify(cmd.Wait())
	}()

	if m.config.HealthCheckFunc == nil {
		return <-exitCh
	}

	ticker := m.clock.Ticker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.config.HealthCheckFunc(checkCtx)
		cancel()

		if err == nil {
			if failures > 0 {
				m.logger.Info("health check recovered", "name", m.config.Name, "previous_failures", failures)
			}
			failures = 0
			continue
		}

		failures++
		m.logger.Warn("health check failed", "name", m.config.Name, "error", err, "consecutive_failures", failures)
		if failures < maxHealthFailures {
			continue
		}

		m.logger.Error("health check failed repeatedly, killing daemon", "name", m.config.Name, "failures", failures)
		if cmd.Process != nil {
			_ = cmd.Process.Kill() //nolint:errcheck // exit is observed on exitCh
		}
		select {
		case exitErr := <-exitCh:
			if exitErr != nil {
				return fmt.Errorf("killed after failed health checks: %w", exitErr)
			}
			return fmt.Errorf("killed after %d failed health checks", failures)
		case <-m.clock.After(5 * time.Second):
			return fmt.Errorf("daemon did not exit after kill")
		}
	}
}

// classify wraps exit statuses listed in FatalExitCodes.
func (m *Manager) classify(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && slices.Contains(m.config.FatalExitCodes, exitErr.ExitCode()) {
		return &fatalExitError{code: exitErr.ExitCode(), err: err}
	}
	return err
}

// supervise waits on the daemon and restarts it per the restart policy.
func (m *Manager) supervise(ctx context.Context) {
	defer close(m.done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		m.mu.RUnlock()
		if cmd == nil {
			return
		}

		err := m.wait(ctx, cmd)

		m.mu.Lock()
		stopRequested := m.stopRequested
		m.stopTime = m.clock.Now()
		ran := m.stopTime.Sub(m.startTime)
		if stopRequested {
			m.status = StatusStopped
		} else {
			m.status = StatusFailed
			m.lastError = err
			if ran >= m.config.StableThreshold {
				m.restartCount = 0
			}
		}
		m.mu.Unlock()

		if stopRequested {
			m.logger.Info("daemon stopped as requested", "name", m.config.Name)
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		m.logger.Warn("daemon exited unexpectedly", "name", m.config.Name, "error", err, "ran", ran)
		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}

		if !m.config.RestartOnFailure {
			m.logger.Info("restart disabled, leaving daemon stopped", "name", m.config.Name)
			return
		}
		if !IsRecoverable(err) {
			m.logger.Error("daemon exit is not recoverable, not restarting", "name", m.config.Name, "error", err)
			return
		}
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		attempt := m.restartCount + 1
		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.mu.Unlock()
			m.logger.Error("max restart attempts reached", "name", m.config.Name, "attempts", attempt-1)
			return
		}
		m.restartCount = attempt
		m.mu.Unlock()

		delay := m.restartDelay(attempt)
		m.logger.Info("restarting daemon", "name", m.config.Name, "attempt", attempt, "delay", delay)
		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt, delay)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("context cancelled, not restarting", "name", m.config.Name)
			return
		case <-m.clock.After(delay):
		}

		m.mu.RLock()
		stopRequested = m.stopRequested
		m.mu.RUnlock()
		if stopRequested {
			m.mu.Lock()
			m.status = StatusStopped
			m.mu.Unlock()
			return
		}

		if err := m.launch(ctx); err != nil {
			m.logger.Error("failed to restart daemon", "name", m.config.Name, "error", err)
			m.mu.Lock()
			m.lastError = err
			m.cmd = nil
			m.mu.Unlock()
			return
		}
	}
}

// restartDelay asks the restart policy for the wait before restart attempt n.
func (m *Manager) restartDelay(attempt int) time.Duration {
	m.mu.RLock()
	a := retry.Attempt{
		Count:      attempt,
		FirstStart: m.firstStart,
		LastStart:  m.startTime,
		LastFinish: m.stopTime,
		Now:        m.clock.Now(),
	}
	m.mu.RUnlock()
	return m.policy.NextDelay(a)
}

// Stop sends SIGTERM to the daemon's process group, waits GracefulTimeout
// and then sends SIGKILL. Stopping a daemon that is not running is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status != StatusRunning && m.status != StatusStarting {
		m.stopRequested = true
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil || done == nil {
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping daemon", "name", m.config.Name, "pid", pid)

	// Negative pid signals the whole group created via Setpgid.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
	}

	select {
	case <-done:
		m.logger.Info("daemon stopped gracefully", "name", m.config.Name)
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	m.logger.Info("daemon killed", "name", m.config.Name)
	return nil
}

// Done is closed when supervision ends: after Stop, after a non-restartable
// exit, or when the Start context is cancelled. It is nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Status returns the current status of the daemon.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the daemon is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the error that ended the last run.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of consecutive restarts since the last
// stable run.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Uptime returns how long the current run has lasted, or 0 if not running.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return m.clock.Since(m.startTime)
}

// PID returns the process ID, or 0 if never started.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats is a JSON snapshot of a supervised daemon.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the daemon.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
	}
	if m.status == StatusRunning {
		stats.Uptime = m.clock.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
