package process

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/retry"
)

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{
		Name:   "otbr-agent",
		Binary: "/usr/sbin/otbr-agent",
		Args:   []string{"-I", "wpan0"},
	})

	if m.Name() != "otbr-agent" {
		t.Errorf("Name() = %q, want %q", m.Name(), "otbr-agent")
	}
	if m.config.RestartDelay != 5*time.Second {
		t.Errorf("RestartDelay = %v, want %v", m.config.RestartDelay, 5*time.Second)
	}
	if m.config.MaxRestartDelay != 5*time.Minute {
		t.Errorf("MaxRestartDelay = %v, want %v", m.config.MaxRestartDelay, 5*time.Minute)
	}
	if m.config.StableThreshold != 2*time.Minute {
		t.Errorf("StableThreshold = %v, want %v", m.config.StableThreshold, 2*time.Minute)
	}
	if m.config.GracefulTimeout != 10*time.Second {
		t.Errorf("GracefulTimeout = %v, want %v", m.config.GracefulTimeout, 10*time.Second)
	}
	if m.config.HealthCheckInterval != 30*time.Second {
		t.Errorf("HealthCheckInterval = %v, want %v", m.config.HealthCheckInterval, 30*time.Second)
	}
	if m.config.Clock == nil {
		t.Error("Clock = nil, want wall clock")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("zigbee-hal", "/usr/bin/zigbee-hal-daemon", []string{"--port", "/dev/ttyACM0"})

	if cfg.Name != "zigbee-hal" || cfg.Binary != "/usr/bin/zigbee-hal-daemon" {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
	if len(cfg.Args) != 2 || cfg.Args[1] != "/dev/ttyACM0" {
		t.Errorf("Args = %v", cfg.Args)
	}
	if !cfg.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if cfg.MaxRestartAttempts != 10 {
		t.Errorf("MaxRestartAttempts = %d, want 10", cfg.MaxRestartAttempts)
	}
}

func TestManager_InitialState(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})

	if m.Status() != StatusStopped {
		t.Errorf("initial Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
	if m.PID() != 0 || m.RestartCount() != 0 || m.Uptime() != 0 || m.LastError() != nil {
		t.Errorf("initial state = pid %d, restarts %d, uptime %v, err %v",
			m.PID(), m.RestartCount(), m.Uptime(), m.LastError())
	}
	if m.Done() != nil {
		t.Error("Done() before Start() should be nil")
	}

	stats := m.Stats()
	if stats.Name != "test" || stats.Status != StatusStopped || stats.LastError != "" {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestManager_RestartDelay(t *testing.T) {
	t.Run("default doubles up to the cap", func(t *testing.T) {
		m := NewManager(Config{
			Name:            "test",
			Binary:          "/bin/true",
			RestartDelay:    time.Second,
			MaxRestartDelay: 30 * time.Second,
		})
		want := []time.Duration{
			time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
			16 * time.Second, 30 * time.Second, 30 * time.Second,
		}
		for i, w := range want {
			if got := m.restartDelay(i + 1); got != w {
				t.Errorf("restartDelay(%d) = %v, want %v", i+1, got, w)
			}
		}
	})

	t.Run("custom policy", func(t *testing.T) {
		m := NewManager(Config{
			Name:          "test",
			Binary:        "/bin/true",
			RestartPolicy: retry.Linear{Initial: time.Second, Increment: time.Second, Max: 3 * time.Second},
		})
		for attempt, w := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 5: 3 * time.Second} {
			if got := m.restartDelay(attempt); got != w {
				t.Errorf("restartDelay(%d) = %v, want %v", attempt, got, w)
			}
		}
	})

	t.Run("invalid policy falls back", func(t *testing.T) {
		m := NewManager(Config{
			Name:          "test",
			Binary:        "/bin/true",
			RestartDelay:  time.Second,
			RestartPolicy: retry.Fixed{},
		})
		if got := m.restartDelay(1); got != time.Second {
			t.Errorf("restartDelay(1) = %v, want %v", got, time.Second)
		}
	})
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"plain", context.DeadlineExceeded, true},
		{"fatal exit", &fatalExitError{code: 2, err: errors.New("exit status 2")}, false},
		{"wrapped fatal exit", wrapKilled(&fatalExitError{code: 2, err: errors.New("exit status 2")}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverable(tt.err); got != tt.want {
				t.Errorf("IsRecoverable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func wrapKilled(err error) error {
	return errors.Join(errors.New("killed"), err)
}

func TestManager_StopWhenNotRunning(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() on stopped daemon error = %v, want nil", err)
	}
}

func TestManager_StartAndStop(t *testing.T) {
	var mu sync.Mutex
	var started int
	var stopErr error
	stopped := false
	m := NewManager(Config{
		Name:            "test-sleep",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
		OnStart: func() {
			mu.Lock()
			started++
			mu.Unlock()
		},
		OnStop: func(err error) {
			mu.Lock()
			stopped, stopErr = true, err
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !m.IsRunning() || m.PID() == 0 {
		t.Errorf("after Start(): running=%v pid=%d", m.IsRunning(), m.PID())
	}
	if err := m.Start(ctx); err == nil {
		t.Error("second Start() expected error, got nil")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after Stop()")
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}

	mu.Lock()
	defer mu.Unlock()
	if started != 1 {
		t.Errorf("OnStart called %d times, want 1", started)
	}
	if !stopped || stopErr != nil {
		t.Errorf("OnStop called=%v err=%v, want called with nil", stopped, stopErr)
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{Name: "bad-binary", Binary: "/nonexistent/binary"})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() with invalid binary expected error, got nil")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	select {
	case <-m.Done():
	default:
		t.Error("Done() should be closed after a failed Start()")
	}
}

func TestManager_RestartsUntilLimit(t *testing.T) {
	var mu sync.Mutex
	var attempts []int
	m := NewManager(Config{
		Name:               "crashing",
		Binary:             "/bin/false",
		RestartOnFailure:   true,
		RestartPolicy:      retry.Fixed{Interval: 10 * time.Millisecond},
		MaxRestartAttempts: 2,
		OnRestart: func(attempt int, delay time.Duration) {
			mu.Lock()
			attempts = append(attempts, attempt)
			mu.Unlock()
			if delay != 10*time.Millisecond {
				t.Errorf("OnRestart delay = %v, want 10ms", delay)
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("supervision did not end after the restart limit")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("restart attempts = %v, want [1 2]", attempts)
	}
	if m.RestartCount() != 2 {
		t.Errorf("RestartCount() = %d, want 2", m.RestartCount())
	}
	if m.Status() != StatusFailed || m.LastError() == nil {
		t.Errorf("Status() = %q, LastError() = %v", m.Status(), m.LastError())
	}
}

func TestManager_FatalExitIsNotRestarted(t *testing.T) {
	restarted := false
	m := NewManager(Config{
		Name:             "bad-args",
		Binary:           "/bin/sh",
		Args:             []string{"-c", "exit 3"},
		RestartOnFailure: true,
		RestartPolicy:    retry.Fixed{Interval: 10 * time.Millisecond},
		FatalExitCodes:   []int{3},
		OnRestart:        func(int, time.Duration) { restarted = true },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("supervision did not end after a fatal exit")
	}

	if restarted {
		t.Error("daemon was restarted after a fatal exit status")
	}
	if IsRecoverable(m.LastError()) {
		t.Errorf("LastError() = %v, want a non-recoverable error", m.LastError())
	}
}

func TestManager_SetLogger(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})
	m.SetLogger(nil)
	if _, ok := m.logger.(noopLogger); !ok {
		t.Errorf("SetLogger(nil) left %T, want noopLogger", m.logger)
	}
}
