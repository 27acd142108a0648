package subsystems

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/process"
	"github.com/nerrad567/gray-logic-gateway/internal/retry"
)

// defaultProbeTimeout bounds one readiness dial when the config leaves it unset.
const defaultProbeTimeout = 2 * time.Second

// DaemonHooks are optional callbacks fired by a supervised daemon.
type DaemonHooks struct {
	// OnRestart is called before each restart with the daemon name.
	OnRestart func(daemon string)
	// OnExit is called when the daemon exits without being asked to.
	OnExit func(err error)
}

// Daemon is the helper process a radio subsystem talks to (otbr-agent or the
// Zigbee HAL daemon) plus the TCP endpoint that proves it is serving.
//
// An unmanaged daemon is expected to run externally; only its probe address
// is checked.
type Daemon struct {
	name    string
	cfg     config.DaemonConfig
	probe   string
	timeout time.Duration
	hooks   DaemonHooks
	logger  Logger

	mu      sync.Mutex
	process *process.Manager
}

// NewDaemon creates a daemon handle. Nothing is started until Ensure.
func NewDaemon(name string, cfg config.DaemonConfig, probeAddress string, probeTimeout time.Duration) *Daemon {
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &Daemon{
		name:    name,
		cfg:     cfg,
		probe:   probeAddress,
		timeout: probeTimeout,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the daemon and its supervisor.
func (d *Daemon) SetLogger(l Logger) {
	d.mu.Lock()
	d.logger = l
	if d.process != nil {
		d.process.SetLogger(l)
	}
	d.mu.Unlock()
}

// SetHooks sets the daemon callbacks. Call before Ensure.
func (d *Daemon) SetHooks(h DaemonHooks) {
	d.mu.Lock()
	d.hooks = h
	d.mu.Unlock()
}

// Name returns the daemon name.
func (d *Daemon) Name() string { return d.name }

// Managed reports whether the gateway supervises the daemon process.
func (d *Daemon) Managed() bool { return d.cfg.Managed }

// Ensure makes sure a managed daemon is being supervised, starting it if it
// has never run or its supervision has ended. ctx bounds the daemon's
// lifetime, not this call.
//
// Returns:
//   - error: ErrDaemonRestarting while the supervisor waits to restart it,
//     or the launch error
func (d *Daemon) Ensure(ctx context.Context) error {
	if !d.cfg.Managed {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.process != nil {
		switch d.process.Status() {
		case process.StatusRunning, process.StatusStarting:
			return nil
		}
		select {
		case <-d.process.Done():
		default:
			return fmt.Errorf("%s: %w", d.name, ErrDaemonRestarting)
		}
	}

	d.process = process.NewManager(d.processConfig())
	d.process.SetLogger(d.logger)
	if err := d.process.Start(ctx); err != nil {
		return fmt.Errorf("starting %s: %w", d.name, err)
	}
	return nil
}

func (d *Daemon) processConfig() process.Config {
	hooks := d.hooks
	logger := d.logger
	cfg := process.Config{
		Name:               d.name,
		Binary:             d.cfg.Binary,
		Args:               d.cfg.Args,
		RestartOnFailure:   d.cfg.RestartOnFailure,
		RestartDelay:       d.cfg.RestartDelay,
		MaxRestartDelay:    d.cfg.MaxRestartDelay,
		MaxRestartAttempts: d.cfg.MaxRestartAttempts,
		// 2 is the conventional exit status for bad command-line usage.
		FatalExitCodes: []int{2},
		OnRestart: func(attempt int, delay time.Duration) {
			logger.Info("daemon restarting", "daemon", d.name, "attempt", attempt, "delay", delay)
			if hooks.OnRestart != nil {
				hooks.OnRestart(d.name)
			}
		},
		OnStop: func(err error) {
			if err == nil {
				return
			}
			logger.Warn("daemon exited", "daemon", d.name, "error", err)
			if hooks.OnExit != nil {
				hooks.OnExit(err)
			}
		},
	}
	if d.cfg.RestartDelay > 0 {
		cfg.RestartPolicy = retry.Exponential{
			Initial:    d.cfg.RestartDelay,
			Multiplier: 2,
			Max:        d.cfg.MaxRestartDelay,
		}
	}
	if d.probe != "" {
		cfg.HealthCheckFunc = d.Probe
	}
	return cfg
}

// Probe dials the daemon's probe address. A daemon without one is healthy
// while its process runs.
func (d *Daemon) Probe(ctx context.Context) error {
	if d.probe == "" {
		if d.cfg.Managed && !d.Running() {
			return fmt.Errorf("%s: %w", d.name, ErrDaemonNotRunning)
		}
		return nil
	}

	dialer := net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.probe)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", d.name, ErrProbeFailed, err)
	}
	_ = conn.Close() //nolint:errcheck // probe connection carries no data
	return nil
}

// Running reports whether a managed daemon process is up.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.process != nil && d.process.IsRunning()
}

// Stop stops a managed daemon. It is safe to call when nothing runs.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	p := d.process
	d.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Stop()
}

// DaemonStats is the daemon part of a subsystem's status.
type DaemonStats struct {
	Name         string        `json:"name"`
	Managed      bool          `json:"managed"`
	Status       string        `json:"status"`
	ProbeAddress string        `json:"probe_address,omitempty"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns the daemon's current statistics.
func (d *Daemon) Stats() DaemonStats {
	stats := DaemonStats{
		Name:         d.name,
		Managed:      d.cfg.Managed,
		ProbeAddress: d.probe,
	}

	d.mu.Lock()
	p := d.process
	d.mu.Unlock()

	switch {
	case !d.cfg.Managed:
		stats.Status = "external"
	case p == nil:
		stats.Status = string(process.StatusStopped)
	default:
		ps := p.Stats()
		stats.Status = string(ps.Status)
		stats.PID = ps.PID
		stats.Uptime = ps.Uptime
		stats.RestartCount = ps.RestartCount
		stats.LastError = ps.LastError
	}
	return stats
}
