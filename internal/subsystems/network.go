package subsystems

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/retry"
	"github.com/nerrad567/gray-logic-gateway/internal/subsystem"
)

// Subsystem names.
const (
	NameMatter = "matter"
	NameThread = "thread"
	NameZigbee = "zigbee"
)

// Schema versions. A version may only ever grow.
const (
	threadVersion uint16 = 1
	zigbeeVersion uint16 = 1
	matterVersion uint16 = 2
)

// Logger defines the logging interface used by this package.
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

// migrationStep upgrades persisted state to one version.
type migrationStep func(ctx context.Context) error

// runMigrations applies steps old+1 through new in order.
func runMigrations(ctx context.Context, logger Logger, name string, steps map[uint16]migrationStep, oldVersion, newVersion uint16) bool {
	for i := int(oldVersion) + 1; i <= int(newVersion); i++ {
		v := uint16(i) //nolint:gosec // bounded by newVersion
		step, ok := steps[v]
		if !ok {
			logger.Error("no migration step", "subsystem", name, "version", v)
			return false
		}
		if err := step(ctx); err != nil {
			logger.Error("migration step failed", "subsystem", name, "version", v, "error", err)
			return false
		}
		logger.Info("migration step applied", "subsystem", name, "version", v)
	}
	return true
}

// NetworkOptions configures a Thread or Zigbee subsystem.
type NetworkOptions struct {
	Config    config.NetworkConfig
	StateRoot string
	Runner    *retry.Runner
	// OnDaemonRestart is called each time the supervised daemon restarts.
	OnDaemonRestart func(daemon string)
}

// Network is the Thread or Zigbee subsystem. Bring-up starts the helper
// daemon when it is managed and then waits until its probe address accepts
// connections. If the daemon later exits, the subsystem reports not ready
// and bring-up starts over.
//
// Thread Safety: All methods are safe for concurrent use.
type Network struct {
	name     string
	version  uint16
	cfg      config.NetworkConfig
	stateDir string
	daemon   *Daemon
	loop     *subsystem.RetryLoop
	steps    map[uint16]migrationStep

	mu         sync.Mutex
	logger     Logger
	ctx        context.Context
	cancel     context.CancelFunc
	onReady    subsystem.ReadinessFunc
	onNotReady subsystem.ReadinessFunc
	stopping   bool
	restores   int
}

// NewThread creates the Thread subsystem, supervising otbr-agent.
func NewThread(opts NetworkOptions) *Network {
	return newNetwork(NameThread, threadVersion, "otbr-agent", opts)
}

// NewZigbee creates the Zigbee subsystem, supervising the HAL daemon.
func NewZigbee(opts NetworkOptions) *Network {
	return newNetwork(NameZigbee, zigbeeVersion, "zigbee-hal", opts)
}

func newNetwork(name string, version uint16, daemonName string, opts NetworkOptions) *Network {
	n := &Network{
		name:     name,
		version:  version,
		cfg:      opts.Config,
		stateDir: StateDir(opts.StateRoot, name),
		daemon:   NewDaemon(daemonName, opts.Config.Daemon, opts.Config.ProbeAddress, opts.Config.ProbeTimeout),
		logger:   noopLogger{},
	}
	n.steps = map[uint16]migrationStep{
		1: func(context.Context) error { return ensureStateDir(n.stateDir) },
	}
	n.daemon.SetHooks(DaemonHooks{
		OnRestart: opts.OnDaemonRestart,
		OnExit:    n.daemonExited,
	})

	policy := retry.FixedWithInitialDelay{Interval: opts.Config.RetryInterval}
	n.loop = subsystem.NewRetryLoop(name, opts.Runner, policy, n.attempt)
	return n
}

// SetLogger sets the logger for the subsystem and its daemon.
func (n *Network) SetLogger(l Logger) {
	n.mu.Lock()
	n.logger = l
	n.mu.Unlock()
	n.daemon.SetLogger(l)
	n.loop.SetLogger(l)
}

// Name implements subsystem.Subsystem.
func (n *Network) Name() string { return n.name }

// Version implements subsystem.Subsystem.
func (n *Network) Version() uint16 { return n.version }

// Migrate implements subsystem.Subsystem.
func (n *Network) Migrate(ctx context.Context, oldVersion, newVersion uint16) bool {
	return runMigrations(ctx, n.log(), n.name, n.steps, oldVersion, newVersion)
}

// Initialize implements subsystem.Subsystem. The daemon outlives ctx and is
// stopped by Shutdown.
func (n *Network) Initialize(ctx context.Context, onReady, onNotReady subsystem.ReadinessFunc) bool {
	n.mu.Lock()
	n.ctx, n.cancel = context.WithCancel(context.WithoutCancel(ctx))
	n.onReady = onReady
	n.onNotReady = onNotReady
	n.stopping = false
	n.mu.Unlock()

	return n.loop.Start(onReady, onNotReady)
}

func (n *Network) attempt(ctx context.Context) error {
	n.mu.Lock()
	daemonCtx := n.ctx
	n.mu.Unlock()

	if err := n.daemon.Ensure(daemonCtx); err != nil {
		return err
	}
	return n.daemon.Probe(ctx)
}

// daemonExited restarts bring-up after the daemon dies under a ready
// subsystem.
func (n *Network) daemonExited(err error) {
	n.mu.Lock()
	if n.stopping || !n.loop.Ready() {
		n.mu.Unlock()
		return
	}
	onReady, onNotReady := n.onReady, n.onNotReady
	logger := n.logger
	n.mu.Unlock()

	logger.Warn("daemon lost, subsystem not ready", "subsystem", n.name, "error", err)
	n.loop.Stop()
	n.loop.Start(onReady, onNotReady)
}

// Shutdown implements subsystem.Subsystem.
func (n *Network) Shutdown() {
	n.mu.Lock()
	n.stopping = true
	cancel := n.cancel
	logger := n.logger
	n.mu.Unlock()

	n.loop.Stop()
	if err := n.daemon.Stop(); err != nil {
		logger.Warn("stopping daemon failed", "subsystem", n.name, "error", err)
	}
	if cancel != nil {
		cancel()
	}
}

// Status implements subsystem.Subsystem.
func (n *Network) Status() subsystem.Snapshot {
	n.mu.Lock()
	restores := n.restores
	n.mu.Unlock()

	snap := subsystem.Snapshot{
		"enabled":   n.cfg.Enabled,
		"state_dir": n.stateDir,
		"attempts":  n.loop.Attempts(),
		"daemon":    n.daemon.Stats(),
		"restores":  restores,
	}
	if err := n.loop.LastError(); err != nil {
		snap["last_error"] = err.Error()
	}
	return snap
}

// OnRestoreConfig implements subsystem.ConfigRestorer.
func (n *Network) OnRestoreConfig(tempDir, destDir string) bool {
	restored, err := restoreStateDir(tempDir, destDir, n.name)
	if err != nil {
		n.log().Error("restoring state failed", "subsystem", n.name, "error", err)
		return false
	}
	if restored {
		n.mu.Lock()
		n.restores++
		n.mu.Unlock()
	}
	return true
}

// OnPostRestoreConfig implements subsystem.ConfigRestorer. A running
// subsystem restarts its daemon so it reads the restored state.
func (n *Network) OnPostRestoreConfig() {
	if !n.loop.Running() {
		return
	}

	n.mu.Lock()
	n.stopping = true
	onReady, onNotReady := n.onReady, n.onNotReady
	logger := n.logger
	n.mu.Unlock()

	logger.Info("reloading after config restore", "subsystem", n.name)
	n.loop.Stop()
	if err := n.daemon.Stop(); err != nil {
		logger.Warn("stopping daemon failed", "subsystem", n.name, "error", err)
	}

	n.mu.Lock()
	n.stopping = false
	n.mu.Unlock()
	n.loop.Start(onReady, onNotReady)
}

// Daemon returns the subsystem's helper daemon.
func (n *Network) Daemon() *Daemon { return n.daemon }

func (n *Network) log() Logger {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.logger
}
