package subsystems

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/matter"
	"github.com/nerrad567/gray-logic-gateway/internal/retry"
	"github.com/nerrad567/gray-logic-gateway/internal/stack"
	"github.com/nerrad567/gray-logic-gateway/internal/subsystem"
)

// MatterOptions configures the Matter subsystem.
type MatterOptions struct {
	Config    config.MatterConfig
	StateRoot string
	Runner    *retry.Runner
	// Executor is the stack thread every controller call runs on.
	Executor stack.Scheduler
	// Clock drives the simulator; nil uses the wall clock.
	Clock clock.Clock
	// DependsOn names subsystems that must be registered first, normally
	// thread when it is enabled.
	DependsOn []string
}

// Matter is the Matter controller subsystem. Bring-up starts the controller
// backend; the commissioning orchestrator uses Controller once the subsystem
// reports ready.
//
// Thread Safety: All methods are safe for concurrent use.
type Matter struct {
	cfg       config.MatterConfig
	stateDir  string
	dependsOn []string
	sim       *matter.Simulator
	params    matter.ReadParams
	loop      *subsystem.RetryLoop
	steps     map[uint16]migrationStep
	clock     clock.Clock

	mu        sync.Mutex
	logger    Logger
	fabric    FabricState
	hasFabric bool
	available bool
	restores  int
}

// NewMatter builds the controller backend named by the config.
//
// Returns:
//   - *Matter: the subsystem, not yet initialised
//   - error: ErrInvalidSimulatedDevice, or invalid subscription bounds
func NewMatter(opts MatterOptions) (*Matter, error) {
	cfg := opts.Config
	if cfg.Backend != config.MatterBackendSimulator {
		return nil, fmt.Errorf("matter backend %q is not supported", cfg.Backend)
	}
	params, err := matter.NewReadParams(cfg.Subscription.MinInterval, cfg.Subscription.MaxInterval, false)
	if err != nil {
		return nil, err
	}
	devices, err := BuildSimulatedDevices(cfg.Simulator.Devices)
	if err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	m := &Matter{
		cfg:       cfg,
		stateDir:  StateDir(opts.StateRoot, NameMatter),
		dependsOn: append([]string(nil), opts.DependsOn...),
		params:    params,
		clock:     clk,
		logger:    noopLogger{},
		sim: matter.NewSimulator(opts.Executor, matter.SimulatorConfig{
			VendorID:     cfg.VendorID,
			ProductID:    cfg.ProductID,
			BridgeNodeID: matter.NodeID(cfg.BridgeNodeID),
			Latency:      cfg.Simulator.Latency,
			Clock:        clk,
		}, devices...),
	}
	m.steps = map[uint16]migrationStep{
		1: func(context.Context) error { return ensureStateDir(m.stateDir) },
		2: m.createFabric,
	}

	policy := retry.FixedWithInitialDelay{Interval: cfg.RetryInterval}
	m.loop = subsystem.NewRetryLoop(NameMatter, opts.Runner, policy, m.attempt)
	m.loop.SetRelease(m.sim.Stop)
	return m, nil
}

// SetLogger sets the logger for the subsystem and its controller.
func (m *Matter) SetLogger(l Logger) {
	m.mu.Lock()
	m.logger = l
	m.mu.Unlock()
	m.sim.SetLogger(l)
	m.loop.SetLogger(l)
}

// Controller returns the Matter controller. Calls must go through the stack
// executor.
func (m *Matter) Controller() matter.Controller { return m.sim }

// Simulator returns the simulated backend.
func (m *Matter) Simulator() *matter.Simulator { return m.sim }

// ReadParams returns the validated read parameters for discovery and drivers.
func (m *Matter) ReadParams() matter.ReadParams { return m.params }

// Name implements subsystem.Subsystem.
func (m *Matter) Name() string { return NameMatter }

// Version implements subsystem.Subsystem.
func (m *Matter) Version() uint16 { return matterVersion }

// DependsOn implements subsystem.Dependent.
func (m *Matter) DependsOn() []string { return m.dependsOn }

// Migrate implements subsystem.Subsystem.
func (m *Matter) Migrate(ctx context.Context, oldVersion, newVersion uint16) bool {
	return runMigrations(ctx, m.log(), NameMatter, m.steps, oldVersion, newVersion)
}

// createFabric writes the fabric identity on first upgrade to version 2.
// Existing state is kept.
func (m *Matter) createFabric(context.Context) error {
	if _, ok, err := readFabric(m.stateDir); err != nil || ok {
		return err
	}
	return writeFabric(m.stateDir, FabricState{
		FabricID:  m.cfg.FabricID,
		VendorID:  m.cfg.VendorID,
		CreatedAt: m.clock.Now().UTC(),
	})
}

// Initialize implements subsystem.Subsystem.
func (m *Matter) Initialize(_ context.Context, onReady, onNotReady subsystem.ReadinessFunc) bool {
	m.mu.Lock()
	m.available = false
	m.mu.Unlock()
	return m.loop.Start(onReady, onNotReady)
}

func (m *Matter) attempt(context.Context) error {
	if err := m.loadFabric(); err != nil {
		return err
	}
	return m.sim.Start()
}

// loadFabric reads the persisted fabric identity. A fabric that differs
// from the config is logged and the persisted one wins.
func (m *Matter) loadFabric() error {
	st, ok, err := readFabric(m.stateDir)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.fabric, m.hasFabric = st, ok
	logger := m.logger
	m.mu.Unlock()

	if ok && st.FabricID != m.cfg.FabricID {
		logger.Warn("persisted fabric differs from config",
			"error", ErrFabricMismatch,
			"persisted", st.FabricID,
			"configured", m.cfg.FabricID,
		)
	}
	return nil
}

// Shutdown implements subsystem.Subsystem.
func (m *Matter) Shutdown() {
	m.loop.Stop()
}

// OnAllServicesAvailable implements subsystem.ServicesAvailableNotifier.
func (m *Matter) OnAllServicesAvailable() {
	m.mu.Lock()
	m.available = true
	logger := m.logger
	m.mu.Unlock()
	logger.Info("all subsystems available, commissioning fully operational")
}

// Status implements subsystem.Subsystem.
func (m *Matter) Status() subsystem.Snapshot {
	snap := subsystem.Snapshot{}
	for k, v := range m.sim.Status() {
		snap[k] = v
	}

	m.mu.Lock()
	fabricID := m.cfg.FabricID
	if m.hasFabric {
		fabricID = m.fabric.FabricID
	}
	snap["fabric_id"] = fabricID
	snap["all_services_available"] = m.available
	snap["restores"] = m.restores
	m.mu.Unlock()

	snap["vendor_id"] = m.cfg.VendorID
	snap["bridge_node_id"] = m.cfg.BridgeNodeID
	snap["attempts"] = m.loop.Attempts()
	if err := m.loop.LastError(); err != nil {
		snap["last_error"] = err.Error()
	}
	return snap
}

// OnRestoreConfig implements subsystem.ConfigRestorer.
func (m *Matter) OnRestoreConfig(tempDir, destDir string) bool {
	restored, err := restoreStateDir(tempDir, destDir, NameMatter)
	if err != nil {
		m.log().Error("restoring state failed", "subsystem", NameMatter, "error", err)
		return false
	}
	if restored {
		m.mu.Lock()
		m.restores++
		m.mu.Unlock()
	}
	return true
}

// OnPostRestoreConfig implements subsystem.ConfigRestorer. It re-reads the
// restored fabric identity.
func (m *Matter) OnPostRestoreConfig() {
	if err := m.loadFabric(); err != nil {
		m.log().Error("reloading fabric after restore failed", "error", err)
	}
}

func (m *Matter) log() Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logger
}
