package subsystem

import "context"

// ReadinessFunc is invoked with a subsystem's name when it becomes ready or
// stops being ready.
type ReadinessFunc func(name string)

// Snapshot is a subsystem's structured status. The registry adds a "ready"
// key when it builds the status document.
type Snapshot map[string]any

// Subsystem is one pluggable network technology (matter, thread, zigbee).
//
// Implementations are registered once at startup and live for the process
// lifetime. Lifecycle hooks are called without any registry lock held, so a
// hook may call back into the registry.
type Subsystem interface {
	// Name is the unique registry key. It also names the persisted version
	// property, so it must not change between releases.
	Name() string

	// Version is the subsystem's schema version. It must never decrease
	// within a deployment.
	Version() uint16

	// Migrate upgrades persisted state from oldVersion to newVersion. It is
	// called only when the persisted version is lower than Version().
	// Returning false aborts this subsystem's startup.
	Migrate(ctx context.Context, oldVersion, newVersion uint16) bool

	// Initialize starts bring-up and returns promptly. The subsystem calls
	// onReady once it is usable and onNotReady when it stops being usable.
	Initialize(ctx context.Context, onReady, onNotReady ReadinessFunc) bool

	// Shutdown stops the subsystem and releases its resources.
	Shutdown()

	// Status returns the subsystem's current structured status.
	Status() Snapshot
}

// ServicesAvailableNotifier is implemented by subsystems that want to know
// when every registered subsystem is ready.
type ServicesAvailableNotifier interface {
	OnAllServicesAvailable()
}

// ConfigRestorer is implemented by subsystems with on-disk state that must
// follow a configuration restore.
type ConfigRestorer interface {
	// OnRestoreConfig moves the subsystem's state from tempDir (an unpacked
	// backup) into destDir. Returning false fails the restore.
	OnRestoreConfig(tempDir, destDir string) bool

	// OnPostRestoreConfig runs after every subsystem has restored, so the
	// subsystem can reload what was copied.
	OnPostRestoreConfig()
}

// Dependent is implemented by subsystems that must be registered after
// others. Register panics if a dependency is not already registered.
type Dependent interface {
	DependsOn() []string
}

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
