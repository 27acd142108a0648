package subsystems

import "errors"

var (
	// ErrDaemonRestarting means the supervisor is waiting to restart a
	// daemon that exited. The bring-up attempt is retried later.
	ErrDaemonRestarting = errors.New("subsystems: daemon restart pending")

	// ErrDaemonNotRunning means a managed daemon has no live process.
	ErrDaemonNotRunning = errors.New("subsystems: daemon not running")

	// ErrProbeFailed means the daemon's probe address refused a connection.
	ErrProbeFailed = errors.New("subsystems: readiness probe failed")

	// ErrInvalidSimulatedDevice means a simulator device in the config
	// cannot be built.
	ErrInvalidSimulatedDevice = errors.New("subsystems: invalid simulated device")

	// ErrFabricMismatch means restored fabric state belongs to another
	// fabric than the configured one.
	ErrFabricMismatch = errors.New("subsystems: restored fabric does not match config")
)
