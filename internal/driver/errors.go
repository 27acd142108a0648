package driver

import "errors"

var (
	// ErrInvalidNode is returned by Attach for a zero node id.
	ErrInvalidNode = errors.New("driver: invalid node id")

	// ErrUnknownDriver is returned when a device names a driver the factory
	// does not have.
	ErrUnknownDriver = errors.New("driver: unknown driver")

	// ErrNoController is returned by Refresh when the factory was built
	// without a controller.
	ErrNoController = errors.New("driver: no controller")
)
