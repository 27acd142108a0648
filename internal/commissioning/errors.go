package commissioning

import "errors"

var (
	// ErrUnknownStatus is returned when decoding an unrecognised status name.
	ErrUnknownStatus = errors.New("commissioning: unknown status")

	// ErrMissingDependency is returned by NewOrchestrator when a required
	// collaborator is nil.
	ErrMissingDependency = errors.New("commissioning: missing dependency")

	// ErrInvalidNode is returned for a zero node id.
	ErrInvalidNode = errors.New("commissioning: invalid node id")

	// ErrInvalidTimeout is returned for a timeout of zero or less.
	ErrInvalidTimeout = errors.New("commissioning: invalid timeout")
)
