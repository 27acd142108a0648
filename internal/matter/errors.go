package matter

import "errors"

var (
	// ErrUnsupportedAttribute is reported for an attribute the node does not
	// implement.
	ErrUnsupportedAttribute = errors.New("matter: unsupported attribute")

	// ErrUnknownNode is returned for a node id the controller has no record of.
	ErrUnknownNode = errors.New("matter: unknown node")

	// ErrNoMatchingDevice is reported when no commissionable device matches
	// the setup payload's discriminator.
	ErrNoMatchingDevice = errors.New("matter: no commissionable device matches the payload")

	// ErrPasscodeMismatch is reported when PASE fails because of a wrong passcode.
	ErrPasscodeMismatch = errors.New("matter: passcode rejected by device")

	// ErrCommissioningRejected is reported when the device aborts commissioning.
	ErrCommissioningRejected = errors.New("matter: device rejected commissioning")

	// ErrHandshakeFailed is reported when the operational (CASE) handshake fails.
	ErrHandshakeFailed = errors.New("matter: operational handshake failed")

	// ErrSessionClosed is returned when a released session is used.
	ErrSessionClosed = errors.New("matter: session closed")

	// ErrControllerStopped is returned after the controller has been shut down.
	ErrControllerStopped = errors.New("matter: controller stopped")

	// ErrInvalidRequest is returned for a malformed commission request.
	ErrInvalidRequest = errors.New("matter: invalid request")
)
