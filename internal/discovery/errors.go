package discovery

import "errors"

var (
	// ErrClosed resolves a discovery that was closed before completing.
	ErrClosed = errors.New("discovery: closed")

	// ErrUnexpectedValue is returned when an attribute has the wrong type.
	ErrUnexpectedValue = errors.New("discovery: unexpected attribute value")

	// ErrInvalidMetadata is returned for undecodable metadata JSON.
	ErrInvalidMetadata = errors.New("discovery: invalid metadata")
)
