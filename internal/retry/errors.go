package retry

import "errors"

// Sentinel errors for the retry package.
var (
	// ErrInvalidPolicy is returned by Policy.Validate for contradictory settings.
	ErrInvalidPolicy = errors.New("retry: invalid policy")

	// ErrInvalidBounds is returned when a ceiling is below a non-zero floor.
	ErrInvalidBounds = errors.New("retry: ceiling below floor")

	// ErrRunnerClosed is returned when scheduling on a closed Runner.
	ErrRunnerClosed = errors.New("retry: runner closed")
)
