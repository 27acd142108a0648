package retry

import (
	"fmt"
	"time"
)

// IntervalBounds is a validated floor/ceiling pair.
//
// A zero floor means "no floor" and accepts any ceiling. Otherwise the ceiling
// must be at least the floor.
type IntervalBounds struct {
	floor   time.Duration
	ceiling time.Duration
}

// NewIntervalBounds validates and returns a floor/ceiling pair.
//
// Returns:
//   - IntervalBounds: the validated pair
//   - error: ErrInvalidBounds if ceiling < floor with a non-zero floor
func NewIntervalBounds(floor, ceiling time.Duration) (IntervalBounds, error) {
	if floor < 0 || ceiling < 0 {
		return IntervalBounds{}, fmt.Errorf("%w: negative interval (floor=%v ceiling=%v)", ErrInvalidBounds, floor, ceiling)
	}
	if floor != 0 && ceiling < floor {
		return IntervalBounds{}, fmt.Errorf("%w: floor=%v ceiling=%v", ErrInvalidBounds, floor, ceiling)
	}
	return IntervalBounds{floor: floor, ceiling: ceiling}, nil
}

// Floor returns the lower bound.
func (b IntervalBounds) Floor() time.Duration { return b.floor }

// Ceiling returns the upper bound.
func (b IntervalBounds) Ceiling() time.Duration { return b.ceiling }

// Clamp limits d to the bounds. A zero ceiling is treated as unbounded.
func (b IntervalBounds) Clamp(d time.Duration) time.Duration {
	if d < b.floor {
		return b.floor
	}
	if b.ceiling > 0 && d > b.ceiling {
		return b.ceiling
	}
	return d
}
