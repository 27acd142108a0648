package retry

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Attempt describes the run history a Policy uses to compute the next delay.
//
// Count is the number of runs that have already started. A Count of zero asks
// for the delay before the very first run.
type Attempt struct {
	Count      int
	FirstStart time.Time
	LastStart  time.Time
	LastFinish time.Time
	Now        time.Time
}

// Policy computes when a repeating task should run next.
//
// Implementations are pure: they return a duration and have no side effects.
// The Runner owns the timer.
type Policy interface {
	NextDelay(a Attempt) time.Duration
	Validate() error
}

// Fixed runs at a constant interval measured from the end of the previous run.
// The first run is also delayed by Interval.
type Fixed struct {
	Interval time.Duration
}

// NextDelay implements Policy.
func (p Fixed) NextDelay(Attempt) time.Duration {
	return p.Interval
}

// Validate implements Policy.
func (p Fixed) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("%w: fixed interval must be positive", ErrInvalidPolicy)
	}
	return nil
}

// FixedWithInitialDelay is Fixed with a distinct delay before the first run.
// An Initial of zero runs the first attempt immediately.
type FixedWithInitialDelay struct {
	Initial  time.Duration
	Interval time.Duration
}

// NextDelay implements Policy.
func (p FixedWithInitialDelay) NextDelay(a Attempt) time.Duration {
	if a.Count == 0 {
		return p.Initial
	}
	return p.Interval
}

// Validate implements Policy.
func (p FixedWithInitialDelay) Validate() error {
	if p.Initial < 0 {
		return fmt.Errorf("%w: initial delay cannot be negative", ErrInvalidPolicy)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidPolicy)
	}
	return nil
}

// FixedRate schedules runs relative to the first start rather than to the end
// of the previous run, so a slow run does not push the whole schedule back.
// If a run overruns one or more slots the next run starts immediately.
//
// The Runner arms the next fire before invoking the task for this policy,
// which means runs may overlap. Tasks must guard against that themselves.
type FixedRate struct {
	Interval time.Duration
}

// NextDelay implements Policy.
func (p FixedRate) NextDelay(a Attempt) time.Duration {
	if a.Count == 0 || a.FirstStart.IsZero() {
		return 0
	}
	next := a.FirstStart.Add(time.Duration(a.Count) * p.Interval)
	if d := next.Sub(a.Now); d > 0 {
		return d
	}
	return 0
}

// Validate implements Policy.
func (p FixedRate) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("%w: rate interval must be positive", ErrInvalidPolicy)
	}
	return nil
}

// Randomized picks a uniformly random delay in [Min, Max] for every run.
type Randomized struct {
	Min time.Duration
	Max time.Duration

	// Source is optional; tests inject a seeded generator.
	Source *rand.Rand
}

// NextDelay implements Policy.
func (p Randomized) NextDelay(Attempt) time.Duration {
	span := int64(p.Max - p.Min)
	if span <= 0 {
		return p.Min
	}
	var n int64
	if p.Source != nil {
		n = p.Source.Int64N(span + 1)
	} else {
		n = rand.Int64N(span + 1) //nolint:gosec // jitter, not security sensitive
	}
	return p.Min + time.Duration(n)
}

// Validate implements Policy.
func (p Randomized) Validate() error {
	if p.Min < 0 {
		return fmt.Errorf("%w: randomized min cannot be negative", ErrInvalidPolicy)
	}
	if p.Max < p.Min {
		return fmt.Errorf("%w: randomized max %v is below min %v", ErrInvalidPolicy, p.Max, p.Min)
	}
	return nil
}

// Linear grows the delay by Increment after each run until it reaches Max.
type Linear struct {
	Initial   time.Duration
	Increment time.Duration
	Max       time.Duration
}

// NextDelay implements Policy.
func (p Linear) NextDelay(a Attempt) time.Duration {
	steps := a.Count - 1
	if steps < 0 {
		steps = 0
	}
	d := p.Initial + time.Duration(steps)*p.Increment
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Validate implements Policy.
func (p Linear) Validate() error {
	if p.Initial < 0 || p.Increment < 0 {
		return fmt.Errorf("%w: linear delays cannot be negative", ErrInvalidPolicy)
	}
	if p.Max > 0 && p.Max < p.Initial {
		return fmt.Errorf("%w: linear max %v is below initial %v", ErrInvalidPolicy, p.Max, p.Initial)
	}
	return nil
}

// Exponential multiplies the delay by Multiplier after each run:
// Initial * Multiplier^(n-1), capped at Max.
type Exponential struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// NextDelay implements Policy.
func (p Exponential) NextDelay(a Attempt) time.Duration {
	steps := a.Count - 1
	if steps < 0 {
		steps = 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Initial) * math.Pow(mult, float64(steps))
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Validate implements Policy.
func (p Exponential) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("%w: exponential initial delay must be positive", ErrInvalidPolicy)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("%w: exponential multiplier must be at least 1", ErrInvalidPolicy)
	}
	if p.Max > 0 && p.Max < p.Initial {
		return fmt.Errorf("%w: exponential max %v is below initial %v", ErrInvalidPolicy, p.Max, p.Initial)
	}
	return nil
}
