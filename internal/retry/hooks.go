package retry

import "time"

// PreRunHook is implemented by policies that want to observe each run start.
type PreRunHook interface {
	BeforeRun(a Attempt)
}

// PostRunHook is implemented by policies that want to observe each run end.
type PostRunHook interface {
	AfterRun(a Attempt, result Result)
}

// Instrumented wraps a Policy with optional pre/post run callbacks.
// The callbacks run on the task goroutine and must not block.
type Instrumented struct {
	Policy Policy
	Before func(a Attempt)
	After  func(a Attempt, result Result)
}

// NextDelay implements Policy.
func (p Instrumented) NextDelay(a Attempt) time.Duration {
	return p.Policy.NextDelay(a)
}

// Validate implements Policy.
func (p Instrumented) Validate() error {
	return p.Policy.Validate()
}

// BeforeRun implements PreRunHook.
func (p Instrumented) BeforeRun(a Attempt) {
	if p.Before != nil {
		p.Before(a)
	}
}

// AfterRun implements PostRunHook.
func (p Instrumented) AfterRun(a Attempt, result Result) {
	if p.After != nil {
		p.After(a, result)
	}
}

// runsAhead reports whether the runner should arm the next fire before the
// task body runs.
func runsAhead(p Policy) bool {
	switch v := p.(type) {
	case FixedRate:
		return true
	case Instrumented:
		return runsAhead(v.Policy)
	default:
		return false
	}
}
