// Package retry computes "when to run next" for repeating work and runs it.
//
// A Policy is a pure function from run history (Attempt) to a delay. The
// package ships the variants the gateway uses: Fixed, FixedWithInitialDelay,
// FixedRate, Randomized, Linear and Exponential. Policies may also implement
// PreRunHook/PostRunHook for instrumentation; Instrumented adds those to any
// policy.
//
// Runner is the generic repeating-task runner. It owns the timers (via
// github.com/benbjohnson/clock so tests can use a mock clock) and drives a
// Func until it returns Done or the Task is cancelled:
//
//	runner := retry.NewRunner(clock.New())
//	task, err := runner.Schedule("matter-init", retry.FixedWithInitialDelay{Interval: 5 * time.Second},
//	    func(ctx context.Context) retry.Result {
//	        if err := bringUp(ctx); err != nil {
//	            return retry.Again
//	        }
//	        return retry.Done
//	    })
//	if err != nil {
//	    return err
//	}
//	defer task.Cancel()
//
// IntervalBounds validates floor/ceiling pairs such as Matter subscription
// min/max intervals.
package retry
