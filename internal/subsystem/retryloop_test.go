package subsystem

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-gateway/internal/retry"
)

var errNotYet = errors.New("daemon not reachable")

// waitFor steps the mock clock until ch yields.
func waitFor(t *testing.T, mock *clock.Mock, ch <-chan string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-ch:
			return v
		case <-deadline:
			t.Fatal("timed out waiting for readiness callback")
			return ""
		case <-time.After(5 * time.Millisecond):
			mock.Add(time.Second)
		}
	}
}

func TestRetryLoop_ReadyAfterFailures(t *testing.T) {
	mock := clock.NewMock()
	runner := retry.NewRunner(mock)
	defer runner.Close()

	var calls atomic.Int32
	loop := NewRetryLoop("thread", runner, retry.FixedWithInitialDelay{Interval: time.Second},
		func(context.Context) error {
			if calls.Add(1) < 3 {
				return errNotYet
			}
			return nil
		})

	readyCh := make(chan string, 4)
	if !loop.Start(func(name string) { readyCh <- name }, func(string) {}) {
		t.Fatal("Start() = false")
	}
	if loop.Start(nil, nil) {
		t.Error("second Start() should be rejected while running")
	}

	if got := waitFor(t, mock, readyCh); got != "thread" {
		t.Errorf("onReady name = %q, want thread", got)
	}
	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want 3", calls.Load())
	}
	if !loop.Ready() || loop.LastError() != nil {
		t.Errorf("Ready() = %v, LastError() = %v", loop.Ready(), loop.LastError())
	}

	// No further attempts after success.
	mock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 3 {
		t.Errorf("attempts after success = %d, want 3", calls.Load())
	}
	select {
	case <-readyCh:
		t.Error("onReady reported twice")
	default:
	}
}

func TestRetryLoop_RecordsLastError(t *testing.T) {
	mock := clock.NewMock()
	runner := retry.NewRunner(mock)
	defer runner.Close()

	attempted := make(chan string, 16)
	loop := NewRetryLoop("zigbee", runner, retry.FixedWithInitialDelay{Interval: time.Second},
		func(context.Context) error {
			attempted <- "zigbee"
			return errNotYet
		})

	loop.Start(func(string) {}, func(string) {})
	waitFor(t, mock, attempted)

	deadline := time.Now().Add(time.Second)
	for loop.LastError() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !errors.Is(loop.LastError(), errNotYet) {
		t.Errorf("LastError() = %v, want errNotYet", loop.LastError())
	}
	if loop.Ready() {
		t.Error("Ready() = true after failures only")
	}
	loop.Stop()
}

func TestRetryLoop_StopReleasesThenReportsNotReady(t *testing.T) {
	mock := clock.NewMock()
	runner := retry.NewRunner(mock)
	defer runner.Close()

	loop := NewRetryLoop("thread", runner, retry.FixedWithInitialDelay{Interval: time.Second},
		func(context.Context) error { return nil })

	var mu sync.Mutex
	var events []string
	record := func(ev string) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	loop.SetRelease(func() { record("release") })

	readyCh := make(chan string, 1)
	loop.Start(func(name string) { readyCh <- name }, func(string) { record("not-ready") })
	waitFor(t, mock, readyCh)

	loop.Stop()
	loop.Stop() // idempotent

	if loop.Running() || loop.Ready() {
		t.Error("loop still running after Stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != "release" || events[1] != "not-ready" {
		t.Errorf("events = %v, want [release not-ready]", events)
	}
}

func TestRetryLoop_StopBeforeSuccess(t *testing.T) {
	mock := clock.NewMock()
	runner := retry.NewRunner(mock)
	defer runner.Close()

	loop := NewRetryLoop("zigbee", runner, retry.Fixed{Interval: time.Minute},
		func(context.Context) error { return nil })

	var readyCalls atomic.Int32
	loop.Start(func(string) { readyCalls.Add(1) }, func(string) {})
	loop.Stop()

	mock.Add(2 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	if readyCalls.Load() != 0 {
		t.Error("onReady fired after Stop")
	}
	if loop.Attempts() != 0 {
		t.Errorf("Attempts() = %d after Stop, want 0", loop.Attempts())
	}

	// The loop can be started again.
	readyCh := make(chan string, 1)
	if !loop.Start(func(name string) { readyCh <- name }, func(string) {}) {
		t.Fatal("restart Start() = false")
	}
	mock.Add(time.Minute)
	select {
	case <-readyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("restarted loop never became ready")
	}
}

func TestRetryLoop_InvalidPolicy(t *testing.T) {
	runner := retry.NewRunner(clock.NewMock())
	defer runner.Close()

	loop := NewRetryLoop("matter", runner, retry.Fixed{}, func(context.Context) error { return nil })
	if loop.Start(nil, nil) {
		t.Error("Start() with invalid policy = true")
	}
	if loop.Running() {
		t.Error("Running() = true after failed Start")
	}
}

func TestRetryLoop_OverlappingFiresAreDropped(t *testing.T) {
	mock := clock.NewMock()
	runner := retry.NewRunner(mock)
	defer runner.Close()

	entered := make(chan struct{}, 1)
	unblock := make(chan struct{})
	var calls, inFlight, maxInFlight atomic.Int32
	loop := NewRetryLoop("matter", runner, retry.FixedRate{Interval: time.Second},
		func(context.Context) error {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			if calls.Add(1) == 1 {
				entered <- struct{}{}
				<-unblock
				return errNotYet
			}
			return nil
		})

	var readyCalls atomic.Int32
	readyCh := make(chan string, 4)
	loop.Start(func(name string) {
		readyCalls.Add(1)
		readyCh <- name
	}, func(string) {})

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first attempt never started")
	}

	// Fires keep arriving while the first attempt is blocked.
	for range 5 {
		mock.Add(time.Second)
		time.Sleep(5 * time.Millisecond)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("attempt bodies run = %d while the first was in flight, want 1", got)
	}
	if got := loop.Attempts(); got < 2 {
		t.Errorf("Attempts() = %d, want fires during the slow attempt", got)
	}

	close(unblock)
	waitFor(t, mock, readyCh)

	mock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := readyCalls.Load(); got != 1 {
		t.Errorf("onReady calls = %d, want 1", got)
	}
	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("concurrent attempts = %d, want 1", got)
	}
}

func TestRetryLoop_StopDuringAttemptReleasesLateAcquire(t *testing.T) {
	mock := clock.NewMock()
	runner := retry.NewRunner(mock)
	defer runner.Close()

	var held atomic.Int32
	entered := make(chan struct{}, 1)
	unblock := make(chan struct{})
	finished := make(chan struct{})
	loop := NewRetryLoop("matter", runner, retry.FixedWithInitialDelay{Interval: time.Second},
		func(context.Context) error {
			defer close(finished)
			entered <- struct{}{}
			<-unblock
			held.Add(1)
			return nil
		})
	loop.SetRelease(func() {
		if held.Load() > 0 {
			held.Add(-1)
		}
	})

	var readyCalls atomic.Int32
	loop.Start(func(string) { readyCalls.Add(1) }, func(string) {})
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("attempt never started")
	}

	loop.Stop()
	close(unblock)
	<-finished

	deadline := time.Now().Add(time.Second)
	for held.Load() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := held.Load(); got != 0 {
		t.Errorf("resources held after Stop = %d, want 0", got)
	}
	if loop.Running() || loop.Ready() || readyCalls.Load() != 0 {
		t.Errorf("Running() = %v, Ready() = %v, onReady calls = %d after Stop",
			loop.Running(), loop.Ready(), readyCalls.Load())
	}
}
