package retry

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"
)

func TestFixed_NextDelay(t *testing.T) {
	p := Fixed{Interval: 3 * time.Second}
	for _, count := range []int{0, 1, 5, 100} {
		if got := p.NextDelay(Attempt{Count: count}); got != 3*time.Second {
			t.Errorf("NextDelay(count=%d) = %v, want 3s", count, got)
		}
	}
}

func TestFixedWithInitialDelay_NextDelay(t *testing.T) {
	p := FixedWithInitialDelay{Initial: 0, Interval: 5 * time.Second}

	if got := p.NextDelay(Attempt{Count: 0}); got != 0 {
		t.Errorf("first delay = %v, want 0", got)
	}
	if got := p.NextDelay(Attempt{Count: 1}); got != 5*time.Second {
		t.Errorf("second delay = %v, want 5s", got)
	}
}

func TestFixedRate_NextDelay(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := FixedRate{Interval: 10 * time.Second}

	tests := []struct {
		name string
		a    Attempt
		want time.Duration
	}{
		{"first run immediate", Attempt{Count: 0}, 0},
		{"fast run keeps slot", Attempt{Count: 1, FirstStart: start, Now: start.Add(2 * time.Second)}, 8 * time.Second},
		{"third slot", Attempt{Count: 2, FirstStart: start, Now: start.Add(11 * time.Second)}, 9 * time.Second},
		{"overrun runs immediately", Attempt{Count: 1, FirstStart: start, Now: start.Add(15 * time.Second)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.NextDelay(tt.a); got != tt.want {
				t.Errorf("NextDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRandomized_NextDelayWithinBounds(t *testing.T) {
	p := Randomized{
		Min:    100 * time.Millisecond,
		Max:    200 * time.Millisecond,
		Source: rand.New(rand.NewPCG(1, 2)), //nolint:gosec // deterministic test source
	}
	for i := 0; i < 1000; i++ {
		d := p.NextDelay(Attempt{Count: i})
		if d < p.Min || d > p.Max {
			t.Fatalf("NextDelay() = %v, outside [%v, %v]", d, p.Min, p.Max)
		}
	}
}

func TestRandomized_EqualBounds(t *testing.T) {
	p := Randomized{Min: time.Second, Max: time.Second}
	if got := p.NextDelay(Attempt{}); got != time.Second {
		t.Errorf("NextDelay() = %v, want 1s", got)
	}
}

func TestLinear_NextDelay(t *testing.T) {
	p := Linear{Initial: time.Second, Increment: 2 * time.Second, Max: 6 * time.Second}

	tests := []struct {
		count int
		want  time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 3 * time.Second},
		{3, 5 * time.Second},
		{4, 6 * time.Second},
		{50, 6 * time.Second},
	}
	for _, tt := range tests {
		if got := p.NextDelay(Attempt{Count: tt.count}); got != tt.want {
			t.Errorf("NextDelay(count=%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestExponential_NextDelay(t *testing.T) {
	p := Exponential{Initial: time.Second, Multiplier: 2, Max: 30 * time.Second}

	tests := []struct {
		count int
		want  time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{500, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := p.NextDelay(Attempt{Count: tt.count}); got != tt.want {
			t.Errorf("NextDelay(count=%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"fixed ok", Fixed{Interval: time.Second}, false},
		{"fixed zero", Fixed{}, true},
		{"initial negative", FixedWithInitialDelay{Initial: -1, Interval: time.Second}, true},
		{"rate zero", FixedRate{}, true},
		{"random inverted", Randomized{Min: 2 * time.Second, Max: time.Second}, true},
		{"linear max below initial", Linear{Initial: 2 * time.Second, Max: time.Second}, true},
		{"exponential multiplier", Exponential{Initial: time.Second, Multiplier: 0.5}, true},
		{"exponential ok", Exponential{Initial: time.Second, Multiplier: 1.5, Max: time.Minute}, false},
		{"instrumented delegates", Instrumented{Policy: Fixed{}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("Validate() error = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}
