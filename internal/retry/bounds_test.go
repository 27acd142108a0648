package retry

import (
	"errors"
	"testing"
	"time"
)

func TestNewIntervalBounds(t *testing.T) {
	tests := []struct {
		name    string
		floor   time.Duration
		ceiling time.Duration
		wantErr bool
	}{
		{"ordered", time.Second, 10 * time.Second, false},
		{"equal", time.Second, time.Second, false},
		{"zero floor accepts anything", 0, time.Millisecond, false},
		{"zero floor zero ceiling", 0, 0, false},
		{"ceiling below floor", 10 * time.Second, time.Second, true},
		{"negative", -time.Second, time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewIntervalBounds(tt.floor, tt.ceiling)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewIntervalBounds() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidBounds) {
					t.Errorf("error = %v, want ErrInvalidBounds", err)
				}
				return
			}
			if b.Floor() != tt.floor || b.Ceiling() != tt.ceiling {
				t.Errorf("bounds = (%v, %v), want (%v, %v)", b.Floor(), b.Ceiling(), tt.floor, tt.ceiling)
			}
		})
	}
}

func TestIntervalBounds_Clamp(t *testing.T) {
	b, err := NewIntervalBounds(time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("NewIntervalBounds() error = %v", err)
	}
	if got := b.Clamp(0); got != time.Second {
		t.Errorf("Clamp(0) = %v, want 1s", got)
	}
	if got := b.Clamp(3 * time.Second); got != 3*time.Second {
		t.Errorf("Clamp(3s) = %v, want 3s", got)
	}
	if got := b.Clamp(time.Minute); got != 5*time.Second {
		t.Errorf("Clamp(1m) = %v, want 5s", got)
	}
}
