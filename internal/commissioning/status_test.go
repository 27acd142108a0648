package commissioning

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestStatus_TextRoundTrip(t *testing.T) {
	for s := StatusPending; s <= StatusCommissioningCompleteFailed; s++ {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("%d.MarshalText() error = %v", int(s), err)
		}
		if string(text) != s.String() {
			t.Errorf("MarshalText() = %q, String() = %q", text, s.String())
		}
		var back Status
		if err := back.UnmarshalText(text); err != nil || back != s {
			t.Errorf("UnmarshalText(%q) = %v, %v; want %v", text, back, err, s)
		}
	}
}

func TestStatus_JSON(t *testing.T) {
	data, err := json.Marshal(Progress{Status: StatusDiscoveryFailed})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var p struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Status != "DiscoveryFailed" {
		t.Errorf("status = %q, want DiscoveryFailed", p.Status)
	}
}

func TestStatus_Unknown(t *testing.T) {
	if got := Status(99).String(); got != "Status(99)" {
		t.Errorf("String() = %q", got)
	}
	if _, err := Status(-1).MarshalText(); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("MarshalText() error = %v, want ErrUnknownStatus", err)
	}
	var s Status
	if err := s.UnmarshalText([]byte("Done")); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("UnmarshalText() error = %v, want ErrUnknownStatus", err)
	}
}

func TestStatus_Outcome(t *testing.T) {
	tests := []struct {
		status    Status
		succeeded bool
		failed    bool
	}{
		{StatusPending, false, false},
		{StatusDiscoveryStarted, false, false},
		{StatusCommissionedSuccessfully, true, false},
		{StatusInvalidSetupPayload, false, true},
		{StatusInternalError, false, true},
		{StatusDiscoveryFailed, false, true},
		{StatusCommissioningFailed, false, true},
		{StatusCommissioningCompleteFailed, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.Succeeded(); got != tt.succeeded {
				t.Errorf("Succeeded() = %v, want %v", got, tt.succeeded)
			}
			if got := tt.status.Failed(); got != tt.failed {
				t.Errorf("Failed() = %v, want %v", got, tt.failed)
			}
		})
	}
}
