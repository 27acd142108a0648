package commissioning

import (
	"fmt"
)

// Status is the orchestrator's position in the commissioning flow.
type Status int

const (
	StatusPending Status = iota
	StatusInvalidSetupPayload
	StatusStarted
	StatusDeviceFound
	StatusDiscoveryPending
	StatusDiscoveryStarted
	StatusDiscoveryCompleted
	StatusDiscoveryFailed
	StatusInternalError
	StatusCommissionedSuccessfully
	StatusCommissioningFailed
	StatusCommissioningCompleteFailed
)

var statusNames = [...]string{
	StatusPending:                     "Pending",
	StatusInvalidSetupPayload:         "InvalidSetupPayload",
	StatusStarted:                     "Started",
	StatusDeviceFound:                 "DeviceFound",
	StatusDiscoveryPending:            "DiscoveryPending",
	StatusDiscoveryStarted:            "DiscoveryStarted",
	StatusDiscoveryCompleted:          "DiscoveryCompleted",
	StatusDiscoveryFailed:             "DiscoveryFailed",
	StatusInternalError:               "InternalError",
	StatusCommissionedSuccessfully:    "CommissionedSuccessfully",
	StatusCommissioningFailed:         "CommissioningFailed",
	StatusCommissioningCompleteFailed: "CommissioningCompleteFailed",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownStatus, text)
}

// Succeeded reports whether s is the successful terminal status.
func (s Status) Succeeded() bool {
	return s == StatusCommissionedSuccessfully
}

// Failed reports whether s ends an attempt unsuccessfully.
func (s Status) Failed() bool {
	switch s {
	case StatusInvalidSetupPayload, StatusInternalError, StatusDiscoveryFailed,
		StatusCommissioningFailed, StatusCommissioningCompleteFailed:
		return true
	default:
		return false
	}
}

// commissionDone is the set Commission waits for.
func commissionDone(s Status) bool {
	return s == StatusCommissionedSuccessfully || s == StatusCommissioningFailed || s == StatusInternalError
}
