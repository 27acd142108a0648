package device

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxStateKeys      = 100
	maxStringValueLen = 1024
	maxMetadataBytes  = 256 * 1024
)

// GenerateID creates a new device ID.
func GenerateID() string {
	return uuid.NewString()
}

// ValidateDevice checks a device before it is persisted. It fills in
// HealthStatus and State defaults rather than rejecting their zero values.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if !slices.Contains(AllProtocols(), d.Protocol) {
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, d.Protocol)
	}
	if d.NodeID == 0 {
		return ErrInvalidNode
	}
	if d.HealthStatus == "" {
		d.HealthStatus = HealthStatusUnknown
	} else if !slices.Contains(AllHealthStatuses(), d.HealthStatus) {
		return fmt.Errorf("%w: health status %q", ErrInvalidDevice, d.HealthStatus)
	}
	if d.State == nil {
		d.State = State{}
	}
	if err := ValidateState(d.State); err != nil {
		return err
	}
	return ValidateMetadata(d.Metadata)
}

// ValidateName checks a device name is present and not too long.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateState bounds the size of a state map.
func ValidateState(s State) error {
	if len(s) > maxStateKeys {
		return fmt.Errorf("%w: %d keys exceeds limit of %d", ErrInvalidState, len(s), maxStateKeys)
	}
	for k, v := range s {
		if k == "" {
			return fmt.Errorf("%w: empty key", ErrInvalidState)
		}
		if str, ok := v.(string); ok && len(str) > maxStringValueLen {
			return fmt.Errorf("%w: value for %q exceeds %d bytes", ErrInvalidState, k, maxStringValueLen)
		}
	}
	return nil
}

// ValidateMetadata accepts nil or a JSON object.
func ValidateMetadata(m json.RawMessage) error {
	if m == nil {
		return nil
	}
	if len(m) > maxMetadataBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidMetadata, len(m), maxMetadataBytes)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(m, &obj); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	return nil
}
