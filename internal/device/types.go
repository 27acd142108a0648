package device

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/matter"
)

// Device is a node the gateway has commissioned or paired.
// This matches the devices table in migrations/20260301_100100_devices.up.sql.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Protocol binding. (Protocol, NodeID) is unique.
	Protocol Protocol      `json:"protocol"`
	NodeID   matter.NodeID `json:"node_id"`
	Driver   string        `json:"driver"`

	// Identity read during discovery
	VendorName      string                `json:"vendor_name,omitempty"`
	ProductName     string                `json:"product_name,omitempty"`
	SerialNumber    string                `json:"serial_number,omitempty"`
	FirmwareVersion string                `json:"firmware_version,omitempty"`
	DeviceTypes     []matter.DeviceTypeID `json:"device_types"`

	// Metadata is the discovery endpoint map as JSON. Nil until discovery
	// has run for the node.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// Current state
	State          State      `json:"state"`
	StateUpdatedAt *time.Time `json:"state_updated_at,omitempty"`

	// Health monitoring
	HealthStatus   HealthStatus `json:"health_status"`
	HealthLastSeen *time.Time   `json:"health_last_seen,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasDeviceType reports whether the device exposes t on any endpoint.
func (d *Device) HasDeviceType(t matter.DeviceTypeID) bool {
	return slices.Contains(d.DeviceTypes, t)
}

// DeepCopy creates a complete independent copy of the Device.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original. The registry cache relies on this.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	cpy.State = deepCopyMap(d.State)
	cpy.DeviceTypes = slices.Clone(d.DeviceTypes)
	if d.Metadata != nil {
		cpy.Metadata = slices.Clone(d.Metadata)
	}

	// *time.Time fields are never mutated in place, sharing them is fine.
	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case State:
		return State(deepCopyMap(val))
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}

// State holds the attribute values a driver last read, keyed by a
// driver-chosen name such as "on", "level" or "endpoint_1.temperature".
type State map[string]any

// Protocol identifies the radio or network stack a device is reached over.
type Protocol string

// Protocol constants.
const (
	ProtocolMatter Protocol = "matter"
	ProtocolThread Protocol = "thread"
	ProtocolZigbee Protocol = "zigbee"
)

// AllProtocols returns all valid protocol values.
func AllProtocols() []Protocol {
	return []Protocol{ProtocolMatter, ProtocolThread, ProtocolZigbee}
}

// HealthStatus represents the device health state.
type HealthStatus string

// HealthStatus constants.
const (
	HealthStatusOnline   HealthStatus = "online"
	HealthStatusOffline  HealthStatus = "offline"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusUnknown  HealthStatus = "unknown"
)

// AllHealthStatuses returns all valid health status values.
func AllHealthStatuses() []HealthStatus {
	return []HealthStatus{
		HealthStatusOnline, HealthStatusOffline, HealthStatusDegraded, HealthStatusUnknown,
	}
}
