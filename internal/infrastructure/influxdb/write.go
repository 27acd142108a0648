package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the gateway.
const (
	MeasurementCommissioning = "commissioning"
	MeasurementDiscovery     = "discovery"
	MeasurementSubsystem     = "subsystem_readiness"
	MeasurementDeviceState   = "device_state"
)

// WriteCommissioningAttempt records the outcome of one commissioning or
// pairing attempt.
//
// Parameters:
//   - kind: "commission" or "pair"
//   - status: final commissioning status name
//   - success: whether the device was onboarded
//   - duration: wall time of the attempt
func (c *Client) WriteCommissioningAttempt(kind, status string, success bool, duration time.Duration) {
	c.writePoint(commissioningPoint(kind, status, success, duration, time.Now()))
}

// WriteDiscovery records how a device discovery run ended.
func (c *Client) WriteDiscovery(nodeID uint64, endpoints int, success bool, duration time.Duration) {
	c.writePoint(discoveryPoint(nodeID, endpoints, success, duration, time.Now()))
}

// WriteSubsystemReadiness records a subsystem becoming ready or not ready.
func (c *Client) WriteSubsystemReadiness(name string, ready bool) {
	c.writePoint(subsystemPoint(name, ready, time.Now()))
}

// WriteDeviceState records numeric and boolean attributes from a driver
// refresh. Non-numeric values are skipped.
//
// Example:
//
//	client.WriteDeviceState("3f2c...", "light", map[string]any{"on_off": true, "level": 128})
func (c *Client) WriteDeviceState(deviceID, driver string, state map[string]any) {
	if p := deviceStatePoint(deviceID, driver, state, time.Now()); p != nil {
		c.writePoint(p)
	}
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func commissioningPoint(kind, status string, success bool, duration time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCommissioning,
		map[string]string{
			"kind":   kind,
			"status": status,
		},
		map[string]any{
			"success":     success,
			"duration_ms": duration.Milliseconds(),
		},
		ts,
	)
}

func discoveryPoint(nodeID uint64, endpoints int, success bool, duration time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDiscovery,
		map[string]string{
			"node_id": "0x" + strconv.FormatUint(nodeID, 16),
		},
		map[string]any{
			"success":     success,
			"endpoints":   endpoints,
			"duration_ms": duration.Milliseconds(),
		},
		ts,
	)
}

func subsystemPoint(name string, ready bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSubsystem,
		map[string]string{"subsystem": name},
		map[string]any{"ready": ready},
		ts,
	)
}

// deviceStatePoint returns nil when state has no numeric or boolean values.
func deviceStatePoint(deviceID, driver string, state map[string]any, ts time.Time) *write.Point {
	fields := make(map[string]any, len(state))
	for k, v := range state {
		switch n := v.(type) {
		case bool, float64, float32, int, int64, int32, int16, int8, uint, uint64, uint32, uint16, uint8:
			fields[k] = n
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(
		MeasurementDeviceState,
		map[string]string{"device_id": deviceID, "driver": driver},
		fields,
		ts,
	)
}
