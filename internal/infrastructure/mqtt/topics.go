package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the gateway publishes.
const TopicPrefix = "graylogic/gateway"

// Topics provides builders for gateway MQTT topics.
// Using these helpers keeps topic naming consistent across packages.
//
//	topic := mqtt.Topics{}.SubsystemStatus("matter")
//	// Returns: "graylogic/gateway/subsystem/matter/status"
type Topics struct{}

// Availability carries online/offline presence, including the LWT.
//
// Example: graylogic/gateway/availability
func (Topics) Availability() string {
	return TopicPrefix + "/availability"
}

// Status carries the retained subsystem status document.
//
// Example: graylogic/gateway/status
func (Topics) Status() string {
	return TopicPrefix + "/status"
}

// SubsystemStatus carries one subsystem's readiness transitions.
//
// Example: graylogic/gateway/subsystem/zigbee/status
func (Topics) SubsystemStatus(name string) string {
	return fmt.Sprintf("%s/subsystem/%s/status", TopicPrefix, name)
}

// CommissioningProgress carries every commissioning state transition.
//
// Example: graylogic/gateway/commissioning/progress
func (Topics) CommissioningProgress() string {
	return TopicPrefix + "/commissioning/progress"
}

// DeviceAnnounce carries a newly onboarded device record.
//
// Example: graylogic/gateway/device/3f2c.../announce
func (Topics) DeviceAnnounce(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/announce", TopicPrefix, deviceID)
}

// DeviceState carries the attribute snapshot read by a driver refresh.
//
// Example: graylogic/gateway/device/3f2c.../state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefix, deviceID)
}

// DeviceRefresh is where clients ask the gateway to re-read a device.
//
// Example: graylogic/gateway/device/3f2c.../refresh
func (Topics) DeviceRefresh(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/refresh", TopicPrefix, deviceID)
}

// AllRefreshRequests matches every device refresh request.
//
// Pattern: graylogic/gateway/device/+/refresh
func (Topics) AllRefreshRequests() string {
	return TopicPrefix + "/device/+/refresh"
}

// DeviceIDFromTopic extracts the device id from any
// graylogic/gateway/device/{id}/{leaf} topic.
func (Topics) DeviceIDFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/device/")
	if !ok {
		return "", false
	}
	id, leaf, ok := strings.Cut(rest, "/")
	if !ok || id == "" || leaf == "" || strings.Contains(leaf, "/") {
		return "", false
	}
	return id, true
}

// AllDeviceAnnouncements matches every device announcement.
//
// Pattern: graylogic/gateway/device/+/announce
func (Topics) AllDeviceAnnouncements() string {
	return TopicPrefix + "/device/+/announce"
}

// AllSubsystemStatus matches every subsystem status topic.
//
// Pattern: graylogic/gateway/subsystem/+/status
func (Topics) AllSubsystemStatus() string {
	return TopicPrefix + "/subsystem/+/status"
}

// AllTopics matches everything the gateway publishes.
//
// Pattern: graylogic/gateway/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
