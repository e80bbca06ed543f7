package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefixDevice is the root of every device-scoped system topic
// on the IoT platform broker.
const TopicPrefixDevice = "$oc/devices"

// RequestIDMarker separates a request topic from its correlation id.
const RequestIDMarker = "request_id="

// Topics provides builders for the device platform's MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.ShadowGetRequest("habitat-01", "req-1")
//	// Returns: "$oc/devices/habitat-01/sys/shadow/get/request_id=req-1"
type Topics struct{}

// =============================================================================
// Request Topics (published by the gateway)
// =============================================================================

// ShadowGetRequest returns the topic asking the platform for the device shadow.
//
// Example: $oc/devices/habitat-01/sys/shadow/get/request_id=req-1
func (Topics) ShadowGetRequest(deviceID, requestID string) string {
	return fmt.Sprintf("%s/%s/sys/shadow/get/%s%s", TopicPrefixDevice, deviceID, RequestIDMarker, requestID)
}

// CommandRequest returns the topic carrying a control command.
//
// Example: $oc/devices/habitat-01/sys/commands/request_id=req-2
func (Topics) CommandRequest(deviceID, requestID string) string {
	return fmt.Sprintf("%s/%s/sys/commands/%s%s", TopicPrefixDevice, deviceID, RequestIDMarker, requestID)
}

// =============================================================================
// Response and Report Topics (subscribed by the gateway)
// =============================================================================

// ShadowGetResponse returns the topic on which shadow queries are answered.
func (Topics) ShadowGetResponse(deviceID string) string {
	return fmt.Sprintf("%s/%s/sys/shadow/get/response", TopicPrefixDevice, deviceID)
}

// ShadowUpdateResponse returns the topic on which shadow updates are acknowledged.
func (Topics) ShadowUpdateResponse(deviceID string) string {
	return fmt.Sprintf("%s/%s/sys/shadow/update/response", TopicPrefixDevice, deviceID)
}

// PropertiesReport returns the topic the device reports properties on.
func (Topics) PropertiesReport(deviceID string) string {
	return fmt.Sprintf("%s/%s/sys/properties/report", TopicPrefixDevice, deviceID)
}

// MessagesUp returns the device-to-cloud message topic.
// The gateway both listens here and publishes control status reports here.
func (Topics) MessagesUp(deviceID string) string {
	return fmt.Sprintf("%s/%s/sys/messages/up", TopicPrefixDevice, deviceID)
}

// EventsUp returns the device event topic.
func (Topics) EventsUp(deviceID string) string {
	return fmt.Sprintf("%s/%s/sys/events/up", TopicPrefixDevice, deviceID)
}

// CommandResponse returns the topic on which the device answers commands.
func (Topics) CommandResponse(deviceID string) string {
	return fmt.Sprintf("%s/%s/sys/commands/response", TopicPrefixDevice, deviceID)
}

// =============================================================================
// Generic Data Topics
// =============================================================================

// GenericData returns the loosely-named data topics some broker
// configurations forward telemetry to.
func (Topics) GenericData(deviceID string) []string {
	return []string{
		fmt.Sprintf("devices/%s/data", deviceID),
		fmt.Sprintf("data/%s", deviceID),
		fmt.Sprintf("%s/data", deviceID),
		fmt.Sprintf("topic/%s/data", deviceID),
		fmt.Sprintf("iot/%s/data", deviceID),
	}
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllShadowGetRequests matches shadow queries for a device (used by the simulator).
//
// Pattern: $oc/devices/{id}/sys/shadow/get/+
func (Topics) AllShadowGetRequests(deviceID string) string {
	return fmt.Sprintf("%s/%s/sys/shadow/get/+", TopicPrefixDevice, deviceID)
}

// AllCommandRequests matches command requests for a device (used by the simulator).
//
// Pattern: $oc/devices/{id}/sys/commands/+
func (Topics) AllCommandRequests(deviceID string) string {
	return fmt.Sprintf("%s/%s/sys/commands/+", TopicPrefixDevice, deviceID)
}

// RequestID extracts the correlation id from a request topic.
// It returns "" when the topic carries none.
func RequestID(topic string) string {
	i := strings.LastIndex(topic, RequestIDMarker)
	if i < 0 {
		return ""
	}
	return topic[i+len(RequestIDMarker):]
}
