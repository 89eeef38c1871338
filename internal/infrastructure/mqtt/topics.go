package mqtt

import (
	"fmt"
	"strings"
)

// ServiceStatusTopic carries this service's retained online/offline status
// and its Last Will. It sits outside the device namespace so a device can
// never be named after it.
const ServiceStatusTopic = "meterlink/core/status"

// DefaultNamespace is the first topic level used by meter firmware.
const DefaultNamespace = "meter"

// Device topic channels (the last topic level).
const (
	ChannelData    = "data"
	ChannelStatus  = "status"
	ChannelControl = "control"
)

// Topics builds device topics under a namespace:
//
//	<namespace>/<device-id>/data     telemetry from the meter
//	<namespace>/<device-id>/status   metadata / presence from the meter
//	<namespace>/<device-id>/control  commands to the meter
//
// The zero value uses DefaultNamespace.
type Topics struct {
	Namespace string
}

func (t Topics) ns() string {
	if t.Namespace == "" {
		return DefaultNamespace
	}
	return t.Namespace
}

// DeviceData returns the telemetry topic for a device.
//
// Example: meter/7/data
func (t Topics) DeviceData(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", t.ns(), deviceID, ChannelData)
}

// DeviceStatus returns the status topic for a device.
func (t Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", t.ns(), deviceID, ChannelStatus)
}

// DeviceControl returns the command topic for a device.
//
// Example: meter/7/control
func (t Topics) DeviceControl(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", t.ns(), deviceID, ChannelControl)
}

// AllDeviceData matches telemetry from every device.
func (t Topics) AllDeviceData() string {
	return fmt.Sprintf("%s/+/%s", t.ns(), ChannelData)
}

// AllDeviceStatus matches status from every device.
func (t Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/+/%s", t.ns(), ChannelStatus)
}

// ParseDeviceTopic splits a concrete device topic into device id and channel.
// The device id is the second level; the topic is the authoritative routing key.
func (t Topics) ParseDeviceTopic(topic string) (deviceID, channel string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != t.ns() {
		return "", "", fmt.Errorf("%w: %q is not a %s/<device-id>/<channel> topic", ErrInvalidTopic, topic, t.ns())
	}
	if parts[1] == "" || strings.ContainsAny(parts[1], "+#") {
		return "", "", fmt.Errorf("%w: %q has no concrete device id", ErrInvalidTopic, topic)
	}
	return parts[1], parts[2], nil
}
