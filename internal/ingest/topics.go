package ingest

import (
	"fmt"
	"strings"
)

// Topic layout:
//
//	<namespace>/devices/<device_id>/data     device → bridge telemetry
//	<namespace>/devices/<device_id>/command  bridge → device commands
const (
	devicesLevel = "devices"
	dataLevel    = "data"
	commandLevel = "command"
)

// Topics builds and parses device topics under one namespace.
type Topics struct {
	Namespace string
}

// Data returns the telemetry topic for a device.
//
// Example: iot/devices/D1/data
func (t Topics) Data(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Namespace, devicesLevel, deviceID, dataLevel)
}

// Command returns the command topic for a device.
//
// Example: iot/devices/D1/command
func (t Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Namespace, devicesLevel, deviceID, commandLevel)
}

// AllData returns the wildcard subscription for every device's telemetry.
//
// Example: iot/devices/+/data
func (t Topics) AllData() string {
	return t.Data("+")
}

// ParseDataTopic extracts the device ID from a telemetry topic.
// The device level must be a single non-empty topic level.
func (t Topics) ParseDataTopic(topic string) (string, error) {
	prefix := t.Namespace + "/" + devicesLevel + "/"
	suffix := "/" + dataLevel

	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, suffix) {
		return "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}

	id := topic[len(prefix):]
	if len(id) < len(suffix) {
		return "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	id = id[:len(id)-len(suffix)]

	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	return id, nil
}
