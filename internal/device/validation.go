package device

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxIDLength         = 128
	maxNameLength       = 100
	maxTypeLength       = 64
	maxSensorTypeLength = 64
	maxActionLength     = 64
	maxParamKeys        = 50
)

// ValidateDevice checks a device before it is created or updated.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if len(d.Type) > maxTypeLength {
		return fmt.Errorf("%w: type exceeds %d characters", ErrInvalidDevice, maxTypeLength)
	}
	return ValidateStatus(d.Status)
}

// ValidateID checks that an identifier can be embedded in an MQTT topic level.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidDevice)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidDevice, maxIDLength)
	}
	if strings.ContainsAny(id, "/+#") {
		return fmt.Errorf("%w: id must not contain '/', '+' or '#'", ErrInvalidDevice)
	}
	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateStatus checks if a status is valid.
func ValidateStatus(status Status) error {
	switch status {
	case StatusOnline, StatusOffline:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
}

// ValidateSensorType checks a telemetry field key before it becomes a reading type.
func ValidateSensorType(sensorType string) error {
	if sensorType == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSensorType)
	}
	if len(sensorType) > maxSensorTypeLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidSensorType, maxSensorTypeLength)
	}
	for _, r := range sensorType {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidSensorType)
		}
	}
	return nil
}

// ValidateCommand checks a command before it is stored.
func ValidateCommand(c *Command) error {
	if c == nil {
		return fmt.Errorf("%w: command is nil", ErrInvalidCommand)
	}
	if c.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidCommand)
	}
	action := strings.TrimSpace(c.Action)
	if action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidCommand)
	}
	if len(action) > maxActionLength {
		return fmt.Errorf("%w: action exceeds %d characters", ErrInvalidCommand, maxActionLength)
	}
	if len(c.Params) > maxParamKeys {
		return fmt.Errorf("%w: params exceeds %d keys", ErrInvalidCommand, maxParamKeys)
	}
	return nil
}

// ValidateCommandStatus checks that status is a known command status.
func ValidateCommandStatus(status CommandStatus) error {
	switch status {
	case CommandPending, CommandExecuted, CommandFailed:
		return nil
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidCommand, status)
	}
}

// GenerateID creates a new UUID for a device, reading or command.
func GenerateID() string {
	return uuid.New().String()
}
