package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device with an ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("device: invalid status")

	// ErrInvalidSensorType is returned when a reading's type key is unusable.
	ErrInvalidSensorType = errors.New("device: invalid sensor type")

	// ErrInvalidValue is returned when a reading value cannot be stored.
	ErrInvalidValue = errors.New("device: invalid value")

	// ErrReadingNotFound is returned when no reading exists for a device and type.
	ErrReadingNotFound = errors.New("device: reading not found")

	// ErrCommandNotFound is returned when a command ID does not exist.
	ErrCommandNotFound = errors.New("device: command not found")

	// ErrInvalidCommand is returned when command validation fails.
	ErrInvalidCommand = errors.New("device: invalid command")
)
