package device

import "time"

// Device is a registered telemetry source.
// This matches the devices table in migrations/20261001_090000_initial_schema.up.sql.
//
// Devices are registered through the HTTP API. Ingestion only ever changes
// Status and UpdatedAt.
type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status Status `json:"status"`

	// UpdatedAt doubles as "last seen" for devices that report telemetry.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status is a device's connectivity state.
type Status string

// Device status values.
const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// DefaultDeviceType is applied when a device is registered without a type.
const DefaultDeviceType = "feeder"

// AllStatuses returns every valid Status.
func AllStatuses() []Status {
	return []Status{StatusOnline, StatusOffline}
}

// Reading is the latest value of one sensor type on one device.
// There is at most one Reading per (DeviceID, Type); newer values overwrite it.
//
// Exactly one of ValueNumber and ValueText is set.
type Reading struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	Type        string    `json:"type"`
	ValueNumber *float64  `json:"value_number"`
	ValueText   *string   `json:"value_text"`
	Unit        *string   `json:"unit"`
	Timestamp   time.Time `json:"timestamp"`
}

// Value returns the reading's value in its tagged form.
func (r Reading) Value() Value {
	return Value{Number: r.ValueNumber, Text: r.ValueText}
}

// Command is an outbound instruction recorded before it is published to a device.
// Commands are never acknowledged, so Status stays CommandPending unless an
// operator changes it.
type Command struct {
	ID         string         `json:"id"`
	DeviceID   string         `json:"device_id"`
	Action     string         `json:"action"`
	Params     map[string]any `json:"params,omitempty"`
	Status     CommandStatus  `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	ExecutedAt *time.Time     `json:"executed_at,omitempty"`
}

// CommandStatus tracks a command's lifecycle.
type CommandStatus string

// Command status values.
const (
	CommandPending  CommandStatus = "pending"
	CommandExecuted CommandStatus = "executed"
	CommandFailed   CommandStatus = "failed"
)
