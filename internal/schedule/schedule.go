package schedule

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/iot-bridge/internal/device"
)

var (
	// ErrNotFound is returned when a schedule ID does not exist.
	ErrNotFound = errors.New("schedule: not found")

	// ErrInvalid is returned when a schedule fails validation.
	ErrInvalid = errors.New("schedule: invalid")
)

// Schedule is a command sent to a device every time Cron matches.
type Schedule struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"device_id"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	Cron      string         `json:"cron"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Command builds the pending command one firing of s sends.
func (s *Schedule) Command() *device.Command {
	return &device.Command{DeviceID: s.DeviceID, Action: s.Action, Params: maps.Clone(s.Params)}
}

// Validate checks the command fields and parses the cron expression.
func Validate(s *Schedule) error {
	if s == nil {
		return fmt.Errorf("%w: schedule is nil", ErrInvalid)
	}
	if err := device.ValidateCommand(s.Command()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := ParseCron(s.Cron); err != nil {
		return err
	}
	return nil
}

// ParseCron parses a five-field cron expression or descriptor.
func ParseCron(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("%w: cron is required", ErrInvalid)
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: cron %q: %w", ErrInvalid, spec, err)
	}
	return sched, nil
}
