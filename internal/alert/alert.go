// Package alert stores device alerts raised by external rule engines or
// operators, for listing and acknowledgement by deletion.
package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/iot-bridge/internal/device"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/database"
)

var (
	// ErrNotFound is returned when an alert ID does not exist.
	ErrNotFound = errors.New("alert: not found")

	// ErrInvalid is returned when an alert fails validation.
	ErrInvalid = errors.New("alert: invalid")
)

const (
	defaultLimit = 50
	maxLimit     = 200

	maxTypeLength    = 64
	maxMessageLength = 1024
)

// Alert is a notable condition on a device, optionally tied to one of its
// sensor types.
type Alert struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	SensorType string    `json:"sensor_type,omitempty"`
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter controls which alerts List returns.
type Filter struct {
	DeviceID string // optional
	Type     string // optional
	Limit    int    // default 50, max 200
	Offset   int
}

// ListResult is one page of alerts, newest first.
type ListResult struct {
	Alerts []Alert `json:"alerts"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository persists alerts.
type Repository interface {
	Create(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id string) (*Alert, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Delete(ctx context.Context, id string) error
}

// DeviceLookup confirms a device exists before an alert names it.
type DeviceLookup interface {
	GetByID(ctx context.Context, id string) (*device.Device, error)
}

// SQLRepository stores alerts on SQLite or PostgreSQL.
type SQLRepository struct {
	db      *sql.DB
	driver  string
	devices DeviceLookup
}

// NewSQLRepository creates an alert repository for the given driver.
func NewSQLRepository(db *sql.DB, driver string, devices DeviceLookup) *SQLRepository {
	return &SQLRepository{db: db, driver: driver, devices: devices}
}

const alertColumns = `id, device_id, sensor_type, type, message, created_at`

// Validate checks the fields an alert must carry.
func Validate(a *Alert) error {
	switch {
	case a == nil:
		return fmt.Errorf("%w: alert is nil", ErrInvalid)
	case a.DeviceID == "":
		return fmt.Errorf("%w: device_id is required", ErrInvalid)
	case strings.TrimSpace(a.Type) == "":
		return fmt.Errorf("%w: type is required", ErrInvalid)
	case len(a.Type) > maxTypeLength:
		return fmt.Errorf("%w: type exceeds %d characters", ErrInvalid, maxTypeLength)
	case strings.TrimSpace(a.Message) == "":
		return fmt.Errorf("%w: message is required", ErrInvalid)
	case len(a.Message) > maxMessageLength:
		return fmt.Errorf("%w: message exceeds %d characters", ErrInvalid, maxMessageLength)
	}
	if a.SensorType != "" {
		if err := device.ValidateSensorType(a.SensorType); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

// Create validates a, fills ID and CreatedAt, and inserts it. Returns
// device.ErrDeviceNotFound when the device does not exist.
func (r *SQLRepository) Create(ctx context.Context, a *Alert) error {
	if err := Validate(a); err != nil {
		return err
	}
	if _, err := r.devices.GetByID(ctx, a.DeviceID); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = device.GenerateID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Type = strings.TrimSpace(a.Type)

	var sensorType sql.NullString
	if a.SensorType != "" {
		sensorType = sql.NullString{String: a.SensorType, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, database.Rebind(r.driver, `
		INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		a.ID,
		a.DeviceID,
		sensorType,
		a.Type,
		a.Message,
		database.FormatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// GetByID retrieves an alert by ID.
func (r *SQLRepository) GetByID(ctx context.Context, id string) (*Alert, error) {
	row := r.db.QueryRowContext(ctx,
		database.Rebind(r.driver, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`), id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying alert: %w", err)
	}
	return a, nil
}

// List returns alerts matching filter, newest first.
func (r *SQLRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var (
		conditions []string
		args       []any
	)
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filter.Type)
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		database.Rebind(r.driver, "SELECT COUNT(*) FROM alerts"+where), args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting alerts: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, database.Rebind(r.driver,
		`SELECT `+alertColumns+` FROM alerts`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`),
		append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}

	return &ListResult{Alerts: alerts, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Delete removes an alert by ID.
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, database.Rebind(r.driver, "DELETE FROM alerts WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("deleting alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAlert(row interface{ Scan(dest ...any) error }) (*Alert, error) {
	var (
		a          Alert
		sensorType sql.NullString
		createdAt  string
	)
	if err := row.Scan(&a.ID, &a.DeviceID, &sensorType, &a.Type, &a.Message, &createdAt); err != nil {
		return nil, err
	}
	a.SensorType = sensorType.String

	t, err := database.ParseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	a.CreatedAt = t
	return &a, nil
}
