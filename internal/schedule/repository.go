package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/iot-bridge/internal/device"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/database"
)

// Repository persists schedules.
type Repository interface {
	// Create stores s. Returns device.ErrDeviceNotFound when the target
	// device does not exist.
	Create(ctx context.Context, s *Schedule) error

	// GetByID returns ErrNotFound if the schedule does not exist.
	GetByID(ctx context.Context, id string) (*Schedule, error)

	// List returns schedules matching filter, oldest first.
	List(ctx context.Context, filter Filter) ([]Schedule, error)

	// Update rewrites action, params, cron and active.
	// Returns ErrNotFound if the schedule does not exist.
	Update(ctx context.Context, s *Schedule) error

	// Delete returns ErrNotFound if the schedule does not exist.
	Delete(ctx context.Context, id string) error
}

// Filter narrows List.
type Filter struct {
	DeviceID   string
	ActiveOnly bool
}

// DeviceLookup confirms a device exists before a schedule targets it.
type DeviceLookup interface {
	GetByID(ctx context.Context, id string) (*device.Device, error)
}

// SQLRepository stores schedules on SQLite or PostgreSQL.
type SQLRepository struct {
	db      *sql.DB
	driver  string
	devices DeviceLookup
}

// NewSQLRepository creates a schedule repository for the given driver.
func NewSQLRepository(db *sql.DB, driver string, devices DeviceLookup) *SQLRepository {
	return &SQLRepository{db: db, driver: driver, devices: devices}
}

const scheduleColumns = `id, device_id, action, params, cron, active, created_at, updated_at`

// Create validates s, fills ID and timestamps, and inserts it.
func (r *SQLRepository) Create(ctx context.Context, s *Schedule) error {
	if err := Validate(s); err != nil {
		return err
	}
	if _, err := r.devices.GetByID(ctx, s.DeviceID); err != nil {
		return err
	}

	if s.ID == "" {
		s.ID = device.GenerateID()
	}
	s.Action = strings.TrimSpace(s.Action)
	s.Cron = strings.TrimSpace(s.Cron)
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = s.CreatedAt

	params, err := encodeParams(s.Params)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, database.Rebind(r.driver, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		s.ID,
		s.DeviceID,
		s.Action,
		params,
		s.Cron,
		boolToInt(s.Active),
		database.FormatTime(s.CreatedAt),
		database.FormatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting schedule: %w", err)
	}
	return nil
}

// GetByID retrieves a schedule by ID.
func (r *SQLRepository) GetByID(ctx context.Context, id string) (*Schedule, error) {
	row := r.db.QueryRowContext(ctx,
		database.Rebind(r.driver, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`), id)
	s, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying schedule: %w", err)
	}
	return s, nil
}

// List returns schedules matching filter, oldest first.
func (r *SQLRepository) List(ctx context.Context, filter Filter) ([]Schedule, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "active = 1")
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := r.db.QueryContext(ctx, database.Rebind(r.driver,
		`SELECT `+scheduleColumns+` FROM schedules`+where+` ORDER BY created_at, id`), args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	schedules := []Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		schedules = append(schedules, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}
	return schedules, nil
}

// Update stores the mutable fields of s and refreshes UpdatedAt.
func (r *SQLRepository) Update(ctx context.Context, s *Schedule) error {
	if err := Validate(s); err != nil {
		return err
	}
	s.Action = strings.TrimSpace(s.Action)
	s.Cron = strings.TrimSpace(s.Cron)
	s.UpdatedAt = time.Now().UTC()

	params, err := encodeParams(s.Params)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, database.Rebind(r.driver, `
		UPDATE schedules SET action = ?, params = ?, cron = ?, active = ?, updated_at = ?
		WHERE id = ?`),
		s.Action,
		params,
		s.Cron,
		boolToInt(s.Active),
		database.FormatTime(s.UpdatedAt),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}
	return requireAffected(result)
}

// Delete removes a schedule by ID.
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, database.Rebind(r.driver, "DELETE FROM schedules WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSchedule(row interface{ Scan(dest ...any) error }) (*Schedule, error) {
	var (
		s                    Schedule
		params               sql.NullString
		active               int
		createdAt, updatedAt string
	)
	if err := row.Scan(&s.ID, &s.DeviceID, &s.Action, &params, &s.Cron, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.Active = active != 0

	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &s.Params); err != nil {
			return nil, fmt.Errorf("unmarshalling params: %w", err)
		}
	}

	var err error
	if s.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if s.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &s, nil
}

func encodeParams(params map[string]any) (sql.NullString, error) {
	if params == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling params: %w", err)
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
