package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/iot-bridge/internal/infrastructure/database"
)

// Repository defines device and reading persistence for collaborators
// such as the HTTP API. Ingestion uses the transactional TelemetryStore instead.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device's name and type.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device and, by cascade, its readings and commands.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// ListReadings returns the latest reading of every sensor type for a device.
	ListReadings(ctx context.Context, deviceID string) ([]Reading, error)

	// GetReading returns the latest reading of one sensor type.
	// Returns ErrReadingNotFound if none exists.
	GetReading(ctx context.Context, deviceID, sensorType string) (*Reading, error)

	// ListAllReadings returns every stored reading.
	ListAllReadings(ctx context.Context) ([]Reading, error)
}

// SQLRepository implements Repository and TelemetryStore on SQLite or PostgreSQL.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// NewSQLRepository creates a new SQL-backed repository.
// driver selects placeholder syntax and is database.DriverSQLite or database.DriverPostgres.
func NewSQLRepository(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: db, driver: driver}
}

const deviceColumns = `id, name, type, status, created_at, updated_at`

const readingColumns = `id, device_id, type, value_number, value_text, unit, timestamp`

// rebind adapts ? placeholders to the configured driver.
func (r *SQLRepository) rebind(query string) string {
	return database.Rebind(r.driver, query)
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	return getDevice(ctx, r.db, r.rebind, id)
}

// List retrieves all devices, oldest first.
func (r *SQLRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device, filling ID, Type, Status and timestamps when unset.
func (r *SQLRepository) Create(ctx context.Context, device *Device) error {
	if device == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}
	if device.ID == "" {
		device.ID = GenerateID()
	}
	if device.Type == "" {
		device.Type = DefaultDeviceType
	}
	if device.Status == "" {
		device.Status = StatusOffline
	}
	if err := ValidateDevice(device); err != nil {
		return err
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`),
		device.ID,
		strings.TrimSpace(device.Name),
		device.Type,
		string(device.Status),
		formatTime(device.CreatedAt),
		formatTime(device.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update modifies an existing device's name and type.
func (r *SQLRepository) Update(ctx context.Context, device *Device) error {
	if device == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}
	if err := ValidateName(device.Name); err != nil {
		return err
	}
	if device.Type == "" {
		device.Type = DefaultDeviceType
	}

	device.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE devices SET name = ?, type = ?, updated_at = ?
		WHERE id = ?`),
		strings.TrimSpace(device.Name),
		device.Type,
		formatTime(device.UpdatedAt),
		device.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireAffected(result, ErrDeviceNotFound)
}

// Delete removes a device by ID.
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.rebind("DELETE FROM devices WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireAffected(result, ErrDeviceNotFound)
}

// ListReadings returns the latest reading of every sensor type for a device.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *SQLRepository) ListReadings(ctx context.Context, deviceID string) ([]Reading, error) {
	if _, err := r.GetByID(ctx, deviceID); err != nil {
		return nil, err
	}
	return r.queryReadings(ctx, r.rebind(`SELECT `+readingColumns+`
		FROM sensor_readings WHERE device_id = ? ORDER BY type`), deviceID)
}

// GetReading returns the latest reading of one sensor type.
func (r *SQLRepository) GetReading(ctx context.Context, deviceID, sensorType string) (*Reading, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+readingColumns+`
		FROM sensor_readings WHERE device_id = ? AND type = ?`), deviceID, sensorType)
	reading, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReadingNotFound
		}
		return nil, fmt.Errorf("querying reading: %w", err)
	}
	return reading, nil
}

// ListAllReadings returns every stored reading.
func (r *SQLRepository) ListAllReadings(ctx context.Context) ([]Reading, error) {
	return r.queryReadings(ctx, `SELECT `+readingColumns+`
		FROM sensor_readings ORDER BY device_id, type`)
}

func (r *SQLRepository) queryReadings(ctx context.Context, query string, args ...any) ([]Reading, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	readings := []Reading{}
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDevice(ctx context.Context, q queryer, rebind func(string) string, id string) (*Device, error) {
	row := q.QueryRowContext(ctx, rebind(`SELECT `+deviceColumns+` FROM devices WHERE id = ?`), id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d                    Device
		status               string
		createdAt, updatedAt string
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Type, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d.Status = Status(status)

	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
}

func scanReading(row rowScanner) (*Reading, error) {
	var (
		reading   Reading
		number    sql.NullFloat64
		text      sql.NullString
		unit      sql.NullString
		timestamp string
	)
	if err := row.Scan(&reading.ID, &reading.DeviceID, &reading.Type, &number, &text, &unit, &timestamp); err != nil {
		return nil, err
	}
	if number.Valid {
		reading.ValueNumber = &number.Float64
	}
	if text.Valid {
		reading.ValueText = &text.String
	}
	if unit.Valid {
		reading.Unit = &unit.String
	}

	ts, err := parseTime(timestamp)
	if err != nil {
		return nil, fmt.Errorf("parsing reading timestamp: %w", err)
	}
	reading.Timestamp = ts
	return &reading, nil
}

func requireAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return database.FormatTime(t)
}

func parseTime(s string) (time.Time, error) {
	return database.ParseTime(s)
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// isUniqueConstraintError checks for a SQLite or PostgreSQL unique violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
