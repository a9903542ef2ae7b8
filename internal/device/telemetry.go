package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TelemetryTx is the unit of work used to apply one telemetry message.
// All calls made through it commit or roll back together.
type TelemetryTx interface {
	// GetDevice returns ErrDeviceNotFound for unregistered devices.
	GetDevice(ctx context.Context, id string) (*Device, error)

	// SetDeviceOnline marks the device online and stamps UpdatedAt.
	SetDeviceOnline(ctx context.Context, id string, at time.Time) error

	// UpsertReading inserts or overwrites the (deviceID, sensorType) reading.
	UpsertReading(ctx context.Context, deviceID, sensorType string, value Value, unit *string, at time.Time) error
}

// TelemetryStore runs telemetry units of work.
type TelemetryStore interface {
	// WithinTx calls fn inside a transaction. The transaction commits only
	// when fn returns nil; a commit failure is returned wrapped.
	WithinTx(ctx context.Context, fn func(tx TelemetryTx) error) error
}

// WithinTx runs fn in a single database transaction.
func (r *SQLRepository) WithinTx(ctx context.Context, fn func(tx TelemetryTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := fn(&sqlTelemetryTx{tx: tx, rebind: r.rebind}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type sqlTelemetryTx struct {
	tx     *sql.Tx
	rebind func(string) string
}

func (t *sqlTelemetryTx) GetDevice(ctx context.Context, id string) (*Device, error) {
	return getDevice(ctx, t.tx, t.rebind, id)
}

func (t *sqlTelemetryTx) SetDeviceOnline(ctx context.Context, id string, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, t.rebind(`
		UPDATE devices SET status = ?, updated_at = ?
		WHERE id = ?`),
		string(StatusOnline),
		formatTime(at),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}
	return requireAffected(result, ErrDeviceNotFound)
}

func (t *sqlTelemetryTx) UpsertReading(ctx context.Context, deviceID, sensorType string, value Value, unit *string, at time.Time) error {
	if value.Number == nil && value.Text == nil {
		return fmt.Errorf("%w: empty value for %q", ErrInvalidValue, sensorType)
	}

	var number sql.NullFloat64
	if value.Number != nil {
		number = sql.NullFloat64{Float64: *value.Number, Valid: true}
	}

	// The conflict target relies on UNIQUE (device_id, type); the id of an
	// existing row is preserved.
	_, err := t.tx.ExecContext(ctx, t.rebind(`
		INSERT INTO sensor_readings (`+readingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id, type) DO UPDATE SET
			value_number = excluded.value_number,
			value_text = excluded.value_text,
			unit = excluded.unit,
			timestamp = excluded.timestamp`),
		GenerateID(),
		deviceID,
		sensorType,
		number,
		nullableString(value.Text),
		nullableString(unit),
		formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("upserting reading %q: %w", sensorType, err)
	}
	return nil
}
