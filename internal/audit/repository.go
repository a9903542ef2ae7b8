// Package audit records device and command history in the history table.
//
// Entries are written by the HTTP collaborators (device registration,
// command creation). Telemetry ingestion never writes here.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/iot-bridge/internal/infrastructure/database"
)

// Event types written by the HTTP API and the schedule runner.
const (
	EventDeviceCreated   = "device_created"
	EventDeviceDeleted   = "device_deleted"
	EventCommandCreated  = "command_created"
	EventCommandFailed   = "command_publish_failed"
	EventScheduleCreated = "schedule_created"
)

// ErrNotFound is returned when a history entry ID does not exist.
var ErrNotFound = errors.New("audit: entry not found")

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one history row.
type Entry struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id,omitempty"`
	EventType   string    `json:"event_type"`
	Description string    `json:"description"`
	RelatedID   string    `json:"related_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	DeviceID  string // optional
	EventType string // optional
	Limit     int    // default 50, max 200
	Offset    int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines history persistence.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	GetByID(ctx context.Context, id string) (*Entry, error)
	Delete(ctx context.Context, id string) error
}

// SQLRepository stores history on SQLite or PostgreSQL.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// NewSQLRepository creates a history repository for the given driver.
func NewSQLRepository(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: db, driver: driver}
}

// Create inserts entry. ID and CreatedAt are generated if empty.
func (r *SQLRepository) Create(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.EventType == "" {
		return fmt.Errorf("creating history entry: event type is required")
	}
	if entry.ID == "" {
		entry.ID = "hst-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, database.Rebind(r.driver,
		`INSERT INTO history (id, device_id, event_type, description, related_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		entry.ID,
		nullableString(entry.DeviceID),
		entry.EventType,
		entry.Description,
		nullableString(entry.RelatedID),
		database.FormatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

// GetByID returns one entry, or ErrNotFound.
func (r *SQLRepository) GetByID(ctx context.Context, id string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx,
		database.Rebind(r.driver, `SELECT `+entryColumns+` FROM history WHERE id = ?`), id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Delete removes one entry, or returns ErrNotFound.
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, database.Rebind(r.driver, `DELETE FROM history WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting history entry: %w", err)
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

const entryColumns = `id, device_id, event_type, description, related_id, created_at`

func scanEntry(row interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		e                   Entry
		deviceID, relatedID sql.NullString
		createdAt           string
	)
	if err := row.Scan(&e.ID, &deviceID, &e.EventType, &e.Description, &relatedID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning history entry: %w", err)
	}
	e.DeviceID = deviceID.String
	e.RelatedID = relatedID.String

	t, err := database.ParseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing history timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return &e, nil
}

// nullableString maps "" to SQL NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, most recent first.
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

	var conditions []string
	var args []any
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, filter.EventType)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := database.Rebind(r.driver, "SELECT COUNT(*) FROM history "+where)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting history: %w", err)
	}

	query := database.Rebind(r.driver, //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT `+entryColumns+` FROM history `+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
