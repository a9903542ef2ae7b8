package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CommandRepository persists outbound commands.
type CommandRepository interface {
	// Create stores a new command. Returns ErrDeviceNotFound when the
	// target device does not exist.
	Create(ctx context.Context, cmd *Command) error

	// GetByID returns ErrCommandNotFound if the command does not exist.
	GetByID(ctx context.Context, id string) (*Command, error)

	// List returns all commands, newest first.
	List(ctx context.Context) ([]Command, error)

	// ListByDevice returns the commands sent to one device, newest first.
	ListByDevice(ctx context.Context, deviceID string) ([]Command, error)

	// Update rewrites a command's action, params, status and executed_at.
	// Returns ErrCommandNotFound if the command does not exist.
	Update(ctx context.Context, cmd *Command) error

	// Delete removes a command. Returns ErrCommandNotFound if it does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLCommandRepository implements CommandRepository.
type SQLCommandRepository struct {
	devices *SQLRepository
}

// NewSQLCommandRepository creates a command repository sharing the device
// repository's connection and driver.
func NewSQLCommandRepository(devices *SQLRepository) *SQLCommandRepository {
	return &SQLCommandRepository{devices: devices}
}

const commandColumns = `id, device_id, action, params, status, created_at, executed_at`

// Create stores cmd as pending, filling ID and CreatedAt.
func (r *SQLCommandRepository) Create(ctx context.Context, cmd *Command) error {
	if err := ValidateCommand(cmd); err != nil {
		return err
	}
	if _, err := r.devices.GetByID(ctx, cmd.DeviceID); err != nil {
		return err
	}

	if cmd.ID == "" {
		cmd.ID = GenerateID()
	}
	if cmd.Status == "" {
		cmd.Status = CommandPending
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}

	params, err := encodeParams(cmd.Params)
	if err != nil {
		return err
	}

	_, err = r.devices.db.ExecContext(ctx, r.devices.rebind(`
		INSERT INTO commands (`+commandColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		cmd.ID,
		cmd.DeviceID,
		cmd.Action,
		params,
		string(cmd.Status),
		formatTime(cmd.CreatedAt),
		nullableTime(cmd.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

// GetByID retrieves a command by ID.
func (r *SQLCommandRepository) GetByID(ctx context.Context, id string) (*Command, error) {
	row := r.devices.db.QueryRowContext(ctx,
		r.devices.rebind(`SELECT `+commandColumns+` FROM commands WHERE id = ?`), id)
	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying command: %w", err)
	}
	return cmd, nil
}

// List returns all commands, newest first.
func (r *SQLCommandRepository) List(ctx context.Context) ([]Command, error) {
	return r.query(ctx, `SELECT `+commandColumns+` FROM commands ORDER BY created_at DESC, id`)
}

// ListByDevice returns the commands sent to one device, newest first.
func (r *SQLCommandRepository) ListByDevice(ctx context.Context, deviceID string) ([]Command, error) {
	return r.query(ctx, r.devices.rebind(`SELECT `+commandColumns+`
		FROM commands WHERE device_id = ? ORDER BY created_at DESC, id`), deviceID)
}

// Update stores the command's mutable fields. Moving a command to executed
// without an ExecutedAt stamps the current time.
func (r *SQLCommandRepository) Update(ctx context.Context, cmd *Command) error {
	if err := ValidateCommand(cmd); err != nil {
		return err
	}
	if err := ValidateCommandStatus(cmd.Status); err != nil {
		return err
	}
	if cmd.Status == CommandExecuted && cmd.ExecutedAt == nil {
		now := time.Now().UTC()
		cmd.ExecutedAt = &now
	}

	params, err := encodeParams(cmd.Params)
	if err != nil {
		return err
	}

	result, err := r.devices.db.ExecContext(ctx, r.devices.rebind(`
		UPDATE commands SET action = ?, params = ?, status = ?, executed_at = ?
		WHERE id = ?`),
		cmd.Action,
		params,
		string(cmd.Status),
		nullableTime(cmd.ExecutedAt),
		cmd.ID,
	)
	if err != nil {
		return fmt.Errorf("updating command: %w", err)
	}
	return requireAffected(result, ErrCommandNotFound)
}

// Delete removes a command by ID.
func (r *SQLCommandRepository) Delete(ctx context.Context, id string) error {
	result, err := r.devices.db.ExecContext(ctx, r.devices.rebind("DELETE FROM commands WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("deleting command: %w", err)
	}
	return requireAffected(result, ErrCommandNotFound)
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

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func (r *SQLCommandRepository) query(ctx context.Context, query string, args ...any) ([]Command, error) {
	rows, err := r.devices.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	commands := []Command{}
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return commands, nil
}

func scanCommand(row rowScanner) (*Command, error) {
	var (
		cmd        Command
		params     sql.NullString
		status     string
		createdAt  string
		executedAt sql.NullString
	)
	if err := row.Scan(&cmd.ID, &cmd.DeviceID, &cmd.Action, &params, &status, &createdAt, &executedAt); err != nil {
		return nil, err
	}
	cmd.Status = CommandStatus(status)

	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &cmd.Params); err != nil {
			return nil, fmt.Errorf("unmarshalling params: %w", err)
		}
	}

	var err error
	if cmd.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if executedAt.Valid {
		t, err := parseTime(executedAt.String)
		if err == nil {
			cmd.ExecutedAt = &t
		}
	}
	return &cmd, nil
}
