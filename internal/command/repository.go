package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/database"
)

// Repository defines persistence for commands and their acknowledgements.
type Repository interface {
	// InTx runs fn with a repository bound to one write transaction.
	InTx(ctx context.Context, fn func(tx Repository) error) error

	CreateCommand(ctx context.Context, c *Command) error
	UpdateCommand(ctx context.Context, c *Command) error
	GetByCmdID(ctx context.Context, cmdID string) (*Command, error)
	ListCommands(ctx context.Context, filter Filter) ([]Command, error)
	StaleCommands(ctx context.Context, cutoff time.Time) ([]Command, error)

	AppendAck(ctx context.Context, a *Ack) error
	ListAcks(ctx context.Context, commandID string) ([]Ack, error)
	LatestAck(ctx context.Context, commandID string) (*Ack, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB // nil when bound to a transaction
	q  database.Querier
}

// NewSQLiteRepository creates a new SQLite-backed command repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, q: db}
}

// InTx implements Repository.
func (r *SQLiteRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.db == nil {
		return fn(r)
	}
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(&SQLiteRepository{q: tx})
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

const commandColumns = `id, cmd_id, zone_id, grow_cycle_id, node_id, channel, cmd, params, status,
	created_by, sent_at, ack_at, failed_at, error_code, error_message, result_code, duration_ms,
	created_at, updated_at`

// CreateCommand inserts a command. A duplicate cmd_id returns errCmdIDTaken.
func (r *SQLiteRepository) CreateCommand(ctx context.Context, c *Command) error {
	params, err := marshalMap(c.Params)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO commands (`+commandColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CmdID, c.ZoneID, database.NullableString(c.CycleID), database.NullableString(c.NodeID),
		database.NullableString(c.Channel), c.Cmd, params, string(c.Status),
		database.NullableString(c.CreatedBy), database.NullableTime(c.SentAt),
		database.NullableTime(c.AckAt), database.NullableTime(c.FailedAt),
		database.NullableString(c.ErrorCode), database.NullableString(c.ErrorMessage),
		nullableInt(c.ResultCode), nullableInt64(c.DurationMS),
		database.FormatTime(c.CreatedAt), database.FormatTime(c.UpdatedAt))
	if err != nil {
		if database.IsUniqueConstraintError(err) {
			return errCmdIDTaken.WithID(c.CmdID)
		}
		return fmt.Errorf("inserting command %s: %w", c.CmdID, err)
	}
	return nil
}

// UpdateCommand writes the status columns of a command.
func (r *SQLiteRepository) UpdateCommand(ctx context.Context, c *Command) error {
	res, err := r.q.ExecContext(ctx, `UPDATE commands SET
		status = ?, sent_at = ?, ack_at = ?, failed_at = ?, error_code = ?, error_message = ?,
		result_code = ?, duration_ms = ?, updated_at = ?
		WHERE id = ?`,
		string(c.Status), database.NullableTime(c.SentAt), database.NullableTime(c.AckAt),
		database.NullableTime(c.FailedAt), database.NullableString(c.ErrorCode),
		database.NullableString(c.ErrorMessage), nullableInt(c.ResultCode), nullableInt64(c.DurationMS),
		database.FormatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("updating command %s: %w", c.CmdID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return ErrCommandNotFound.WithID(c.CmdID)
	}
	return nil
}

// GetByCmdID returns a command by its idempotency key.
func (r *SQLiteRepository) GetByCmdID(ctx context.Context, cmdID string) (*Command, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE cmd_id = ?`, cmdID)
	c, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCommandNotFound.WithID(cmdID)
	}
	return c, err
}

// ListCommands returns commands matching filter, newest first.
func (r *SQLiteRepository) ListCommands(ctx context.Context, filter Filter) ([]Command, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 500 { //nolint:mnd // max page size for command listings
		filter.Limit = 500
	}

	var conditions []string
	var args []any
	if filter.ZoneID != "" {
		conditions = append(conditions, "zone_id = ?")
		args = append(args, filter.ZoneID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := `SELECT ` + commandColumns + ` FROM commands`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, filter.Limit)

	return r.queryCommands(ctx, query, args...)
}

// StaleCommands returns SENT and ACCEPTED commands whose last activity is
// before cutoff, oldest first.
func (r *SQLiteRepository) StaleCommands(ctx context.Context, cutoff time.Time) ([]Command, error) {
	return r.queryCommands(ctx,
		`SELECT `+commandColumns+` FROM commands
		 WHERE status IN ('SENT', 'ACCEPTED') AND COALESCE(ack_at, sent_at, created_at) < ?
		 ORDER BY created_at, rowid`,
		database.FormatTime(cutoff))
}

func (r *SQLiteRepository) queryCommands(ctx context.Context, query string, args ...any) ([]Command, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	result := []Command{}
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func scanCommand(row rowScanner) (*Command, error) {
	var c Command
	var status, params, createdAt, updatedAt string
	var cycleID, nodeID, channel, createdBy, errCode, errMsg sql.NullString
	var sentAt, ackAt, failedAt sql.NullString
	var resultCode, durationMS sql.NullInt64

	if err := row.Scan(&c.ID, &c.CmdID, &c.ZoneID, &cycleID, &nodeID, &channel, &c.Cmd, &params,
		&status, &createdBy, &sentAt, &ackAt, &failedAt, &errCode, &errMsg, &resultCode, &durationMS,
		&createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning command: %w", err)
	}

	c.Status = Status(status)
	c.CycleID = cycleID.String
	c.NodeID = nodeID.String
	c.Channel = channel.String
	c.CreatedBy = createdBy.String
	c.ErrorCode = errCode.String
	c.ErrorMessage = errMsg.String
	c.Params = unmarshalMap(params)
	if resultCode.Valid {
		v := int(resultCode.Int64)
		c.ResultCode = &v
	}
	if durationMS.Valid {
		v := durationMS.Int64
		c.DurationMS = &v
	}

	var err error
	if c.SentAt, err = database.ParseNullTime(sentAt); err != nil {
		return nil, err
	}
	if c.AckAt, err = database.ParseNullTime(ackAt); err != nil {
		return nil, err
	}
	if c.FailedAt, err = database.ParseNullTime(failedAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ─── Acks ───────────────────────────────────────────────────────────

const ackColumns = `id, command_id, ack_type, measured_current, measured_flow, error_message, metadata, created_at`

// AppendAck inserts an acknowledgement row.
func (r *SQLiteRepository) AppendAck(ctx context.Context, a *Ack) error {
	metadata, err := marshalMap(a.Metadata)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO command_acks (`+ackColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CommandID, string(a.AckType), nullableFloat(a.MeasuredCurrent), nullableFloat(a.MeasuredFlow),
		database.NullableString(a.ErrorMessage), metadata, database.FormatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting ack for command %s: %w", a.CommandID, err)
	}
	return nil
}

// ListAcks returns a command's acknowledgements in arrival order.
func (r *SQLiteRepository) ListAcks(ctx context.Context, commandID string) ([]Ack, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+ackColumns+` FROM command_acks WHERE command_id = ? ORDER BY created_at, rowid`, commandID)
	if err != nil {
		return nil, fmt.Errorf("querying acks: %w", err)
	}
	defer rows.Close()

	result := []Ack{}
	for rows.Next() {
		a, err := scanAck(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// LatestAck returns the most recent acknowledgement, or nil when there is none.
// Ties on created_at go to the later insert.
func (r *SQLiteRepository) LatestAck(ctx context.Context, commandID string) (*Ack, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+ackColumns+` FROM command_acks WHERE command_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		commandID)
	a, err := scanAck(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func scanAck(row rowScanner) (*Ack, error) {
	var a Ack
	var ackType, metadata, createdAt string
	var current, flow sql.NullFloat64
	var errMsg sql.NullString
	if err := row.Scan(&a.ID, &a.CommandID, &ackType, &current, &flow, &errMsg, &metadata, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning ack: %w", err)
	}
	a.AckType = AckType(ackType)
	if current.Valid {
		a.MeasuredCurrent = &current.Float64
	}
	if flow.Valid {
		a.MeasuredFlow = &flow.Float64
	}
	a.ErrorMessage = errMsg.String
	a.Metadata = unmarshalMap(metadata)

	var err error
	if a.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// ─── Column helpers ─────────────────────────────────────────────────

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshalling json column: %w", err)
	}
	return string(b), nil
}

func unmarshalMap(s string) map[string]any {
	m := map[string]any{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &m) //nolint:errcheck // column is written by marshalMap
	}
	return m
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
