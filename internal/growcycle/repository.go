package growcycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-grow/internal/recipe"
)

// Repository defines persistence for cycles, their overrides and the
// transition ledger.
type Repository interface {
	// InTx runs fn with a repository bound to one write transaction.
	InTx(ctx context.Context, fn func(tx Repository) error) error

	CreateCycle(ctx context.Context, c *Cycle) error
	UpdateCycle(ctx context.Context, c *Cycle) error
	GetCycle(ctx context.Context, id string) (*Cycle, error)
	GetActiveCycleForZone(ctx context.Context, zoneID string) (*Cycle, error)
	ActiveCyclesForZones(ctx context.Context, zoneIDs []string) (map[string]*Cycle, error)
	ListCycles(ctx context.Context, filter CycleFilter) ([]Cycle, error)

	AppendTransition(ctx context.Context, t *Transition) error
	ListTransitions(ctx context.Context, cycleID string) ([]Transition, error)

	CreateOverride(ctx context.Context, o *Override) error
	GetOverride(ctx context.Context, id string) (*Override, error)
	DeactivateOverride(ctx context.Context, id, actorID string, at time.Time) error
	ListOverrides(ctx context.Context, cycleID string) ([]Override, error)
	ActiveOverrides(ctx context.Context, cycleIDs []string, now time.Time) (map[string][]Override, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB // nil when bound to a transaction
	q  database.Querier
}

// NewSQLiteRepository creates a new SQLite-backed grow cycle repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, q: db}
}

// InTx implements Repository. Calls nested in an open transaction reuse it.
func (r *SQLiteRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.db == nil {
		return fn(r)
	}
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(&SQLiteRepository{q: tx})
	})
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// activeStatusList is the SQL list literal of ActiveStatuses.
const activeStatusList = `('PLANNED', 'RUNNING', 'PAUSED')`

// ─── Cycles ─────────────────────────────────────────────────────────

const cycleColumns = `id, zone_id, plant_id, recipe_revision_id, pending_revision_id, status,
	current_phase_id, current_step_id, planting_at, started_at, phase_started_at, step_started_at,
	expected_harvest_at, actual_harvest_at, aborted_at, notes, batch_label, settings, created_by,
	created_at, updated_at`

// CreateCycle inserts a cycle. A second active cycle in the same zone trips
// the partial unique index and returns ErrZoneHasActiveCycle.
func (r *SQLiteRepository) CreateCycle(ctx context.Context, c *Cycle) error {
	settings, err := marshalMap(c.Settings)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO grow_cycles (`+cycleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ZoneID, c.PlantID, c.RevisionID, database.NullableString(c.PendingRevisionID), string(c.Status),
		database.NullableString(c.CurrentPhaseID), database.NullableString(c.CurrentStepID),
		database.NullableTime(c.PlantingAt), database.NullableTime(c.StartedAt),
		database.NullableTime(c.PhaseStartedAt), database.NullableTime(c.StepStartedAt),
		database.NullableTime(c.ExpectedHarvestAt), database.NullableTime(c.ActualHarvestAt),
		database.NullableTime(c.AbortedAt), database.NullableString(c.Notes),
		database.NullableString(c.BatchLabel), settings, database.NullableString(c.CreatedBy),
		database.FormatTime(c.CreatedAt), database.FormatTime(c.UpdatedAt))
	if err != nil {
		if database.IsUniqueConstraintError(err) {
			return ErrZoneHasActiveCycle.WithID(c.ZoneID)
		}
		return fmt.Errorf("inserting grow cycle %s: %w", c.ID, err)
	}
	return nil
}

// UpdateCycle writes every mutable column of a cycle.
func (r *SQLiteRepository) UpdateCycle(ctx context.Context, c *Cycle) error {
	settings, err := marshalMap(c.Settings)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `UPDATE grow_cycles SET
		recipe_revision_id = ?, pending_revision_id = ?, status = ?,
		current_phase_id = ?, current_step_id = ?, planting_at = ?, started_at = ?,
		phase_started_at = ?, step_started_at = ?, expected_harvest_at = ?,
		actual_harvest_at = ?, aborted_at = ?, notes = ?, batch_label = ?, settings = ?, updated_at = ?
		WHERE id = ?`,
		c.RevisionID, database.NullableString(c.PendingRevisionID), string(c.Status),
		database.NullableString(c.CurrentPhaseID), database.NullableString(c.CurrentStepID),
		database.NullableTime(c.PlantingAt), database.NullableTime(c.StartedAt),
		database.NullableTime(c.PhaseStartedAt), database.NullableTime(c.StepStartedAt),
		database.NullableTime(c.ExpectedHarvestAt), database.NullableTime(c.ActualHarvestAt),
		database.NullableTime(c.AbortedAt), database.NullableString(c.Notes),
		database.NullableString(c.BatchLabel), settings, database.FormatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("updating grow cycle %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return ErrCycleNotFound.WithID(c.ID)
	}
	return nil
}

// GetCycle returns a cycle by ID.
func (r *SQLiteRepository) GetCycle(ctx context.Context, id string) (*Cycle, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM grow_cycles WHERE id = ?`, id)
	c, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCycleNotFound.WithID(id)
	}
	return c, err
}

// GetActiveCycleForZone returns the zone's PLANNED, RUNNING or PAUSED cycle,
// or ErrNoActiveCycle.
func (r *SQLiteRepository) GetActiveCycleForZone(ctx context.Context, zoneID string) (*Cycle, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+cycleColumns+` FROM grow_cycles WHERE zone_id = ? AND status IN `+activeStatusList, zoneID)
	c, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveCycle.WithID(zoneID)
	}
	return c, err
}

// ActiveCyclesForZones returns the active cycle of each zone that has one,
// keyed by zone ID, in a single query.
func (r *SQLiteRepository) ActiveCyclesForZones(ctx context.Context, zoneIDs []string) (map[string]*Cycle, error) {
	result := make(map[string]*Cycle, len(zoneIDs))
	if len(zoneIDs) == 0 {
		return result, nil
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+cycleColumns+` FROM grow_cycles WHERE status IN `+activeStatusList+
			` AND zone_id IN (`+database.Placeholders(len(zoneIDs))+`)`, database.Args(zoneIDs)...)
	if err != nil {
		return nil, fmt.Errorf("querying active cycles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		result[c.ZoneID] = c
	}
	return result, rows.Err()
}

// ListCycles returns cycles matching filter, newest first.
func (r *SQLiteRepository) ListCycles(ctx context.Context, filter CycleFilter) ([]Cycle, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 500 { //nolint:mnd // max page size for cycle listings
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
	query := `SELECT ` + cycleColumns + ` FROM grow_cycles`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying grow cycles: %w", err)
	}
	defer rows.Close()

	result := []Cycle{}
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func scanCycle(row rowScanner) (*Cycle, error) {
	var c Cycle
	var status, settings, createdAt, updatedAt string
	var pending, phaseID, stepID, notes, batch, createdBy sql.NullString
	var plantingAt, startedAt, phaseStartedAt, stepStartedAt, expectedAt, harvestedAt, abortedAt sql.NullString

	if err := row.Scan(&c.ID, &c.ZoneID, &c.PlantID, &c.RevisionID, &pending, &status,
		&phaseID, &stepID, &plantingAt, &startedAt, &phaseStartedAt, &stepStartedAt,
		&expectedAt, &harvestedAt, &abortedAt, &notes, &batch, &settings, &createdBy,
		&createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning grow cycle: %w", err)
	}

	c.Status = Status(status)
	c.PendingRevisionID = pending.String
	c.CurrentPhaseID = phaseID.String
	c.CurrentStepID = stepID.String
	c.Notes = notes.String
	c.BatchLabel = batch.String
	c.CreatedBy = createdBy.String
	c.Settings = unmarshalMap(settings)

	var err error
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&c.PlantingAt, plantingAt}, {&c.StartedAt, startedAt}, {&c.PhaseStartedAt, phaseStartedAt},
		{&c.StepStartedAt, stepStartedAt}, {&c.ExpectedHarvestAt, expectedAt},
		{&c.ActualHarvestAt, harvestedAt}, {&c.AbortedAt, abortedAt},
	} {
		if *f.dst, err = database.ParseNullTime(f.src); err != nil {
			return nil, err
		}
	}
	if c.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ─── Transition ledger ──────────────────────────────────────────────

const transitionColumns = `id, grow_cycle_id, from_status, to_status, from_phase_id, to_phase_id,
	from_step_id, to_step_id, from_revision_id, to_revision_id, trigger_type, comment,
	triggered_by, metadata, created_at`

// AppendTransition inserts a ledger row. The table rejects updates and deletes.
func (r *SQLiteRepository) AppendTransition(ctx context.Context, t *Transition) error {
	metadata, err := marshalMap(t.Metadata)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO grow_cycle_transitions (`+transitionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CycleID, database.NullableString(string(t.FromStatus)), string(t.ToStatus),
		database.NullableString(t.FromPhaseID), database.NullableString(t.ToPhaseID),
		database.NullableString(t.FromStepID), database.NullableString(t.ToStepID),
		database.NullableString(t.FromRevisionID), database.NullableString(t.ToRevisionID),
		string(t.Trigger), database.NullableString(t.Comment), database.NullableString(t.TriggeredBy),
		metadata, database.FormatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("appending transition for cycle %s: %w", t.CycleID, err)
	}
	return nil
}

// ListTransitions returns a cycle's ledger in creation order.
func (r *SQLiteRepository) ListTransitions(ctx context.Context, cycleID string) ([]Transition, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+transitionColumns+` FROM grow_cycle_transitions WHERE grow_cycle_id = ? ORDER BY created_at, rowid`,
		cycleID)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	result := []Transition{}
	for rows.Next() {
		var t Transition
		var toStatus, trigger, metadata, createdAt string
		var fromStatus, fromPhase, toPhase, fromStep, toStep, fromRev, toRev, comment, by sql.NullString
		if err := rows.Scan(&t.ID, &t.CycleID, &fromStatus, &toStatus, &fromPhase, &toPhase,
			&fromStep, &toStep, &fromRev, &toRev, &trigger, &comment, &by, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		t.FromStatus, t.ToStatus = Status(fromStatus.String), Status(toStatus)
		t.FromPhaseID, t.ToPhaseID = fromPhase.String, toPhase.String
		t.FromStepID, t.ToStepID = fromStep.String, toStep.String
		t.FromRevisionID, t.ToRevisionID = fromRev.String, toRev.String
		t.Trigger = Trigger(trigger)
		t.Comment = comment.String
		t.TriggeredBy = by.String
		t.Metadata = unmarshalMap(metadata)
		if t.CreatedAt, err = database.ParseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// ─── Overrides ──────────────────────────────────────────────────────

const overrideColumns = `id, grow_cycle_id, parameter, value_type, value, reason, created_by,
	applies_from, applies_until, is_active, deactivated_at, deactivated_by, created_at`

// CreateOverride inserts an override.
func (r *SQLiteRepository) CreateOverride(ctx context.Context, o *Override) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO grow_cycle_overrides (`+overrideColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.CycleID, o.Parameter, string(o.ValueType), o.Value,
		database.NullableString(o.Reason), database.NullableString(o.CreatedBy),
		database.NullableTime(o.From), database.NullableTime(o.Until), boolToInt(o.IsActive),
		database.NullableTime(o.DeactivatedAt), database.NullableString(o.DeactivatedBy),
		database.FormatTime(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting override %s: %w", o.ID, err)
	}
	return nil
}

// GetOverride returns an override by ID.
func (r *SQLiteRepository) GetOverride(ctx context.Context, id string) (*Override, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+overrideColumns+` FROM grow_cycle_overrides WHERE id = ?`, id)
	o, err := scanOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOverrideNotFound.WithID(id)
	}
	return o, err
}

// DeactivateOverride clears is_active. Rows are never deleted.
func (r *SQLiteRepository) DeactivateOverride(ctx context.Context, id, actorID string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE grow_cycle_overrides SET is_active = 0, deactivated_at = ?, deactivated_by = ?
		 WHERE id = ? AND is_active = 1`,
		database.FormatTime(at), database.NullableString(actorID), id)
	if err != nil {
		return fmt.Errorf("deactivating override %s: %w", id, err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	return nil
}

// ListOverrides returns every override of a cycle, active or not, oldest first.
func (r *SQLiteRepository) ListOverrides(ctx context.Context, cycleID string) ([]Override, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+overrideColumns+` FROM grow_cycle_overrides WHERE grow_cycle_id = ? ORDER BY created_at, rowid`,
		cycleID)
	if err != nil {
		return nil, fmt.Errorf("querying overrides: %w", err)
	}
	defer rows.Close()

	result := []Override{}
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

// ActiveOverrides returns, per cycle, the overrides that are enabled and
// whose window contains now, oldest first so that later entries win.
func (r *SQLiteRepository) ActiveOverrides(ctx context.Context, cycleIDs []string, now time.Time) (map[string][]Override, error) {
	result := make(map[string][]Override, len(cycleIDs))
	if len(cycleIDs) == 0 {
		return result, nil
	}
	ts := database.FormatTime(now)
	args := append(database.Args(cycleIDs), ts, ts)

	rows, err := r.q.QueryContext(ctx,
		`SELECT `+overrideColumns+` FROM grow_cycle_overrides
		 WHERE grow_cycle_id IN (`+database.Placeholders(len(cycleIDs))+`)
		   AND is_active = 1
		   AND (applies_from IS NULL OR applies_from <= ?)
		   AND (applies_until IS NULL OR applies_until >= ?)
		 ORDER BY created_at, rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying active overrides: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		result[o.CycleID] = append(result[o.CycleID], *o)
	}
	return result, rows.Err()
}

func scanOverride(row rowScanner) (*Override, error) {
	var o Override
	var valueType, createdAt string
	var active int
	var reason, createdBy, from, until, deactivatedAt, deactivatedBy sql.NullString
	if err := row.Scan(&o.ID, &o.CycleID, &o.Parameter, &valueType, &o.Value, &reason, &createdBy,
		&from, &until, &active, &deactivatedAt, &deactivatedBy, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning override: %w", err)
	}
	o.ValueType = recipe.ValueKind(valueType)
	o.Reason = reason.String
	o.CreatedBy = createdBy.String
	o.IsActive = active == 1
	o.DeactivatedBy = deactivatedBy.String

	var err error
	if o.From, err = database.ParseNullTime(from); err != nil {
		return nil, err
	}
	if o.Until, err = database.ParseNullTime(until); err != nil {
		return nil, err
	}
	if o.DeactivatedAt, err = database.ParseNullTime(deactivatedAt); err != nil {
		return nil, err
	}
	if o.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// ─── Helpers ────────────────────────────────────────────────────────

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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
