package recipe

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/database"
)

// Repository defines the persistence operations of the recipe catalog.
type Repository interface {
	// InTx runs fn with a repository bound to one write transaction.
	InTx(ctx context.Context, fn func(tx Repository) error) error

	CreateRecipe(ctx context.Context, r *Recipe) error
	GetRecipe(ctx context.Context, id string) (*Recipe, error)
	ListRecipes(ctx context.Context) ([]Recipe, error)

	CreateRevision(ctx context.Context, rev *Revision) error
	UpdateRevision(ctx context.Context, rev *Revision) error
	GetRevisionHeader(ctx context.Context, id string) (*Revision, error)
	GetRevision(ctx context.Context, id string) (*Revision, error)
	ListRevisions(ctx context.Context, recipeID string) ([]Revision, error)
	NextRevisionNumber(ctx context.Context, recipeID string) (int, error)

	CreatePhase(ctx context.Context, p *Phase) error
	UpdatePhase(ctx context.Context, p *Phase) error
	DeletePhase(ctx context.Context, id string) error
	GetPhase(ctx context.Context, id string) (*Phase, error)
	LoadPhases(ctx context.Context, ids []string) (map[string]*Phase, error)
	PhaseIndexExists(ctx context.Context, revisionID string, index int, excludeID string) (bool, error)
	PhaseInUse(ctx context.Context, phaseID string) (bool, error)

	CreateStep(ctx context.Context, s *Step) error
	GetStep(ctx context.Context, id string) (*Step, error)
	DeleteStep(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB // nil when bound to a transaction
	q  database.Querier
}

// NewSQLiteRepository creates a new SQLite-backed recipe repository.
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

// ─── Recipes ────────────────────────────────────────────────────────

// CreateRecipe inserts a recipe.
func (r *SQLiteRepository) CreateRecipe(ctx context.Context, rec *Recipe) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO recipes (id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, database.NullableString(rec.Description),
		database.FormatTime(rec.CreatedAt), database.FormatTime(rec.UpdatedAt))
	if err != nil {
		if database.IsUniqueConstraintError(err) {
			return ErrRecipeExists.WithID(rec.Name)
		}
		return fmt.Errorf("inserting recipe %s: %w", rec.ID, err)
	}
	return nil
}

// GetRecipe returns a recipe by ID.
func (r *SQLiteRepository) GetRecipe(ctx context.Context, id string) (*Recipe, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM recipes WHERE id = ?`, id)
	rec, err := scanRecipe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecipeNotFound.WithID(id)
	}
	return rec, err
}

// ListRecipes returns every recipe ordered by name.
func (r *SQLiteRepository) ListRecipes(ctx context.Context) ([]Recipe, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM recipes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying recipes: %w", err)
	}
	defer rows.Close()

	result := []Recipe{}
	for rows.Next() {
		rec, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	return result, rows.Err()
}

func scanRecipe(row rowScanner) (*Recipe, error) {
	var rec Recipe
	var desc sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&rec.ID, &rec.Name, &desc, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning recipe: %w", err)
	}
	rec.Description = desc.String
	rec.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Format is controlled
	rec.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // Format is controlled
	return &rec, nil
}

// ─── Revisions ──────────────────────────────────────────────────────

const revisionColumns = `id, recipe_id, revision_number, status, description, created_by, published_at, created_at, updated_at`

// CreateRevision inserts a revision row. Phases are inserted separately.
func (r *SQLiteRepository) CreateRevision(ctx context.Context, rev *Revision) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO recipe_revisions (`+revisionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rev.ID, rev.RecipeID, rev.RevisionNumber, string(rev.Status),
		database.NullableString(rev.Description), database.NullableString(rev.CreatedBy),
		database.NullableTime(rev.PublishedAt),
		database.FormatTime(rev.CreatedAt), database.FormatTime(rev.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting revision %s: %w", rev.ID, err)
	}
	return nil
}

// UpdateRevision writes a revision's mutable columns.
func (r *SQLiteRepository) UpdateRevision(ctx context.Context, rev *Revision) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE recipe_revisions SET status = ?, description = ?, published_at = ?, updated_at = ? WHERE id = ?`,
		string(rev.Status), database.NullableString(rev.Description),
		database.NullableTime(rev.PublishedAt), database.FormatTime(rev.UpdatedAt), rev.ID)
	if err != nil {
		return fmt.Errorf("updating revision %s: %w", rev.ID, err)
	}
	return requireAffected(res, ErrRevisionNotFound.WithID(rev.ID))
}

// GetRevisionHeader returns a revision without its phases.
func (r *SQLiteRepository) GetRevisionHeader(ctx context.Context, id string) (*Revision, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+revisionColumns+` FROM recipe_revisions WHERE id = ?`, id)
	rev, err := scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRevisionNotFound.WithID(id)
	}
	return rev, err
}

// GetRevision returns a revision with its phases ordered by phase_index
// and each phase's steps ordered by step_index.
func (r *SQLiteRepository) GetRevision(ctx context.Context, id string) (*Revision, error) {
	rev, err := r.GetRevisionHeader(ctx, id)
	if err != nil {
		return nil, err
	}

	phases, err := r.queryPhases(ctx, `WHERE revision_id = ? ORDER BY phase_index`, id)
	if err != nil {
		return nil, err
	}
	if err := r.attachSteps(ctx, phases); err != nil {
		return nil, err
	}
	rev.Phases = make([]Phase, len(phases))
	for i, p := range phases {
		rev.Phases[i] = *p
	}
	return rev, nil
}

// ListRevisions returns a recipe's revisions ordered by revision_number, without phases.
func (r *SQLiteRepository) ListRevisions(ctx context.Context, recipeID string) ([]Revision, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+revisionColumns+` FROM recipe_revisions WHERE recipe_id = ? ORDER BY revision_number`, recipeID)
	if err != nil {
		return nil, fmt.Errorf("querying revisions: %w", err)
	}
	defer rows.Close()

	result := []Revision{}
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rev)
	}
	return result, rows.Err()
}

// NextRevisionNumber returns max(revision_number)+1 for the recipe.
// Call it inside the transaction that inserts the revision.
func (r *SQLiteRepository) NextRevisionNumber(ctx context.Context, recipeID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(revision_number), 0) + 1 FROM recipe_revisions WHERE recipe_id = ?`, recipeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("computing next revision number: %w", err)
	}
	return n, nil
}

func scanRevision(row rowScanner) (*Revision, error) {
	var rev Revision
	var status string
	var desc, createdBy, publishedAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&rev.ID, &rev.RecipeID, &rev.RevisionNumber, &status, &desc, &createdBy,
		&publishedAt, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning revision: %w", err)
	}
	rev.Status = RevisionStatus(status)
	rev.Description = desc.String
	rev.CreatedBy = createdBy.String
	rev.PublishedAt, _ = database.ParseNullTime(publishedAt) //nolint:errcheck // Format is controlled
	rev.CreatedAt, _ = database.ParseTime(createdAt)         //nolint:errcheck // Format is controlled
	rev.UpdatedAt, _ = database.ParseTime(updatedAt)         //nolint:errcheck // Format is controlled
	rev.Phases = []Phase{}
	return &rev, nil
}

// ─── Phases ─────────────────────────────────────────────────────────

const phaseColumns = `id, revision_id, phase_index, name, code,
	ph_target, ph_min, ph_max, ec_target, ec_min, ec_max,
	irrigation_mode, irrigation_interval_sec, irrigation_duration_sec,
	lighting_photoperiod_hours, lighting_start_time,
	mist_interval_sec, mist_duration_sec, mist_mode,
	temp_air_target, humidity_target, co2_target,
	progress_model, duration_hours, duration_days, base_temp_c, target_gdd, dli_target,
	created_at, updated_at`

// targetColumns lists pointers to t's fields in phaseColumns order.
// Used both as scan destinations and as bind arguments.
func targetColumns(t *Targets) []any {
	return []any{
		&t.PHTarget, &t.PHMin, &t.PHMax, &t.ECTarget, &t.ECMin, &t.ECMax,
		&t.IrrigationMode, &t.IrrigationIntervalSec, &t.IrrigationDurationSec,
		&t.LightingPhotoperiodHours, &t.LightingStartTime,
		&t.MistIntervalSec, &t.MistDurationSec, &t.MistMode,
		&t.TempAirTarget, &t.HumidityTarget, &t.CO2Target,
	}
}

func targetArgs(t *Targets) []any {
	return []any{
		t.PHTarget, t.PHMin, t.PHMax, t.ECTarget, t.ECMin, t.ECMax,
		t.IrrigationMode, t.IrrigationIntervalSec, t.IrrigationDurationSec,
		t.LightingPhotoperiodHours, t.LightingStartTime,
		t.MistIntervalSec, t.MistDurationSec, t.MistMode,
		t.TempAirTarget, t.HumidityTarget, t.CO2Target,
	}
}

func progressArgs(p *Progress) []any {
	return []any{string(p.Model), p.DurationHours, p.DurationDays, p.BaseTempC, p.TargetGDD, p.DLITarget}
}

// CreatePhase inserts a phase and any steps it carries.
func (r *SQLiteRepository) CreatePhase(ctx context.Context, p *Phase) error {
	args := []any{p.ID, p.RevisionID, p.PhaseIndex, p.Name, database.NullableString(p.Code)}
	args = append(args, targetArgs(&p.Targets)...)
	args = append(args, progressArgs(&p.Progress)...)
	args = append(args, database.FormatTime(p.CreatedAt), database.FormatTime(p.UpdatedAt))

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO recipe_phases (`+phaseColumns+`) VALUES (`+database.Placeholders(len(args))+`)`, args...)
	if err != nil {
		if database.IsUniqueConstraintError(err) {
			return ErrPhaseIndexConflict.WithID(p.RevisionID).Withf("phase_index %d is already used", p.PhaseIndex)
		}
		return fmt.Errorf("inserting phase %s: %w", p.ID, err)
	}

	for i := range p.Steps {
		if err := r.CreateStep(ctx, &p.Steps[i]); err != nil {
			return err
		}
	}
	return nil
}

// UpdatePhase rewrites a phase's columns. Steps are left untouched.
func (r *SQLiteRepository) UpdatePhase(ctx context.Context, p *Phase) error {
	args := []any{p.PhaseIndex, p.Name, database.NullableString(p.Code)}
	args = append(args, targetArgs(&p.Targets)...)
	args = append(args, progressArgs(&p.Progress)...)
	args = append(args, database.FormatTime(p.UpdatedAt), p.ID)

	res, err := r.q.ExecContext(ctx, `UPDATE recipe_phases SET
		phase_index = ?, name = ?, code = ?,
		ph_target = ?, ph_min = ?, ph_max = ?, ec_target = ?, ec_min = ?, ec_max = ?,
		irrigation_mode = ?, irrigation_interval_sec = ?, irrigation_duration_sec = ?,
		lighting_photoperiod_hours = ?, lighting_start_time = ?,
		mist_interval_sec = ?, mist_duration_sec = ?, mist_mode = ?,
		temp_air_target = ?, humidity_target = ?, co2_target = ?,
		progress_model = ?, duration_hours = ?, duration_days = ?, base_temp_c = ?, target_gdd = ?, dli_target = ?,
		updated_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		if database.IsUniqueConstraintError(err) {
			return ErrPhaseIndexConflict.WithID(p.RevisionID).Withf("phase_index %d is already used", p.PhaseIndex)
		}
		return fmt.Errorf("updating phase %s: %w", p.ID, err)
	}
	return requireAffected(res, ErrPhaseNotFound.WithID(p.ID))
}

// DeletePhase removes a phase and, by cascade, its steps.
func (r *SQLiteRepository) DeletePhase(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM recipe_phases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting phase %s: %w", id, err)
	}
	return requireAffected(res, ErrPhaseNotFound.WithID(id))
}

// GetPhase returns a phase with its steps.
func (r *SQLiteRepository) GetPhase(ctx context.Context, id string) (*Phase, error) {
	phases, err := r.LoadPhases(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	p, ok := phases[id]
	if !ok {
		return nil, ErrPhaseNotFound.WithID(id)
	}
	return p, nil
}

// LoadPhases returns the phases with the given IDs, keyed by ID, each with
// its steps. Missing IDs are absent from the map. Two queries regardless of
// how many IDs are asked for.
func (r *SQLiteRepository) LoadPhases(ctx context.Context, ids []string) (map[string]*Phase, error) {
	result := make(map[string]*Phase, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	phases, err := r.queryPhases(ctx,
		`WHERE id IN (`+database.Placeholders(len(ids))+`)`, database.Args(ids)...)
	if err != nil {
		return nil, err
	}
	if err := r.attachSteps(ctx, phases); err != nil {
		return nil, err
	}
	for _, p := range phases {
		result[p.ID] = p
	}
	return result, nil
}

// PhaseIndexExists reports whether another phase of the revision uses index.
func (r *SQLiteRepository) PhaseIndexExists(ctx context.Context, revisionID string, index int, excludeID string) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recipe_phases WHERE revision_id = ? AND phase_index = ? AND id != ?`,
		revisionID, index, excludeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking phase index: %w", err)
	}
	return n > 0, nil
}

// PhaseInUse reports whether an active grow cycle is currently in the phase.
func (r *SQLiteRepository) PhaseInUse(ctx context.Context, phaseID string) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM grow_cycles
		 WHERE current_phase_id = ? AND status IN ('PLANNED', 'RUNNING', 'PAUSED')`, phaseID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking phase usage: %w", err)
	}
	return n > 0, nil
}

// queryPhases runs a phase SELECT with the given tail and closes its rows
// before returning, so callers can issue the next query on the same connection.
func (r *SQLiteRepository) queryPhases(ctx context.Context, tail string, args ...any) ([]*Phase, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+phaseColumns+` FROM recipe_phases `+tail, args...) //nolint:gosec // tail is a constant clause
	if err != nil {
		return nil, fmt.Errorf("querying phases: %w", err)
	}
	defer rows.Close()

	var phases []*Phase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating phases: %w", err)
	}
	return phases, nil
}

func scanPhase(row rowScanner) (*Phase, error) {
	var p Phase
	var code sql.NullString
	var model, createdAt, updatedAt string

	dest := []any{&p.ID, &p.RevisionID, &p.PhaseIndex, &p.Name, &code}
	dest = append(dest, targetColumns(&p.Targets)...)
	dest = append(dest, &model, &p.Progress.DurationHours, &p.Progress.DurationDays,
		&p.Progress.BaseTempC, &p.Progress.TargetGDD, &p.Progress.DLITarget, &createdAt, &updatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scanning phase: %w", err)
	}
	p.Code = code.String
	p.Progress.Model = ProgressModel(model)
	p.Steps = []Step{}
	p.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Format is controlled
	p.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // Format is controlled
	return &p, nil
}

// ─── Steps ──────────────────────────────────────────────────────────

const stepColumns = `id, phase_id, step_index, name, offset_hours, action, targets, created_at`

// CreateStep inserts a step.
func (r *SQLiteRepository) CreateStep(ctx context.Context, s *Step) error {
	if s.Targets == nil {
		s.Targets = map[string]any{}
	}
	targets, err := json.Marshal(s.Targets)
	if err != nil {
		return fmt.Errorf("marshalling step targets: %w", err)
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO recipe_phase_steps (`+stepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.PhaseID, s.StepIndex, s.Name, s.OffsetHours, database.NullableString(s.Action),
		string(targets), database.FormatTime(s.CreatedAt))
	if err != nil {
		if database.IsUniqueConstraintError(err) {
			return ErrStepIndexConflict.WithID(s.PhaseID).Withf("step_index %d is already used", s.StepIndex)
		}
		return fmt.Errorf("inserting step %s: %w", s.ID, err)
	}
	return nil
}

// GetStep returns a step by ID.
func (r *SQLiteRepository) GetStep(ctx context.Context, id string) (*Step, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM recipe_phase_steps WHERE id = ?`, id)
	s, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStepNotFound.WithID(id)
	}
	return s, err
}

// DeleteStep removes a step.
func (r *SQLiteRepository) DeleteStep(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM recipe_phase_steps WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting step %s: %w", id, err)
	}
	return requireAffected(res, ErrStepNotFound.WithID(id))
}

// attachSteps loads the steps of every phase in one query.
func (r *SQLiteRepository) attachSteps(ctx context.Context, phases []*Phase) error {
	if len(phases) == 0 {
		return nil
	}
	byID := make(map[string]*Phase, len(phases))
	ids := make([]string, 0, len(phases))
	for _, p := range phases {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM recipe_phase_steps WHERE phase_id IN (`+database.Placeholders(len(ids))+`)
		 ORDER BY phase_id, step_index`, database.Args(ids)...)
	if err != nil {
		return fmt.Errorf("querying steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return err
		}
		if p := byID[s.PhaseID]; p != nil {
			p.Steps = append(p.Steps, *s)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating steps: %w", err)
	}
	return nil
}

func scanStep(row rowScanner) (*Step, error) {
	var s Step
	var action sql.NullString
	var targets, createdAt string
	if err := row.Scan(&s.ID, &s.PhaseID, &s.StepIndex, &s.Name, &s.OffsetHours, &action, &targets, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning step: %w", err)
	}
	s.Action = action.String
	if err := json.Unmarshal([]byte(targets), &s.Targets); err != nil || s.Targets == nil {
		s.Targets = map[string]any{}
	}
	s.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Format is controlled
	return &s, nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// normaliseName trims surrounding whitespace from user-supplied names.
func normaliseName(s string) string {
	return strings.TrimSpace(s)
}
