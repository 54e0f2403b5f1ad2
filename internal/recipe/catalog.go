package recipe

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-grow/internal/audit"
	"github.com/nerrad567/gray-logic-grow/internal/auth"
)

// Logger defines the logging interface used by the catalog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Catalog manages recipes, revisions, phases and steps. Every mutation is
// checked against the actor's recipe:manage capability and audited after commit.
type Catalog struct {
	repo   Repository
	authz  auth.Authorizer
	audit  *audit.Recorder
	logger Logger
	now    func() time.Time
}

// NewCatalog creates a catalog service.
func NewCatalog(repo Repository, authz auth.Authorizer, recorder *audit.Recorder) *Catalog {
	return &Catalog{
		repo:   repo,
		authz:  authz,
		audit:  recorder,
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the catalog.
func (c *Catalog) SetLogger(logger Logger) {
	c.logger = logger
}

// SetClock replaces the time source.
func (c *Catalog) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Catalog) requireManage(ctx context.Context, actor auth.ActorContext) error {
	return auth.Require(ctx, c.authz, actor, auth.CapRecipeManage, auth.GlobalScope())
}

func (c *Catalog) requireRead(ctx context.Context, actor auth.ActorContext) error {
	return auth.Require(ctx, c.authz, actor, auth.CapCycleRead, auth.GlobalScope())
}

// ─── Recipes ────────────────────────────────────────────────────────

// CreateRecipe creates a recipe with no revisions.
func (c *Catalog) CreateRecipe(ctx context.Context, actor auth.ActorContext, name, description string) (*Recipe, error) {
	if err := c.requireManage(ctx, actor); err != nil {
		return nil, err
	}
	now := c.now()
	rec := &Recipe{
		ID:          uuid.NewString(),
		Name:        normaliseName(name),
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := ValidateRecipe(rec); err != nil {
		return nil, err
	}
	if err := c.repo.CreateRecipe(ctx, rec); err != nil {
		return nil, err
	}

	c.audit.Record(ctx, audit.ActionCreate, audit.EntityRecipe, rec.ID, actor.ActorID, map[string]any{"name": rec.Name})
	c.logger.Info("recipe created", "recipe_id", rec.ID, "name", rec.Name, "actor", actor.ActorID)
	return rec, nil
}

// GetRecipe returns a recipe by ID.
func (c *Catalog) GetRecipe(ctx context.Context, actor auth.ActorContext, id string) (*Recipe, error) {
	if err := c.requireRead(ctx, actor); err != nil {
		return nil, err
	}
	return c.repo.GetRecipe(ctx, id)
}

// ListRecipes returns every recipe.
func (c *Catalog) ListRecipes(ctx context.Context, actor auth.ActorContext) ([]Recipe, error) {
	if err := c.requireRead(ctx, actor); err != nil {
		return nil, err
	}
	return c.repo.ListRecipes(ctx)
}

// ─── Revisions ──────────────────────────────────────────────────────

// RevisionInput describes a new revision.
type RevisionInput struct {
	RecipeID    string `json:"recipe_id"`
	CloneFromID string `json:"clone_from_revision_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// CreateRevision creates a DRAFT revision numbered one past the recipe's
// highest. With CloneFromID set, the source's phases and steps are
// deep-copied under new IDs; the source must belong to the same recipe.
func (c *Catalog) CreateRevision(ctx context.Context, actor auth.ActorContext, in RevisionInput) (*Revision, error) {
	if err := c.requireManage(ctx, actor); err != nil {
		return nil, err
	}
	if len(in.Description) > maxDescriptionLength {
		return nil, ErrInvalidRecipe.Withf("description exceeds %d characters", maxDescriptionLength)
	}

	now := c.now()
	rev := &Revision{
		ID:          uuid.NewString(),
		RecipeID:    in.RecipeID,
		Status:      StatusDraft,
		Description: in.Description,
		CreatedBy:   actor.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Phases:      []Phase{},
	}

	err := c.repo.InTx(ctx, func(tx Repository) error {
		if _, err := tx.GetRecipe(ctx, in.RecipeID); err != nil {
			return err
		}

		var source *Revision
		if in.CloneFromID != "" {
			var err error
			if source, err = tx.GetRevision(ctx, in.CloneFromID); err != nil {
				return err
			}
			if source.RecipeID != in.RecipeID {
				return ErrCloneSourceMismatch.WithID(in.CloneFromID)
			}
		}

		n, err := tx.NextRevisionNumber(ctx, in.RecipeID)
		if err != nil {
			return err
		}
		rev.RevisionNumber = n
		if err := tx.CreateRevision(ctx, rev); err != nil {
			return err
		}

		if source == nil {
			return nil
		}
		for i := range source.Phases {
			p := clonePhase(&source.Phases[i], rev.ID, now)
			if err := tx.CreatePhase(ctx, p); err != nil {
				return err
			}
			rev.Phases = append(rev.Phases, *p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	details := map[string]any{"recipe_id": rev.RecipeID, "revision_number": rev.RevisionNumber}
	if in.CloneFromID != "" {
		details["cloned_from"] = in.CloneFromID
	}
	c.audit.Record(ctx, audit.ActionCreate, audit.EntityRevision, rev.ID, actor.ActorID, details)
	c.logger.Info("revision created", "revision_id", rev.ID, "recipe_id", rev.RecipeID,
		"revision_number", rev.RevisionNumber, "cloned_from", in.CloneFromID)
	return rev, nil
}

// clonePhase copies a phase and its steps under fresh IDs into revisionID.
func clonePhase(src *Phase, revisionID string, now time.Time) *Phase {
	p := src.DeepCopy()
	p.ID = uuid.NewString()
	p.RevisionID = revisionID
	p.CreatedAt, p.UpdatedAt = now, now
	for i := range p.Steps {
		p.Steps[i].ID = uuid.NewString()
		p.Steps[i].PhaseID = p.ID
		p.Steps[i].CreatedAt = now
	}
	return p
}

// RevisionUpdate carries the editable fields of a revision. Nil fields are unchanged.
type RevisionUpdate struct {
	Description *string `json:"description,omitempty"`
}

// UpdateRevision edits a DRAFT revision. Published revisions fail with ErrNotEditable.
func (c *Catalog) UpdateRevision(ctx context.Context, actor auth.ActorContext, id string, upd RevisionUpdate) (*Revision, error) {
	if err := c.requireManage(ctx, actor); err != nil {
		return nil, err
	}
	if upd.Description != nil && len(*upd.Description) > maxDescriptionLength {
		return nil, ErrInvalidRecipe.Withf("description exceeds %d characters", maxDescriptionLength)
	}

	var rev *Revision
	err := c.repo.InTx(ctx, func(tx Repository) error {
		var err error
		if rev, err = tx.GetRevision(ctx, id); err != nil {
			return err
		}
		if !rev.Editable() {
			return ErrNotEditable.WithID(id)
		}
		if upd.Description != nil {
			rev.Description = *upd.Description
		}
		rev.UpdatedAt = c.now()
		return tx.UpdateRevision(ctx, rev)
	})
	if err != nil {
		return nil, err
	}

	c.audit.Record(ctx, audit.ActionUpdate, audit.EntityRevision, rev.ID, actor.ActorID, nil)
	return rev, nil
}

// PublishRevision freezes a DRAFT revision. It fails with ErrAlreadyPublished
// when already published and with ErrEmptyRevision when it has no phases.
func (c *Catalog) PublishRevision(ctx context.Context, actor auth.ActorContext, id string) (*Revision, error) {
	if err := c.requireManage(ctx, actor); err != nil {
		return nil, err
	}

	var rev *Revision
	err := c.repo.InTx(ctx, func(tx Repository) error {
		var err error
		if rev, err = tx.GetRevision(ctx, id); err != nil {
			return err
		}
		if rev.IsPublished() {
			return ErrAlreadyPublished.WithID(id)
		}
		if len(rev.Phases) == 0 {
			return ErrEmptyRevision.WithID(id)
		}
		for i := range rev.Phases {
			if err := ValidatePhase(&rev.Phases[i]); err != nil {
				return err
			}
		}
		now := c.now()
		rev.Status = StatusPublished
		rev.PublishedAt = &now
		rev.UpdatedAt = now
		return tx.UpdateRevision(ctx, rev)
	})
	if err != nil {
		return nil, err
	}

	c.audit.Record(ctx, audit.ActionPublish, audit.EntityRevision, rev.ID, actor.ActorID,
		map[string]any{"recipe_id": rev.RecipeID, "revision_number": rev.RevisionNumber})
	c.logger.Info("revision published", "revision_id", rev.ID, "recipe_id", rev.RecipeID,
		"revision_number", rev.RevisionNumber, "phases", len(rev.Phases))
	return rev, nil
}

// GetRevision returns a revision with its ordered phases and steps.
func (c *Catalog) GetRevision(ctx context.Context, actor auth.ActorContext, id string) (*Revision, error) {
	if err := c.requireRead(ctx, actor); err != nil {
		return nil, err
	}
	return c.repo.GetRevision(ctx, id)
}

// ListRevisions returns a recipe's revisions without phases.
func (c *Catalog) ListRevisions(ctx context.Context, actor auth.ActorContext, recipeID string) ([]Revision, error) {
	if err := c.requireRead(ctx, actor); err != nil {
		return nil, err
	}
	if _, err := c.repo.GetRecipe(ctx, recipeID); err != nil {
		return nil, err
	}
	return c.repo.ListRevisions(ctx, recipeID)
}

// ─── Phases ─────────────────────────────────────────────────────────

// editableRevision loads a revision header inside tx and rejects published ones.
func editableRevision(ctx context.Context, tx Repository, id string) (*Revision, error) {
	rev, err := tx.GetRevisionHeader(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rev.Editable() {
		return nil, ErrNotEditable.WithID(id)
	}
	return rev, nil
}

// CreatePhase adds a phase, and any steps it carries, to a DRAFT revision.
func (c *Catalog) CreatePhase(ctx context.Context, actor auth.ActorContext, revisionID string, in *Phase) (*Phase, error) {
	if err := c.requireManage(ctx, actor); err != nil {
		return nil, err
	}

	now := c.now()
	p := in.DeepCopy()
	p.ID = uuid.NewString()
	p.RevisionID = revisionID
	p.Name = normaliseName(p.Name)
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Steps == nil {
		p.Steps = []Step{}
	}
	for i := range p.Steps {
		s := &p.Steps[i]
		s.ID = uuid.NewString()
		s.PhaseID = p.ID
		s.Name = normaliseName(s.Name)
		s.CreatedAt = now
	}

	err := c.repo.InTx(ctx, func(tx Repository) error {
		// A published revision reports not_editable whatever the body holds.
		if _, err := editableRevision(ctx, tx, revisionID); err != nil {
			return err
		}
		if err := validateNewPhase(p); err != nil {
			return err
		}
		taken, err := tx.PhaseIndexExists(ctx, revisionID, p.PhaseIndex, "")
		if err != nil {
			return err
		}
		if taken {
			return ErrPhaseIndexConflict.WithID(revisionID).Withf("phase_index %d is already used", p.PhaseIndex)
		}
		return tx.CreatePhase(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	c.audit.Record(ctx, audit.ActionCreate, audit.EntityPhase, p.ID, actor.ActorID,
		map[string]any{"revision_id": revisionID, "phase_index": p.PhaseIndex})
	return p, nil
}

// validateNewPhase checks a phase and the steps it carries, then orders
// the steps by index.
func validateNewPhase(p *Phase) error {
	if err := ValidatePhase(p); err != nil {
		return err
	}
	seen := make(map[int]bool, len(p.Steps))
	for i := range p.Steps {
		s := &p.Steps[i]
		if err := ValidateStep(s, p.Targets); err != nil {
			return err
		}
		if seen[s.StepIndex] {
			return ErrStepIndexConflict.WithID(p.ID).Withf("step_index %d is used twice", s.StepIndex)
		}
		seen[s.StepIndex] = true
	}
	sortSteps(p.Steps)
	return nil
}

// UpdatePhase replaces a phase's index, name, code, targets and progress
// model. Steps are edited separately.
func (c *Catalog) UpdatePhase(ctx context.Context, actor auth.ActorContext, phaseID string, in *Phase) (*Phase, error) {
	if err := c.requireManage(ctx, actor); err != nil {
		return nil, err
	}

	var p *Phase
	err := c.repo.InTx(ctx, func(tx Repository) error {
		current, err := tx.GetPhase(ctx, phaseID)
		if err != nil {
			return err
		}
		if _, err := editableRevision(ctx, tx, current.RevisionID); err != nil {
			return err
		}

		p = in.DeepCopy()
		p.ID = current.ID
		p.RevisionID = current.RevisionID
		p.Name = normaliseName(p.Name)
		p.Steps = current.Steps
		p.CreatedAt = current.CreatedAt
		p.UpdatedAt = c.now()
		if err := ValidatePhase(p); err != nil {
			return err
		}
		for i := range p.Steps {
			if err := ValidateStep(&p.Steps[i], p.Targets); err != nil {
				return err
			}
		}

		taken, err := tx.PhaseIndexExists(ctx, p.RevisionID, p.PhaseIndex, p.ID)
		if err != nil {
			return err
		}
		if taken {
			return ErrPhaseIndexConflict.WithID(p.RevisionID).Withf("phase_index %d is already used", p.PhaseIndex)
		}
		return tx.UpdatePhase(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	c.audit.Record(ctx, audit.ActionUpdate, audit.EntityPhase, p.ID, actor.ActorID, nil)
	return p, nil
}

// DeletePhase removes a phase of a DRAFT revision. A phase that an active
// grow cycle is currently in fails with ErrPhaseInUse.
func (c *Catalog) DeletePhase(ctx context.Context, actor auth.ActorContext, phaseID string) error {
	if err := c.requireManage(ctx, actor); err != nil {
		return err
	}

	err := c.repo.InTx(ctx, func(tx Repository) error {
		p, err := tx.GetPhase(ctx, phaseID)
		if err != nil {
			return err
		}
		inUse, err := tx.PhaseInUse(ctx, phaseID)
		if err != nil {
			return err
		}
		if inUse {
			return ErrPhaseInUse.WithID(phaseID)
		}
		if _, err := editableRevision(ctx, tx, p.RevisionID); err != nil {
			return err
		}
		return tx.DeletePhase(ctx, phaseID)
	})
	if err != nil {
		return err
	}

	c.audit.Record(ctx, audit.ActionDelete, audit.EntityPhase, phaseID, actor.ActorID, nil)
	return nil
}

// GetPhase returns a phase with its steps.
func (c *Catalog) GetPhase(ctx context.Context, actor auth.ActorContext, id string) (*Phase, error) {
	if err := c.requireRead(ctx, actor); err != nil {
		return nil, err
	}
	return c.repo.GetPhase(ctx, id)
}

// ─── Steps ──────────────────────────────────────────────────────────

// CreateStep adds a step to a phase of a DRAFT revision.
func (c *Catalog) CreateStep(ctx context.Context, actor auth.ActorContext, phaseID string, in *Step) (*Step, error) {
	if err := c.requireManage(ctx, actor); err != nil {
		return nil, err
	}

	s := *in
	s.ID = uuid.NewString()
	s.PhaseID = phaseID
	s.Name = normaliseName(s.Name)
	s.CreatedAt = c.now()

	err := c.repo.InTx(ctx, func(tx Repository) error {
		p, err := tx.GetPhase(ctx, phaseID)
		if err != nil {
			return err
		}
		if _, err := editableRevision(ctx, tx, p.RevisionID); err != nil {
			return err
		}
		if err := ValidateStep(&s, p.Targets); err != nil {
			return err
		}
		if p.StepByIndex(s.StepIndex) != nil {
			return ErrStepIndexConflict.WithID(phaseID).Withf("step_index %d is already used", s.StepIndex)
		}
		return tx.CreateStep(ctx, &s)
	})
	if err != nil {
		return nil, err
	}

	c.audit.Record(ctx, audit.ActionCreate, audit.EntityStep, s.ID, actor.ActorID,
		map[string]any{"phase_id": phaseID, "step_index": s.StepIndex})
	return &s, nil
}

// DeleteStep removes a step from a phase of a DRAFT revision.
func (c *Catalog) DeleteStep(ctx context.Context, actor auth.ActorContext, stepID string) error {
	if err := c.requireManage(ctx, actor); err != nil {
		return err
	}

	err := c.repo.InTx(ctx, func(tx Repository) error {
		s, err := tx.GetStep(ctx, stepID)
		if err != nil {
			return err
		}
		p, err := tx.GetPhase(ctx, s.PhaseID)
		if err != nil {
			return err
		}
		if _, err := editableRevision(ctx, tx, p.RevisionID); err != nil {
			return err
		}
		return tx.DeleteStep(ctx, stepID)
	})
	if err != nil {
		return err
	}

	c.audit.Record(ctx, audit.ActionDelete, audit.EntityStep, stepID, actor.ActorID, nil)
	return nil
}

func sortSteps(steps []Step) {
	slices.SortFunc(steps, func(a, b Step) int { return cmp.Compare(a.StepIndex, b.StepIndex) })
}
