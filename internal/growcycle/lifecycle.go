package growcycle

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-grow/internal/auth"
	"github.com/nerrad567/gray-logic-grow/internal/recipe"
)

const (
	maxNotesLength      = 4000
	maxCommentLength    = 1000
	maxBatchLabelLength = 100
)

// CreateCycleInput describes a new grow cycle.
type CreateCycleInput struct {
	ZoneID            string         `json:"zone_id"`
	RevisionID        string         `json:"recipe_revision_id"`
	PlantID           string         `json:"plant_id"`
	PlantingAt        *time.Time     `json:"planting_at,omitempty"`
	StartImmediately  bool           `json:"start_immediately"`
	ExpectedHarvestAt *time.Time     `json:"expected_harvest_at,omitempty"`
	BatchLabel        string         `json:"batch_label,omitempty"`
	Notes             string         `json:"notes,omitempty"`
	Settings          map[string]any `json:"settings,omitempty"`
}

// HarvestInput carries the data recorded at harvest.
type HarvestInput struct {
	BatchLabel string `json:"batch_label,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// AbortInput carries the data recorded at abort.
type AbortInput struct {
	Notes string `json:"notes,omitempty"`
}

func (in *CreateCycleInput) validate() error {
	switch {
	case in.ZoneID == "":
		return ErrInvalidCycle.Withf("zone_id is required")
	case in.RevisionID == "":
		return ErrInvalidCycle.Withf("recipe_revision_id is required")
	case in.PlantID == "":
		return ErrInvalidCycle.Withf("plant_id is required")
	}
	return validateFreeText(in.BatchLabel, in.Notes)
}

func validateFreeText(batchLabel, notes string) error {
	if len(batchLabel) > maxBatchLabelLength {
		return ErrInvalidCycle.Withf("batch_label exceeds %d characters", maxBatchLabelLength)
	}
	if len(notes) > maxNotesLength {
		return ErrInvalidCycle.Withf("notes exceed %d characters", maxNotesLength)
	}
	return nil
}

// ─── Create / start ─────────────────────────────────────────────────

// CreateCycle creates a cycle in PLANNED, or RUNNING when StartImmediately
// is set. The revision must be published and the zone must have no other
// active cycle. The cycle starts in the revision's first phase and that
// phase's first step; one status_change transition records the creation.
func (s *Service) CreateCycle(ctx context.Context, actor auth.ActorContext, in CreateCycleInput) (*Cycle, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := auth.Require(ctx, s.authz, actor, auth.CapCycleOperate, auth.ZoneScope(in.ZoneID)); err != nil {
		return nil, err
	}
	if _, err := s.places.GetZone(ctx, in.ZoneID); err != nil {
		return nil, err
	}
	if _, err := s.places.GetPlant(ctx, in.PlantID); err != nil {
		return nil, err
	}
	rev, err := s.loadRevision(ctx, in.RevisionID)
	if err != nil {
		return nil, err
	}
	first := rev.FirstPhase()
	if first == nil {
		return nil, ErrInvalidCycle.WithID(rev.ID).Withf("revision has no phases")
	}

	now := s.now()
	c := &Cycle{
		ID:                uuid.NewString(),
		ZoneID:            in.ZoneID,
		PlantID:           in.PlantID,
		RevisionID:        rev.ID,
		Status:            StatusPlanned,
		CurrentPhaseID:    first.ID,
		PlantingAt:        in.PlantingAt,
		ExpectedHarvestAt: in.ExpectedHarvestAt,
		Notes:             in.Notes,
		BatchLabel:        in.BatchLabel,
		Settings:          maps.Clone(in.Settings),
		CreatedBy:         actor.ActorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if c.Settings == nil {
		c.Settings = map[string]any{}
	}
	if step := first.FirstStep(); step != nil {
		c.CurrentStepID = step.ID
	}
	if in.StartImmediately {
		start(c, rev, now)
	}

	tr := &Transition{
		Trigger:  TriggerStatusChange,
		Metadata: map[string]any{"event": "created", "start_immediately": in.StartImmediately},
	}
	fillTransition(tr, &Cycle{}, c, actor, now)

	err = s.repo.InTx(ctx, func(tx Repository) error {
		existing, err := tx.GetActiveCycleForZone(ctx, in.ZoneID)
		if err == nil {
			return ErrZoneHasActiveCycle.WithID(in.ZoneID).Withf("zone already has active grow cycle %s (%s)", existing.ID, existing.Status)
		}
		if !errors.Is(err, ErrNoActiveCycle) {
			return err
		}
		if err := tx.CreateCycle(ctx, c); err != nil {
			return err
		}
		return tx.AppendTransition(ctx, tr)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, c, tr)
	return c, nil
}

// start stamps the recipe clock and fills expected harvest when every
// phase has a fixed duration.
func start(c *Cycle, rev *recipe.Revision, now time.Time) {
	c.Status = StatusRunning
	c.StartedAt = timePtr(now)
	c.PhaseStartedAt = timePtr(now)
	if c.CurrentStepID != "" {
		c.StepStartedAt = timePtr(now)
	}
	if c.ExpectedHarvestAt == nil {
		if total, ok := rev.TotalDuration(); ok {
			c.ExpectedHarvestAt = timePtr(now.Add(total))
		}
	}
}

// StartCycle moves a PLANNED cycle to RUNNING and starts the recipe clock.
func (s *Service) StartCycle(ctx context.Context, actor auth.ActorContext, id string) (*Cycle, error) {
	snap, err := s.authorizedCycle(ctx, actor, auth.CapCycleOperate, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(snap, "start", StatusPlanned); err != nil {
		return nil, err
	}
	rev, err := s.loadRevision(ctx, snap.RevisionID)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, actor, id, snap, func(c *Cycle, now time.Time) (*Transition, error) {
		start(c, rev, now)
		return &Transition{Trigger: TriggerStatusChange}, nil
	})
}

// ─── Pause / resume ─────────────────────────────────────────────────

// Pause moves a RUNNING cycle to PAUSED. The phase clock keeps running:
// phase_started_at is not adjusted, so time-based progress accrues while paused.
func (s *Service) Pause(ctx context.Context, actor auth.ActorContext, id string) (*Cycle, error) {
	return s.setStatus(ctx, actor, id, "pause", StatusPaused, []Status{StatusRunning}, nil)
}

// Resume moves a PAUSED cycle back to RUNNING without resetting phase_started_at.
func (s *Service) Resume(ctx context.Context, actor auth.ActorContext, id string) (*Cycle, error) {
	return s.setStatus(ctx, actor, id, "resume", StatusRunning, []Status{StatusPaused}, nil)
}

// ─── Terminal transitions ───────────────────────────────────────────

// Harvest moves a RUNNING or PAUSED cycle to HARVESTED and stamps actual_harvest_at.
func (s *Service) Harvest(ctx context.Context, actor auth.ActorContext, id string, in HarvestInput) (*Cycle, error) {
	if err := validateFreeText(in.BatchLabel, in.Notes); err != nil {
		return nil, err
	}
	return s.setStatus(ctx, actor, id, "harvest", StatusHarvested, []Status{StatusRunning, StatusPaused},
		func(c *Cycle, now time.Time) {
			c.ActualHarvestAt = timePtr(now)
			if in.BatchLabel != "" {
				c.BatchLabel = in.BatchLabel
			}
			if in.Notes != "" {
				c.Notes = in.Notes
			}
		})
}

// Abort moves any non-terminal cycle to ABORTED and stamps aborted_at.
func (s *Service) Abort(ctx context.Context, actor auth.ActorContext, id string, in AbortInput) (*Cycle, error) {
	if err := validateFreeText("", in.Notes); err != nil {
		return nil, err
	}
	return s.setStatus(ctx, actor, id, "abort", StatusAborted, ActiveStatuses(),
		func(c *Cycle, now time.Time) {
			c.AbortedAt = timePtr(now)
			if in.Notes != "" {
				c.Notes = in.Notes
			}
		})
}

// setStatus is the shared path for plain status moves. The source status
// is checked against the fresh row inside the transaction.
func (s *Service) setStatus(ctx context.Context, actor auth.ActorContext, id, op string, to Status, from []Status, stamp func(*Cycle, time.Time)) (*Cycle, error) {
	if _, err := s.authorizedCycle(ctx, actor, auth.CapCycleOperate, id); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, nil, func(c *Cycle, now time.Time) (*Transition, error) {
		if err := requireStatus(c, op, from...); err != nil {
			return nil, err
		}
		if err := checkTransition(c, to); err != nil {
			return nil, err
		}
		c.Status = to
		if stamp != nil {
			stamp(c, now)
		}
		return &Transition{Trigger: TriggerStatusChange}, nil
	})
}

// ─── Phase movement ─────────────────────────────────────────────────

// AdvancePhase moves a RUNNING cycle to the next phase by phase_index once
// the current phase is complete under its progress model. On the last
// phase it fails with ErrNoNextPhase regardless of progress. A pending
// revision swap is applied here: the next phase is taken from the pending
// revision.
func (s *Service) AdvancePhase(ctx context.Context, actor auth.ActorContext, id string) (*Cycle, error) {
	snap, err := s.authorizedCycle(ctx, actor, auth.CapCycleOperate, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(snap, "advance", StatusRunning); err != nil {
		return nil, err
	}

	rev, phase, err := s.currentPhase(ctx, snap)
	if err != nil {
		return nil, err
	}
	target := rev
	if snap.PendingRevisionID != "" {
		if target, err = s.loadRevision(ctx, snap.PendingRevisionID); err != nil {
			return nil, err
		}
	}
	next := target.NextPhase(phase.PhaseIndex)
	if next == nil {
		return nil, ErrNoNextPhase.WithID(id).Withf("phase %d (%s) is the last phase of revision %d",
			phase.PhaseIndex, phase.Name, target.RevisionNumber)
	}

	prog, err := evaluateProgress(ctx, s.telemetry, snap, phase, s.now())
	if err != nil {
		return nil, err
	}
	if !prog.Complete {
		return nil, ErrPhaseNotComplete.WithID(id).Withf("%s progress %.2f of %.2f %s",
			prog.Model, prog.Value, prog.Target, prog.Unit)
	}

	return s.mutate(ctx, actor, id, snap, func(c *Cycle, now time.Time) (*Transition, error) {
		meta := map[string]any{
			"progress_model":  string(prog.Model),
			"progress_value":  prog.Value,
			"progress_target": prog.Target,
		}
		if c.PendingRevisionID != "" {
			meta["applied_pending_revision"] = c.PendingRevisionID
		}
		enterPhase(c, target.ID, next, now)
		c.PendingRevisionID = ""
		return &Transition{Trigger: TriggerAutoAdvance, Metadata: meta}, nil
	})
}

// enterPhase points the cycle at phase and restarts the phase clock when
// the cycle has started.
func enterPhase(c *Cycle, revisionID string, phase *recipe.Phase, now time.Time) {
	c.RevisionID = revisionID
	c.CurrentPhaseID = phase.ID
	c.CurrentStepID = ""
	c.StepStartedAt = nil
	if step := phase.FirstStep(); step != nil {
		c.CurrentStepID = step.ID
	}
	if c.StartedAt == nil {
		return
	}
	c.PhaseStartedAt = timePtr(now)
	if c.CurrentStepID != "" {
		c.StepStartedAt = timePtr(now)
	}
}

// SyncStep moves the cycle to the latest step of its current phase whose
// offset has been reached. Nothing is written when the step is unchanged.
func (s *Service) SyncStep(ctx context.Context, actor auth.ActorContext, id string) (*Cycle, error) {
	snap, err := s.authorizedCycle(ctx, actor, auth.CapCycleOperate, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(snap, "sync the step of", StatusRunning, StatusPaused); err != nil {
		return nil, err
	}
	_, phase, err := s.currentPhase(ctx, snap)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, actor, id, snap, func(c *Cycle, now time.Time) (*Transition, error) {
		if c.PhaseStartedAt == nil {
			return nil, nil
		}
		elapsed := now.Sub(*c.PhaseStartedAt)
		step := phase.StepAt(elapsed)
		if step == nil || step.ID == c.CurrentStepID {
			return nil, nil
		}
		c.CurrentStepID = step.ID
		c.StepStartedAt = timePtr(now)
		return &Transition{
			Trigger:  TriggerAutoAdvance,
			Metadata: map[string]any{"step_index": step.StepIndex, "offset_hours": step.OffsetHours},
		}, nil
	})
}

// SetPhase moves a non-terminal cycle to any phase of its current revision,
// regardless of progress. The comment is mandatory and stored in the ledger.
func (s *Service) SetPhase(ctx context.Context, actor auth.ActorContext, id, phaseID, comment string) (*Cycle, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, ErrCommentRequired.WithID(id)
	}
	if len(comment) > maxCommentLength {
		return nil, ErrInvalidCycle.Withf("comment exceeds %d characters", maxCommentLength)
	}

	snap, err := s.authorizedCycle(ctx, actor, auth.CapCycleOperate, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(snap, "set the phase of", ActiveStatuses()...); err != nil {
		return nil, err
	}
	rev, err := s.loadRevision(ctx, snap.RevisionID)
	if err != nil {
		return nil, err
	}
	phase := rev.PhaseByID(phaseID)
	if phase == nil {
		return nil, ErrPhaseNotInRevision.WithID(phaseID)
	}

	return s.mutate(ctx, actor, id, snap, func(c *Cycle, now time.Time) (*Transition, error) {
		enterPhase(c, rev.ID, phase, now)
		return &Transition{
			Trigger:  TriggerManualSet,
			Comment:  comment,
			Metadata: map[string]any{"comment": comment, "phase_index": phase.PhaseIndex},
		}, nil
	})
}

// ChangeRecipeRevision switches a non-terminal cycle to another published
// revision. ApplyNow repoints to the phase with the same phase_index in the
// new revision, keeping the phase clock. ApplyNextPhase stores the revision
// as pending; AdvancePhase applies it.
func (s *Service) ChangeRecipeRevision(ctx context.Context, actor auth.ActorContext, id, revisionID string, mode ApplyMode) (*Cycle, error) {
	if mode != ApplyNow && mode != ApplyNextPhase {
		return nil, ErrInvalidApplyMode.Withf("apply_mode %q must be now or next_phase", mode)
	}
	snap, err := s.authorizedCycle(ctx, actor, auth.CapCycleOperate, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(snap, "change the revision of", ActiveStatuses()...); err != nil {
		return nil, err
	}
	newRev, err := s.loadRevision(ctx, revisionID)
	if err != nil {
		return nil, err
	}

	var newPhase *recipe.Phase
	if mode == ApplyNow {
		_, phase, err := s.currentPhase(ctx, snap)
		if err != nil {
			return nil, err
		}
		if newPhase = newRev.PhaseByIndex(phase.PhaseIndex); newPhase == nil {
			return nil, ErrPhaseIndexNotFound.WithID(revisionID).Withf("revision %d has no phase_index %d",
				newRev.RevisionNumber, phase.PhaseIndex)
		}
	}

	return s.mutate(ctx, actor, id, snap, func(c *Cycle, now time.Time) (*Transition, error) {
		meta := map[string]any{"apply_mode": string(mode), "revision_number": newRev.RevisionNumber}
		tr := &Transition{Trigger: TriggerRevisionChange, Metadata: meta}

		if mode == ApplyNextPhase {
			c.PendingRevisionID = newRev.ID
			// The ledger row names the revision that will be applied.
			meta["pending_revision_id"] = newRev.ID
			return tr, nil
		}

		c.RevisionID = newRev.ID
		c.CurrentPhaseID = newPhase.ID
		c.PendingRevisionID = ""
		c.CurrentStepID = ""
		if c.PhaseStartedAt != nil {
			if step := newPhase.StepAt(now.Sub(*c.PhaseStartedAt)); step != nil {
				c.CurrentStepID = step.ID
				c.StepStartedAt = timePtr(now)
			}
		} else if step := newPhase.FirstStep(); step != nil {
			c.CurrentStepID = step.ID
		}
		if c.CurrentStepID == "" {
			c.StepStartedAt = nil
		}
		return tr, nil
	})
}

// currentPhase loads the cycle's revision and its current phase.
func (s *Service) currentPhase(ctx context.Context, c *Cycle) (*recipe.Revision, *recipe.Phase, error) {
	rev, err := s.loadRevision(ctx, c.RevisionID)
	if err != nil {
		return nil, nil, err
	}
	phase := rev.PhaseByID(c.CurrentPhaseID)
	if phase == nil {
		return nil, nil, recipe.ErrPhaseNotFound.WithID(c.CurrentPhaseID)
	}
	return rev, phase, nil
}

// ─── Readers ────────────────────────────────────────────────────────

// GetCycle returns a cycle by ID.
func (s *Service) GetCycle(ctx context.Context, actor auth.ActorContext, id string) (*Cycle, error) {
	return s.authorizedCycle(ctx, actor, auth.CapCycleRead, id)
}

// GetActiveCycleForZone returns the zone's active cycle, or ErrNoActiveCycle.
func (s *Service) GetActiveCycleForZone(ctx context.Context, actor auth.ActorContext, zoneID string) (*Cycle, error) {
	if err := auth.Require(ctx, s.authz, actor, auth.CapCycleRead, auth.ZoneScope(zoneID)); err != nil {
		return nil, err
	}
	return s.repo.GetActiveCycleForZone(ctx, zoneID)
}

// ListCycles returns cycles matching filter, newest first. Actors limited to
// some zones must filter by one of them.
func (s *Service) ListCycles(ctx context.Context, actor auth.ActorContext, filter CycleFilter) ([]Cycle, error) {
	scope := auth.GlobalScope()
	if filter.ZoneID != "" {
		scope = auth.ZoneScope(filter.ZoneID)
	} else if len(actor.Zones) > 0 {
		return nil, auth.ErrForbidden.Withf("actor %q is limited to specific zones; filter by zone_id", actor.ActorID)
	}
	if err := auth.Require(ctx, s.authz, actor, auth.CapCycleRead, scope); err != nil {
		return nil, err
	}
	return s.repo.ListCycles(ctx, filter)
}

// ListTransitions returns a cycle's transition ledger in creation order.
func (s *Service) ListTransitions(ctx context.Context, actor auth.ActorContext, id string) ([]Transition, error) {
	if _, err := s.authorizedCycle(ctx, actor, auth.CapCycleRead, id); err != nil {
		return nil, err
	}
	return s.repo.ListTransitions(ctx, id)
}

// Progress reports how far the cycle is through its current phase.
func (s *Service) Progress(ctx context.Context, actor auth.ActorContext, id string) (*PhaseProgress, error) {
	c, err := s.authorizedCycle(ctx, actor, auth.CapCycleRead, id)
	if err != nil {
		return nil, err
	}
	_, phase, err := s.currentPhase(ctx, c)
	if err != nil {
		return nil, err
	}
	return evaluateProgress(ctx, s.telemetry, c, phase, s.now())
}

func timePtr(t time.Time) *time.Time {
	return &t
}
