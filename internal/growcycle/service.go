package growcycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-grow/internal/audit"
	"github.com/nerrad567/gray-logic-grow/internal/auth"
	"github.com/nerrad567/gray-logic-grow/internal/location"
	"github.com/nerrad567/gray-logic-grow/internal/recipe"
)

// Logger defines the logging interface used by the lifecycle service.
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

// RevisionLoader loads a revision with its phases and steps.
// Satisfied by *recipe.SQLiteRepository.
type RevisionLoader interface {
	GetRevision(ctx context.Context, id string) (*recipe.Revision, error)
}

// PlaceLookup resolves the zone and plant a cycle is created against.
// Satisfied by *location.SQLiteRepository.
type PlaceLookup interface {
	GetZone(ctx context.Context, id string) (*location.Zone, error)
	GetPlant(ctx context.Context, id string) (*location.Plant, error)
}

// EventSink observes committed transitions. Sinks run after the
// transaction and must not block; failures are theirs to log.
type EventSink interface {
	CycleTransitioned(ctx context.Context, c *Cycle, t *Transition)
}

// Service owns the grow cycle state machine, the override store and the
// transition ledger. Every status write and its ledger row share one
// transaction.
type Service struct {
	repo      Repository
	revisions RevisionLoader
	places    PlaceLookup
	authz     auth.Authorizer
	telemetry TelemetrySource
	audit     *audit.Recorder
	sinks     []EventSink
	logger    Logger
	now       func() time.Time
}

// NewService creates a lifecycle service.
func NewService(repo Repository, revisions RevisionLoader, places PlaceLookup, authz auth.Authorizer) *Service {
	return &Service{
		repo:      repo,
		revisions: revisions,
		places:    places,
		authz:     authz,
		logger:    noopLogger{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetTelemetry sets the source used by non-TIME progress models.
func (s *Service) SetTelemetry(t TelemetrySource) {
	s.telemetry = t
}

// SetAuditRecorder sets the recorder for override changes.
func (s *Service) SetAuditRecorder(r *audit.Recorder) {
	s.audit = r
}

// AddEventSink registers a sink for committed transitions.
func (s *Service) AddEventSink(sink EventSink) {
	s.sinks = append(s.sinks, sink)
}

// ─── Authorisation ──────────────────────────────────────────────────

// authorizedCycle loads a cycle and checks capability against its zone.
func (s *Service) authorizedCycle(ctx context.Context, actor auth.ActorContext, capability auth.Capability, id string) (*Cycle, error) {
	c, err := s.repo.GetCycle(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.Require(ctx, s.authz, actor, capability, auth.CycleScope(c.ID, c.ZoneID)); err != nil {
		return nil, err
	}
	return c, nil
}

// loadRevision returns a published revision. Published revisions never
// change, so they are safe to read outside the write transaction.
func (s *Service) loadRevision(ctx context.Context, id string) (*recipe.Revision, error) {
	rev, err := s.revisions.GetRevision(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rev.IsPublished() {
		return nil, ErrRevisionNotPublished.WithID(id)
	}
	return rev, nil
}

// ─── Mutation core ──────────────────────────────────────────────────

// change is one state change computed against a fresh cycle row. It
// mutates c in place and returns the ledger entry, or nil for a no-op.
type change func(c *Cycle, now time.Time) (*Transition, error)

// mutate re-reads the cycle inside a write transaction, applies fn, and
// writes the cycle and its transition together. When snapshot is non-nil
// the fresh row must still match it on status, phase and revisions;
// otherwise ErrConcurrentUpdate is returned.
func (s *Service) mutate(ctx context.Context, actor auth.ActorContext, id string, snapshot *Cycle, fn change) (*Cycle, error) {
	var (
		updated *Cycle
		tr      *Transition
	)
	err := s.repo.InTx(ctx, func(tx Repository) error {
		c, err := tx.GetCycle(ctx, id)
		if err != nil {
			return err
		}
		if snapshot != nil && stale(snapshot, c) {
			return ErrConcurrentUpdate.WithID(id)
		}

		before := c.DeepCopy()
		now := s.now()
		if tr, err = fn(c, now); err != nil {
			return err
		}
		if tr == nil {
			updated = c
			return nil
		}

		fillTransition(tr, before, c, actor, now)
		c.UpdatedAt = now
		if err := tx.UpdateCycle(ctx, c); err != nil {
			return err
		}
		if err := tx.AppendTransition(ctx, tr); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	if tr != nil {
		s.emit(ctx, updated, tr)
	}
	return updated, nil
}

func stale(snapshot, fresh *Cycle) bool {
	return snapshot.Status != fresh.Status ||
		snapshot.CurrentPhaseID != fresh.CurrentPhaseID ||
		snapshot.RevisionID != fresh.RevisionID ||
		snapshot.PendingRevisionID != fresh.PendingRevisionID
}

// fillTransition completes a ledger entry from the before and after states.
func fillTransition(t *Transition, before, after *Cycle, actor auth.ActorContext, now time.Time) {
	t.ID = uuid.NewString()
	t.CycleID = after.ID
	t.FromStatus, t.ToStatus = before.Status, after.Status
	t.FromPhaseID, t.ToPhaseID = before.CurrentPhaseID, after.CurrentPhaseID
	t.FromStepID, t.ToStepID = before.CurrentStepID, after.CurrentStepID
	t.FromRevisionID, t.ToRevisionID = before.RevisionID, after.RevisionID
	t.TriggeredBy = actor.ActorID
	t.CreatedAt = now
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
}

func (s *Service) emit(ctx context.Context, c *Cycle, t *Transition) {
	s.logger.Info("grow cycle transition",
		"cycle_id", c.ID,
		"zone_id", c.ZoneID,
		"trigger", t.Trigger,
		"from_status", t.FromStatus,
		"to_status", t.ToStatus,
		"from_phase", t.FromPhaseID,
		"to_phase", t.ToPhaseID,
		"actor", t.TriggeredBy,
	)
	for _, sink := range s.sinks {
		sink.CycleTransitioned(ctx, c, t)
	}
}
