package targets

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-grow/internal/auth"
	"github.com/nerrad567/gray-logic-grow/internal/growcycle"
	"github.com/nerrad567/gray-logic-grow/internal/recipe"
)

// DefaultMaxBatchSize bounds ResolveBatch when no limit is configured.
const DefaultMaxBatchSize = 100

// Resolution modes reported to the Observer.
const (
	ModeCycle = "cycle"
	ModeZone  = "zone"
	ModeBatch = "batch"
)

// Logger defines the logging interface used by the resolver.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer receives resolver timings and per-entry outcomes.
// Satisfied by *metrics.Metrics.
type Observer interface {
	ObserveResolve(mode string, elapsed time.Duration)
	CountResolveEntry(outcome string)
}

type noopObserver struct{}

func (noopObserver) ObserveResolve(string, time.Duration) {}
func (noopObserver) CountResolveEntry(string)             {}

// CycleReader is the read side of the grow cycle store.
// Satisfied by *growcycle.SQLiteRepository.
type CycleReader interface {
	GetCycle(ctx context.Context, id string) (*growcycle.Cycle, error)
	ActiveCyclesForZones(ctx context.Context, zoneIDs []string) (map[string]*growcycle.Cycle, error)
	ActiveOverrides(ctx context.Context, cycleIDs []string, now time.Time) (map[string][]growcycle.Override, error)
}

// PhaseLoader loads phases with their steps in one call.
// Satisfied by *recipe.SQLiteRepository.
type PhaseLoader interface {
	LoadPhases(ctx context.Context, ids []string) (map[string]*recipe.Phase, error)
}

// Resolver computes effective targets.
type Resolver struct {
	cycles   CycleReader
	phases   PhaseLoader
	authz    auth.Authorizer
	maxBatch int
	observer Observer
	logger   Logger
	now      func() time.Time
}

// NewResolver creates a resolver.
func NewResolver(cycles CycleReader, phases PhaseLoader, authz auth.Authorizer) *Resolver {
	return &Resolver{
		cycles:   cycles,
		phases:   phases,
		authz:    authz,
		maxBatch: DefaultMaxBatchSize,
		observer: noopObserver{},
		logger:   noopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the resolver.
func (r *Resolver) SetLogger(logger Logger) {
	r.logger = logger
}

// SetObserver sets the metrics observer.
func (r *Resolver) SetObserver(o Observer) {
	r.observer = o
}

// SetClock replaces the time source.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// SetMaxBatchSize bounds ResolveBatch. Values below 1 restore the default.
func (r *Resolver) SetMaxBatchSize(n int) {
	if n < 1 {
		n = DefaultMaxBatchSize
	}
	r.maxBatch = n
}

// MaxBatchSize returns the configured batch bound.
func (r *Resolver) MaxBatchSize() int {
	return r.maxBatch
}

// Resolve returns the snapshot of one cycle, or nil when the cycle is
// HARVESTED or ABORTED.
func (r *Resolver) Resolve(ctx context.Context, actor auth.ActorContext, cycleID string) (*Snapshot, error) {
	start := time.Now()
	defer func() { r.observer.ObserveResolve(ModeCycle, time.Since(start)) }()

	c, err := r.cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if err := auth.Require(ctx, r.authz, actor, auth.CapTargetsRead, auth.CycleScope(c.ID, c.ZoneID)); err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		r.observer.CountResolveEntry(outcome(nil, nil))
		return nil, nil
	}
	snap, err := r.resolveOne(ctx, c)
	r.observer.CountResolveEntry(outcome(snap, err))
	return snap, err
}

// ResolveZone returns the snapshot of the zone's active cycle, or nil when
// the zone has none.
func (r *Resolver) ResolveZone(ctx context.Context, actor auth.ActorContext, zoneID string) (*Snapshot, error) {
	start := time.Now()
	defer func() { r.observer.ObserveResolve(ModeZone, time.Since(start)) }()

	if err := auth.Require(ctx, r.authz, actor, auth.CapTargetsRead, auth.ZoneScope(zoneID)); err != nil {
		return nil, err
	}
	cycles, err := r.cycles.ActiveCyclesForZones(ctx, []string{zoneID})
	if err != nil {
		return nil, err
	}
	c, ok := cycles[zoneID]
	if !ok {
		r.observer.CountResolveEntry(outcome(nil, nil))
		return nil, nil
	}
	snap, err := r.resolveOne(ctx, c)
	r.observer.CountResolveEntry(outcome(snap, err))
	return snap, err
}

// ResolveBatch resolves many zones at once, keyed by zone ID. A zone with
// no active cycle maps to an empty entry; a zone that fails to resolve or
// that the actor may not read maps to an error entry. Only an invalid
// request or a failed bulk query fails the call.
func (r *Resolver) ResolveBatch(ctx context.Context, actor auth.ActorContext, zoneIDs []string) (map[string]Entry, error) {
	start := time.Now()
	defer func() { r.observer.ObserveResolve(ModeBatch, time.Since(start)) }()

	zones := dedupe(zoneIDs)
	if len(zones) == 0 {
		return nil, ErrInvalidBatch
	}
	if len(zones) > r.maxBatch {
		return nil, ErrBatchTooLarge.Withf("%d zones requested; at most %d per batch", len(zones), r.maxBatch)
	}

	result := make(map[string]Entry, len(zones))
	allowed := make([]string, 0, len(zones))
	for _, z := range zones {
		if err := auth.Require(ctx, r.authz, actor, auth.CapTargetsRead, auth.ZoneScope(z)); err != nil {
			result[z] = Entry{Err: err}
			continue
		}
		allowed = append(allowed, z)
	}

	cycles, err := r.cycles.ActiveCyclesForZones(ctx, allowed)
	if err != nil {
		return nil, fmt.Errorf("loading active cycles: %w", err)
	}
	list := make([]*growcycle.Cycle, 0, len(cycles))
	for _, z := range allowed {
		if c, ok := cycles[z]; ok {
			list = append(list, c)
		}
	}

	built, err := r.build(ctx, list)
	if err != nil {
		return nil, err
	}
	for _, z := range allowed {
		c, ok := cycles[z]
		if !ok {
			result[z] = Entry{}
			continue
		}
		result[z] = built[c.ID]
	}

	for _, e := range result {
		r.observer.CountResolveEntry(outcome(e.Snapshot, e.Err))
	}
	r.logger.Debug("targets batch resolved", "zones", len(zones), "active", len(list), "duration", time.Since(start))
	return result, nil
}

// resolveOne runs the batch path for a single cycle.
func (r *Resolver) resolveOne(ctx context.Context, c *growcycle.Cycle) (*Snapshot, error) {
	built, err := r.build(ctx, []*growcycle.Cycle{c})
	if err != nil {
		return nil, err
	}
	e := built[c.ID]
	return e.Snapshot, e.Err
}

// build loads phases and overrides for cycles concurrently and layers them
// into one entry per cycle ID.
func (r *Resolver) build(ctx context.Context, cycles []*growcycle.Cycle) (map[string]Entry, error) {
	result := make(map[string]Entry, len(cycles))
	if len(cycles) == 0 {
		return result, nil
	}

	now := r.now()
	phaseIDs := make([]string, 0, len(cycles))
	cycleIDs := make([]string, 0, len(cycles))
	for _, c := range cycles {
		cycleIDs = append(cycleIDs, c.ID)
		if c.CurrentPhaseID != "" {
			phaseIDs = append(phaseIDs, c.CurrentPhaseID)
		}
	}

	var (
		phases    map[string]*recipe.Phase
		overrides map[string][]growcycle.Override
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		phases, err = r.phases.LoadPhases(gctx, dedupe(phaseIDs))
		if err != nil {
			return fmt.Errorf("loading phases: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		overrides, err = r.cycles.ActiveOverrides(gctx, cycleIDs, now)
		if err != nil {
			return fmt.Errorf("loading overrides: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, c := range cycles {
		snap, err := r.layer(c, phases[c.CurrentPhaseID], overrides[c.ID], now)
		if err != nil {
			r.logger.Warn("resolving targets failed", "cycle_id", c.ID, "zone_id", c.ZoneID, "error", err)
		}
		result[c.ID] = Entry{Snapshot: snap, Err: err}
	}
	return result, nil
}

// layer applies phase, step and override values in precedence order.
func (r *Resolver) layer(c *growcycle.Cycle, phase *recipe.Phase, overrides []growcycle.Override, now time.Time) (*Snapshot, error) {
	if phase == nil {
		return nil, recipe.ErrPhaseNotFound.WithID(c.CurrentPhaseID).Withf("current phase of cycle %s could not be loaded", c.ID)
	}

	snap := &Snapshot{
		CycleID:    c.ID,
		ZoneID:     c.ZoneID,
		RevisionID: c.RevisionID,
		Status:     c.Status,
		Phase: PhaseInfo{
			ID:            phase.ID,
			Name:          phase.Name,
			Code:          phase.Code,
			Index:         phase.PhaseIndex,
			ProgressModel: phase.Progress.Model,
			StartedAt:     c.PhaseStartedAt,
			DueAt:         growcycle.DueAt(c.PhaseStartedAt, phase),
		},
		Targets:    phase.Targets.Clone(),
		ResolvedAt: now,
	}

	if step := phase.StepByID(c.CurrentStepID); step != nil {
		snap.Step = &StepInfo{
			ID:        step.ID,
			Name:      step.Name,
			Index:     step.StepIndex,
			Action:    step.Action,
			StartedAt: c.StepStartedAt,
		}
		if err := snap.Targets.Apply(step.Targets); err != nil {
			return nil, fmt.Errorf("applying step %s targets: %w", step.ID, err)
		}
	}

	for i := range overrides {
		o := &overrides[i]
		if !o.ActiveAt(now) || !recipe.IsTargetField(o.Parameter) {
			continue
		}
		v, err := o.TypedValue()
		if err == nil {
			err = snap.Targets.Set(o.Parameter, v)
		}
		if err != nil {
			r.logger.Warn("skipping unusable override", "override_id", o.ID, "cycle_id", c.ID,
				"parameter", o.Parameter, "error", err)
			continue
		}
		if snap.Overrides == nil {
			snap.Overrides = map[string]string{}
		}
		snap.Overrides[o.Parameter] = o.ID
	}
	return snap, nil
}

// outcome labels an entry for the Observer.
func outcome(snap *Snapshot, err error) string {
	switch {
	case err != nil:
		return "error"
	case snap == nil:
		return "empty"
	default:
		return "snapshot"
	}
}

// dedupe drops empty and repeated IDs, keeping first-seen order.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

