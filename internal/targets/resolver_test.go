package targets

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-grow/internal/auth"
	"github.com/nerrad567/gray-logic-grow/internal/growcycle"
	"github.com/nerrad567/gray-logic-grow/internal/location"
	"github.com/nerrad567/gray-logic-grow/internal/recipe"
	"github.com/nerrad567/gray-logic-grow/internal/testutil"
)

var (
	t0         = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	operator   = auth.NewActor("op-1", auth.RoleOperator)
	agronomist = auth.NewActor("ag-1", auth.RoleAgronomist)
	service    = auth.NewActor("climate-ctl", auth.RoleService)
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }
func sp(v string) *string   { return &v }

type env struct {
	db       *sql.DB
	cycles   *growcycle.Service
	recipes  *recipe.SQLiteRepository
	repo     *growcycle.SQLiteRepository
	resolver *Resolver
	rev      *recipe.Revision
	now      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.OpenDB(t)
	for _, z := range []string{"zone-a", "zone-b", "zone-c"} {
		testutil.SeedZone(t, db, z)
	}
	testutil.SeedPlant(t, db, "basil")

	e := &env{db: db, recipes: recipe.NewSQLiteRepository(db), repo: growcycle.NewSQLiteRepository(db), now: t0}
	clock := func() time.Time { return e.now }

	catalog := recipe.NewCatalog(e.recipes, auth.CapabilityAuthorizer{}, nil)
	e.cycles = growcycle.NewService(e.repo, e.recipes, location.NewSQLiteRepository(db), auth.CapabilityAuthorizer{})
	e.cycles.SetClock(clock)
	e.resolver = NewResolver(e.repo, e.recipes, auth.CapabilityAuthorizer{})
	e.resolver.SetClock(clock)

	ctx := context.Background()
	rec, err := catalog.CreateRecipe(ctx, agronomist, "Basil", "")
	require.NoError(t, err)
	rev, err := catalog.CreateRevision(ctx, agronomist, recipe.RevisionInput{RecipeID: rec.ID})
	require.NoError(t, err)
	for _, p := range phases() {
		_, err := catalog.CreatePhase(ctx, agronomist, rev.ID, p)
		require.NoError(t, err)
	}
	e.rev, err = catalog.PublishRevision(ctx, agronomist, rev.ID)
	require.NoError(t, err)
	return e
}

func phases() []*recipe.Phase {
	p0 := &recipe.Phase{
		PhaseIndex: 0,
		Name:       "Propagation",
		Code:       "PROP",
		Targets: recipe.Targets{
			PHTarget: fp(5.8), PHMin: fp(5.5), PHMax: fp(6.2),
			ECTarget: fp(1.2), ECMin: fp(1.0), ECMax: fp(1.4),
			IrrigationMode:        sp(recipe.IrrigationInterval),
			IrrigationIntervalSec: ip(1800),
			IrrigationDurationSec: ip(60),
			HumidityTarget:        fp(80),
		},
		Progress: recipe.Progress{Model: recipe.ModelTime, DurationHours: fp(48)},
		Steps: []recipe.Step{
			{StepIndex: 1, Name: "Dark", OffsetHours: 0, Targets: map[string]any{}},
			{StepIndex: 2, Name: "Lights on", OffsetHours: 24, Action: "lights_on", Targets: map[string]any{
				"lighting_photoperiod_hours": 16.0,
				"ec_target":                  1.3,
			}},
		},
	}
	p1 := &recipe.Phase{
		PhaseIndex: 1,
		Name:       "Bulk",
		Targets: recipe.Targets{
			PHTarget: fp(6.0), PHMin: fp(5.7), PHMax: fp(6.3),
			ECTarget: fp(1.6), ECMin: fp(1.4), ECMax: fp(1.8),
			IrrigationMode: sp(recipe.IrrigationContinuous),
		},
		Progress: recipe.Progress{Model: recipe.ModelGDD, TargetGDD: fp(300), BaseTempC: fp(10)},
	}
	return []*recipe.Phase{p0, p1}
}

func (e *env) start(t *testing.T, zoneID string, immediately bool) *growcycle.Cycle {
	t.Helper()
	c, err := e.cycles.CreateCycle(context.Background(), operator, growcycle.CreateCycleInput{
		ZoneID: zoneID, RevisionID: e.rev.ID, PlantID: "basil", StartImmediately: immediately,
	})
	require.NoError(t, err)
	return c
}

func (e *env) override(t *testing.T, cycleID, param string, kind recipe.ValueKind, v any, window growcycle.ActiveWindow) *growcycle.Override {
	t.Helper()
	o, err := e.cycles.AddOverride(context.Background(), operator, cycleID, growcycle.OverrideInput{
		Parameter: param, ValueType: kind, Value: v, ActiveWindow: window,
	})
	require.NoError(t, err)
	return o
}

func TestResolvePhaseTargets(t *testing.T) {
	e := newEnv(t)
	c := e.start(t, "zone-a", true)

	snap, err := e.resolver.Resolve(context.Background(), service, c.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, c.ID, snap.CycleID)
	assert.Equal(t, "zone-a", snap.ZoneID)
	assert.Equal(t, growcycle.StatusRunning, snap.Status)
	assert.Equal(t, "Propagation", snap.Phase.Name)
	assert.Equal(t, "PROP", snap.Phase.Code)
	assert.Equal(t, 0, snap.Phase.Index)
	require.NotNil(t, snap.Phase.DueAt)
	assert.True(t, snap.Phase.DueAt.Equal(t0.Add(48*time.Hour)))
	require.NotNil(t, snap.Step)
	assert.Equal(t, "Dark", snap.Step.Name)

	assert.InDelta(t, 1.2, *snap.Targets.ECTarget, 1e-9)
	assert.InDelta(t, 80.0, *snap.Targets.HumidityTarget, 1e-9)
	assert.Nil(t, snap.Targets.LightingPhotoperiodHours)
	assert.Empty(t, snap.Overrides)
}

func TestResolveWithoutOverridesEqualsPhaseTargets(t *testing.T) {
	e := newEnv(t)
	c := e.start(t, "zone-a", true)

	snap, err := e.resolver.Resolve(context.Background(), service, c.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.NotNil(t, snap.Step)
	step := e.rev.Phases[0].StepByID(snap.Step.ID)
	require.NotNil(t, step)
	require.Empty(t, step.Targets, "current step carries no targets")

	assert.Equal(t, e.rev.Phases[0].Targets, snap.Targets)
	assert.Empty(t, snap.Overrides)
}

func TestResolveStepTargetsAreTheOnlyLayerOverPhaseTargets(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.start(t, "zone-a", true)

	e.now = t0.Add(25 * time.Hour)
	_, err := e.cycles.SyncStep(ctx, operator, c.ID)
	require.NoError(t, err)

	snap, err := e.resolver.Resolve(ctx, service, c.ID)
	require.NoError(t, err)

	want := e.rev.Phases[0].Targets.Clone()
	require.NoError(t, want.Apply(map[string]any{
		"lighting_photoperiod_hours": 16.0,
		"ec_target":                  1.3,
	}))
	assert.Equal(t, want, snap.Targets)
}

func TestResolvePrecedence(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.start(t, "zone-a", true)

	e.now = t0.Add(25 * time.Hour)
	_, err := e.cycles.SyncStep(ctx, operator, c.ID)
	require.NoError(t, err)

	snap, err := e.resolver.Resolve(ctx, service, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lights on", snap.Step.Name)
	assert.InDelta(t, 1.3, *snap.Targets.ECTarget, 1e-9, "step replaces phase value")
	assert.InDelta(t, 16.0, *snap.Targets.LightingPhotoperiodHours, 1e-9)
	assert.InDelta(t, 1.0, *snap.Targets.ECMin, 1e-9, "fields the step leaves alone keep the phase value")

	first := e.override(t, c.ID, "ec_target", recipe.KindFloat, 1.1, growcycle.ActiveWindow{})
	e.now = e.now.Add(time.Minute)
	second := e.override(t, c.ID, "ec_target", recipe.KindFloat, 1.15, growcycle.ActiveWindow{})
	e.override(t, c.ID, "irrigation_interval_sec", recipe.KindInt, "600", growcycle.ActiveWindow{})
	e.override(t, c.ID, "fan_speed_pct", recipe.KindInt, 40, growcycle.ActiveWindow{})
	e.override(t, c.ID, "humidity_target", recipe.KindFloat, 60.0, growcycle.ActiveWindow{
		From: timePtr(e.now.Add(time.Hour)),
	})

	snap, err = e.resolver.Resolve(ctx, service, c.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.15, *snap.Targets.ECTarget, 1e-9, "last created override wins")
	assert.Equal(t, second.ID, snap.Overrides["ec_target"])
	assert.Equal(t, 600, *snap.Targets.IrrigationIntervalSec)
	assert.InDelta(t, 80.0, *snap.Targets.HumidityTarget, 1e-9, "future window not applied yet")
	assert.NotContains(t, snap.Overrides, "fan_speed_pct")

	_, err = e.cycles.DeactivateOverride(ctx, operator, second.ID)
	require.NoError(t, err)
	snap, err = e.resolver.Resolve(ctx, service, c.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.1, *snap.Targets.ECTarget, 1e-9)
	assert.Equal(t, first.ID, snap.Overrides["ec_target"])

	e.now = e.now.Add(2 * time.Hour)
	snap, err = e.resolver.Resolve(ctx, service, c.ID)
	require.NoError(t, err)
	assert.InDelta(t, 60.0, *snap.Targets.HumidityTarget, 1e-9)
}

func TestResolveLifecycleEdges(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	planned := e.start(t, "zone-a", false)
	snap, err := e.resolver.Resolve(ctx, service, planned.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Nil(t, snap.Phase.StartedAt)
	assert.Nil(t, snap.Phase.DueAt)

	_, err = e.cycles.Abort(ctx, operator, planned.ID, growcycle.AbortInput{})
	require.NoError(t, err)
	snap, err = e.resolver.Resolve(ctx, service, planned.ID)
	require.NoError(t, err)
	assert.Nil(t, snap, "terminal cycles have no targets")

	_, err = e.resolver.Resolve(ctx, service, "missing")
	assert.ErrorIs(t, err, growcycle.ErrCycleNotFound)

	snap, err = e.resolver.ResolveZone(ctx, service, "zone-a")
	require.NoError(t, err)
	assert.Nil(t, snap)

	c := e.start(t, "zone-a", true)
	_, err = e.cycles.SetPhase(ctx, operator, c.ID, e.rev.Phases[1].ID, "move to bulk")
	require.NoError(t, err)
	snap, err = e.resolver.ResolveZone(ctx, service, "zone-a")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, recipe.ModelGDD, snap.Phase.ProgressModel)
	assert.NotNil(t, snap.Phase.StartedAt)
	assert.Nil(t, snap.Phase.DueAt, "accumulation phases have no due time")
	assert.Nil(t, snap.Step)

	_, err = e.resolver.ResolveZone(ctx, auth.NewActor("nobody", auth.Role("unknown")), "zone-a")
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestSnapshotJSON(t *testing.T) {
	e := newEnv(t)
	c := e.start(t, "zone-a", true)

	snap, err := e.resolver.Resolve(context.Background(), service, c.ID)
	require.NoError(t, err)
	snap.Targets.IrrigationIntervalSec = nil

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	targets := decoded["targets"].(map[string]any)
	for _, key := range recipe.RequiredFieldNames() {
		assert.Contains(t, targets, key, "required keys are always present")
	}
	assert.Nil(t, targets["irrigation_interval_sec"])
	assert.Contains(t, targets, "humidity_target")
	assert.NotContains(t, targets, "mist_mode")
	assert.NotContains(t, targets, "co2_target")

	phase := decoded["phase"].(map[string]any)
	assert.Contains(t, phase, "due_at")
	assert.Contains(t, phase, "started_at")

	assert.Equal(t, c.ID, decoded["cycle_id"])
	assert.Equal(t, "zone-a", decoded["zone_id"])
	assert.NotContains(t, decoded, "grow_cycle_id")
	for _, key := range []string{"cycle_id", "zone_id", "phase", "targets"} {
		assert.Contains(t, decoded, key)
	}
}

func TestResolveBatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.start(t, "zone-a", true)
	e.start(t, "zone-c", false)

	entries, err := e.resolver.ResolveBatch(ctx, service, []string{"zone-a", "zone-b", "zone-a", "zone-c", ""})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.NotNil(t, entries["zone-a"].Snapshot)
	assert.Equal(t, a.ID, entries["zone-a"].Snapshot.CycleID)
	assert.True(t, entries["zone-b"].Empty())
	require.NotNil(t, entries["zone-c"].Snapshot)
	assert.Equal(t, growcycle.StatusPlanned, entries["zone-c"].Snapshot.Status)

	raw, err := json.Marshal(entries)
	require.NoError(t, err)
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.JSONEq(t, "null", string(decoded["zone-b"]))
}

func TestResolveBatchForbiddenZonesAreEntries(t *testing.T) {
	e := newEnv(t)
	e.start(t, "zone-a", true)
	e.start(t, "zone-b", true)

	limited := auth.NewActor("ctl-a", auth.RoleService, "zone-a")
	entries, err := e.resolver.ResolveBatch(context.Background(), limited, []string{"zone-a", "zone-b"})
	require.NoError(t, err)
	assert.NotNil(t, entries["zone-a"].Snapshot)
	assert.ErrorIs(t, entries["zone-b"].Err, auth.ErrForbidden)

	raw, err := json.Marshal(entries["zone-b"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"kind":"forbidden","code":"forbidden","message":"actor \"ctl-a\" lacks targets:read on zone","id":"zone-b"}}`, string(raw))
}

func TestResolveBatchLimits(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.resolver.ResolveBatch(ctx, service, nil)
	assert.ErrorIs(t, err, ErrInvalidBatch)
	_, err = e.resolver.ResolveBatch(ctx, service, []string{"", ""})
	assert.ErrorIs(t, err, ErrInvalidBatch)

	e.resolver.SetMaxBatchSize(2)
	_, err = e.resolver.ResolveBatch(ctx, service, []string{"zone-a", "zone-b", "zone-c"})
	assert.ErrorIs(t, err, ErrBatchTooLarge)
	_, err = e.resolver.ResolveBatch(ctx, service, []string{"zone-a", "zone-b", "zone-a"})
	assert.NoError(t, err, "duplicates count once")

	e.resolver.SetMaxBatchSize(0)
	assert.Equal(t, DefaultMaxBatchSize, e.resolver.MaxBatchSize())

	zones := make([]string, DefaultMaxBatchSize+1)
	for i := range zones {
		zones[i] = fmt.Sprintf("zone-%03d", i)
	}
	_, err = e.resolver.ResolveBatch(ctx, service, zones)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

// lossyPhases hides one phase to simulate a per-entry failure.
type lossyPhases struct {
	PhaseLoader
	hide string
}

func (l lossyPhases) LoadPhases(ctx context.Context, ids []string) (map[string]*recipe.Phase, error) {
	out, err := l.PhaseLoader.LoadPhases(ctx, ids)
	delete(out, l.hide)
	return out, err
}

func TestResolveBatchIsolatesFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.start(t, "zone-a", true)
	b := e.start(t, "zone-b", true)
	_, err := e.cycles.SetPhase(ctx, operator, b.ID, e.rev.Phases[1].ID, "skip ahead")
	require.NoError(t, err)

	resolver := NewResolver(e.repo, lossyPhases{PhaseLoader: e.recipes, hide: e.rev.Phases[1].ID}, auth.CapabilityAuthorizer{})
	obs := &countingObserver{outcomes: map[string]int{}}
	resolver.SetObserver(obs)

	entries, err := resolver.ResolveBatch(ctx, service, []string{"zone-a", "zone-b", "zone-c"})
	require.NoError(t, err)
	require.NotNil(t, entries["zone-a"].Snapshot)
	assert.Equal(t, a.ID, entries["zone-a"].Snapshot.CycleID)
	assert.ErrorIs(t, entries["zone-b"].Err, recipe.ErrPhaseNotFound)
	assert.True(t, entries["zone-c"].Empty())

	assert.Equal(t, map[string]int{"snapshot": 1, "error": 1, "empty": 1}, obs.outcomes)
	assert.Equal(t, []string{ModeBatch}, obs.modes)
}

type countingObserver struct {
	mu       sync.Mutex
	modes    []string
	outcomes map[string]int
}

func (o *countingObserver) ObserveResolve(mode string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.modes = append(o.modes, mode)
}

func (o *countingObserver) CountResolveEntry(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func TestEntryMarshalUnclassifiedError(t *testing.T) {
	raw, err := json.Marshal(Entry{Err: fmt.Errorf("disk on fire")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"kind":"internal","code":"internal_error","message":"targets could not be resolved"}}`, string(raw))
}

func timePtr(t time.Time) *time.Time {
	return &t
}
