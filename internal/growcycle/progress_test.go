package growcycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-grow/internal/recipe"
)

// fakeTelemetry returns fixed accumulations.
type fakeTelemetry struct {
	factor float64
	gdd    float64
	dli    float64
	err    error

	baseTemp float64
}

func (f *fakeTelemetry) TemperatureFactor(context.Context, string, time.Time, time.Time) (float64, error) {
	return f.factor, f.err
}

func (f *fakeTelemetry) GrowingDegreeDays(_ context.Context, _ string, base float64, _, _ time.Time) (float64, error) {
	f.baseTemp = base
	return f.gdd, f.err
}

func (f *fakeTelemetry) DailyLightIntegral(context.Context, string, time.Time, time.Time) (float64, error) {
	return f.dli, f.err
}

func TestEvaluateProgress(t *testing.T) {
	started := t0
	c := &Cycle{ID: "c1", ZoneID: "zone-a", PhaseStartedAt: &started}
	now := t0.Add(24 * time.Hour)

	tests := []struct {
		name         string
		progress     recipe.Progress
		telemetry    *fakeTelemetry
		wantValue    float64
		wantTarget   float64
		wantComplete bool
		wantDue      bool
	}{
		{
			name:      "time incomplete",
			progress:  recipe.Progress{Model: recipe.ModelTime, DurationHours: fp(48)},
			wantValue: 24, wantTarget: 48, wantDue: true,
		},
		{
			name:      "time in days",
			progress:  recipe.Progress{Model: recipe.ModelTime, DurationDays: fp(1)},
			wantValue: 24, wantTarget: 24, wantComplete: true, wantDue: true,
		},
		{
			name:      "temperature corrected",
			progress:  recipe.Progress{Model: recipe.ModelTimeTempCorrected, DurationHours: fp(36)},
			telemetry: &fakeTelemetry{factor: 1.5},
			wantValue: 36, wantTarget: 36, wantComplete: true, wantDue: true,
		},
		{
			name:      "gdd",
			progress:  recipe.Progress{Model: recipe.ModelGDD, TargetGDD: fp(120), BaseTempC: fp(10)},
			telemetry: &fakeTelemetry{gdd: 80},
			wantValue: 80, wantTarget: 120,
		},
		{
			name:      "dli",
			progress:  recipe.Progress{Model: recipe.ModelDLI, DLITarget: fp(200)},
			telemetry: &fakeTelemetry{dli: 210},
			wantValue: 210, wantTarget: 200, wantComplete: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var src TelemetrySource
			if tt.telemetry != nil {
				src = tt.telemetry
			}
			phase := &recipe.Phase{ID: "p1", Progress: tt.progress}
			p, err := evaluateProgress(context.Background(), src, c, phase, now)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantValue, p.Value, 1e-9)
			assert.InDelta(t, tt.wantTarget, p.Target, 1e-9)
			assert.Equal(t, tt.wantComplete, p.Complete)
			assert.InDelta(t, 24.0, p.Hours, 1e-9)
			assert.Equal(t, tt.wantDue, p.DueAt != nil)
		})
	}
}

func TestEvaluateProgressPassesBaseTemperature(t *testing.T) {
	started := t0
	tel := &fakeTelemetry{gdd: 10}
	phase := &recipe.Phase{ID: "p1", Progress: recipe.Progress{Model: recipe.ModelGDD, TargetGDD: fp(100), BaseTempC: fp(6.5)}}

	_, err := evaluateProgress(context.Background(), tel, &Cycle{PhaseStartedAt: &started}, phase, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 6.5, tel.baseTemp, 1e-9)
}

func TestEvaluateProgressTelemetryFailures(t *testing.T) {
	started := t0
	c := &Cycle{ID: "c1", ZoneID: "zone-a", PhaseStartedAt: &started}
	phase := &recipe.Phase{ID: "p1", Progress: recipe.Progress{Model: recipe.ModelDLI, DLITarget: fp(200)}}

	_, err := evaluateProgress(context.Background(), nil, c, phase, t0.Add(time.Hour))
	assert.ErrorIs(t, err, ErrTelemetryUnavailable)

	cause := errors.New("influx down")
	_, err = evaluateProgress(context.Background(), &fakeTelemetry{err: cause}, c, phase, t0.Add(time.Hour))
	assert.ErrorIs(t, err, ErrTelemetryUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestEvaluateProgressBeforeStart(t *testing.T) {
	phase := &recipe.Phase{ID: "p1", Progress: recipe.Progress{Model: recipe.ModelGDD, TargetGDD: fp(100), BaseTempC: fp(10)}}
	p, err := evaluateProgress(context.Background(), nil, &Cycle{ID: "c1"}, phase, t0)
	require.NoError(t, err)
	assert.False(t, p.Complete)
	assert.Nil(t, p.DueAt)
}

func TestPhaseProgressRatio(t *testing.T) {
	assert.InDelta(t, 0.5, PhaseProgress{Value: 24, Target: 48}.Ratio(), 1e-9)
	assert.InDelta(t, 1.0, PhaseProgress{Value: 60, Target: 48}.Ratio(), 1e-9)
	assert.Zero(t, PhaseProgress{Value: 5}.Ratio())
}

func TestGDDPhaseAdvancesOnTelemetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p0 := basePhase(0, "Establishment", recipe.Progress{Model: recipe.ModelGDD, TargetGDD: fp(150), BaseTempC: fp(10)})
	p1 := basePhase(1, "Finish", recipe.Progress{Model: recipe.ModelTime, DurationDays: fp(7)})
	rev := f.publish(t, "Tomato", []*recipe.Phase{p0, p1})

	c := f.running(t, rev)
	assert.Nil(t, c.ExpectedHarvestAt, "accumulation phases have no fixed end")

	f.at(24 * time.Hour)
	_, err := f.svc.AdvancePhase(ctx, operator, c.ID)
	assert.ErrorIs(t, err, ErrTelemetryUnavailable)

	tel := &fakeTelemetry{gdd: 90}
	f.svc.SetTelemetry(tel)
	_, err = f.svc.AdvancePhase(ctx, operator, c.ID)
	assert.ErrorIs(t, err, ErrPhaseNotComplete)

	tel.gdd = 151
	c, err = f.svc.AdvancePhase(ctx, operator, c.ID)
	require.NoError(t, err)
	assert.Equal(t, rev.Phases[1].ID, c.CurrentPhaseID)

	trs, err := f.svc.ListTransitions(ctx, viewer, c.ID)
	require.NoError(t, err)
	last := trs[len(trs)-1]
	assert.Equal(t, "GDD", last.Metadata["progress_model"])
	assert.InDelta(t, 151.0, last.Metadata["progress_value"], 1e-9)
}

func TestStateMachine(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPlanned, StatusRunning, true},
		{StatusPlanned, StatusAborted, true},
		{StatusPlanned, StatusPaused, false},
		{StatusPlanned, StatusHarvested, false},
		{StatusRunning, StatusPaused, true},
		{StatusRunning, StatusHarvested, true},
		{StatusPaused, StatusRunning, true},
		{StatusPaused, StatusAborted, true},
		{StatusHarvested, StatusRunning, false},
		{StatusAborted, StatusPlanned, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
	for _, s := range ActiveStatuses() {
		assert.True(t, s.IsActive())
		assert.False(t, s.IsTerminal())
	}
	assert.True(t, StatusHarvested.IsTerminal())
	assert.True(t, StatusAborted.IsTerminal())
}
