package growcycle

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-grow/internal/recipe"
)

// TelemetrySource supplies the accumulations non-TIME progress models need.
// Implementations query the zone's sensor history between from and to.
type TelemetrySource interface {
	// TemperatureFactor returns the multiplier applied to elapsed time under
	// TIME_WITH_TEMP_CORRECTION. 1.0 means the zone ran at reference temperature.
	TemperatureFactor(ctx context.Context, zoneID string, from, to time.Time) (float64, error)

	// GrowingDegreeDays returns accumulated degree days above baseTempC.
	GrowingDegreeDays(ctx context.Context, zoneID string, baseTempC float64, from, to time.Time) (float64, error)

	// DailyLightIntegral returns accumulated light in mol/m².
	DailyLightIntegral(ctx context.Context, zoneID string, from, to time.Time) (float64, error)
}

// PhaseProgress describes how far a cycle is through its current phase.
type PhaseProgress struct {
	CycleID  string               `json:"grow_cycle_id"`
	PhaseID  string               `json:"phase_id"`
	Model    recipe.ProgressModel `json:"progress_model"`
	Elapsed  time.Duration        `json:"-"`
	Hours    float64              `json:"elapsed_hours"`
	Value    float64              `json:"value"`
	Target   float64              `json:"target"`
	Unit     string               `json:"unit"`
	Complete bool                 `json:"complete"`
	DueAt    *time.Time           `json:"due_at,omitempty"`
}

// Ratio returns Value/Target clamped to [0, 1].
func (p PhaseProgress) Ratio() float64 {
	if p.Target <= 0 {
		return 0
	}
	return min(max(p.Value/p.Target, 0), 1)
}

// DueAt returns phase_started_at plus the phase duration, or nil when the
// phase has not started or its model is accumulation-based.
func DueAt(phaseStartedAt *time.Time, phase *recipe.Phase) *time.Time {
	if phaseStartedAt == nil || phase == nil || !phase.Progress.Model.TimeBased() {
		return nil
	}
	d, ok := phase.Progress.Duration()
	if !ok {
		return nil
	}
	due := phaseStartedAt.Add(d)
	return &due
}

// evaluateProgress measures the current phase against its progress model.
// Telemetry is only consulted for models that need it.
func evaluateProgress(ctx context.Context, telemetry TelemetrySource, c *Cycle, phase *recipe.Phase, now time.Time) (*PhaseProgress, error) {
	p := &PhaseProgress{CycleID: c.ID, PhaseID: phase.ID, Model: phase.Progress.Model}
	if c.PhaseStartedAt == nil {
		return p, nil
	}
	start := *c.PhaseStartedAt
	p.Elapsed = max(now.Sub(start), 0)
	p.Hours = p.Elapsed.Hours()
	p.DueAt = DueAt(c.PhaseStartedAt, phase)

	needsTelemetry := phase.Progress.Model != recipe.ModelTime
	if needsTelemetry && telemetry == nil {
		return nil, ErrTelemetryUnavailable.WithID(c.ZoneID).Withf("%s progress needs a telemetry source", phase.Progress.Model)
	}

	switch phase.Progress.Model {
	case recipe.ModelTime:
		d, _ := phase.Progress.Duration()
		p.Value, p.Target, p.Unit = p.Elapsed.Hours(), d.Hours(), "h"

	case recipe.ModelTimeTempCorrected:
		factor, err := telemetry.TemperatureFactor(ctx, c.ZoneID, start, now)
		if err != nil {
			return nil, ErrTelemetryUnavailable.WithID(c.ZoneID).Wrap(err)
		}
		d, _ := phase.Progress.Duration()
		p.Value, p.Target, p.Unit = p.Elapsed.Hours()*factor, d.Hours(), "h"

	case recipe.ModelGDD:
		base := 0.0
		if phase.Progress.BaseTempC != nil {
			base = *phase.Progress.BaseTempC
		}
		gdd, err := telemetry.GrowingDegreeDays(ctx, c.ZoneID, base, start, now)
		if err != nil {
			return nil, ErrTelemetryUnavailable.WithID(c.ZoneID).Wrap(err)
		}
		p.Value, p.Target, p.Unit = gdd, deref(phase.Progress.TargetGDD), "°C·d"

	case recipe.ModelDLI:
		dli, err := telemetry.DailyLightIntegral(ctx, c.ZoneID, start, now)
		if err != nil {
			return nil, ErrTelemetryUnavailable.WithID(c.ZoneID).Wrap(err)
		}
		p.Value, p.Target, p.Unit = dli, deref(phase.Progress.DLITarget), "mol/m²"
	}

	p.Complete = p.Target > 0 && p.Value >= p.Target
	return p, nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
