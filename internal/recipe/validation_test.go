package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validPhase() *Phase {
	return &Phase{
		PhaseIndex: 0,
		Name:       "Germination",
		Targets: Targets{
			PHTarget: fp(5.8), PHMin: fp(5.5), PHMax: fp(6.2),
			ECTarget: fp(1.2), ECMin: fp(1.0), ECMax: fp(1.4),
			IrrigationMode:        sp(IrrigationInterval),
			IrrigationIntervalSec: ip(1800),
			IrrigationDurationSec: ip(60),
		},
		Progress: Progress{Model: ModelTime, DurationHours: fp(48)},
	}
}

func TestValidatePhase(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Phase)
		wantErr error
	}{
		{"valid", func(*Phase) {}, nil},
		{"missing name", func(p *Phase) { p.Name = " " }, ErrInvalidPhase},
		{"negative index", func(p *Phase) { p.PhaseIndex = -1 }, ErrInvalidPhase},
		{"missing ph_max", func(p *Phase) { p.Targets.PHMax = nil }, ErrInvalidTargets},
		{"ph out of range", func(p *Phase) { p.Targets.PHMax = fp(15) }, ErrInvalidTargets},
		{"ph target below min", func(p *Phase) { p.Targets.PHTarget = fp(5.0) }, ErrInvalidTargets},
		{"ec min above max", func(p *Phase) { p.Targets.ECMin = fp(2.0) }, ErrInvalidTargets},
		{"negative ec", func(p *Phase) { p.Targets.ECMin = fp(-0.1) }, ErrInvalidTargets},
		{"unknown irrigation mode", func(p *Phase) { p.Targets.IrrigationMode = sp("flood") }, ErrInvalidTargets},
		{"interval without duration", func(p *Phase) { p.Targets.IrrigationDurationSec = nil }, ErrInvalidTargets},
		{"continuous needs no interval", func(p *Phase) {
			p.Targets.IrrigationMode = sp(IrrigationContinuous)
			p.Targets.IrrigationIntervalSec, p.Targets.IrrigationDurationSec = nil, nil
		}, nil},
		{"photoperiod over 24", func(p *Phase) { p.Targets.LightingPhotoperiodHours = fp(25) }, ErrInvalidTargets},
		{"bad lighting start", func(p *Phase) { p.Targets.LightingStartTime = sp("7am") }, ErrInvalidTargets},
		{"bad mist mode", func(p *Phase) { p.Targets.MistMode = sp("fog") }, ErrInvalidTargets},
		{"humidity over 100", func(p *Phase) { p.Targets.HumidityTarget = fp(101) }, ErrInvalidTargets},
		{"time without duration", func(p *Phase) { p.Progress.DurationHours = nil }, ErrInvalidPhase},
		{"time with days", func(p *Phase) { p.Progress.DurationHours, p.Progress.DurationDays = nil, fp(3) }, nil},
		{"zero duration", func(p *Phase) { p.Progress.DurationHours = fp(0) }, ErrInvalidPhase},
		{"gdd without base temp", func(p *Phase) { p.Progress = Progress{Model: ModelGDD, TargetGDD: fp(200)} }, ErrInvalidPhase},
		{"gdd complete", func(p *Phase) {
			p.Progress = Progress{Model: ModelGDD, TargetGDD: fp(200), BaseTempC: fp(10)}
		}, nil},
		{"dli without target", func(p *Phase) { p.Progress = Progress{Model: ModelDLI} }, ErrInvalidPhase},
		{"unknown model", func(p *Phase) { p.Progress.Model = "LUNAR" }, ErrInvalidPhase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPhase()
			tt.mutate(p)
			err := ValidatePhase(p)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateStep(t *testing.T) {
	base := validPhase().Targets

	tests := []struct {
		name    string
		step    Step
		wantErr error
	}{
		{"valid", Step{Name: "Flush", OffsetHours: 12, Targets: map[string]any{"ec_target": 1.1}}, nil},
		{"negative offset", Step{Name: "x", OffsetHours: -1}, ErrInvalidStep},
		{"unknown field", Step{Name: "x", Targets: map[string]any{"fan": 1.0}}, ErrInvalidTargets},
		{"breaks band", Step{Name: "x", Targets: map[string]any{"ph_target": 7.5}}, ErrInvalidTargets},
		{"missing name", Step{}, ErrInvalidStep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStep(&tt.step, base)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
