package recipe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevisionNavigation(t *testing.T) {
	rev := &Revision{Phases: []Phase{
		{ID: "p0", PhaseIndex: 0, Progress: Progress{Model: ModelTime, DurationHours: fp(48)}},
		{ID: "p2", PhaseIndex: 2, Progress: Progress{Model: ModelTime, DurationDays: fp(3)}},
	}}

	require.NotNil(t, rev.FirstPhase())
	assert.Equal(t, "p0", rev.FirstPhase().ID)
	assert.Equal(t, "p2", rev.NextPhase(0).ID, "gaps in phase_index are skipped")
	assert.Nil(t, rev.NextPhase(2))
	assert.Equal(t, "p2", rev.PhaseByID("p2").ID)
	assert.Nil(t, rev.PhaseByIndex(1))

	total, ok := rev.TotalDuration()
	assert.True(t, ok)
	assert.Equal(t, 120*time.Hour, total)

	rev.Phases[1].Progress = Progress{Model: ModelDLI, DLITarget: fp(400)}
	_, ok = rev.TotalDuration()
	assert.False(t, ok)

	assert.Nil(t, (&Revision{}).FirstPhase())
}

func TestProgressDuration(t *testing.T) {
	d, ok := Progress{DurationHours: fp(1.5), DurationDays: fp(2)}.Duration()
	assert.True(t, ok)
	assert.Equal(t, 90*time.Minute, d, "hours take precedence")

	d, ok = Progress{DurationDays: fp(2)}.Duration()
	assert.True(t, ok)
	assert.Equal(t, 48*time.Hour, d)

	_, ok = Progress{}.Duration()
	assert.False(t, ok)
}

func TestPhaseStepAt(t *testing.T) {
	p := &Phase{Steps: []Step{
		{ID: "s0", StepIndex: 0, OffsetHours: 0},
		{ID: "s1", StepIndex: 1, OffsetHours: 12},
		{ID: "s2", StepIndex: 2, OffsetHours: 36},
	}}

	assert.Equal(t, "s0", p.StepAt(0).ID)
	assert.Equal(t, "s1", p.StepAt(12*time.Hour).ID)
	assert.Equal(t, "s1", p.StepAt(35*time.Hour).ID)
	assert.Equal(t, "s2", p.StepAt(100*time.Hour).ID)
	assert.Nil(t, (&Phase{}).StepAt(time.Hour))
}

func TestPhaseDeepCopy(t *testing.T) {
	orig := validPhase()
	orig.Steps = []Step{{ID: "s", Targets: map[string]any{"ec_target": 1.0}}}

	cpy := orig.DeepCopy()
	*cpy.Progress.DurationHours = 1
	cpy.Steps[0].Targets["ec_target"] = 2.0
	*cpy.Targets.ECTarget = 9

	assert.Equal(t, 48.0, *orig.Progress.DurationHours)
	assert.Equal(t, 1.0, orig.Steps[0].Targets["ec_target"])
	assert.Equal(t, 1.2, *orig.Targets.ECTarget)
	assert.Nil(t, (*Phase)(nil).DeepCopy())
}
