package recipe

import (
	"maps"
	"time"
)

// RevisionStatus is the publication state of a revision.
type RevisionStatus string

// Revision statuses.
const (
	StatusDraft     RevisionStatus = "DRAFT"
	StatusPublished RevisionStatus = "PUBLISHED"
)

// ProgressModel decides when a phase is complete.
type ProgressModel string

// Progress models.
const (
	// ModelTime completes once wall-clock time in phase reaches the duration.
	ModelTime ProgressModel = "TIME"

	// ModelTimeTempCorrected scales elapsed time by a temperature factor from telemetry.
	ModelTimeTempCorrected ProgressModel = "TIME_WITH_TEMP_CORRECTION"

	// ModelGDD completes once accumulated growing degree days reach target_gdd.
	ModelGDD ProgressModel = "GDD"

	// ModelDLI completes once the accumulated daily light integral reaches dli_target.
	ModelDLI ProgressModel = "DLI"
)

// AllProgressModels returns every supported progress model.
func AllProgressModels() []ProgressModel {
	return []ProgressModel{ModelTime, ModelTimeTempCorrected, ModelGDD, ModelDLI}
}

// TimeBased reports whether completion is judged against a fixed duration.
func (m ProgressModel) TimeBased() bool {
	return m == ModelTime || m == ModelTimeTempCorrected
}

// Recipe is a named template owning ordered revisions.
type Recipe struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Revision is one version of a recipe. A PUBLISHED revision and its phase
// graph never change; edits go into a new DRAFT cloned from it.
type Revision struct {
	ID             string         `json:"id"`
	RecipeID       string         `json:"recipe_id"`
	RevisionNumber int            `json:"revision_number"`
	Status         RevisionStatus `json:"status"`
	Description    string         `json:"description,omitempty"`
	CreatedBy      string         `json:"created_by,omitempty"`
	PublishedAt    *time.Time     `json:"published_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	// Phases are ordered by PhaseIndex.
	Phases []Phase `json:"phases"`
}

// Editable reports whether the revision can still be modified.
func (r *Revision) Editable() bool {
	return r.Status == StatusDraft
}

// IsPublished reports whether the revision can back a grow cycle.
func (r *Revision) IsPublished() bool {
	return r.Status == StatusPublished
}

// FirstPhase returns the phase with the lowest index, or nil.
func (r *Revision) FirstPhase() *Phase {
	if len(r.Phases) == 0 {
		return nil
	}
	return &r.Phases[0]
}

// NextPhase returns the first phase whose index is greater than afterIndex, or nil.
func (r *Revision) NextPhase(afterIndex int) *Phase {
	for i := range r.Phases {
		if r.Phases[i].PhaseIndex > afterIndex {
			return &r.Phases[i]
		}
	}
	return nil
}

// PhaseByID returns the phase with id, or nil.
func (r *Revision) PhaseByID(id string) *Phase {
	for i := range r.Phases {
		if r.Phases[i].ID == id {
			return &r.Phases[i]
		}
	}
	return nil
}

// PhaseByIndex returns the phase at phase_index idx, or nil.
func (r *Revision) PhaseByIndex(idx int) *Phase {
	for i := range r.Phases {
		if r.Phases[i].PhaseIndex == idx {
			return &r.Phases[i]
		}
	}
	return nil
}

// TotalDuration sums phase durations. ok is false when any phase is
// accumulation-based and so has no fixed length.
func (r *Revision) TotalDuration() (total time.Duration, ok bool) {
	if len(r.Phases) == 0 {
		return 0, false
	}
	for i := range r.Phases {
		d, known := r.Phases[i].Progress.Duration()
		if !known || !r.Phases[i].Progress.Model.TimeBased() {
			return 0, false
		}
		total += d
	}
	return total, true
}

// Phase is one agronomic stage of a revision.
type Phase struct {
	ID         string    `json:"id"`
	RevisionID string    `json:"revision_id"`
	PhaseIndex int       `json:"phase_index"`
	Name       string    `json:"name"`
	Code       string    `json:"code,omitempty"`
	Targets    Targets   `json:"targets"`
	Progress   Progress  `json:"progress"`
	Steps      []Step    `json:"steps"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FirstStep returns the step with the lowest index, or nil.
func (p *Phase) FirstStep() *Step {
	if len(p.Steps) == 0 {
		return nil
	}
	return &p.Steps[0]
}

// StepByID returns the step with id, or nil.
func (p *Phase) StepByID(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// StepByIndex returns the step at step_index idx, or nil.
func (p *Phase) StepByIndex(idx int) *Step {
	for i := range p.Steps {
		if p.Steps[i].StepIndex == idx {
			return &p.Steps[i]
		}
	}
	return nil
}

// StepAt returns the latest step whose offset has been reached after
// elapsed time in phase, or nil when the phase has no steps.
func (p *Phase) StepAt(elapsed time.Duration) *Step {
	var current *Step
	hours := elapsed.Hours()
	for i := range p.Steps {
		if p.Steps[i].OffsetHours <= hours {
			current = &p.Steps[i]
		}
	}
	if current == nil {
		return p.FirstStep()
	}
	return current
}

// Progress holds the progress model and the parameters it needs.
type Progress struct {
	Model         ProgressModel `json:"model"`
	DurationHours *float64      `json:"duration_hours,omitempty"`
	DurationDays  *float64      `json:"duration_days,omitempty"`
	BaseTempC     *float64      `json:"base_temp_c,omitempty"`
	TargetGDD     *float64      `json:"target_gdd,omitempty"`
	DLITarget     *float64      `json:"dli_target,omitempty"`
}

// Duration returns the configured phase length. Hours take precedence over days.
func (p Progress) Duration() (time.Duration, bool) {
	switch {
	case p.DurationHours != nil:
		return hoursToDuration(*p.DurationHours), true
	case p.DurationDays != nil:
		return hoursToDuration(*p.DurationDays * 24), true //nolint:mnd // hours per day
	default:
		return 0, false
	}
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// Step is a sub-phase action starting OffsetHours into the phase. Its
// Targets override the phase targets while the step is current.
type Step struct {
	ID          string         `json:"id"`
	PhaseID     string         `json:"phase_id"`
	StepIndex   int            `json:"step_index"`
	Name        string         `json:"name"`
	OffsetHours float64        `json:"offset_hours"`
	Action      string         `json:"action,omitempty"`
	Targets     map[string]any `json:"targets"`
	CreatedAt   time.Time      `json:"created_at"`
}

// DeepCopy returns an independent copy of the phase including its steps.
func (p *Phase) DeepCopy() *Phase {
	if p == nil {
		return nil
	}
	cpy := *p
	cpy.Targets = p.Targets.Clone()
	cpy.Progress = Progress{
		Model:         p.Progress.Model,
		DurationHours: cloneFloat(p.Progress.DurationHours),
		DurationDays:  cloneFloat(p.Progress.DurationDays),
		BaseTempC:     cloneFloat(p.Progress.BaseTempC),
		TargetGDD:     cloneFloat(p.Progress.TargetGDD),
		DLITarget:     cloneFloat(p.Progress.DLITarget),
	}
	if p.Steps != nil {
		cpy.Steps = make([]Step, len(p.Steps))
		for i, s := range p.Steps {
			cpy.Steps[i] = s
			cpy.Steps[i].Targets = maps.Clone(s.Targets)
		}
	}
	return &cpy
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
