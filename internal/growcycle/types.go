package growcycle

import (
	"maps"
	"time"

	"github.com/nerrad567/gray-logic-grow/internal/recipe"
)

// Status is the lifecycle state of a grow cycle.
type Status string

// Cycle statuses.
const (
	StatusPlanned   Status = "PLANNED"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusHarvested Status = "HARVESTED"
	StatusAborted   Status = "ABORTED"
)

// ActiveStatuses are the statuses that occupy a zone.
func ActiveStatuses() []Status {
	return []Status{StatusPlanned, StatusRunning, StatusPaused}
}

// IsActive reports whether the cycle still occupies its zone.
func (s Status) IsActive() bool {
	return s == StatusPlanned || s == StatusRunning || s == StatusPaused
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusHarvested || s == StatusAborted
}

// Trigger classifies why a transition happened.
type Trigger string

// Transition triggers.
const (
	TriggerAutoAdvance    Trigger = "auto_advance"
	TriggerManualSet      Trigger = "manual_set"
	TriggerStatusChange   Trigger = "status_change"
	TriggerRevisionChange Trigger = "revision_change"
)

// ApplyMode controls when a revision change takes effect.
type ApplyMode string

// Apply modes.
const (
	// ApplyNow repoints the cycle to the same phase_index in the new revision immediately.
	ApplyNow ApplyMode = "now"

	// ApplyNextPhase stores the revision as pending and swaps at the next phase advance.
	ApplyNextPhase ApplyMode = "next_phase"
)

// Cycle is one grow of one plant in one zone, driven by a published recipe revision.
type Cycle struct {
	ID                string         `json:"id"`
	ZoneID            string         `json:"zone_id"`
	PlantID           string         `json:"plant_id"`
	RevisionID        string         `json:"recipe_revision_id"`
	PendingRevisionID string         `json:"pending_revision_id,omitempty"`
	Status            Status         `json:"status"`
	CurrentPhaseID    string         `json:"current_phase_id,omitempty"`
	CurrentStepID     string         `json:"current_step_id,omitempty"`
	PlantingAt        *time.Time     `json:"planting_at,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	PhaseStartedAt    *time.Time     `json:"phase_started_at,omitempty"`
	StepStartedAt     *time.Time     `json:"step_started_at,omitempty"`
	ExpectedHarvestAt *time.Time     `json:"expected_harvest_at,omitempty"`
	ActualHarvestAt   *time.Time     `json:"actual_harvest_at,omitempty"`
	AbortedAt         *time.Time     `json:"aborted_at,omitempty"`
	Notes             string         `json:"notes,omitempty"`
	BatchLabel        string         `json:"batch_label,omitempty"`
	Settings          map[string]any `json:"settings"`
	CreatedBy         string         `json:"created_by,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// DeepCopy returns an independent copy of the cycle.
func (c *Cycle) DeepCopy() *Cycle {
	if c == nil {
		return nil
	}
	cpy := *c
	cpy.Settings = maps.Clone(c.Settings)
	for _, p := range []**time.Time{
		&cpy.PlantingAt, &cpy.StartedAt, &cpy.PhaseStartedAt, &cpy.StepStartedAt,
		&cpy.ExpectedHarvestAt, &cpy.ActualHarvestAt, &cpy.AbortedAt,
	} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return &cpy
}

// ActiveWindow bounds when an override applies. A nil bound is open on that side.
type ActiveWindow struct {
	From  *time.Time `json:"applies_from,omitempty"`
	Until *time.Time `json:"applies_until,omitempty"`
}

// Contains reports whether now falls within the window, bounds inclusive.
func (w ActiveWindow) Contains(now time.Time) bool {
	if w.From != nil && now.Before(*w.From) {
		return false
	}
	if w.Until != nil && now.After(*w.Until) {
		return false
	}
	return true
}

// Validate rejects windows that end before they start.
func (w ActiveWindow) Validate() error {
	if w.From != nil && w.Until != nil && w.Until.Before(*w.From) {
		return ErrInvalidOverride.Withf("applies_until is before applies_from")
	}
	return nil
}

// Override is a manual parameter value scoped to one cycle and a time window.
type Override struct {
	ID        string           `json:"id"`
	CycleID   string           `json:"grow_cycle_id"`
	Parameter string           `json:"parameter"`
	ValueType recipe.ValueKind `json:"value_type"`
	Value     string           `json:"value"`
	Reason    string           `json:"reason,omitempty"`
	CreatedBy string           `json:"created_by,omitempty"`
	ActiveWindow

	IsActive      bool       `json:"is_active"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	DeactivatedBy string     `json:"deactivated_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ActiveAt reports whether the override is enabled and now is within its window.
func (o *Override) ActiveAt(now time.Time) bool {
	return o.IsActive && o.Contains(now)
}

// TypedValue parses the stored raw value according to its value type.
func (o *Override) TypedValue() (any, error) {
	return recipe.ParseValue(o.ValueType, o.Value)
}

// Transition is one append-only ledger entry describing a status, phase,
// step or revision change.
type Transition struct {
	ID             string         `json:"id"`
	CycleID        string         `json:"grow_cycle_id"`
	FromStatus     Status         `json:"from_status,omitempty"`
	ToStatus       Status         `json:"to_status"`
	FromPhaseID    string         `json:"from_phase_id,omitempty"`
	ToPhaseID      string         `json:"to_phase_id,omitempty"`
	FromStepID     string         `json:"from_step_id,omitempty"`
	ToStepID       string         `json:"to_step_id,omitempty"`
	FromRevisionID string         `json:"from_revision_id,omitempty"`
	ToRevisionID   string         `json:"to_revision_id,omitempty"`
	Trigger        Trigger        `json:"trigger"`
	Comment        string         `json:"comment,omitempty"`
	TriggeredBy    string         `json:"triggered_by,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
}

// CycleFilter narrows ListCycles.
type CycleFilter struct {
	ZoneID string
	Status Status
	Limit  int // default 100, max 500
}
