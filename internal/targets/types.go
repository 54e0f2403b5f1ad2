package targets

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-grow/internal/apperr"
	"github.com/nerrad567/gray-logic-grow/internal/growcycle"
	"github.com/nerrad567/gray-logic-grow/internal/recipe"
)

// Snapshot is the resolved state of one cycle at one instant.
type Snapshot struct {
	CycleID    string           `json:"cycle_id"`
	ZoneID     string           `json:"zone_id"`
	RevisionID string           `json:"recipe_revision_id"`
	Status     growcycle.Status `json:"status"`
	Phase      PhaseInfo        `json:"phase"`
	Step       *StepInfo        `json:"step,omitempty"`
	Targets    recipe.Targets   `json:"targets"`

	// Overrides maps each overridden field to the override that won it.
	Overrides  map[string]string `json:"overrides,omitempty"`
	ResolvedAt time.Time         `json:"resolved_at"`
}

// PhaseInfo describes the current phase. StartedAt and DueAt are null
// before the cycle starts; DueAt is also null for accumulation models.
type PhaseInfo struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Code          string               `json:"code,omitempty"`
	Index         int                  `json:"index"`
	ProgressModel recipe.ProgressModel `json:"progress_model"`
	StartedAt     *time.Time           `json:"started_at"`
	DueAt         *time.Time           `json:"due_at"`
}

// StepInfo describes the current step.
type StepInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Index     int        `json:"index"`
	Action    string     `json:"action,omitempty"`
	StartedAt *time.Time `json:"started_at"`
}

// Entry is one zone's result in a batch. Exactly one of three shapes is
// meaningful: a snapshot, no active cycle (both fields nil), or an error.
type Entry struct {
	Snapshot *Snapshot
	Err      error
}

// Empty reports whether the zone has no active cycle.
func (e Entry) Empty() bool {
	return e.Snapshot == nil && e.Err == nil
}

// entryError is the JSON body of a failed entry.
type entryError struct {
	Kind    apperr.Kind `json:"kind"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	ID      string      `json:"id,omitempty"`
}

// MarshalJSON renders the snapshot, null, or {"error": {...}}.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Err != nil {
		body := entryError{Kind: "internal", Code: "internal_error", Message: "targets could not be resolved"}
		if ae, ok := apperr.As(e.Err); ok {
			body = entryError{Kind: ae.Kind, Code: ae.Code, Message: ae.Message, ID: ae.ID}
		}
		return json.Marshal(struct {
			Error entryError `json:"error"`
		}{body})
	}
	if e.Snapshot == nil {
		return []byte("null"), nil
	}
	return json.Marshal(e.Snapshot)
}

// Errors returned by the resolver.
var (
	ErrInvalidBatch  = apperr.New(apperr.KindValidation, "invalid_batch", "zone_ids must contain at least one zone id")
	ErrBatchTooLarge = apperr.New(apperr.KindValidation, "batch_too_large", "too many zones in one batch")
)
