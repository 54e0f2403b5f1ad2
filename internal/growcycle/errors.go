package growcycle

import "github.com/nerrad567/gray-logic-grow/internal/apperr"

// Domain errors for the growcycle package.
var (
	ErrCycleNotFound    = apperr.New(apperr.KindNotFound, "cycle_not_found", "grow cycle not found")
	ErrNoActiveCycle    = apperr.New(apperr.KindNotFound, "no_active_cycle", "zone has no active grow cycle")
	ErrOverrideNotFound = apperr.New(apperr.KindNotFound, "override_not_found", "override not found")

	ErrInvalidTransition    = apperr.New(apperr.KindState, "invalid_transition", "transition not allowed from the current status")
	ErrRevisionNotPublished = apperr.New(apperr.KindState, "revision_not_published", "revision must be published")
	ErrPhaseNotComplete     = apperr.New(apperr.KindState, "phase_not_complete", "current phase is not complete")
	ErrNoNextPhase          = apperr.New(apperr.KindState, "no_next_phase", "current phase is the last phase; harvest instead")
	ErrPhaseIndexNotFound   = apperr.New(apperr.KindState, "phase_index_not_found", "new revision has no phase with the current phase_index")

	ErrZoneHasActiveCycle = apperr.New(apperr.KindConflict, "zone_has_active_cycle", "zone already has an active grow cycle")
	ErrConcurrentUpdate   = apperr.New(apperr.KindConflict, "concurrent_update", "grow cycle changed while the operation was in progress; retry")

	ErrInvalidCycle       = apperr.New(apperr.KindValidation, "invalid_cycle", "invalid grow cycle")
	ErrCommentRequired    = apperr.New(apperr.KindValidation, "comment_required", "a comment is required for a manual phase change")
	ErrPhaseNotInRevision = apperr.New(apperr.KindValidation, "phase_not_in_revision", "phase does not belong to the cycle's revision")
	ErrInvalidApplyMode   = apperr.New(apperr.KindValidation, "invalid_apply_mode", "apply_mode must be now or next_phase")
	ErrInvalidOverride    = apperr.New(apperr.KindValidation, "invalid_override", "invalid override")

	ErrTelemetryUnavailable = apperr.New(apperr.KindUpstream, "telemetry_unavailable", "telemetry source could not be queried")
)
