package recipe

import "github.com/nerrad567/gray-logic-grow/internal/apperr"

// Domain errors for the recipe package.
var (
	ErrRecipeNotFound   = apperr.New(apperr.KindNotFound, "recipe_not_found", "recipe not found")
	ErrRevisionNotFound = apperr.New(apperr.KindNotFound, "revision_not_found", "recipe revision not found")
	ErrPhaseNotFound    = apperr.New(apperr.KindNotFound, "phase_not_found", "recipe phase not found")
	ErrStepNotFound     = apperr.New(apperr.KindNotFound, "step_not_found", "recipe step not found")

	ErrNotEditable      = apperr.New(apperr.KindState, "not_editable", "revision is published and can no longer be edited")
	ErrAlreadyPublished = apperr.New(apperr.KindState, "already_published", "revision is already published")
	ErrPhaseInUse       = apperr.New(apperr.KindState, "phase_in_use", "phase is the current phase of an active grow cycle")

	ErrRecipeExists        = apperr.New(apperr.KindConflict, "recipe_exists", "a recipe with this name already exists")
	ErrPhaseIndexConflict  = apperr.New(apperr.KindConflict, "phase_index_conflict", "phase_index is already used in this revision")
	ErrStepIndexConflict   = apperr.New(apperr.KindConflict, "step_index_conflict", "step_index is already used in this phase")
	ErrCloneSourceMismatch = apperr.New(apperr.KindValidation, "clone_source_mismatch", "clone source belongs to another recipe")

	ErrInvalidRecipe  = apperr.New(apperr.KindValidation, "invalid_recipe", "invalid recipe")
	ErrInvalidPhase   = apperr.New(apperr.KindValidation, "invalid_phase", "invalid phase")
	ErrInvalidStep    = apperr.New(apperr.KindValidation, "invalid_step", "invalid step")
	ErrInvalidTargets = apperr.New(apperr.KindValidation, "invalid_targets", "invalid targets")
	ErrEmptyRevision  = apperr.New(apperr.KindValidation, "revision_has_no_phases", "a revision needs at least one phase to be published")
)
