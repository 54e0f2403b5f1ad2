package recipe

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// Validation limits.
const (
	maxNameLength        = 100
	maxDescriptionLength = 2000
	maxCodeLength        = 32

	phMin             = 0.0
	phMax             = 14.0
	photoperiodMax    = 24.0
	humidityMax       = 100.0
	maxStepTargetKeys = 32
)

// Irrigation modes.
const (
	IrrigationContinuous = "continuous"
	IrrigationInterval   = "interval"
	IrrigationEbbFlow    = "ebb_flow"
	IrrigationDrip       = "drip"
	IrrigationManual     = "manual"
)

// Mist modes.
const (
	MistOff      = "off"
	MistInterval = "interval"
	MistHumidity = "humidity"
)

// Pre-computed validation sets.
var (
	validIrrigationModes map[string]bool
	validMistModes       map[string]bool
	validProgressModels  map[ProgressModel]bool
)

func init() {
	validIrrigationModes = map[string]bool{
		IrrigationContinuous: true,
		IrrigationInterval:   true,
		IrrigationEbbFlow:    true,
		IrrigationDrip:       true,
		IrrigationManual:     true,
	}
	validMistModes = map[string]bool{MistOff: true, MistInterval: true, MistHumidity: true}

	validProgressModels = make(map[ProgressModel]bool)
	for _, m := range AllProgressModels() {
		validProgressModels[m] = true
	}
}

// ValidateRecipe checks a recipe's name and description.
func ValidateRecipe(r *Recipe) error {
	if err := validateName(r.Name); err != nil {
		return ErrInvalidRecipe.Withf("%v", err)
	}
	if len(r.Description) > maxDescriptionLength {
		return ErrInvalidRecipe.Withf("description exceeds %d characters", maxDescriptionLength)
	}
	return nil
}

// ValidatePhase checks a phase's identity, required targets, target ranges
// and progress-model parameters.
func ValidatePhase(p *Phase) error {
	if err := validateName(p.Name); err != nil {
		return ErrInvalidPhase.Withf("%v", err)
	}
	if p.PhaseIndex < 0 {
		return ErrInvalidPhase.Withf("phase_index must be >= 0")
	}
	if len(p.Code) > maxCodeLength {
		return ErrInvalidPhase.Withf("code exceeds %d characters", maxCodeLength)
	}

	for _, name := range requiredFields {
		if name == "irrigation_interval_sec" || name == "irrigation_duration_sec" {
			continue
		}
		if v, _ := p.Targets.Get(name); v == nil {
			return ErrInvalidTargets.Withf("%s is required", name)
		}
	}
	if p.Targets.IrrigationMode != nil && *p.Targets.IrrigationMode == IrrigationInterval {
		if p.Targets.IrrigationIntervalSec == nil || p.Targets.IrrigationDurationSec == nil {
			return ErrInvalidTargets.Withf("irrigation_interval_sec and irrigation_duration_sec are required for interval irrigation")
		}
	}
	if err := ValidateTargets(&p.Targets); err != nil {
		return err
	}
	return ValidateProgress(p.Progress)
}

// ValidateTargets checks the ranges of every populated field. Unset fields pass.
func ValidateTargets(t *Targets) error {
	if err := checkBand("ph", t.PHMin, t.PHTarget, t.PHMax, phMin, phMax); err != nil {
		return err
	}
	if err := checkBand("ec", t.ECMin, t.ECTarget, t.ECMax, 0, -1); err != nil {
		return err
	}
	if t.IrrigationMode != nil && !validIrrigationModes[*t.IrrigationMode] {
		return ErrInvalidTargets.Withf("irrigation_mode %q is not one of %s", *t.IrrigationMode, setString(validIrrigationModes))
	}
	if t.MistMode != nil && !validMistModes[*t.MistMode] {
		return ErrInvalidTargets.Withf("mist_mode %q is not one of %s", *t.MistMode, setString(validMistModes))
	}
	for name, v := range map[string]*int{
		"irrigation_interval_sec": t.IrrigationIntervalSec,
		"irrigation_duration_sec": t.IrrigationDurationSec,
		"mist_interval_sec":       t.MistIntervalSec,
		"mist_duration_sec":       t.MistDurationSec,
	} {
		if v != nil && *v <= 0 {
			return ErrInvalidTargets.Withf("%s must be > 0", name)
		}
	}
	if v := t.LightingPhotoperiodHours; v != nil && (*v < 0 || *v > photoperiodMax) {
		return ErrInvalidTargets.Withf("lighting_photoperiod_hours must be within [0, 24]")
	}
	if v := t.HumidityTarget; v != nil && (*v < 0 || *v > humidityMax) {
		return ErrInvalidTargets.Withf("humidity_target must be within [0, 100]")
	}
	if v := t.CO2Target; v != nil && *v < 0 {
		return ErrInvalidTargets.Withf("co2_target must be >= 0")
	}
	if v := t.LightingStartTime; v != nil {
		if _, err := coerce(KindTime, *v); err != nil {
			return ErrInvalidTargets.Withf("lighting_start_time: %v", err)
		}
	}
	return nil
}

// checkBand validates a min/target/max triple. A negative upper bound means unbounded.
func checkBand(prefix string, lo, target, hi *float64, lower, upper float64) error {
	for suffix, v := range map[string]*float64{"_min": lo, "_target": target, "_max": hi} {
		if v == nil {
			continue
		}
		if *v < lower || (upper >= 0 && *v > upper) {
			if upper >= 0 {
				return ErrInvalidTargets.Withf("%s%s must be within [%g, %g]", prefix, suffix, lower, upper)
			}
			return ErrInvalidTargets.Withf("%s%s must be >= %g", prefix, suffix, lower)
		}
	}
	if lo != nil && hi != nil && *lo > *hi {
		return ErrInvalidTargets.Withf("%s_min must not exceed %s_max", prefix, prefix)
	}
	if target != nil {
		if lo != nil && *target < *lo {
			return ErrInvalidTargets.Withf("%s_target is below %s_min", prefix, prefix)
		}
		if hi != nil && *target > *hi {
			return ErrInvalidTargets.Withf("%s_target is above %s_max", prefix, prefix)
		}
	}
	return nil
}

// ValidateProgress checks that the parameters the progress model needs are present.
func ValidateProgress(p Progress) error {
	if !validProgressModels[p.Model] {
		return ErrInvalidPhase.Withf("unknown progress_model %q", p.Model)
	}
	for name, v := range map[string]*float64{
		"duration_hours": p.DurationHours,
		"duration_days":  p.DurationDays,
		"target_gdd":     p.TargetGDD,
		"dli_target":     p.DLITarget,
	} {
		if v != nil && *v <= 0 {
			return ErrInvalidPhase.Withf("%s must be > 0", name)
		}
	}

	switch p.Model {
	case ModelTime, ModelTimeTempCorrected:
		if p.DurationHours == nil && p.DurationDays == nil {
			return ErrInvalidPhase.Withf("%s requires duration_hours or duration_days", p.Model)
		}
	case ModelGDD:
		if p.TargetGDD == nil || p.BaseTempC == nil {
			return ErrInvalidPhase.Withf("GDD requires target_gdd and base_temp_c")
		}
	case ModelDLI:
		if p.DLITarget == nil {
			return ErrInvalidPhase.Withf("DLI requires dli_target")
		}
	}
	return nil
}

// ValidateStep checks a step and its target overrides. Step targets are
// applied on top of base, and the merged result must stay in range.
func ValidateStep(s *Step, base Targets) error {
	if err := validateName(s.Name); err != nil {
		return ErrInvalidStep.Withf("%v", err)
	}
	if s.StepIndex < 0 {
		return ErrInvalidStep.Withf("step_index must be >= 0")
	}
	if s.OffsetHours < 0 {
		return ErrInvalidStep.Withf("offset_hours must be >= 0")
	}
	if len(s.Targets) > maxStepTargetKeys {
		return ErrInvalidStep.Withf("at most %d target overrides per step", maxStepTargetKeys)
	}
	merged := base.Clone()
	if err := merged.Apply(s.Targets); err != nil {
		return err
	}
	return ValidateTargets(&merged)
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("name exceeds %d characters", maxNameLength)
	}
	return nil
}

func setString(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return strings.Join(keys, ", ")
}
