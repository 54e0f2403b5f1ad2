package growcycle

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-grow/internal/audit"
	"github.com/nerrad567/gray-logic-grow/internal/auth"
	"github.com/nerrad567/gray-logic-grow/internal/recipe"
)

const (
	maxParameterLength = 64
	maxReasonLength    = 500
	maxValueLength     = 256
)

var parameterPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// OverrideInput describes a manual parameter override. Value may be given
// as a JSON scalar or as a string in the value type's text form.
type OverrideInput struct {
	Parameter string           `json:"parameter"`
	ValueType recipe.ValueKind `json:"value_type"`
	Value     any              `json:"value"`
	Reason    string           `json:"reason,omitempty"`
	ActiveWindow
}

// rawValue renders Value in the text form stored by the override table.
func (in *OverrideInput) rawValue() (string, error) {
	switch v := in.Value.(type) {
	case nil:
		return "", ErrInvalidOverride.Withf("value is required")
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", ErrInvalidOverride.Withf("value of type %T is not a scalar", v)
	}
}

// validate checks the override and returns its canonical raw value.
func (in *OverrideInput) validate() (string, error) {
	in.Parameter = strings.TrimSpace(in.Parameter)
	switch {
	case in.Parameter == "":
		return "", ErrInvalidOverride.Withf("parameter is required")
	case len(in.Parameter) > maxParameterLength:
		return "", ErrInvalidOverride.Withf("parameter exceeds %d characters", maxParameterLength)
	case !parameterPattern.MatchString(in.Parameter):
		return "", ErrInvalidOverride.Withf("parameter %q must match %s", in.Parameter, parameterPattern)
	case !recipe.IsValidValueKind(in.ValueType):
		return "", ErrInvalidOverride.Withf("value_type %q is not supported", in.ValueType)
	case len(in.Reason) > maxReasonLength:
		return "", ErrInvalidOverride.Withf("reason exceeds %d characters", maxReasonLength)
	}
	if err := in.ActiveWindow.Validate(); err != nil {
		return "", err
	}

	raw, err := in.rawValue()
	if err != nil {
		return "", err
	}
	if len(raw) > maxValueLength {
		return "", ErrInvalidOverride.Withf("value exceeds %d characters", maxValueLength)
	}
	typed, err := recipe.ParseValue(in.ValueType, raw)
	if err != nil {
		return "", ErrInvalidOverride.Withf("value: %v", err)
	}

	// Unknown parameters are stored for downstream consumers but never
	// reach the resolved target set.
	fieldKind, known := recipe.FieldKind(in.Parameter)
	if !known {
		return raw, nil
	}
	if !recipe.Compatible(fieldKind, in.ValueType) {
		return "", ErrInvalidOverride.Withf("parameter %s takes %s values, not %s", in.Parameter, fieldKind, in.ValueType)
	}
	var candidate recipe.Targets
	if err := candidate.Set(in.Parameter, typed); err != nil {
		return "", ErrInvalidOverride.Wrap(err)
	}
	if err := recipe.ValidateTargets(&candidate); err != nil {
		return "", ErrInvalidOverride.Withf("%v", err)
	}
	return raw, nil
}

// AddOverride attaches a manual override to a non-terminal cycle.
func (s *Service) AddOverride(ctx context.Context, actor auth.ActorContext, cycleID string, in OverrideInput) (*Override, error) {
	raw, err := in.validate()
	if err != nil {
		return nil, err
	}
	c, err := s.authorizedCycle(ctx, actor, auth.CapCycleOverride, cycleID)
	if err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return nil, ErrInvalidTransition.WithID(cycleID).Withf("cannot override a grow cycle in status %s", c.Status)
	}

	o := &Override{
		ID:           uuid.NewString(),
		CycleID:      cycleID,
		Parameter:    in.Parameter,
		ValueType:    in.ValueType,
		Value:        raw,
		Reason:       in.Reason,
		CreatedBy:    actor.ActorID,
		ActiveWindow: in.ActiveWindow,
		IsActive:     true,
		CreatedAt:    s.now(),
	}
	if err := s.repo.CreateOverride(ctx, o); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.ActionCreate, audit.EntityOverride, o.ID, actor.ActorID, map[string]any{
		"grow_cycle_id": cycleID,
		"parameter":     o.Parameter,
		"value":         o.Value,
		"value_type":    string(o.ValueType),
		"reason":        o.Reason,
	})
	s.logger.Info("override added", "override_id", o.ID, "cycle_id", cycleID,
		"parameter", o.Parameter, "value", o.Value, "actor", actor.ActorID)
	return o, nil
}

// DeactivateOverride disables an override. Deactivating an inactive
// override returns it unchanged.
func (s *Service) DeactivateOverride(ctx context.Context, actor auth.ActorContext, overrideID string) (*Override, error) {
	o, err := s.repo.GetOverride(ctx, overrideID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorizedCycle(ctx, actor, auth.CapCycleOverride, o.CycleID); err != nil {
		return nil, err
	}
	if !o.IsActive {
		return o, nil
	}

	now := s.now()
	if err := s.repo.DeactivateOverride(ctx, overrideID, actor.ActorID, now); err != nil {
		return nil, err
	}
	if o, err = s.repo.GetOverride(ctx, overrideID); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.ActionDeactivate, audit.EntityOverride, o.ID, actor.ActorID, map[string]any{
		"grow_cycle_id": o.CycleID,
		"parameter":     o.Parameter,
	})
	s.logger.Info("override deactivated", "override_id", o.ID, "cycle_id", o.CycleID, "actor", actor.ActorID)
	return o, nil
}

// ListOverrides returns every override of a cycle, oldest first.
func (s *Service) ListOverrides(ctx context.Context, actor auth.ActorContext, cycleID string) ([]Override, error) {
	if _, err := s.authorizedCycle(ctx, actor, auth.CapCycleRead, cycleID); err != nil {
		return nil, err
	}
	return s.repo.ListOverrides(ctx, cycleID)
}

// ActiveOverridesFor returns the overrides of a cycle that apply at the
// given time, oldest first.
func (s *Service) ActiveOverridesFor(ctx context.Context, actor auth.ActorContext, cycleID string, at time.Time) ([]Override, error) {
	if _, err := s.authorizedCycle(ctx, actor, auth.CapCycleRead, cycleID); err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = s.now()
	}
	active, err := s.repo.ActiveOverrides(ctx, []string{cycleID}, at)
	if err != nil {
		return nil, fmt.Errorf("loading active overrides: %w", err)
	}
	if active[cycleID] == nil {
		return []Override{}, nil
	}
	return active[cycleID], nil
}
