package recipe

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"
)

// Targets holds the setpoints of a phase. Required fields always serialise
// (null when unset); optional fields are omitted when unset.
type Targets struct {
	PHTarget              *float64 `json:"ph_target"`
	PHMin                 *float64 `json:"ph_min"`
	PHMax                 *float64 `json:"ph_max"`
	ECTarget              *float64 `json:"ec_target"`
	ECMin                 *float64 `json:"ec_min"`
	ECMax                 *float64 `json:"ec_max"`
	IrrigationMode        *string  `json:"irrigation_mode"`
	IrrigationIntervalSec *int     `json:"irrigation_interval_sec"`
	IrrigationDurationSec *int     `json:"irrigation_duration_sec"`

	LightingPhotoperiodHours *float64 `json:"lighting_photoperiod_hours,omitempty"`
	LightingStartTime        *string  `json:"lighting_start_time,omitempty"`
	MistIntervalSec          *int     `json:"mist_interval_sec,omitempty"`
	MistDurationSec          *int     `json:"mist_duration_sec,omitempty"`
	MistMode                 *string  `json:"mist_mode,omitempty"`
	TempAirTarget            *float64 `json:"temp_air_target,omitempty"`
	HumidityTarget           *float64 `json:"humidity_target,omitempty"`
	CO2Target                *float64 `json:"co2_target,omitempty"`
}

// ValueKind is the type of a target field or override value.
type ValueKind string

// Value kinds.
const (
	KindFloat  ValueKind = "float"
	KindInt    ValueKind = "int"
	KindString ValueKind = "string"
	KindBool   ValueKind = "bool"
	KindTime   ValueKind = "time"
)

// IsValidValueKind reports whether k is a known value kind.
func IsValidValueKind(k ValueKind) bool {
	switch k {
	case KindFloat, KindInt, KindString, KindBool, KindTime:
		return true
	}
	return false
}

// timeOfDayLayout is the layout of time-kind values.
const timeOfDayLayout = "15:04"

// fieldSpec describes one target field. ref returns a pointer to the
// field inside t (**float64, **int or **string).
type fieldSpec struct {
	kind     ValueKind
	required bool
	ref      func(t *Targets) any
}

// Pre-computed field registry, built once at init.
var (
	targetFields     map[string]fieldSpec
	targetFieldNames []string
	requiredFields   []string
)

func init() {
	targetFields = map[string]fieldSpec{
		"ph_target":               {KindFloat, true, func(t *Targets) any { return &t.PHTarget }},
		"ph_min":                  {KindFloat, true, func(t *Targets) any { return &t.PHMin }},
		"ph_max":                  {KindFloat, true, func(t *Targets) any { return &t.PHMax }},
		"ec_target":               {KindFloat, true, func(t *Targets) any { return &t.ECTarget }},
		"ec_min":                  {KindFloat, true, func(t *Targets) any { return &t.ECMin }},
		"ec_max":                  {KindFloat, true, func(t *Targets) any { return &t.ECMax }},
		"irrigation_mode":         {KindString, true, func(t *Targets) any { return &t.IrrigationMode }},
		"irrigation_interval_sec": {KindInt, true, func(t *Targets) any { return &t.IrrigationIntervalSec }},
		"irrigation_duration_sec": {KindInt, true, func(t *Targets) any { return &t.IrrigationDurationSec }},

		"lighting_photoperiod_hours": {KindFloat, false, func(t *Targets) any { return &t.LightingPhotoperiodHours }},
		"lighting_start_time":        {KindTime, false, func(t *Targets) any { return &t.LightingStartTime }},
		"mist_interval_sec":          {KindInt, false, func(t *Targets) any { return &t.MistIntervalSec }},
		"mist_duration_sec":          {KindInt, false, func(t *Targets) any { return &t.MistDurationSec }},
		"mist_mode":                  {KindString, false, func(t *Targets) any { return &t.MistMode }},
		"temp_air_target":            {KindFloat, false, func(t *Targets) any { return &t.TempAirTarget }},
		"humidity_target":            {KindFloat, false, func(t *Targets) any { return &t.HumidityTarget }},
		"co2_target":                 {KindFloat, false, func(t *Targets) any { return &t.CO2Target }},
	}

	for name, f := range targetFields {
		targetFieldNames = append(targetFieldNames, name)
		if f.required {
			requiredFields = append(requiredFields, name)
		}
	}
	slices.Sort(targetFieldNames)
	slices.Sort(requiredFields)
}

// IsTargetField reports whether name is a known target field.
func IsTargetField(name string) bool {
	_, ok := targetFields[name]
	return ok
}

// FieldKind returns the value kind of a target field.
func FieldKind(name string) (ValueKind, bool) {
	f, ok := targetFields[name]
	return f.kind, ok
}

// TargetFieldNames returns every target field name, sorted.
func TargetFieldNames() []string {
	return slices.Clone(targetFieldNames)
}

// RequiredFieldNames returns the fields that are always present in a snapshot.
func RequiredFieldNames() []string {
	return slices.Clone(requiredFields)
}

// Compatible reports whether a value of kind v may be written to a field of kind field.
func Compatible(field, v ValueKind) bool {
	return field == v || (field == KindFloat && v == KindInt)
}

// Get returns the current value of a field. ok is false for unknown names;
// value is nil when the field is unset.
func (t *Targets) Get(name string) (value any, ok bool) {
	f, known := targetFields[name]
	if !known {
		return nil, false
	}
	switch p := f.ref(t).(type) {
	case **float64:
		if *p != nil {
			return **p, true
		}
	case **int:
		if *p != nil {
			return **p, true
		}
	case **string:
		if *p != nil {
			return **p, true
		}
	}
	return nil, true
}

// Set replaces the value of a field, coercing v to the field's kind.
// A nil v clears the field.
func (t *Targets) Set(name string, v any) error {
	f, ok := targetFields[name]
	if !ok {
		return ErrInvalidTargets.Withf("unknown target field %q", name)
	}

	var coerced any
	if v != nil {
		var err error
		if coerced, err = coerce(f.kind, v); err != nil {
			return ErrInvalidTargets.Withf("%s: %v", name, err)
		}
	}

	switch p := f.ref(t).(type) {
	case **float64:
		*p = nil
		if coerced != nil {
			val := coerced.(float64) //nolint:forcetypeassert // coerce returns float64 for KindFloat
			*p = &val
		}
	case **int:
		*p = nil
		if coerced != nil {
			val := coerced.(int) //nolint:forcetypeassert // coerce returns int for KindInt
			*p = &val
		}
	case **string:
		*p = nil
		if coerced != nil {
			val := coerced.(string) //nolint:forcetypeassert // coerce returns string for string kinds
			*p = &val
		}
	}
	return nil
}

// Apply sets every field in values, in name order.
func (t *Targets) Apply(values map[string]any) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := t.Set(name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a copy that shares no pointers with t.
func (t Targets) Clone() Targets {
	var cpy Targets
	for _, name := range targetFieldNames {
		v, _ := t.Get(name)
		if v != nil {
			_ = cpy.Set(name, v) //nolint:errcheck // value came from a field of the same kind
		}
	}
	return cpy
}

// coerce converts v to the Go type stored for kind.
func coerce(kind ValueKind, v any) (any, error) {
	switch kind {
	case KindFloat:
		return toFloat(v)
	case KindInt:
		return toInt(v)
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case KindTime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected HH:MM string, got %T", v)
		}
		if _, err := time.Parse(timeOfDayLayout, s); err != nil {
			return nil, fmt.Errorf("expected HH:MM, got %q", s)
		}
		return s, nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown value kind %q", kind)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		if n >= float64(math.MaxInt) || n < float64(math.MinInt) {
			return 0, fmt.Errorf("integer %v out of range", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", n.String())
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

// ParseValue parses a raw override value according to kind.
func ParseValue(kind ValueKind, raw string) (any, error) {
	switch kind {
	case KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("invalid float %q", raw)
		}
		return f, nil
	case KindInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid int %q", raw)
		}
		return i, nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid bool %q", raw)
		}
		return b, nil
	case KindString:
		return raw, nil
	case KindTime:
		return coerce(KindTime, raw)
	default:
		return nil, fmt.Errorf("unknown value kind %q", kind)
	}
}
