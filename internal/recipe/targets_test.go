package recipe

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }
func sp(v string) *string   { return &v }

func TestTargetRegistry(t *testing.T) {
	names := TargetFieldNames()
	assert.Len(t, names, 17)
	assert.True(t, IsTargetField("ph_target"))
	assert.False(t, IsTargetField("pump_speed"))

	kind, ok := FieldKind("lighting_start_time")
	require.True(t, ok)
	assert.Equal(t, KindTime, kind)

	assert.ElementsMatch(t, []string{
		"ph_target", "ph_min", "ph_max", "ec_target", "ec_min", "ec_max",
		"irrigation_mode", "irrigation_interval_sec", "irrigation_duration_sec",
	}, RequiredFieldNames())
}

func TestTargetsSetAndGet(t *testing.T) {
	var tg Targets

	require.NoError(t, tg.Set("ph_target", 6))
	require.NoError(t, tg.Set("irrigation_interval_sec", 900.0))
	require.NoError(t, tg.Set("lighting_start_time", "06:30"))
	require.NoError(t, tg.Set("mist_mode", "humidity"))

	v, ok := tg.Get("ph_target")
	assert.True(t, ok)
	assert.Equal(t, 6.0, v)
	assert.Equal(t, 900, *tg.IrrigationIntervalSec)
	assert.Equal(t, "06:30", *tg.LightingStartTime)

	v, ok = tg.Get("co2_target")
	assert.True(t, ok)
	assert.Nil(t, v)

	_, ok = tg.Get("unknown")
	assert.False(t, ok)

	require.NoError(t, tg.Set("ph_target", nil))
	assert.Nil(t, tg.PHTarget)

	tests := []struct {
		name  string
		field string
		value any
	}{
		{"unknown field", "pump_speed", 1.0},
		{"fractional int", "mist_interval_sec", 1.5},
		{"int out of range", "mist_interval_sec", 1e300},
		{"negative int out of range", "irrigation_interval_sec", -1e19},
		{"infinite int", "mist_duration_sec", math.Inf(1)},
		{"json number out of range", "mist_interval_sec", json.Number("99999999999999999999")},
		{"string for float", "ec_target", "high"},
		{"bad time", "lighting_start_time", "25:99"},
		{"number for string", "irrigation_mode", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tg.Set(tt.field, tt.value)
			assert.ErrorIs(t, err, ErrInvalidTargets)
		})
	}
}

func TestTargetsJSONKeepsRequiredNulls(t *testing.T) {
	tg := Targets{PHTarget: fp(6.0), TempAirTarget: fp(22)}
	b, err := json.Marshal(tg)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))

	for _, name := range RequiredFieldNames() {
		assert.Contains(t, m, name)
	}
	assert.Nil(t, m["ec_target"])
	assert.Equal(t, 22.0, m["temp_air_target"])
	assert.NotContains(t, m, "co2_target")
	assert.NotContains(t, m, "mist_mode")
}

func TestTargetsCloneIsIndependent(t *testing.T) {
	orig := Targets{PHTarget: fp(6.0), IrrigationMode: sp("drip")}
	cpy := orig.Clone()
	*cpy.PHTarget = 5.5
	*cpy.IrrigationMode = "manual"

	assert.Equal(t, 6.0, *orig.PHTarget)
	assert.Equal(t, "drip", *orig.IrrigationMode)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		kind    ValueKind
		raw     string
		want    any
		wantErr bool
	}{
		{KindFloat, "5.8", 5.8, false},
		{KindFloat, "NaN", nil, true},
		{KindInt, "120", 120, false},
		{KindInt, "1.5", nil, true},
		{KindBool, "true", true, false},
		{KindString, "drip", "drip", false},
		{KindTime, "18:00", "18:00", false},
		{KindTime, "6pm", nil, true},
		{ValueKind("blob"), "x", nil, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.raw, func(t *testing.T) {
			got, err := ParseValue(tt.kind, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompatible(t *testing.T) {
	assert.True(t, Compatible(KindFloat, KindFloat))
	assert.True(t, Compatible(KindFloat, KindInt))
	assert.False(t, Compatible(KindInt, KindFloat))
	assert.False(t, Compatible(KindString, KindTime))
}
