package objectstore

import "testing"

func TestMergeValues_NoPriorValuePassesIncomingThrough(t *testing.T) {
	incoming := ObjectValue(map[string]Value{"b": NumberValue(2)})
	if got := MergeValues(Null, incoming); !valuesEqual(got, incoming) {
		t.Errorf("MergeValues(Null, incoming) = %+v, want incoming unchanged", got)
	}
}

func TestMergeValues_ExplicitNullReplacesWholesale(t *testing.T) {
	current := ObjectValue(map[string]Value{"a": NumberValue(1)})
	if got := MergeValues(current, Null); !got.IsNull() {
		t.Errorf("MergeValues(current, Null) = %+v, want explicit null to replace wholesale", got)
	}
}

func TestMergeValues_NestedExplicitNullReplacesField(t *testing.T) {
	current := ObjectValue(map[string]Value{"temperature": NumberValue(20)})
	incoming := ObjectValue(map[string]Value{"temperature": Null})
	got := MergeValues(current, incoming)
	temperature, ok := got.Field("temperature")
	if !ok || !temperature.IsNull() {
		t.Errorf("temperature = %+v, want explicit null to replace the prior value", temperature)
	}
}

func TestMergeValues_NonMappingReplacesWholesale(t *testing.T) {
	current := ArrayValue([]Value{NumberValue(1), NumberValue(2)})
	incoming := ArrayValue([]Value{NumberValue(9)})
	got := MergeValues(current, incoming)
	if !valuesEqual(got, incoming) {
		t.Errorf("MergeValues() = %+v, want incoming to replace wholesale, not concatenate", got)
	}
}

func TestMergeValues_RecursiveMappingMerge(t *testing.T) {
	current := ObjectValue(map[string]Value{
		"outer": ObjectValue(map[string]Value{"a": NumberValue(1), "b": NumberValue(2)}),
		"kept":  StringValue("unchanged"),
	})
	incoming := ObjectValue(map[string]Value{
		"outer": ObjectValue(map[string]Value{"b": NumberValue(20), "c": NumberValue(3)}),
	})
	got := MergeValues(current, incoming)

	outer, ok := got.Field("outer")
	if !ok || outer.Kind != KindObject {
		t.Fatalf("outer field missing or not an object: %+v", got)
	}
	assertNumberField(t, outer, "a", 1)
	assertNumberField(t, outer, "b", 20)
	assertNumberField(t, outer, "c", 3)

	if kept, ok := got.Field("kept"); !ok || kept.String != "unchanged" {
		t.Errorf("kept = %+v, want unchanged", kept)
	}
}

func TestHasActiveFanTimer(t *testing.T) {
	nowMS := int64(10_000_000)
	nowSeconds := float64(10_000)

	active := ObjectValue(map[string]Value{"fan_timer_timeout": NumberValue(nowSeconds + 100)})
	if !hasActiveFanTimer(active, nowMS) {
		t.Error("expected active fan timer")
	}

	expired := ObjectValue(map[string]Value{"fan_timer_timeout": NumberValue(nowSeconds - 100)})
	if hasActiveFanTimer(expired, nowMS) {
		t.Error("expected fan timer to be expired")
	}

	zero := ObjectValue(map[string]Value{"fan_timer_timeout": NumberValue(0)})
	if hasActiveFanTimer(zero, nowMS) {
		t.Error("zero timeout must not be active")
	}

	missing := ObjectValue(map[string]Value{})
	if hasActiveFanTimer(missing, nowMS) {
		t.Error("missing field must not be active")
	}
}

func TestIsExplicitFanOff(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"timeout zero", ObjectValue(map[string]Value{"fan_timer_timeout": NumberValue(0)}), true},
		{"control false", ObjectValue(map[string]Value{"fan_control_state": BoolValue(false)}), true},
		{"control true", ObjectValue(map[string]Value{"fan_control_state": BoolValue(true)}), false},
		{"unrelated", ObjectValue(map[string]Value{"temperature": NumberValue(21)}), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isExplicitFanOff(tc.v); got != tc.want {
				t.Errorf("isExplicitFanOff(%+v) = %v, want %v", tc.v, got, tc.want)
			}
		})
	}
}

// TestApplyFanTimerPreservation_Idempotent verifies property #5: repeatedly
// re-applying a merge that omits fan-timer fields leaves them unchanged
// while the timer is active, and a single explicit fan-off clears them.
func TestApplyFanTimerPreservation_Idempotent(t *testing.T) {
	nowMS := int64(10_000_000)
	existing := ObjectValue(map[string]Value{
		"fan_timer_timeout": NumberValue(20_000),
		"fan_control_state": BoolValue(true),
		"temperature":       NumberValue(20),
	})

	partial := ObjectValue(map[string]Value{"temperature": NumberValue(21)})
	merged := MergeValues(existing, partial)
	result := applyFanTimerPreservation(existing, partial, merged, nowMS)

	for i := 0; i < 3; i++ {
		merged = MergeValues(result, partial)
		result = applyFanTimerPreservation(result, partial, merged, nowMS)
		assertNumberField(t, result, "fan_timer_timeout", 20_000)
		assertBoolField(t, result, "fan_control_state", true)
	}

	fanOff := ObjectValue(map[string]Value{"fan_control_state": BoolValue(false)})
	merged = MergeValues(result, fanOff)
	result = applyFanTimerPreservation(result, fanOff, merged, nowMS)
	assertBoolField(t, result, "fan_control_state", false)
}
