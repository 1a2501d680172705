package objectstore

import "math"

// fanTimerFields are re-injected from the existing value over the merged
// value when the fan-timer preservation hook applies (§4.A).
var fanTimerFields = [...]string{
	"fan_timer_timeout",
	"fan_control_state",
	"fan_timer_duration",
	"fan_current_speed",
	"fan_mode",
}

// MergeValues deep-merges incoming over current per the object store's
// merge rule: a missing current side (no prior object at all) passes
// incoming through unchanged, and otherwise non-mappings replace wholesale
// (arrays are never concatenated, and an explicit null replaces just like
// any other scalar) while mappings merge key by key.
func MergeValues(current, incoming Value) Value {
	if current.IsNull() {
		return incoming
	}
	if current.Kind != KindObject || incoming.Kind != KindObject {
		return incoming
	}

	merged := make(map[string]Value, len(current.Object)+len(incoming.Object))
	for k, v := range current.Object {
		merged[k] = v
	}
	for k, incomingVal := range incoming.Object {
		if existingVal, ok := current.Object[k]; ok {
			merged[k] = MergeValues(existingVal, incomingVal)
		} else {
			merged[k] = incomingVal
		}
	}
	return ObjectValue(merged)
}

// hasActiveFanTimer reports whether existing carries an unexpired fan timer,
// per §4.A: fan_timer_timeout must be a number, non-zero, and strictly
// greater than the current epoch second.
func hasActiveFanTimer(existing Value, nowMS int64) bool {
	timeout, ok := existing.Field("fan_timer_timeout")
	if !ok || timeout.Kind != KindNumber {
		return false
	}
	nowSeconds := math.Floor(float64(nowMS) / 1000)
	return timeout.Number != 0 && timeout.Number > nowSeconds
}

// isExplicitFanOff reports whether incoming explicitly turns the fan off,
// which must never be blocked by fan-timer preservation.
func isExplicitFanOff(incoming Value) bool {
	if timeout, ok := incoming.Field("fan_timer_timeout"); ok && timeout.Kind == KindNumber && timeout.Number == 0 {
		return true
	}
	if control, ok := incoming.Field("fan_control_state"); ok && control.Kind == KindBool && !control.Bool {
		return true
	}
	return false
}

// applyFanTimerPreservation re-injects the existing fan-timer fields over
// merged when existing has an active timer and incoming is not an explicit
// fan-off. Only the five fan-timer fields are overridden; every other
// merged value stands.
func applyFanTimerPreservation(existing, incoming, merged Value, nowMS int64) Value {
	if !hasActiveFanTimer(existing, nowMS) || isExplicitFanOff(incoming) {
		return merged
	}
	if merged.Kind != KindObject {
		return merged
	}
	result := merged
	for _, field := range fanTimerFields {
		if val, ok := existing.Field(field); ok {
			result = result.WithField(field, val)
		}
	}
	return result
}
