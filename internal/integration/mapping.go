package integration

import "github.com/cmason/NoLongerEvil-Thermostat/internal/objectstore"

// deviceView is the pair of objects the derived-state mapping tables read
// from: shared.«serial» carries the target/operating state a client can
// set, device.«serial» carries what the thermostat itself reports (fan
// timer, away, eco). Both may be Null if the object was never written.
type deviceView struct {
	Shared objectstore.Value
	Device objectstore.Value
}

func numberField(v objectstore.Value, key string) (float64, bool) {
	f, ok := v.Field(key)
	if !ok || f.Kind != objectstore.KindNumber {
		return 0, false
	}
	return f.Number, true
}

func boolField(v objectstore.Value, key string) (bool, bool) {
	f, ok := v.Field(key)
	if !ok || f.Kind != objectstore.KindBool {
		return false, false
	}
	return f.Bool, true
}

func stringField(v objectstore.Value, key string) (string, bool) {
	f, ok := v.Field(key)
	if !ok || f.Kind != objectstore.KindString {
		return "", false
	}
	return f.String, true
}

// modeToInternal converts a derived HA mode into the internal
// target_temperature_type value, per §4.F's mapping table.
func modeToInternal(mode string) string {
	switch mode {
	case "heat_cool":
		return "range"
	case "heat", "cool", "off":
		return mode
	default:
		return "off"
	}
}

// internalToMode is the inverse, used when publishing derived state.
func internalToMode(internal string) string {
	switch internal {
	case "range":
		return "heat_cool"
	case "heat", "cool", "off":
		return internal
	default:
		return "off"
	}
}

// derivedMode reads shared.target_temperature_type and maps it to the
// derived HA mode.
func derivedMode(v deviceView) string {
	targetType, _ := stringField(v.Shared, "target_temperature_type")
	return internalToMode(targetType)
}

// derivedAction implements §4.F's action table: heating/cooling/fan/idle/off
// derived from the hvac_*_state flags and the current mode.
func derivedAction(v deviceView) string {
	mode := derivedMode(v)
	if mode == "off" {
		return "off"
	}
	if heating, _ := boolField(v.Shared, "hvac_heater_state"); heating {
		return "heating"
	}
	if cooling, _ := boolField(v.Shared, "hvac_ac_state"); cooling {
		return "cooling"
	}
	if fanning, _ := boolField(v.Shared, "hvac_fan_state"); fanning {
		return "fan"
	}
	return "idle"
}

// derivedFanMode implements §4.F: "on" iff the fan is under active timer
// control and that timer has not yet expired, else "auto".
func derivedFanMode(v deviceView, nowMS int64) string {
	controlActive, _ := boolField(v.Device, "fan_control_state")
	if !controlActive {
		return "auto"
	}
	timeout, ok := numberField(v.Device, "fan_timer_timeout")
	if !ok || timeout <= float64(nowMS)/1000 {
		return "auto"
	}
	return "on"
}

// derivedPreset implements §4.F's precedence: eco, then away, then home.
func derivedPreset(v deviceView) string {
	if ecoActive(v.Device) {
		return "eco"
	}
	away, _ := boolField(v.Device, "away")
	autoAway, _ := numberField(v.Device, "auto_away")
	if away || autoAway >= 1 {
		return "away"
	}
	return "home"
}

func ecoActive(device objectstore.Value) bool {
	eco, ok := device.Field("eco")
	if !ok || eco.Kind != objectstore.KindObject {
		return false
	}
	leaf, _ := boolField(eco, "leaf")
	mode, _ := stringField(eco, "mode")
	return leaf || mode == "manual-eco"
}

// derivedFields builds the full set of ha/ topics §4.F.5 requires.
func derivedFields(v deviceView, nowMS int64) map[string]objectstore.Value {
	fields := map[string]objectstore.Value{
		"mode":       objectstore.StringValue(derivedMode(v)),
		"action":     objectstore.StringValue(derivedAction(v)),
		"fan_mode":   objectstore.StringValue(derivedFanMode(v, nowMS)),
		"preset":     objectstore.StringValue(derivedPreset(v)),
		"fan_running": objectstore.BoolValue(derivedFanMode(v, nowMS) == "on"),
		"eco":        objectstore.BoolValue(ecoActive(v.Device)),
	}
	if t, ok := numberField(v.Shared, "current_temperature"); ok {
		fields["current_temperature"] = objectstore.NumberValue(t)
	}
	if h, ok := numberField(v.Shared, "current_humidity"); ok {
		fields["current_humidity"] = objectstore.NumberValue(h)
	}
	if t, ok := numberField(v.Shared, "target_temperature"); ok {
		fields["target_temperature"] = objectstore.NumberValue(t)
	}
	if t, ok := numberField(v.Shared, "target_temperature_low"); ok {
		fields["target_temperature_low"] = objectstore.NumberValue(t)
	}
	if t, ok := numberField(v.Shared, "target_temperature_high"); ok {
		fields["target_temperature_high"] = objectstore.NumberValue(t)
	}
	if t, ok := numberField(v.Shared, "outdoor_temperature"); ok {
		fields["outdoor_temperature"] = objectstore.NumberValue(t)
	}
	if occ, ok := boolField(v.Shared, "occupancy"); ok {
		fields["occupancy"] = objectstore.BoolValue(occ)
	}
	return fields
}
