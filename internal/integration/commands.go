package integration

import (
	"context"
	"fmt"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/objectstore"
)

// Safety bounds for target_temperature commands, in Celsius. The devices
// this bridge fronts do not report their own configurable limits over the
// protocol this core implements, so a single fixed bound is enforced here
// rather than per-device.
const (
	minTargetTemperatureC = 9.0
	maxTargetTemperatureC = 32.0
)

var errOutOfRange = fmt.Errorf("integration: target temperature outside safety range [%.1f, %.1f]", minTargetTemperatureC, maxTargetTemperatureC)

// stateStore is the subset of devicestate.Service (or objectstore.Store)
// the bridge needs to read and write objects.
type stateStore interface {
	GetAllForDevice(ctx context.Context, serial string) (map[string]objectstore.Object, error)
	Upsert(ctx context.Context, serial, key string, revision, timestamp int64, value objectstore.Value) (*objectstore.Object, error)
}

// applyDerivedCommand translates one `«prefix»/«serial»/ha/«command»/set`
// message into the write(s) §4.F's command translation table specifies.
func applyDerivedCommand(ctx context.Context, store stateStore, serial, command, payload string, nowMS int64) error {
	switch command {
	case "mode":
		return writeSharedField(ctx, store, serial, "target_temperature_type", objectstore.StringValue(modeToInternal(payload)))

	case "target_temperature", "target_temperature_low", "target_temperature_high":
		v, err := parseFloat(payload)
		if err != nil {
			return err
		}
		if v < minTargetTemperatureC || v > maxTargetTemperatureC {
			return errOutOfRange
		}
		return writeSharedField(ctx, store, serial, command, objectstore.NumberValue(v))

	case "fan_mode":
		switch payload {
		case "on":
			return writeDeviceFields(ctx, store, serial, map[string]objectstore.Value{
				"fan_control_state":  objectstore.BoolValue(true),
				"fan_timer_active":   objectstore.BoolValue(true),
				"fan_timer_timeout":  objectstore.NumberValue(float64(nowMS/1000) + 3600),
			})
		case "off":
			return writeDeviceFields(ctx, store, serial, map[string]objectstore.Value{
				"fan_control_state": objectstore.BoolValue(false),
				"fan_timer_active":  objectstore.BoolValue(false),
				"fan_timer_timeout": objectstore.NumberValue(0),
			})
		default:
			return fmt.Errorf("integration: unsupported fan_mode command %q", payload)
		}

	case "preset":
		switch payload {
		case "away":
			return writeDeviceFields(ctx, store, serial, map[string]objectstore.Value{
				"auto_away": objectstore.NumberValue(2),
				"away":      objectstore.BoolValue(true),
			})
		case "home":
			return writeDeviceFields(ctx, store, serial, map[string]objectstore.Value{
				"auto_away": objectstore.NumberValue(0),
				"away":      objectstore.BoolValue(false),
			})
		case "eco":
			return writeDeviceFields(ctx, store, serial, map[string]objectstore.Value{
				"eco": objectstore.ObjectValue(map[string]objectstore.Value{
					"mode": objectstore.StringValue("manual-eco"),
					"leaf": objectstore.BoolValue(true),
				}),
			})
		default:
			return fmt.Errorf("integration: unsupported preset command %q", payload)
		}

	default:
		return fmt.Errorf("integration: unsupported derived command %q", command)
	}
}

// applyRawCommand handles `«prefix»/«serial»/«t»/«field»/set`: it sets a
// single field on the device's `«t».«serial»` object.
func applyRawCommand(ctx context.Context, store stateStore, serial, objectType, field, payload string, nowMS int64) error {
	value := objectstore.StringValue(payload)
	if f, err := parseFloat(payload); err == nil {
		value = objectstore.NumberValue(f)
	} else if payload == "true" || payload == "false" {
		value = objectstore.BoolValue(payload == "true")
	}
	return writeField(ctx, store, serial, objectType+"."+serial, field, value, nowMS)
}

func writeSharedField(ctx context.Context, store stateStore, serial, field string, value objectstore.Value) error {
	return writeField(ctx, store, serial, "shared."+serial, field, value, 0)
}

func writeDeviceFields(ctx context.Context, store stateStore, serial string, fields map[string]objectstore.Value) error {
	return writeFields(ctx, store, serial, "device."+serial, fields, 0)
}

func writeField(ctx context.Context, store stateStore, serial, objectKey, field string, value objectstore.Value, nowMS int64) error {
	return writeFields(ctx, store, serial, objectKey, map[string]objectstore.Value{field: value}, nowMS)
}

func writeFields(ctx context.Context, store stateStore, serial, objectKey string, fields map[string]objectstore.Value, nowMS int64) error {
	existing, err := store.GetAllForDevice(ctx, serial)
	if err != nil {
		return fmt.Errorf("integration: read %s before command write: %w", objectKey, err)
	}

	revision := int64(1)
	if obj, ok := existing[objectKey]; ok {
		revision = obj.ObjectRevision + 1
	}

	patch := objectstore.ObjectValue(fields)
	_, err = store.Upsert(ctx, serial, objectKey, revision, nowMS, patch)
	if err != nil {
		return fmt.Errorf("integration: write %s: %w", objectKey, err)
	}
	return nil
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	if err != nil {
		return 0, fmt.Errorf("integration: parse numeric payload %q: %w", s, err)
	}
	return f, nil
}
