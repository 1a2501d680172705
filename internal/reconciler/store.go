package reconciler

import (
	"context"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/objectstore"
)

// stateStore is the subset of devicestate.Service (or objectstore.Store)
// the reconcilers need to read owned devices and write the derived user
// object back onto each of them.
type stateStore interface {
	GetAllForDevice(ctx context.Context, serial string) (map[string]objectstore.Object, error)
	Upsert(ctx context.Context, serial, key string, revision, timestamp int64, value objectstore.Value) (*objectstore.Object, error)
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

// deviceObject fetches serial's "device.«serial»" object, returning Null
// if the device has never reported one.
func deviceObject(ctx context.Context, store stateStore, serial string) (objectstore.Value, error) {
	objects, err := store.GetAllForDevice(ctx, serial)
	if err != nil {
		return objectstore.Null, err
	}
	if obj, ok := objects["device."+serial]; ok {
		return obj.Value, nil
	}
	return objectstore.Null, nil
}

// nextRevision returns the revision to write for serial's userObjectKey:
// the current revision plus one, or 1 if the object has never been
// written on that device, per §4.G's "revision incremented by 1 per
// device".
func nextRevision(ctx context.Context, store stateStore, serial, userObjectKey string) (int64, error) {
	objects, err := store.GetAllForDevice(ctx, serial)
	if err != nil {
		return 0, err
	}
	if obj, ok := objects[userObjectKey]; ok {
		return obj.ObjectRevision + 1, nil
	}
	return 1, nil
}
