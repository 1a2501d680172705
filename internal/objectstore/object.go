package objectstore

import (
	"context"
	"time"
)

// Object is one versioned (serial, object_key) row: a device or user
// document such as "device.ABC123" or "shared.ABC123".
type Object struct {
	Serial          string
	ObjectKey       string
	ObjectRevision  int64
	ObjectTimestamp int64
	Value           Value
	UpdatedAt       time.Time
}

// Repository persists Objects. A SQLite-backed implementation is provided
// in repository.go; Store's tests run it over an in-memory SQLite
// database, and merge_test.go checks the merge and fan-timer functions
// directly, without a database.
type Repository interface {
	// Get returns the stored object for (serial, key), or ErrNotFound.
	Get(ctx context.Context, serial, key string) (*Object, error)

	// GetAllForDevice returns every object keyed under serial.
	GetAllForDevice(ctx context.Context, serial string) ([]Object, error)

	// Upsert writes obj, replacing any existing row for (serial, key).
	Upsert(ctx context.Context, obj *Object) error
}
