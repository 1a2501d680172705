package objectstore

import "errors"

// Errors returned by the object store. Backing-store unavailability is
// retryable; malformed JSON in a stored row is not fatal and the affected
// key is treated as absent on read (§4.A "Errors").
var (
	// ErrUnavailable indicates the backing store could not be reached.
	// Callers should treat this as retryable.
	ErrUnavailable = errors.New("objectstore: backing store unavailable")

	// ErrNotFound indicates no object exists for the given (serial, key).
	ErrNotFound = errors.New("objectstore: not found")
)
