// Package objectstore implements the versioned (serial, object_key) -> Object
// store that backs every device-facing read and write.
//
// Values are represented as a small tagged union rather than bare `any` so
// the deep-merge operation is exhaustive: a mapping merges key by key, and
// anything else (scalar, array, or null) replaces the previous value
// wholesale. A fan-timer preservation rule intercepts merges that would
// otherwise silently cancel an in-flight fan timer.
//
// # Usage
//
//	store := objectstore.NewStore(objectstore.NewSQLiteRepository(db, logger))
//	updated, err := store.Upsert(ctx, serial, key, revision, timestamp, value)
package objectstore
