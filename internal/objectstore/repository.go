package objectstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/logging"
)

// SQLiteRepository implements Repository using the states table.
type SQLiteRepository struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// db should be an open connection, typically infrastructure/database.DB.Conn().
func NewSQLiteRepository(db *sql.DB, logger *logging.Logger) *SQLiteRepository {
	return &SQLiteRepository{db: db, logger: logger}
}

// Get retrieves the stored object for (serial, key).
func (r *SQLiteRepository) Get(ctx context.Context, serial, key string) (*Object, error) {
	query := `
		SELECT serial, object_key, object_revision, object_timestamp, value_json, updated_at
		FROM states
		WHERE serial = ? AND object_key = ?`

	row := r.db.QueryRowContext(ctx, query, serial, key)
	obj, err := scanObject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if errors.Is(err, errMalformedValue) {
			r.logWarn("malformed value_json, treating as absent", serial, key)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying object: %w", classifyError(err))
	}
	return obj, nil
}

// GetAllForDevice retrieves every object keyed under serial.
func (r *SQLiteRepository) GetAllForDevice(ctx context.Context, serial string) ([]Object, error) {
	query := `
		SELECT serial, object_key, object_revision, object_timestamp, value_json, updated_at
		FROM states
		WHERE serial = ?
		ORDER BY object_key`

	rows, err := r.db.QueryContext(ctx, query, serial)
	if err != nil {
		return nil, fmt.Errorf("querying objects for device: %w", classifyError(err))
	}
	defer rows.Close()

	var objects []Object
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			// Malformed JSON in one row must not fail the whole scan; the
			// affected key is simply omitted (§4.A "Errors").
			if errors.Is(err, errMalformedValue) {
				r.logWarn("malformed value_json, omitting row", serial, "")
				continue
			}
			return nil, fmt.Errorf("scanning object row: %w", err)
		}
		objects = append(objects, *obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating object rows: %w", classifyError(err))
	}
	return objects, nil
}

// Upsert writes obj, replacing any existing row for (serial, key).
func (r *SQLiteRepository) Upsert(ctx context.Context, obj *Object) error {
	valueJSON, err := obj.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshalling value: %w", err)
	}

	query := `
		INSERT INTO states (serial, object_key, object_revision, object_timestamp, value_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (serial, object_key) DO UPDATE SET
			object_revision = excluded.object_revision,
			object_timestamp = excluded.object_timestamp,
			value_json = excluded.value_json,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		obj.Serial,
		obj.ObjectKey,
		obj.ObjectRevision,
		obj.ObjectTimestamp,
		string(valueJSON),
		obj.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting object: %w", classifyError(err))
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

var errMalformedValue = errors.New("objectstore: malformed value_json")

func scanObject(row rowScanner) (*Object, error) {
	var (
		obj       Object
		valueJSON string
		updatedAt string
	)
	if err := row.Scan(&obj.Serial, &obj.ObjectKey, &obj.ObjectRevision, &obj.ObjectTimestamp, &valueJSON, &updatedAt); err != nil {
		return nil, err
	}

	if err := obj.Value.UnmarshalJSON([]byte(valueJSON)); err != nil {
		return nil, errMalformedValue
	}

	parsed, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		parsed = time.Time{}
	}
	obj.UpdatedAt = parsed

	return &obj, nil
}

func (r *SQLiteRepository) logWarn(msg, serial, key string) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(msg, "serial", serial, "object_key", key)
}

// classifyError maps low-level driver failures onto ErrUnavailable so
// callers can treat backing-store outages as retryable per §4.A "Errors".
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
