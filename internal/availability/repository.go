package availability

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Snapshot is a persisted last-known state for one serial.
type Snapshot struct {
	Serial    string
	Available bool
	LastSeen  time.Time
}

// Repository persists availability snapshots so the watchdog survives a
// restart without reporting every device unavailable.
type Repository interface {
	LoadAll(ctx context.Context) (map[string]Snapshot, error)
	Save(ctx context.Context, serial string, available bool, lastSeen time.Time) error
}

// SQLiteRepository implements Repository using the availability table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// LoadAll returns every persisted snapshot.
func (r *SQLiteRepository) LoadAll(ctx context.Context) (map[string]Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT serial, state, last_seen_at FROM availability`)
	if err != nil {
		return nil, fmt.Errorf("querying availability snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make(map[string]Snapshot)
	for rows.Next() {
		var (
			serial     string
			state      string
			lastSeenAt sql.NullString
		)
		if err := rows.Scan(&serial, &state, &lastSeenAt); err != nil {
			return nil, fmt.Errorf("scanning availability row: %w", err)
		}
		var lastSeen time.Time
		if lastSeenAt.Valid {
			lastSeen, _ = time.Parse(time.RFC3339, lastSeenAt.String)
		}
		snapshots[serial] = Snapshot{
			Serial:    serial,
			Available: state == "available",
			LastSeen:  lastSeen,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating availability rows: %w", err)
	}
	return snapshots, nil
}

// Save upserts the snapshot for serial.
func (r *SQLiteRepository) Save(ctx context.Context, serial string, available bool, lastSeen time.Time) error {
	state := "unavailable"
	if available {
		state = "available"
	}

	query := `
		INSERT INTO availability (serial, state, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (serial) DO UPDATE SET
			state = excluded.state,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, query, serial, state, lastSeen.UTC().Format(time.RFC3339), now)
	if err != nil {
		return fmt.Errorf("saving availability snapshot: %w", err)
	}
	return nil
}
