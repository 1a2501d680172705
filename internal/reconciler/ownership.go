package reconciler

import (
	"context"
	"database/sql"
	"fmt"
)

// OwnershipResolver answers which serials a user's device set contains and,
// inversely, which users own or are shared a serial. The latter backs the
// Observer's "who should be reconciled" lookup when a
// `device.<serial>` object changes, mirroring
// internal/integration/ownership.go's narrower interfaces over the same
// tables.
type OwnershipResolver interface {
	SerialsForUser(ctx context.Context, userID string) ([]string, error)
	UsersForSerial(ctx context.Context, serial string) ([]string, error)
}

// SQLiteOwnershipResolver reads device_owners and device_shares.
type SQLiteOwnershipResolver struct {
	db *sql.DB
}

func NewSQLiteOwnershipResolver(db *sql.DB) *SQLiteOwnershipResolver {
	return &SQLiteOwnershipResolver{db: db}
}

func (r *SQLiteOwnershipResolver) SerialsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT serial FROM device_owners WHERE user_id = ?
		UNION
		SELECT serial FROM device_shares WHERE shared_user_id = ?
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("reconciler: serials for user: %w", err)
	}
	defer rows.Close()

	var serials []string
	for rows.Next() {
		var serial string
		if err := rows.Scan(&serial); err != nil {
			return nil, fmt.Errorf("reconciler: scan serial: %w", err)
		}
		serials = append(serials, serial)
	}
	return serials, rows.Err()
}

func (r *SQLiteOwnershipResolver) UsersForSerial(ctx context.Context, serial string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM device_owners WHERE serial = ?
		UNION
		SELECT shared_user_id FROM device_shares WHERE serial = ?
	`, serial, serial)
	if err != nil {
		return nil, fmt.Errorf("reconciler: users for serial: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("reconciler: scan user: %w", err)
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}
