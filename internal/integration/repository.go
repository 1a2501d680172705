package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrDisabled is returned by LoadEnabled when the user has no enabled
// integration of the requested type.
var ErrDisabled = errors.New("integration: disabled or not configured")

// StoredConfig is one row of the integrations table.
type StoredConfig struct {
	UserID     string
	Type       string
	ConfigJSON string
	Enabled    bool
}

// Repository persists integration configuration and enable/disable state.
// Ownership is looked up separately, through OwnershipResolver.
type Repository interface {
	// LoadEnabled returns the stored config for userID/typ, or ErrDisabled
	// if none exists or it is disabled.
	LoadEnabled(ctx context.Context, userID, typ string) (StoredConfig, error)

	// LoadAllEnabled returns every enabled config, used to start every
	// user's integrations on process startup.
	LoadAllEnabled(ctx context.Context) ([]StoredConfig, error)

	// SetEnabled flips the enabled flag, used when a startup failure
	// disables an integration until the user reconfigures it (§7).
	SetEnabled(ctx context.Context, userID, typ string, enabled bool) error
}

// SQLiteRepository is the Repository backed by the integrations table
// created by the availability_and_integrations migration.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) LoadEnabled(ctx context.Context, userID, typ string) (StoredConfig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, type, config_json, enabled
		FROM integrations
		WHERE user_id = ? AND type = ?
	`, userID, typ)

	var cfg StoredConfig
	var enabled int
	if err := row.Scan(&cfg.UserID, &cfg.Type, &cfg.ConfigJSON, &enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredConfig{}, ErrDisabled
		}
		return StoredConfig{}, fmt.Errorf("integration: load config: %w", err)
	}
	cfg.Enabled = enabled != 0
	if !cfg.Enabled {
		return StoredConfig{}, ErrDisabled
	}
	return cfg, nil
}

func (r *SQLiteRepository) LoadAllEnabled(ctx context.Context) ([]StoredConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, type, config_json, enabled
		FROM integrations
		WHERE enabled = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("integration: load all configs: %w", err)
	}
	defer rows.Close()

	var configs []StoredConfig
	for rows.Next() {
		var cfg StoredConfig
		var enabled int
		if err := rows.Scan(&cfg.UserID, &cfg.Type, &cfg.ConfigJSON, &enabled); err != nil {
			return nil, fmt.Errorf("integration: scan config: %w", err)
		}
		cfg.Enabled = enabled != 0
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (r *SQLiteRepository) SetEnabled(ctx context.Context, userID, typ string, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE integrations SET enabled = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE user_id = ? AND type = ?
	`, val, userID, typ)
	if err != nil {
		return fmt.Errorf("integration: set enabled: %w", err)
	}
	return nil
}
