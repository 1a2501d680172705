package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// Authorizer is the authorization hook both HTTP surfaces consume. It never
// allocates or administers credentials — pairing and API-key issuance are
// external collaborators — it only answers "is this request allowed".
type Authorizer interface {
	// AuthorizeSerial reports whether entryKey is the credential on file
	// for serial, per §4.E's device-protocol authorization.
	AuthorizeSerial(ctx context.Context, serial, entryKey string) (bool, error)

	// UserOwnsSerial reports whether userID owns or is shared serial.
	UserOwnsSerial(ctx context.Context, userID, serial string) (bool, error)

	// SerialsForUser lists every serial userID owns or is shared.
	SerialsForUser(ctx context.Context, userID string) ([]string, error)

	// AuthorizeAPIKey resolves a frontend API key to its owning user, an
	// alternative to a JWT session when config.APIKeyConfig.Enabled.
	AuthorizeAPIKey(ctx context.Context, presentedKey string) (userID string, ok bool, err error)
}

// SQLiteAuthorizer is the default Authorizer, reading device_owners,
// device_shares, entry_keys and api_keys.
type SQLiteAuthorizer struct {
	db *sql.DB
}

func NewSQLiteAuthorizer(db *sql.DB) *SQLiteAuthorizer {
	return &SQLiteAuthorizer{db: db}
}

// HashAPIKey deterministically hashes a raw API key for storage/lookup.
// Unlike a password hash, an API key must be looked up BY its hash, which
// rules out a salted scheme like Argon2id — this is the same trade-off
// GitHub- and Stripe-style API tokens make.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (a *SQLiteAuthorizer) AuthorizeSerial(ctx context.Context, serial, entryKey string) (bool, error) {
	if entryKey == "" {
		return false, nil
	}
	var stored string
	err := a.db.QueryRowContext(ctx, `SELECT entry_key FROM entry_keys WHERE serial = ?`, serial).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: lookup entry key: %w", err)
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(entryKey)) == 1, nil
}

func (a *SQLiteAuthorizer) UserOwnsSerial(ctx context.Context, userID, serial string) (bool, error) {
	const query = `
		SELECT 1 FROM device_owners WHERE user_id = ? AND serial = ?
		UNION
		SELECT 1 FROM device_shares WHERE shared_user_id = ? AND serial = ?`
	var exists int
	err := a.db.QueryRowContext(ctx, query, userID, serial, userID, serial).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: check device ownership: %w", err)
	}
	return true, nil
}

func (a *SQLiteAuthorizer) SerialsForUser(ctx context.Context, userID string) ([]string, error) {
	const query = `
		SELECT serial FROM device_owners WHERE user_id = ?
		UNION
		SELECT serial FROM device_shares WHERE shared_user_id = ?`
	rows, err := a.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("auth: list owned serials: %w", err)
	}
	defer rows.Close()

	var serials []string
	for rows.Next() {
		var serial string
		if err := rows.Scan(&serial); err != nil {
			return nil, fmt.Errorf("auth: scan serial: %w", err)
		}
		serials = append(serials, serial)
	}
	return serials, rows.Err()
}

func (a *SQLiteAuthorizer) AuthorizeAPIKey(ctx context.Context, presentedKey string) (string, bool, error) {
	if presentedKey == "" {
		return "", false, nil
	}
	var userID string
	err := a.db.QueryRowContext(ctx, `SELECT user_id FROM api_keys WHERE key_hash = ?`, HashAPIKey(presentedKey)).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("auth: lookup api key: %w", err)
	}
	return userID, true, nil
}
