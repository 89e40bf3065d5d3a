// Package device tracks registered capture devices and their refresh
// tokens.
package device

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists device records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert ensures a device record exists.
func (r *Repository) Upsert(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO UPDATE SET last_seen_at = NOW()
	`, deviceID)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, token, expiresAt)
	return err
}

// ValidRefreshToken reports whether the token is stored for the device,
// not revoked, and not past its expiry.
func (r *Repository) ValidRefreshToken(ctx context.Context, deviceID, token string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT revoked, expires_at FROM refresh_tokens
		WHERE token = $1 AND device_id = $2
	`, token, deviceID)
	var revoked bool
	var expiresAt time.Time
	if err := row.Scan(&revoked, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return !revoked && time.Now().Before(expiresAt), nil
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}
