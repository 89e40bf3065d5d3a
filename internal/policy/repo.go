package policy

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Setting is one stored policy revision. Rows are append-only; the newest
// active row wins, older rows remain as change history.
type Setting struct {
	ID                    int64     `json:"id"`
	LateThresholdMinutes  int       `json:"late_threshold_minutes"`
	DuplicateCheckMinutes int       `json:"duplicate_check_minutes"`
	Active                bool      `json:"is_active"`
	CreatedAt             time.Time `json:"created_at"`
}

// Repository reads and writes global policy settings in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Current returns the currently-effective global policy. When no settings
// row exists the built-in Default applies.
func (r *Repository) Current(ctx context.Context) (Policy, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT late_threshold_minutes, duplicate_check_minutes
		FROM time_settings
		WHERE is_active = TRUE
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`)
	var p Policy
	if err := row.Scan(&p.LateThresholdMinutes, &p.DuplicateCheckMinutes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Default, nil
		}
		return Policy{}, err
	}
	return p, nil
}

// Set appends a new active settings revision.
func (r *Repository) Set(ctx context.Context, p Policy) (Setting, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO time_settings (late_threshold_minutes, duplicate_check_minutes, is_active)
		VALUES ($1, $2, TRUE)
		RETURNING id, created_at
	`, p.LateThresholdMinutes, p.DuplicateCheckMinutes)
	s := Setting{
		LateThresholdMinutes:  p.LateThresholdMinutes,
		DuplicateCheckMinutes: p.DuplicateCheckMinutes,
		Active:                true,
	}
	if err := row.Scan(&s.ID, &s.CreatedAt); err != nil {
		return Setting{}, err
	}
	return s, nil
}

// History returns settings revisions, newest first.
func (r *Repository) History(ctx context.Context, limit int) ([]Setting, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, late_threshold_minutes, duplicate_check_minutes, is_active, created_at
		FROM time_settings
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var s Setting
		if err := rows.Scan(&s.ID, &s.LateThresholdMinutes, &s.DuplicateCheckMinutes, &s.Active, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
