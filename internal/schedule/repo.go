package schedule

import (
	"context"
	"database/sql"
	"errors"
)

// Repository persists schedule definitions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const definitionColumns = `
	id, name, day_of_week, start_time, end_time, group_id, is_active,
	late_threshold_minutes, duplicate_check_minutes,
	effective_from, effective_to, teacher, room, created_at, updated_at`

func scanDefinition(row interface{ Scan(...any) error }) (Definition, error) {
	var d Definition
	err := row.Scan(
		&d.ID, &d.Name, &d.DayOfWeek, &d.StartTime, &d.EndTime, &d.GroupID, &d.Active,
		&d.LateThresholdMinutes, &d.DuplicateCheckMinutes,
		&d.EffectiveFrom, &d.EffectiveTo, &d.Teacher, &d.Room, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

// Create inserts a validated definition and returns it with its id.
func (r *Repository) Create(ctx context.Context, d Definition) (Definition, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO schedules (
			name, day_of_week, start_time, end_time, group_id, is_active,
			late_threshold_minutes, duplicate_check_minutes,
			effective_from, effective_to, teacher, room
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at, updated_at
	`, d.Name, d.DayOfWeek, d.StartTime, d.EndTime, d.GroupID, d.Active,
		d.LateThresholdMinutes, d.DuplicateCheckMinutes,
		d.EffectiveFrom, d.EffectiveTo, d.Teacher, d.Room)
	if err := row.Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Definition{}, err
	}
	return d, nil
}

// Get returns a definition by id, or nil when it does not exist.
func (r *Repository) Get(ctx context.Context, id int64) (*Definition, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+definitionColumns+` FROM schedules WHERE id = $1`, id)
	d, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// Update replaces the mutable fields of an existing definition.
func (r *Repository) Update(ctx context.Context, d Definition) (*Definition, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE schedules SET
			name = $2, day_of_week = $3, start_time = $4, end_time = $5,
			group_id = $6, is_active = $7,
			late_threshold_minutes = $8, duplicate_check_minutes = $9,
			effective_from = $10, effective_to = $11, teacher = $12, room = $13,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, d.ID, d.Name, d.DayOfWeek, d.StartTime, d.EndTime, d.GroupID, d.Active,
		d.LateThresholdMinutes, d.DuplicateCheckMinutes,
		d.EffectiveFrom, d.EffectiveTo, d.Teacher, d.Room)
	if err := row.Scan(&d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// Delete removes a definition. Returns false when it did not exist.
func (r *Repository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Active returns all active definitions ordered by (day_of_week, start_time).
func (r *Repository) Active(ctx context.Context) ([]Definition, error) {
	return r.list(ctx, `SELECT`+definitionColumns+`
		FROM schedules WHERE is_active = TRUE
		ORDER BY day_of_week, start_time, id`)
}

// List returns every definition, active or not.
func (r *Repository) List(ctx context.Context) ([]Definition, error) {
	return r.list(ctx, `SELECT`+definitionColumns+`
		FROM schedules ORDER BY day_of_week, start_time, id`)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Definition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}
