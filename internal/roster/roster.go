// Package roster exposes enrolled members and their group memberships.
// Enrollment itself (user CRUD, face enrollment) is owned elsewhere; the
// engine only reads who is eligible for a schedule.
package roster

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Member is an enrolled user eligible for schedules.
type Member struct {
	ID         int64     `json:"id"`
	EmployeeID string    `json:"employee_id"`
	FullName   string    `json:"full_name"`
	Active     bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Group organizes members (university groups, departments).
type Group struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Code   string `json:"code"`
	Active bool   `json:"is_active"`
}

// Repository reads roster data from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// MembersOf returns active members of a group, or all active members when
// groupID is nil. Ordered by id for reproducible classification output.
func (r *Repository) MembersOf(ctx context.Context, groupID *int64) ([]Member, error) {
	query := `
		SELECT m.id, m.employee_id, m.full_name, m.is_active, m.created_at
		FROM members m
		WHERE m.is_active = TRUE`
	args := []any{}
	if groupID != nil {
		query += ` AND EXISTS (
			SELECT 1 FROM member_groups mg
			WHERE mg.member_id = m.id AND mg.group_id = $1
		)`
		args = append(args, *groupID)
	}
	query += ` ORDER BY m.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.EmployeeID, &m.FullName, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GroupsOf returns the group ids a member belongs to.
func (r *Repository) GroupsOf(ctx context.Context, memberID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_id FROM member_groups WHERE member_id = $1 ORDER BY group_id
	`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetByEmployeeID resolves the member behind a recognition match, or nil
// when the id is unknown.
func (r *Repository) GetByEmployeeID(ctx context.Context, employeeID string) (*Member, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, employee_id, full_name, is_active, created_at
		FROM members WHERE employee_id = $1
	`, employeeID)
	var m Member
	if err := row.Scan(&m.ID, &m.EmployeeID, &m.FullName, &m.Active, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// Groups lists all groups.
func (r *Repository) Groups(ctx context.Context) ([]Group, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, code, is_active FROM groups ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Code, &g.Active); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
