package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"facetrack/internal/calendar"
)

// Repository persists check-in events in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const eventColumns = `
	id, member_id, device_id, schedule_id, occurred_at, confidence,
	image_url, detection_count, last_seen_at, created_at`

func scanEvent(row interface{ Scan(...any) error }) (Event, error) {
	var evt Event
	err := row.Scan(
		&evt.ID, &evt.MemberID, &evt.DeviceID, &evt.ScheduleID, &evt.OccurredAt,
		&evt.Confidence, &evt.ImageURL, &evt.DetectionCount, &evt.LastSeenAt, &evt.CreatedAt,
	)
	if err != nil {
		return Event{}, err
	}
	// Drivers may decode timestamptz into the session zone; civil-date
	// bucketing downstream assumes UTC.
	evt.OccurredAt = evt.OccurredAt.UTC()
	evt.LastSeenAt = evt.LastSeenAt.UTC()
	evt.CreatedAt = evt.CreatedAt.UTC()
	return evt, nil
}

// Insert writes a newly accepted event.
func (r *Repository) Insert(ctx context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.DetectionCount == 0 {
		evt.DetectionCount = 1
	}
	if evt.LastSeenAt.IsZero() {
		evt.LastSeenAt = evt.OccurredAt
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_events (
			id, member_id, device_id, schedule_id, occurred_at,
			confidence, image_url, detection_count, last_seen_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at
	`, evt.ID, evt.MemberID, evt.DeviceID, evt.ScheduleID, evt.OccurredAt,
		evt.Confidence, evt.ImageURL, evt.DetectionCount, evt.LastSeenAt)
	if err := row.Scan(&evt.CreatedAt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// ForOccurrence returns the events of one schedule on one civil date,
// ordered by (occurred_at, id) so classification input is deterministic.
func (r *Repository) ForOccurrence(ctx context.Context, scheduleID int64, date time.Time) ([]Event, error) {
	day := calendar.Midnight(date)
	rows, err := r.db.QueryContext(ctx, `
		SELECT`+eventColumns+`
		FROM attendance_events
		WHERE schedule_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at, id
	`, scheduleID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// AcceptedInWindow returns the member's accepted event for a schedule
// inside [from, to], or nil. Used by the ingestor to decide whether a new
// detection is a fresh arrival or a repeat sighting.
func (r *Repository) AcceptedInWindow(ctx context.Context, memberID, scheduleID int64, from, to time.Time) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT`+eventColumns+`
		FROM attendance_events
		WHERE member_id = $1 AND schedule_id = $2
		  AND occurred_at >= $3 AND occurred_at <= $4
		ORDER BY occurred_at
		LIMIT 1
	`, memberID, scheduleID, from, to)
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &evt, nil
}

// Touch records a repeat sighting of an already-accepted event: bumps the
// detection count, advances last_seen_at, and keeps the best confidence
// and latest snapshot. The original occurred_at is never modified.
func (r *Repository) Touch(ctx context.Context, id string, seenAt time.Time, confidence float64, imageURL string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance_events
		SET detection_count = detection_count + 1,
		    last_seen_at = $2,
		    confidence = GREATEST(confidence, $3),
		    image_url = CASE WHEN $4 <> '' THEN $4 ELSE image_url END
		WHERE id = $1
	`, id, seenAt, confidence, imageURL)
	return err
}

// ListRecent returns events newest first with optional member filtering.
func (r *Repository) ListRecent(ctx context.Context, memberID *int64, limit, offset int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT` + eventColumns + ` FROM attendance_events`
	args := []any{}
	if memberID != nil {
		query += ` WHERE member_id = $1`
		args = append(args, *memberID)
	}
	query += fmt.Sprintf(` ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}
