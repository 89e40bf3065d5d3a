// Package attendance contains the check-in event store, the pure
// classification logic, the reconciliation engine that answers attendance
// queries, and the ingestion path that applies duplicate suppression.
package attendance

import "time"

// Event is one accepted check-in produced by the recognition pipeline.
// Events are immutable once created, except for the detection-tracking
// fields the ingestor maintains (detection_count, last_seen_at); the
// original occurred_at never changes, so repeated classification of a
// historical date is stable.
type Event struct {
	ID             string    `json:"id"`
	MemberID       int64     `json:"member_id"`
	DeviceID       string    `json:"device_id,omitempty"`
	ScheduleID     int64     `json:"schedule_id"`
	OccurredAt     time.Time `json:"occurred_at"`
	Confidence     float64   `json:"confidence"`
	ImageURL       string    `json:"image_url,omitempty"`
	DetectionCount int       `json:"detection_count"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	CreatedAt      time.Time `json:"created_at"`
}
