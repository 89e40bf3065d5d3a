// Package schedule holds recurring weekly schedule definitions and their
// expansion into concrete dated occurrences.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"facetrack/internal/calendar"
)

// Definition is a recurring weekly class/work schedule.
type Definition struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	DayOfWeek int        `json:"day_of_week"` // 0=Monday .. 6=Sunday
	StartTime string     `json:"start_time"`  // "HH:MM", minute resolution
	EndTime   string     `json:"end_time"`
	GroupID   *int64     `json:"group_id,omitempty"`
	Active    bool       `json:"is_active"`
	// Per-schedule policy overrides; nil means use the global default.
	LateThresholdMinutes  *int `json:"late_threshold_minutes,omitempty"`
	DuplicateCheckMinutes *int `json:"duplicate_check_minutes,omitempty"`
	// Validity window, inclusive; nil bounds are open-ended.
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	Teacher       *string    `json:"teacher,omitempty"`
	Room          *string    `json:"room,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ParseClock parses an "HH:MM" string into minutes since midnight.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q: use HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return h*60 + m, nil
}

// Validate rejects malformed definitions before they can be stored or
// materialized. Occurrence computation assumes validated input.
func (d Definition) Validate() error {
	if d.Name == "" {
		return errors.New("name required")
	}
	if d.DayOfWeek < 0 || d.DayOfWeek > 6 {
		return fmt.Errorf("day_of_week must be between 0 (Monday) and 6 (Sunday), got %d", d.DayOfWeek)
	}
	start, err := ParseClock(d.StartTime)
	if err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	end, err := ParseClock(d.EndTime)
	if err != nil {
		return fmt.Errorf("end_time: %w", err)
	}
	if start >= end {
		return errors.New("start_time must be before end_time")
	}
	if d.EffectiveFrom != nil && d.EffectiveTo != nil && d.EffectiveTo.Before(*d.EffectiveFrom) {
		return errors.New("effective_to must not precede effective_from")
	}
	return nil
}

// StartOn returns the schedule's start instant on the given date.
func (d Definition) StartOn(date time.Time) time.Time {
	mins, _ := ParseClock(d.StartTime)
	return calendar.Midnight(date).Add(time.Duration(mins) * time.Minute)
}

// EndOn returns the schedule's end instant on the given date.
func (d Definition) EndOn(date time.Time) time.Time {
	mins, _ := ParseClock(d.EndTime)
	return calendar.Midnight(date).Add(time.Duration(mins) * time.Minute)
}

// InEffect reports whether date falls inside the validity window.
func (d Definition) InEffect(date time.Time) bool {
	day := calendar.Midnight(date)
	if d.EffectiveFrom != nil && day.Before(calendar.Midnight(*d.EffectiveFrom)) {
		return false
	}
	if d.EffectiveTo != nil && day.After(calendar.Midnight(*d.EffectiveTo)) {
		return false
	}
	return true
}

// VisibleTo reports whether the definition is visible under a group filter.
// Schedules without a group apply to all groups.
func (d Definition) VisibleTo(groupID *int64) bool {
	if groupID == nil || d.GroupID == nil {
		return true
	}
	return *d.GroupID == *groupID
}
