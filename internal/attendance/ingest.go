package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"facetrack/internal/calendar"
	"facetrack/internal/policy"
	"facetrack/internal/schedule"
)

// EarlyArrivalMinutes is how long before scheduled start a member may
// check in and still be attributed to that occurrence.
const EarlyArrivalMinutes = 30

// ErrNoActiveSchedule is returned when a detection matches no occurrence
// the member is authorized to attend at that instant.
var ErrNoActiveSchedule = errors.New("no active schedule at detection time")

// Detection is one recognition-pipeline match arriving at the ingestor.
type Detection struct {
	MemberID   int64
	DeviceID   string
	OccurredAt time.Time
	Confidence float64
	ImageURL   string
}

// EventStore is the slice of the event repository the ingestor writes to.
type EventStore interface {
	Insert(ctx context.Context, evt Event) (Event, error)
	AcceptedInWindow(ctx context.Context, memberID, scheduleID int64, from, to time.Time) (*Event, error)
	Touch(ctx context.Context, id string, seenAt time.Time, confidence float64, imageURL string) error
}

// MembershipSource supplies a member's group ids.
type MembershipSource interface {
	GroupsOf(ctx context.Context, memberID int64) ([]int64, error)
}

// Locker serializes the accept-or-suppress decision per key. Two
// near-simultaneous detections of the same member must not both become
// accepted events.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Ingestor accepts detections into the event store, applying duplicate
// suppression so one physical arrival yields exactly one accepted event.
// This is the only stateful decision in the system; the classification
// read path stays pure because suppression already happened here.
type Ingestor struct {
	events    EventStore
	schedules ScheduleSource
	groups    MembershipSource
	policies  PolicySource
	locks     Locker
	log       *zap.Logger
}

// NewIngestor wires an ingestor.
func NewIngestor(events EventStore, schedules ScheduleSource, groups MembershipSource, policies PolicySource, locks Locker, log *zap.Logger) *Ingestor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingestor{events: events, schedules: schedules, groups: groups, policies: policies, locks: locks, log: log}
}

// RecordDetection resolves the occurrence a detection belongs to and
// either accepts it as a new event, refreshes an existing one, or
// suppresses it. The boolean reports whether a new event was accepted.
func (s *Ingestor) RecordDetection(ctx context.Context, det Detection) (Event, bool, error) {
	if det.MemberID == 0 {
		return Event{}, false, errors.New("member id required")
	}
	if det.OccurredAt.IsZero() {
		det.OccurredAt = time.Now().UTC()
	}

	def, err := s.activeScheduleAt(ctx, det.MemberID, det.OccurredAt)
	if err != nil {
		return Event{}, false, err
	}

	base, err := s.policies.Current(ctx)
	if err != nil {
		return Event{}, false, err
	}
	pol := policy.Resolve(base, overrideOf(*def))

	day := calendar.Midnight(det.OccurredAt)
	release, err := s.locks.Acquire(ctx, fmt.Sprintf("ingest:%d:%d:%s", det.MemberID, def.ID, day.Format("2006-01-02")))
	if err != nil {
		return Event{}, false, err
	}
	defer release()

	// One accepted event per (member, schedule, occurrence). The lookup
	// window matches the check-in window so yesterday's class never
	// absorbs today's arrival.
	windowFrom := def.StartOn(day).Add(-EarlyArrivalMinutes * time.Minute)
	windowTo := def.EndOn(day)
	existing, err := s.events.AcceptedInWindow(ctx, det.MemberID, def.ID, windowFrom, windowTo)
	if err != nil {
		return Event{}, false, err
	}

	if existing != nil {
		since := det.OccurredAt.Sub(existing.LastSeenAt)
		if since < time.Duration(pol.DuplicateCheckMinutes)*time.Minute {
			detectionsSuppressed.Inc()
			s.log.Debug("detection suppressed",
				zap.Int64("member_id", det.MemberID),
				zap.Int64("schedule_id", def.ID),
				zap.Duration("since_last_seen", since),
			)
			return *existing, false, nil
		}
		// Window elapsed: same arrival, refresh the sighting only.
		if err := s.events.Touch(ctx, existing.ID, det.OccurredAt, det.Confidence, det.ImageURL); err != nil {
			return Event{}, false, err
		}
		existing.DetectionCount++
		existing.LastSeenAt = det.OccurredAt
		if det.Confidence > existing.Confidence {
			existing.Confidence = det.Confidence
		}
		detectionsRefreshed.Inc()
		return *existing, false, nil
	}

	evt, err := s.events.Insert(ctx, Event{
		MemberID:   det.MemberID,
		DeviceID:   det.DeviceID,
		ScheduleID: def.ID,
		OccurredAt: det.OccurredAt,
		Confidence: det.Confidence,
		ImageURL:   det.ImageURL,
	})
	if err != nil {
		return Event{}, false, err
	}
	detectionsAccepted.Inc()
	s.log.Info("check-in accepted",
		zap.Int64("member_id", det.MemberID),
		zap.Int64("schedule_id", def.ID),
		zap.Time("occurred_at", det.OccurredAt),
	)
	return evt, true, nil
}

// activeScheduleAt finds the occurrence the member may attend at the
// given instant: correct weekday, inside the validity window, authorized
// group, and within [start - early arrival, end]. Group-specific
// schedules win over open ones, then earlier start times.
func (s *Ingestor) activeScheduleAt(ctx context.Context, memberID int64, at time.Time) (*schedule.Definition, error) {
	defs, err := s.schedules.Active(ctx)
	if err != nil {
		return nil, err
	}
	groupIDs, err := s.groups.GroupsOf(ctx, memberID)
	if err != nil {
		return nil, err
	}
	memberOf := make(map[int64]bool, len(groupIDs))
	for _, id := range groupIDs {
		memberOf[id] = true
	}

	day := calendar.Midnight(at)
	var candidates []schedule.Definition
	for _, def := range defs {
		if def.DayOfWeek != calendar.Weekday(day) || !def.InEffect(day) {
			continue
		}
		if def.GroupID != nil && !memberOf[*def.GroupID] {
			continue
		}
		earliest := def.StartOn(day).Add(-EarlyArrivalMinutes * time.Minute)
		if at.Before(earliest) || at.After(def.EndOn(day)) {
			continue
		}
		candidates = append(candidates, def)
	}
	if len(candidates) == 0 {
		return nil, ErrNoActiveSchedule
	}

	sort.Slice(candidates, func(i, j int) bool {
		gi, gj := candidates[i].GroupID != nil, candidates[j].GroupID != nil
		if gi != gj {
			return gi
		}
		si, _ := schedule.ParseClock(candidates[i].StartTime)
		sj, _ := schedule.ParseClock(candidates[j].StartTime)
		if si != sj {
			return si < sj
		}
		return candidates[i].ID < candidates[j].ID
	})
	return &candidates[0], nil
}
