package attendance

import (
	"math"
	"sort"
	"time"

	"facetrack/internal/calendar"
	"facetrack/internal/policy"
	"facetrack/internal/roster"
	"facetrack/internal/schedule"
)

// Status is the classification of one member for one occurrence.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// Result is the classification of a (member, occurrence) pair. CheckInAt
// and EventID reference the matched event when the member showed up.
type Result struct {
	Member    roster.Member `json:"member"`
	Status    Status        `json:"status"`
	CheckInAt *time.Time    `json:"check_in_at,omitempty"`
	EventID   string        `json:"event_id,omitempty"`
}

// Stats aggregates classification results for an occurrence or a range.
type Stats struct {
	Present int     `json:"present"`
	Late    int     `json:"late"`
	Absent  int     `json:"absent"`
	Total   int     `json:"total"`
	Rate    float64 `json:"rate"`
}

// Classify produces one Result per roster member for the given occurrence.
// It is a pure function: duplicate suppression has already happened at
// ingestion, so whatever event set arrives here is taken as-is.
//
// The earliest matching event per member is authoritative (a continuously
// sampling camera is expected to detect the same person repeatedly); ties
// on the timestamp break by lowest event id so repeated queries are
// reproducible. Arriving before the scheduled start, or within the late
// threshold after it, counts as present; later than that is late; no event
// at all is absent. An empty roster or empty event set is a valid input.
func Classify(occ schedule.Occurrence, pol policy.Policy, members []roster.Member, events []Event) []Result {
	best := make(map[int64]Event, len(members))
	for _, evt := range events {
		if evt.ScheduleID != occ.Definition.ID {
			continue
		}
		// Civil dates are UTC-based; an event carrying a non-UTC location
		// must land on the same date as its UTC representation.
		if !calendar.Midnight(evt.OccurredAt.UTC()).Equal(calendar.Midnight(occ.Date)) {
			continue
		}
		cur, ok := best[evt.MemberID]
		if !ok || evt.OccurredAt.Before(cur.OccurredAt) ||
			(evt.OccurredAt.Equal(cur.OccurredAt) && evt.ID < cur.ID) {
			best[evt.MemberID] = evt
		}
	}

	lateAfter := occ.Start().Add(time.Duration(pol.LateThresholdMinutes) * time.Minute)

	results := make([]Result, 0, len(members))
	for _, m := range members {
		evt, ok := best[m.ID]
		if !ok {
			results = append(results, Result{Member: m, Status: StatusAbsent})
			continue
		}
		status := StatusPresent
		if evt.OccurredAt.After(lateAfter) {
			status = StatusLate
		}
		at := evt.OccurredAt
		results = append(results, Result{Member: m, Status: status, CheckInAt: &at, EventID: evt.ID})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Member.ID < results[j].Member.ID
	})
	return results
}

// Summarize folds classification results into counts and an attendance
// rate of (present+late)/total, rounded to three decimals. A zero-member
// occurrence yields rate 0, not a division fault.
func Summarize(results []Result) Stats {
	var s Stats
	for _, r := range results {
		switch r.Status {
		case StatusPresent:
			s.Present++
		case StatusLate:
			s.Late++
		default:
			s.Absent++
		}
	}
	s.Total = len(results)
	s.Rate = rate(s.Present+s.Late, s.Total)
	return s
}

func rate(attended, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(attended)/float64(total)*1000) / 1000
}
