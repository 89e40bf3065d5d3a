package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"facetrack/internal/calendar"
	"facetrack/internal/policy"
	"facetrack/internal/roster"
	"facetrack/internal/schedule"
)

// Validation errors are sentinels so transport layers can distinguish a
// caller mistake from an unavailable data source.
var (
	ErrWeekOutOfRange = errors.New("week out of range")
	ErrInvalidRange   = errors.New("invalid date range")
)

// ScheduleSource supplies schedule definitions.
type ScheduleSource interface {
	Active(ctx context.Context) ([]schedule.Definition, error)
	Get(ctx context.Context, id int64) (*schedule.Definition, error)
}

// RosterSource supplies the members eligible for an occurrence.
type RosterSource interface {
	MembersOf(ctx context.Context, groupID *int64) ([]roster.Member, error)
}

// EventSource supplies accepted check-in events scoped to one occurrence.
type EventSource interface {
	ForOccurrence(ctx context.Context, scheduleID int64, date time.Time) ([]Event, error)
}

// PolicySource supplies the currently-effective global policy.
type PolicySource interface {
	Current(ctx context.Context) (policy.Policy, error)
}

// Engine answers attendance queries. It holds no state of its own: every
// operation is a pure function of the definitions, events, and policy
// fetched at call time, so concurrent queries need no locking. A query
// either has both roster and events or fails; there is no partial
// classification over incomplete data.
type Engine struct {
	schedules ScheduleSource
	roster    RosterSource
	events    EventSource
	policies  PolicySource
}

// NewEngine wires the engine to its data sources.
func NewEngine(schedules ScheduleSource, ros RosterSource, events EventSource, policies PolicySource) *Engine {
	return &Engine{schedules: schedules, roster: ros, events: events, policies: policies}
}

// WeekSchedule maps ISO dates ("2006-01-02") to that day's occurrences,
// ordered by start time. Every day of the week is present, empty or not.
type WeekSchedule map[string][]schedule.Occurrence

// ResolveWeek materializes all active schedules visible under the optional
// group filter over the seven dates of ISO week (year, week).
func (e *Engine) ResolveWeek(ctx context.Context, year, week int, groupID *int64) (WeekSchedule, error) {
	if week < 1 || week > calendar.WeeksInYear(year) {
		return nil, fmt.Errorf("week %d out of range for %d: %w", week, year, ErrWeekOutOfRange)
	}
	defs, err := e.visibleDefinitions(ctx, groupID)
	if err != nil {
		return nil, err
	}

	days := calendar.DatesOfWeek(year, week)
	occs := schedule.Materialize(defs, days[0], days[6])

	out := make(WeekSchedule, 7)
	for _, day := range days {
		out[day.Format("2006-01-02")] = []schedule.Occurrence{}
	}
	for _, occ := range occs {
		key := occ.Date.Format("2006-01-02")
		out[key] = append(out[key], occ)
	}
	return out, nil
}

// ClassifyOccurrence classifies every eligible member for the schedule's
// occurrence on date. An unknown schedule, or a date on which the schedule
// has no occurrence, is a valid question with an empty answer, not an
// error.
func (e *Engine) ClassifyOccurrence(ctx context.Context, scheduleID int64, date time.Time) ([]Result, error) {
	def, err := e.schedules.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	occ, ok := occurrenceOn(def, date)
	if !ok {
		return []Result{}, nil
	}

	pol, err := e.effectivePolicy(ctx, occ.Definition)
	if err != nil {
		return nil, err
	}
	members, err := e.roster.MembersOf(ctx, occ.Definition.GroupID)
	if err != nil {
		return nil, err
	}
	events, err := e.events.ForOccurrence(ctx, scheduleID, occ.Date)
	if err != nil {
		return nil, err
	}
	return Classify(occ, pol, members, events), nil
}

// StatsFor aggregates one occurrence's classifications.
func (e *Engine) StatsFor(ctx context.Context, scheduleID int64, date time.Time) (Stats, error) {
	results, err := e.ClassifyOccurrence(ctx, scheduleID, date)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(results), nil
}

// StatsForRange sums per-occurrence classifications over [from, to] for
// schedules visible under the group filter. It reuses the same
// classification path as single-occurrence queries, so the two views can
// never disagree.
func (e *Engine) StatsForRange(ctx context.Context, from, to time.Time, groupID *int64) (Stats, error) {
	if calendar.Midnight(to).Before(calendar.Midnight(from)) {
		return Stats{}, fmt.Errorf("%w: %s is before %s", ErrInvalidRange,
			to.Format("2006-01-02"), from.Format("2006-01-02"))
	}
	defs, err := e.visibleDefinitions(ctx, groupID)
	if err != nil {
		return Stats{}, err
	}
	base, err := e.policies.Current(ctx)
	if err != nil {
		return Stats{}, err
	}

	rosters := make(map[int64][]roster.Member) // keyed by group id, 0 = no group
	var total Stats
	for _, occ := range schedule.Materialize(defs, from, to) {
		rosterKey := int64(0)
		if occ.Definition.GroupID != nil {
			rosterKey = *occ.Definition.GroupID
		}
		members, ok := rosters[rosterKey]
		if !ok {
			members, err = e.roster.MembersOf(ctx, occ.Definition.GroupID)
			if err != nil {
				return Stats{}, err
			}
			rosters[rosterKey] = members
		}

		events, err := e.events.ForOccurrence(ctx, occ.Definition.ID, occ.Date)
		if err != nil {
			return Stats{}, err
		}
		pol := policy.Resolve(base, overrideOf(occ.Definition))
		s := Summarize(Classify(occ, pol, members, events))
		total.Present += s.Present
		total.Late += s.Late
		total.Absent += s.Absent
		total.Total += s.Total
	}
	total.Rate = rate(total.Present+total.Late, total.Total)
	return total, nil
}

// MemberStats summarizes one member's classifications across every
// occurrence of their schedules in [from, to].
func (e *Engine) MemberStats(ctx context.Context, memberID int64, from, to time.Time) (Stats, error) {
	if calendar.Midnight(to).Before(calendar.Midnight(from)) {
		return Stats{}, fmt.Errorf("%w: %s is before %s", ErrInvalidRange,
			to.Format("2006-01-02"), from.Format("2006-01-02"))
	}
	defs, err := e.schedules.Active(ctx)
	if err != nil {
		return Stats{}, err
	}
	base, err := e.policies.Current(ctx)
	if err != nil {
		return Stats{}, err
	}

	var total Stats
	for _, occ := range schedule.Materialize(defs, from, to) {
		members, err := e.roster.MembersOf(ctx, occ.Definition.GroupID)
		if err != nil {
			return Stats{}, err
		}
		var me []roster.Member
		for _, m := range members {
			if m.ID == memberID {
				me = append(me, m)
				break
			}
		}
		if len(me) == 0 {
			continue // member not eligible for this occurrence
		}
		events, err := e.events.ForOccurrence(ctx, occ.Definition.ID, occ.Date)
		if err != nil {
			return Stats{}, err
		}
		pol := policy.Resolve(base, overrideOf(occ.Definition))
		s := Summarize(Classify(occ, pol, me, events))
		total.Present += s.Present
		total.Late += s.Late
		total.Absent += s.Absent
		total.Total += s.Total
	}
	total.Rate = rate(total.Present+total.Late, total.Total)
	return total, nil
}

func (e *Engine) effectivePolicy(ctx context.Context, def schedule.Definition) (policy.Policy, error) {
	base, err := e.policies.Current(ctx)
	if err != nil {
		return policy.Policy{}, err
	}
	return policy.Resolve(base, overrideOf(def)), nil
}

func (e *Engine) visibleDefinitions(ctx context.Context, groupID *int64) ([]schedule.Definition, error) {
	defs, err := e.schedules.Active(ctx)
	if err != nil {
		return nil, err
	}
	if groupID == nil {
		return defs, nil
	}
	visible := defs[:0:0]
	for _, d := range defs {
		if d.VisibleTo(groupID) {
			visible = append(visible, d)
		}
	}
	return visible, nil
}

func overrideOf(def schedule.Definition) policy.Override {
	return policy.Override{
		LateThresholdMinutes:  def.LateThresholdMinutes,
		DuplicateCheckMinutes: def.DuplicateCheckMinutes,
	}
}

// occurrenceOn reports whether def yields an occurrence on date.
func occurrenceOn(def *schedule.Definition, date time.Time) (schedule.Occurrence, bool) {
	if def == nil || !def.Active {
		return schedule.Occurrence{}, false
	}
	day := calendar.Midnight(date)
	if calendar.Weekday(day) != def.DayOfWeek || !def.InEffect(day) {
		return schedule.Occurrence{}, false
	}
	return schedule.Occurrence{Definition: *def, Date: day}, true
}
