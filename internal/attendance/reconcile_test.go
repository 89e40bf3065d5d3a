package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facetrack/internal/calendar"
	"facetrack/internal/policy"
	"facetrack/internal/roster"
	"facetrack/internal/schedule"
)

type fakeSchedules struct {
	defs []schedule.Definition
}

func (f *fakeSchedules) Active(context.Context) ([]schedule.Definition, error) {
	var active []schedule.Definition
	for _, d := range f.defs {
		if d.Active {
			active = append(active, d)
		}
	}
	return active, nil
}

func (f *fakeSchedules) Get(_ context.Context, id int64) (*schedule.Definition, error) {
	for _, d := range f.defs {
		if d.ID == id {
			d := d
			return &d, nil
		}
	}
	return nil, nil
}

type fakeRoster struct {
	groups map[int64][]roster.Member // keyed by group id
	all    []roster.Member
}

func (f *fakeRoster) MembersOf(_ context.Context, groupID *int64) ([]roster.Member, error) {
	if groupID == nil {
		return f.all, nil
	}
	return f.groups[*groupID], nil
}

func (f *fakeRoster) GroupsOf(_ context.Context, memberID int64) ([]int64, error) {
	var ids []int64
	for gid, members := range f.groups {
		for _, m := range members {
			if m.ID == memberID {
				ids = append(ids, gid)
			}
		}
	}
	return ids, nil
}

type fakeEvents struct {
	events []Event
}

func (f *fakeEvents) ForOccurrence(_ context.Context, scheduleID int64, date time.Time) ([]Event, error) {
	day := calendar.Midnight(date)
	var out []Event
	for _, evt := range f.events {
		if evt.ScheduleID == scheduleID && calendar.Midnight(evt.OccurredAt).Equal(day) {
			out = append(out, evt)
		}
	}
	return out, nil
}

type fakePolicies struct {
	p policy.Policy
}

func (f *fakePolicies) Current(context.Context) (policy.Policy, error) {
	return f.p, nil
}

func testEngine() (*Engine, *fakeSchedules, *fakeRoster, *fakeEvents) {
	group := int64(7)
	schedules := &fakeSchedules{defs: []schedule.Definition{
		{ID: 1, Name: "Mathematics", DayOfWeek: 0, StartTime: "09:00", EndTime: "10:30", Active: true, GroupID: &group},
		{ID: 2, Name: "Assembly", DayOfWeek: 0, StartTime: "12:00", EndTime: "13:00", Active: true},
		{ID: 3, Name: "Physics", DayOfWeek: 2, StartTime: "09:00", EndTime: "10:30", Active: true, GroupID: &group},
		{ID: 4, Name: "Retired", DayOfWeek: 0, StartTime: "15:00", EndTime: "16:00", Active: false},
	}}
	members := []roster.Member{member(1), member(2), member(3)}
	ros := &fakeRoster{
		groups: map[int64][]roster.Member{7: members},
		all:    append(members, member(4)),
	}
	events := &fakeEvents{}
	return NewEngine(schedules, ros, events, &fakePolicies{p: policy.Default}), schedules, ros, events
}

func TestResolveWeek(t *testing.T) {
	engine, _, _, _ := testEngine()

	week, err := engine.ResolveWeek(context.Background(), 2024, 10, nil)
	require.NoError(t, err)
	assert.Len(t, week, 7)

	monday := week["2024-03-04"]
	require.Len(t, monday, 2) // inactive schedule excluded
	assert.Equal(t, "Mathematics", monday[0].Definition.Name)
	assert.Equal(t, "Assembly", monday[1].Definition.Name)
	assert.Len(t, week["2024-03-06"], 1)
	assert.Empty(t, week["2024-03-05"])
}

func TestResolveWeekGroupFilter(t *testing.T) {
	engine, _, _, _ := testEngine()
	other := int64(99)

	week, err := engine.ResolveWeek(context.Background(), 2024, 10, &other)
	require.NoError(t, err)

	// Group-specific schedules for other groups disappear; the open
	// Assembly schedule stays visible under every filter.
	monday := week["2024-03-04"]
	require.Len(t, monday, 1)
	assert.Equal(t, "Assembly", monday[0].Definition.Name)
	assert.Empty(t, week["2024-03-06"])
}

func TestResolveWeekOutOfRange(t *testing.T) {
	engine, _, _, _ := testEngine()

	_, err := engine.ResolveWeek(context.Background(), 2024, 53, nil)
	assert.ErrorIs(t, err, ErrWeekOutOfRange) // 2024 has 52 ISO weeks

	_, err = engine.ResolveWeek(context.Background(), 2020, 53, nil)
	assert.NoError(t, err)
}

func TestClassifyOccurrenceUnknownSchedule(t *testing.T) {
	engine, _, _, _ := testEngine()

	results, err := engine.ClassifyOccurrence(context.Background(), 999, classDate)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestClassifyOccurrenceWrongWeekday(t *testing.T) {
	engine, _, _, _ := testEngine()

	// Schedule 1 runs Mondays; March 5th 2024 is a Tuesday.
	results, err := engine.ClassifyOccurrence(context.Background(), 1, calendar.Date(2024, time.March, 5))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestClassifyOccurrenceAppliesOverride(t *testing.T) {
	engine, schedules, _, events := testEngine()
	fifteen := 15
	schedules.defs[0].LateThresholdMinutes = &fifteen

	events.events = []Event{
		eventAt("a", 1, 9, 5),
		eventAt("b", 2, 9, 20), // late under the 15-minute override, fine under the 30-minute default
	}

	results, err := engine.ClassifyOccurrence(context.Background(), 1, classDate)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, StatusPresent, results[0].Status)
	assert.Equal(t, StatusLate, results[1].Status)
	assert.Equal(t, StatusAbsent, results[2].Status)
}

func TestStatsFor(t *testing.T) {
	engine, _, _, events := testEngine()
	events.events = []Event{eventAt("a", 1, 9, 5)}

	stats, err := engine.StatsFor(context.Background(), 1, classDate)
	require.NoError(t, err)
	assert.Equal(t, Stats{Present: 1, Late: 0, Absent: 2, Total: 3, Rate: 0.333}, stats)
}

func TestStatsForNoOccurrence(t *testing.T) {
	engine, _, _, _ := testEngine()

	stats, err := engine.StatsFor(context.Background(), 999, classDate)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestStatsForRange(t *testing.T) {
	engine, _, _, events := testEngine()
	events.events = []Event{
		eventAt("a", 1, 9, 5), // Mathematics, Monday
		{ID: "b", MemberID: 2, ScheduleID: 3, OccurredAt: calendar.Date(2024, time.March, 6).Add(9*time.Hour + 45*time.Minute)},
	}

	stats, err := engine.StatsForRange(context.Background(), classDate, classDate.AddDate(0, 0, 6), nil)
	require.NoError(t, err)

	// Mathematics Mon: 1 present, 2 absent. Assembly Mon: 4 absent.
	// Physics Wed: 1 late, 2 absent.
	assert.Equal(t, 1, stats.Present)
	assert.Equal(t, 1, stats.Late)
	assert.Equal(t, 8, stats.Absent)
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 0.2, stats.Rate)
}

func TestStatsForRangeInvalid(t *testing.T) {
	engine, _, _, _ := testEngine()

	_, err := engine.StatsForRange(context.Background(), classDate, classDate.AddDate(0, 0, -1), nil)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestQueriesAreIdempotent(t *testing.T) {
	engine, _, _, events := testEngine()
	events.events = []Event{eventAt("a", 1, 9, 5), eventAt("b", 2, 9, 50)}

	first, err := engine.ClassifyOccurrence(context.Background(), 1, classDate)
	require.NoError(t, err)
	second, err := engine.ClassifyOccurrence(context.Background(), 1, classDate)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	w1, err := engine.ResolveWeek(context.Background(), 2024, 10, nil)
	require.NoError(t, err)
	w2, err := engine.ResolveWeek(context.Background(), 2024, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, w1, w2)
}

func TestMemberStats(t *testing.T) {
	engine, _, _, events := testEngine()
	events.events = []Event{eventAt("a", 1, 9, 5)}

	// Member 1 is eligible for Mathematics (Mon), Assembly (Mon), Physics (Wed).
	stats, err := engine.MemberStats(context.Background(), 1, classDate, classDate.AddDate(0, 0, 6))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Present)
	assert.Equal(t, 2, stats.Absent)
	assert.Equal(t, 3, stats.Total)
}
