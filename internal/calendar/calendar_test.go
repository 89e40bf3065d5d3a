package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatesOfWeekStartsMonday(t *testing.T) {
	tests := []struct {
		year, week int
		monday     time.Time
	}{
		{2024, 1, Date(2024, time.January, 1)},
		{2024, 10, Date(2024, time.March, 4)},
		{2021, 1, Date(2021, time.January, 4)},
		{2020, 53, Date(2020, time.December, 28)},
		// week 1 of 2015 begins in December 2014
		{2015, 1, Date(2014, time.December, 29)},
	}

	for _, tt := range tests {
		days := DatesOfWeek(tt.year, tt.week)
		assert.Equal(t, tt.monday, days[0], "year=%d week=%d", tt.year, tt.week)
		assert.Equal(t, time.Monday, days[0].Weekday())
		for i := 1; i < 7; i++ {
			assert.Equal(t, days[i-1].AddDate(0, 0, 1), days[i], "dates must be consecutive")
		}
	}
}

func TestISOWeekOfRoundTrip(t *testing.T) {
	// Every date of 2024 (leap) and the edges of surrounding years must
	// appear in the week DatesOfWeek resolves for it.
	d := Date(2023, time.December, 25)
	end := Date(2025, time.January, 7)
	for !d.After(end) {
		year, week := ISOWeekOf(d)
		days := DatesOfWeek(year, week)
		found := false
		for _, day := range days {
			if day.Equal(d) {
				found = true
				break
			}
		}
		assert.True(t, found, "date %s not in week (%d, %d)", d.Format("2006-01-02"), year, week)
		d = d.AddDate(0, 0, 1)
	}
}

func TestWeeksInYear(t *testing.T) {
	tests := []struct {
		year  int
		weeks int
	}{
		{2015, 53}, // Dec 31 on Thursday
		{2020, 53}, // leap year
		{2004, 53}, // leap year, Dec 31 on Friday
		{2021, 52},
		{2023, 52},
		{2024, 52},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.weeks, WeeksInYear(tt.year), "year=%d", tt.year)
	}
}

func TestWeeksInYearRoundTrip(t *testing.T) {
	// The last ISO week of a year ends on Dec 31 or within 3 days after it.
	for year := 2000; year <= 2030; year++ {
		days := DatesOfWeek(year, WeeksInYear(year))
		sunday := days[6]
		dec31 := Date(year, time.December, 31)
		assert.False(t, sunday.Before(dec31), "year=%d last week ends %s", year, sunday)
		assert.LessOrEqual(t, int(sunday.Sub(dec31).Hours()/24), 3, "year=%d", year)
	}
}

func TestWeekBoundaries(t *testing.T) {
	// 2021-01-01 is a Friday and belongs to week 53 of 2020.
	year, week := ISOWeekOf(Date(2021, time.January, 1))
	assert.Equal(t, 2020, year)
	assert.Equal(t, 53, week)

	// 2024-12-30 is a Monday and opens week 1 of 2025.
	year, week = ISOWeekOf(Date(2024, time.December, 30))
	assert.Equal(t, 2025, year)
	assert.Equal(t, 1, week)
}

func TestWeekday(t *testing.T) {
	assert.Equal(t, 0, Weekday(Date(2024, time.March, 4)))  // Monday
	assert.Equal(t, 2, Weekday(Date(2024, time.March, 6)))  // Wednesday
	assert.Equal(t, 6, Weekday(Date(2024, time.March, 10))) // Sunday
}
