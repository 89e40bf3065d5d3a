// Package calendar provides ISO-8601 week arithmetic over civil dates.
// Dates are time.Time values at midnight UTC; the engine is timezone-naive
// and all schedule times are institution-local by definition.
package calendar

import "time"

// Date returns the civil date at midnight UTC.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Midnight truncates t to its civil date.
func Midnight(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// ISOWeekOf returns the ISO-8601 year and week containing d. Weeks start
// on Monday; the week's year is the year of its Thursday, so week 1 of a
// year may begin in the prior December and week 52/53 may run into January.
func ISOWeekOf(d time.Time) (year, week int) {
	return d.ISOWeek()
}

// Weekday returns the ISO day-of-week for d, 0=Monday .. 6=Sunday.
func Weekday(d time.Time) int {
	return (int(d.Weekday()) + 6) % 7
}

// DatesOfWeek returns the seven dates of ISO week (year, week), ordered
// Monday through Sunday. The anchor is the Monday of the week containing
// January 4th, which by definition always belongs to week 1.
func DatesOfWeek(year, week int) [7]time.Time {
	jan4 := Date(year, time.January, 4)
	monday := jan4.AddDate(0, 0, -Weekday(jan4))
	start := monday.AddDate(0, 0, (week-1)*7)

	var days [7]time.Time
	for i := range days {
		days[i] = start.AddDate(0, 0, i)
	}
	return days
}

// WeeksInYear returns the number of ISO weeks in year (52 or 53).
// December 28th always falls in the last ISO week of its year.
func WeeksInYear(year int) int {
	_, week := Date(year, time.December, 28).ISOWeek()
	return week
}
