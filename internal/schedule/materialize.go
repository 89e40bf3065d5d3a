package schedule

import (
	"sort"
	"time"

	"facetrack/internal/calendar"
)

// Occurrence is one concrete dated instance of a definition. Occurrences
// are computed on demand and never persisted; the definition remains the
// single source of truth.
type Occurrence struct {
	Definition Definition `json:"schedule"`
	Date       time.Time  `json:"date"`
}

// Start returns the occurrence's scheduled start instant.
func (o Occurrence) Start() time.Time { return o.Definition.StartOn(o.Date) }

// End returns the occurrence's scheduled end instant.
func (o Occurrence) End() time.Time { return o.Definition.EndOn(o.Date) }

// Materialize expands definitions into occurrences over the closed date
// range [from, to]. A date yields an occurrence when its weekday matches
// the definition, the definition is active, and the date falls inside the
// validity window. The result is ordered by (date, start time, id), so
// identical inputs always produce the identical occurrence set.
func Materialize(defs []Definition, from, to time.Time) []Occurrence {
	from, to = calendar.Midnight(from), calendar.Midnight(to)
	if to.Before(from) {
		return nil
	}

	var occs []Occurrence
	for _, def := range defs {
		if !def.Active {
			continue
		}
		// Jump straight to the first matching weekday in range.
		offset := (def.DayOfWeek - calendar.Weekday(from) + 7) % 7
		for date := from.AddDate(0, 0, offset); !date.After(to); date = date.AddDate(0, 0, 7) {
			if def.InEffect(date) {
				occs = append(occs, Occurrence{Definition: def, Date: date})
			}
		}
	}

	sort.Slice(occs, func(i, j int) bool {
		if !occs[i].Date.Equal(occs[j].Date) {
			return occs[i].Date.Before(occs[j].Date)
		}
		si, _ := ParseClock(occs[i].Definition.StartTime)
		sj, _ := ParseClock(occs[j].Definition.StartTime)
		if si != sj {
			return si < sj
		}
		return occs[i].Definition.ID < occs[j].Definition.ID
	})
	return occs
}
