package core

import (
	"fmt"
	"time"
)

// Period is a closed date interval [Start, End].
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MonthOf returns the calendar month containing t, in t's location.
// End is the last nanosecond of the month.
func MonthOf(t time.Time) Period {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return Period{
		Start: start,
		End:   start.AddDate(0, 1, 0).Add(-time.Nanosecond),
	}
}

// Previous returns the calendar month before the one starting at p.Start.
func (p Period) Previous() Period {
	return MonthOf(p.Start.AddDate(0, -1, 0))
}

// Contains reports whether t falls inside the period, both ends inclusive.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("period bounds cannot be zero")
	}
	if p.End.Before(p.Start) {
		return fmt.Errorf("period end %s is before start %s", p.End.Format(time.DateOnly), p.Start.Format(time.DateOnly))
	}
	return nil
}

// Label renders the period as YYYY-MM when it spans one calendar month.
func (p Period) Label() string {
	if m := MonthOf(p.Start); m.Start.Equal(p.Start) && m.End.Equal(p.End) {
		return p.Start.Format("2006-01")
	}
	return p.Start.Format(time.DateOnly) + ".." + p.End.Format(time.DateOnly)
}
