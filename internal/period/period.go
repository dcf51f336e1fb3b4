package period

import (
	"errors"
	"time"
)

// Period is the granularity of a quota accounting window.
type Period string

const (
	Hourly  Period = "hourly"
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
	Yearly  Period = "yearly"
)

// ErrUnknownPeriod marks an unrecognized period value. Callers must surface
// it as a configuration error, not treat the zero-length window as valid.
var ErrUnknownPeriod = errors.New("unknown period")

// Bounds is a half-open window [Start, End).
type Bounds struct {
	Start time.Time
	End   time.Time
}

func (b Bounds) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

func Valid(p Period) bool {
	switch p {
	case Hourly, Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Bucket returns the calendar-aligned window containing t.
// Weeks start on Monday. An unknown period yields a zero-length window at t
// together with ErrUnknownPeriod.
func Bucket(p Period, t time.Time) (Bounds, error) {
	loc := t.Location()

	switch p {
	case Hourly:
		start := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
		return Bounds{Start: start, End: start.Add(time.Hour)}, nil
	case Daily:
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		return Bounds{Start: start, End: start.AddDate(0, 0, 1)}, nil
	case Weekly:
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		offset := (int(t.Weekday()) + 6) % 7 // days since Monday
		start := midnight.AddDate(0, 0, -offset)
		return Bounds{Start: start, End: start.AddDate(0, 0, 7)}, nil
	case Monthly:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
		return Bounds{Start: start, End: start.AddDate(0, 1, 0)}, nil
	case Yearly:
		start := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return Bounds{Start: start, End: start.AddDate(1, 0, 0)}, nil
	}

	return Bounds{Start: t, End: t}, ErrUnknownPeriod
}

// RenewAt returns the next renewal instant: t plus one period unit.
// Renewal is relative to t, not calendar-aligned; Bucket and RenewAt are
// deliberately separate and must stay that way.
func RenewAt(p Period, t time.Time) (time.Time, error) {
	switch p {
	case Hourly:
		return t.Add(time.Hour), nil
	case Daily:
		return t.AddDate(0, 0, 1), nil
	case Weekly:
		return t.AddDate(0, 0, 7), nil
	case Monthly:
		return t.AddDate(0, 1, 0), nil
	case Yearly:
		return t.AddDate(1, 0, 0), nil
	}

	return t, ErrUnknownPeriod
}
