package appointment

import (
	"errors"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var ErrInvalidInstant = errors.New("invalid date or time")

var timeLayouts = []string{"15:04:05", "15:04"}

// ParseInstant combines a date (YYYY-MM-DD) and a time of day (HH:MM or
// HH:MM:SS) into a naive wall-clock instant. Instants carry time.UTC as
// location but are not UTC; the system runs in one implicit zone.
func ParseInstant(date, clock string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, ErrInvalidInstant
	}

	clock = strings.TrimSpace(clock)
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, clock)
		if err != nil {
			continue
		}
		return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC), nil
	}
	return time.Time{}, ErrInvalidInstant
}

// Wall re-expresses t as a naive instant in loc, comparable with instants
// produced by ParseInstant and read from the database.
func Wall(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), l.Nanosecond(), time.UTC)
}

// WallClock returns a clock producing naive "now" values in loc.
func WallClock(loc *time.Location) func() time.Time {
	return func() time.Time {
		return Wall(time.Now(), loc)
	}
}
