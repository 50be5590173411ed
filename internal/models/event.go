package models

import (
	"fmt"
	"time"

	// Zone lookups must not depend on the host having a zoneinfo database.
	_ "time/tzdata"
)

// Source records which system an event was read from.
type Source string

const (
	SourceA Source = "google"
	SourceB Source = "caldav"
)

// Kind is the granularity of a TemporalPoint.
type Kind int

const (
	DateTime Kind = iota
	DateOnly
)

func (k Kind) String() string {
	if k == DateOnly {
		return "date"
	}
	return "datetime"
}

// TemporalPoint is either a calendar date or an instant with an optional timezone.
// Date-only points are stored as midnight UTC of that date. An empty TZID means UTC.
type TemporalPoint struct {
	Kind Kind
	Time time.Time
	TZID string
}

// NewDate returns a date-only point.
func NewDate(year int, month time.Month, day int) TemporalPoint {
	return TemporalPoint{Kind: DateOnly, Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the date-only point of t's wall clock.
func DateOf(t time.Time) TemporalPoint {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// NewDateTime returns a timed point. The instant is kept as given; tzid only
// says which zone the event is anchored in.
func NewDateTime(t time.Time, tzid string) TemporalPoint {
	return TemporalPoint{Kind: DateTime, Time: t.UTC(), TZID: CanonicalTZ(tzid)}
}

// CanonicalTZ collapses the spellings of UTC to the empty id.
func CanonicalTZ(tzid string) string {
	switch tzid {
	case "UTC", "Etc/UTC", "Z":
		return ""
	}
	return tzid
}

func (p TemporalPoint) IsZero() bool { return p.Time.IsZero() }

func (p TemporalPoint) IsDateOnly() bool { return p.Kind == DateOnly }

// LoadZone loads tzid, falling back to UTC for empty or unknown ids.
func LoadZone(tzid string) *time.Location {
	if CanonicalTZ(tzid) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Location returns the point's zone; date-only points are always UTC.
func (p TemporalPoint) Location() *time.Location {
	if p.Kind == DateOnly {
		return time.UTC
	}
	return LoadZone(p.TZID)
}

// Local returns the wall-clock time of the point in its own zone.
func (p TemporalPoint) Local() time.Time {
	return p.Time.In(p.Location())
}

// Next returns the default end for a point used as a start: one day later for
// dates, one hour later for timed points.
func (p TemporalPoint) Next() TemporalPoint {
	if p.Kind == DateOnly {
		return TemporalPoint{Kind: DateOnly, Time: p.Time.AddDate(0, 0, 1)}
	}
	return TemporalPoint{Kind: DateTime, Time: p.Time.Add(time.Hour), TZID: p.TZID}
}

// Equal compares granularity, then the date or the instant plus zone.
func (p TemporalPoint) Equal(q TemporalPoint) bool {
	if p.Kind != q.Kind {
		return false
	}
	if p.Kind == DateOnly {
		return p.Time.Equal(q.Time)
	}
	return p.Time.Equal(q.Time) && CanonicalTZ(p.TZID) == CanonicalTZ(q.TZID)
}

func (p TemporalPoint) String() string {
	if p.Kind == DateOnly {
		return p.Time.Format(time.DateOnly)
	}
	if p.TZID == "" {
		return p.Time.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s[%s]", p.Local().Format(time.RFC3339), p.TZID)
}

// CalendarEvent is the system-agnostic form both sides are normalized into.
type CalendarEvent struct {
	Summary     string
	Description string
	Location    string
	Start       TemporalPoint
	End         TemporalPoint
	Source      Source

	// Ref identifies the event in its own system: the Google event id, or the
	// CalDAV object path with a "#<recurrence>" suffix for expanded occurrences.
	Ref       string
	UID       string
	Recurring bool
}

// Settle coerces End onto Start's granularity and replaces a missing, empty or
// inverted range with the default duration.
func (e *CalendarEvent) Settle() {
	if !e.End.IsZero() && e.End.Kind != e.Start.Kind {
		e.End = coerce(e.End, e.Start)
	}
	if e.End.IsZero() || !e.End.Time.After(e.Start.Time) {
		e.End = e.Start.Next()
	}
}

func coerce(p, like TemporalPoint) TemporalPoint {
	if like.Kind == DateOnly {
		return DateOf(p.Local())
	}
	y, m, d := p.Time.Date()
	return NewDateTime(time.Date(y, m, d, 0, 0, 0, 0, like.Location()), like.TZID)
}

func (e CalendarEvent) String() string {
	return fmt.Sprintf("%q %s..%s", e.Summary, e.Start, e.End)
}
