package dav

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"caldavsync/internal/models"
	"caldavsync/internal/timezone"

	"github.com/emersion/go-ical"
)

const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405"
)

// ErrMalformedRecord is returned for records that cannot be turned into an event.
var ErrMalformedRecord = errors.New("malformed calendar record")

// Normalizer converts iCalendar records into canonical events.
type Normalizer struct {
	resolver *timezone.Resolver
	floating *time.Location
}

// NewNormalizer returns a Normalizer that resolves TZIDs through resolver and
// reads floating times in floating (UTC when nil).
func NewNormalizer(resolver *timezone.Resolver, floating *time.Location) *Normalizer {
	if floating == nil {
		floating = time.UTC
	}
	return &Normalizer{resolver: resolver, floating: floating}
}

// Normalize decodes a text record and returns one event per VEVENT. Recurrence
// rules are not expanded; see Expand.
func (n *Normalizer) Normalize(text []byte) ([]models.CalendarEvent, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(text)).Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return n.NormalizeCalendar(cal)
}

// NormalizeCalendar returns one event per VEVENT of cal that is not a recurrence override.
func (n *Normalizer) NormalizeCalendar(cal *ical.Calendar) ([]models.CalendarEvent, error) {
	var events []models.CalendarEvent
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent || child.Props.Get(ical.PropRecurrenceID) != nil {
			continue
		}
		ev, err := n.Event(child)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Event normalizes a single VEVENT component. Only the component's own
// properties are read.
func (n *Normalizer) Event(comp *ical.Component) (models.CalendarEvent, error) {
	summary, err := comp.Props.Text(ical.PropSummary)
	if err != nil {
		return models.CalendarEvent{}, fmt.Errorf("%w: bad SUMMARY: %v", ErrMalformedRecord, err)
	}
	if strings.TrimSpace(summary) == "" {
		return models.CalendarEvent{}, fmt.Errorf("%w: missing SUMMARY", ErrMalformedRecord)
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return models.CalendarEvent{}, fmt.Errorf("%w: %q has no DTSTART", ErrMalformedRecord, summary)
	}
	start, err := n.point(startProp)
	if err != nil {
		return models.CalendarEvent{}, fmt.Errorf("%w: %q: %v", ErrMalformedRecord, summary, err)
	}

	ev := models.CalendarEvent{
		Summary: summary,
		Start:   start,
		Source:  models.SourceB,
	}
	ev.Description, _ = comp.Props.Text(ical.PropDescription)
	ev.Location, _ = comp.Props.Text(ical.PropLocation)
	ev.UID, _ = comp.Props.Text(ical.PropUID)

	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		// An unreadable DTEND is treated like a missing one.
		if end, err := n.point(endProp); err == nil {
			ev.End = end
		}
	} else if durProp := comp.Props.Get(ical.PropDuration); durProp != nil {
		if d, err := durProp.Duration(); err == nil {
			ev.End = start
			ev.End.Time = start.Time.Add(d)
		}
	}

	ev.Settle()
	return ev, nil
}

// point reads a DTSTART/DTEND style property. VALUE=DATE marks a date, TZID a
// zoned local time; otherwise a trailing Z means UTC and a bare value is floating.
func (n *Normalizer) point(prop *ical.Prop) (models.TemporalPoint, error) {
	value := strings.TrimSpace(prop.Value)

	if strings.EqualFold(prop.Params.Get(ical.ParamValue), string(ical.ValueDate)) {
		t, err := time.Parse(dateLayout, value)
		if err != nil {
			return models.TemporalPoint{}, fmt.Errorf("invalid date %q: %w", value, err)
		}
		return models.DateOf(t), nil
	}

	if tzid := strings.Trim(prop.Params.Get(ical.ParamTimezoneID), `"`); tzid != "" {
		zone := models.CanonicalTZ(n.resolver.Resolve(tzid))
		loc := models.LoadZone(zone)
		t, err := time.ParseInLocation(dateTimeLayout, strings.TrimSuffix(value, "Z"), loc)
		if err != nil {
			return models.TemporalPoint{}, fmt.Errorf("invalid date-time %q: %w", value, err)
		}
		return models.NewDateTime(t, zone), nil
	}

	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse(dateTimeLayout, strings.TrimSuffix(value, "Z"))
		if err != nil {
			return models.TemporalPoint{}, fmt.Errorf("invalid date-time %q: %w", value, err)
		}
		return models.NewDateTime(t, ""), nil
	}

	t, err := time.ParseInLocation(dateTimeLayout, value, n.floating)
	if err != nil {
		// Some servers drop VALUE=DATE on all-day events.
		if d, derr := time.Parse(dateLayout, value); derr == nil {
			return models.DateOf(d), nil
		}
		return models.TemporalPoint{}, fmt.Errorf("invalid date-time %q: %w", value, err)
	}
	return models.NewDateTime(t, n.floating.String()), nil
}
