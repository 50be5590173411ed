package dav

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"caldavsync/internal/models"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

const maxOccurrencesPerEvent = 1000

// Expand normalizes every VEVENT of cal stored at ref. Recurring masters are
// expanded into the occurrences overlapping [from, to); RECURRENCE-ID
// overrides replace the occurrence they name. Occurrence refs have the form
// "<ref>#<recurrence id>".
func (n *Normalizer) Expand(cal *ical.Calendar, ref string, from, to time.Time) ([]models.CalendarEvent, error) {
	if to.Before(from) {
		return nil, errors.New("expand: window end is before window start")
	}

	var masters []*ical.Component
	overrides := make(map[string]models.CalendarEvent)
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		rid := child.Props.Get(ical.PropRecurrenceID)
		if rid == nil {
			masters = append(masters, child)
			continue
		}
		ev, err := n.Event(child)
		if err != nil {
			return nil, err
		}
		p, err := n.point(rid)
		if err != nil {
			return nil, fmt.Errorf("%w: bad RECURRENCE-ID: %v", ErrMalformedRecord, err)
		}
		overrides[recurrenceKey(p)] = ev
	}

	var out []models.CalendarEvent
	for _, comp := range masters {
		ev, err := n.Event(comp)
		if err != nil {
			return nil, err
		}
		rule := comp.Props.Get(ical.PropRecurrenceRule)
		if rule == nil {
			ev.Ref = ref
			out = append(out, ev)
			continue
		}
		occ, err := n.occurrences(comp, ev, rule.Value, ref, overrides, from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, occ...)
	}
	return out, nil
}

func (n *Normalizer) occurrences(comp *ical.Component, base models.CalendarEvent, raw, ref string, overrides map[string]models.CalendarEvent, from, to time.Time) ([]models.CalendarEvent, error) {
	r, err := rrule.StrToRRule(strings.TrimPrefix(raw, "RRULE:"))
	if err != nil {
		return nil, fmt.Errorf("%w: bad RRULE %q: %v", ErrMalformedRecord, raw, err)
	}
	r.DTStart(base.Start.Local())

	var set rrule.Set
	set.RRule(r)
	for _, ex := range n.exceptionDates(comp) {
		set.ExDate(ex.Time.In(base.Start.Location()))
	}

	dur := base.End.Time.Sub(base.Start.Time)
	// Occurrences already in progress at from still belong to the window.
	times := set.Between(from.Add(-dur), to, false)
	if len(times) > maxOccurrencesPerEvent {
		times = times[:maxOccurrencesPerEvent]
	}

	out := make([]models.CalendarEvent, 0, len(times))
	for _, t := range times {
		if !t.Before(to) {
			continue
		}
		start := models.NewDateTime(t, base.Start.TZID)
		if base.Start.IsDateOnly() {
			start = models.DateOf(t)
		}
		key := recurrenceKey(start)

		ev, ok := overrides[key]
		if !ok {
			ev = base
			ev.Start = start
			ev.End = start
			ev.End.Time = start.Time.Add(dur)
		}
		ev.Ref = ref + "#" + key
		ev.Recurring = true
		out = append(out, ev)
	}
	return out, nil
}

func (n *Normalizer) exceptionDates(comp *ical.Component) []models.TemporalPoint {
	var out []models.TemporalPoint
	for _, prop := range comp.Props[ical.PropExceptionDates] {
		for _, v := range strings.Split(prop.Value, ",") {
			single := prop
			single.Value = v
			if p, err := n.point(&single); err == nil {
				out = append(out, p)
			}
		}
	}
	return out
}

func recurrenceKey(p models.TemporalPoint) string {
	if p.IsDateOnly() {
		return p.Time.Format(dateLayout)
	}
	return p.Time.UTC().Format(dateTimeLayout) + "Z"
}
