package dav

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"caldavsync/internal/models"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const productID = "-//caldavsync//EN"

// Renderer turns canonical events into iCalendar records.
type Renderer struct {
	floating *time.Location
}

// NewRenderer returns a Renderer. UTC times are written bare (floating) when
// floating is UTC or nil, and with a Z suffix otherwise, so that they read
// back as the same instant.
func NewRenderer(floating *time.Location) *Renderer {
	if floating == nil {
		floating = time.UTC
	}
	return &Renderer{floating: floating}
}

// Render encodes ev as a VCALENDAR holding one VEVENT. stamp becomes DTSTAMP.
func (r *Renderer) Render(ev models.CalendarEvent, stamp time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(r.Calendar(ev, stamp)); err != nil {
		return nil, fmt.Errorf("failed to encode event to iCal format: %w", err)
	}
	return buf.Bytes(), nil
}

// Calendar builds the component tree Render encodes. An event without a UID
// gets a fresh one.
func (r *Renderer) Calendar(ev models.CalendarEvent, stamp time.Time) *ical.Calendar {
	uid := ev.UID
	if uid == "" {
		uid = GenerateUID()
	}

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	ve.Props.SetText(ical.PropSummary, ev.Summary)
	if ev.Description != "" {
		ve.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		ve.Props.SetText(ical.PropLocation, ev.Location)
	}
	ve.Props.Set(r.point(ical.PropDateTimeStart, ev.Start))
	ve.Props.Set(r.point(ical.PropDateTimeEnd, ev.End))

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, ve)
	return cal
}

func (r *Renderer) point(name string, p models.TemporalPoint) *ical.Prop {
	prop := ical.NewProp(name)
	switch {
	case p.IsDateOnly():
		prop.Params[ical.ParamValue] = []string{string(ical.ValueDate)}
		prop.Value = p.Time.Format(dateLayout)
	case p.TZID != "":
		prop.Params[ical.ParamTimezoneID] = []string{p.TZID}
		prop.Value = p.Local().Format(dateTimeLayout)
	case models.CanonicalTZ(r.floating.String()) == "":
		prop.Value = p.Time.UTC().Format(dateTimeLayout)
	default:
		prop.Value = p.Time.UTC().Format(dateTimeLayout) + "Z"
	}
	return prop
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}

// objectName returns the file name used for a new object with the given UID.
func objectName(uid string) string {
	return strings.NewReplacer("/", "-", "\\", "-", " ", "-").Replace(uid) + ".ics"
}
