package google

import (
	"errors"
	"fmt"
	"time"

	"caldavsync/internal/models"
	"caldavsync/internal/timezone"

	"google.golang.org/api/calendar/v3"
)

// DefaultPlaceholder is the summary given to events that have none.
const DefaultPlaceholder = "No Title"

var (
	// ErrNoStart is returned for events without a usable start.
	ErrNoStart = errors.New("event has no start")
	// ErrCancelled is returned for cancelled instances.
	ErrCancelled = errors.New("event is cancelled")
)

// Normalizer converts Calendar API events into canonical events.
type Normalizer struct {
	resolver    *timezone.Resolver
	placeholder string
}

// NewNormalizer returns a Normalizer. An empty placeholder uses DefaultPlaceholder.
func NewNormalizer(resolver *timezone.Resolver, placeholder string) *Normalizer {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	return &Normalizer{resolver: resolver, placeholder: placeholder}
}

// Normalize converts item. Timed fields win over date fields.
func (n *Normalizer) Normalize(item *calendar.Event) (models.CalendarEvent, error) {
	if item.Status == "cancelled" {
		return models.CalendarEvent{}, ErrCancelled
	}

	start, err := n.point(item.Start)
	if err != nil {
		return models.CalendarEvent{}, fmt.Errorf("event %s: %w", item.Id, err)
	}

	ev := models.CalendarEvent{
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Start:       start,
		Source:      models.SourceA,
		Ref:         item.Id,
		Recurring:   item.RecurringEventId != "",
	}
	// Instances of one series share the series UID.
	if !ev.Recurring {
		ev.UID = item.ICalUID
	}
	if ev.Summary == "" {
		ev.Summary = n.placeholder
	}
	if end, err := n.point(item.End); err == nil {
		ev.End = end
	}

	ev.Settle()
	return ev, nil
}

func (n *Normalizer) point(edt *calendar.EventDateTime) (models.TemporalPoint, error) {
	if edt == nil {
		return models.TemporalPoint{}, ErrNoStart
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return models.TemporalPoint{}, fmt.Errorf("invalid dateTime %q: %w", edt.DateTime, err)
		}
		return models.NewDateTime(t, n.resolver.Resolve(edt.TimeZone)), nil
	}
	if edt.Date != "" {
		t, err := time.Parse(time.DateOnly, edt.Date)
		if err != nil {
			return models.TemporalPoint{}, fmt.Errorf("invalid date %q: %w", edt.Date, err)
		}
		return models.DateOf(t), nil
	}
	return models.TemporalPoint{}, ErrNoStart
}
