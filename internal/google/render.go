package google

import (
	"time"

	"caldavsync/internal/models"

	"google.golang.org/api/calendar/v3"
)

// Render converts ev into the API's event shape. Description and location are
// always sent so that a patch can clear them.
func Render(ev models.CalendarEvent) *calendar.Event {
	return &calendar.Event{
		Summary:         ev.Summary,
		Description:     ev.Description,
		Location:        ev.Location,
		Start:           eventDateTime(ev.Start),
		End:             eventDateTime(ev.End),
		ForceSendFields: []string{"Description", "Location"},
	}
}

func eventDateTime(p models.TemporalPoint) *calendar.EventDateTime {
	if p.IsDateOnly() {
		return &calendar.EventDateTime{
			Date:       p.Time.Format(time.DateOnly),
			NullFields: []string{"DateTime", "TimeZone"},
		}
	}
	zone := p.TZID
	if zone == "" {
		zone = "UTC"
	}
	return &calendar.EventDateTime{
		DateTime:   p.Local().Format(time.RFC3339),
		TimeZone:   zone,
		NullFields: []string{"Date"},
	}
}
