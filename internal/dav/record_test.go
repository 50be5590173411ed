package dav

import (
	"errors"
	"strings"
	"testing"
	"time"

	"caldavsync/internal/models"
	"caldavsync/internal/timezone"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func newTestNormalizer() *Normalizer {
	return NewNormalizer(timezone.New(timezone.DefaultTable()), time.UTC)
}

func TestNormalizeDateOnlyWithoutEnd(t *testing.T) {
	events, err := newTestNormalizer().Normalize(record(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:holiday-1",
		"SUMMARY:Holiday",
		"DTSTART;VALUE=DATE:20250815",
		"END:VEVENT",
		"END:VCALENDAR",
	))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "Holiday", ev.Summary)
	assert.Equal(t, models.NewDate(2025, time.August, 15), ev.Start)
	assert.Equal(t, models.NewDate(2025, time.August, 16), ev.End)
	assert.Equal(t, models.SourceB, ev.Source)
	assert.Equal(t, "holiday-1", ev.UID)
}

func TestNormalizeReadsOnlyEventProperties(t *testing.T) {
	events, err := newTestNormalizer().Normalize(record(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"X-WR-CALNAME:Family",
		"DESCRIPTION:calendar level description",
		"BEGIN:VEVENT",
		"UID:e1",
		"SUMMARY:Standup",
		"DTSTART:20250901T090000Z",
		"DTEND:20250901T091500Z",
		"END:VEVENT",
		"END:VCALENDAR",
	))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Description)
	assert.Equal(t, "Standup", events[0].Summary)
}

func TestNormalizeTimeForms(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	tests := []struct {
		name     string
		start    string
		wantTime time.Time
		wantTZ   string
	}{
		{"utc suffix", "DTSTART:20250901T090000Z", time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC), ""},
		{"floating", "DTSTART:20250901T090000", time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC), ""},
		{"iana tzid", "DTSTART;TZID=Europe/London:20250901T090000", time.Date(2025, 9, 1, 9, 0, 0, 0, london), "Europe/London"},
		{"windows tzid", "DTSTART;TZID=GMT Standard Time:20250901T090000", time.Date(2025, 9, 1, 9, 0, 0, 0, london), "Europe/London"},
		{"unknown tzid keeps name", "DTSTART;TZID=Moon Standard Time:20250901T090000", time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC), "Moon Standard Time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := newTestNormalizer().Normalize(record(
				"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN",
				"BEGIN:VEVENT", "UID:x", "SUMMARY:Call", tt.start, "END:VEVENT",
				"END:VCALENDAR",
			))
			require.NoError(t, err)
			require.Len(t, events, 1)
			ev := events[0]
			assert.Equal(t, models.DateTime, ev.Start.Kind)
			assert.True(t, ev.Start.Time.Equal(tt.wantTime), "got %s", ev.Start.Time)
			assert.Equal(t, tt.wantTZ, ev.Start.TZID)
			assert.True(t, ev.End.Time.Equal(tt.wantTime.Add(time.Hour)))
		})
	}
}

func TestNormalizeFloatingUsesConfiguredZone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	n := NewNormalizer(nil, berlin)
	events, err := n.Normalize(record(
		"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN",
		"BEGIN:VEVENT", "UID:x", "SUMMARY:Lunch",
		"DTSTART:20250901T120000", "DTEND:20250901T130000",
		"END:VEVENT", "END:VCALENDAR",
	))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Start.Time.Equal(time.Date(2025, 9, 1, 12, 0, 0, 0, berlin)))
	assert.Equal(t, "Europe/Berlin", events[0].Start.TZID)
}

func TestNormalizeDuration(t *testing.T) {
	events, err := newTestNormalizer().Normalize(record(
		"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN",
		"BEGIN:VEVENT", "UID:x", "SUMMARY:Workshop",
		"DTSTART:20250901T090000Z", "DURATION:PT90M",
		"END:VEVENT", "END:VCALENDAR",
	))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].End.Time.Equal(time.Date(2025, 9, 1, 10, 30, 0, 0, time.UTC)))
}

func TestNormalizeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"missing summary", []string{"DTSTART:20250901T090000Z"}},
		{"blank summary", []string{"SUMMARY: ", "DTSTART:20250901T090000Z"}},
		{"missing dtstart", []string{"SUMMARY:Call"}},
		{"bad dtstart", []string{"SUMMARY:Call", "DTSTART:tomorrow"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN", "BEGIN:VEVENT", "UID:x"}
			lines = append(lines, tt.lines...)
			lines = append(lines, "END:VEVENT", "END:VCALENDAR")
			_, err := newTestNormalizer().Normalize(record(lines...))
			assert.True(t, errors.Is(err, ErrMalformedRecord), "got %v", err)
		})
	}

	_, err := newTestNormalizer().Normalize([]byte("not a calendar"))
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestRenderUTCEventIsBare(t *testing.T) {
	ev := models.CalendarEvent{
		Summary: "Dentist",
		Start:   models.NewDateTime(time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC), ""),
		End:     models.NewDateTime(time.Date(2025, 9, 1, 9, 30, 0, 0, time.UTC), ""),
	}
	out, err := NewRenderer(nil).Render(ev, time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "BEGIN:VCALENDAR")
	assert.Contains(t, text, "BEGIN:VEVENT")
	assert.Contains(t, text, "SUMMARY:Dentist")
	assert.Contains(t, text, "DTSTART:20250901T090000\r\n")
	assert.Contains(t, text, "DTEND:20250901T093000\r\n")
	assert.Contains(t, text, "DTSTAMP:20250831T000000Z")
	assert.NotContains(t, text, "DESCRIPTION")
	assert.NotContains(t, text, "LOCATION")
}

func TestRenderZonedAndDateEvents(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	r := NewRenderer(nil)
	stamp := time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC)

	zoned := models.CalendarEvent{
		Summary:  "Meeting",
		Location: "Room 4",
		Start:    models.NewDateTime(time.Date(2025, 9, 1, 11, 0, 0, 0, madrid), "Europe/Madrid"),
		End:      models.NewDateTime(time.Date(2025, 9, 1, 12, 0, 0, 0, madrid), "Europe/Madrid"),
	}
	out, err := r.Render(zoned, stamp)
	require.NoError(t, err)
	assert.Contains(t, string(out), "DTSTART;TZID=Europe/Madrid:20250901T110000")
	assert.Contains(t, string(out), "LOCATION:Room 4")

	allDay := models.CalendarEvent{
		Summary: "Holiday",
		Start:   models.NewDate(2025, time.August, 15),
		End:     models.NewDate(2025, time.August, 16),
	}
	out, err = r.Render(allDay, stamp)
	require.NoError(t, err)
	assert.Contains(t, string(out), "DTSTART;VALUE=DATE:20250815")
	assert.Contains(t, string(out), "DTEND;VALUE=DATE:20250816")
}

func TestRenderUsesZSuffixForNonUTCFloating(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	ev := models.CalendarEvent{
		Summary: "Dentist",
		Start:   models.NewDateTime(time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC), ""),
		End:     models.NewDateTime(time.Date(2025, 9, 1, 9, 30, 0, 0, time.UTC), ""),
	}
	out, err := NewRenderer(berlin).Render(ev, time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(out), "DTSTART:20250901T090000Z")

	back, err := NewNormalizer(nil, berlin).Normalize(out)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.True(t, back[0].Start.Equal(ev.Start))
}

func TestRenderNormalizeRoundTrip(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	tests := []struct {
		name string
		ev   models.CalendarEvent
	}{
		{"utc timed", models.CalendarEvent{
			Summary:     "Dentist",
			Description: "Bring card, and; commas",
			Start:       models.NewDateTime(time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC), ""),
			End:         models.NewDateTime(time.Date(2025, 9, 1, 9, 30, 0, 0, time.UTC), ""),
		}},
		{"zoned timed", models.CalendarEvent{
			Summary: "Meeting",
			Start:   models.NewDateTime(time.Date(2025, 10, 26, 1, 30, 0, 0, madrid), "Europe/Madrid"),
			End:     models.NewDateTime(time.Date(2025, 10, 26, 4, 0, 0, 0, madrid), "Europe/Madrid"),
		}},
		{"date only", models.CalendarEvent{
			Summary:  "Holiday",
			Location: "Beach",
			Start:    models.NewDate(2025, time.August, 15),
			End:      models.NewDate(2025, time.August, 18),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewRenderer(nil).Render(tt.ev, time.Now())
			require.NoError(t, err)

			back, err := newTestNormalizer().Normalize(out)
			require.NoError(t, err)
			require.Len(t, back, 1)

			got := back[0]
			assert.Equal(t, tt.ev.Summary, got.Summary)
			assert.Equal(t, tt.ev.Description, got.Description)
			assert.Equal(t, tt.ev.Location, got.Location)
			assert.True(t, got.Start.Equal(tt.ev.Start), "start %s != %s", got.Start, tt.ev.Start)
			assert.True(t, got.End.Equal(tt.ev.End), "end %s != %s", got.End, tt.ev.End)
			assert.NotEmpty(t, got.UID)
		})
	}
}

func TestRenderKeepsExistingUID(t *testing.T) {
	ev := models.CalendarEvent{
		Summary: "Call",
		UID:     "abc@google.com",
		Start:   models.NewDate(2025, time.August, 15),
		End:     models.NewDate(2025, time.August, 16),
	}
	out, err := NewRenderer(nil).Render(ev, time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(out), "UID:abc@google.com")
}
