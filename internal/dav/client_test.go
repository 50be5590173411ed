package dav

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	calendars []caldav.Calendar
	objects   map[string][]caldav.CalendarObject
	failing   map[string]bool
	puts      map[string]*ical.Calendar
	queries   []*caldav.CalendarQuery
}

func (f *fakeServer) FindCurrentUserPrincipal(ctx context.Context) (string, error) {
	return "/principals/alice/", nil
}

func (f *fakeServer) FindCalendarHomeSet(ctx context.Context, principal string) (string, error) {
	return "/calendars/alice/", nil
}

func (f *fakeServer) FindCalendars(ctx context.Context, homeSet string) ([]caldav.Calendar, error) {
	return f.calendars, nil
}

func (f *fakeServer) QueryCalendar(ctx context.Context, calendar string, query *caldav.CalendarQuery) ([]caldav.CalendarObject, error) {
	f.queries = append(f.queries, query)
	if f.failing[calendar] {
		return nil, errors.New("503 service unavailable")
	}
	return f.objects[calendar], nil
}

func (f *fakeServer) PutCalendarObject(ctx context.Context, path string, cal *ical.Calendar) (*caldav.CalendarObject, error) {
	if f.puts == nil {
		f.puts = make(map[string]*ical.Calendar)
	}
	f.puts[path] = cal
	return &caldav.CalendarObject{Path: path, Data: cal}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClientPicksCalendar(t *testing.T) {
	srv := &fakeServer{calendars: []caldav.Calendar{
		{Path: "/calendars/alice/tasks/", Name: "Tasks", SupportedComponentSet: []string{"VTODO"}},
		{Path: "/calendars/alice/personal/", Name: "Personal", SupportedComponentSet: []string{"VEVENT"}},
		{Path: "/calendars/alice/work/", Name: "Work"},
	}}

	c, err := newClient(context.Background(), discardLogger(), srv, "Work")
	require.NoError(t, err)
	assert.Equal(t, "/calendars/alice/work/", c.TargetPath())
	assert.Len(t, c.Calendars(), 2)

	c, err = newClient(context.Background(), discardLogger(), srv, "")
	require.NoError(t, err)
	assert.Equal(t, "/calendars/alice/personal/", c.TargetPath())

	_, err = newClient(context.Background(), discardLogger(), srv, "Missing")
	assert.Error(t, err)
}

func TestListEventsSkipsFailingCalendar(t *testing.T) {
	event := decode(t, record(
		"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN",
		"BEGIN:VEVENT", "UID:x", "SUMMARY:Dentist", "DTSTAMP:20250801T000000Z",
		"DTSTART:20250901T090000Z", "DTEND:20250901T093000Z",
		"END:VEVENT", "END:VCALENDAR",
	))
	srv := &fakeServer{
		calendars: []caldav.Calendar{
			{Path: "/cal/broken/", Name: "Broken"},
			{Path: "/cal/home/", Name: "Home"},
		},
		failing: map[string]bool{"/cal/broken/": true},
		objects: map[string][]caldav.CalendarObject{
			"/cal/home/": {{Path: "/cal/home/x.ics", Data: event}},
		},
	}
	c, err := newClient(context.Background(), discardLogger(), srv, "Home")
	require.NoError(t, err)

	from := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	objects, err := c.ListEvents(context.Background(), from, from.AddDate(0, 0, 30))
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "/cal/home/x.ics", objects[0].Path)
	assert.Equal(t, "/cal/home/", objects[0].Calendar)

	require.Len(t, srv.queries, 2)
	filter := srv.queries[1].CompFilter.Comps[0]
	assert.Equal(t, ical.CompEvent, filter.Name)
	assert.True(t, filter.Start.Equal(from))
}

func TestCreateAndUpdateEvent(t *testing.T) {
	srv := &fakeServer{calendars: []caldav.Calendar{{Path: "/cal/home/", Name: "Home"}}}
	c, err := newClient(context.Background(), discardLogger(), srv, "Home")
	require.NoError(t, err)

	data := record(
		"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN",
		"BEGIN:VEVENT", "UID:abc-123", "SUMMARY:Dentist", "DTSTAMP:20250801T000000Z",
		"DTSTART:20250901T090000Z", "DTEND:20250901T093000Z",
		"END:VEVENT", "END:VCALENDAR",
	)
	objPath, err := c.CreateEvent(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "/cal/home/abc-123.ics", objPath)
	require.Contains(t, srv.puts, objPath)

	require.NoError(t, c.UpdateEvent(context.Background(), "/cal/home/other.ics", data))
	assert.Contains(t, srv.puts, "/cal/home/other.ics")

	_, err = c.CreateEvent(context.Background(), []byte("garbage"))
	assert.ErrorIs(t, err, ErrMalformedRecord)
}
