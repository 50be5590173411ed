// Package dav talks to CalDAV servers and converts their iCalendar records.
package dav

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "caldavsync/1.0")
	return t.Transport.RoundTrip(req)
}

// server is the subset of *caldav.Client the Client uses.
type server interface {
	FindCurrentUserPrincipal(ctx context.Context) (string, error)
	FindCalendarHomeSet(ctx context.Context, principal string) (string, error)
	FindCalendars(ctx context.Context, calendarHomeSet string) ([]caldav.Calendar, error)
	QueryCalendar(ctx context.Context, calendar string, query *caldav.CalendarQuery) ([]caldav.CalendarObject, error)
	PutCalendarObject(ctx context.Context, path string, cal *ical.Calendar) (*caldav.CalendarObject, error)
}

// Object is one calendar object fetched from the server.
type Object struct {
	Path     string
	Calendar string
	Data     *ical.Calendar
}

// Client is a client for a CalDAV server. New events go to one target
// calendar; listing covers every event calendar of the account.
type Client struct {
	server     server
	logger     *slog.Logger
	targetPath string
	calendars  []caldav.Calendar
}

// NewClient connects to endpoint, discovers the account's calendars and picks
// calendarName (name or path) as the target for new events. An empty name
// selects the first event calendar.
func NewClient(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string) (*Client, error) {
	transport := &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport, Timeout: 60 * time.Second}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	return newClient(ctx, logger, caldavClient, calendarName)
}

func newClient(ctx context.Context, logger *slog.Logger, srv server, calendarName string) (*Client, error) {
	c := &Client{server: srv, logger: logger}

	logger.Info("Finding CalDAV calendars", "calendarName", calendarName)
	calendars, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}
	c.calendars = calendars

	target, err := pickCalendar(calendars, calendarName)
	if err != nil {
		return nil, err
	}
	c.targetPath = target.Path
	logger.Info("Successfully found CalDAV calendar", "path", target.Path, "count", len(calendars))
	return c, nil
}

// Calendars returns the event calendars found at discovery.
func (c *Client) Calendars() []caldav.Calendar {
	return c.calendars
}

// TargetPath is the collection new events are written to.
func (c *Client) TargetPath() string {
	return c.targetPath
}

// ListEvents returns the objects of every calendar with an event overlapping
// [from, to). A calendar that fails to list is logged and skipped.
func (c *Client) ListEvents(ctx context.Context, from, to time.Time) ([]Object, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: from.UTC(),
				End:   to.UTC(),
			}},
		},
	}

	var objects []Object
	for _, cal := range c.calendars {
		found, err := c.server.QueryCalendar(ctx, cal.Path, query)
		if err != nil {
			c.logger.Error("Could not fetch events for a CalDAV calendar", "calendar", cal.Path, "error", err)
			continue
		}
		for _, obj := range found {
			if obj.Data == nil {
				continue
			}
			objects = append(objects, Object{Path: obj.Path, Calendar: cal.Path, Data: obj.Data})
		}
		c.logger.Debug("Fetched CalDAV calendar", "calendar", cal.Path, "count", len(found))
	}

	c.logger.Info("Successfully fetched events from CalDAV", "count", len(objects), "calendars", len(c.calendars))
	return objects, nil
}

// CreateEvent stores record as a new object in the target calendar and returns its path.
func (c *Client) CreateEvent(ctx context.Context, record []byte) (string, error) {
	cal, uid, err := decodeRecord(record)
	if err != nil {
		return "", err
	}
	objPath := path.Join(c.targetPath, objectName(uid))
	if _, err := c.server.PutCalendarObject(ctx, objPath, cal); err != nil {
		return "", fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}
	c.logger.Debug("Created CalDAV object", "path", objPath)
	return objPath, nil
}

// UpdateEvent replaces the object at objPath with record.
func (c *Client) UpdateEvent(ctx context.Context, objPath string, record []byte) error {
	cal, _, err := decodeRecord(record)
	if err != nil {
		return err
	}
	if _, err := c.server.PutCalendarObject(ctx, objPath, cal); err != nil {
		return fmt.Errorf("failed to update event on CalDAV server: %w", err)
	}
	c.logger.Debug("Updated CalDAV object", "path", objPath)
	return nil
}

func decodeRecord(record []byte) (*ical.Calendar, string, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(record)).Decode()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		uid, _ := child.Props.Text(ical.PropUID)
		if uid == "" {
			return nil, "", fmt.Errorf("%w: record has no UID", ErrMalformedRecord)
		}
		return cal, uid, nil
	}
	return nil, "", fmt.Errorf("%w: record has no VEVENT", ErrMalformedRecord)
}

// discover walks principal, home set and calendar collections.
func (c *Client) discover(ctx context.Context) ([]caldav.Calendar, error) {
	principalPath, err := c.server.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.server.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.server.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendars: %w", err)
	}

	var events []caldav.Calendar
	for _, cal := range calendars {
		if supportsEvents(cal) {
			events = append(events, cal)
		}
	}
	return events, nil
}

func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if strings.EqualFold(comp, ical.CompEvent) {
			return true
		}
	}
	return false
}

func pickCalendar(calendars []caldav.Calendar, name string) (caldav.Calendar, error) {
	if len(calendars) == 0 {
		return caldav.Calendar{}, fmt.Errorf("no event calendars found")
	}
	if name == "" {
		return calendars[0], nil
	}
	for _, cal := range calendars {
		if cal.Name == name || strings.TrimSuffix(cal.Path, "/") == strings.TrimSuffix(name, "/") {
			return cal, nil
		}
	}
	return caldav.Calendar{}, fmt.Errorf("no calendar found with name '%s'", name)
}
