// Package google reads and writes events through the Google Calendar API.
package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// CalendarClient provides a client for one Google calendar.
type CalendarClient struct {
	service    *calendar.Service
	calendarID string
	logger     *slog.Logger
}

// NewClient creates a client for calendarID over an authenticated HTTP client.
func NewClient(ctx context.Context, logger *slog.Logger, httpClient *http.Client, calendarID string, opts ...option.ClientOption) (*CalendarClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{service: service, calendarID: calendarID, logger: logger}, nil
}

// ListEvents fetches the single (expanded) events overlapping [from, to).
func (c *CalendarClient) ListEvents(ctx context.Context, from, to time.Time) ([]*calendar.Event, error) {
	c.logger.Debug("Fetching events", "calendarID", c.calendarID, "from", from, "to", to)

	var items []*calendar.Event
	err := c.service.Events.List(c.calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(from.UTC().Format(time.RFC3339)).
		TimeMax(to.UTC().Format(time.RFC3339)).
		OrderBy("startTime").
		Pages(ctx, func(page *calendar.Events) error {
			items = append(items, page.Items...)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	c.logger.Info("Successfully fetched events from Google Calendar", "count", len(items), "calendarID", c.calendarID)
	return items, nil
}

// CreateEvent inserts ev without notifying attendees.
func (c *CalendarClient) CreateEvent(ctx context.Context, ev *calendar.Event) (*calendar.Event, error) {
	created, err := c.service.Events.Insert(c.calendarID, ev).SendUpdates("none").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return created, nil
}

// UpdateEvent patches the fields carried by ev onto the event with the given id.
func (c *CalendarClient) UpdateEvent(ctx context.Context, id string, ev *calendar.Event) (*calendar.Event, error) {
	updated, err := c.service.Events.Patch(c.calendarID, id, ev).SendUpdates("none").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to update event %s: %w", id, err)
	}
	return updated, nil
}

// Calendars lists the calendars of the authenticated account.
func (c *CalendarClient) Calendars(ctx context.Context) ([]*calendar.CalendarListEntry, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	return list.Items, nil
}
