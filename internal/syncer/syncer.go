// Package syncer runs the two-way reconciliation between Google Calendar and CalDAV.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"caldavsync/internal/dav"
	"caldavsync/internal/google"
	"caldavsync/internal/links"
	"caldavsync/internal/metrics"
	"caldavsync/internal/models"
	"caldavsync/internal/reconcile"
	"caldavsync/internal/timezone"

	"google.golang.org/api/calendar/v3"
)

// DefaultWindow is how far ahead of the reference time events are reconciled.
const DefaultWindow = 30 * 24 * time.Hour

// SystemA is the Google Calendar side.
type SystemA interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]*calendar.Event, error)
	CreateEvent(ctx context.Context, ev *calendar.Event) (*calendar.Event, error)
	UpdateEvent(ctx context.Context, id string, ev *calendar.Event) (*calendar.Event, error)
}

// SystemB is the CalDAV side.
type SystemB interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]dav.Object, error)
	CreateEvent(ctx context.Context, record []byte) (string, error)
	UpdateEvent(ctx context.Context, path string, record []byte) error
}

// Options configures a Syncer. Zero values select the defaults.
type Options struct {
	DryRun             bool
	Window             time.Duration
	Authority          Authority
	PreferNearestStart bool
	// Now supplies the reference time of each run.
	Now         func() time.Time
	Timezones   *timezone.Resolver
	Floating    *time.Location
	Placeholder string
	Links       links.Store
	Metrics     *metrics.Recorder
}

// Syncer orchestrates the synchronization between the two systems.
type Syncer struct {
	logger *slog.Logger
	a      SystemA
	b      SystemB
	normA  *google.Normalizer
	normB  *dav.Normalizer
	render *dav.Renderer
	opts   Options
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, a SystemA, b SystemB, opts Options) *Syncer {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Authority == "" {
		opts.Authority = AuthorityB
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Floating == nil {
		opts.Floating = time.UTC
	}
	return &Syncer{
		logger: logger,
		a:      a,
		b:      b,
		normA:  google.NewNormalizer(opts.Timezones, opts.Placeholder),
		normB:  dav.NewNormalizer(opts.Timezones, opts.Floating),
		render: dav.NewRenderer(opts.Floating),
		opts:   opts,
	}
}

// Sync performs a full synchronization cycle. The report is returned even
// when the run aborts.
func (s *Syncer) Sync(ctx context.Context) (*Report, error) {
	now := s.opts.Now()
	report := &Report{Started: now}
	began := time.Now()

	s.logger.Info("Starting sync cycle.", "dryRun", s.opts.DryRun, "authority", s.opts.Authority)
	err := s.run(ctx, now, report)

	report.Duration = time.Since(began)
	s.opts.Metrics.ObserveRun(report.Duration, time.Now(), err)
	if err != nil {
		return report, err
	}

	report.enter(StateDone)
	s.logger.Info("Sync cycle finished.",
		"createdInB", report.Count(StateCreateInB),
		"createdInA", report.Count(StateCreateInA),
		"updatedInA", report.Count(StateUpdateInA),
		"updatedInB", report.Count(StateUpdateInB),
		"skipped", report.Skipped,
		"failed", report.Failed(),
		"duration", report.Duration,
	)
	return report, nil
}

func (s *Syncer) run(ctx context.Context, now time.Time, report *Report) error {
	from, to := now, now.Add(s.opts.Window)

	report.enter(StateFetchBoth)
	rawA, err := s.a.ListEvents(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to fetch google events: %w", err)
	}
	rawB, err := s.b.ListEvents(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to fetch caldav events: %w", err)
	}

	report.enter(StateNormalizeBoth)
	eventsA := s.normalizeA(rawA, report)
	eventsB := s.normalizeB(rawB, from, to, report)
	s.logger.Info("Fetched events from both systems.", "google", len(eventsA), "caldav", len(eventsB))

	report.enter(StateMatch)
	opts := reconcile.MatchOptions{PreferNearestStart: s.opts.PreferNearestStart}
	if s.opts.Links != nil {
		opts.Links = s.opts.Links
	}
	matching := reconcile.Match(eventsA, eventsB, opts)
	pairs := make(map[int]reconcile.Pair, len(matching.Pairs))
	for _, p := range matching.Pairs {
		pairs[p.A] = p
	}

	for i, ev := range eventsA {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, ok := pairs[i]
		if !ok {
			s.createInB(ctx, now, ev, report)
			continue
		}
		if !p.Linked {
			s.link(ev.Ref, eventsB[p.B].Ref)
		}
		s.reconcilePair(ctx, now, ev, eventsB[p.B], report)
	}
	for _, j := range matching.UnmatchedB {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.createInA(ctx, eventsB[j], report)
	}

	if s.opts.Links != nil && !s.opts.DryRun {
		if err := s.opts.Links.Save(ctx); err != nil {
			s.logger.Error("Failed to save link state", "error", err)
		}
	}
	return nil
}

func (s *Syncer) normalizeA(items []*calendar.Event, report *Report) []models.CalendarEvent {
	events := make([]models.CalendarEvent, 0, len(items))
	dropped := 0
	for _, item := range items {
		ev, err := s.normA.Normalize(item)
		if err != nil {
			if errors.Is(err, google.ErrCancelled) {
				s.logger.Debug("Skipping cancelled Google event", "id", item.Id)
				continue
			}
			dropped++
			s.logger.Warn("Skipping Google event that could not be normalized", "id", item.Id, "error", err)
			continue
		}
		events = append(events, ev)
	}
	report.Malformed += dropped
	s.opts.Metrics.SetFetched(string(models.SourceA), len(events), dropped)
	return events
}

func (s *Syncer) normalizeB(objects []dav.Object, from, to time.Time, report *Report) []models.CalendarEvent {
	var events []models.CalendarEvent
	dropped := 0
	for _, obj := range objects {
		evs, err := s.normB.Expand(obj.Data, obj.Path, from, to)
		if err != nil {
			dropped++
			s.logger.Warn("Skipping malformed CalDAV record", "path", obj.Path, "error", err)
			continue
		}
		events = append(events, evs...)
	}
	report.Malformed += dropped
	s.opts.Metrics.SetFetched(string(models.SourceB), len(events), dropped)
	return events
}

// reconcilePair overwrites the non-authoritative side when the pair differs.
func (s *Syncer) reconcilePair(ctx context.Context, now time.Time, a, b models.CalendarEvent, report *Report) {
	if s.opts.Authority == AuthorityA {
		changed := reconcile.Diff(b, a)
		if len(changed) == 0 {
			s.skip(a, "Event already in sync, skipping.", report)
			return
		}
		if b.Recurring {
			s.skip(a, "Event differs from a recurring CalDAV occurrence, not overwriting the series.", report)
			return
		}
		s.updateInB(ctx, now, a, b, changed, report)
		return
	}

	changed := reconcile.Diff(a, b)
	if len(changed) == 0 {
		s.skip(a, "Event already in sync, skipping.", report)
		return
	}
	s.updateInA(ctx, a, b, changed, report)
}

func (s *Syncer) skip(ev models.CalendarEvent, msg string, report *Report) {
	report.enter(StateSkip)
	report.Skipped++
	s.logger.Debug(msg, "title", ev.Summary, "id", ev.Ref)
	s.opts.Metrics.RecordAction(string(StateSkip), "skipped")
}

func (s *Syncer) createInB(ctx context.Context, now time.Time, ev models.CalendarEvent, report *Report) {
	action := Action{Kind: StateCreateInB, Summary: ev.Summary, DryRun: s.opts.DryRun}
	defer func() { s.finish(&action, report) }()

	record, err := s.render.Render(ev, now)
	if err != nil {
		action.Err = err
		return
	}
	action.Record = record

	if s.opts.DryRun {
		s.logger.Info("[DRY RUN] Would create new event in CalDAV", "title", ev.Summary, "start", ev.Start)
		return
	}
	path, err := s.b.CreateEvent(ctx, record)
	if err != nil {
		action.Err = fmt.Errorf("failed to create event in caldav: %w", err)
		return
	}
	action.Target = path
	s.link(ev.Ref, path)
	s.logger.Info("New event found, created in CalDAV.", "title", ev.Summary, "path", path)
}

func (s *Syncer) createInA(ctx context.Context, ev models.CalendarEvent, report *Report) {
	body := google.Render(ev)
	action := Action{Kind: StateCreateInA, Summary: ev.Summary, Event: body, DryRun: s.opts.DryRun}
	defer func() { s.finish(&action, report) }()

	if s.opts.DryRun {
		s.logger.Info("[DRY RUN] Would create new event in Google Calendar", "title", ev.Summary, "start", ev.Start)
		return
	}
	created, err := s.a.CreateEvent(ctx, body)
	if err != nil {
		action.Err = fmt.Errorf("failed to create event in google: %w", err)
		return
	}
	action.Target = created.Id
	s.link(created.Id, ev.Ref)
	s.logger.Info("New event found, created in Google Calendar.", "title", ev.Summary, "id", created.Id)
}

func (s *Syncer) updateInA(ctx context.Context, a, b models.CalendarEvent, changed []string, report *Report) {
	body := google.Render(b)
	action := Action{Kind: StateUpdateInA, Summary: b.Summary, Target: a.Ref, Event: body, Changed: changed, DryRun: s.opts.DryRun}
	defer func() { s.finish(&action, report) }()

	if s.opts.DryRun {
		s.logger.Info("[DRY RUN] Would update event in Google Calendar", "title", b.Summary, "id", a.Ref, "changed", changed)
		return
	}
	if _, err := s.a.UpdateEvent(ctx, a.Ref, body); err != nil {
		action.Err = fmt.Errorf("failed to update event in google: %w", err)
		return
	}
	s.logger.Info("Updated event in Google Calendar.", "title", b.Summary, "id", a.Ref, "changed", changed)
}

func (s *Syncer) updateInB(ctx context.Context, now time.Time, a, b models.CalendarEvent, changed []string, report *Report) {
	action := Action{Kind: StateUpdateInB, Summary: a.Summary, Target: b.Ref, Changed: changed, DryRun: s.opts.DryRun}
	defer func() { s.finish(&action, report) }()

	incoming := a
	incoming.UID = b.UID
	record, err := s.render.Render(incoming, now)
	if err != nil {
		action.Err = err
		return
	}
	action.Record = record

	if s.opts.DryRun {
		s.logger.Info("[DRY RUN] Would update event in CalDAV", "title", a.Summary, "path", b.Ref, "changed", changed)
		return
	}
	if err := s.b.UpdateEvent(ctx, b.Ref, record); err != nil {
		action.Err = fmt.Errorf("failed to update event in caldav: %w", err)
		return
	}
	s.logger.Info("Updated event in CalDAV.", "title", a.Summary, "path", b.Ref, "changed", changed)
}

// finish records a decided action. Failures are logged and the run moves on.
func (s *Syncer) finish(action *Action, report *Report) {
	report.enter(action.Kind)
	report.Actions = append(report.Actions, *action)

	outcome := "applied"
	switch {
	case action.Err != nil:
		outcome = "failed"
		s.logger.Error("Failed to sync event", "title", action.Summary, "action", action.Kind, "error", action.Err)
	case action.DryRun:
		outcome = "dry_run"
	}
	s.opts.Metrics.RecordAction(string(action.Kind), outcome)
}

func (s *Syncer) link(aRef, bRef string) {
	if s.opts.Links == nil || s.opts.DryRun {
		return
	}
	s.opts.Links.Put(aRef, bRef)
}
