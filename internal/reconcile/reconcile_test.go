package reconcile

import (
	"testing"
	"time"

	"caldavsync/internal/models"

	"github.com/stretchr/testify/assert"
)

func timed(summary string, hour int) models.CalendarEvent {
	start := models.NewDateTime(time.Date(2025, 9, 1, hour, 0, 0, 0, time.UTC), "")
	return models.CalendarEvent{Summary: summary, Start: start, End: start.Next()}
}

func withRef(ev models.CalendarEvent, ref string) models.CalendarEvent {
	ev.Ref = ref
	return ev
}

func TestMatchStandupRegardlessOfOrder(t *testing.T) {
	a := []models.CalendarEvent{timed("Lunch", 12), timed("Standup", 9)}
	b := []models.CalendarEvent{timed("Standup", 9), timed("Review", 15)}

	m := Match(a, b, MatchOptions{})
	assert.Equal(t, []Pair{{A: 1, B: 0}}, m.Pairs)
	assert.Equal(t, []int{0}, m.UnmatchedA)
	assert.Equal(t, []int{1}, m.UnmatchedB)

	// Reversed list order gives the same correspondence.
	m = Match([]models.CalendarEvent{a[1], a[0]}, []models.CalendarEvent{b[1], b[0]}, MatchOptions{})
	assert.Equal(t, []Pair{{A: 0, B: 1}}, m.Pairs)
}

func TestMatchDuplicatesPairOneToOne(t *testing.T) {
	a := []models.CalendarEvent{timed("Standup", 9), timed("Standup", 10)}
	b := []models.CalendarEvent{timed("Standup", 10), timed("Standup", 9), timed("Standup", 11)}

	m := Match(a, b, MatchOptions{})
	assert.Equal(t, []Pair{{A: 0, B: 0}, {A: 1, B: 1}}, m.Pairs)
	assert.Equal(t, []int{2}, m.UnmatchedB)

	m = Match(a, b, MatchOptions{PreferNearestStart: true})
	assert.Equal(t, []Pair{{A: 0, B: 1}, {A: 1, B: 0}}, m.Pairs)
}

func TestMatchIsExactOnSummary(t *testing.T) {
	m := Match([]models.CalendarEvent{timed("standup", 9)}, []models.CalendarEvent{timed("Standup", 9)}, MatchOptions{})
	assert.Empty(t, m.Pairs)
	assert.Equal(t, []int{0}, m.UnmatchedA)
	assert.Equal(t, []int{0}, m.UnmatchedB)
}

type staticLinks map[string]string

func (s staticLinks) Lookup(aRef string) (string, bool) {
	b, ok := s[aRef]
	return b, ok
}

func TestMatchLinksTakePrecedence(t *testing.T) {
	a := []models.CalendarEvent{withRef(timed("Standup", 9), "g1"), withRef(timed("Renamed", 10), "g2")}
	b := []models.CalendarEvent{withRef(timed("Standup", 9), "/c/1.ics"), withRef(timed("Old name", 10), "/c/2.ics")}

	m := Match(a, b, MatchOptions{Links: staticLinks{"g2": "/c/2.ics", "g9": "/c/gone.ics"}})
	assert.Equal(t, []Pair{{A: 0, B: 0}, {A: 1, B: 1, Linked: true}}, m.Pairs)
	assert.Empty(t, m.UnmatchedA)
	assert.Empty(t, m.UnmatchedB)

	p, ok := m.PairOf(1)
	assert.True(t, ok)
	assert.True(t, p.Linked)
}

func TestNeedsUpdate(t *testing.T) {
	base := timed("Dentist", 9)
	assert.False(t, NeedsUpdate(base, base))

	moved := base
	moved.Location = "Clinic"
	assert.True(t, NeedsUpdate(base, moved))
	assert.Equal(t, []string{"location"}, Diff(base, moved))

	zoned := base
	zoned.Start = models.NewDateTime(base.Start.Time, "Europe/London")
	assert.Equal(t, []string{"start"}, Diff(base, zoned))

	allDay := base
	allDay.Start = models.DateOf(base.Start.Time)
	allDay.End = allDay.Start.Next()
	assert.Equal(t, []string{"start", "end"}, Diff(base, allDay))
}
