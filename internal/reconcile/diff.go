package reconcile

import "caldavsync/internal/models"

// Diff lists the fields in which incoming differs from existing.
func Diff(existing, incoming models.CalendarEvent) []string {
	var changed []string
	if existing.Summary != incoming.Summary {
		changed = append(changed, "summary")
	}
	if existing.Description != incoming.Description {
		changed = append(changed, "description")
	}
	if existing.Location != incoming.Location {
		changed = append(changed, "location")
	}
	if !existing.Start.Equal(incoming.Start) {
		changed = append(changed, "start")
	}
	if !existing.End.Equal(incoming.End) {
		changed = append(changed, "end")
	}
	return changed
}

// NeedsUpdate reports whether existing must be overwritten with incoming. A
// granularity mismatch always counts as a difference.
func NeedsUpdate(existing, incoming models.CalendarEvent) bool {
	return len(Diff(existing, incoming)) > 0
}
