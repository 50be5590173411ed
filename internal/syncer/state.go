package syncer

import (
	"time"

	"google.golang.org/api/calendar/v3"
)

// State is a step of a sync run. The action states double as action kinds.
type State string

const (
	StateFetchBoth     State = "FETCH_BOTH"
	StateNormalizeBoth State = "NORMALIZE_BOTH"
	StateMatch         State = "MATCH"
	StateCreateInB     State = "CREATE_IN_B"
	StateCreateInA     State = "CREATE_IN_A"
	StateUpdateInA     State = "UPDATE_IN_A"
	StateUpdateInB     State = "UPDATE_IN_B"
	StateSkip          State = "SKIP"
	StateDone          State = "DONE"
)

// Authority says which system wins when a matched pair differs.
type Authority string

const (
	// AuthorityA overwrites B with A's version.
	AuthorityA Authority = "a"
	// AuthorityB overwrites A with B's version.
	AuthorityB Authority = "b"
)

// Action is one decision taken for an event.
type Action struct {
	Kind    State
	Summary string
	// Target is the ref of the object mutated, or created once known.
	Target string
	// Record is the iCalendar text sent to B; Event is the body sent to A.
	Record  []byte
	Event   *calendar.Event
	Changed []string
	DryRun  bool
	Err     error
}

// Report summarizes one run.
type Report struct {
	States    []State
	Actions   []Action
	Skipped   int
	Malformed int
	Started   time.Time
	Duration  time.Duration
}

// Count returns how many actions of kind the run produced.
func (r *Report) Count(kind State) int {
	n := 0
	for _, a := range r.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Mutations counts create and update actions. SKIP decisions are only counted in Skipped.
func (r *Report) Mutations() int {
	return len(r.Actions)
}

// Failed counts actions whose call returned an error.
func (r *Report) Failed() int {
	n := 0
	for _, a := range r.Actions {
		if a.Err != nil {
			n++
		}
	}
	return n
}

// enter records s the first time the run reaches it.
func (r *Report) enter(s State) {
	for _, seen := range r.States {
		if seen == s {
			return
		}
	}
	r.States = append(r.States, s)
}
