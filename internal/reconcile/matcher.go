// Package reconcile pairs events across the two systems and decides whether a pair differs.
package reconcile

import (
	"time"

	"caldavsync/internal/models"
)

// LinkLookup resolves a remembered A ref to its B ref.
type LinkLookup interface {
	Lookup(aRef string) (bRef string, ok bool)
}

// MatchOptions tunes Match. The zero value matches on summary alone.
type MatchOptions struct {
	Links LinkLookup
	// PreferNearestStart picks, among same-summary candidates, the one whose
	// start is closest to the A event instead of the first one listed.
	PreferNearestStart bool
}

// Pair holds indexes into the A and B slices given to Match.
type Pair struct {
	A, B   int
	Linked bool
}

// Matching is the result of Match. Unmatched lists keep input order.
type Matching struct {
	Pairs      []Pair
	UnmatchedA []int
	UnmatchedB []int
}

// PairOf returns the pair holding A index i.
func (m Matching) PairOf(i int) (Pair, bool) {
	for _, p := range m.Pairs {
		if p.A == i {
			return p, true
		}
	}
	return Pair{}, false
}

// Match pairs events one to one. Linked refs are honoured first; the rest
// pair on exact summary, each A event in order taking the first unclaimed B
// event with the same summary.
func Match(a, b []models.CalendarEvent, opts MatchOptions) Matching {
	claimedA := make([]bool, len(a))
	claimedB := make([]bool, len(b))
	pairs := make(map[int]Pair)

	if opts.Links != nil {
		byRef := make(map[string]int, len(b))
		for j, ev := range b {
			if ev.Ref != "" {
				byRef[ev.Ref] = j
			}
		}
		for i, ev := range a {
			bRef, ok := opts.Links.Lookup(ev.Ref)
			if !ok {
				continue
			}
			j, ok := byRef[bRef]
			if !ok || claimedB[j] {
				continue
			}
			claimedA[i], claimedB[j] = true, true
			pairs[i] = Pair{A: i, B: j, Linked: true}
		}
	}

	bySummary := make(map[string][]int)
	for j, ev := range b {
		if !claimedB[j] {
			bySummary[ev.Summary] = append(bySummary[ev.Summary], j)
		}
	}

	for i, ev := range a {
		if claimedA[i] {
			continue
		}
		j := pick(ev, bySummary[ev.Summary], claimedB, b, opts.PreferNearestStart)
		if j < 0 {
			continue
		}
		claimedA[i], claimedB[j] = true, true
		pairs[i] = Pair{A: i, B: j}
	}

	var m Matching
	for i := range a {
		if p, ok := pairs[i]; ok {
			m.Pairs = append(m.Pairs, p)
		} else {
			m.UnmatchedA = append(m.UnmatchedA, i)
		}
	}
	for j := range b {
		if !claimedB[j] {
			m.UnmatchedB = append(m.UnmatchedB, j)
		}
	}
	return m
}

func pick(ev models.CalendarEvent, candidates []int, claimed []bool, b []models.CalendarEvent, nearest bool) int {
	best := -1
	var bestGap time.Duration
	for _, j := range candidates {
		if claimed[j] {
			continue
		}
		if !nearest {
			return j
		}
		gap := ev.Start.Time.Sub(b[j].Start.Time).Abs()
		if best < 0 || gap < bestGap {
			best, bestGap = j, gap
		}
	}
	return best
}
