package risk

import "arbd/pkg/types"

const (
	// staleStreakToDown is how many consecutive stale-feed rejections
	// flag a venue down, per seed scenario S4.
	staleStreakToDown = 3
	// hedgeOutcomeWindow bounds how many recent hedge outcomes feed the
	// per-venue success-rate estimate.
	hedgeOutcomeWindow = 50
)

// venueState tracks health and recent hedge-success history for one
// venue. Not safe for concurrent use on its own; callers hold
// Controller.mu.
type venueState struct {
	down        bool
	staleStreak int

	outcomes    []bool // ring of recent hedge outcomes; once full, outcomeHead indexes the oldest
	outcomeHead int
}

func newVenueState() *venueState {
	return &venueState{}
}

// recordFreshness updates the stale streak and down flag from one
// freshness observation.
func (v *venueState) recordFreshness(fresh bool) {
	if fresh {
		v.staleStreak = 0
		return
	}
	v.staleStreak++
	if v.staleStreak >= staleStreakToDown {
		v.down = true
	}
}

// markHealthy clears the down flag, e.g. once an operator resumes the venue.
func (v *venueState) markHealthy() {
	v.down = false
	v.staleStreak = 0
}

// markDown forces the down flag, e.g. an operator halt or a LegRisk
// escalation. staleStreak is left alone since the venue may already be
// accumulating one independently.
func (v *venueState) markDown() {
	v.down = true
}

// recordHedgeOutcome appends a hedge result (true for a settled hedge,
// false for an unwound or failed one) to the rolling success window.
func (v *venueState) recordHedgeOutcome(success bool) {
	if len(v.outcomes) < hedgeOutcomeWindow {
		v.outcomes = append(v.outcomes, success)
		return
	}
	v.outcomes[v.outcomeHead] = success
	v.outcomeHead = (v.outcomeHead + 1) % hedgeOutcomeWindow
}

// successRate returns the observed hedge success rate over the current
// window. With no observations yet, it optimistically returns 1.0 so a
// freshly started daemon isn't blocked from its first trade by predicate 8.
func (v *venueState) successRate() float64 {
	if len(v.outcomes) == 0 {
		return 1.0
	}
	successes := 0
	for _, ok := range v.outcomes {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(v.outcomes))
}

// healthByVenue is a convenience map type used by Controller.
type healthByVenue map[types.Venue]*venueState

func (h healthByVenue) get(venue types.Venue) *venueState {
	v, ok := h[venue]
	if !ok {
		v = newVenueState()
		h[venue] = v
	}
	return v
}
