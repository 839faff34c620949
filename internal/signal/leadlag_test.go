package signal

import (
	"testing"
	"time"

	"arbd/internal/market"
	"arbd/pkg/types"
)

func barsFromMids(mids []string) []market.Bar {
	out := make([]market.Bar, len(mids))
	base := time.Now()
	for i, m := range mids {
		out[i] = market.Bar{
			Open:  base.Add(time.Duration(i) * time.Second),
			Close: base.Add(time.Duration(i+1) * time.Second),
			Mid:   dec(m),
		}
	}
	return out
}

// TestLeadLagDetectsALeadingB feeds A a sine-like wiggle and B the same
// wiggle delayed by 2 bars; after enough stable evaluations the tracker
// should settle on LeaderA.
func TestLeadLagDetectsALeadingB(t *testing.T) {
	t.Parallel()

	series := []string{"0.50", "0.52", "0.54", "0.52", "0.50", "0.48", "0.46", "0.48", "0.50", "0.52", "0.54", "0.52"}
	lag := 2

	aMids := series
	bMids := make([]string, len(series))
	for i := range bMids {
		src := i - lag
		if src < 0 {
			src = 0
		}
		bMids[i] = series[src]
	}

	barsA := barsFromMids(aMids)
	barsB := barsFromMids(bMids)

	tr := NewLeadLagTracker(len(series), 4)

	var leader types.Leader
	for i := 0; i < stableHistoryLen; i++ {
		leader, _ = tr.Evaluate(barsA, barsB)
	}

	if leader != types.LeaderA {
		t.Errorf("leader = %v, want LeaderA after %d stable evaluations", leader, stableHistoryLen)
	}
}

// TestLeadLagNoneBeforeStable confirms the tracker withholds a leader
// until it has accumulated enough consistent evaluations.
func TestLeadLagNoneBeforeStable(t *testing.T) {
	t.Parallel()

	barsA := barsFromMids([]string{"0.50", "0.52", "0.54"})
	barsB := barsFromMids([]string{"0.50", "0.52", "0.54"})

	tr := NewLeadLagTracker(10, 4)
	leader, conf := tr.Evaluate(barsA, barsB)
	if leader != types.LeaderNone {
		t.Errorf("leader = %v, want LeaderNone on first evaluation", leader)
	}
	if conf != 0 {
		t.Errorf("confidence = %v, want 0 alongside LeaderNone", conf)
	}
}

// TestLeadLagNoCorrelationStaysNone covers uncorrelated series never
// producing a confident leader.
func TestLeadLagNoCorrelationStaysNone(t *testing.T) {
	t.Parallel()

	barsA := barsFromMids([]string{"0.50", "0.50", "0.50", "0.50", "0.50"})
	barsB := barsFromMids([]string{"0.40", "0.60", "0.40", "0.60", "0.40"})

	tr := NewLeadLagTracker(5, 2)
	var leader types.Leader
	for i := 0; i < stableHistoryLen+1; i++ {
		leader, _ = tr.Evaluate(barsA, barsB)
	}
	if leader != types.LeaderNone {
		t.Errorf("leader = %v, want LeaderNone for a flat (zero-variance) series", leader)
	}
}
