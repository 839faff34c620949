package signal

import (
	"math"
	"sync"

	"arbd/pkg/types"

	"arbd/internal/market"
)

// stableHistoryLen is how many recent lead-lag evaluations are kept for
// the 3-of-4 stability filter.
const stableHistoryLen = 4

// LeadLagTracker computes a rolling cross-correlation between the two
// venues' bar series to produce a routing hint: which venue's price
// series is statistically leading the other's over the current window.
// Grounded on the rolling-window-with-eviction shape of the book cache's
// BarRing and on the flow tracker's pattern of a Calculate* method that
// recomputes a composite metric from the current window on demand.
type LeadLagTracker struct {
	mu sync.Mutex

	windowBars int
	maxLagBars int

	history []types.Leader // most recent evaluation last
}

// NewLeadLagTracker creates a tracker for the given window size (bars)
// and maximum lag considered, in bars (spec defaults 120 and 6).
func NewLeadLagTracker(windowBars, maxLagBars int) *LeadLagTracker {
	return &LeadLagTracker{
		windowBars: windowBars,
		maxLagBars: maxLagBars,
		history:    make([]types.Leader, 0, stableHistoryLen),
	}
}

// Evaluate computes the current lead-lag hint from two bar series. Only
// the trailing windowBars of each series are used; if both have fewer
// bars than the window, all available bars are used. Returns
// types.LeaderNone with zero confidence until enough history exists.
func (t *LeadLagTracker) Evaluate(barsA, barsB []market.Bar) (types.Leader, float64) {
	a := toFloatSeries(trailingWindow(barsA, t.windowBars))
	b := toFloatSeries(trailingWindow(barsB, t.windowBars))

	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	a, b = a[len(a)-n:], b[len(b)-n:]

	raw, confidence := t.bestLag(a, b)

	t.mu.Lock()
	defer t.mu.Unlock()

	current := leaderFromLag(raw)
	t.history = append(t.history, current)
	if len(t.history) > stableHistoryLen {
		t.history = t.history[len(t.history)-stableHistoryLen:]
	}

	stable := t.stableLeaderLocked()
	if stable == types.LeaderNone {
		return types.LeaderNone, 0
	}
	return stable, confidence
}

// bestLag returns the lag (in bars; positive means a leads b) with the
// highest positive Pearson correlation, and that correlation value. No
// positive correlation at all yields lag 0, confidence 0; a best lag of
// zero is returned with its correlation, which Evaluate maps to no leader.
func (t *LeadLagTracker) bestLag(a, b []float64) (lag int, confidence float64) {
	n := len(a)
	if n < 3 {
		return 0, 0
	}
	maxLag := t.maxLagBars
	if maxLag >= n {
		maxLag = n - 1
	}

	bestCorr := 0.0
	bestLag := 0
	for l := -maxLag; l <= maxLag; l++ {
		var x, y []float64
		switch {
		case l > 0: // a leads b by l bars: correlate a[0:n-l] with b[l:n]
			x, y = a[:n-l], b[l:]
		case l < 0: // b leads a by -l bars
			x, y = a[-l:], b[:n+l]
		default:
			x, y = a, b
		}
		c := pearson(x, y)
		if c > bestCorr {
			bestCorr = c
			bestLag = l
		}
	}
	return bestLag, bestCorr
}

// stableLeaderLocked requires at least 3 of the last 4 evaluations to
// agree before reporting a leader, damping single-bar noise. Must be
// called with t.mu held.
func (t *LeadLagTracker) stableLeaderLocked() types.Leader {
	if len(t.history) < stableHistoryLen {
		return types.LeaderNone
	}
	var countA, countB int
	for _, l := range t.history {
		switch l {
		case types.LeaderA:
			countA++
		case types.LeaderB:
			countB++
		}
	}
	switch {
	case countA >= 3:
		return types.LeaderA
	case countB >= 3:
		return types.LeaderB
	default:
		return types.LeaderNone
	}
}

func leaderFromLag(lag int) types.Leader {
	switch {
	case lag > 0:
		return types.LeaderA
	case lag < 0:
		return types.LeaderB
	default:
		return types.LeaderNone
	}
}

func trailingWindow(bars []market.Bar, window int) []market.Bar {
	if len(bars) <= window {
		return bars
	}
	return bars[len(bars)-window:]
}

func toFloatSeries(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		f, _ := b.Mid.Float64()
		out[i] = f
	}
	return out
}

// pearson returns the Pearson correlation coefficient of two equal-length
// series, or 0 if either has zero variance.
func pearson(x, y []float64) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-meanX, y[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
