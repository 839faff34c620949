package risk

import "time"

// pnlEntry is one realized-PnL observation from a settled or unwound trade.
type pnlEntry struct {
	ts     time.Time
	amount float64 // USD, signed
}

// pnlTracker maintains rolling realized-PnL sums over daily/weekly/monthly
// windows, checked against equity-relative drawdown stops. "Rolling" here
// means a trailing duration window, not a calendar-aligned period — it
// never needs a reset job and degrades gracefully across restarts once
// entries age out.
type pnlTracker struct {
	entries []pnlEntry
}

func newPnLTracker() *pnlTracker {
	return &pnlTracker{}
}

func (t *pnlTracker) record(amount float64, ts time.Time) {
	t.entries = append(t.entries, pnlEntry{ts: ts, amount: amount})
	t.evict(ts)
}

// evict drops entries older than the longest window this tracker checks
// (30 days), since nothing past that is ever summed again.
func (t *pnlTracker) evict(now time.Time) {
	cutoff := now.Add(-30 * 24 * time.Hour)
	i := 0
	for i < len(t.entries) && t.entries[i].ts.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.entries = t.entries[i:]
	}
}

func (t *pnlTracker) sumSince(now time.Time, window time.Duration) float64 {
	cutoff := now.Add(-window)
	var sum float64
	for _, e := range t.entries {
		if !e.ts.Before(cutoff) {
			sum += e.amount
		}
	}
	return sum
}

// stopTripped reports whether the trailing daily/weekly/monthly realized
// loss exceeds its equity-relative stop, and which window first breached.
func (t *pnlTracker) stopTripped(now time.Time, equityUSD, dailyPct, weeklyPct, monthlyPct float64) (bool, string) {
	if equityUSD <= 0 {
		return false, ""
	}
	checks := []struct {
		name   string
		window time.Duration
		pct    float64
	}{
		{"daily", 24 * time.Hour, dailyPct},
		{"weekly", 7 * 24 * time.Hour, weeklyPct},
		{"monthly", 30 * 24 * time.Hour, monthlyPct},
	}
	for _, c := range checks {
		loss := -t.sumSince(now, c.window)
		if loss > equityUSD*c.pct/100 {
			return true, c.name
		}
	}
	return false, ""
}
