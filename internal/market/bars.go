package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one closed mid-price bar: the time-weighted average mid over a
// fixed duration.
type Bar struct {
	Open  time.Time
	Close time.Time
	Mid   decimal.Decimal
}

// BarRing aggregates a market's tick-by-tick mid price into fixed-duration
// bars and retains a bounded, time-evicted window of closed bars for the
// lead-lag cross-correlation tracker in package signal.
//
// Aggregation is time-weighted: each tick contributes mid*elapsed to the
// running accumulator, where elapsed is the time since the previous tick
// within the current bar.
type BarRing struct {
	mu sync.Mutex

	duration time.Duration
	retain   time.Duration

	bars []Bar // closed bars, oldest first

	curOpen    time.Time
	curSum     decimal.Decimal // sum of mid*elapsed within current bar
	curWeight  time.Duration   // total elapsed time accumulated in current bar
	lastTick   time.Time
	lastMid    decimal.Decimal
	haveTick   bool
}

// NewBarRing creates a bar ring with the given bar duration and retention
// window (spec defaults: 5s bars, 10m retention = 120 bars).
func NewBarRing(duration, retain time.Duration) *BarRing {
	return &BarRing{
		duration: duration,
		retain:   retain,
		bars:     make([]Bar, 0, 128),
	}
}

// AddTick folds one observed mid price at time ts into the current bar,
// closing and opening bars as boundaries are crossed.
func (r *BarRing) AddTick(ts time.Time, mid decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.haveTick {
		r.curOpen = ts
		r.lastTick = ts
		r.lastMid = mid
		r.haveTick = true
		return
	}

	for ts.Sub(r.curOpen) >= r.duration {
		boundary := r.curOpen.Add(r.duration)
		r.accumulateLocked(boundary, r.lastMid)
		r.closeBarLocked(boundary)
		r.curOpen = boundary
	}

	r.accumulateLocked(ts, mid)
	r.lastTick = ts
	r.lastMid = mid
	r.evictStaleLocked(ts)
}

// accumulateLocked folds the mid price held since lastTick up to ts into
// the current bar's time-weighted sum. Must be called with lock held.
func (r *BarRing) accumulateLocked(ts time.Time, midHeldAt decimal.Decimal) {
	elapsed := ts.Sub(r.lastTick)
	if elapsed <= 0 {
		return
	}
	weight := decimal.NewFromFloat(elapsed.Seconds())
	r.curSum = r.curSum.Add(r.lastMid.Mul(weight))
	r.curWeight += elapsed
	r.lastTick = ts
	_ = midHeldAt
}

// closeBarLocked finalises the current bar as of boundary and resets the
// accumulator for the next one. Must be called with lock held.
func (r *BarRing) closeBarLocked(boundary time.Time) {
	mid := decimal.Zero
	if r.curWeight > 0 {
		mid = r.curSum.Div(decimal.NewFromFloat(r.curWeight.Seconds()))
	} else {
		mid = r.lastMid
	}
	r.bars = append(r.bars, Bar{Open: r.curOpen, Close: boundary, Mid: mid})
	r.curSum = decimal.Zero
	r.curWeight = 0
}

// evictStaleLocked drops bars older than the retention window relative to
// now. Must be called with lock held.
func (r *BarRing) evictStaleLocked(now time.Time) {
	cutoff := now.Add(-r.retain)
	i := 0
	for i < len(r.bars) && r.bars[i].Close.Before(cutoff) {
		i++
	}
	if i > 0 {
		r.bars = r.bars[i:]
	}
}

// Snapshot returns a copy of the closed bars, oldest first.
func (r *BarRing) Snapshot() []Bar {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Bar, len(r.bars))
	copy(out, r.bars)
	return out
}

// Len returns the number of closed bars currently retained.
func (r *BarRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bars)
}
