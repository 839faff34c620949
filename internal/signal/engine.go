// Package signal computes cross-venue edge for every active pair and
// maintains the lead-lag routing hint per pair. Grounded on the teacher's
// strategy package: the tick-and-event loop shape of Maker.Run (a select
// over ctx.Done, a feed channel, and a ticker), generalized from one
// goroutine per market quoting continuously to one goroutine recomputing
// every pair a book update touches and publishing a one-shot EdgeQuote
// rather than maintaining resting orders. The ticker remains as a
// backstop recompute in case a book update is ever missed or coalesced.
package signal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbd/internal/bus"
	"arbd/internal/market"
	"arbd/internal/registry"
	"arbd/pkg/types"
)

// updatesQueueSize bounds how many distinct book-update notifications
// can be pending before a recompute drains them. Notifications carry
// only a market ref, so a full queue just means a drain is already
// overdue, not that any update is lost — every market currently queued
// is still recomputed from its latest cached snapshot.
const updatesQueueSize = 256

// Engine recomputes a pair's edge every time either of its markets'
// books change, with a fixed ticker as a backstop, enforcing the
// freshness budget, and publishes EdgeComputed / EdgeRejected events
// plus feeds the lead-lag tracker.
type Engine struct {
	registry *registry.Registry
	cache    *market.Cache
	bus      *bus.Bus
	logger   *slog.Logger

	tickInterval    time.Duration
	freshnessBudget time.Duration
	intendedQty     decimal.Decimal

	updates chan string

	leadLagMu sync.Mutex
	leadLag   map[string]*LeadLagTracker
	windowBars, maxLagBars int

	quotes quoteStore
}

// New creates a signal engine. windowBars/maxLagBars size each pair's
// LeadLagTracker (spec defaults 120/6).
func New(reg *registry.Registry, cache *market.Cache, b *bus.Bus, tickInterval, freshnessBudget time.Duration, intendedQty decimal.Decimal, windowBars, maxLagBars int, logger *slog.Logger) *Engine {
	return &Engine{
		registry:        reg,
		cache:           cache,
		bus:             b,
		logger:          logger.With("component", "signal"),
		tickInterval:    tickInterval,
		freshnessBudget: freshnessBudget,
		intendedQty:     intendedQty,
		updates:         make(chan string, updatesQueueSize),
		leadLag:         make(map[string]*LeadLagTracker),
		windowBars:      windowBars,
		maxLagBars:      maxLagBars,
		quotes:          newQuoteStore(),
	}
}

// Run recomputes a pair's edge whenever a book update notified via
// NotifyBook touches one of its two markets, plus a full sweep of every
// active pair on each tick as a backstop. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ref := <-e.updates:
			e.recomputeTouching(ref)
		case <-ticker.C:
			e.tick()
		}
	}
}

// NotifyBook schedules a recompute of every active pair referencing
// marketRef. Non-blocking: callers are venue adapter read loops and must
// never stall behind a slow signal engine. A full queue means a drain is
// already due shortly, so a dropped notification here costs at most one
// recompute cycle's latency, not a missed update.
func (e *Engine) NotifyBook(marketRef string) {
	select {
	case e.updates <- marketRef:
	default:
	}
}

func (e *Engine) tick() {
	for _, pair := range e.registry.ActivePairs() {
		e.evaluatePair(pair)
	}
}

// recomputeTouching evaluates every active pair referencing ref, plus
// any other market ref already queued behind it on e.updates — this
// coalesces a burst of near-simultaneous book updates (e.g. several
// price levels changing at once) into a single recompute per affected
// pair instead of one per snapshot.
func (e *Engine) recomputeTouching(ref string) {
	touched := map[string]struct{}{ref: {}}
drain:
	for {
		select {
		case r := <-e.updates:
			touched[r] = struct{}{}
		default:
			break drain
		}
	}

	done := make(map[string]struct{})
	for _, pair := range e.registry.ActivePairs() {
		if _, already := done[pair.PairID]; already {
			continue
		}
		_, touchesA := touched[pair.MarketA.Ref()]
		_, touchesB := touched[pair.MarketB.Ref()]
		if !touchesA && !touchesB {
			continue
		}
		done[pair.PairID] = struct{}{}
		e.evaluatePair(pair)
	}
}

func (e *Engine) evaluatePair(pair types.Pair) {
	refA, refB := pair.MarketA.Ref(), pair.MarketB.Ref()

	cellA, cellB := e.cache.Cell(refA), e.cache.Cell(refB)
	bookA, okA := cellA.Load()
	bookB, okB := cellB.Load()
	if !okA || !okB {
		return
	}
	if cellA.IsStale(e.freshnessBudget) || cellB.IsStale(e.freshnessBudget) {
		e.bus.Publish(bus.Event{Type: bus.EdgeRejected, PairID: pair.PairID, Reason: "stale_book"})
		return
	}

	feeA, okFeeA := e.registry.FeePack(pair.MarketA.Venue)
	feeB, okFeeB := e.registry.FeePack(pair.MarketB.Venue)
	if !okFeeA || !okFeeB {
		e.bus.Publish(bus.Event{Type: bus.EdgeRejected, PairID: pair.PairID, Reason: "no_fee_pack"})
		return
	}

	quote := ComputeEdge(pair, bookA, bookB, feeA, feeB, e.intendedQty)
	quote.TS = time.Now()

	leader, confidence := e.leadLagFor(pair.PairID).Evaluate(
		e.cache.Bars(refA).Snapshot(),
		e.cache.Bars(refB).Snapshot(),
	)
	quote.Leader = leader
	quote.LeaderConfidence = confidence

	e.quotes.store(pair.PairID, quote)

	if !quote.Feasible {
		e.bus.Publish(bus.Event{Type: bus.EdgeRejected, PairID: pair.PairID, Reason: "infeasible_depth"})
		return
	}
	e.bus.Publish(bus.Event{Type: bus.EdgeComputed, PairID: pair.PairID, Data: quote})
}

func (e *Engine) leadLagFor(pairID string) *LeadLagTracker {
	e.leadLagMu.Lock()
	defer e.leadLagMu.Unlock()

	tr, ok := e.leadLag[pairID]
	if !ok {
		tr = NewLeadLagTracker(e.windowBars, e.maxLagBars)
		e.leadLag[pairID] = tr
	}
	return tr
}

// Latest returns the most recently computed quote for a pair, if any.
func (e *Engine) Latest(pairID string) (types.EdgeQuote, bool) {
	return e.quotes.load(pairID)
}
