// Package execution implements the Hedged-Execution Engine: a per-pair
// state machine (Ready → PlacingPrimary → PlacingHedge → AwaitingFills →
// {Settled|Unwinding} → {Unwound|Failed}) enforcing no-legging with
// strict timeouts and bounded-retry unwinds. Grounded on the teacher's
// engine.marketSlot — one goroutine per unit of work, owning its own
// channels and cancellation — generalized from a continuously-quoting
// market slot to a one-shot hedge-intent slot that runs to a terminal
// state and exits.
package execution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"arbd/internal/bus"
	"arbd/internal/exchange"
	"arbd/internal/market"
	"arbd/internal/risk"
	"arbd/pkg/types"
)

// adverseMovePollInterval is how often awaitFills samples the unfilled
// leg's book to evaluate the adverse-move unwind trigger.
const adverseMovePollInterval = 100 * time.Millisecond

type state string

const (
	stateReady           state = "Ready"
	statePlacingPrimary  state = "PlacingPrimary"
	statePlacingHedge    state = "PlacingHedge"
	stateAwaitingFills   state = "AwaitingFills"
	stateUnwinding       state = "Unwinding"
	stateSettled         state = "Settled"
	stateUnwound         state = "Unwound"
	stateFailed          state = "Failed"
)

// slot runs one ExecutionIntent from admission to a terminal state.
type slot struct {
	intent    types.ExecutionIntent
	adapters  map[types.Venue]exchange.VenueAdapter
	positions *Positions
	risk      *risk.Controller
	bus       *bus.Bus
	logger    *slog.Logger

	unwindMaxRetries    int
	unwindBudget        time.Duration
	backoffMax          time.Duration
	books               *market.Cache
	adverseMoveCents    decimal.Decimal
	adverseMoveDuration time.Duration

	state         state
	primaryAck    types.OrderAck
	hedgeAck      types.OrderAck
	primaryFilled decimal.Decimal
	hedgeFilled   decimal.Decimal
	primaryAvgPx  decimal.Decimal
	hedgeAvgPx    decimal.Decimal
}

func newSlot(intent types.ExecutionIntent, adapters map[types.Venue]exchange.VenueAdapter, positions *Positions, r *risk.Controller, b *bus.Bus, books *market.Cache, unwindMaxRetries int, unwindBudget, backoffMax time.Duration, adverseMoveCents float64, adverseMoveDuration time.Duration, logger *slog.Logger) *slot {
	return &slot{
		intent:              intent,
		adapters:            adapters,
		positions:           positions,
		risk:                r,
		bus:                 b,
		logger:              logger.With("component", "execution", "pair_id", intent.PairID),
		unwindMaxRetries:    unwindMaxRetries,
		unwindBudget:        unwindBudget,
		backoffMax:          backoffMax,
		books:               books,
		adverseMoveCents:    decimal.NewFromFloat(adverseMoveCents),
		adverseMoveDuration: adverseMoveDuration,
		state:               stateReady,
		primaryFilled:       decimal.Zero,
		hedgeFilled:         decimal.Zero,
	}
}

// run drives the state machine to a terminal state and returns the
// resulting TradeRecord. Always calls risk.EndHedge before returning,
// releasing the pair's admission slot.
func (s *slot) run(ctx context.Context) types.TradeRecord {
	defer s.risk.EndHedge(s.intent.PairID)

	deadlineCtx, cancel := context.WithDeadline(ctx, s.intent.Deadline)
	defer cancel()

	s.state = statePlacingPrimary
	primaryAck, err := s.placeTaker(deadlineCtx, s.intent.Primary)
	if err != nil {
		return s.fail("primary_rejected", err)
	}
	s.primaryAck = primaryAck

	s.state = statePlacingHedge
	hedgeAck, err := s.placeTaker(deadlineCtx, s.intent.Hedge)
	if err != nil {
		s.bus.Publish(bus.Event{Type: bus.LegFilled, PairID: s.intent.PairID, Reason: "hedge_leg_rejected"})
		return s.unwind(ctx, "hedge_rejected")
	}
	s.hedgeAck = hedgeAck

	s.state = stateAwaitingFills
	if err := s.awaitFills(deadlineCtx); err != nil {
		return s.unwind(ctx, err.Error())
	}

	return s.settle()
}

func (s *slot) placeTaker(ctx context.Context, order types.OrderIntent) (types.OrderAck, error) {
	adapter, ok := s.adapters[order.Venue]
	if !ok {
		return types.OrderAck{}, errors.New("no adapter configured for venue")
	}
	return adapter.PlaceTaker(ctx, order)
}

// awaitFills blocks until both legs are fully filled or the deadline
// passes, consuming each venue's Fills stream and crediting positions as
// reports arrive. While a leg remains unfilled it also polls that leg's
// book for the adverse-move unwind trigger: the mid moving against the
// order by at least adverseMoveCents and staying there for
// adverseMoveDuration means the edge that justified the trade is gone
// and waiting out the hedge timeout would only make the eventual unwind
// worse.
func (s *slot) awaitFills(ctx context.Context) error {
	primaryFills := s.adapters[s.intent.Primary.Venue].Fills(ctx)
	hedgeFills := s.adapters[s.intent.Hedge.Venue].Fills(ctx)

	var adverseSince time.Time
	poll := time.NewTicker(adverseMovePollInterval)
	defer poll.Stop()

	for {
		if s.primaryFilled.GreaterThanOrEqual(s.intent.Primary.Qty) && s.hedgeFilled.GreaterThanOrEqual(s.intent.Hedge.Qty) {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.New("fill_timeout")
		case <-poll.C:
			if s.adverseMoveDetected(&adverseSince) {
				return errors.New("adverse_move")
			}
		case f, ok := <-primaryFills:
			if !ok {
				return errors.New("primary_feed_closed")
			}
			if f.OrderID == s.primaryAck.VenueOrderID && s.positions.ApplyFill(s.intent.Primary.Venue, s.intent.Primary.MarketRef, s.intent.Primary.Side, f) {
				s.primaryFilled, s.primaryAvgPx = applyBuy(s.primaryFilled, s.primaryAvgPx, f.Qty, f.Px)
			}
		case f, ok := <-hedgeFills:
			if !ok {
				return errors.New("hedge_feed_closed")
			}
			if f.OrderID == s.hedgeAck.VenueOrderID && s.positions.ApplyFill(s.intent.Hedge.Venue, s.intent.Hedge.MarketRef, s.intent.Hedge.Side, f) {
				s.hedgeFilled, s.hedgeAvgPx = applyBuy(s.hedgeFilled, s.hedgeAvgPx, f.Qty, f.Px)
			}
		}
	}
}

// adverseMoveDetected checks whichever leg is still unfilled against its
// book's current mid. adverseSince tracks when the move first exceeded
// adverseMoveCents; it resets to zero once the move retreats, so only a
// sustained move of at least adverseMoveDuration trips the trigger.
func (s *slot) adverseMoveDetected(adverseSince *time.Time) bool {
	if s.books == nil {
		return false
	}

	leg, unfilled := s.unfilledLeg()
	if !unfilled {
		*adverseSince = time.Time{}
		return false
	}

	snap, ok := s.books.Cell(leg.MarketRef).Load()
	if !ok {
		return false
	}
	mid, ok := snap.Mid()
	if !ok {
		return false
	}

	effectivePx := mid
	if leg.Side == types.BuyNo {
		effectivePx = decimal.NewFromInt(1).Sub(mid)
	}

	moveCents := effectivePx.Sub(leg.LimitPx).Mul(decimal.NewFromInt(100))
	if moveCents.LessThan(s.adverseMoveCents) {
		*adverseSince = time.Time{}
		return false
	}

	if adverseSince.IsZero() {
		*adverseSince = time.Now()
		return false
	}
	return time.Since(*adverseSince) >= s.adverseMoveDuration
}

// unfilledLeg returns the leg still missing fills, if exactly one is.
// When both legs are unfilled there is nothing yet to flatten and the
// ordinary hedge timeout governs instead of an adverse-move unwind.
func (s *slot) unfilledLeg() (types.OrderIntent, bool) {
	primaryDone := s.primaryFilled.GreaterThanOrEqual(s.intent.Primary.Qty)
	hedgeDone := s.hedgeFilled.GreaterThanOrEqual(s.intent.Hedge.Qty)
	switch {
	case primaryDone && !hedgeDone:
		return s.intent.Hedge, true
	case hedgeDone && !primaryDone:
		return s.intent.Primary, true
	default:
		return types.OrderIntent{}, false
	}
}

// drainPendingFills collects any fill reports that arrive within window
// for either leg without requiring both to complete — used right before
// deciding what an unwind needs to flatten, since a leg can be acked
// with its fill still in flight.
func (s *slot) drainPendingFills(ctx context.Context, window time.Duration) {
	var primaryFills, hedgeFills <-chan types.Fill
	if s.primaryAck.VenueOrderID != "" {
		primaryFills = s.adapters[s.intent.Primary.Venue].Fills(ctx)
	}
	if s.hedgeAck.VenueOrderID != "" {
		hedgeFills = s.adapters[s.intent.Hedge.Venue].Fills(ctx)
	}

	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case f, ok := <-primaryFills:
			if ok && f.OrderID == s.primaryAck.VenueOrderID && s.positions.ApplyFill(s.intent.Primary.Venue, s.intent.Primary.MarketRef, s.intent.Primary.Side, f) {
				s.primaryFilled, s.primaryAvgPx = applyBuy(s.primaryFilled, s.primaryAvgPx, f.Qty, f.Px)
			}
		case f, ok := <-hedgeFills:
			if ok && f.OrderID == s.hedgeAck.VenueOrderID && s.positions.ApplyFill(s.intent.Hedge.Venue, s.intent.Hedge.MarketRef, s.intent.Hedge.Side, f) {
				s.hedgeFilled, s.hedgeAvgPx = applyBuy(s.hedgeFilled, s.hedgeAvgPx, f.Qty, f.Px)
			}
		}
	}
}

func (s *slot) settle() types.TradeRecord {
	s.state = stateSettled
	s.risk.RecordHedgeOutcome(s.intent.Primary.Venue, true)
	s.risk.RecordHedgeOutcome(s.intent.Hedge.Venue, true)

	record := s.record(types.OutcomeCommitted, "")
	s.risk.RecordTradeResult(realizedPnLUSD(record), time.Now())
	s.bus.Publish(bus.Event{Type: bus.TradeSettled, PairID: s.intent.PairID, Data: record})
	return record
}

// unwind flattens any filled-but-unhedged leg by buying the
// complementary side on the same venue/market (there is no standalone
// "sell" primitive in this system; buying NO on a filled YES leg nets
// the position to flat the same way selling YES would). A leg with
// nothing filled needs no action — the attempt simply never cost
// anything on that side.
func (s *slot) unwind(ctx context.Context, reason string) types.TradeRecord {
	s.state = stateUnwinding
	s.logger.Warn("unwinding", "reason", reason)

	// Cancel any residual resting quantity on each leg first, so no more
	// fills land while we're deciding what needs flattening.
	s.cancelResiduals(ctx)

	// A primary leg can be acked but not yet reported filled at the
	// moment its hedge is rejected or times out; give any fill already
	// in flight a short window to land before deciding what to flatten.
	s.drainPendingFills(ctx, s.unwindBudget)

	primaryNeedsFlatten := s.primaryFilled.IsPositive() && s.hedgeFilled.LessThan(s.primaryFilled)
	hedgeNeedsFlatten := s.hedgeFilled.IsPositive() && s.primaryFilled.LessThan(s.hedgeFilled)

	backoff := 50 * time.Millisecond
	for attempt := 1; attempt <= s.unwindMaxRetries; attempt++ {
		if primaryNeedsFlatten {
			if err := s.flatten(ctx, s.intent.Primary, s.primaryFilled.Sub(s.hedgeFilled)); err == nil {
				primaryNeedsFlatten = false
			}
		}
		if hedgeNeedsFlatten {
			if err := s.flatten(ctx, s.intent.Hedge, s.hedgeFilled.Sub(s.primaryFilled)); err == nil {
				hedgeNeedsFlatten = false
			}
		}

		if !primaryNeedsFlatten && !hedgeNeedsFlatten {
			return s.unwound(reason)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return s.failLegRisk(reason)
		case <-timer.C:
		}
		backoff *= 2
		if backoff > s.backoffMax {
			backoff = s.backoffMax
		}
	}

	return s.failLegRisk(reason)
}

// cancelResiduals cancels whichever leg still has unfilled quantity
// resting on its venue. A leg that was never acked has nothing to
// cancel; a leg already fully filled has nothing resting either.
func (s *slot) cancelResiduals(ctx context.Context) {
	if s.primaryAck.VenueOrderID != "" && s.primaryFilled.LessThan(s.intent.Primary.Qty) {
		s.cancelLeg(ctx, s.intent.Primary.Venue, s.primaryAck.VenueOrderID)
	}
	if s.hedgeAck.VenueOrderID != "" && s.hedgeFilled.LessThan(s.intent.Hedge.Qty) {
		s.cancelLeg(ctx, s.intent.Hedge.Venue, s.hedgeAck.VenueOrderID)
	}
}

func (s *slot) cancelLeg(ctx context.Context, venue types.Venue, venueOrderID string) {
	adapter, ok := s.adapters[venue]
	if !ok {
		return
	}
	result, err := adapter.Cancel(ctx, venueOrderID)
	if err != nil {
		s.logger.Warn("cancel residual order failed", "venue", venue, "venue_order_id", venueOrderID, "error", err)
		return
	}
	if result == types.TooLate {
		s.logger.Info("residual order already gone", "venue", venue, "venue_order_id", venueOrderID)
	}
}

// flatten buys the complementary side of a leg to neutralize a filled
// quantity that never got its hedge.
func (s *slot) flatten(ctx context.Context, leg types.OrderIntent, qty decimal.Decimal) error {
	opposite := leg
	opposite.Side = oppositeSide(leg.Side)
	opposite.Qty = qty
	opposite.CreatedAt = time.Now()
	opposite.Deadline = time.Now().Add(s.unwindBudget)

	ack, err := s.placeTaker(ctx, opposite)
	if err != nil {
		return err
	}
	_ = ack
	return nil
}

func oppositeSide(side types.Side) types.Side {
	if side == types.BuyYes {
		return types.BuyNo
	}
	return types.BuyYes
}

func (s *slot) unwound(reason string) types.TradeRecord {
	s.state = stateUnwound
	s.risk.RecordHedgeOutcome(s.intent.Primary.Venue, false)
	s.risk.RecordHedgeOutcome(s.intent.Hedge.Venue, false)

	record := s.record(types.OutcomeUnwound, reason)
	s.risk.RecordTradeResult(realizedPnLUSD(record), time.Now())
	s.bus.Publish(bus.Event{Type: bus.TradeUnwound, PairID: s.intent.PairID, Data: record})
	return record
}

func (s *slot) failLegRisk(reason string) types.TradeRecord {
	s.state = stateFailed
	record := s.record(types.OutcomeFailed, "leg_risk: "+reason)
	s.risk.RecordTradeResult(realizedPnLUSD(record), time.Now())
	s.bus.Publish(bus.Event{Type: bus.TradeFailed, PairID: s.intent.PairID, Reason: record.Reason, Data: record})
	s.risk.HaltVenue(s.intent.Primary.Venue)
	s.bus.Publish(bus.Event{Type: bus.VenueDown, Venue: string(s.intent.Primary.Venue), Reason: "leg_risk"})
	return record
}

func (s *slot) fail(reason string, cause error) types.TradeRecord {
	s.state = stateFailed
	s.risk.RecordHedgeOutcome(s.intent.Primary.Venue, false)

	record := s.record(types.OutcomeFailed, reason+": "+cause.Error())
	s.risk.RecordTradeResult(realizedPnLUSD(record), time.Now())
	s.bus.Publish(bus.Event{Type: bus.TradeFailed, PairID: s.intent.PairID, Reason: reason, Data: record})
	return record
}

func (s *slot) record(outcome types.TradeOutcome, reason string) types.TradeRecord {
	return types.TradeRecord{
		PairID:         s.intent.PairID,
		IntentA:        s.intent.Primary,
		IntentB:        s.intent.Hedge,
		StatusA:        string(s.state),
		StatusB:        string(s.state),
		RealisedEdge:   s.realisedEdgeCents(),
		Slippage:       s.slippageCents(),
		FeeVersionHash: s.intent.FeeVersionHash,
		Outcome:        outcome,
		Reason:         reason,
		ClosedAt:       time.Now(),
	}
}

// slippageCents sums each filled leg's fill-price-vs-limit-price
// shortfall, in cents. A leg with nothing filled contributes nothing —
// there is no fill price to compare against.
func (s *slot) slippageCents() decimal.Decimal {
	total := decimal.Zero
	if s.primaryFilled.IsPositive() {
		total = total.Add(s.primaryAvgPx.Sub(s.intent.Primary.LimitPx))
	}
	if s.hedgeFilled.IsPositive() {
		total = total.Add(s.hedgeAvgPx.Sub(s.intent.Hedge.LimitPx))
	}
	return total.Mul(decimal.NewFromInt(100))
}

// realisedEdgeCents is the edge actually captured at fill prices: a
// binary pair always settles to $1 combined, so 1 minus the two legs'
// average fill prices is the gross edge banked before fees. Zero unless
// both legs filled — a one-sided fill never banked the package's edge.
func (s *slot) realisedEdgeCents() decimal.Decimal {
	if s.primaryFilled.IsZero() || s.hedgeFilled.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).Sub(s.primaryAvgPx).Sub(s.hedgeAvgPx).Mul(decimal.NewFromInt(100))
}

// realizedPnLUSD converts a terminal trade record into the dollar figure
// fed to the risk controller's rolling drawdown-stop ledger: one
// contract settles to $1, so one cent of edge or slippage is $0.01 per
// contract filled. A committed trade banks its realised edge; any other
// outcome instead cost whatever slippage was paid on the legs that did
// fill.
func realizedPnLUSD(record types.TradeRecord) float64 {
	qty := record.IntentA.Qty
	if qty.LessThan(record.IntentB.Qty) {
		qty = record.IntentB.Qty
	}

	cents := record.Slippage.Neg()
	if record.Outcome == types.OutcomeCommitted {
		cents = record.RealisedEdge
	}

	usd, _ := cents.Div(decimal.NewFromInt(100)).Mul(qty).Float64()
	return usd
}
