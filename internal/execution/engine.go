package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"arbd/internal/bus"
	"arbd/internal/config"
	"arbd/internal/exchange"
	"arbd/internal/market"
	"arbd/internal/risk"
	"arbd/internal/store"
	"arbd/pkg/types"
)

// Engine dispatches admitted ExecutionIntents onto per-pair goroutine
// slots and tracks them to a terminal state. Grounded on the teacher's
// Engine.slots map + mutex + Start/Stop/WaitGroup lifecycle, generalized
// from continuously-quoting market slots to one-shot hedge-intent slots
// that run once and remove themselves. Like the teacher's Engine, it owns
// the store directly: every closed trade and its legs' resulting
// positions are persisted before the slot's goroutine exits.
type Engine struct {
	adapters  map[types.Venue]exchange.VenueAdapter
	positions *Positions
	risk      *risk.Controller
	bus       *bus.Bus
	store     *store.Store
	books     *market.Cache
	logger    *slog.Logger

	unwindMaxRetries    int
	unwindBudget        time.Duration
	backoffMax          time.Duration
	adverseMoveCents    float64
	adverseMoveDuration time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires an execution engine and restores any positions a prior run
// persisted to st before the first intent is submitted. adapters must
// have an entry for every venue referenced by any pair this engine will
// be asked to trade. st and books may be nil — st skips persistence, books
// disables the adverse-move unwind trigger — which tests that don't care
// about either can leave unset.
func New(adapters map[types.Venue]exchange.VenueAdapter, positions *Positions, r *risk.Controller, b *bus.Bus, st *store.Store, books *market.Cache, cfg config.ExecutionConfig, logger *slog.Logger) (*Engine, error) {
	if st != nil {
		saved, err := st.LoadAllPositions()
		if err != nil {
			return nil, err
		}
		positions.Seed(saved)
	}
	return &Engine{
		adapters:            adapters,
		positions:           positions,
		risk:                r,
		bus:                 b,
		store:               st,
		books:               books,
		logger:              logger.With("component", "execution"),
		unwindMaxRetries:    cfg.UnwindMaxRetries,
		unwindBudget:        cfg.UnwindBudget,
		backoffMax:          cfg.BackoffMax,
		adverseMoveCents:    cfg.AdverseMoveCents,
		adverseMoveDuration: cfg.AdverseMoveDuration,
	}, nil
}

// Start records the engine's lifetime context. Submit calls before Start
// or after Stop are refused.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
}

// Stop cancels every in-flight slot's context and waits for them to
// reach a terminal state (each slot's own unwind/backoff loop observes
// ctx.Done() and fails fast rather than hanging the shutdown), then
// closes the store.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Error("close store", "error", err)
		}
	}
}

// Submit reserves the pair's hedge slot and starts a goroutine running
// it to completion. Returns false without starting anything if the pair
// already has a hedge in flight — Admit already checked this, but the
// reservation itself happens here, right before dispatch, to keep the
// window between admission and reservation as small as possible.
func (e *Engine) Submit(intent types.ExecutionIntent) bool {
	if !e.risk.BeginHedge(intent.PairID) {
		e.bus.Publish(bus.Event{Type: bus.IntentRejected, PairID: intent.PairID, Reason: "pair_already_hedging"})
		return false
	}

	e.bus.Publish(bus.Event{Type: bus.IntentAdmitted, PairID: intent.PairID, Data: intent})

	s := newSlot(intent, e.adapters, e.positions, e.risk, e.bus, e.books, e.unwindMaxRetries, e.unwindBudget, e.backoffMax, e.adverseMoveCents, e.adverseMoveDuration, e.logger)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		record := s.run(e.ctx)
		e.logger.Info("trade closed", "pair_id", intent.PairID, "outcome", record.Outcome, "reason", record.Reason)
		e.persist(intent, record)
	}()
	return true
}

// persist appends the closed trade to the ledger and snapshots both
// legs' resulting positions. Best-effort: a persistence failure is
// logged, not propagated, since the trade itself already completed.
func (e *Engine) persist(intent types.ExecutionIntent, record types.TradeRecord) {
	if e.store == nil {
		return
	}
	if err := e.store.AppendTrade(record); err != nil {
		e.logger.Error("append trade record", "pair_id", intent.PairID, "error", err)
	}
	for _, leg := range []types.OrderIntent{intent.Primary, intent.Hedge} {
		pos, ok := e.positions.Snapshot(leg.Venue, leg.MarketRef)
		if !ok {
			continue
		}
		if err := e.store.SavePosition(pos); err != nil {
			e.logger.Error("save position", "venue", leg.Venue, "market_ref", leg.MarketRef, "error", err)
		}
	}
}
</content>
