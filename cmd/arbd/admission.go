package main

import (
	"context"
	"log/slog"
	"time"

	"arbd/internal/bus"
	"arbd/internal/execution"
	"arbd/internal/market"
	"arbd/internal/registry"
	"arbd/internal/risk"
	"arbd/pkg/types"
)

// runAdmissionLoop is the Signal → Risk → Execution glue: it subscribes
// to the Observability Bus, and for every EdgeComputed event re-checks
// book freshness against the live cache, runs the quote through
// risk.Admit, and hands an admitted intent to the execution engine.
// Rejections are published back onto the bus the same way the signal
// engine publishes EdgeRejected, so an operator watching the stream sees
// the whole funnel from quote to trade in one vocabulary.
func runAdmissionLoop(ctx context.Context, b *bus.Bus, reg *registry.Registry, cache *market.Cache, riskCtrl *risk.Controller, exec *execution.Engine, freshnessBudget time.Duration, logger *slog.Logger) {
	events, unsubscribe := b.Subscribe(ctx)
	defer unsubscribe()
	log := logger.With("component", "admission")

	for evt := range events {
		if evt.Type != bus.EdgeComputed {
			continue
		}
		quote, ok := evt.Data.(types.EdgeQuote)
		if !ok {
			continue
		}

		pair, ok := reg.Pair(evt.PairID)
		if !ok {
			continue
		}

		freshA := !cache.Cell(pair.MarketA.Ref()).IsStale(freshnessBudget)
		freshB := !cache.Cell(pair.MarketB.Ref()).IsStale(freshnessBudget)
		riskCtrl.RecordFreshness(pair.MarketA.Venue, freshA)
		riskCtrl.RecordFreshness(pair.MarketB.Venue, freshB)

		intent, err := riskCtrl.Admit(quote, pair, freshA, freshB)
		if err != nil {
			b.Publish(bus.Event{Type: bus.IntentRejected, PairID: pair.PairID, Reason: err.Error()})
			continue
		}

		if !exec.Submit(intent) {
			log.Warn("execution engine refused admitted intent", "pair_id", pair.PairID)
		}
	}
}
