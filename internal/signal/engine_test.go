package signal

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"arbd/internal/bus"
	"arbd/internal/market"
	"arbd/internal/registry"
	"arbd/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testPairFor(t *testing.T) types.Pair {
	t.Helper()
	return types.Pair{
		PairID:          "p1",
		MarketA:         types.Market{Venue: types.VenueA, MarketID: "m-a", Binary: true, Active: true},
		MarketB:         types.Market{Venue: types.VenueB, MarketID: "m-b", Binary: true, Active: true},
		SimilarityScore: 0.95,
		RulesPassed:     true,
		Active:          true,
	}
}

func TestEngineEvaluatePairPublishesEdgeComputed(t *testing.T) {
	t.Parallel()

	reg := registry.New(0.92, testLogger())
	pair := testPairFor(t)
	reg.IngestPair(pair)
	reg.IngestFeePack(types.FeePack{Venue: types.VenueA, TakerBps: 10, VersionHash: "va"})
	reg.IngestFeePack(types.FeePack{Venue: types.VenueB, TakerBps: 10, VersionHash: "vb"})

	cache := market.NewCache(5*time.Second, time.Minute)
	now := time.Now()
	cache.Apply(pair.MarketA.Ref(), types.BookSnapshot{
		MarketRef: pair.MarketA.Ref(), ReceivedAt: now, SequenceNo: 1,
		Asks: []types.Level{{Price: dec("0.48"), Size: dec("100")}},
		Bids: []types.Level{{Price: dec("0.47"), Size: dec("100")}},
	})
	cache.Apply(pair.MarketB.Ref(), types.BookSnapshot{
		MarketRef: pair.MarketB.Ref(), ReceivedAt: now, SequenceNo: 1,
		Asks: []types.Level{{Price: dec("0.52"), Size: dec("100")}},
		Bids: []types.Level{{Price: dec("0.51"), Size: dec("100")}},
	})

	b := bus.New(16, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, unsubscribe := b.Subscribe(ctx)
	defer unsubscribe()

	eng := New(reg, cache, b, time.Second, 2*time.Second, dec("50"), 120, 6, testLogger())
	eng.evaluatePair(pair)

	select {
	case evt := <-events:
		if evt.Type != bus.EdgeComputed {
			t.Fatalf("event type = %v, want EdgeComputed", evt.Type)
		}
		q, ok := evt.Data.(types.EdgeQuote)
		if !ok || !q.Feasible {
			t.Fatalf("expected a feasible EdgeQuote, got %+v", evt.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EdgeComputed event")
	}

	if _, ok := eng.Latest("p1"); !ok {
		t.Error("Latest should return the just-computed quote")
	}
}

func TestEngineRejectsStaleBook(t *testing.T) {
	t.Parallel()

	reg := registry.New(0.92, testLogger())
	pair := testPairFor(t)
	reg.IngestPair(pair)
	reg.IngestFeePack(types.FeePack{Venue: types.VenueA, VersionHash: "va"})
	reg.IngestFeePack(types.FeePack{Venue: types.VenueB, VersionHash: "vb"})

	cache := market.NewCache(5*time.Second, time.Minute)
	stale := time.Now().Add(-time.Hour)
	cache.Apply(pair.MarketA.Ref(), types.BookSnapshot{
		MarketRef: pair.MarketA.Ref(), ReceivedAt: stale, SequenceNo: 1,
		Asks: []types.Level{{Price: dec("0.48"), Size: dec("100")}},
		Bids: []types.Level{{Price: dec("0.47"), Size: dec("100")}},
	})
	cache.Apply(pair.MarketB.Ref(), types.BookSnapshot{
		MarketRef: pair.MarketB.Ref(), ReceivedAt: stale, SequenceNo: 1,
		Asks: []types.Level{{Price: dec("0.52"), Size: dec("100")}},
		Bids: []types.Level{{Price: dec("0.51"), Size: dec("100")}},
	})

	b := bus.New(16, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, unsubscribe := b.Subscribe(ctx)
	defer unsubscribe()

	eng := New(reg, cache, b, time.Second, 2*time.Second, dec("50"), 120, 6, testLogger())
	eng.evaluatePair(pair)

	select {
	case evt := <-events:
		if evt.Type != bus.EdgeRejected || evt.Reason != "stale_book" {
			t.Fatalf("event = %+v, want EdgeRejected/stale_book", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EdgeRejected event")
	}

	if _, ok := eng.Latest("p1"); ok {
		t.Error("Latest should not have a quote when the book was stale")
	}
}
