package market

import (
	"testing"
	"time"

	"arbd/pkg/types"

	"github.com/shopspring/decimal"
)

const testMarketRef = "A:market-abc"

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func snap(seq uint64, bid, ask string, ts time.Time) types.BookSnapshot {
	return types.BookSnapshot{
		MarketRef:  testMarketRef,
		ReceivedAt: ts,
		VenueTS:    ts,
		Bids:       []types.Level{{Price: dec(bid), Size: dec("100")}},
		Asks:       []types.Level{{Price: dec(ask), Size: dec("100")}},
		SequenceNo: seq,
	}
}

func TestCellApplyAndLoad(t *testing.T) {
	t.Parallel()
	c := &Cell{}

	if _, ok := c.Load(); ok {
		t.Fatal("Load should report false before any Apply")
	}

	if !c.Apply(snap(1, "0.55", "0.57", time.Now())) {
		t.Fatal("first snapshot should be accepted")
	}

	got, ok := c.Load()
	if !ok {
		t.Fatal("Load should report true after Apply")
	}
	if !got.Bids[0].Price.Equal(dec("0.55")) {
		t.Errorf("bid = %v, want 0.55", got.Bids[0].Price)
	}
}

func TestCellDropsStaleSequence(t *testing.T) {
	t.Parallel()
	c := &Cell{}

	c.Apply(snap(5, "0.50", "0.52", time.Now()))
	if c.Apply(snap(3, "0.60", "0.62", time.Now())) {
		t.Error("snapshot with older sequence_no should be dropped")
	}
	if c.Apply(snap(5, "0.60", "0.62", time.Now())) {
		t.Error("snapshot with equal sequence_no should be dropped")
	}

	got, _ := c.Load()
	if !got.Bids[0].Price.Equal(dec("0.50")) {
		t.Error("cell should still hold the original snapshot")
	}
}

func TestCellDropsCrossedBook(t *testing.T) {
	t.Parallel()
	c := &Cell{}

	crossed := types.BookSnapshot{
		MarketRef:  testMarketRef,
		ReceivedAt: time.Now(),
		SequenceNo: 1,
		Bids:       []types.Level{{Price: dec("0.60")}},
		Asks:       []types.Level{{Price: dec("0.55")}},
	}
	if c.Apply(crossed) {
		t.Error("crossed book should be rejected")
	}
}

func TestCellIsStale(t *testing.T) {
	t.Parallel()
	c := &Cell{}

	if !c.IsStale(time.Second) {
		t.Error("cell with no snapshot should be stale")
	}

	c.Apply(snap(1, "0.50", "0.52", time.Now()))
	if c.IsStale(time.Second) {
		t.Error("just-populated cell should not be stale")
	}

	c.Apply(snap(2, "0.50", "0.52", time.Now().Add(-time.Hour)))
	if !c.IsStale(time.Second) {
		t.Error("cell with an old received_at should be stale")
	}
}

func TestCacheApplyFeedsBars(t *testing.T) {
	t.Parallel()
	cache := NewCache(5*time.Second, 10*time.Minute)

	now := time.Now()
	if !cache.Apply(testMarketRef, snap(1, "0.50", "0.60", now)) {
		t.Fatal("snapshot should be accepted")
	}

	cell := cache.Cell(testMarketRef)
	got, ok := cell.Load()
	if !ok || !got.Bids[0].Price.Equal(dec("0.50")) {
		t.Error("cache should route snapshot to the market's cell")
	}

	// Advance past the bar boundary so the first bar closes.
	cache.Apply(testMarketRef, snap(2, "0.50", "0.60", now.Add(6*time.Second)))

	bars := cache.Bars(testMarketRef).Snapshot()
	if len(bars) == 0 {
		t.Fatal("expected at least one closed bar after crossing the boundary")
	}
}
