package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbd/pkg/types"
)

func TestSaveAndLoadPosition(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos := types.Position{
		Venue:       "A",
		MarketRef:   "mkt1",
		QtyYes:      decimal.RequireFromString("10.5"),
		QtyNo:       decimal.RequireFromString("3.2"),
		AvgPxYes:    decimal.RequireFromString("0.55"),
		AvgPxNo:     decimal.RequireFromString("0.45"),
		RealizedPnL: decimal.RequireFromString("1.23"),
		LastUpdated: time.Now(),
	}

	if err := s.SavePosition(pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	loaded, err := s.LoadPosition("A", "mkt1")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadPosition returned nil")
	}
	if !loaded.QtyYes.Equal(pos.QtyYes) {
		t.Errorf("QtyYes = %s, want %s", loaded.QtyYes, pos.QtyYes)
	}
	if !loaded.AvgPxYes.Equal(pos.AvgPxYes) {
		t.Errorf("AvgPxYes = %s, want %s", loaded.AvgPxYes, pos.AvgPxYes)
	}
	if !loaded.RealizedPnL.Equal(pos.RealizedPnL) {
		t.Errorf("RealizedPnL = %s, want %s", loaded.RealizedPnL, pos.RealizedPnL)
	}
}

func TestLoadPositionMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadPosition("A", "nonexistent")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing position, got %+v", loaded)
	}
}

func TestSavePositionOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos1 := types.Position{Venue: "A", MarketRef: "mkt1", QtyYes: decimal.NewFromInt(10)}
	pos2 := types.Position{Venue: "A", MarketRef: "mkt1", QtyYes: decimal.NewFromInt(20)}

	_ = s.SavePosition(pos1)
	_ = s.SavePosition(pos2)

	loaded, err := s.LoadPosition("A", "mkt1")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if !loaded.QtyYes.Equal(decimal.NewFromInt(20)) {
		t.Errorf("QtyYes = %s, want 20 (latest save)", loaded.QtyYes)
	}
}

func TestLoadAllPositions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.SavePosition(types.Position{Venue: "A", MarketRef: "mkt1", QtyYes: decimal.NewFromInt(1)})
	_ = s.SavePosition(types.Position{Venue: "B", MarketRef: "mkt2", QtyYes: decimal.NewFromInt(2)})

	all, err := s.LoadAllPositions()
	if err != nil {
		t.Fatalf("LoadAllPositions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d positions, want 2", len(all))
	}
}

func TestAppendAndLoadTrades(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	rec1 := types.TradeRecord{PairID: "p1", Outcome: types.OutcomeCommitted, ClosedAt: time.Now()}
	rec2 := types.TradeRecord{PairID: "p2", Outcome: types.OutcomeUnwound, Reason: "hedge_rejected", ClosedAt: time.Now()}

	if err := s.AppendTrade(rec1); err != nil {
		t.Fatalf("AppendTrade: %v", err)
	}
	if err := s.AppendTrade(rec2); err != nil {
		t.Fatalf("AppendTrade: %v", err)
	}

	trades, err := s.LoadTrades()
	if err != nil {
		t.Fatalf("LoadTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if trades[0].PairID != "p1" || trades[1].PairID != "p2" {
		t.Errorf("trades out of order: %+v", trades)
	}
	if trades[1].Reason != "hedge_rejected" {
		t.Errorf("trades[1].Reason = %q, want hedge_rejected", trades[1].Reason)
	}
}

func TestLoadTradesEmptyLedger(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	// trades.log was created by Open, so this exercises the empty-ledger path.
	trades, err := s.LoadTrades()
	if err != nil {
		t.Fatalf("LoadTrades: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected no trades, got %d", len(trades))
	}
}
</content>
