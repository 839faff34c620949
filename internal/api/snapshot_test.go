package api

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbd/internal/config"
	"arbd/internal/risk"
	"arbd/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeProvider struct {
	pairs     []types.Pair
	edges     map[string]types.EdgeQuote
	positions []types.Position
	trades    []types.TradeRecord
	risk      risk.Snapshot
}

func (f *fakeProvider) ActivePairs() []types.Pair { return f.pairs }
func (f *fakeProvider) LatestEdge(pairID string) (types.EdgeQuote, bool) {
	q, ok := f.edges[pairID]
	return q, ok
}
func (f *fakeProvider) Positions() []types.Position          { return f.positions }
func (f *fakeProvider) RecentTrades() []types.TradeRecord    { return f.trades }
func (f *fakeProvider) RiskSnapshot() risk.Snapshot          { return f.risk }

func TestBuildSnapshotIncludesLatestEdgePerPair(t *testing.T) {
	t.Parallel()

	pair := types.Pair{PairID: "p1", MarketA: types.Market{Venue: types.VenueA, MarketID: "m-a"}, MarketB: types.Market{Venue: types.VenueB, MarketID: "m-b"}, Active: true}
	provider := &fakeProvider{
		pairs: []types.Pair{pair},
		edges: map[string]types.EdgeQuote{
			"p1": {PairID: "p1", ChosenPackage: types.PackageAYesBNo, Feasible: true, NetEdgeCents: decimal.NewFromFloat(3.2)},
		},
	}

	snap := BuildSnapshot(provider, config.Config{})

	if len(snap.Pairs) != 1 {
		t.Fatalf("len(Pairs) = %d, want 1", len(snap.Pairs))
	}
	if snap.Pairs[0].LastEdge == nil {
		t.Fatal("LastEdge is nil, want populated")
	}
	if snap.Pairs[0].LastEdge.NetEdgeCents != 3.2 {
		t.Errorf("NetEdgeCents = %v, want 3.2", snap.Pairs[0].LastEdge.NetEdgeCents)
	}
}

func TestBuildSnapshotOmitsEdgeForPairWithNoQuoteYet(t *testing.T) {
	t.Parallel()

	pair := types.Pair{PairID: "p2", MarketA: types.Market{Venue: types.VenueA, MarketID: "m-c"}, MarketB: types.Market{Venue: types.VenueB, MarketID: "m-d"}}
	provider := &fakeProvider{pairs: []types.Pair{pair}, edges: map[string]types.EdgeQuote{}}

	snap := BuildSnapshot(provider, config.Config{})

	if snap.Pairs[0].LastEdge != nil {
		t.Error("LastEdge should be nil when the signal engine hasn't quoted this pair yet")
	}
}

func TestBuildSnapshotTruncatesTradesToMostRecent(t *testing.T) {
	t.Parallel()

	trades := make([]types.TradeRecord, maxRecentTrades+10)
	for i := range trades {
		trades[i] = types.TradeRecord{PairID: "p1", Outcome: types.OutcomeCommitted, ClosedAt: time.Now()}
	}
	provider := &fakeProvider{trades: trades}

	snap := BuildSnapshot(provider, config.Config{})

	if len(snap.Trades) != maxRecentTrades {
		t.Fatalf("len(Trades) = %d, want %d", len(snap.Trades), maxRecentTrades)
	}
}
