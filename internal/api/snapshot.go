package api

import (
	"time"

	"github.com/shopspring/decimal"

	"arbd/internal/config"
	"arbd/internal/risk"
	"arbd/pkg/types"
)

// maxRecentTrades bounds how many ledger entries a snapshot surfaces;
// the full history lives in the store's append-only ledger.
const maxRecentTrades = 50

// SnapshotProvider exposes read-only state to the observability surface.
// Implemented by the live registry/execution/risk/store instances wired
// in cmd/arbd/main.go, kept narrow so the api package never imports
// the packages that own that state directly.
type SnapshotProvider interface {
	ActivePairs() []types.Pair
	LatestEdge(pairID string) (types.EdgeQuote, bool)
	Positions() []types.Position
	RecentTrades() []types.TradeRecord
	RiskSnapshot() risk.Snapshot
}

// BuildSnapshot aggregates state from every subsystem into one
// dashboard-ready view. Grounded on the teacher's BuildSnapshot, with
// the per-market MarketStatus/Scanner aggregation replaced by this
// system's pair/edge/position/trade vocabulary.
func BuildSnapshot(provider SnapshotProvider, cfg config.Config) ArbSnapshot {
	pairs := provider.ActivePairs()
	views := make([]PairView, 0, len(pairs))
	for _, p := range pairs {
		view := PairView{
			PairID:          p.PairID,
			MarketARef:      p.MarketA.Ref(),
			MarketBRef:      p.MarketB.Ref(),
			SimilarityScore: p.SimilarityScore,
			Active:          p.Active,
		}
		if edge, ok := provider.LatestEdge(p.PairID); ok {
			view.LastEdge = edgeView(edge)
		}
		views = append(views, view)
	}

	positions := provider.Positions()
	posViews := make([]PositionView, 0, len(positions))
	for _, pos := range positions {
		posViews = append(posViews, positionView(pos))
	}

	trades := provider.RecentTrades()
	if len(trades) > maxRecentTrades {
		trades = trades[len(trades)-maxRecentTrades:]
	}
	tradeViews := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		tradeViews = append(tradeViews, TradeView{
			PairID:   t.PairID,
			Outcome:  t.Outcome,
			Reason:   t.Reason,
			ClosedAt: t.ClosedAt,
		})
	}

	return ArbSnapshot{
		Timestamp: time.Now(),
		Pairs:     views,
		Positions: posViews,
		Trades:    tradeViews,
		Risk:      riskView(provider.RiskSnapshot()),
		Config:    NewConfigSummary(cfg),
	}
}

func edgeView(q types.EdgeQuote) *EdgeView {
	return &EdgeView{
		TS:             q.TS,
		ChosenPackage:  q.ChosenPackage,
		Feasible:       q.Feasible,
		NetEdgeCents:   toFloat(q.NetEdgeCents),
		GrossEdgeCents: toFloat(q.GrossEdgeCents),
		FeesCents:      toFloat(q.FeesCents),
		FrictionCents:  toFloat(q.FrictionCents),
		SlippageCents:  toFloat(q.SlippageCents),
		Leader:         q.Leader,
	}
}

func positionView(pos types.Position) PositionView {
	return PositionView{
		Venue:       pos.Venue,
		MarketRef:   pos.MarketRef,
		QtyYes:      toFloat(pos.QtyYes),
		QtyNo:       toFloat(pos.QtyNo),
		AvgPxYes:    toFloat(pos.AvgPxYes),
		AvgPxNo:     toFloat(pos.AvgPxNo),
		RealizedPnL: toFloat(pos.RealizedPnL),
		LastUpdated: pos.LastUpdated,
	}
}

func riskView(s risk.Snapshot) RiskView {
	return RiskView{
		ActiveHedges:       s.ActiveHedges,
		PairsMax:           s.PairsMax,
		VenueDown:          s.VenueDown,
		DailyRealizedPnL:   s.DailyRealizedPnL,
		WeeklyRealizedPnL:  s.WeeklyRealizedPnL,
		MonthlyRealizedPnL: s.MonthlyRealizedPnL,
		EquityUSD:          s.EquityUSD,
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
