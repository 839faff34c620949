package api

import (
	"time"

	"arbd/internal/config"
	"arbd/pkg/types"
)

// ArbSnapshot is the complete point-in-time state served by
// /api/snapshot and pushed to every new WebSocket connection.
// Generalizes the teacher's DashboardSnapshot from per-market
// quote/inventory state to this system's pair/edge/trade vocabulary.
type ArbSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Pairs     []PairView     `json:"pairs"`
	Positions []PositionView `json:"positions"`
	Trades    []TradeView    `json:"recent_trades"`
	Risk      RiskView       `json:"risk"`
	Config    ConfigSummary  `json:"config"`
}

// PairView is one active cross-venue pair plus its most recent
// computed edge, if the signal engine has produced one yet.
type PairView struct {
	PairID          string    `json:"pair_id"`
	MarketARef      string    `json:"market_a_ref"`
	MarketBRef      string    `json:"market_b_ref"`
	SimilarityScore float64   `json:"similarity_score"`
	Active          bool      `json:"active"`
	LastEdge        *EdgeView `json:"last_edge,omitempty"`
}

// EdgeView is the display projection of a types.EdgeQuote.
type EdgeView struct {
	TS             time.Time    `json:"ts"`
	ChosenPackage  types.Package `json:"chosen_package"`
	Feasible       bool         `json:"feasible"`
	NetEdgeCents   float64      `json:"net_edge_cents"`
	GrossEdgeCents float64      `json:"gross_edge_cents"`
	FeesCents      float64      `json:"fees_cents"`
	FrictionCents  float64      `json:"friction_cents"`
	SlippageCents  float64      `json:"slippage_cents"`
	Leader         types.Leader `json:"leader"`
}

// PositionView is the display projection of a types.Position.
type PositionView struct {
	Venue       types.Venue `json:"venue"`
	MarketRef   string      `json:"market_ref"`
	QtyYes      float64     `json:"qty_yes"`
	QtyNo       float64     `json:"qty_no"`
	AvgPxYes    float64     `json:"avg_px_yes"`
	AvgPxNo     float64     `json:"avg_px_no"`
	RealizedPnL float64     `json:"realized_pnl"`
	LastUpdated time.Time   `json:"last_updated"`
}

// TradeView is the display projection of a types.TradeRecord.
type TradeView struct {
	PairID   string            `json:"pair_id"`
	Outcome  types.TradeOutcome `json:"outcome"`
	Reason   string            `json:"reason,omitempty"`
	ClosedAt time.Time         `json:"closed_at"`
}

// RiskView is the display projection of a risk.Snapshot.
type RiskView struct {
	ActiveHedges       int                  `json:"active_hedges"`
	PairsMax           int                  `json:"pairs_max"`
	VenueDown          map[types.Venue]bool `json:"venue_down"`
	DailyRealizedPnL   float64              `json:"daily_realized_pnl"`
	WeeklyRealizedPnL  float64              `json:"weekly_realized_pnl"`
	MonthlyRealizedPnL float64              `json:"monthly_realized_pnl"`
	EquityUSD          float64              `json:"equity_usd"`
}

// ConfigSummary surfaces the tunables an operator cares about without
// leaking venue credentials.
type ConfigSummary struct {
	MinNetEdgeCents  float64 `json:"min_net_edge_cents"`
	FreshnessBudget  string  `json:"freshness_budget"`
	HedgeTimeout     string  `json:"hedge_timeout"`
	UnwindBudget     string  `json:"unwind_budget"`
	PairsMax         int     `json:"pairs_max"`
	VenueCapUSD      float64 `json:"venue_cap_usd"`
	DryRun           bool    `json:"dry_run"`
}

// NewConfigSummary projects the subset of config worth showing an operator.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		MinNetEdgeCents: cfg.Signal.MinNetEdgeCents,
		FreshnessBudget: cfg.Signal.FreshnessBudget.String(),
		HedgeTimeout:    cfg.Execution.HedgeTimeout.String(),
		UnwindBudget:    cfg.Execution.UnwindBudget.String(),
		PairsMax:        cfg.Risk.PairsMax,
		VenueCapUSD:     cfg.Risk.VenueCapUSD,
		DryRun:          cfg.DryRun,
	}
}
