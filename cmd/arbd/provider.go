package main

import (
	"log/slog"

	"arbd/internal/api"
	"arbd/internal/execution"
	"arbd/internal/registry"
	"arbd/internal/risk"
	"arbd/internal/signal"
	"arbd/internal/store"
	"arbd/pkg/types"
)

// snapshotProvider composes the four subsystems the observability
// surface needs to read into the single narrow api.SnapshotProvider
// interface, without handing internal/api a direct dependency on any of
// them.
type snapshotProvider struct {
	registry  *registry.Registry
	signal    *signal.Engine
	positions *execution.Positions
	store     *store.Store
	risk      *risk.Controller
	logger    *slog.Logger
}

var _ api.SnapshotProvider = (*snapshotProvider)(nil)

func (p *snapshotProvider) ActivePairs() []types.Pair { return p.registry.ActivePairs() }

func (p *snapshotProvider) LatestEdge(pairID string) (types.EdgeQuote, bool) {
	return p.signal.Latest(pairID)
}

func (p *snapshotProvider) Positions() []types.Position { return p.positions.All() }

func (p *snapshotProvider) RecentTrades() []types.TradeRecord {
	trades, err := p.store.LoadTrades()
	if err != nil {
		p.logger.Error("load trades for snapshot", "error", err)
		return nil
	}
	return trades
}

func (p *snapshotProvider) RiskSnapshot() risk.Snapshot { return p.risk.Snapshot() }
