// Package risk implements the Risk/Admission Controller: the eight hard
// predicates gating every EdgeQuote before it may become an
// ExecutionIntent. Grounded on the teacher's risk.Manager — its
// mutex-protected aggregate state (positions, totals, kill switch) and
// its rapid-price-movement anchor pattern are reused — but adapted from
// an asynchronous channel-driven Run loop to direct synchronous method
// calls: the spec requires the signal→risk→emit critical section to
// never suspend on I/O, which an async report channel would violate.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbd/internal/config"
	"arbd/pkg/types"
)

// PositionProvider exposes the execution engine's current notional
// exposure. Risk reads positions through this narrow interface rather
// than importing the execution package, breaking what would otherwise
// be a risk↔execution import cycle (execution calls Admit; risk would
// need execution's position state).
type PositionProvider interface {
	VenueNotionalUSD(venue types.Venue) decimal.Decimal
	ContractNotionalUSD(marketRef string) decimal.Decimal
}

// Controller evaluates admission predicates and tracks the live state
// they depend on: active hedges, venue health, and rolling PnL.
type Controller struct {
	cfg             config.RiskConfig
	minNetEdgeCents decimal.Decimal
	hedgeTimeout    time.Duration
	positions       PositionProvider
	logger          *slog.Logger

	mu           sync.Mutex
	activeHedges map[string]struct{} // pair_id -> in-flight
	health       healthByVenue
	pnl          *pnlTracker
}

// NewController creates a risk controller. positions is queried live on
// every Admit call for predicates 5 and 6. minNetEdgeCents and
// hedgeTimeout come from SignalConfig/ExecutionConfig respectively —
// predicates 1 and the intent deadline reach across those config
// sections, so the caller wires them in rather than Controller reaching
// into config structs it doesn't own.
func NewController(cfg config.RiskConfig, minNetEdgeCents float64, hedgeTimeout time.Duration, positions PositionProvider, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:             cfg,
		minNetEdgeCents: decimal.NewFromFloat(minNetEdgeCents),
		hedgeTimeout:    hedgeTimeout,
		positions:       positions,
		logger:          logger.With("component", "risk"),
		activeHedges:    make(map[string]struct{}),
		health:          make(healthByVenue),
		pnl:             newPnLTracker(),
	}
}

// RecordFreshness must be called once per book, per evaluation cycle,
// before Admit — it maintains the consecutive-stale-rejection streak
// that flags a venue down per S4.
func (c *Controller) RecordFreshness(venue types.Venue, fresh bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health.get(venue).recordFreshness(fresh)
}

// ResumeVenue clears a venue's down flag (operator /api/control/resume).
func (c *Controller) ResumeVenue(venue types.Venue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health.get(venue).markHealthy()
}

// HaltVenue forces a venue down (operator /api/control/halt, or a
// LegRisk escalation): it immediately fails predicate 2 for every pair
// touching this venue, refusing new admissions until a resume.
func (c *Controller) HaltVenue(venue types.Venue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health.get(venue).markDown()
}

// VenueHealthy reports whether a venue is currently admitted.
func (c *Controller) VenueHealthy(venue types.Venue) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.health.get(venue).down
}

// RecordHedgeOutcome feeds predicate 8's per-venue success-rate estimate.
func (c *Controller) RecordHedgeOutcome(venue types.Venue, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health.get(venue).recordHedgeOutcome(success)
}

// RecordTradeResult feeds the rolling daily/weekly/monthly drawdown
// trackers with a trade's realized PnL.
func (c *Controller) RecordTradeResult(realizedPnLUSD float64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pnl.record(realizedPnLUSD, ts)
}

// BeginHedge marks a pair as having an in-flight hedge, for predicate 3.
// The caller must already hold risk admission for this pair; returns
// false if one was already active (a race the execution engine's own
// per-pair slot serialization should prevent, but this guards it too).
func (c *Controller) BeginHedge(pairID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, active := c.activeHedges[pairID]; active {
		return false
	}
	c.activeHedges[pairID] = struct{}{}
	return true
}

// EndHedge releases a pair's in-flight hedge slot on terminal state.
func (c *Controller) EndHedge(pairID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.activeHedges, pairID)
}

func (c *Controller) activeHedgeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.activeHedges)
}

// Snapshot is a point-in-time view of the controller's live admission
// state, for the observability surface. Grounded on the teacher's
// Manager.GetRiskSnapshot, generalized from a single global-exposure
// figure to the per-venue health map and rolling drawdown sums this
// spec's predicate set actually tracks.
type Snapshot struct {
	ActiveHedges    int
	PairsMax        int
	VenueDown       map[types.Venue]bool
	DailyRealizedPnL   float64
	WeeklyRealizedPnL  float64
	MonthlyRealizedPnL float64
	EquityUSD       float64
}

// Snapshot returns the controller's current state for display. Safe for
// concurrent use; never consulted by the hot Admit path.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	down := make(map[types.Venue]bool, len(c.health))
	for venue, state := range c.health {
		down[venue] = state.down
	}

	now := time.Now()
	return Snapshot{
		ActiveHedges:       len(c.activeHedges),
		PairsMax:           c.cfg.PairsMax,
		VenueDown:          down,
		DailyRealizedPnL:   c.pnl.sumSince(now, 24*time.Hour),
		WeeklyRealizedPnL:  c.pnl.sumSince(now, 7*24*time.Hour),
		MonthlyRealizedPnL: c.pnl.sumSince(now, 30*24*time.Hour),
		EquityUSD:          c.cfg.EquityUSD,
	}
}

// Admit applies the eight hard predicates in order and, on success,
// builds the ExecutionIntent for the hedged-execution engine. bookAFresh
// and bookBFresh are the freshness observations for this evaluation
// cycle (the caller is expected to have already called RecordFreshness).
func (c *Controller) Admit(quote types.EdgeQuote, pair types.Pair, bookAFresh, bookBFresh bool) (types.ExecutionIntent, error) {
	if quote.NetEdgeCents.LessThan(c.minNetEdgeCents) {
		return types.ExecutionIntent{}, ErrEdgeBelowMinimum
	}

	if !bookAFresh || !bookBFresh || !c.VenueHealthy(pair.MarketA.Venue) || !c.VenueHealthy(pair.MarketB.Venue) {
		return types.ExecutionIntent{}, ErrStaleOrVenueDown
	}

	c.mu.Lock()
	if _, active := c.activeHedges[pair.PairID]; active {
		c.mu.Unlock()
		return types.ExecutionIntent{}, ErrPairAlreadyHedging
	}
	activeCount := len(c.activeHedges)
	c.mu.Unlock()
	if activeCount >= c.cfg.PairsMax {
		return types.ExecutionIntent{}, ErrGlobalPairsCapReached
	}

	notional := quote.IntendedQty // contracts ~ $1 notional each, consistent with fee-pack math
	if err := c.checkVenueCap(pair.MarketA.Venue, notional); err != nil {
		return types.ExecutionIntent{}, err
	}
	if err := c.checkVenueCap(pair.MarketB.Venue, notional); err != nil {
		return types.ExecutionIntent{}, err
	}
	if err := c.checkContractCap(pair.MarketA.Ref(), notional); err != nil {
		return types.ExecutionIntent{}, err
	}
	if err := c.checkContractCap(pair.MarketB.Ref(), notional); err != nil {
		return types.ExecutionIntent{}, err
	}

	c.mu.Lock()
	tripped, window := c.pnl.stopTripped(time.Now(), c.cfg.EquityUSD, c.cfg.StopsDailyPct, c.cfg.StopsWeeklyPct, c.cfg.StopsMonthlyPct)
	c.mu.Unlock()
	if tripped {
		c.logger.Error("drawdown stop tripped", "window", window, "pair_id", pair.PairID)
		return types.ExecutionIntent{}, ErrDrawdownStopTripped
	}

	if prob := c.hedgeProbability(pair); prob < c.cfg.MinHedgeProbability {
		return types.ExecutionIntent{}, ErrHedgeProbabilityLow
	}

	return c.buildIntent(quote, pair), nil
}

func (c *Controller) checkVenueCap(venue types.Venue, addUSD decimal.Decimal) error {
	current := c.positions.VenueNotionalUSD(venue)
	if current.Add(addUSD).GreaterThan(decimal.NewFromFloat(c.cfg.VenueCapUSD)) {
		return ErrVenueCapExceeded
	}
	return nil
}

func (c *Controller) checkContractCap(marketRef string, addUSD decimal.Decimal) error {
	current := c.positions.ContractNotionalUSD(marketRef)
	if current.Add(addUSD).GreaterThan(decimal.NewFromFloat(c.cfg.PerContractExposureUSD)) {
		return ErrContractCapExceeded
	}
	return nil
}

// hedgeProbability estimates completion probability as the minimum of
// the two venues' recent observed hedge-success rates: the hedge needs
// both legs to fill, so the weaker venue bounds the joint estimate.
func (c *Controller) hedgeProbability(pair types.Pair) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	pa := c.health.get(pair.MarketA.Venue).successRate()
	pb := c.health.get(pair.MarketB.Venue).successRate()
	if pa < pb {
		return pa
	}
	return pb
}

// buildIntent assembles the two-legged ExecutionIntent, placing the
// lead-lag leader leg first. With no stable leader, MarketA's leg goes
// first by convention.
func (c *Controller) buildIntent(quote types.EdgeQuote, pair types.Pair) types.ExecutionIntent {
	now := time.Now()
	deadline := now.Add(c.hedgeTimeout)

	var legA, legB types.OrderIntent
	if quote.ChosenPackage == types.PackageAYesBNo {
		legA = types.OrderIntent{Venue: pair.MarketA.Venue, MarketRef: pair.MarketA.Ref(), Side: types.BuyYes, LimitPx: quote.YesLegLimitPx, Qty: quote.IntendedQty, CreatedAt: now, Deadline: deadline}
		legB = types.OrderIntent{Venue: pair.MarketB.Venue, MarketRef: pair.MarketB.Ref(), Side: types.BuyNo, LimitPx: quote.NoLegLimitPx, Qty: quote.IntendedQty, CreatedAt: now, Deadline: deadline}
	} else {
		legB = types.OrderIntent{Venue: pair.MarketB.Venue, MarketRef: pair.MarketB.Ref(), Side: types.BuyYes, LimitPx: quote.YesLegLimitPx, Qty: quote.IntendedQty, CreatedAt: now, Deadline: deadline}
		legA = types.OrderIntent{Venue: pair.MarketA.Venue, MarketRef: pair.MarketA.Ref(), Side: types.BuyNo, LimitPx: quote.NoLegLimitPx, Qty: quote.IntendedQty, CreatedAt: now, Deadline: deadline}
	}

	primary, hedge := legA, legB
	if quote.Leader == types.LeaderB {
		primary, hedge = legB, legA
	}

	return types.ExecutionIntent{
		PairID:         pair.PairID,
		ChosenPackage:  quote.ChosenPackage,
		Primary:        primary,
		Hedge:          hedge,
		FeeVersionHash: quote.FeeVersionHash,
		Deadline:       deadline,
	}
}
