// Package types defines the shared data model for the arbitrage daemon.
//
// This is the common vocabulary crossing every internal package: venues,
// markets, pairs, book snapshots, fee packs, edge quotes, positions, order
// intents, fills, and trade records. It has no dependency on any internal
// package, so it can be imported by every layer without cycles.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Venue identifies one of the two trading venues this daemon arbitrages
// between. The system is permanently two-venue; a third venue would need
// a pair model change, not just a new constant.
type Venue string

const (
	VenueA Venue = "A"
	VenueB Venue = "B"
)

// Other returns the counterparty venue in a pair.
func (v Venue) Other() Venue {
	if v == VenueA {
		return VenueB
	}
	return VenueA
}

// Side is the direction of a taker order: buying YES or buying NO.
// Binary markets never rest bids on "SELL YES" as a primitive — selling
// YES is economically identical to buying NO at (1 - price), so the
// execution engine only ever issues BuyYes / BuyNo orders.
type Side string

const (
	BuyYes Side = "BUY_YES"
	BuyNo  Side = "BUY_NO"
)

// Package is one of the two directions a pair can be traded.
type Package string

const (
	// PackageAYesBNo buys YES on venue A and NO on venue B.
	PackageAYesBNo Package = "A_YES_B_NO"
	// PackageBYesANo is the mirror: buys YES on venue B and NO on venue A.
	PackageBYesANo Package = "B_YES_A_NO"
)

// Leader identifies which venue's price series statistically precedes the
// other's in the current lead-lag window, or none if no stable leader.
type Leader string

const (
	LeaderA    Leader = "A"
	LeaderB    Leader = "B"
	LeaderNone Leader = "none"
)

// TradeOutcome is the terminal classification of a completed hedge attempt.
type TradeOutcome string

const (
	OutcomeCommitted TradeOutcome = "Committed"
	OutcomeUnwound   TradeOutcome = "Unwound"
	OutcomeFailed    TradeOutcome = "Failed"
)

// CancelResult is the outcome of a single-order cancel request.
type CancelResult string

const (
	Cancelled CancelResult = "Cancelled"
	TooLate   CancelResult = "TooLate"
)

// RoundingRule controls how a FeePack rounds per-fill fee amounts.
type RoundingRule string

const (
	RoundHalfUp RoundingRule = "half_up"
	RoundDown   RoundingRule = "down"
	RoundUp     RoundingRule = "up"
)

// ————————————————————————————————————————————————————————————————————————
// Market & pair catalogue
// ————————————————————————————————————————————————————————————————————————

// Market is a single binary-outcome market on one venue.
type Market struct {
	Venue            Venue
	MarketID         string
	Symbol           string
	CloseTime        time.Time
	ResolutionSource string
	Binary           bool
	MinTick          decimal.Decimal
	LotSize          decimal.Decimal
	Active           bool
}

// Ref uniquely identifies a Market for map keys and log fields.
func (m Market) Ref() string {
	return string(m.Venue) + ":" + m.MarketID
}

// Pair is a cross-venue pair of markets the external matcher has proven
// equivalent: the unit of trading for this system.
type Pair struct {
	PairID         string
	MarketA        Market
	MarketB        Market
	SimilarityScore float64
	RulesPassed    bool
	Active         bool
}

// Valid reports whether the pair satisfies the invariants in §3: both
// markets binary, both active, similarity above the acceptance threshold,
// and all hard-rule predicates true. acceptScore is the configured
// llm_accept_score (default 0.92).
func (p Pair) Valid(acceptScore float64) bool {
	return p.MarketA.Binary && p.MarketB.Binary &&
		p.MarketA.Active && p.MarketB.Active &&
		p.SimilarityScore >= acceptScore &&
		p.RulesPassed
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// Level is a single price/size pair in an order book.
type Level struct {
	Price decimal.Decimal // rational in [0, 1], or integer cents in [0, 100]
	Size  decimal.Decimal // non-negative quantity
}

// BookSnapshot is a normalised, venue-agnostic view of one market's order
// book at a point in time. Adapters are the sole producers; the book
// cache is the sole consumer that mutates cached state from it.
type BookSnapshot struct {
	MarketRef  string // Market.Ref()
	ReceivedAt time.Time
	VenueTS    time.Time
	Bids       []Level // ordered best-first (descending price)
	Asks       []Level // ordered best-first (ascending price)
	SequenceNo uint64
}

// Valid reports the cross-side invariant: best bid below best ask when
// both sides are present.
func (s BookSnapshot) Valid() bool {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return true
	}
	return s.Bids[0].Price.LessThan(s.Asks[0].Price)
}

// BestBid returns the top bid level and whether one exists.
func (s BookSnapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level and whether one exists.
func (s BookSnapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// Mid returns the midpoint of best bid and best ask, if both sides exist.
func (s BookSnapshot) Mid() (decimal.Decimal, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	two := decimal.NewFromInt(2)
	return bid.Price.Add(ask.Price).Div(two), true
}

// ————————————————————————————————————————————————————————————————————————
// Fees and frictions
// ————————————————————————————————————————————————————————————————————————

// Frictions bundles the non-exchange costs of executing a leg on a venue.
type Frictions struct {
	GasCost    decimal.Decimal // flat cost in cents, on-chain settled venues
	BridgeCost decimal.Decimal // flat cost in cents, cross-chain settled venues
	OnrampBps  int             // fiat on/off-ramp spread, basis points
	FxSpreadBps int            // FX conversion spread, basis points
}

// FeePack is an immutable, versioned bundle of per-venue fees and
// frictions used for edge math. Mutations publish a new version and a
// new VersionHash; existing EdgeQuotes keep referencing the old one.
type FeePack struct {
	Venue         Venue
	TakerBps      int
	MakerBps      int
	ProfitFeeBps  int
	RoundingRule  RoundingRule
	Frictions     Frictions
	VersionHash   string
	PublishedAt   time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Signal engine output
// ————————————————————————————————————————————————————————————————————————

// EdgeQuote is the signal engine's per-pair, per-computation output: the
// winning package (if any) and the full cent-denominated edge breakdown.
type EdgeQuote struct {
	PairID          string
	TS              time.Time
	ChosenPackage   Package
	Feasible        bool
	IntendedQty     decimal.Decimal
	GrossEdgeCents  decimal.Decimal
	FeesCents       decimal.Decimal
	FrictionCents   decimal.Decimal
	SlippageCents   decimal.Decimal
	NetEdgeCents    decimal.Decimal
	Leader          Leader
	LeaderConfidence float64
	FeeVersionHash  string // combined hash of both venues' FeePack versions
	BookASeq        uint64
	BookBSeq        uint64

	// YesLegLimitPx / NoLegLimitPx are the walked-depth worst acceptable
	// prices (fraction in [0,1]) for the chosen package's YES leg and NO
	// leg, used verbatim as order limit prices (configured slack is 0 by
	// default).
	YesLegLimitPx decimal.Decimal
	NoLegLimitPx  decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Positions, intents, fills
// ————————————————————————————————————————————————————————————————————————

// Position is the running net for one (venue, market): signed YES/NO
// quantities and their average entry prices. Owned exclusively by the
// execution engine; every other reader sees a snapshot copy.
type Position struct {
	Venue       Venue
	MarketRef   string
	QtyYes      decimal.Decimal
	QtyNo       decimal.Decimal
	AvgPxYes    decimal.Decimal
	AvgPxNo     decimal.Decimal
	RealizedPnL decimal.Decimal
	LastUpdated time.Time
}

// OrderIntent is a single leg dispatched to a venue adapter.
type OrderIntent struct {
	IntentID  string
	Venue     Venue
	MarketRef string
	Side      Side
	LimitPx   decimal.Decimal
	Qty       decimal.Decimal
	CreatedAt time.Time
	Deadline  time.Time
}

// ExecutionIntent is the output of risk admission: a fully-specified,
// two-legged hedge ready for the execution engine, with the leader leg
// (per the lead-lag hint, or MarketA's venue if no stable leader) first.
type ExecutionIntent struct {
	PairID         string
	ChosenPackage  Package
	Primary        OrderIntent // placed first
	Hedge          OrderIntent // placed immediately after a primary ack
	FeeVersionHash string
	Deadline       time.Time
}

// OrderAck confirms a venue accepted an OrderIntent.
type OrderAck struct {
	IntentID      string
	VenueOrderID  string
	AcceptedAt    time.Time
}

// Rejection is returned by an adapter instead of an OrderAck when the
// venue synchronously refuses an order (insufficient balance, price
// outside band, market halted, or the venue is currently down).
type Rejection struct {
	IntentID string
	Reason   string
}

func (r Rejection) Error() string { return "order rejected: " + r.Reason }

// Fill is a single execution report against a venue order.
type Fill struct {
	OrderID string
	Px      decimal.Decimal
	Qty     decimal.Decimal
	TS      time.Time
	FeePaid decimal.Decimal
}

// TradeRecord is the terminal record of one hedge attempt, written to the
// append-only ledger regardless of outcome.
type TradeRecord struct {
	PairID         string
	IntentA        OrderIntent
	IntentB        OrderIntent
	StatusA        string
	StatusB        string
	RealisedEdge   decimal.Decimal
	Slippage       decimal.Decimal
	FeeVersionHash string
	Outcome        TradeOutcome
	Reason         string // e.g. "timeout", "adverse_move", "leg_risk"
	ClosedAt       time.Time
}
