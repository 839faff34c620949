package execution

import (
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbd/pkg/types"
)

// positionKey identifies one (venue, market) position.
type positionKey struct {
	venue types.Venue
	ref   string
}

// Positions is the execution engine's exclusive-owner ledger of
// per-venue-per-market net holdings. Generalizes the teacher's
// single-market Inventory (one YES/NO position per process) to a map
// keyed by (venue, market), with the same average-entry update on each
// fill. Every fill is a buy, so no fill reduces a position; realized PnL
// is added separately through ApplyRealized.
type Positions struct {
	mu        sync.RWMutex
	pos       map[positionKey]types.Position
	seenFills map[string]struct{}
}

// NewPositions creates an empty position ledger.
func NewPositions() *Positions {
	return &Positions{
		pos:       make(map[positionKey]types.Position),
		seenFills: make(map[string]struct{}),
	}
}

// fillKey identifies a single fill report. Fill carries no report ID of
// its own, so (order_id, qty, ts) stands in for one: a venue replaying
// the same report (e.g. after a feed reconnect) reproduces all three
// exactly, while two distinct partial fills on the same order always
// differ in at least timestamp.
func fillKey(fill types.Fill) string {
	return fill.OrderID + "|" + fill.Qty.String() + "|" + strconv.FormatInt(fill.TS.UnixNano(), 10)
}

// Seed installs positions restored from the store, overwriting whatever
// is currently held for each (venue, marketRef) key. Called once at
// startup before any intent is submitted.
func (p *Positions) Seed(saved []types.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pos := range saved {
		p.pos[positionKey{pos.Venue, pos.MarketRef}] = pos
	}
}

// ApplyFill updates the (venue, marketRef) position from a single fill.
// Returns false without touching the position if this exact fill was
// already applied — a report replayed after a feed reconnect must not
// double-count.
func (p *Positions) ApplyFill(venue types.Venue, marketRef string, side types.Side, fill types.Fill) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fk := fillKey(fill)
	if _, dup := p.seenFills[fk]; dup {
		return false
	}
	p.seenFills[fk] = struct{}{}

	key := positionKey{venue, marketRef}
	cur := p.pos[key]
	cur.Venue = venue
	cur.MarketRef = marketRef

	if side == types.BuyYes {
		cur.QtyYes, cur.AvgPxYes = applyBuy(cur.QtyYes, cur.AvgPxYes, fill.Qty, fill.Px)
	} else {
		cur.QtyNo, cur.AvgPxNo = applyBuy(cur.QtyNo, cur.AvgPxNo, fill.Qty, fill.Px)
	}
	cur.LastUpdated = time.Now()
	p.pos[key] = cur
	return true
}

// applyBuy folds a buy fill into a running average-entry position. This
// system only ever issues BuyYes/BuyNo taker orders (never resting
// sells), so every fill increases the position; there is no
// realized-PnL-on-reduce branch to generalize here, unlike the maker
// that could be filled on either side.
func applyBuy(qty, avgPx, fillQty, fillPx decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	totalCost := avgPx.Mul(qty).Add(fillPx.Mul(fillQty))
	newQty := qty.Add(fillQty)
	if newQty.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	return newQty, totalCost.Div(newQty)
}

// ApplyRealized records realized PnL against a position once a trade
// settles or unwinds and legs are closed out (e.g. an unwind's
// offsetting buy of the complementary side).
func (p *Positions) ApplyRealized(venue types.Venue, marketRef string, pnl decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := positionKey{venue, marketRef}
	cur := p.pos[key]
	cur.RealizedPnL = cur.RealizedPnL.Add(pnl)
	p.pos[key] = cur
}

// Snapshot returns a copy of one position.
func (p *Positions) Snapshot(venue types.Venue, marketRef string) (types.Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.pos[positionKey{venue, marketRef}]
	return pos, ok
}

// All returns a copy of every currently held position, for the
// observability snapshot endpoint.
func (p *Positions) All() []types.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Position, 0, len(p.pos))
	for _, pos := range p.pos {
		out = append(out, pos)
	}
	return out
}

// VenueNotionalUSD implements risk.PositionProvider: the total cost
// basis of every position held at a venue, across all its markets.
func (p *Positions) VenueNotionalUSD(venue types.Venue) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := decimal.Zero
	for key, pos := range p.pos {
		if key.venue != venue {
			continue
		}
		total = total.Add(notional(pos))
	}
	return total
}

// ContractNotionalUSD implements risk.PositionProvider: the combined
// YES+NO cost basis of a single market, regardless of venue (the cap is
// per contract, and a pair's two markets never share a market_ref).
func (p *Positions) ContractNotionalUSD(marketRef string) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := decimal.Zero
	for key, pos := range p.pos {
		if key.ref != marketRef {
			continue
		}
		total = total.Add(notional(pos))
	}
	return total
}

func notional(pos types.Position) decimal.Decimal {
	return pos.QtyYes.Mul(pos.AvgPxYes).Add(pos.QtyNo.Mul(pos.AvgPxNo))
}
