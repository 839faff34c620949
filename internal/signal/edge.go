package signal

import (
	"github.com/shopspring/decimal"

	"arbd/pkg/types"
)

var (
	hundred = decimal.NewFromInt(100)
	bpsBase = decimal.NewFromInt(10000)
)

// walkYes walks a market's ask side depth-first and returns the
// size-weighted average fill price in cents and the top-of-book price in
// cents. feasible is false if the book does not hold qty contracts.
func walkYes(levels []types.Level, qty decimal.Decimal) (vwapCents, topCents decimal.Decimal, feasible bool) {
	return walkLevels(levels, qty, func(l types.Level) decimal.Decimal {
		return l.Price.Mul(hundred)
	})
}

// walkNo walks a market's bid side and returns the equivalent "buy NO"
// depth: selling YES at a bid of p is economically buying NO at (1-p).
// Bids are already best-first (highest price), which is also the best-first
// order for the derived NO-ask side (lowest NO price first).
func walkNo(levels []types.Level, qty decimal.Decimal) (vwapCents, topCents decimal.Decimal, feasible bool) {
	return walkLevels(levels, qty, func(l types.Level) decimal.Decimal {
		return hundred.Sub(l.Price.Mul(hundred))
	})
}

func walkLevels(levels []types.Level, qty decimal.Decimal, priceCents func(types.Level) decimal.Decimal) (vwapCents, topCents decimal.Decimal, feasible bool) {
	if len(levels) == 0 || qty.IsZero() {
		return decimal.Zero, decimal.Zero, false
	}
	topCents = priceCents(levels[0])

	remaining := qty
	notional := decimal.Zero
	filled := decimal.Zero
	for _, l := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := l.Size
		if take.GreaterThan(remaining) {
			take = remaining
		}
		notional = notional.Add(take.Mul(priceCents(l)))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}
	if filled.IsZero() {
		return decimal.Zero, topCents, false
	}
	vwapCents = notional.Div(filled)
	return vwapCents, topCents, remaining.LessThanOrEqual(decimal.Zero)
}

// legFeeCents and legFrictionCents compute the two venue-side costs of trading one leg:
// the taker+profit fee and the non-exchange friction, both expressed as
// bps of the contract's $1 settlement notional rather than of the entry
// price — a binary contract always settles to $1, so fee schedules in
// this domain are quoted against that fixed notional, not the traded
// price. Both round per fp.RoundingRule.
func legFeeCents(fp types.FeePack) decimal.Decimal {
	bps := decimal.NewFromInt(int64(fp.TakerBps + fp.ProfitFeeBps))
	return roundCents(hundred.Mul(bps).Div(bpsBase), fp.RoundingRule)
}

func legFrictionCents(fp types.FeePack) decimal.Decimal {
	bps := decimal.NewFromInt(int64(fp.Frictions.OnrampBps + fp.Frictions.FxSpreadBps))
	flat := fp.Frictions.GasCost.Add(fp.Frictions.BridgeCost)
	return roundCents(flat.Add(hundred.Mul(bps).Div(bpsBase)), fp.RoundingRule)
}

// roundCents applies a FeePack's per-fill rounding rule to a cent
// amount, to 4 decimal places. RoundDown and RoundUp are unconditional
// truncate-toward/away-from zero; both fee and friction amounts here
// are always non-negative, so "down" means toward zero and "up" means
// away from it. The zero value and any unrecognized rule default to
// half-up, per spec.
func roundCents(v decimal.Decimal, rule types.RoundingRule) decimal.Decimal {
	switch rule {
	case types.RoundDown:
		return v.RoundFloor(4)
	case types.RoundUp:
		return v.RoundCeil(4)
	default:
		return v.Round(4)
	}
}

// packageResult is the evaluated edge for one of the two tradeable
// packages.
type packageResult struct {
	pkg            types.Package
	feasible       bool
	grossCents     decimal.Decimal
	feesCents      decimal.Decimal
	frictionCents  decimal.Decimal
	slippageCents  decimal.Decimal
	netCents       decimal.Decimal
	yesLimitPx     decimal.Decimal
	noLimitPx      decimal.Decimal
}

func evaluatePackage(pkg types.Package, yesAsks, noBids []types.Level, yesFee, noFee types.FeePack, qty decimal.Decimal) packageResult {
	yesVwap, yesTop, yesOK := walkYes(yesAsks, qty)
	noVwap, noTop, noOK := walkNo(noBids, qty)

	res := packageResult{pkg: pkg, feasible: yesOK && noOK}
	if !res.feasible {
		return res
	}

	res.grossCents = hundred.Sub(yesVwap.Add(noVwap))
	res.feesCents = legFeeCents(yesFee).Add(legFeeCents(noFee))
	res.frictionCents = legFrictionCents(yesFee).Add(legFrictionCents(noFee))
	res.slippageCents = yesVwap.Sub(yesTop).Add(noVwap.Sub(noTop))
	res.netCents = res.grossCents.Sub(res.feesCents).Sub(res.frictionCents).Sub(res.slippageCents)
	// Limit prices are the worst level each walk reached, so a taker order
	// at that limit can take every level the VWAP was computed over.
	yesWorst, noWorst := yesTop, noTop
	for i, rem := 0, qty; i < len(yesAsks) && rem.IsPositive(); i++ {
		yesWorst = yesAsks[i].Price.Mul(hundred)
		rem = rem.Sub(yesAsks[i].Size)
	}
	for i, rem := 0, qty; i < len(noBids) && rem.IsPositive(); i++ {
		noWorst = hundred.Sub(noBids[i].Price.Mul(hundred))
		rem = rem.Sub(noBids[i].Size)
	}
	res.yesLimitPx = yesWorst.Div(hundred)
	res.noLimitPx = noWorst.Div(hundred)
	return res
}

// ComputeEdge evaluates both tradeable packages for a pair against the
// current books and fee packs, and returns the quote for whichever
// package has the higher net edge. If neither package is feasible (one
// side can't fill the intended quantity), Feasible is false.
func ComputeEdge(pair types.Pair, bookA, bookB types.BookSnapshot, feeA, feeB types.FeePack, qty decimal.Decimal) types.EdgeQuote {
	p1 := evaluatePackage(types.PackageAYesBNo, bookA.Asks, bookB.Bids, feeA, feeB, qty)
	p2 := evaluatePackage(types.PackageBYesANo, bookB.Asks, bookA.Bids, feeB, feeA, qty)

	best := p1
	if p2.feasible && (!p1.feasible || p2.netCents.GreaterThan(p1.netCents)) {
		best = p2
	}

	return types.EdgeQuote{
		PairID:         pair.PairID,
		ChosenPackage:  best.pkg,
		Feasible:       best.feasible,
		IntendedQty:    qty,
		GrossEdgeCents: best.grossCents,
		FeesCents:      best.feesCents,
		FrictionCents:  best.frictionCents,
		SlippageCents:  best.slippageCents,
		NetEdgeCents:   best.netCents,
		FeeVersionHash: feeA.VersionHash + "/" + feeB.VersionHash,
		BookASeq:       bookA.SequenceNo,
		BookBSeq:       bookB.SequenceNo,
		YesLegLimitPx:  best.yesLimitPx,
		NoLegLimitPx:   best.noLimitPx,
	}
}
