package signal

import (
	"testing"

	"github.com/shopspring/decimal"

	"arbd/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func level(price, size string) types.Level {
	return types.Level{Price: dec(price), Size: dec(size)}
}

func testPair() types.Pair {
	return types.Pair{
		PairID:          "p1",
		MarketA:         types.Market{Venue: types.VenueA, MarketID: "m-a", Binary: true, Active: true},
		MarketB:         types.Market{Venue: types.VenueB, MarketID: "m-b", Binary: true, Active: true},
		SimilarityScore: 0.95,
		RulesPassed:     true,
		Active:          true,
	}
}

// TestComputeEdgeFlatFeeNoFriction exercises seed scenario S1: a clean
// 3-cent gross edge, 0.5-cent taker fee each side, no friction or
// slippage, nets to exactly 2.0 cents.
func TestComputeEdgeFlatFeeNoFriction(t *testing.T) {
	t.Parallel()

	bookA := types.BookSnapshot{
		MarketRef: "A:m-a",
		Asks:      []types.Level{level("0.48", "100")},
		Bids:      []types.Level{level("0.47", "100")},
	}
	bookB := types.BookSnapshot{
		MarketRef: "B:m-b",
		Asks:      []types.Level{level("0.52", "100")},
		Bids:      []types.Level{level("0.51", "100")},
	}
	fee := types.FeePack{TakerBps: 50}

	q := ComputeEdge(testPair(), bookA, bookB, fee, fee, dec("50"))

	if !q.Feasible {
		t.Fatal("expected feasible quote")
	}
	if !q.GrossEdgeCents.Equal(dec("3")) {
		t.Errorf("GrossEdgeCents = %v, want 3", q.GrossEdgeCents)
	}
	if !q.FeesCents.Equal(dec("1")) {
		t.Errorf("FeesCents = %v, want 1", q.FeesCents)
	}
	if !q.NetEdgeCents.Equal(dec("2")) {
		t.Errorf("NetEdgeCents = %v, want 2", q.NetEdgeCents)
	}
	if q.ChosenPackage != types.PackageAYesBNo {
		t.Errorf("ChosenPackage = %v, want %v", q.ChosenPackage, types.PackageAYesBNo)
	}
}

// TestComputeEdgeInfeasibleWhenDepthInsufficient covers S2: depth on one
// side can't fill the intended size, so the package (and, if both are
// short, the quote) is infeasible.
func TestComputeEdgeInfeasibleWhenDepthInsufficient(t *testing.T) {
	t.Parallel()

	bookA := types.BookSnapshot{
		MarketRef: "A:m-a",
		Asks:      []types.Level{level("0.48", "5")}, // too thin for qty=50
		Bids:      []types.Level{level("0.47", "100")},
	}
	bookB := types.BookSnapshot{
		MarketRef: "B:m-b",
		Asks:      []types.Level{level("0.52", "5")},
		Bids:      []types.Level{level("0.51", "100")},
	}
	fee := types.FeePack{TakerBps: 50}

	q := ComputeEdge(testPair(), bookA, bookB, fee, fee, dec("50"))
	if q.Feasible {
		t.Error("expected infeasible quote when neither package has enough depth")
	}
}

// TestComputeEdgeSlippagePenalisesDeepWalk covers S3: walking through a
// second, worse-priced level shows up as slippage and reduces net edge
// relative to a single flat level of the same total depth.
func TestComputeEdgeSlippagePenalisesDeepWalk(t *testing.T) {
	t.Parallel()

	flatBookA := types.BookSnapshot{Asks: []types.Level{level("0.48", "100")}, Bids: []types.Level{level("0.47", "100")}}
	steppedBookA := types.BookSnapshot{
		Asks: []types.Level{level("0.48", "20"), level("0.49", "80")},
		Bids: []types.Level{level("0.47", "100")},
	}
	bookB := types.BookSnapshot{Asks: []types.Level{level("0.52", "100")}, Bids: []types.Level{level("0.51", "100")}}
	fee := types.FeePack{TakerBps: 50}

	flat := ComputeEdge(testPair(), flatBookA, bookB, fee, fee, dec("50"))
	stepped := ComputeEdge(testPair(), steppedBookA, bookB, fee, fee, dec("50"))

	if !stepped.SlippageCents.GreaterThan(decimal.Zero) {
		t.Error("walking a worse-priced level should register non-zero slippage")
	}
	if !stepped.NetEdgeCents.LessThan(flat.NetEdgeCents) {
		t.Error("deeper walk should net less edge than an equally-sized flat level")
	}
}

func TestComputeEdgePicksBetterPackage(t *testing.T) {
	t.Parallel()

	// Package B_YES_A_NO is cheaper here: B's ask is tight and A's bid is high.
	bookA := types.BookSnapshot{
		Asks: []types.Level{level("0.60", "100")}, // unattractive for A_YES_B_NO
		Bids: []types.Level{level("0.59", "100")}, // attractive NO leg for B_YES_A_NO
	}
	bookB := types.BookSnapshot{
		Asks: []types.Level{level("0.38", "100")}, // attractive YES leg for B_YES_A_NO
		Bids: []types.Level{level("0.37", "100")},
	}
	fee := types.FeePack{TakerBps: 10}

	q := ComputeEdge(testPair(), bookA, bookB, fee, fee, dec("50"))
	if q.ChosenPackage != types.PackageBYesANo {
		t.Errorf("ChosenPackage = %v, want %v", q.ChosenPackage, types.PackageBYesANo)
	}
}

// TestRoundCentsHonorsRoundingRule exercises spec §4.4 step 4: a
// FeePack's rounding_rule must change per-fill rounding behavior, not
// just be parsed and ignored.
func TestRoundCentsHonorsRoundingRule(t *testing.T) {
	t.Parallel()

	v := dec("1.00005") // exactly half at the 5th decimal

	tests := []struct {
		name string
		rule types.RoundingRule
		want decimal.Decimal
	}{
		{"down truncates toward zero", types.RoundDown, dec("1.0000")},
		{"up truncates away from zero", types.RoundUp, dec("1.0001")},
		{"half_up rounds half away from zero", types.RoundHalfUp, dec("1.0001")},
		{"unset rule defaults to half_up", "", dec("1.0001")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := roundCents(v, tt.rule); !got.Equal(tt.want) {
				t.Errorf("roundCents(%v, %q) = %v, want %v", v, tt.rule, got, tt.want)
			}
		})
	}
}

// TestLegFrictionCentsRoundDownNeverOverstatesNetEdge exercises the rule end
// to end through legFrictionCents: a RoundDown FeePack must floor a
// friction amount that would otherwise round up under the default rule.
func TestLegFrictionCentsRoundDownNeverOverstatesNetEdge(t *testing.T) {
	t.Parallel()

	fpDefault := types.FeePack{Frictions: types.Frictions{GasCost: dec("0.12345")}}
	fpDown := types.FeePack{Frictions: types.Frictions{GasCost: dec("0.12345")}, RoundingRule: types.RoundDown}

	if got := legFrictionCents(fpDefault); !got.Equal(dec("0.1235")) {
		t.Errorf("default (half_up) legFrictionCents = %v, want 0.1235", got)
	}
	if got := legFrictionCents(fpDown); !got.Equal(dec("0.1234")) {
		t.Errorf("RoundDown legFrictionCents = %v, want 0.1234", got)
	}
}
