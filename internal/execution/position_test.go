package execution

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbd/pkg/types"
)

func TestApplyFillIsIdempotentOnDuplicateReport(t *testing.T) {
	t.Parallel()

	p := NewPositions()
	ts := time.Now()
	fill := types.Fill{OrderID: "A:m-a", Px: decimal.RequireFromString("0.48"), Qty: decimal.NewFromInt(50), TS: ts}

	if !p.ApplyFill(types.VenueA, "A:m-a", types.BuyYes, fill) {
		t.Fatal("first application of a fill should be accepted")
	}
	if p.ApplyFill(types.VenueA, "A:m-a", types.BuyYes, fill) {
		t.Error("replaying the same fill report should be rejected")
	}

	pos, ok := p.Snapshot(types.VenueA, "A:m-a")
	if !ok {
		t.Fatal("expected a position to exist")
	}
	if !pos.QtyYes.Equal(decimal.NewFromInt(50)) {
		t.Errorf("QtyYes = %v, want 50 (duplicate fill must not double-count)", pos.QtyYes)
	}
}

func TestApplyFillAcceptsDistinctPartialFills(t *testing.T) {
	t.Parallel()

	p := NewPositions()
	now := time.Now()
	first := types.Fill{OrderID: "A:m-a", Px: decimal.RequireFromString("0.48"), Qty: decimal.NewFromInt(20), TS: now}
	second := types.Fill{OrderID: "A:m-a", Px: decimal.RequireFromString("0.49"), Qty: decimal.NewFromInt(30), TS: now.Add(time.Millisecond)}

	if !p.ApplyFill(types.VenueA, "A:m-a", types.BuyYes, first) {
		t.Fatal("first partial fill should be accepted")
	}
	if !p.ApplyFill(types.VenueA, "A:m-a", types.BuyYes, second) {
		t.Fatal("second, distinct partial fill should be accepted")
	}

	pos, _ := p.Snapshot(types.VenueA, "A:m-a")
	if !pos.QtyYes.Equal(decimal.NewFromInt(50)) {
		t.Errorf("QtyYes = %v, want 50 (both distinct partials counted)", pos.QtyYes)
	}
}
