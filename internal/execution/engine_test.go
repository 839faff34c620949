package execution

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbd/internal/bus"
	"arbd/internal/config"
	"arbd/internal/exchange"
	"arbd/internal/risk"
	"arbd/internal/store"
	"arbd/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testExecCfg(unwindMaxRetries int, unwindBudget, backoffMax time.Duration) config.ExecutionConfig {
	return config.ExecutionConfig{
		UnwindMaxRetries:    unwindMaxRetries,
		UnwindBudget:        unwindBudget,
		BackoffMax:          backoffMax,
		AdverseMoveCents:    1.5,
		AdverseMoveDuration: 5 * time.Second,
	}
}

// fakeAdapter is a scripted VenueAdapter: every PlaceTaker call succeeds
// immediately and queues a full fill on its Fills stream, unless
// rejectPlace is set.
type fakeAdapter struct {
	venue       types.Venue
	rejectPlace bool
	neverFill   bool
	fillDelay   time.Duration
	fills       chan types.Fill
	placed      []types.OrderIntent
	canceled    []string
}

func newFakeAdapter(venue types.Venue) *fakeAdapter {
	return &fakeAdapter{venue: venue, fills: make(chan types.Fill, 16)}
}

func (f *fakeAdapter) Venue() types.Venue { return f.venue }

func (f *fakeAdapter) StreamBooks(ctx context.Context, marketRefs []string) (<-chan types.BookSnapshot, error) {
	ch := make(chan types.BookSnapshot)
	return ch, nil
}

func (f *fakeAdapter) PlaceTaker(ctx context.Context, intent types.OrderIntent) (types.OrderAck, error) {
	f.placed = append(f.placed, intent)
	if f.rejectPlace {
		return types.OrderAck{}, types.Rejection{IntentID: intent.IntentID, Reason: "rejected"}
	}
	orderID := string(intent.Venue) + ":" + intent.MarketRef
	ack := types.OrderAck{IntentID: intent.IntentID, VenueOrderID: orderID, AcceptedAt: time.Now()}

	if f.neverFill {
		return ack, nil
	}

	go func() {
		if f.fillDelay > 0 {
			time.Sleep(f.fillDelay)
		}
		f.fills <- types.Fill{OrderID: orderID, Px: intent.LimitPx, Qty: intent.Qty, TS: time.Now()}
	}()

	return ack, nil
}

func (f *fakeAdapter) Fills(ctx context.Context) <-chan types.Fill { return f.fills }

func (f *fakeAdapter) Cancel(ctx context.Context, venueOrderID string) (types.CancelResult, error) {
	f.canceled = append(f.canceled, venueOrderID)
	return types.Cancelled, nil
}

func (f *fakeAdapter) CancelAll(ctx context.Context) error { return nil }

func testIntent() types.ExecutionIntent {
	now := time.Now()
	return types.ExecutionIntent{
		PairID:        "p1",
		ChosenPackage: types.PackageAYesBNo,
		Primary: types.OrderIntent{
			IntentID: "i-a", Venue: types.VenueA, MarketRef: "A:m-a", Side: types.BuyYes,
			LimitPx: decimal.RequireFromString("0.48"), Qty: decimal.NewFromInt(50),
			CreatedAt: now, Deadline: now.Add(time.Second),
		},
		Hedge: types.OrderIntent{
			IntentID: "i-b", Venue: types.VenueB, MarketRef: "B:m-b", Side: types.BuyNo,
			LimitPx: decimal.RequireFromString("0.49"), Qty: decimal.NewFromInt(50),
			CreatedAt: now, Deadline: now.Add(time.Second),
		},
		FeeVersionHash: "hash1",
		Deadline:       now.Add(2 * time.Second),
	}
}

func TestEngineSubmitSettlesOnDoubleFill(t *testing.T) {
	t.Parallel()
	adapterA := newFakeAdapter(types.VenueA)
	adapterB := newFakeAdapter(types.VenueB)
	adapters := map[types.Venue]exchange.VenueAdapter{types.VenueA: adapterA, types.VenueB: adapterB}

	positions := NewPositions()
	b := bus.New(64, testLogger())
	events, unsubscribe := b.Subscribe(context.Background())
	defer unsubscribe()

	r := risk.NewController(config.RiskConfig{PairsMax: 8, VenueCapUSD: 5000, PerContractExposureUSD: 500, StopsDailyPct: 50, StopsWeeklyPct: 50, StopsMonthlyPct: 50, MinHedgeProbability: 0, EquityUSD: 10000}, 0, time.Second, positions, testLogger())

	eng, err := New(adapters, positions, r, b, nil, nil, testExecCfg(3, 100*time.Millisecond, 200*time.Millisecond), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.Start(context.Background())
	defer eng.Stop()

	if !eng.Submit(testIntent()) {
		t.Fatal("Submit returned false, want true")
	}

	deadline := time.After(2 * time.Second)
	sawSettled := false
	for !sawSettled {
		select {
		case evt := <-events:
			if evt.Type == bus.TradeSettled {
				sawSettled = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for TradeSettled")
		}
	}

	if pos, ok := positions.Snapshot(types.VenueA, "A:m-a"); !ok || !pos.QtyYes.Equal(decimal.NewFromInt(50)) {
		t.Errorf("position A = %+v, ok=%v, want QtyYes=50", pos, ok)
	}
}

func TestEngineSubmitRejectsDuplicatePair(t *testing.T) {
	t.Parallel()
	adapterA := newFakeAdapter(types.VenueA)
	adapterB := newFakeAdapter(types.VenueB)
	adapterA.fillDelay = 500 * time.Millisecond
	adapters := map[types.Venue]exchange.VenueAdapter{types.VenueA: adapterA, types.VenueB: adapterB}

	positions := NewPositions()
	b := bus.New(64, testLogger())
	r := testControllerWith(positions)

	eng, err := New(adapters, positions, r, b, nil, nil, testExecCfg(1, 50*time.Millisecond, 50*time.Millisecond), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.Start(context.Background())
	defer eng.Stop()

	if !eng.Submit(testIntent()) {
		t.Fatal("first Submit should succeed")
	}
	if eng.Submit(testIntent()) {
		t.Error("second Submit for the same pair should be rejected while the first is in flight")
	}
}

func TestEngineSubmitPersistsTradeAndPosition(t *testing.T) {
	t.Parallel()
	adapterA := newFakeAdapter(types.VenueA)
	adapterB := newFakeAdapter(types.VenueB)
	adapters := map[types.Venue]exchange.VenueAdapter{types.VenueA: adapterA, types.VenueB: adapterB}

	positions := NewPositions()
	b := bus.New(64, testLogger())
	events, unsubscribe := b.Subscribe(context.Background())
	defer unsubscribe()
	r := testControllerWith(positions)

	dir := t.TempDir()
	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	eng, err := New(adapters, positions, r, b, st, nil, testExecCfg(3, 100*time.Millisecond, 200*time.Millisecond), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.Start(context.Background())

	if !eng.Submit(testIntent()) {
		t.Fatal("Submit returned false, want true")
	}

	deadline := time.After(2 * time.Second)
	sawSettled := false
	for !sawSettled {
		select {
		case evt := <-events:
			if evt.Type == bus.TradeSettled {
				sawSettled = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for TradeSettled")
		}
	}

	// Stop waits for the submitted slot's goroutine (including its
	// post-run persist step) before closing the store.
	eng.Stop()

	reopened, err := store.Open(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	trades, err := reopened.LoadTrades()
	if err != nil {
		t.Fatalf("LoadTrades: %v", err)
	}
	if len(trades) != 1 || trades[0].PairID != "p1" {
		t.Fatalf("trades = %+v, want one record for pair p1", trades)
	}

	pos, err := reopened.LoadPosition(types.VenueA, "A:m-a")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if pos == nil || !pos.QtyYes.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("loaded position = %+v, want QtyYes=50", pos)
	}
}

func testControllerWith(positions *Positions) *risk.Controller {
	cfg := config.RiskConfig{PairsMax: 8, VenueCapUSD: 5000, PerContractExposureUSD: 500, StopsDailyPct: 50, StopsWeeklyPct: 50, StopsMonthlyPct: 50, MinHedgeProbability: 0, EquityUSD: 10000}
	return risk.NewController(cfg, 0, time.Second, positions, testLogger())
}
