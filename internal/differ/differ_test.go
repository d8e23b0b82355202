package differ

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hl-copytrader/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDiffer(blocked map[string]struct{}) (*Differ, chan types.Event) {
	out := make(chan types.Event, 64)
	if blocked == nil {
		blocked = map[string]struct{}{}
	}
	return New("0xtarget", nil, blocked, out, testLogger()), out
}

func drain(t *testing.T, out chan types.Event, n int) []types.Event {
	t.Helper()
	events := make([]types.Event, 0, n)
	deadline := time.After(time.Second)
	for len(events) < n {
		select {
		case ev := <-out:
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(events))
		}
	}
	return events
}

func TestPositionOpenedOnNewNonZeroPosition(t *testing.T) {
	t.Parallel()
	d, out := newTestDiffer(nil)

	d.handlePositions([]types.StreamRawPosition{{Coin: "BTC", Szi: "0.5", EntryPx: "60000", Leverage: 10}})

	events := drain(t, out, 1)
	ev := events[0]
	if ev.Kind != types.EventPositionOpened {
		t.Fatalf("Kind = %v, want PositionOpened", ev.Kind)
	}
	if ev.Side != types.BUY || !ev.Size.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("side/size = %v/%v, want BUY/0.5", ev.Side, ev.Size)
	}
	if ev.Leverage != 10 {
		t.Fatalf("Leverage = %d, want 10", ev.Leverage)
	}
}

func TestPositionClosedOnZeroSize(t *testing.T) {
	t.Parallel()
	d, out := newTestDiffer(nil)

	d.handlePositions([]types.StreamRawPosition{{Coin: "BTC", Szi: "0.5", EntryPx: "60000", Leverage: 10}})
	drain(t, out, 1)

	d.handlePositions([]types.StreamRawPosition{{Coin: "BTC", Szi: "0", EntryPx: "60000", Leverage: 10}})
	events := drain(t, out, 1)

	if events[0].Kind != types.EventPositionClosed {
		t.Fatalf("Kind = %v, want PositionClosed", events[0].Kind)
	}
	if !events[0].Size.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("Size = %v, want 0.5", events[0].Size)
	}
}

func TestPositionIncreasedAndReduced(t *testing.T) {
	t.Parallel()
	d, out := newTestDiffer(nil)

	d.handlePositions([]types.StreamRawPosition{{Coin: "ETH", Szi: "1.0", EntryPx: "3000", Leverage: 5}})
	drain(t, out, 1)

	d.handlePositions([]types.StreamRawPosition{{Coin: "ETH", Szi: "1.5", EntryPx: "3050", Leverage: 5}})
	inc := drain(t, out, 1)[0]
	if inc.Kind != types.EventPositionIncreased {
		t.Fatalf("Kind = %v, want PositionIncreased", inc.Kind)
	}
	if !inc.Delta.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("Delta = %v, want 0.5", inc.Delta)
	}

	d.handlePositions([]types.StreamRawPosition{{Coin: "ETH", Szi: "0.2", EntryPx: "3050", Leverage: 5}})
	red := drain(t, out, 1)[0]
	if red.Kind != types.EventPositionReduced {
		t.Fatalf("Kind = %v, want PositionReduced", red.Kind)
	}
	if !red.Delta.Equal(decimal.NewFromFloat(1.3)) {
		t.Fatalf("Delta = %v, want 1.3", red.Delta)
	}
}

func TestSignFlipEmitsCloseThenOpenInOrder(t *testing.T) {
	t.Parallel()
	d, out := newTestDiffer(nil)

	d.handlePositions([]types.StreamRawPosition{{Coin: "SOL", Szi: "10", EntryPx: "150", Leverage: 5}})
	drain(t, out, 1)

	d.handlePositions([]types.StreamRawPosition{{Coin: "SOL", Szi: "-4", EntryPx: "152", Leverage: 5}})
	events := drain(t, out, 2)

	if events[0].Kind != types.EventPositionClosed {
		t.Fatalf("events[0].Kind = %v, want PositionClosed", events[0].Kind)
	}
	if events[1].Kind != types.EventPositionOpened {
		t.Fatalf("events[1].Kind = %v, want PositionOpened", events[1].Kind)
	}
	if events[1].Side != types.SELL {
		t.Fatalf("events[1].Side = %v, want SELL", events[1].Side)
	}
}

func TestBlockedAssetDropsEventSilently(t *testing.T) {
	t.Parallel()
	d, out := newTestDiffer(map[string]struct{}{"DOGE": {}})

	d.handlePositions([]types.StreamRawPosition{{Coin: "DOGE", Szi: "-1000", EntryPx: "0.1", Leverage: 5}})

	select {
	case ev := <-out:
		t.Fatalf("expected no event for blocked asset, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPartialFillsAggregateByOrderID(t *testing.T) {
	t.Parallel()
	d, out := newTestDiffer(nil)

	now := time.Now().UnixMilli()
	d.handleFill(types.StreamRawFill{OID: 1, Coin: "BTC", Sz: "0.1", Px: "60000", Side: "B", Dir: "Open Long", StartPosition: "0", Time: now})
	d.handleFill(types.StreamRawFill{OID: 1, Coin: "BTC", Sz: "0.1", Px: "60010", Side: "B", Dir: "Open Long", StartPosition: "0", Time: now + 10})

	events := drain(t, out, 1)
	ev := events[0]
	if ev.Kind != types.EventOrderFilled {
		t.Fatalf("Kind = %v, want OrderFilled", ev.Kind)
	}
	if !ev.Size.Equal(decimal.NewFromFloat(0.2)) {
		t.Fatalf("Size = %v, want 0.2 (aggregated)", ev.Size)
	}
	wantAvg := decimal.NewFromFloat(60005)
	if !ev.EntryPrice.Equal(wantAvg) {
		t.Fatalf("EntryPrice = %v, want %v (volume-weighted)", ev.EntryPrice, wantAvg)
	}
}

func TestOrderPlacedAndCanceled(t *testing.T) {
	t.Parallel()
	d, out := newTestDiffer(nil)

	d.handleOrders([]types.StreamRawOrder{
		{OID: 100, Coin: "ETH", Side: "A", OrderType: "Limit", Sz: "1.0", LimitPx: "4000"},
	})
	placed := drain(t, out, 1)[0]
	if placed.Kind != types.EventOrderPlaced {
		t.Fatalf("Kind = %v, want OrderPlaced", placed.Kind)
	}

	d.handleOrders(nil)
	canceled := drain(t, out, 1)[0]
	if canceled.Kind != types.EventOrderCanceled {
		t.Fatalf("Kind = %v, want OrderCanceled", canceled.Kind)
	}
}

func TestDisappearingOrderWithActiveFillIsNotCanceled(t *testing.T) {
	t.Parallel()
	d, out := newTestDiffer(nil)

	d.handleOrders([]types.StreamRawOrder{
		{OID: 200, Coin: "BTC", Side: "B", OrderType: "Limit", Sz: "0.1", LimitPx: "60000"},
	})
	drain(t, out, 1)

	// A fill for the same order starts accumulating, then the order frame
	// no longer lists it — it must not be reported as canceled while a
	// fill is still pending flush.
	d.handleFill(types.StreamRawFill{OID: 200, Coin: "BTC", Sz: "0.1", Px: "60000", Side: "B", Dir: "Open Long", Time: time.Now().UnixMilli()})
	d.handleOrders(nil)

	select {
	case ev := <-out:
		if ev.Kind == types.EventOrderCanceled {
			t.Fatalf("order reported canceled while a fill was pending: %+v", ev)
		}
	case <-time.After(fillWindow + 200*time.Millisecond):
		t.Fatal("expected the pending fill to flush as OrderFilled")
	}
}

type stubFetcher struct {
	snap types.AccountSnapshot
}

func (s stubFetcher) Snapshot(ctx context.Context, address string) (types.AccountSnapshot, error) {
	return s.snap, nil
}

func TestIdempotentSnapshotRefreshEmitsNothing(t *testing.T) {
	t.Parallel()

	snap := types.AccountSnapshot{
		Positions: map[string]types.Position{
			"BTC": {Symbol: "BTC", SignedSize: decimal.NewFromFloat(0.5), EntryPrice: decimal.NewFromFloat(60000), Leverage: 10},
		},
		Orders: map[int64]types.Order{
			1: {OrderID: 1, Symbol: "ETH", Side: types.SELL, Kind: types.KindLimit, Size: decimal.NewFromFloat(1), LimitPrice: decimal.NewFromFloat(4000)},
		},
	}

	out := make(chan types.Event, 64)
	d := New("0xtarget", stubFetcher{snap: snap}, map[string]struct{}{}, out, testLogger())

	if err := d.RefreshSnapshot(context.Background()); err != nil {
		t.Fatalf("first RefreshSnapshot: %v", err)
	}
	drain(t, out, 2) // initial snapshot produces Opened + Placed

	if err := d.RefreshSnapshot(context.Background()); err != nil {
		t.Fatalf("second RefreshSnapshot: %v", err)
	}

	select {
	case ev := <-out:
		t.Fatalf("expected zero events re-applying the same snapshot, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
