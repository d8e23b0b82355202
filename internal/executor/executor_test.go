package executor

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hl-copytrader/internal/config"
	"hl-copytrader/internal/exchange"
	"hl-copytrader/internal/risk"
	"hl-copytrader/internal/sizer"
	"hl-copytrader/internal/store"
	"hl-copytrader/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// fakeGateway is an in-memory stand-in for the exchange Gateway: every
// PlaceX call records its action and returns a resting order with an
// incrementing order ID, unless forced to fail via placeErr.
type fakeGateway struct {
	mu       sync.Mutex
	mid      decimal.Decimal
	meta     types.AssetMeta
	snapshot types.AccountSnapshot
	nextOID  int64
	placed   []types.Side
	placeErr error
	leverage int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		mid:     dec(60000),
		meta:    types.AssetMeta{Symbol: "BTC", Index: 0, SizeDecimals: 4, MaxLeverage: 50},
		nextOID: 1,
		snapshot: types.AccountSnapshot{
			Equity:    dec(1000),
			Positions: map[string]types.Position{},
			Orders:    map[int64]types.Order{},
		},
	}
}

func (g *fakeGateway) AssetMeta(ctx context.Context, symbol string) (types.AssetMeta, error) {
	return g.meta, nil
}

func (g *fakeGateway) MidPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return g.mid, nil
}

func (g *fakeGateway) Snapshot(ctx context.Context, address string) (types.AccountSnapshot, error) {
	return g.snapshot.Clone(), nil
}

func (g *fakeGateway) SetLeverage(ctx context.Context, meta types.AssetMeta, leverage int, isCross bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leverage = leverage
	return nil
}

func (g *fakeGateway) place(side types.Side) (types.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placeErr != nil {
		return types.OrderStatus{}, g.placeErr
	}
	g.placed = append(g.placed, side)
	oid := g.nextOID
	g.nextOID++
	return types.OrderStatus{Resting: &types.RestingStatus{OrderID: oid}}, nil
}

func (g *fakeGateway) PlaceLimit(ctx context.Context, meta types.AssetMeta, side types.Side, size, price decimal.Decimal, tif types.TimeInForce, reduceOnly bool) (types.OrderStatus, error) {
	return g.place(side)
}

func (g *fakeGateway) PlaceMarket(ctx context.Context, meta types.AssetMeta, side types.Side, size decimal.Decimal, mid, slippagePct decimal.Decimal, reduceOnly bool) (types.OrderStatus, error) {
	return g.place(side)
}

func (g *fakeGateway) PlaceTrigger(ctx context.Context, meta types.AssetMeta, side types.Side, size, triggerPx, limitPx decimal.Decimal, tpsl types.TPSL, isMarket, reduceOnly bool) (types.OrderStatus, error) {
	return g.place(side)
}

func (g *fakeGateway) Cancel(ctx context.Context, meta types.AssetMeta, orderID int64) error {
	return nil
}

type fakeTarget struct {
	pos    map[string]types.Position
	equity decimal.Decimal
}

func (f *fakeTarget) TargetPosition(symbol string) (types.Position, bool) {
	p, ok := f.pos[symbol]
	return p, ok
}

func (f *fakeTarget) TargetEquity() decimal.Decimal { return f.equity }

type fakeSink struct {
	mu      sync.Mutex
	actions []string
	skips   []types.SkipReason
}

func (s *fakeSink) NotifyAction(action types.IntendedAction, outcome string, orderID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, outcome)
}

func (s *fakeSink) NotifySkip(skip types.Skip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skips = append(s.skips, skip.Reason)
}

func newTestExecutor(t *testing.T, gw *fakeGateway, target TargetProvider, sink Sink) *Executor {
	t.Helper()
	cfg := config.Config{
		Hyperliquid: config.HyperliquidConfig{FollowerAddress: "0xfollower"},
		Sizing:      config.SizingConfig{Mode: "proportional", PortfolioRatio: 0.01, MaxPositionSizeUSD: 10000, MaxTotalExposureUSD: 50000},
		Leverage:    config.LeverageConfig{Policy: "match", MinLeverage: 1, MaxLeverage: 50},
		CopyRules:   config.CopyRulesConfig{MinEntryQualityPct: 5, MinPositionNotional: 10},
	}
	sz := sizer.New(cfg.Sizing, cfg.Leverage, cfg.CopyRules)
	riskMgr := risk.NewManager(cfg.CopyRules, testLogger())
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return New(cfg, gw, sz, riskMgr, target, st, sink, testLogger())
}

func TestBootstrapAppliesFollowerSnapshotAndRatio(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	gw.snapshot.Equity = dec(500)
	target := &fakeTarget{equity: dec(5000)}
	exec := newTestExecutor(t, gw, target, &fakeSink{})

	if err := exec.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if exec.FollowerEquity() != 500 {
		t.Errorf("FollowerEquity = %v, want 500", exec.FollowerEquity())
	}
	if exec.TargetEquity() != 5000 {
		t.Errorf("TargetEquity = %v, want 5000", exec.TargetEquity())
	}
	if got, want := exec.Ratio(), 0.1; got != want {
		t.Errorf("Ratio = %v, want %v (500/5000)", got, want)
	}
}

// S1 — an open event on the target dispatches a follower open and the sink
// sees a resting outcome.
func TestHandleEventDispatchesOpenAndRecordsCursor(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	target := &fakeTarget{equity: dec(0)}
	sink := &fakeSink{}
	exec := newTestExecutor(t, gw, target, sink)
	if err := exec.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	ev := types.Event{
		Kind: types.EventPositionOpened, Symbol: "BTC", Side: types.BUY,
		Size: dec(1), EntryPrice: dec(60000), Leverage: 10, Seq: 7,
	}
	exec.handleEvent(context.Background(), ev)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.actions) != 1 || sink.actions[0] != "resting" {
		t.Fatalf("sink.actions = %v, want [resting]", sink.actions)
	}

	exec.checkpointMu.Lock()
	cursor, ok := exec.checkpoint.Cursors["BTC"]
	exec.checkpointMu.Unlock()
	if !ok || cursor.LastEventSeq != 7 {
		t.Fatalf("checkpoint cursor = %+v, ok=%v, want seq 7", cursor, ok)
	}
}

// Below the min-notional gate, the Sizer skips and the Executor never
// calls the Gateway.
func TestHandleEventBelowMinNotionalSkips(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	gw.mid = dec(60000)
	target := &fakeTarget{}
	sink := &fakeSink{}
	exec := newTestExecutor(t, gw, target, sink)
	if err := exec.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	ev := types.Event{
		Kind: types.EventPositionOpened, Symbol: "BTC", Side: types.BUY,
		Size: dec(0.0001), EntryPrice: dec(60000), Leverage: 10,
	}
	exec.handleEvent(context.Background(), ev)

	gw.mu.Lock()
	placed := len(gw.placed)
	gw.mu.Unlock()
	if placed != 0 {
		t.Fatalf("expected no orders placed below min notional, got %d", placed)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.skips) != 1 || sink.skips[0] != types.SkipBelowMinNotional {
		t.Fatalf("sink.skips = %v, want [below min notional]", sink.skips)
	}
}

// Testable Property 5 — a symbol's dispatched actions preserve event
// order even when events for two symbols interleave, since each symbol
// gets its own serial queue.
func TestRunPreservesPerSymbolOrder(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	target := &fakeTarget{}
	sink := &fakeSink{}
	exec := newTestExecutor(t, gw, target, sink)
	if err := exec.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan types.Event, 8)
	done := make(chan struct{})
	go func() {
		exec.Run(ctx, events)
		close(done)
	}()

	events <- types.Event{Kind: types.EventPositionOpened, Symbol: "BTC", Side: types.BUY, Size: dec(1), EntryPrice: dec(60000), Leverage: 10, Seq: 1}
	events <- types.Event{Kind: types.EventPositionOpened, Symbol: "BTC", Side: types.SELL, Size: dec(0.5), PriorSize: dec(1), EntryPrice: dec(60000), Leverage: 10, Seq: 2}
	close(events)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after events channel closed")
	}
	cancel()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.actions)+len(sink.skips) != 2 {
		t.Fatalf("expected 2 outcomes total, got actions=%v skips=%v", sink.actions, sink.skips)
	}
}

func TestAuthErrorStopsExecutor(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	gw.placeErr = exchange.ErrAuth
	target := &fakeTarget{}
	sink := &fakeSink{}
	exec := newTestExecutor(t, gw, target, sink)
	if err := exec.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	ev := types.Event{
		Kind: types.EventPositionOpened, Symbol: "BTC", Side: types.BUY,
		Size: dec(1), EntryPrice: dec(60000), Leverage: 10,
	}
	exec.handleEvent(context.Background(), ev)

	select {
	case <-exec.StopCh():
	default:
		t.Fatal("expected Stop to be requested after an auth error")
	}
}
