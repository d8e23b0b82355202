package sizer

import (
	"testing"

	"github.com/shopspring/decimal"

	"hl-copytrader/internal/config"
	"hl-copytrader/pkg/types"
)

func testSizer() *Sizer {
	return New(
		config.SizingConfig{MaxPositionSizeUSD: 1000, MaxTotalExposureUSD: 5000},
		config.LeverageConfig{Policy: "match", MinLeverage: 1, MaxLeverage: 50},
		config.CopyRulesConfig{MinEntryQualityPct: 5, MinPositionNotional: 10},
	)
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// S1 — Open long copy.
func TestDecideOpenLongCopy(t *testing.T) {
	t.Parallel()
	s := testSizer()

	ev := types.Event{
		Kind: types.EventPositionOpened, Symbol: "BTC", Side: types.BUY,
		Size: dec(0.5), EntryPrice: dec(60000), Leverage: 10,
	}
	ctx := Context{
		Ratio:     dec(0.01),
		MidPrice:  dec(60000),
		AssetMeta: types.AssetMeta{Symbol: "BTC", MaxLeverage: 50},
	}

	action, skip := s.Decide(ev, ctx)
	if skip != nil {
		t.Fatalf("unexpected skip: %+v", skip)
	}
	if action.Kind != types.ActionMarketOpen {
		t.Fatalf("Kind = %v, want MarketOpen", action.Kind)
	}
	if action.Side != types.BUY {
		t.Fatalf("Side = %v, want BUY", action.Side)
	}
	if !action.Size.Equal(dec(0.005)) {
		t.Fatalf("Size = %v, want 0.005", action.Size)
	}
	if action.Leverage != 10 {
		t.Fatalf("Leverage = %d, want 10", action.Leverage)
	}
	notional := action.Size.Mul(ctx.MidPrice)
	if !notional.Equal(dec(300)) {
		t.Fatalf("notional = %v, want 300", notional)
	}
}

// S2 — Partial close via a fill in direction Close Long.
func TestDecideCloseFillPartial(t *testing.T) {
	t.Parallel()
	s := testSizer()

	ev := types.Event{
		Kind: types.EventOrderFilled, Symbol: "BTC",
		Fill: types.Fill{
			SignedSize:    dec(-0.2),
			Price:         dec(59000),
			Direction:     types.DirCloseLong,
			StartPosition: dec(0.5),
		},
	}
	followerPos := types.Position{Symbol: "BTC", SignedSize: dec(0.005), EntryPrice: dec(60000)}
	ctx := Context{FollowerPosition: &followerPos}

	action, skip := s.Decide(ev, ctx)
	if skip != nil {
		t.Fatalf("unexpected skip: %+v", skip)
	}
	if action.Kind != types.ActionMarketClose {
		t.Fatalf("Kind = %v, want MarketClose", action.Kind)
	}
	if action.Side != types.SELL {
		t.Fatalf("Side = %v, want SELL", action.Side)
	}
	if !action.ReduceOnly {
		t.Fatal("expected ReduceOnly")
	}
	if !action.Size.Equal(dec(0.002)) {
		t.Fatalf("Size = %v, want 0.002 (closeRatio 0.4 of 0.005)", action.Size)
	}
}

// S3 — TP order sized off the follower's current position.
func TestDecideTriggerPlaceTakeProfit(t *testing.T) {
	t.Parallel()
	s := testSizer()

	ev := types.Event{
		Kind: types.EventOrderPlaced, Symbol: "ETH",
		Order: types.Order{
			Symbol: "ETH", Side: types.SELL, Kind: types.KindTriggerTP,
			Size: dec(1.0), TriggerPrice: dec(4000), TriggerCondition: types.CondGTE,
		},
	}
	targetPos := types.Position{Symbol: "ETH", SignedSize: dec(2.0)}
	followerPos := types.Position{Symbol: "ETH", SignedSize: dec(0.02)}
	ctx := Context{TargetPosition: &targetPos, FollowerPosition: &followerPos}

	action, skip := s.Decide(ev, ctx)
	if skip != nil {
		t.Fatalf("unexpected skip: %+v", skip)
	}
	if action.Kind != types.ActionTriggerPlace {
		t.Fatalf("Kind = %v, want TriggerPlace", action.Kind)
	}
	if !action.Size.Equal(dec(0.01)) {
		t.Fatalf("Size = %v, want 0.01 (closeRatio 0.5 of 0.02)", action.Size)
	}
	if action.TPSL != types.TP {
		t.Fatalf("TPSL = %v, want tp", action.TPSL)
	}
	if !action.TriggerPx.Equal(dec(4000)) {
		t.Fatalf("TriggerPx = %v, want 4000", action.TriggerPx)
	}
	if !action.LimitPrice.Equal(dec(3800)) {
		t.Fatalf("LimitPrice = %v, want 3800 (5%% slippage below trigger for a SELL)", action.LimitPrice)
	}
	if !action.ReduceOnly {
		t.Fatal("expected ReduceOnly")
	}
}

// S6 — Equity cap auto-pause: opens are skipped, closes still execute.
func TestDecidePausedSkipsOpensButNotCloses(t *testing.T) {
	t.Parallel()
	s := testSizer()

	openEv := types.Event{
		Kind: types.EventPositionOpened, Symbol: "SOL", Side: types.BUY,
		Size: dec(10), EntryPrice: dec(150),
	}
	_, skip := s.Decide(openEv, Context{Paused: true, Ratio: dec(0.01), MidPrice: dec(150)})
	if skip == nil || skip.Reason != types.SkipPaused {
		t.Fatalf("expected Skip(paused) for an open while paused, got %+v", skip)
	}

	closeEv := types.Event{
		Kind: types.EventPositionClosed, Symbol: "SOL", Side: types.BUY,
		Size: dec(10), PriorSize: dec(10),
	}
	followerPos := types.Position{Symbol: "SOL", SignedSize: dec(0.1)}
	action, skip := s.Decide(closeEv, Context{Paused: true, FollowerPosition: &followerPos})
	if skip != nil {
		t.Fatalf("close should still execute while paused, got skip: %+v", skip)
	}
	if action.Kind != types.ActionMarketClose {
		t.Fatalf("Kind = %v, want MarketClose", action.Kind)
	}
}

func TestDecideSkipsEntryMovedTooFar(t *testing.T) {
	t.Parallel()
	s := testSizer()

	ev := types.Event{
		Kind: types.EventPositionOpened, Symbol: "BTC", Side: types.BUY,
		Size: dec(0.5), EntryPrice: dec(60000),
	}
	ctx := Context{Ratio: dec(0.01), MidPrice: dec(66000)} // 10% away, gate is 5%

	_, skip := s.Decide(ev, ctx)
	if skip == nil || skip.Reason != types.SkipEntryMoved {
		t.Fatalf("expected Skip(entry moved), got %+v", skip)
	}
}

func TestDecideSkipsBelowMinNotional(t *testing.T) {
	t.Parallel()
	s := testSizer()

	ev := types.Event{
		Kind: types.EventPositionOpened, Symbol: "DOGE", Side: types.BUY,
		Size: dec(100), EntryPrice: dec(0.1),
	}
	ctx := Context{Ratio: dec(0.001), MidPrice: dec(0.1)} // notional = 100*0.1*0.001 = 0.01

	_, skip := s.Decide(ev, ctx)
	if skip == nil || skip.Reason != types.SkipBelowMinNotional {
		t.Fatalf("expected Skip(below min notional), got %+v", skip)
	}
}

func TestDecideSkipsCloseWithNoFollowerPosition(t *testing.T) {
	t.Parallel()
	s := testSizer()

	ev := types.Event{Kind: types.EventPositionClosed, Symbol: "BTC", Size: dec(0.5), PriorSize: dec(0.5)}
	_, skip := s.Decide(ev, Context{})
	if skip == nil || skip.Reason != types.SkipNothingToClose {
		t.Fatalf("expected Skip(nothing to close), got %+v", skip)
	}
}

func TestClampLeverageMatchPolicyRespectsAssetMax(t *testing.T) {
	t.Parallel()
	s := New(config.SizingConfig{}, config.LeverageConfig{Policy: "match"}, config.CopyRulesConfig{})

	got := s.clampLeverage(100, types.AssetMeta{MaxLeverage: 20})
	if got != 20 {
		t.Fatalf("clampLeverage = %d, want 20 (capped by asset max)", got)
	}
}

func TestClampLeverageLegacyPolicyAppliesRatio(t *testing.T) {
	t.Parallel()
	s := New(config.SizingConfig{}, config.LeverageConfig{
		Policy: "legacy", AdjustmentRatio: 0.5, MinLeverage: 1, MaxLeverage: 10,
	}, config.CopyRulesConfig{})

	got := s.clampLeverage(20, types.AssetMeta{MaxLeverage: 50})
	if got != 10 {
		t.Fatalf("clampLeverage = %d, want 10 (20*0.5 capped at leverage.max=10)", got)
	}
}
