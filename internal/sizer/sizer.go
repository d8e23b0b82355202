// Package sizer turns a canonical target-account Event into the
// IntendedAction the follower account should take, or an explicit Skip.
//
// Sizer.Decide is a pure function: all the state it needs — the current
// ratio, mid price, asset metadata, and the follower's own position/order
// counts — is passed in via Context. Nothing here is mutated or retained
// between calls; the caller (the Executor's dispatch loop) owns the ratio,
// the pause flag, and the follower caches, per the no-ambient-singletons
// rule the rest of the bot follows.
package sizer

import (
	"github.com/shopspring/decimal"

	"hl-copytrader/internal/config"
	"hl-copytrader/pkg/types"
)

var (
	hundred          = decimal.New(100, 0)
	minNotionalFloor = decimal.New(10, 0)
)

// Context is the read-only state Decide needs alongside the event itself.
// The caller builds a fresh Context per event from its own caches — Decide
// never reaches out to a gateway or a cache on its own.
type Context struct {
	Ratio     decimal.Decimal
	MidPrice  decimal.Decimal
	AssetMeta types.AssetMeta

	// TargetPosition is the target's current position for the event's
	// symbol, as held by the Differ. Nil if the target has no position.
	TargetPosition *types.Position
	// FollowerPosition is the follower's current position for the event's
	// symbol, as held by the Executor's position cache. Nil if none.
	FollowerPosition *types.Position

	FollowerOpenPositionCount int
	FollowerOpenOrderCount    int
	FollowerTotalExposureUSD  decimal.Decimal
	FollowerEquityUSD         decimal.Decimal

	// Paused gates opens only; closes and reductions always execute so a
	// paused bot still lets the follower de-risk in step with the target.
	Paused bool
}

// Sizer holds the gating thresholds and policy knobs; it carries no
// per-event state.
type Sizer struct {
	sizing    config.SizingConfig
	leverage  config.LeverageConfig
	copyRules config.CopyRulesConfig
}

// New builds a Sizer from the relevant config sections.
func New(sizing config.SizingConfig, leverage config.LeverageConfig, copyRules config.CopyRulesConfig) *Sizer {
	return &Sizer{sizing: sizing, leverage: leverage, copyRules: copyRules}
}

// Decide maps one canonical Event to the action the follower should submit,
// or a Skip explaining why it should do nothing. Exactly one of the two
// return values is non-nil.
func (s *Sizer) Decide(ev types.Event, ctx Context) (*types.IntendedAction, *types.Skip) {
	switch ev.Kind {
	case types.EventPositionOpened:
		return s.decideOpen(ev, ctx, ev.Size, ev.EntryPrice, ev.Leverage)
	case types.EventPositionIncreased:
		return s.decideOpen(ev, ctx, ev.Delta, ev.EntryPrice, ev.Leverage)
	case types.EventPositionReduced:
		return s.decideClose(ev, ctx, ev.Delta, ev.PriorSize)
	case types.EventPositionClosed:
		return s.decideClose(ev, ctx, ev.Size, ev.PriorSize)
	case types.EventOrderFilled:
		return s.decideFill(ev, ctx)
	case types.EventOrderPlaced:
		return s.decideOrderPlaced(ev, ctx)
	default:
		return nil, &types.Skip{Reason: types.SkipNothingToClose, Symbol: ev.Symbol, Detail: "no sizing rule for " + string(ev.Kind)}
	}
}

func (s *Sizer) decideFill(ev types.Event, ctx Context) (*types.IntendedAction, *types.Skip) {
	dir := ev.Fill.Direction
	switch {
	case dir.IsOpen():
		targetLeverage := ev.Leverage
		if targetLeverage == 0 && ctx.TargetPosition != nil {
			targetLeverage = ctx.TargetPosition.Leverage
		}
		return s.decideOpen(ev, ctx, ev.Fill.SignedSize.Abs(), ev.Fill.Price, targetLeverage)
	case dir.IsClose():
		return s.decideClose(ev, ctx, ev.Fill.SignedSize.Abs(), ev.Fill.StartPosition.Abs())
	default:
		return nil, &types.Skip{Reason: types.SkipNothingToClose, Symbol: ev.Symbol, Detail: "fill direction " + string(dir) + " is neither open nor close"}
	}
}

func (s *Sizer) decideOpen(ev types.Event, ctx Context, targetDeltaSize, eventPrice decimal.Decimal, targetLeverage int) (*types.IntendedAction, *types.Skip) {
	if ctx.Paused {
		return nil, &types.Skip{Reason: types.SkipPaused, Symbol: ev.Symbol}
	}

	if !eventPrice.IsZero() && !ctx.MidPrice.IsZero() {
		deviation := ctx.MidPrice.Sub(eventPrice).Abs().Div(eventPrice).Mul(hundred)
		if deviation.GreaterThan(decimal.NewFromFloat(s.copyRules.MinEntryQualityPct)) {
			return nil, &types.Skip{Reason: types.SkipEntryMoved, Symbol: ev.Symbol,
				Detail: deviation.StringFixed(2) + "% deviation"}
		}
	}

	price := ctx.MidPrice
	if price.IsZero() {
		price = eventPrice
	}

	var followerSize decimal.Decimal
	if s.sizing.Mode == "fixed" && !price.IsZero() {
		followerSize = decimal.NewFromFloat(s.sizing.FixedSizeUSD).Div(price)
	} else {
		followerSize = targetDeltaSize.Mul(ctx.Ratio)
	}
	notional := followerSize.Mul(price)

	minNotional := decimal.NewFromFloat(s.copyRules.MinPositionNotional)
	if minNotional.IsZero() {
		minNotional = minNotionalFloor
	}
	if notional.LessThan(minNotional) {
		return nil, &types.Skip{Reason: types.SkipBelowMinNotional, Symbol: ev.Symbol,
			Detail: notional.StringFixed(2)}
	}

	if maxPos := decimal.NewFromFloat(s.sizing.MaxPositionSizeUSD); maxPos.GreaterThan(decimal.Zero) && notional.GreaterThan(maxPos) {
		return nil, &types.Skip{Reason: types.SkipMaxPositionSize, Symbol: ev.Symbol}
	}
	if maxExp := decimal.NewFromFloat(s.sizing.MaxTotalExposureUSD); maxExp.GreaterThan(decimal.Zero) &&
		ctx.FollowerTotalExposureUSD.Add(notional).GreaterThan(maxExp) {
		return nil, &types.Skip{Reason: types.SkipMaxExposure, Symbol: ev.Symbol}
	}
	if s.copyRules.MaxOpenTrades > 0 && ctx.FollowerOpenPositionCount >= s.copyRules.MaxOpenTrades {
		return nil, &types.Skip{Reason: types.SkipMaxOpenTrades, Symbol: ev.Symbol}
	}

	leverage := s.clampLeverage(targetLeverage, ctx.AssetMeta)

	action := &types.IntendedAction{
		Kind:        types.ActionMarketOpen,
		Symbol:      ev.Symbol,
		Side:        ev.Side,
		Size:        followerSize,
		Leverage:    leverage,
		TIF:         types.TifIOC,
		SourceEvent: ev,
	}
	if s.copyRules.UseLimitOrders {
		action.Kind = types.ActionLimitPlace
		action.LimitPrice = eventPrice
		action.TIF = types.TifGTC
	}
	return action, nil
}

func (s *Sizer) decideClose(ev types.Event, ctx Context, targetCloseSize, targetPriorSize decimal.Decimal) (*types.IntendedAction, *types.Skip) {
	if ctx.FollowerPosition == nil || ctx.FollowerPosition.SignedSize.IsZero() {
		return nil, &types.Skip{Reason: types.SkipNothingToClose, Symbol: ev.Symbol}
	}
	if s.copyRules.MaxOpenOrders > 0 && ctx.FollowerOpenOrderCount >= s.copyRules.MaxOpenOrders {
		return nil, &types.Skip{Reason: types.SkipMaxOpenOrders, Symbol: ev.Symbol}
	}

	closeRatio := decimal.New(1, 0)
	if !targetPriorSize.IsZero() {
		closeRatio = targetCloseSize.Div(targetPriorSize)
	}

	followerSize := ctx.FollowerPosition.Size()
	scaled := followerSize.Mul(closeRatio)
	followerCloseSize := decimal.Min(followerSize, scaled)

	action := &types.IntendedAction{
		Kind:        types.ActionMarketClose,
		Symbol:      ev.Symbol,
		Side:        ctx.FollowerPosition.Side().Opposite(),
		Size:        followerCloseSize,
		ReduceOnly:  true,
		TIF:         types.TifIOC,
		SourceEvent: ev,
	}
	if s.copyRules.UseLimitOrders {
		action.Kind = types.ActionLimitPlace
		action.LimitPrice = ev.EntryPrice
		action.TIF = types.TifGTC
	}
	return action, nil
}

func (s *Sizer) decideOrderPlaced(ev types.Event, ctx Context) (*types.IntendedAction, *types.Skip) {
	if ev.Order.Kind != types.KindTriggerTP && ev.Order.Kind != types.KindTriggerSL {
		return nil, &types.Skip{Reason: types.SkipNothingToClose, Symbol: ev.Symbol, Detail: "not a trigger order"}
	}
	if ctx.FollowerPosition == nil || ctx.FollowerPosition.SignedSize.IsZero() {
		return nil, &types.Skip{Reason: types.SkipNothingToClose, Symbol: ev.Symbol}
	}
	if s.copyRules.MaxOpenOrders > 0 && ctx.FollowerOpenOrderCount >= s.copyRules.MaxOpenOrders {
		return nil, &types.Skip{Reason: types.SkipMaxOpenOrders, Symbol: ev.Symbol}
	}

	targetOrderSize := ev.Order.Size
	targetCurrentSize := targetOrderSize
	if ctx.TargetPosition != nil && !ctx.TargetPosition.SignedSize.IsZero() {
		targetCurrentSize = ctx.TargetPosition.Size()
	}

	closeRatio := decimal.New(1, 0)
	if !targetCurrentSize.IsZero() {
		closeRatio = targetOrderSize.Div(targetCurrentSize)
	}

	followerSize := ctx.FollowerPosition.Size()
	followerOrderSize := decimal.Min(followerSize, followerSize.Mul(closeRatio))

	tpsl := types.TP
	if ev.Order.Kind == types.KindTriggerSL {
		tpsl = types.SL
	}

	limitPrice := triggerSlippagePrice(ev.Order.TriggerPrice, ev.Order.Side)

	action := &types.IntendedAction{
		Kind:        types.ActionTriggerPlace,
		Symbol:      ev.Symbol,
		Side:        ev.Order.Side,
		Size:        followerOrderSize,
		TriggerPx:   ev.Order.TriggerPrice,
		LimitPrice:  limitPrice,
		TPSL:        tpsl,
		IsMarket:    s.copyRules.TriggerIsMarket,
		ReduceOnly:  true,
		SourceEvent: ev,
	}
	return action, nil
}

// triggerSlippagePrice applies 5% slippage to a trigger price in the
// aggressive direction for the order's side: a SELL trigger (closing a
// long) gives up 5% below trigger, a BUY trigger (closing a short) pays 5%
// above trigger.
func triggerSlippagePrice(triggerPx decimal.Decimal, side types.Side) decimal.Decimal {
	factor := decimal.NewFromFloat(0.05)
	if side == types.BUY {
		return triggerPx.Mul(decimal.New(1, 0).Add(factor))
	}
	return triggerPx.Mul(decimal.New(1, 0).Sub(factor))
}

func (s *Sizer) clampLeverage(targetLeverage int, meta types.AssetMeta) int {
	maxLev := meta.MaxLeverage
	if maxLev <= 0 {
		maxLev = s.leverage.MaxLeverage
	}

	var leverage int
	switch s.leverage.Policy {
	case "legacy":
		adjusted := decimal.NewFromInt(int64(targetLeverage)).Mul(decimal.NewFromFloat(s.leverage.AdjustmentRatio))
		leverage = int(adjusted.Round(0).IntPart())
		if leverage < s.leverage.MinLeverage {
			leverage = s.leverage.MinLeverage
		}
		if leverage > s.leverage.MaxLeverage {
			leverage = s.leverage.MaxLeverage
		}
	default: // "match"
		leverage = targetLeverage
	}

	if leverage < 1 {
		leverage = 1
	}
	if leverage > maxLev {
		leverage = maxLev
	}
	return leverage
}
