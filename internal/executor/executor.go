// Package executor is the Mirror Executor: it serializes IntendedActions
// per symbol, submits them via the Gateway, interprets the heterogeneous
// response shapes, keeps a follower-side cache up to date, and reports
// outcomes to the notification sink and the local checkpoint.
//
// Ordering (Testable Property 5 — a symbol's dispatched actions are a
// subsequence of its emitted events, in order) comes from a dedicated
// goroutine and buffered channel per symbol: one slow dispatch never
// blocks another symbol's queue, and within a symbol events are always
// processed strictly in arrival order.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hl-copytrader/internal/api"
	"hl-copytrader/internal/config"
	"hl-copytrader/internal/exchange"
	"hl-copytrader/internal/risk"
	"hl-copytrader/internal/sizer"
	"hl-copytrader/internal/store"
	"hl-copytrader/pkg/types"
)

// Gateway is the subset of the ExchangeGateway the Executor needs.
type Gateway interface {
	AssetMeta(ctx context.Context, symbol string) (types.AssetMeta, error)
	MidPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Snapshot(ctx context.Context, address string) (types.AccountSnapshot, error)
	SetLeverage(ctx context.Context, meta types.AssetMeta, leverage int, isCross bool) error
	PlaceLimit(ctx context.Context, meta types.AssetMeta, side types.Side, size, price decimal.Decimal, tif types.TimeInForce, reduceOnly bool) (types.OrderStatus, error)
	PlaceMarket(ctx context.Context, meta types.AssetMeta, side types.Side, size decimal.Decimal, mid, slippagePct decimal.Decimal, reduceOnly bool) (types.OrderStatus, error)
	PlaceTrigger(ctx context.Context, meta types.AssetMeta, side types.Side, size, triggerPx, limitPx decimal.Decimal, tpsl types.TPSL, isMarket, reduceOnly bool) (types.OrderStatus, error)
	Cancel(ctx context.Context, meta types.AssetMeta, orderID int64) error
}

// TargetProvider exposes the read-only slice of the Differ's held target
// snapshot the Sizer's Context needs.
type TargetProvider interface {
	TargetPosition(symbol string) (types.Position, bool)
	TargetEquity() decimal.Decimal
}

// Sink is the notification sink every rejection, invariant refusal, and
// dispatched action is surfaced to (spec §1's "a rich operator
// notification service...treated as a sink with send(kind, payload)").
type Sink interface {
	NotifyAction(action types.IntendedAction, outcome string, orderID int64, err error)
	NotifySkip(skip types.Skip)
}

// Executor is the Mirror Executor.
type Executor struct {
	cfg     config.Config
	gw      Gateway
	sz      *sizer.Sizer
	riskMgr *risk.Manager
	target  TargetProvider
	store   *store.Store
	sink    Sink
	logger  *slog.Logger

	followerAddress string

	queuesMu sync.Mutex
	queues   map[string]chan types.Event

	stateMu    sync.RWMutex
	ratio      decimal.Decimal
	followerEq decimal.Decimal
	targetEq   decimal.Decimal
	positions  map[string]types.Position
	orders     map[int64]types.Order

	checkpointMu sync.Mutex
	checkpoint   store.Checkpoint

	stopCh chan struct{}
}

// New creates a Mirror Executor.
func New(
	cfg config.Config,
	gw Gateway,
	sz *sizer.Sizer,
	riskMgr *risk.Manager,
	target TargetProvider,
	st *store.Store,
	sink Sink,
	logger *slog.Logger,
) *Executor {
	cp, err := st.Load()
	if err != nil {
		logger.Warn("failed to load checkpoint, starting fresh", "error", err)
		cp = store.Checkpoint{Cursors: make(map[string]store.SymbolCursor)}
	}
	if cp.Paused {
		riskMgr.Pause("resumed paused from checkpoint")
	}

	return &Executor{
		cfg:             cfg,
		gw:              gw,
		sz:              sz,
		riskMgr:         riskMgr,
		target:          target,
		store:           st,
		sink:            sink,
		logger:          logger.With("component", "executor"),
		followerAddress: cfg.Hyperliquid.FollowerAddress,
		queues:          make(map[string]chan types.Event),
		ratio:           decimal.NewFromFloat(cfg.Sizing.PortfolioRatio),
		positions:       make(map[string]types.Position),
		orders:          make(map[int64]types.Order),
		checkpoint:      cp,
		stopCh:          make(chan struct{}, 1),
	}
}

// Bootstrap seeds the follower-side cache and computes the initial
// sizing ratio from a fresh follower snapshot. Called once before the
// stream starts.
func (e *Executor) Bootstrap(ctx context.Context) error {
	snap, err := e.gw.Snapshot(ctx, e.followerAddress)
	if err != nil {
		return fmt.Errorf("bootstrap follower snapshot: %w", err)
	}
	e.applyFollowerSnapshot(snap)
	e.recomputeRatio()
	return nil
}

// Run consumes canonical events and dispatches the Sizer's decision for
// each, fanning out into one serial queue per symbol.
func (e *Executor) Run(ctx context.Context, events <-chan types.Event) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			q := e.queueFor(ctx, ev.Symbol, &wg)
			select {
			case q <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *Executor) queueFor(ctx context.Context, symbol string, wg *sync.WaitGroup) chan types.Event {
	e.queuesMu.Lock()
	defer e.queuesMu.Unlock()

	if q, ok := e.queues[symbol]; ok {
		return q
	}
	q := make(chan types.Event, 64)
	e.queues[symbol] = q
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.drainSymbol(ctx, symbol, q)
	}()
	return q
}

func (e *Executor) drainSymbol(ctx context.Context, symbol string, q chan types.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q:
			e.handleEvent(ctx, ev)
		}
	}
}

func (e *Executor) handleEvent(ctx context.Context, ev types.Event) {
	meta, err := e.gw.AssetMeta(ctx, ev.Symbol)
	if err != nil {
		e.logger.Error("asset meta lookup failed, dropping event", "symbol", ev.Symbol, "error", err)
		return
	}

	mid, err := e.gw.MidPrice(ctx, ev.Symbol)
	if err != nil {
		e.logger.Error("mid price lookup failed, dropping event", "symbol", ev.Symbol, "error", err)
		return
	}

	sctx := e.buildContext(ev.Symbol, meta, mid)

	action, skip := e.sz.Decide(ev, sctx)
	if skip != nil {
		e.sink.NotifySkip(*skip)
		return
	}

	e.dispatch(ctx, meta, mid, *action)
	e.saveCursor(ev.Symbol, ev.Seq, string(action.Kind))
}

func (e *Executor) buildContext(symbol string, meta types.AssetMeta, mid decimal.Decimal) sizer.Context {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	var followerPos *types.Position
	if p, ok := e.positions[symbol]; ok {
		pc := p
		followerPos = &pc
	}

	var targetPos *types.Position
	if e.target != nil {
		if p, ok := e.target.TargetPosition(symbol); ok {
			pc := p
			targetPos = &pc
		}
	}

	openTrades, openOrders := 0, 0
	for _, p := range e.positions {
		if p.IsOpen() {
			openTrades++
		}
	}
	openOrders = len(e.orders)

	return sizer.Context{
		Ratio:                     e.ratio,
		MidPrice:                  mid,
		AssetMeta:                 meta,
		TargetPosition:            targetPos,
		FollowerPosition:          followerPos,
		FollowerOpenPositionCount: openTrades,
		FollowerOpenOrderCount:    openOrders,
		FollowerTotalExposureUSD:  e.totalExposureLocked(mid, symbol),
		FollowerEquityUSD:         e.followerEq,
		Paused:                    e.riskMgr.IsPaused(),
	}
}

// totalExposureLocked sums |size|*entryPrice across all cached positions.
// Must be called with stateMu held (read or write).
func (e *Executor) totalExposureLocked(mid decimal.Decimal, symbol string) decimal.Decimal {
	total := decimal.Zero
	for sym, p := range e.positions {
		px := p.EntryPrice
		if sym == symbol && !mid.IsZero() {
			px = mid
		}
		total = total.Add(p.Size().Mul(px))
	}
	return total
}

func (e *Executor) dispatch(ctx context.Context, meta types.AssetMeta, mid decimal.Decimal, action types.IntendedAction) {
	if action.Kind == types.ActionMarketOpen && action.Leverage > 1 {
		if err := e.gw.SetLeverage(ctx, meta, action.Leverage, true); err != nil {
			e.logger.Warn("set leverage failed, exchange default applies", "symbol", action.Symbol, "leverage", action.Leverage, "error", err)
		}
	}

	status, err := e.submit(ctx, meta, mid, action)
	if err != nil {
		e.sink.NotifyAction(action, "error", 0, err)
		if errors.Is(err, exchange.ErrAuth) {
			e.logger.Error("auth error submitting action, stopping", "error", err)
			e.Stop()
		}
		return
	}

	switch {
	case status.Resting != nil:
		e.cacheOrder(action, status.Resting.OrderID)
		e.sink.NotifyAction(action, "resting", status.Resting.OrderID, nil)
	case status.Filled != nil:
		e.sink.NotifyAction(action, "filled", status.Filled.OrderID, nil)
		e.refreshFollower(ctx)
	default:
		e.sink.NotifyAction(action, "resting", 0, nil)
	}
}

func (e *Executor) submit(ctx context.Context, meta types.AssetMeta, mid decimal.Decimal, action types.IntendedAction) (types.OrderStatus, error) {
	slippage := decimal.NewFromFloat(e.cfg.CopyRules.MaxSlippagePct)

	switch action.Kind {
	case types.ActionCancel:
		err := e.gw.Cancel(ctx, meta, action.CancelID)
		return types.OrderStatus{}, err

	case types.ActionMarketOpen, types.ActionMarketClose:
		if e.cfg.CopyRules.UseLimitOrders {
			return e.gw.PlaceLimit(ctx, meta, action.Side, action.Size, mid, types.TifGTC, action.ReduceOnly)
		}
		return e.gw.PlaceMarket(ctx, meta, action.Side, action.Size, mid, slippage, action.ReduceOnly)

	case types.ActionLimitPlace:
		return e.gw.PlaceLimit(ctx, meta, action.Side, action.Size, action.LimitPrice, action.TIF, action.ReduceOnly)

	case types.ActionTriggerPlace:
		return e.gw.PlaceTrigger(ctx, meta, action.Side, action.Size, action.TriggerPx, action.LimitPrice, action.TPSL, action.IsMarket, action.ReduceOnly)

	default:
		return types.OrderStatus{}, fmt.Errorf("%w: unknown action kind %q", exchange.ErrInvariant, action.Kind)
	}
}

func (e *Executor) cacheOrder(action types.IntendedAction, orderID int64) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.orders[orderID] = types.Order{
		OrderID:      orderID,
		Symbol:       action.Symbol,
		Side:         action.Side,
		Size:         action.Size,
		LimitPrice:   action.LimitPrice,
		TriggerPrice: action.TriggerPx,
		ReduceOnly:   action.ReduceOnly,
	}
}

// refreshFollower re-reads the full follower snapshot after a fill, so
// subsequent close-sizing decisions are made against the true follower
// position, and recomputes the ratio when AutoAdjustSize is set.
func (e *Executor) refreshFollower(ctx context.Context) {
	snap, err := e.gw.Snapshot(ctx, e.followerAddress)
	if err != nil {
		e.logger.Error("follower snapshot refresh failed", "error", err)
		return
	}
	e.applyFollowerSnapshot(snap)
	if e.cfg.CopyRules.AutoAdjustSize {
		e.recomputeRatio()
	}
	e.riskMgr.Report(risk.EquityReport{Equity: mustFloat(snap.Equity), Timestamp: time.Now()})
}

func (e *Executor) applyFollowerSnapshot(snap types.AccountSnapshot) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.positions = snap.Positions
	e.orders = snap.Orders
	e.followerEq = snap.Equity
}

func (e *Executor) recomputeRatio() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	targetEq := decimal.Zero
	if e.target != nil {
		targetEq = e.target.TargetEquity()
	}
	e.targetEq = targetEq

	switch {
	case e.cfg.Sizing.Mode == "fixed":
		// Fixed mode sizes per-event from FixedSizeUSD; ratio is unused but
		// still reported for visibility on the status surface.
		return
	case targetEq.IsZero():
		e.ratio = decimal.NewFromFloat(e.cfg.Sizing.PortfolioRatio)
	default:
		e.ratio = e.followerEq.Div(targetEq)
	}
}

func (e *Executor) saveCursor(symbol string, seq uint64, action string) {
	e.checkpointMu.Lock()
	defer e.checkpointMu.Unlock()

	if e.checkpoint.Cursors == nil {
		e.checkpoint.Cursors = make(map[string]store.SymbolCursor)
	}
	e.checkpoint.Cursors[symbol] = store.SymbolCursor{
		LastEventSeq: seq,
		LastAction:   action,
		UpdatedAt:    time.Now(),
	}
	e.checkpoint.Paused = e.riskMgr.IsPaused()
	if err := e.store.Save(e.checkpoint); err != nil {
		e.logger.Error("checkpoint save failed", "error", err)
	}
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// ————————————————————————————————————————————————————————————————————————
// Status surface (api.StatusProvider, api.Commander)
// ————————————————————————————————————————————————————————————————————————

// Positions reports the follower's current positions for the status surface.
func (e *Executor) Positions() []api.FollowerPositionStatus {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	out := make([]api.FollowerPositionStatus, 0, len(e.positions))
	for _, p := range e.positions {
		if !p.IsOpen() {
			continue
		}
		out = append(out, api.FollowerPositionStatus{
			Symbol:      p.Symbol,
			Side:        string(p.Side()),
			Size:        mustFloat(p.Size()),
			EntryPrice:  mustFloat(p.EntryPrice),
			NotionalUSD: mustFloat(p.Size().Mul(p.EntryPrice)),
			Leverage:    p.Leverage,
		})
	}
	return out
}

// Orders reports the follower's current resting orders for the status surface.
func (e *Executor) Orders() []api.FollowerOrderStatus {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	out := make([]api.FollowerOrderStatus, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, api.FollowerOrderStatus{
			OrderID:    o.OrderID,
			Symbol:     o.Symbol,
			Side:       string(o.Side),
			Size:       mustFloat(o.Size),
			LimitPrice: mustFloat(o.LimitPrice),
			TriggerPx:  mustFloat(o.TriggerPrice),
			ReduceOnly: o.ReduceOnly,
		})
	}
	return out
}

// Ratio reports the current follower/target sizing ratio.
func (e *Executor) Ratio() float64 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return mustFloat(e.ratio)
}

// TargetEquity reports the target account's equity as of the last refresh.
func (e *Executor) TargetEquity() float64 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return mustFloat(e.targetEq)
}

// FollowerEquity reports the follower account's equity as of the last refresh.
func (e *Executor) FollowerEquity() float64 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return mustFloat(e.followerEq)
}

// Caps reports each cap's configured threshold alongside current usage.
func (e *Executor) Caps() api.CapsStatus {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	openTrades := 0
	for _, p := range e.positions {
		if p.IsOpen() {
			openTrades++
		}
	}

	return api.CapsStatus{
		MaxPositionSizeUSD:  e.cfg.Sizing.MaxPositionSizeUSD,
		MaxTotalExposureUSD: e.cfg.Sizing.MaxTotalExposureUSD,
		CurrentExposureUSD:  mustFloat(e.totalExposureLocked(decimal.Zero, "")),
		MaxOpenTrades:       e.cfg.CopyRules.MaxOpenTrades,
		CurrentOpenTrades:   openTrades,
		MaxOpenOrders:       e.cfg.CopyRules.MaxOpenOrders,
		CurrentOpenOrders:   len(e.orders),
	}
}

// Pause engages the pause flag manually; satisfies api.Commander.
func (e *Executor) Pause(reason string) {
	e.riskMgr.Pause(reason)
}

// Resume clears the pause flag manually; satisfies api.Commander.
func (e *Executor) Resume() {
	e.riskMgr.Resume()
}

// Stop requests graceful shutdown. The actual process teardown is owned
// by the supervisor in cmd/bot, which selects on StopCh.
func (e *Executor) Stop() {
	select {
	case e.stopCh <- struct{}{}:
	default:
	}
}

// StopCh returns the channel the supervisor watches for a stop request: an
// operator-issued /api/stop command, or an auth error during dispatch.
func (e *Executor) StopCh() <-chan struct{} {
	return e.stopCh
}
