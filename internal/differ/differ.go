// Package differ converts the target account's raw snapshot and stream
// frames into the canonical events the Sizer consumes.
//
// The Differ owns the only mutable copy of the target's positions and
// open orders. It never emits events for the follower account — its whole
// job is turning "the target wallet just did X" into a typed Event, with
// fill aggregation and reconnect-driven snapshot refresh folded in so a
// downstream consumer never has to reconcile raw wire shapes itself.
package differ

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"hl-copytrader/pkg/types"
)

// fillWindow is how long, counted from the first partial, fills sharing an
// orderId are accumulated before being flushed as one OrderFilled event,
// per SPEC_FULL.md §4.3/§9.
const fillWindow = 500 * time.Millisecond

// SnapshotFetcher is the subset of the Gateway the Differ needs to refresh
// its view of the target account after a stream reconnect.
type SnapshotFetcher interface {
	Snapshot(ctx context.Context, address string) (types.AccountSnapshot, error)
}

// fillAccumulator collects partial fills for one orderId within fillWindow.
type fillAccumulator struct {
	symbol        string
	signedSize    decimal.Decimal
	notional      decimal.Decimal
	direction     types.PositionDirection
	crossed       bool
	startPosition decimal.Decimal
	lastTimestamp time.Time
	timer         *time.Timer
}

// Differ holds the target's last-known snapshot and turns incoming frames
// into canonical events.
type Differ struct {
	targetAddress string
	gateway       SnapshotFetcher
	blocked       map[string]struct{}
	out           chan<- types.Event
	logger        *slog.Logger

	mu       sync.Mutex
	snapshot types.AccountSnapshot

	pendingMu sync.Mutex
	pending   map[int64]*fillAccumulator

	seq uint64
}

// New creates a Differ. out should be buffered generously — the Differ
// blocks on send rather than drop a canonical event.
func New(targetAddress string, gateway SnapshotFetcher, blocked map[string]struct{}, out chan<- types.Event, logger *slog.Logger) *Differ {
	return &Differ{
		targetAddress: targetAddress,
		gateway:       gateway,
		blocked:       blocked,
		out:           out,
		logger:        logger.With("component", "differ"),
		snapshot: types.AccountSnapshot{
			Positions: make(map[string]types.Position),
			Orders:    make(map[int64]types.Order),
		},
		pending: make(map[int64]*fillAccumulator),
	}
}

func (d *Differ) isBlocked(symbol string) bool {
	_, ok := d.blocked[symbol]
	return ok
}

// Seed installs a starting snapshot without diffing it against the held
// state, so no synthetic events fire for positions/orders that already
// existed before the bot started. Used at bootstrap when
// copy_open_positions or copy_existing_orders is false for the
// respective half of the snapshot; RefreshSnapshot is used instead when
// the caller wants the initial state mirrored as synthetic events.
func (d *Differ) Seed(snapshot types.AccountSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshot = snapshot.Clone()
}

// TargetPosition returns a read-only copy of the target's current
// position for symbol, for the Sizer's Context (e.g. sizing a trigger
// order off the target's current position rather than the order alone).
func (d *Differ) TargetPosition(symbol string) (types.Position, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pos, ok := d.snapshot.Positions[symbol]
	return pos, ok
}

// TargetEquity returns the target account's equity as of the last
// snapshot refresh, used to recompute the sizing ratio.
func (d *Differ) TargetEquity() decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot.Equity
}

// RefreshSnapshot fetches the target's current state from the gateway and
// diffs it against the held snapshot, emitting the same canonical events a
// stream frame would have produced for the gap. Called once at startup and
// again every time the StreamSubscriber reconnects, so a dropped-frame gap
// never reads downstream as "nothing happened".
func (d *Differ) RefreshSnapshot(ctx context.Context) error {
	fresh, err := d.gateway.Snapshot(ctx, d.targetAddress)
	if err != nil {
		return fmt.Errorf("refresh target snapshot: %w", err)
	}

	d.mu.Lock()
	symbols := make(map[string]struct{}, len(d.snapshot.Positions)+len(fresh.Positions))
	for s := range d.snapshot.Positions {
		symbols[s] = struct{}{}
	}
	for s := range fresh.Positions {
		symbols[s] = struct{}{}
	}

	var grows, shrinks []types.Event
	var flipCloses, flipOpens []types.Event
	for symbol := range symbols {
		if d.isBlocked(symbol) {
			continue
		}
		p, ok := fresh.Positions[symbol]
		size, entry, lev := decimal.Zero, decimal.Zero, 0
		if ok {
			size, entry, lev = p.SignedSize, p.EntryPrice, p.Leverage
		}
		g, fc, fo, s := d.diffPosition(symbol, size, entry, lev)
		grows = append(grows, g...)
		flipCloses = append(flipCloses, fc...)
		flipOpens = append(flipOpens, fo...)
		shrinks = append(shrinks, s...)
	}

	currentOrders := make(map[int64]types.Order, len(fresh.Orders))
	for id, o := range fresh.Orders {
		currentOrders[id] = o
	}
	placed, canceled := d.diffOrders(currentOrders, nil)

	d.snapshot.Balance = fresh.Balance
	d.snapshot.Equity = fresh.Equity
	d.snapshot.Timestamp = fresh.Timestamp
	d.mu.Unlock()

	d.emitAll(grows)
	for i := range flipCloses {
		d.emit(flipCloses[i])
		d.emit(flipOpens[i])
	}
	d.emitAll(shrinks)
	d.emitAll(placed)
	d.emitAll(canceled)

	return nil
}

// HandleFrame processes one inbound userEvents frame: fills first, then
// position records, then order records, per SPEC_FULL.md §4.3/§5.
func (d *Differ) HandleFrame(frame types.StreamFrame) {
	for _, rf := range frame.Data.Fills {
		d.handleFill(rf)
	}
	if len(frame.Data.Positions) > 0 {
		d.handlePositions(frame.Data.Positions)
	}
	if len(frame.Data.Orders) > 0 {
		d.handleOrders(frame.Data.Orders)
	}
}

func (d *Differ) handleFill(rf types.StreamRawFill) {
	symbol := strings.ToUpper(rf.Coin)
	if d.isBlocked(symbol) {
		return
	}

	sz, _ := decimal.NewFromString(rf.Sz)
	px, _ := decimal.NewFromString(rf.Px)
	startPos, _ := decimal.NewFromString(rf.StartPosition)
	signed := sz
	if rf.Side == "A" {
		signed = sz.Neg()
	}

	d.pendingMu.Lock()
	acc, ok := d.pending[rf.OID]
	if !ok {
		acc = &fillAccumulator{
			symbol:        symbol,
			direction:     types.PositionDirection(rf.Dir),
			crossed:       rf.Crossed,
			startPosition: startPos,
		}
		d.pending[rf.OID] = acc
	}
	acc.signedSize = acc.signedSize.Add(signed)
	acc.notional = acc.notional.Add(px.Mul(sz))
	acc.lastTimestamp = time.UnixMilli(rf.Time)
	if acc.timer == nil {
		oid := rf.OID
		acc.timer = time.AfterFunc(fillWindow, func() { d.flushFill(oid) })
	}
	d.pendingMu.Unlock()
}

func (d *Differ) flushFill(orderID int64) {
	d.pendingMu.Lock()
	acc, ok := d.pending[orderID]
	if ok {
		delete(d.pending, orderID)
	}
	d.pendingMu.Unlock()
	if !ok {
		return
	}

	absSize := acc.signedSize.Abs()
	if absSize.IsZero() {
		return
	}
	avgPx := acc.notional.Div(absSize)

	side := types.BUY
	if acc.signedSize.IsNegative() {
		side = types.SELL
	}

	d.emit(types.Event{
		Kind:       types.EventOrderFilled,
		Symbol:     acc.symbol,
		Side:       side,
		Size:       absSize,
		EntryPrice: avgPx,
		Fill: types.Fill{
			OrderID:       orderID,
			Symbol:        acc.symbol,
			SignedSize:    acc.signedSize,
			Price:         avgPx,
			Direction:     acc.direction,
			Crossed:       acc.crossed,
			StartPosition: acc.startPosition,
			Timestamp:     acc.lastTimestamp,
		},
	})
}

func (d *Differ) handlePositions(records []types.StreamRawPosition) {
	d.mu.Lock()
	var grows, shrinks []types.Event
	var flipCloses, flipOpens []types.Event
	for _, rp := range records {
		symbol := strings.ToUpper(rp.Coin)
		if d.isBlocked(symbol) {
			continue
		}
		szi, _ := decimal.NewFromString(rp.Szi)
		entry, _ := decimal.NewFromString(rp.EntryPx)
		g, fc, fo, s := d.diffPosition(symbol, szi, entry, rp.Leverage)
		grows = append(grows, g...)
		flipCloses = append(flipCloses, fc...)
		flipOpens = append(flipOpens, fo...)
		shrinks = append(shrinks, s...)
	}
	d.mu.Unlock()

	// Opens/increases dispatch before closes/reduces; a sign flip keeps its
	// own Closed-then-Opened order regardless.
	d.emitAll(grows)
	for i := range flipCloses {
		d.emit(flipCloses[i])
		d.emit(flipOpens[i])
	}
	d.emitAll(shrinks)
}

// diffPosition compares symbol's new signed size/entry/leverage against the
// held snapshot and returns the events it implies, updating the snapshot in
// place. Caller must hold d.mu.
func (d *Differ) diffPosition(symbol string, newSize, newEntry decimal.Decimal, newLeverage int) (grows, flipCloses, flipOpens, shrinks []types.Event) {
	prior, hadPrior := d.snapshot.Positions[symbol]
	priorSize := decimal.Zero
	if hadPrior {
		priorSize = prior.SignedSize
	}

	switch {
	case !hadPrior && !newSize.IsZero():
		grows = append(grows, types.Event{
			Kind: types.EventPositionOpened, Symbol: symbol,
			Side: sideOf(newSize), Size: newSize.Abs(), EntryPrice: newEntry, Leverage: newLeverage,
		})
		d.snapshot.Positions[symbol] = types.Position{Symbol: symbol, SignedSize: newSize, EntryPrice: newEntry, Leverage: newLeverage, LastUpdated: time.Now()}

	case hadPrior && newSize.IsZero():
		shrinks = append(shrinks, types.Event{
			Kind: types.EventPositionClosed, Symbol: symbol,
			Side: sideOf(priorSize), Size: priorSize.Abs(), PriorSize: priorSize.Abs(),
			EntryPrice: prior.EntryPrice, Leverage: prior.Leverage,
		})
		delete(d.snapshot.Positions, symbol)

	case hadPrior && sameSign(newSize, priorSize) && newSize.Abs().GreaterThan(priorSize.Abs()):
		grows = append(grows, types.Event{
			Kind: types.EventPositionIncreased, Symbol: symbol,
			Side: sideOf(newSize), Size: newSize.Abs(), PriorSize: priorSize.Abs(),
			Delta: newSize.Abs().Sub(priorSize.Abs()), EntryPrice: newEntry, Leverage: newLeverage,
		})
		d.snapshot.Positions[symbol] = types.Position{Symbol: symbol, SignedSize: newSize, EntryPrice: newEntry, Leverage: newLeverage, LastUpdated: time.Now()}

	case hadPrior && sameSign(newSize, priorSize) && newSize.Abs().LessThan(priorSize.Abs()):
		shrinks = append(shrinks, types.Event{
			Kind: types.EventPositionReduced, Symbol: symbol,
			Side: sideOf(newSize), Size: newSize.Abs(), PriorSize: priorSize.Abs(),
			Delta: priorSize.Abs().Sub(newSize.Abs()), EntryPrice: newEntry, Leverage: newLeverage,
		})
		d.snapshot.Positions[symbol] = types.Position{Symbol: symbol, SignedSize: newSize, EntryPrice: newEntry, Leverage: newLeverage, LastUpdated: time.Now()}

	case hadPrior && !newSize.IsZero() && !priorSize.IsZero() && !sameSign(newSize, priorSize):
		flipCloses = append(flipCloses, types.Event{
			Kind: types.EventPositionClosed, Symbol: symbol,
			Side: sideOf(priorSize), Size: priorSize.Abs(), PriorSize: priorSize.Abs(),
			EntryPrice: prior.EntryPrice, Leverage: prior.Leverage,
		})
		flipOpens = append(flipOpens, types.Event{
			Kind: types.EventPositionOpened, Symbol: symbol,
			Side: sideOf(newSize), Size: newSize.Abs(), EntryPrice: newEntry, Leverage: newLeverage,
		})
		d.snapshot.Positions[symbol] = types.Position{Symbol: symbol, SignedSize: newSize, EntryPrice: newEntry, Leverage: newLeverage, LastUpdated: time.Now()}
	}

	return grows, flipCloses, flipOpens, shrinks
}

func (d *Differ) handleOrders(records []types.StreamRawOrder) {
	current := make(map[int64]types.Order, len(records))
	filledThisFrame := make(map[int64]struct{})

	d.pendingMu.Lock()
	for oid := range d.pending {
		filledThisFrame[oid] = struct{}{}
	}
	d.pendingMu.Unlock()

	for _, ro := range records {
		symbol := strings.ToUpper(ro.Coin)
		if d.isBlocked(symbol) {
			continue
		}
		current[ro.OID] = toOrder(ro, symbol)
	}

	d.mu.Lock()
	placed, canceled := d.diffOrders(current, filledThisFrame)
	d.mu.Unlock()

	d.emitAll(placed)
	d.emitAll(canceled)
}

// diffOrders compares current (this frame's or this refresh's full
// resting-order view) against the held snapshot. An orderId present before
// but absent now is a cancel unless it is still accumulating fills — in
// that case it disappeared because it was filled, not canceled, and the
// fill-window flush will emit OrderFilled on its own. Caller must hold d.mu.
func (d *Differ) diffOrders(current map[int64]types.Order, beingFilled map[int64]struct{}) (placed, canceled []types.Event) {
	for oid, order := range current {
		if _, ok := d.snapshot.Orders[oid]; !ok {
			placed = append(placed, types.Event{Kind: types.EventOrderPlaced, Symbol: order.Symbol, Order: order})
		}
		d.snapshot.Orders[oid] = order
	}
	for oid, order := range d.snapshot.Orders {
		if _, stillOpen := current[oid]; stillOpen {
			continue
		}
		if _, filling := beingFilled[oid]; filling {
			delete(d.snapshot.Orders, oid)
			continue
		}
		canceled = append(canceled, types.Event{Kind: types.EventOrderCanceled, Symbol: order.Symbol, Order: order})
		delete(d.snapshot.Orders, oid)
	}
	return placed, canceled
}

func (d *Differ) emitAll(events []types.Event) {
	for _, ev := range events {
		d.emit(ev)
	}
}

func (d *Differ) emit(ev types.Event) {
	if d.isBlocked(ev.Symbol) {
		return
	}
	ev.Seq = atomic.AddUint64(&d.seq, 1)
	d.out <- ev
}

func toOrder(ro types.StreamRawOrder, symbol string) types.Order {
	sz, _ := decimal.NewFromString(ro.Sz)
	limitPx, _ := decimal.NewFromString(ro.LimitPx)
	triggerPx, _ := decimal.NewFromString(ro.TriggerPx)
	side := types.BUY
	if ro.Side == "A" {
		side = types.SELL
	}
	cond := types.TriggerCondition(ro.TriggerCond)
	kind := types.ClassifyTriggerKind(ro.OrderType, side, cond)
	return types.Order{
		OrderID: ro.OID, Symbol: symbol, Side: side, Kind: kind,
		Size: sz, LimitPrice: limitPx, TriggerPrice: triggerPx,
		TriggerCondition: cond, ReduceOnly: ro.ReduceOnly,
	}
}

func sideOf(signed decimal.Decimal) types.Side {
	if signed.IsNegative() {
		return types.SELL
	}
	return types.BUY
}

func sameSign(a, b decimal.Decimal) bool {
	return a.Sign() == b.Sign()
}
