// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — asset metadata,
// positions, orders, fills, account snapshots, and the canonical event and
// intended-action types that flow between the Differ, Sizer, and Executor.
// It has no dependencies on internal packages, so it can be imported by any
// layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// TimeInForce mirrors the exchange's tif field for resting limit orders.
type TimeInForce string

const (
	TifIOC TimeInForce = "Ioc"
	TifGTC TimeInForce = "Gtc"
	TifALO TimeInForce = "Alo"
)

// TPSL tags a trigger order as take-profit or stop-loss.
type TPSL string

const (
	TP TPSL = "tp"
	SL TPSL = "sl"
)

// TriggerCondition is the comparison the exchange uses to fire a trigger
// order once the mark price crosses triggerPrice.
type TriggerCondition string

const (
	CondGTE TriggerCondition = ">="
	CondLTE TriggerCondition = "<="
)

// OrderKind distinguishes resting limit orders from trigger (TP/SL) orders.
type OrderKind string

const (
	KindLimit     OrderKind = "limit"
	KindTriggerTP OrderKind = "trigger_tp"
	KindTriggerSL OrderKind = "trigger_sl"
)

// ClassifyTriggerKind tags a reduce-only order as TP or SL. orderType is
// tried first since the wire usually spells it out directly ("Stop Market",
// "Take Profit Limit", ...); when it doesn't match a known label the
// (side, triggerCondition) pair decides instead, per the reduce-only side
// a position is closed from: a SELL (closing a long) firing on price
// rising (">=") takes profit, on price falling ("<=") stops out; a BUY
// (closing a short) is the mirror image.
func ClassifyTriggerKind(orderType string, side Side, cond TriggerCondition) OrderKind {
	switch orderType {
	case "Stop Market", "Stop Limit":
		return KindTriggerSL
	case "Take Profit Market", "Take Profit Limit":
		return KindTriggerTP
	}
	switch {
	case side == SELL && cond == CondGTE:
		return KindTriggerTP
	case side == SELL && cond == CondLTE:
		return KindTriggerSL
	case side == BUY && cond == CondLTE:
		return KindTriggerTP
	case side == BUY && cond == CondGTE:
		return KindTriggerSL
	default:
		return KindLimit
	}
}

// PositionDirection labels a fill by what it did to the position it touched.
type PositionDirection string

const (
	DirOpenLong   PositionDirection = "Open Long"
	DirOpenShort  PositionDirection = "Open Short"
	DirCloseLong  PositionDirection = "Close Long"
	DirCloseShort PositionDirection = "Close Short"
)

// IsOpen reports whether the direction opens or increases a position.
func (d PositionDirection) IsOpen() bool {
	return d == DirOpenLong || d == DirOpenShort
}

// IsClose reports whether the direction closes or reduces a position.
func (d PositionDirection) IsClose() bool {
	return d == DirCloseLong || d == DirCloseShort
}

// ActionKind enumerates the IntendedAction variants the Sizer can produce.
type ActionKind string

const (
	ActionMarketOpen   ActionKind = "MarketOpen"
	ActionMarketClose  ActionKind = "MarketClose"
	ActionLimitPlace   ActionKind = "LimitPlace"
	ActionTriggerPlace ActionKind = "TriggerPlace"
	ActionCancel       ActionKind = "Cancel"
)

// ————————————————————————————————————————————————————————————————————————
// Asset metadata
// ————————————————————————————————————————————————————————————————————————

// AssetMeta is immutable per process once fetched: the exchange's asset
// index (used on the wire instead of the symbol string), the number of
// decimals sizes are rounded to, and the asset's maximum allowed leverage.
type AssetMeta struct {
	Symbol       string
	Index        int
	SizeDecimals int
	MaxLeverage  int
}

// ————————————————————————————————————————————————————————————————————————
// Positions, orders, fills
// ————————————————————————————————————————————————————————————————————————

// Position is a single signed-size perpetuals position. SignedSize == 0
// means no position; the sign of SignedSize is the direction (positive =
// long, negative = short).
type Position struct {
	Symbol      string
	SignedSize  decimal.Decimal
	EntryPrice  decimal.Decimal
	Leverage    int
	LastUpdated time.Time
}

// IsOpen reports whether the position currently exists.
func (p Position) IsOpen() bool {
	return !p.SignedSize.IsZero()
}

// Side returns BUY for a long position, SELL for a short one.
func (p Position) Side() Side {
	if p.SignedSize.IsNegative() {
		return SELL
	}
	return BUY
}

// Size returns the absolute position size.
func (p Position) Size() decimal.Decimal {
	return p.SignedSize.Abs()
}

// Order is a resting limit order or a trigger (TP/SL) order.
type Order struct {
	OrderID          int64
	Symbol           string
	Side             Side
	Kind             OrderKind
	Size             decimal.Decimal
	LimitPrice       decimal.Decimal
	TriggerPrice     decimal.Decimal
	TriggerCondition TriggerCondition
	ReduceOnly       bool
}

// Fill is one execution against an order, as delivered by the user-events
// stream. Partial fills sharing an OrderID are aggregated by the Differ
// before a Fill event is emitted downstream.
type Fill struct {
	OrderID       int64
	Symbol        string
	SignedSize    decimal.Decimal
	Price         decimal.Decimal
	Direction     PositionDirection
	Crossed       bool
	StartPosition decimal.Decimal
	Timestamp     time.Time
}

// AccountSnapshot is a full, wholesale-replaced view of an account: balance,
// equity, open positions keyed by symbol, and open orders keyed by order ID.
type AccountSnapshot struct {
	Balance   decimal.Decimal
	Equity    decimal.Decimal
	Positions map[string]Position
	Orders    map[int64]Order
	Timestamp time.Time
}

// Clone returns a deep-enough copy safe to hand to a reader without sharing
// the underlying maps.
func (s AccountSnapshot) Clone() AccountSnapshot {
	out := AccountSnapshot{
		Balance:   s.Balance,
		Equity:    s.Equity,
		Timestamp: s.Timestamp,
		Positions: make(map[string]Position, len(s.Positions)),
		Orders:    make(map[int64]Order, len(s.Orders)),
	}
	for k, v := range s.Positions {
		out.Positions[k] = v
	}
	for k, v := range s.Orders {
		out.Orders[k] = v
	}
	return out
}

// SizingRatio is the follower/target balance ratio captured at a point in
// time. Recomputed after every follower-balance refresh.
type SizingRatio struct {
	Ratio      decimal.Decimal
	CapturedAt time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Canonical Differ events
// ————————————————————————————————————————————————————————————————————————

// EventKind tags a canonical event emitted by the Differ.
type EventKind string

const (
	EventPositionOpened    EventKind = "PositionOpened"
	EventPositionIncreased EventKind = "PositionIncreased"
	EventPositionReduced   EventKind = "PositionReduced"
	EventPositionClosed    EventKind = "PositionClosed"
	EventOrderPlaced       EventKind = "OrderPlaced"
	EventOrderFilled       EventKind = "OrderFilled"
	EventOrderCanceled     EventKind = "OrderCanceled"
)

// Event is the canonical, strongly-typed event the Differ emits toward the
// Sizer. Which payload fields are meaningful depends on Kind.
type Event struct {
	Kind   EventKind
	Symbol string
	Seq    uint64 // monotonic per-process sequence, used for ordering checks

	// Position-kind payload.
	Side       Side
	Size       decimal.Decimal // current |signedSize| after the event, for Opened/Increased
	Delta      decimal.Decimal // |prior|-|new| for Reduced; |new|-|prior| for Increased
	PriorSize  decimal.Decimal
	EntryPrice decimal.Decimal
	Leverage   int

	// Order-kind payload.
	Order Order

	// Fill-kind payload (also populates Side/Size/EntryPrice above).
	Fill Fill
}

// ————————————————————————————————————————————————————————————————————————
// Sizer output
// ————————————————————————————————————————————————————————————————————————

// IntendedAction is what the Sizer decided the follower account should do.
// Constructed by the Sizer, consumed by the Executor.
type IntendedAction struct {
	Kind       ActionKind
	Symbol     string
	Side       Side
	Size       decimal.Decimal
	LimitPrice decimal.Decimal // zero for pure market orders
	TriggerPx  decimal.Decimal // set for TriggerPlace
	TPSL       TPSL            // set for TriggerPlace
	TIF        TimeInForce
	IsMarket   bool // trigger orders only
	Leverage   int
	ReduceOnly bool
	CancelID   int64 // set for Cancel

	// SourceEvent is kept for notification context and idempotency
	// checkpointing; not interpreted by the Gateway.
	SourceEvent Event
}

// SkipReason explains why the Sizer produced no action.
type SkipReason string

const (
	SkipEntryMoved       SkipReason = "entry moved"
	SkipBelowMinNotional SkipReason = "below min notional"
	SkipNothingToClose   SkipReason = "nothing to close"
	SkipPaused           SkipReason = "paused"
	SkipMaxPositionSize  SkipReason = "max position size"
	SkipMaxExposure      SkipReason = "max total exposure"
	SkipMaxOpenTrades    SkipReason = "max open trades"
	SkipMaxOpenOrders    SkipReason = "max open orders"
	SkipBlocked          SkipReason = "blocked asset"
)

// Skip is the explicit "do nothing" result of the Sizer, carrying enough
// context for the notification sink.
type Skip struct {
	Reason SkipReason
	Symbol string
	Detail string
}

// ————————————————————————————————————————————————————————————————————————
// Exchange action envelopes (wire-exact field names)
// ————————————————————————————————————————————————————————————————————————

// TIFWire is the "t" field of an order entry. Exactly one of Limit or
// Trigger is populated on any given OrderWire.
type TIFWire struct {
	Limit   *LimitSpec   `msgpack:"limit,omitempty" json:"limit,omitempty"`
	Trigger *TriggerSpec `msgpack:"trigger,omitempty" json:"trigger,omitempty"`
}

type LimitSpec struct {
	TIF string `msgpack:"tif" json:"tif"`
}

type TriggerSpec struct {
	IsMarket  bool   `msgpack:"isMarket" json:"isMarket"`
	TriggerPx string `msgpack:"triggerPx" json:"triggerPx"`
	TPSL      string `msgpack:"tpsl" json:"tpsl"`
}

// OrderWire is one entry of an "order" action's "orders" array.
type OrderWire struct {
	Asset      int     `msgpack:"a" json:"a"`
	IsBuy      bool    `msgpack:"b" json:"b"`
	Price      string  `msgpack:"p" json:"p"`
	Size       string  `msgpack:"s" json:"s"`
	ReduceOnly bool    `msgpack:"r" json:"r"`
	TIF        TIFWire `msgpack:"t" json:"t"`
}

// OrderAction is the "order" action body.
type OrderAction struct {
	Type     string      `msgpack:"type" json:"type"`
	Orders   []OrderWire `msgpack:"orders" json:"orders"`
	Grouping string      `msgpack:"grouping" json:"grouping"`
}

// CancelWire is one entry of a "cancel" action's "cancels" array.
type CancelWire struct {
	Asset   int   `msgpack:"a" json:"a"`
	OrderID int64 `msgpack:"o" json:"o"`
}

// CancelAction is the "cancel" action body.
type CancelAction struct {
	Type    string       `msgpack:"type" json:"type"`
	Cancels []CancelWire `msgpack:"cancels" json:"cancels"`
}

// UpdateLeverageAction is the "updateLeverage" action body.
type UpdateLeverageAction struct {
	Type     string `msgpack:"type" json:"type"`
	Asset    int    `msgpack:"asset" json:"asset"`
	IsCross  bool   `msgpack:"isCross" json:"isCross"`
	Leverage int    `msgpack:"leverage" json:"leverage"`
}

// Signature is the {r,s,v} typed-data signature attached to every signed
// action envelope.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// SignedEnvelope is the top-level body POSTed to the exchange endpoint.
type SignedEnvelope struct {
	Action       any       `json:"action"`
	Nonce        int64     `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
}

// ————————————————————————————————————————————————————————————————————————
// Exchange responses
// ————————————————————————————————————————————————————————————————————————

// OrderStatus is one element of response.data.statuses: exactly one of
// Resting, Filled, Error is populated.
type OrderStatus struct {
	Resting *RestingStatus `json:"resting,omitempty"`
	Filled  *FilledStatus  `json:"filled,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type RestingStatus struct {
	OrderID int64 `json:"oid"`
}

type FilledStatus struct {
	OrderID int64  `json:"oid"`
	TotalSz string `json:"totalSz"`
	AvgPx   string `json:"avgPx"`
}

// ExchangeResponse is the top-level response shape from the exchange
// endpoint.
type ExchangeResponse struct {
	Status   string `json:"status"`
	Response *struct {
		Data struct {
			Statuses []OrderStatus `json:"statuses"`
		} `json:"data"`
	} `json:"response,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Info endpoint responses
// ————————————————————————————————————————————————————————————————————————

// MetaAsset is one entry of the "meta" info response's universe array.
type MetaAsset struct {
	Name         string `json:"name"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated"`
}

// MetaResponse is the "meta" info endpoint response.
type MetaResponse struct {
	Universe []MetaAsset `json:"universe"`
}

// RawPosition is one entry of clearinghouseState.assetPositions.
type RawPosition struct {
	Position struct {
		Coin     string `json:"coin"`
		Szi      string `json:"szi"`
		EntryPx  string `json:"entryPx"`
		Leverage struct {
			Value int `json:"value"`
		} `json:"leverage"`
	} `json:"position"`
}

// RawOrder is one entry of the openOrders info response.
type RawOrder struct {
	OID        int64  `json:"oid"`
	Coin       string `json:"coin"`
	Side       string `json:"side"` // "B" or "A"
	OrderType   string `json:"orderType"`
	Sz          string `json:"sz"`
	LimitPx     string `json:"limitPx"`
	TriggerPx   string `json:"triggerPx"`
	TriggerCond string `json:"triggerCondition"`
	ReduceOnly  bool   `json:"reduceOnly"`
}

// ClearinghouseState is the "clearinghouseState" info endpoint response.
type ClearinghouseState struct {
	AssetPositions []RawPosition `json:"assetPositions"`
	MarginSummary  struct {
		AccountValue    string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
		TotalNtlPos     string `json:"totalNtlPos"`
	} `json:"marginSummary"`
	Withdrawable string `json:"withdrawable"`
}

// ————————————————————————————————————————————————————————————————————————
// User-events stream frames
// ————————————————————————————————————————————————————————————————————————

// StreamRawPosition is a position record as it appears inside a userEvents
// "positions" array (flattened, unlike the clearinghouseState shape).
type StreamRawPosition struct {
	Coin     string `json:"coin"`
	Szi      string `json:"szi"`
	EntryPx  string `json:"entryPx"`
	Leverage int    `json:"leverage"`
}

// StreamRawFill is a fill record inside a userEvents "fills" array.
type StreamRawFill struct {
	OID           int64  `json:"oid"`
	Coin          string `json:"coin"`
	Sz            string `json:"sz"`
	Px            string `json:"px"`
	Side          string `json:"side"`
	Dir           string `json:"dir"` // "Open Long" / "Close Short" / ...
	Crossed       bool   `json:"crossed"`
	StartPosition string `json:"startPosition"`
	Time          int64  `json:"time"`
}

// StreamRawOrder is an order record inside a userEvents "orders" array.
type StreamRawOrder struct {
	OID         int64  `json:"oid"`
	Coin        string `json:"coin"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Sz          string `json:"sz"`
	LimitPx     string `json:"limitPx"`
	TriggerPx   string `json:"triggerPx"`
	TriggerCond string `json:"triggerCondition"`
	ReduceOnly  bool   `json:"reduceOnly"`
}

// StreamFrame is one inbound message on the userEvents subscription.
type StreamFrame struct {
	Channel string `json:"channel"`
	Data    struct {
		Fills     []StreamRawFill     `json:"fills,omitempty"`
		Positions []StreamRawPosition `json:"positions,omitempty"`
		Orders    []StreamRawOrder    `json:"orders,omitempty"`
	} `json:"data"`
}

// SubscribeMsg is the outbound subscription request.
type SubscribeMsg struct {
	Method       string `json:"method"`
	Subscription struct {
		Type string `json:"type"`
		User string `json:"user"`
	} `json:"subscription"`
}
