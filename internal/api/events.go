package api

import (
	"time"

	"github.com/shopspring/decimal"

	"hl-copytrader/pkg/types"
)

// NotificationEvent is the envelope for everything pushed to the
// notification sink and mirrored onto /ws: dispatched actions, skips,
// and pause transitions. It is the same structured payload handed to
// the sink's send(kind, payload) and broadcast to websocket clients.
type NotificationEvent struct {
	Type      string      `json:"type"` // "snapshot", "action", "skip", "pause"
	Timestamp time.Time   `json:"timestamp"`
	Symbol    string      `json:"symbol,omitempty"`
	Data      interface{} `json:"data"`
}

// ActionEvent reports a dispatched IntendedAction and how the Executor
// interpreted the Gateway's result.
type ActionEvent struct {
	Kind       string  `json:"kind"` // ActionKind: MarketOpen, MarketClose, LimitPlace, TriggerPlace, Cancel
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	TriggerPx  float64 `json:"trigger_px,omitempty"`
	TPSL       string  `json:"tpsl,omitempty"`
	Leverage   int     `json:"leverage,omitempty"`
	ReduceOnly bool    `json:"reduce_only"`
	Outcome    string  `json:"outcome"` // "resting", "filled", "error"
	OrderID    int64   `json:"order_id,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// SkipEvent is the structured {kind, symbol, reason, context} payload
// the spec requires for rejections, invariant refusals, and Sizer
// skips (blocked-asset skips are the one deliberate exception: those
// are dropped silently at the Differ and never reach here).
type SkipEvent struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// PauseEvent reports a pause/resume transition, automatic or manual.
type PauseEvent struct {
	Paused bool   `json:"paused"`
	Reason string `json:"reason,omitempty"`
}

// NewActionEvent builds a notification event from a dispatched action
// and the outcome the Executor observed.
func NewActionEvent(action types.IntendedAction, outcome string, orderID int64, submitErr error) NotificationEvent {
	evt := ActionEvent{
		Kind:       string(action.Kind),
		Symbol:     action.Symbol,
		Side:       string(action.Side),
		Size:       toFloat(action.Size),
		LimitPrice: toFloat(action.LimitPrice),
		TriggerPx:  toFloat(action.TriggerPx),
		TPSL:       string(action.TPSL),
		Leverage:   action.Leverage,
		ReduceOnly: action.ReduceOnly,
		Outcome:    outcome,
		OrderID:    orderID,
	}
	if submitErr != nil {
		evt.Error = submitErr.Error()
	}
	return NotificationEvent{
		Type:      "action",
		Timestamp: time.Now(),
		Symbol:    action.Symbol,
		Data:      evt,
	}
}

// NewSkipEvent builds a notification event from a Sizer or Executor skip.
func NewSkipEvent(skip types.Skip) NotificationEvent {
	return NotificationEvent{
		Type:      "skip",
		Timestamp: time.Now(),
		Symbol:    skip.Symbol,
		Data: SkipEvent{
			Symbol: skip.Symbol,
			Reason: string(skip.Reason),
			Detail: skip.Detail,
		},
	}
}

// NewPauseEvent builds a notification event from a risk.PauseSignal.
func NewPauseEvent(paused bool, reason string) NotificationEvent {
	return NotificationEvent{
		Type:      "pause",
		Timestamp: time.Now(),
		Data:      PauseEvent{Paused: paused, Reason: reason},
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
