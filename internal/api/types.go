package api

import (
	"time"

	"hl-copytrader/internal/config"
)

// StatusSnapshot is the full state returned by /api/snapshot and pushed
// as the initial message to every /ws client.
type StatusSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Paused      bool   `json:"paused"`
	PauseReason string `json:"pause_reason,omitempty"`

	Ratio          float64 `json:"ratio"`
	TargetEquity   float64 `json:"target_equity"`
	FollowerEquity float64 `json:"follower_equity"`

	Positions []FollowerPositionStatus `json:"positions"`
	Orders    []FollowerOrderStatus    `json:"orders"`

	Caps   CapsStatus    `json:"caps"`
	Config ConfigSummary `json:"config"`
}

// FollowerPositionStatus reports one follower-side position the
// Executor currently tracks.
type FollowerPositionStatus struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"` // "BUY" or "SELL"
	Size        float64 `json:"size"`
	EntryPrice  float64 `json:"entry_price"`
	NotionalUSD float64 `json:"notional_usd"`
	Leverage    int     `json:"leverage"`
}

// FollowerOrderStatus reports one resting follower order (limit or
// trigger) the Executor placed on behalf of a mirrored target order.
type FollowerOrderStatus struct {
	OrderID    int64   `json:"order_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"`
	LimitPrice float64 `json:"limit_price"`
	TriggerPx  float64 `json:"trigger_px,omitempty"`
	TPSL       string  `json:"tpsl,omitempty"`
	ReduceOnly bool    `json:"reduce_only"`
}

// CapsStatus reports each configured cap alongside its current usage,
// so an operator can see how close the bot is to auto-pausing or
// rejecting an action.
type CapsStatus struct {
	MaxPositionSizeUSD  float64 `json:"max_position_size_usd"`
	MaxTotalExposureUSD float64 `json:"max_total_exposure_usd"`
	CurrentExposureUSD  float64 `json:"current_exposure_usd"`
	MaxOpenTrades       int     `json:"max_open_trades"` // 0 = unlimited
	CurrentOpenTrades   int     `json:"current_open_trades"`
	MaxOpenOrders       int     `json:"max_open_orders"` // 0 = unlimited
	CurrentOpenOrders   int     `json:"current_open_orders"`
	MaxAccountEquity    float64 `json:"max_account_equity"` // 0 = disabled
}

// ConfigSummary is a read-only projection of the parts of Config an
// operator cares about seeing alongside live status.
type ConfigSummary struct {
	SizingMode        string  `json:"sizing_mode"`
	PortfolioRatio    float64 `json:"portfolio_ratio"`
	LeveragePolicy    string  `json:"leverage_policy"`
	UseLimitOrders    bool    `json:"use_limit_orders"`
	TriggerIsMarket   bool    `json:"trigger_is_market"`
	MinEntryQualityPct float64 `json:"min_entry_quality_pct"`
	MinPositionNotional float64 `json:"min_position_notional_usd"`
	BlockedAssets     []string `json:"blocked_assets"`
	SimulatedTrading  bool    `json:"simulated_trading"`
}

// NewConfigSummary projects a Config down to the fields worth exposing
// on the status surface.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		SizingMode:          cfg.Sizing.Mode,
		PortfolioRatio:      cfg.Sizing.PortfolioRatio,
		LeveragePolicy:      cfg.Leverage.Policy,
		UseLimitOrders:      cfg.CopyRules.UseLimitOrders,
		TriggerIsMarket:     cfg.CopyRules.TriggerIsMarket,
		MinEntryQualityPct:  cfg.CopyRules.MinEntryQualityPct,
		MinPositionNotional: cfg.CopyRules.MinPositionNotional,
		BlockedAssets:       cfg.CopyRules.BlockedAssets,
		SimulatedTrading:    cfg.Simulated.Enabled,
	}
}
