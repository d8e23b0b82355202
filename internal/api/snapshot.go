package api

import (
	"time"

	"hl-copytrader/internal/config"
	"hl-copytrader/internal/risk"
)

// StatusProvider is implemented by the Executor: it exposes the
// follower-side state the status surface reports, without the API
// package needing to import the executor's internals.
type StatusProvider interface {
	Positions() []FollowerPositionStatus
	Orders() []FollowerOrderStatus
	Ratio() float64
	TargetEquity() float64
	FollowerEquity() float64
	Caps() CapsStatus
}

// BuildSnapshot aggregates executor and risk-manager state into the
// payload served by /api/snapshot and pushed to new /ws clients.
func BuildSnapshot(provider StatusProvider, riskMgr *risk.Manager, cfg config.Config) StatusSnapshot {
	riskSnap := riskMgr.Snapshot()

	caps := provider.Caps()
	caps.MaxAccountEquity = riskSnap.MaxAccountEquity

	return StatusSnapshot{
		Timestamp:      time.Now(),
		Paused:         riskSnap.Paused,
		PauseReason:    riskSnap.PauseReason,
		Ratio:          provider.Ratio(),
		TargetEquity:   provider.TargetEquity(),
		FollowerEquity: provider.FollowerEquity(),
		Positions:      provider.Positions(),
		Orders:         provider.Orders(),
		Caps:           caps,
		Config:         NewConfigSummary(cfg),
	}
}
