// Package risk owns the one cap the Sizer cannot enforce as a pure
// function: the account-equity auto-pause. Everything else — per-position
// size, aggregate exposure, max open trades/orders — is a per-event check
// the Sizer makes directly against values the Executor already tracks; only
// the equity cap needs state that persists across events (once it trips,
// it stays tripped until an operator resumes), so it lives here as its own
// small goroutine.
package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hl-copytrader/internal/config"
)

// EquityReport is submitted by the Executor every time it refreshes the
// follower's equity after a fill. There is no periodic poll.
type EquityReport struct {
	Equity    float64
	Timestamp time.Time
}

// PauseSignal is emitted on PauseCh whenever the pause state changes, so
// the status surface's notification feed can report it without polling.
// The Executor reads the flag through IsPaused instead.
type PauseSignal struct {
	Paused bool
	Reason string
}

// Manager tracks follower equity against MaxAccountEquity and exposes a
// single pause flag. Reads are atomic-safe via RWMutex; writes only happen
// from Run's report loop or from the explicit Pause/Resume commands (the
// dashboard's pause/resume endpoints).
type Manager struct {
	cfg    config.CopyRulesConfig
	logger *slog.Logger

	mu           sync.RWMutex
	paused       bool
	pauseReason  string
	lastEquity   float64
	lastReportAt time.Time

	reportCh chan EquityReport
	pauseCh  chan PauseSignal
}

// NewManager creates a risk manager. MaxAccountEquity == 0 disables the cap.
func NewManager(cfg config.CopyRulesConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger.With("component", "risk"),
		reportCh: make(chan EquityReport, 64),
		pauseCh:  make(chan PauseSignal, 8),
	}
}

// Run processes equity reports until ctx is cancelled.
func (rm *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case report := <-rm.reportCh:
			rm.processReport(report)
		}
	}
}

// Report submits an equity reading (non-blocking; drops under backpressure
// since only the latest reading matters).
func (rm *Manager) Report(report EquityReport) {
	select {
	case rm.reportCh <- report:
	default:
		rm.logger.Warn("equity report channel full, dropping report")
	}
}

// PauseCh returns the channel pause/resume transitions are published on.
func (rm *Manager) PauseCh() <-chan PauseSignal {
	return rm.pauseCh
}

// IsPaused reports the current pause state.
func (rm *Manager) IsPaused() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.paused
}

// Pause engages the pause flag manually (operator command via the status
// surface's /api/pause).
func (rm *Manager) Pause(reason string) {
	rm.setPaused(true, reason)
}

// Resume clears the pause flag manually (/api/resume).
func (rm *Manager) Resume() {
	rm.setPaused(false, "")
}

// Snapshot returns the current risk state for the status surface.
func (rm *Manager) Snapshot() Snapshot {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return Snapshot{
		Paused:           rm.paused,
		PauseReason:      rm.pauseReason,
		Equity:           rm.lastEquity,
		MaxAccountEquity: rm.cfg.MaxAccountEquity,
		LastReportAt:     rm.lastReportAt,
	}
}

// Snapshot is the read-only view exposed to the status surface.
type Snapshot struct {
	Paused           bool
	PauseReason      string
	Equity           float64
	MaxAccountEquity float64
	LastReportAt     time.Time
}

func (rm *Manager) processReport(report EquityReport) {
	rm.mu.Lock()
	rm.lastEquity = report.Equity
	rm.lastReportAt = report.Timestamp
	alreadyPaused := rm.paused
	rm.mu.Unlock()

	if alreadyPaused {
		return
	}
	if rm.cfg.MaxAccountEquity <= 0 {
		return
	}
	if report.Equity < rm.cfg.MaxAccountEquity {
		return
	}

	rm.logger.Warn("account equity cap breached, pausing",
		"equity", report.Equity, "cap", rm.cfg.MaxAccountEquity)
	rm.setPaused(true, "max account equity reached")
}

func (rm *Manager) setPaused(paused bool, reason string) {
	rm.mu.Lock()
	changed := rm.paused != paused
	rm.paused = paused
	rm.pauseReason = reason
	rm.mu.Unlock()

	if !changed {
		return
	}
	sig := PauseSignal{Paused: paused, Reason: reason}
	select {
	case rm.pauseCh <- sig:
	default:
		select {
		case <-rm.pauseCh:
		default:
		}
		rm.pauseCh <- sig
	}
}
