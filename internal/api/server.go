package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"hl-copytrader/internal/config"
	"hl-copytrader/internal/risk"
)

// Server runs the thin HTTP/WebSocket status surface: /health,
// /api/snapshot, /api/pause, /api/resume, /api/stop, and /ws. No web
// UI, no historical query endpoints, no auth beyond what the origin
// check already provides.
type Server struct {
	cfg      config.DashboardConfig
	provider StatusProvider
	fullCfg  config.Config
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger

	notifyCh <-chan NotificationEvent
}

// NewServer creates a new status-surface server.
func NewServer(
	cfg config.DashboardConfig,
	provider StatusProvider,
	riskMgr *risk.Manager,
	commander Commander,
	notifyCh <-chan NotificationEvent,
	fullCfg config.Config,
	logger *slog.Logger,
) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, riskMgr, commander, fullCfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/api/pause", handlers.HandlePause)
	mux.HandleFunc("/api/resume", handlers.HandleResume)
	mux.HandleFunc("/api/stop", handlers.HandleStop)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		fullCfg:  fullCfg,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
		notifyCh: notifyCh,
	}
}

// Start starts the WebSocket hub, the notification consumer, and the
// HTTP server. Blocks until the server stops.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.consumeNotifications()

	s.logger.Info("status surface starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping status surface")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// consumeNotifications relays the Executor's notification feed to all
// connected websocket clients.
func (s *Server) consumeNotifications() {
	if s.notifyCh == nil {
		return
	}
	for evt := range s.notifyCh {
		s.hub.BroadcastEvent(evt)
	}
}
