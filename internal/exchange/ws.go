// ws.go implements the exchange's real-time user-events feed.
//
// A single duplex WebSocket connection carries one "userEvents"
// subscription for the target address: fills, position updates, and
// order lifecycle events all arrive as StreamFrame messages on the same
// socket (unlike a market feed, there is no separate channel to manage).
//
// The connection auto-reconnects with exponential backoff (1s → 60s,
// doubling each attempt) and re-subscribes immediately on reconnect. Before
// the caller is allowed to resume consuming frames after a reconnect, the
// subscriber first calls the configured onReconnect hook — normally a
// Differ snapshot refresh — so a gap in the stream never gets mistaken for
// "nothing happened" by consumers further downstream.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hl-copytrader/pkg/types"
)

const (
	pingInterval     = 30 * time.Second
	readTimeout      = 60 * time.Second
	minReconnectWait = time.Second
	maxReconnectWait = 60 * time.Second
	writeTimeout     = 10 * time.Second
	frameBufferSize  = 256
)

// StreamSubscriber manages the userEvents WebSocket connection for one
// address.
type StreamSubscriber struct {
	url     string
	address string

	conn   *websocket.Conn
	connMu sync.Mutex

	frames chan types.StreamFrame

	// onReconnect runs after a fresh connection is established and
	// subscribed, before any frame on that connection is forwarded to
	// frames. A non-nil error aborts this connection attempt and the
	// reconnect loop retries with backoff.
	onReconnect func(ctx context.Context) error

	logger *slog.Logger
}

// NewStreamSubscriber creates a subscriber for the given address. onReconnect
// may be nil, in which case no snapshot refresh is triggered on reconnect —
// callers should only pass nil in tests.
func NewStreamSubscriber(wsURL, address string, onReconnect func(ctx context.Context) error, logger *slog.Logger) *StreamSubscriber {
	return &StreamSubscriber{
		url:         wsURL,
		address:     address,
		frames:      make(chan types.StreamFrame, frameBufferSize),
		onReconnect: onReconnect,
		logger:      logger.With("component", "stream_subscriber"),
	}
}

// Frames returns the read-only channel of inbound stream frames.
func (s *StreamSubscriber) Frames() <-chan types.StreamFrame { return s.frames }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (s *StreamSubscriber) Run(ctx context.Context) error {
	backoff := minReconnectWait

	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close gracefully closes the connection.
func (s *StreamSubscriber) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *StreamSubscriber) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if err := s.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	if s.onReconnect != nil {
		if err := s.onReconnect(ctx); err != nil {
			return fmt.Errorf("reconnect refresh: %w", err)
		}
	}

	s.logger.Info("stream connected", "address", s.address)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		s.dispatchMessage(msg)
	}
}

func (s *StreamSubscriber) subscribe() error {
	msg := types.SubscribeMsg{Method: "subscribe"}
	msg.Subscription.Type = "userEvents"
	msg.Subscription.User = s.address
	return s.writeJSON(msg)
}

func (s *StreamSubscriber) dispatchMessage(data []byte) {
	var envelope struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Debug("ignoring non-json stream message", "data", string(data))
		return
	}

	switch envelope.Channel {
	case "userEvents":
		var frame types.StreamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Error("unmarshal user event frame", "error", err)
			return
		}
		select {
		case s.frames <- frame:
		default:
			s.logger.Warn("frame channel full, dropping frame")
		}

	case "subscriptionResponse", "pong":
		s.logger.Debug("ignoring control message", "channel", envelope.Channel)

	default:
		s.logger.Debug("unknown stream channel", "channel", envelope.Channel)
	}
}

func (s *StreamSubscriber) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeJSON(map[string]string{"method": "ping"}); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *StreamSubscriber) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}
