package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/orderdesk/backend/pkg/config"
	"github.com/wonny/orderdesk/backend/pkg/logger"
)

const (
	streamTradeUpdates = "trade_updates"

	// Timing
	PingInterval          = 30 * time.Second
	HandshakeTimeout      = 10 * time.Second
	ReconnectInitialDelay = 1 * time.Second
	ReconnectMaxDelay     = 30 * time.Second
	MaxReconnectAttempts  = 10
)

// UpdateHandler receives every trade update in arrival order
type UpdateHandler func(ctx context.Context, update *TradeUpdate)

// StreamRecorder observes stream activity
type StreamRecorder interface {
	RecordStreamEvent(event string)
	RecordStreamReconnect()
}

// Stream listens to the Alpaca trade_updates websocket
type Stream struct {
	cfg    config.AlpacaConfig
	logger *logger.Logger
	dialer websocket.Dialer

	conn      *websocket.Conn
	connMu    sync.Mutex
	writeMu   sync.Mutex
	connected bool

	// Callbacks
	onUpdate UpdateHandler
	onError  func(error)
	recorder StreamRecorder

	initialDelay time.Duration
	maxDelay     time.Duration
	maxAttempts  int
}

// NewStream creates a new trade update stream
func NewStream(cfg config.AlpacaConfig, log *logger.Logger) *Stream {
	return &Stream{
		cfg:    cfg,
		logger: log,
		dialer: websocket.Dialer{
			HandshakeTimeout: HandshakeTimeout,
		},
		initialDelay: ReconnectInitialDelay,
		maxDelay:     ReconnectMaxDelay,
		maxAttempts:  MaxReconnectAttempts,
	}
}

// Callback setters
func (s *Stream) OnUpdate(fn UpdateHandler) { s.onUpdate = fn }
func (s *Stream) OnError(fn func(error))    { s.onError = fn }

// WithRecorder sets the metrics recorder
func (s *Stream) WithRecorder(r StreamRecorder) *Stream {
	s.recorder = r
	return s
}

// WithBackoff overrides the reconnect policy
func (s *Stream) WithBackoff(initial, max time.Duration, attempts int) *Stream {
	s.initialDelay = initial
	s.maxDelay = max
	s.maxAttempts = attempts
	return s
}

// IsConnected returns connection status
func (s *Stream) IsConnected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connected
}

// Run connects and dispatches updates until ctx is done.
// Lost connections are re-established with exponential backoff.
func (s *Stream) Run(ctx context.Context) error {
	delay := s.initialDelay
	failures := 0

	for {
		err := s.connect(ctx)
		if err == nil {
			failures = 0
			delay = s.initialDelay
			err = s.readLoop(ctx)
		}

		if ctx.Err() != nil {
			s.logger.Info("Alpaca stream stopped")
			return nil
		}

		failures++
		s.reportError(err)
		if failures > s.maxAttempts {
			return fmt.Errorf("max reconnect attempts reached: %w", err)
		}

		s.logger.WithFields(map[string]interface{}{
			"attempt": failures,
			"delay":   delay,
		}).Warn("Alpaca stream disconnected, reconnecting")
		if s.recorder != nil {
			s.recorder.RecordStreamReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.maxDelay {
			delay = s.maxDelay
		}
	}
}

// connect dials, authenticates and subscribes to trade_updates
func (s *Stream) connect(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.StreamURL, nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))

	if err := conn.WriteJSON(authRequest{Action: "auth", Key: s.cfg.APIKey, Secret: s.cfg.SecretKey}); err != nil {
		conn.Close()
		return fmt.Errorf("send auth: %w", err)
	}
	if err := expect(conn, "authorization", func(data json.RawMessage) error {
		var resp authResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return err
		}
		if resp.Status != "authorized" {
			return fmt.Errorf("authorization %s", resp.Status)
		}
		return nil
	}); err != nil {
		conn.Close()
		return err
	}

	listen := listenRequest{Action: "listen", Data: listenData{Streams: []string{streamTradeUpdates}}}
	if err := conn.WriteJSON(listen); err != nil {
		conn.Close()
		return fmt.Errorf("send listen: %w", err)
	}
	if err := expect(conn, "listening", nil); err != nil {
		conn.Close()
		return err
	}

	conn.SetReadDeadline(time.Time{})

	s.connMu.Lock()
	s.conn = conn
	s.connected = true
	s.connMu.Unlock()

	s.logger.Info("Alpaca trade stream connected")
	return nil
}

// expect reads messages until one on stream arrives, then validates its data
func expect(conn *websocket.Conn, stream string, check func(json.RawMessage) error) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await %s: %w", stream, err)
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", stream, err)
		}
		if msg.Stream != stream {
			continue
		}
		if check == nil {
			return nil
		}
		return check(msg.Data)
	}
}

// readLoop dispatches messages until the connection fails or ctx is done
func (s *Stream) readLoop(ctx context.Context) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pingLoop(ctx, conn, done)
	}()

	defer func() {
		close(done)
		wg.Wait()
		s.handleDisconnect()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("stream closed by server: %w", err)
			}
			return fmt.Errorf("read error: %w", err)
		}

		s.handleMessage(ctx, message)
	}
}

// pingLoop sends periodic pings and closes the connection when ctx is done
func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			// Unblocks ReadMessage
			conn.Close()
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				conn.Close()
				return
			}
		}
	}
}

// handleMessage decodes and dispatches one message
func (s *Stream) handleMessage(ctx context.Context, data []byte) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.WithError(err).Warn("Failed to decode stream message")
		return
	}

	if msg.Stream != streamTradeUpdates {
		return
	}

	var update TradeUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		s.logger.WithError(err).Warn("Failed to decode trade update")
		return
	}

	if s.recorder != nil {
		s.recorder.RecordStreamEvent(update.Event)
	}

	s.logger.WithFields(map[string]interface{}{
		"event":           update.Event,
		"broker_order_id": update.Order.ID.String(),
		"symbol":          update.Order.Symbol,
	}).Debug("Trade update received")

	if s.onUpdate != nil {
		s.onUpdate(ctx, &update)
	}
}

// handleDisconnect handles connection loss
func (s *Stream) handleDisconnect() {
	s.connMu.Lock()
	s.connected = false
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

func (s *Stream) reportError(err error) {
	if err != nil && s.onError != nil {
		s.onError(err)
	}
}
