package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
)

// StreamSourceConfig holds configuration for StreamSource
type StreamSourceConfig struct {
	URL               string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingPeriod        time.Duration
	PongWait          time.Duration
	WriteTimeout      time.Duration
	MaxAge            time.Duration // Quotes older than this are treated as absent; 0 disables
}

// DefaultStreamSourceConfig returns default configuration
func DefaultStreamSourceConfig() StreamSourceConfig {
	return StreamSourceConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingPeriod:        54 * time.Second,
		PongWait:          60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// StreamStats holds feed connection statistics
type StreamStats struct {
	Connected      bool
	Connects       int64
	Reconnects     int64
	QuotesReceived int64
	QuotesRejected int64
	LastQuoteAt    time.Time
	LastError      string
}

// StreamSource keeps the latest quote per symbol pushed by a WebSocket feed.
// The feed sends either one JSON PriceSample or an array of them per message.
// GetPrices fails while the feed is disconnected so a cycle never evaluates
// against a cache that has stopped updating.
type StreamSource struct {
	config StreamSourceConfig
	dialer *websocket.Dialer

	mu       sync.RWMutex
	quotes   map[string]models.PriceSample
	conn     *websocket.Conn
	attempts int
	stats    StreamStats

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	now     func() time.Time
}

// NewStreamSource creates a new WebSocket-fed price source
func NewStreamSource(config StreamSourceConfig) *StreamSource {
	if config.URL == "" {
		panic("stream URL cannot be empty")
	}
	defaults := DefaultStreamSourceConfig()
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.MaxReconnectDelay < config.ReconnectDelay {
		config.MaxReconnectDelay = defaults.MaxReconnectDelay
	}
	if config.PongWait <= 0 {
		config.PongWait = defaults.PongWait
	}
	if config.PingPeriod <= 0 || config.PingPeriod >= config.PongWait {
		config.PingPeriod = config.PongWait * 9 / 10
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	return &StreamSource{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		quotes: make(map[string]models.PriceSample),
		now:    time.Now,
	}
}

// Start begins connecting to the feed in the background
func (s *StreamSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("stream source is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	s.wg.Add(1)
	go s.connectLoop()

	logger.Info("Price stream started", logger.String("url", s.config.URL))
	return nil
}

// Stop closes the feed connection and stops reconnecting
func (s *StreamSource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("Price stream stopped")
}

// GetPrices returns the cached quote of every requested symbol that has a fresh one
func (s *StreamSource) GetPrices(ctx context.Context, symbols []string) (models.PriceBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.stats.Connected {
		return nil, fmt.Errorf("%w: stream disconnected", models.ErrPriceSource)
	}

	now := s.now()
	batch := make(models.PriceBatch, len(symbols))
	for _, symbol := range symbols {
		sample, ok := s.quotes[symbol]
		if !ok {
			continue
		}
		if s.config.MaxAge > 0 && now.Sub(sample.AsOf) > s.config.MaxAge {
			continue
		}
		batch[symbol] = sample
	}
	return batch, nil
}

// Name returns the source type
func (s *StreamSource) Name() string {
	return "stream"
}

// IsConnected reports whether the feed connection is up
func (s *StreamSource) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats.Connected
}

// GetStats returns a copy of the feed statistics
func (s *StreamSource) GetStats() StreamStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *StreamSource) connectLoop() {
	defer s.wg.Done()

	for {
		if s.ctx.Err() != nil {
			return
		}

		conn, _, err := s.dialer.DialContext(s.ctx, s.config.URL, nil)
		if err != nil {
			delay := s.nextBackoff(err)
			logger.Warn("Price stream connect failed",
				logger.String("url", s.config.URL),
				logger.Duration("retry_in", delay),
				logger.ErrorField(err),
			)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		if !s.attach(conn) {
			_ = conn.Close()
			return
		}
		logger.Info("Price stream connected", logger.String("url", s.config.URL))

		err = s.readLoop(conn)
		s.detach(err)
		if s.ctx.Err() == nil {
			logger.Warn("Price stream disconnected", logger.ErrorField(err))
		}
	}
}

// attach records a new connection; it fails if Stop ran during the dial
func (s *StreamSource) attach(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}
	if s.stats.Connects > 0 {
		s.stats.Reconnects++
	}
	s.conn = conn
	s.attempts = 0
	s.stats.Connects++
	s.stats.Connected = true
	s.stats.LastError = ""
	return true
}

func (s *StreamSource) detach(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.stats.Connected = false
	if err != nil {
		s.stats.LastError = err.Error()
	}
}

// nextBackoff returns baseDelay * 2^attempts capped at MaxReconnectDelay
func (s *StreamSource) nextBackoff(err error) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.LastError = err.Error()
	delay := s.config.ReconnectDelay
	for i := 0; i < s.attempts && delay < s.config.MaxReconnectDelay; i++ {
		delay *= 2
	}
	if delay > s.config.MaxReconnectDelay {
		delay = s.config.MaxReconnectDelay
	}
	s.attempts++
	return delay
}

// readLoop blocks until the connection fails or is closed by Stop
func (s *StreamSource) readLoop(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	})

	done := make(chan struct{})
	defer close(done)
	s.wg.Add(1)
	go s.pingLoop(conn, done)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			s.handleMessage(message)
		}
	}
}

func (s *StreamSource) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout)); err != nil {
				logger.Debug("Price stream ping failed", logger.ErrorField(err))
				_ = conn.Close()
				return
			}
		}
	}
}

// handleMessage merges one feed message into the cache. An older quote
// never replaces a newer one.
func (s *StreamSource) handleMessage(message []byte) {
	samples, err := decodeFeedMessage(message)
	if err != nil {
		logger.Warn("Ignoring malformed feed message", logger.ErrorField(err))
		s.mu.Lock()
		s.stats.QuotesRejected++
		s.mu.Unlock()
		return
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sample := range samples {
		sample.Symbol = models.NormalizeSymbol(sample.Symbol)
		if sample.AsOf.IsZero() {
			sample.AsOf = now
		}
		if err := sample.Validate(); err != nil {
			s.stats.QuotesRejected++
			continue
		}
		if prev, ok := s.quotes[sample.Symbol]; ok && sample.AsOf.Before(prev.AsOf) {
			continue
		}
		s.quotes[sample.Symbol] = sample
		s.stats.QuotesReceived++
		s.stats.LastQuoteAt = now
	}
}

func decodeFeedMessage(message []byte) ([]models.PriceSample, error) {
	message = bytes.TrimSpace(message)
	if len(message) > 0 && message[0] == '[' {
		var samples []models.PriceSample
		if err := json.Unmarshal(message, &samples); err != nil {
			return nil, fmt.Errorf("decode quote array: %w", err)
		}
		return samples, nil
	}

	var sample models.PriceSample
	if err := json.Unmarshal(message, &sample); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	return []models.PriceSample{sample}, nil
}
