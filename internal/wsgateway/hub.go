package wsgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/price-alerts/internal/config"
	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
)

// Hub manages WebSocket connections and broadcasts notifications.
// It implements notify.Sink.
type Hub struct {
	config   config.WSGatewayConfig
	auth     *AuthManager
	registry *Registry
	upgrader websocket.Upgrader
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	stats    HubStats
	statsMu  sync.RWMutex
}

// HubStats holds statistics about the hub
type HubStats struct {
	ConnectionsTotal       int64
	ConnectionsActive      int64
	ConnectionsRejected    int64
	UsersConnected         int64
	NotificationsReceived  int64
	NotificationsBroadcast int64
	NotificationsDropped   int64
	MessagesSent           int64
	LastNotificationTime   time.Time
}

// NewHub creates a new WebSocket hub
func NewHub(cfg config.WSGatewayConfig, auth *AuthManager) *Hub {
	if auth == nil {
		auth = NewAuthManager("")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.ReadTimeout {
		cfg.PingInterval = cfg.ReadTimeout * 9 / 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config:   cfg,
		auth:     auth,
		registry: NewRegistry(cfg.MaxConnectionsPerUser),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the connection health monitor
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}
	h.running = true

	logger.Info("Starting WebSocket hub",
		logger.Int("max_connections", h.config.MaxConnections),
		logger.Bool("auth_enabled", h.auth.Enabled()),
	)

	h.wg.Add(1)
	go h.monitorConnections()

	return nil
}

// Stop closes every connection and waits for the pumps to exit
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	logger.Info("Stopping WebSocket hub")
	h.cancel()
	for _, conn := range h.registry.All() {
		h.Unregister(conn)
	}
	h.wg.Wait()
	logger.Info("WebSocket hub stopped")
}

// ServeHTTP upgrades a request to a WebSocket connection
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.config.MaxConnections > 0 && h.registry.Count() >= h.config.MaxConnections {
		h.incrementRejected()
		logger.Warn("Max connections reached, rejecting new connection",
			logger.Int("max_connections", h.config.MaxConnections),
		)
		http.Error(w, "Max connections reached", http.StatusServiceUnavailable)
		return
	}

	userID, err := h.auth.Authenticate(r)
	if err != nil {
		h.incrementRejected()
		logger.Warn("Invalid token, rejecting connection", logger.ErrorField(err))
		http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
		return
	}

	if limit := h.config.MaxConnectionsPerUser; limit > 0 && h.registry.CountByUser(userID) >= limit {
		h.incrementRejected()
		logger.Warn("Per-user connection limit reached, rejecting new connection",
			logger.String("user_id", userID),
			logger.Int("limit", limit),
		)
		http.Error(w, "Too many connections", http.StatusTooManyRequests)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade connection", logger.ErrorField(err))
		return
	}

	conn := NewConnection(uuid.NewString(), userID, ws)
	if err := h.Register(conn); err != nil {
		h.incrementRejected()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(h.config.WriteTimeout))
		conn.Close()
		return
	}

	logger.Info("WebSocket connection established",
		logger.String("connection_id", conn.ID),
		logger.String("user_id", userID),
		logger.String("remote_addr", r.RemoteAddr),
	)
}

// Register registers a new connection and starts its pumps.
// The per-user limit is re-checked here since two upgrades may race.
func (h *Hub) Register(conn *Connection) error {
	if err := h.registry.Add(conn); err != nil {
		return err
	}
	h.incrementConnectionsTotal()

	logger.Info("Connection registered",
		logger.String("connection_id", conn.ID),
		logger.String("user_id", conn.UserID),
		logger.Int("total_connections", h.registry.Count()),
	)

	h.wg.Add(2)
	go h.writePump(conn)
	go h.readPump(conn)
	return nil
}

// Unregister removes a connection and closes it. Safe to call more than once.
func (h *Hub) Unregister(conn *Connection) {
	if !h.registry.Remove(conn.ID) {
		return
	}
	conn.Close()

	logger.Info("Connection unregistered",
		logger.String("connection_id", conn.ID),
		logger.String("user_id", conn.UserID),
		logger.Int("total_connections", h.registry.Count()),
	)
}

// Send broadcasts a notification to every interested connection
func (h *Hub) Send(ctx context.Context, n *models.Notification) error {
	if n == nil {
		return fmt.Errorf("%w: nil notification", models.ErrNotificationFormat)
	}
	h.incrementReceived()

	audience := h.registry.Audience(n)
	sent := 0
	dropped := 0

	for _, conn := range audience {
		if err := conn.SendNotification(n); err != nil {
			dropped++
			logger.Debug("Failed to send notification to connection",
				logger.ErrorField(err),
				logger.String("connection_id", conn.ID),
			)
			continue
		}
		sent++
	}

	h.recordBroadcast(dropped)

	logger.Debug("Broadcast notification",
		logger.String("notification_id", n.ID),
		logger.String("symbol", n.Symbol),
		logger.Int("sent", sent),
		logger.Int("dropped", dropped),
		logger.Int("total_connections", h.registry.Count()),
	)
	return nil
}

// Name returns the sink name
func (h *Hub) Name() string {
	return "ws"
}

// writePump is the only writer of conn.Conn
func (h *Hub) writePump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			_ = conn.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case <-conn.Done():
			return

		case message := <-conn.Send:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			h.incrementMessagesSent()

		case <-ticker.C:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles client control messages
func (h *Hub) readPump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	_ = conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.UpdateLastPong()
		return conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket error",
					logger.ErrorField(err),
					logger.String("connection_id", conn.ID),
				)
			}
			return
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			_ = conn.SendError("invalid_message", "failed to parse message")
			continue
		}

		if err := conn.HandleClientMessage(&clientMsg); err != nil {
			logger.Debug("Failed to handle client message",
				logger.ErrorField(err),
				logger.String("connection_id", conn.ID),
			)
		}
	}
}

// monitorConnections removes connections that stopped answering pings
func (h *Hub) monitorConnections() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.ReadTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			staleThreshold := h.config.ReadTimeout * 2

			for _, conn := range h.registry.All() {
				lastPong := conn.GetLastPong()
				if now.Sub(lastPong) > staleThreshold {
					logger.Info("Removing stale connection",
						logger.String("connection_id", conn.ID),
						logger.String("user_id", conn.UserID),
						logger.Duration("idle_time", now.Sub(lastPong)),
					)
					h.Unregister(conn)
				}
			}
		}
	}
}

// ConnectionCount returns the number of open connections
func (h *Hub) ConnectionCount() int {
	return h.registry.Count()
}

// GetStats returns hub statistics
func (h *Hub) GetStats() HubStats {
	h.statsMu.RLock()
	defer h.statsMu.RUnlock()

	stats := h.stats
	stats.ConnectionsActive = int64(h.registry.Count())
	stats.UsersConnected = int64(h.registry.Users())
	return stats
}

func (h *Hub) incrementConnectionsTotal() {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	h.stats.ConnectionsTotal++
}

func (h *Hub) incrementRejected() {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	h.stats.ConnectionsRejected++
}

func (h *Hub) incrementReceived() {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	h.stats.NotificationsReceived++
	h.stats.LastNotificationTime = time.Now()
}

func (h *Hub) recordBroadcast(dropped int) {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	h.stats.NotificationsBroadcast++
	h.stats.NotificationsDropped += int64(dropped)
}

func (h *Hub) incrementMessagesSent() {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	h.stats.MessagesSent++
}
