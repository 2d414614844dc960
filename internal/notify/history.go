package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
)

// DefaultHistoryLimit is the number of notifications kept
const DefaultHistoryLimit = 50

// DefaultPersistTimeout bounds each history write-through call
const DefaultPersistTimeout = 2 * time.Second

// HistoryRepository persists notification history
type HistoryRepository interface {
	// LoadNotifications returns up to limit notifications, newest first
	LoadNotifications(ctx context.Context, limit int) ([]*models.Notification, error)

	// AppendNotification stores a new notification and prunes past limit
	AppendNotification(ctx context.Context, n *models.Notification, limit int) error

	// ReplaceNotifications overwrites the stored history, newest first
	ReplaceNotifications(ctx context.Context, items []*models.Notification) error
}

// History is the in-memory notification center: newest first, capped,
// with an unread counter. Persistence is best effort.
type History struct {
	mu     sync.RWMutex
	items  []*models.Notification
	unread int
	limit  int

	repo           HistoryRepository
	persistTimeout time.Duration
}

// NewHistory creates a notification history. repo may be nil.
func NewHistory(limit int, repo HistoryRepository) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{
		items:          make([]*models.Notification, 0, limit),
		limit:          limit,
		repo:           repo,
		persistTimeout: DefaultPersistTimeout,
	}
}

// Load hydrates the history from the repository
func (h *History) Load(ctx context.Context) error {
	if h.repo == nil {
		return nil
	}

	items, err := h.repo.LoadNotifications(ctx, h.limit)
	if err != nil {
		return fmt.Errorf("failed to load notifications: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.items = h.items[:0]
	h.unread = 0
	for _, n := range items {
		if n == nil || len(h.items) >= h.limit {
			continue
		}
		h.items = append(h.items, n)
		if !n.IsRead {
			h.unread++
		}
	}
	return nil
}

// Add prepends a notification, dropping the oldest beyond the limit
func (h *History) Add(ctx context.Context, n *models.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stored := *n
	h.items = append([]*models.Notification{&stored}, h.items...)
	if !stored.IsRead {
		h.unread++
	}
	for len(h.items) > h.limit {
		dropped := h.items[len(h.items)-1]
		h.items = h.items[:len(h.items)-1]
		if !dropped.IsRead {
			h.unread--
		}
	}

	if h.repo != nil {
		ctx, cancel := context.WithTimeout(ctx, h.persistTimeout)
		defer cancel()
		if err := h.repo.AppendNotification(ctx, &stored, h.limit); err != nil {
			h.persistFailed("append", err)
		}
	}
}

// List returns copies of all notifications, newest first
func (h *History) List() []models.Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.Notification, len(h.items))
	for i, n := range h.items {
		out[i] = *n
	}
	return out
}

// UnreadCount returns the number of unread notifications
func (h *History) UnreadCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.unread
}

// Len returns the number of notifications kept
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// MarkAsRead marks one notification as read. Marking twice is a no-op.
func (h *History) MarkAsRead(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, n := range h.items {
		if n.ID != id {
			continue
		}
		if !n.IsRead {
			n.IsRead = true
			h.unread--
			h.replaceLocked(ctx)
		}
		return nil
	}
	return fmt.Errorf("%w: notification %s", models.ErrNotFound, id)
}

// MarkAllAsRead marks every notification as read
func (h *History) MarkAllAsRead(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.unread == 0 {
		return
	}
	for _, n := range h.items {
		n.IsRead = true
	}
	h.unread = 0
	h.replaceLocked(ctx)
}

// Delete removes one notification
func (h *History) Delete(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, n := range h.items {
		if n.ID != id {
			continue
		}
		if !n.IsRead {
			h.unread--
		}
		h.items = append(h.items[:i], h.items[i+1:]...)
		h.replaceLocked(ctx)
		return nil
	}
	return fmt.Errorf("%w: notification %s", models.ErrNotFound, id)
}

// Clear removes all notifications
func (h *History) Clear(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items = h.items[:0]
	h.unread = 0
	h.replaceLocked(ctx)
}

func (h *History) replaceLocked(ctx context.Context) {
	if h.repo == nil {
		return
	}
	snapshot := make([]*models.Notification, len(h.items))
	for i, n := range h.items {
		c := *n
		snapshot[i] = &c
	}

	ctx, cancel := context.WithTimeout(ctx, h.persistTimeout)
	defer cancel()
	if err := h.repo.ReplaceNotifications(ctx, snapshot); err != nil {
		h.persistFailed("replace", err)
	}
}

func (h *History) persistFailed(op string, err error) {
	logger.ErrorsTotal.WithLabelValues("notification_history", op).Inc()
	logger.Error("Failed to persist notification history",
		logger.String("operation", op),
		logger.ErrorField(err),
	)
}
