package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/internal/storage"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
)

// DefaultHistoryKey is the Redis list holding notification history
const DefaultHistoryKey = "alerts:notifications"

// RedisHistoryRepository keeps notification history in a Redis list, newest at the head
type RedisHistoryRepository struct {
	redis storage.ListStore
	key   string
}

// NewRedisHistoryRepository creates a Redis-backed history repository
func NewRedisHistoryRepository(redis storage.ListStore, key string) *RedisHistoryRepository {
	if redis == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultHistoryKey
	}
	return &RedisHistoryRepository{redis: redis, key: key}
}

// LoadNotifications returns up to limit notifications, newest first
func (r *RedisHistoryRepository) LoadNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	raw, err := r.redis.ListRange(ctx, r.key, 0, int64(limit)-1)
	if err != nil {
		return nil, fmt.Errorf("failed to read notification history: %w", err)
	}

	out := make([]*models.Notification, 0, len(raw))
	for _, item := range raw {
		var n models.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			logger.Warn("Skipping undecodable notification", logger.ErrorField(err))
			continue
		}
		out = append(out, &n)
	}
	return out, nil
}

// AppendNotification pushes a notification and trims the list to limit
func (r *RedisHistoryRepository) AppendNotification(ctx context.Context, n *models.Notification, limit int) error {
	if err := r.redis.ListPush(ctx, r.key, n); err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if err := r.redis.ListTrim(ctx, r.key, 0, int64(limit)-1); err != nil {
		return fmt.Errorf("failed to trim notification history: %w", err)
	}
	return nil
}

// ReplaceNotifications rewrites the list with items, newest first
func (r *RedisHistoryRepository) ReplaceNotifications(ctx context.Context, items []*models.Notification) error {
	if err := r.redis.Delete(ctx, r.key); err != nil {
		return fmt.Errorf("failed to clear notification history: %w", err)
	}
	// push oldest first so the newest ends at the head
	for i := len(items) - 1; i >= 0; i-- {
		if err := r.redis.ListPush(ctx, r.key, items[i]); err != nil {
			return fmt.Errorf("failed to push notification: %w", err)
		}
	}
	return nil
}
