package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohamedkhairy/price-alerts/internal/config"
	"github.com/mohamedkhairy/price-alerts/internal/storage"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
	"github.com/redis/go-redis/v9"
)

var _ storage.RedisClient = (*Client)(nil)

// Client implements storage.RedisClient on go-redis.
// Values are stored as JSON; a missing key reads as empty rather than an error.
type Client struct {
	rdb *redis.Client
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	c := &Client{rdb: rdb}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
		logger.Int("db", cfg.DB),
	)
	return c, nil
}

// NewClientFrom wraps an existing go-redis client
func NewClientFrom(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func encode(value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return data, nil
}

// Set stores value as JSON; ttl 0 keeps it forever
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

// GetJSON decodes the value at key into dest; a missing key leaves dest untouched
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return err
	}
	return json.Unmarshal(data, dest)
}

// MGet fetches several keys in one round trip
func (c *Client) MGet(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return []string{}, nil
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]string, len(values))
	for i, v := range values {
		switch val := v.(type) {
		case nil:
		case string:
			out[i] = val
		default:
			out[i] = fmt.Sprint(val)
		}
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *Client) SetAdd(ctx context.Context, key string, members ...string) error {
	return c.rdb.SAdd(ctx, key, toArgs(members)...).Err()
}

func (c *Client) SetMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

func (c *Client) SetRemove(ctx context.Context, key string, members ...string) error {
	return c.rdb.SRem(ctx, key, toArgs(members)...).Err()
}

// ListPush prepends value as JSON
func (c *Client) ListPush(ctx context.Context, key string, value interface{}) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	return c.rdb.LPush(ctx, key, data).Err()
}

func (c *Client) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.rdb.LRange(ctx, key, start, stop).Result()
}

func (c *Client) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return c.rdb.LTrim(ctx, key, start, stop).Err()
}

// Publish sends message as JSON to a pub/sub channel
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := encode(message)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, channel, data).Err()
}

// PublishToStream appends value as JSON to a stream under field key
func (c *Client) PublishToStream(ctx context.Context, stream string, key string, value interface{}) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{key: string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func toArgs(members []string) []interface{} {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}
