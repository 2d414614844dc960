package storage

import (
	"context"
	"time"
)

// Values passed to Set, ListPush, Publish and PublishToStream are JSON-encoded.

// KeyValueStore holds JSON documents under string keys
type KeyValueStore interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	GetJSON(ctx context.Context, key string, dest interface{}) error
	// MGet returns one entry per key; missing keys yield an empty string
	MGet(ctx context.Context, keys ...string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// SetStore keeps unordered string sets, used as key indexes
type SetStore interface {
	SetAdd(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetRemove(ctx context.Context, key string, members ...string) error
}

// ListStore keeps capped newest-first lists
type ListStore interface {
	ListPush(ctx context.Context, key string, value interface{}) error
	// ListRange and ListTrim take inclusive, possibly negative, indices
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ListTrim(ctx context.Context, key string, start, stop int64) error
	Delete(ctx context.Context, key string) error
}

// Publisher fans messages out to live subscribers and durable streams
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	PublishToStream(ctx context.Context, stream string, key string, value interface{}) error
}

// RedisClient is the full Redis surface used by the engine
type RedisClient interface {
	KeyValueStore
	SetStore
	ListStore
	Publisher

	Ping(ctx context.Context) error
	Close() error
}

// PubSubMessage is a message published to a channel
type PubSubMessage struct {
	Channel string
	Message string
}
