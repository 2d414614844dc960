package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/internal/storage"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
)

// Sink delivers a rendered notification to the user's device
type Sink interface {
	Send(ctx context.Context, n *models.Notification) error

	// Name identifies the sink in logs and metrics
	Name() string
}

// LogSink writes notifications to the structured log
type LogSink struct{}

// NewLogSink creates a log sink
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Send logs the notification
func (s *LogSink) Send(ctx context.Context, n *models.Notification) error {
	logger.Info("Notification",
		logger.String("notification_id", n.ID),
		logger.String("rule_id", n.RuleID),
		logger.String("symbol", n.Symbol),
		logger.String("title", n.Title),
		logger.String("message", n.Message),
		logger.Bool("sound", n.Sound),
	)
	return nil
}

// Name returns the sink name
func (s *LogSink) Name() string {
	return "log"
}

// RedisSinkConfig holds configuration for RedisSink
type RedisSinkConfig struct {
	Channel        string // Pub/sub channel for live subscribers
	Stream         string // Optional stream for durable consumers; empty disables
	PublishTimeout time.Duration
}

// DefaultRedisSinkConfig returns default configuration
func DefaultRedisSinkConfig() RedisSinkConfig {
	return RedisSinkConfig{
		Channel:        "alerts.notifications",
		PublishTimeout: 2 * time.Second,
	}
}

// RedisSink publishes notifications to a Redis pub/sub channel and,
// optionally, appends them to a stream
type RedisSink struct {
	redis  storage.Publisher
	config RedisSinkConfig
}

// NewRedisSink creates a Redis sink
func NewRedisSink(redis storage.Publisher, config RedisSinkConfig) *RedisSink {
	if redis == nil {
		panic("redis client cannot be nil")
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 2 * time.Second
	}
	return &RedisSink{redis: redis, config: config}
}

// Send publishes the notification
func (s *RedisSink) Send(ctx context.Context, n *models.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.PublishTimeout)
	defer cancel()

	if err := s.redis.Publish(ctx, s.config.Channel, n); err != nil {
		return fmt.Errorf("failed to publish notification to %s: %w", s.config.Channel, err)
	}

	if s.config.Stream != "" {
		if err := s.redis.PublishToStream(ctx, s.config.Stream, "notification", n); err != nil {
			return fmt.Errorf("failed to append notification to stream %s: %w", s.config.Stream, err)
		}
	}

	logger.Debug("Published notification",
		logger.String("notification_id", n.ID),
		logger.String("channel", s.config.Channel),
	)
	return nil
}

// Name returns the sink name
func (s *RedisSink) Name() string {
	return "redis"
}

// MultiSink fans a notification out to several sinks. Every sink is tried;
// the returned error joins the individual failures.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Send delivers to every sink
func (m *MultiSink) Send(ctx context.Context, n *models.Notification) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name returns the sink name
func (m *MultiSink) Name() string {
	return "multi"
}

// Len returns the number of sinks
func (m *MultiSink) Len() int {
	return len(m.sinks)
}
