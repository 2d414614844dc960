package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/internal/storage"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
)

// DefaultPriceKeyPrefix is the default prefix of latest-quote keys
const DefaultPriceKeyPrefix = "price:"

// RedisSourceConfig holds configuration for RedisSource
type RedisSourceConfig struct {
	KeyPrefix string        // Quote keys are {KeyPrefix}{SYMBOL}
	MaxAge    time.Duration // Quotes older than this are treated as absent; 0 disables
}

// DefaultRedisSourceConfig returns default configuration
func DefaultRedisSourceConfig() RedisSourceConfig {
	return RedisSourceConfig{
		KeyPrefix: DefaultPriceKeyPrefix,
	}
}

// RedisSource reads the latest quote per symbol from Redis keys written by
// an upstream feed. A key holds either a bare number or a JSON PriceSample.
type RedisSource struct {
	redis  storage.KeyValueStore
	config RedisSourceConfig
	now    func() time.Time
}

// NewRedisSource creates a new Redis-backed price source
func NewRedisSource(redis storage.KeyValueStore, config RedisSourceConfig) *RedisSource {
	if redis == nil {
		panic("redis client cannot be nil")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultPriceKeyPrefix
	}
	return &RedisSource{
		redis:  redis,
		config: config,
		now:    time.Now,
	}
}

// GetPrices fetches all requested quotes in a single round trip.
// Missing, malformed or stale quotes are left out of the batch.
func (r *RedisSource) GetPrices(ctx context.Context, symbols []string) (models.PriceBatch, error) {
	batch := make(models.PriceBatch, len(symbols))
	if len(symbols) == 0 {
		return batch, nil
	}

	keys := make([]string, len(symbols))
	for i, symbol := range symbols {
		keys[i] = r.config.KeyPrefix + symbol
	}

	values, err := r.redis.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("%w: redis: %v", models.ErrPriceSource, err)
	}
	if len(values) != len(symbols) {
		return nil, fmt.Errorf("%w: redis returned %d values for %d keys", models.ErrPriceSource, len(values), len(symbols))
	}

	now := r.now()
	for i, raw := range values {
		if raw == "" {
			continue
		}
		sample, err := parseQuote(symbols[i], raw, now)
		if err != nil {
			logger.Warn("Ignoring malformed quote",
				logger.String("symbol", symbols[i]),
				logger.ErrorField(err),
			)
			continue
		}
		if r.config.MaxAge > 0 && now.Sub(sample.AsOf) > r.config.MaxAge {
			logger.Debug("Ignoring stale quote",
				logger.String("symbol", symbols[i]),
				logger.Time("as_of", sample.AsOf),
			)
			continue
		}
		batch[symbols[i]] = sample
	}

	return batch, nil
}

// Name returns the source type
func (r *RedisSource) Name() string {
	return "redis"
}

// parseQuote decodes a quote value. A bare number is stamped with now.
func parseQuote(symbol, raw string, now time.Time) (models.PriceSample, error) {
	raw = strings.TrimSpace(raw)

	if price, err := strconv.ParseFloat(strings.Trim(raw, `"`), 64); err == nil {
		sample := models.PriceSample{Symbol: symbol, Price: price, AsOf: now}
		return sample, sample.Validate()
	}

	var sample models.PriceSample
	if err := json.Unmarshal([]byte(raw), &sample); err != nil {
		return models.PriceSample{}, fmt.Errorf("decode quote: %w", err)
	}
	sample.Symbol = symbol
	if sample.AsOf.IsZero() {
		sample.AsOf = now
	}
	return sample, sample.Validate()
}
