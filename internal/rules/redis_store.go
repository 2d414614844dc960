package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/internal/storage"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
)

const (
	// DefaultRedisKeyPrefix is the default namespace for alert keys in Redis
	DefaultRedisKeyPrefix = "alerts:"
)

// RedisRepositoryConfig holds configuration for RedisRepository
type RedisRepositoryConfig struct {
	KeyPrefix string // Namespace for keys (default: "alerts:")
}

// DefaultRedisRepositoryConfig returns default configuration
func DefaultRedisRepositoryConfig() RedisRepositoryConfig {
	return RedisRepositoryConfig{
		KeyPrefix: DefaultRedisKeyPrefix,
	}
}

// RedisRepository persists rules in Redis.
// Rules are stored as JSON under {prefix}rules:{rule_id}; the set
// {prefix}rules:ids holds every rule ID for listing.
type RedisRepository struct {
	redis  storage.RedisClient
	config RedisRepositoryConfig
}

// NewRedisRepository creates a new Redis-backed rule repository
func NewRedisRepository(redis storage.RedisClient, config RedisRepositoryConfig) (*RedisRepository, error) {
	if redis == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultRedisKeyPrefix
	}

	return &RedisRepository{
		redis:  redis,
		config: config,
	}, nil
}

func (r *RedisRepository) ruleKey(id string) string {
	return r.config.KeyPrefix + "rules:" + id
}

func (r *RedisRepository) setKey() string {
	return r.config.KeyPrefix + "rules:ids"
}

// LoadRules retrieves all rules from Redis. Entries that fail to decode are skipped.
func (r *RedisRepository) LoadRules(ctx context.Context) ([]*models.AlertRule, error) {
	ids, err := r.redis.SetMembers(ctx, r.setKey())
	if err != nil {
		return nil, fmt.Errorf("failed to get rule IDs from Redis: %w", err)
	}
	if len(ids) == 0 {
		return []*models.AlertRule{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.ruleKey(id)
	}

	values, err := r.redis.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("failed to get rules from Redis: %w", err)
	}

	out := make([]*models.AlertRule, 0, len(values))
	for i, raw := range values {
		if raw == "" {
			logger.Warn("Rule ID without data in Redis", logger.String("rule_id", ids[i]))
			continue
		}
		var rule models.AlertRule
		if err := json.Unmarshal([]byte(raw), &rule); err != nil {
			logger.Warn("Failed to decode rule from Redis",
				logger.String("rule_id", ids[i]),
				logger.ErrorField(err),
			)
			continue
		}
		out = append(out, &rule)
	}

	return out, nil
}

// SaveRule stores a rule and registers its ID
func (r *RedisRepository) SaveRule(ctx context.Context, rule *models.AlertRule) error {
	if rule == nil {
		return fmt.Errorf("rule cannot be nil")
	}

	if err := r.redis.Set(ctx, r.ruleKey(rule.ID), rule, 0); err != nil {
		return fmt.Errorf("failed to store rule in Redis: %w", err)
	}
	if err := r.redis.SetAdd(ctx, r.setKey(), rule.ID); err != nil {
		return fmt.Errorf("failed to add rule ID to set: %w", err)
	}

	logger.Debug("Saved rule to Redis", logger.String("rule_id", rule.ID))
	return nil
}

// DeleteRule deletes a rule from Redis; a missing rule is not an error
func (r *RedisRepository) DeleteRule(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("rule ID cannot be empty")
	}

	if err := r.redis.Delete(ctx, r.ruleKey(id)); err != nil {
		return fmt.Errorf("failed to delete rule from Redis: %w", err)
	}
	if err := r.redis.SetRemove(ctx, r.setKey(), id); err != nil {
		logger.Warn("Failed to remove rule ID from set",
			logger.String("rule_id", id),
			logger.ErrorField(err),
		)
	}

	logger.Debug("Deleted rule from Redis", logger.String("rule_id", id))
	return nil
}
