package scheduler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/internal/notify"
	"github.com/mohamedkhairy/price-alerts/internal/pricing"
	"github.com/mohamedkhairy/price-alerts/internal/rules"
	"github.com/mohamedkhairy/price-alerts/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPipeline_RedisBacked runs one cycle with every component on Redis:
// quotes are read from price keys, rules and history are persisted, and
// the notification is published to the pub/sub channel.
func TestPipeline_RedisBacked(t *testing.T) {
	ctx := context.Background()
	redis := storage.NewMockRedisClient()
	redis.SetRaw("price:VNM", "80500")
	redis.SetRaw("price:FPT", `{"price":92100}`)

	repo, err := rules.NewRedisRepository(redis, rules.DefaultRedisRepositoryConfig())
	require.NoError(t, err)
	store := rules.NewStore(repo)
	require.NoError(t, store.Load(ctx))

	oneShot, err := store.Create(ctx, rules.CreateParams{Symbol: "VNM", Condition: models.Above{Target: 80000}})
	require.NoError(t, err)
	idle, err := store.Create(ctx, rules.CreateParams{Symbol: "FPT", Condition: models.Below{Target: 90000}})
	require.NoError(t, err)

	historyKey := rules.DefaultRedisKeyPrefix + "notifications"
	history := notify.NewHistory(notify.DefaultHistoryLimit, notify.NewRedisHistoryRepository(redis, historyKey))
	sinkCfg := notify.DefaultRedisSinkConfig()
	sinkCfg.Stream = "alerts.stream"
	dispatcher := notify.NewDispatcher(
		notify.NewVietnameseFormatter(),
		history,
		notify.NewRedisSink(redis, sinkCfg),
		notify.Options{SoundEnabled: true},
	)

	sched := New(DefaultConfig(), store, pricing.NewRedisSource(redis, pricing.DefaultRedisSourceConfig()), dispatcher)
	result := sched.RunCycle(ctx)

	require.NoError(t, result.Err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 2, result.RulesEvaluated)
	require.Len(t, result.Events, 1)
	assert.Equal(t, 1, result.Dispatch.Delivered)

	// Published to the channel and the stream
	require.Len(t, redis.Published, 1)
	assert.Equal(t, sinkCfg.Channel, redis.Published[0].Channel)
	var published models.Notification
	require.NoError(t, json.Unmarshal([]byte(redis.Published[0].Message), &published))
	assert.Equal(t, "Giá VNM vượt 80.000đ. Giá hiện tại: 80.500đ", published.Message)
	assert.Equal(t, oneShot.ID, published.RuleID)
	require.Len(t, redis.Streams, 1)
	assert.Equal(t, "alerts.stream", redis.Streams[0].Stream)

	// History survives a restart
	reloadedHistory := notify.NewHistory(notify.DefaultHistoryLimit, notify.NewRedisHistoryRepository(redis, historyKey))
	require.NoError(t, reloadedHistory.Load(ctx))
	assert.Equal(t, 1, reloadedHistory.Len())
	assert.Equal(t, 1, reloadedHistory.UnreadCount())

	// Rule state survives a restart
	reloaded := rules.NewStore(repo)
	require.NoError(t, reloaded.Load(ctx))

	fired, err := reloaded.Get(oneShot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisabled, fired.Status)
	assert.True(t, fired.IsSpent(), "disabled-by-firing survives the Redis round trip")
	assert.Equal(t, int64(1), fired.TriggerCount)
	require.NotNil(t, fired.LastTriggeredAt)

	untouched, err := reloaded.Get(idle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, untouched.Status)
	assert.Equal(t, int64(0), untouched.TriggerCount)
}
