package rules

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDatabase connects to DB_TEST_DSN or skips
func newTestDatabase(t *testing.T) *DatabaseRepository {
	t.Helper()

	dsn := os.Getenv("DB_TEST_DSN")
	if dsn == "" {
		t.Skip("DB_TEST_DSN not set, skipping PostgreSQL integration test")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("PostgreSQL not reachable: %v", err)
	}

	repo := NewDatabaseRepositoryFromDB(db)
	require.NoError(t, repo.EnsureSchema(ctx))
	_, err = db.ExecContext(ctx, `TRUNCATE alert_rules, alert_notifications`)
	require.NoError(t, err)

	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestDatabaseRepository_RuleRoundTrip(t *testing.T) {
	repo := newTestDatabase(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	rule := &models.AlertRule{
		ID:          uuid.NewString(),
		Symbol:      "VNM",
		StockName:   "Vinamilk",
		Condition:   models.ChangeAbove{Percent: 2.5},
		BasePrice:   85200,
		IsRecurring: true,
		Status:      models.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, repo.SaveRule(ctx, rule))

	fired := now.Add(time.Minute)
	rule.TriggerCount = 1
	rule.LastTriggeredAt = &fired
	rule.IsRecurring = false
	rule.Status = models.StatusDisabled
	rule.DisabledByFiring = true
	require.NoError(t, repo.SaveRule(ctx, rule))

	loaded, err := repo.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, models.ChangeAbove{Percent: 2.5}, loaded[0].Condition)
	assert.Equal(t, int64(1), loaded[0].TriggerCount)
	require.NotNil(t, loaded[0].LastTriggeredAt)
	assert.True(t, fired.Equal(*loaded[0].LastTriggeredAt))
	assert.Nil(t, loaded[0].LastPriceAt)
	assert.True(t, loaded[0].IsSpent())

	require.NoError(t, repo.DeleteRule(ctx, rule.ID))
	require.NoError(t, repo.DeleteRule(ctx, rule.ID))
	loaded, err = repo.LoadRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestDatabaseRepository_NotificationHistory(t *testing.T) {
	repo := newTestDatabase(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 4; i++ {
		n := &models.Notification{
			ID:        uuid.NewString(),
			Type:      models.NotificationAlertTriggered,
			Title:     "VNM đạt điều kiện!",
			Message:   "msg",
			Symbol:    "VNM",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.AppendNotification(ctx, n, 3))
	}

	items, err := repo.LoadNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.True(t, items[0].CreatedAt.After(items[1].CreatedAt))

	items[0].IsRead = true
	require.NoError(t, repo.ReplaceNotifications(ctx, items[:1]))
	items, err = repo.LoadNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].IsRead)
}

func TestNullTimeHelpers(t *testing.T) {
	assert.Nil(t, nullTimePtr(sql.NullTime{}))
	now := time.Now()
	got := nullTimePtr(sql.NullTime{Time: now, Valid: true})
	require.NotNil(t, got)
	assert.True(t, now.Equal(*got))

	assert.Nil(t, timePtrValue(nil))
	assert.Equal(t, now, timePtrValue(&now))
}
