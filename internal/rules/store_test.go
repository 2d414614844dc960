package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepository records write-through calls
type fakeRepository struct {
	mu      sync.Mutex
	rules   map[string]*models.AlertRule
	saves   int
	deletes int
	failErr error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{rules: make(map[string]*models.AlertRule)}
}

func (f *fakeRepository) LoadRules(ctx context.Context) ([]*models.AlertRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	out := make([]*models.AlertRule, 0, len(f.rules))
	for _, r := range f.rules {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (f *fakeRepository) SaveRule(ctx context.Context, rule *models.AlertRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.failErr != nil {
		return f.failErr
	}
	f.rules[rule.ID] = rule.Clone()
	return nil
}

func (f *fakeRepository) DeleteRule(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.failErr != nil {
		return f.failErr
	}
	delete(f.rules, id)
	return nil
}

// newTestStore returns a store with a controllable clock and sequential ids
func newTestStore(repo Repository) (*Store, *time.Time) {
	s := NewStore(repo)
	clock := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	seq := 0
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	s.newID = func() string {
		seq++
		return fmt.Sprintf("rule-%d", seq)
	}
	return s, &clock
}

func abovePayload(symbol string, target float64) CreateParams {
	return CreateParams{Symbol: symbol, Condition: models.Above{Target: target}}
}

func TestStore_Create(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	rule, err := store.Create(ctx, CreateParams{
		Symbol:      " vnm ",
		StockName:   "Vinamilk",
		Condition:   models.Above{Target: 80000},
		BasePrice:   78000,
		IsRecurring: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "rule-1", rule.ID)
	assert.Equal(t, "VNM", rule.Symbol)
	assert.Equal(t, models.StatusActive, rule.Status)
	assert.Equal(t, int64(0), rule.TriggerCount)
	assert.Nil(t, rule.LastTriggeredAt)
	assert.False(t, rule.CreatedAt.IsZero())
	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 1, store.CountActive())
}

func TestStore_Create_Invalid(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		params CreateParams
		want   error
	}{
		{"empty symbol", abovePayload("  ", 100), models.ErrInvalidSymbol},
		{"bad symbol char", abovePayload("VN M", 100), models.ErrInvalidSymbol},
		{"nil condition", CreateParams{Symbol: "VNM"}, models.ErrInvalidCondition},
		{"zero threshold", abovePayload("VNM", 0), models.ErrInvalidThreshold},
		{"negative percent", CreateParams{Symbol: "VNM", Condition: models.ChangeBelow{Percent: -5}}, models.ErrInvalidThreshold},
		{"negative base", CreateParams{Symbol: "VNM", Condition: models.Above{Target: 1}, BasePrice: -1}, models.ErrInvalidBasePrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(ctx, tt.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	assert.Equal(t, 0, store.Count())
}

func TestStore_GetReturnsCopy(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	created, err := store.Create(ctx, abovePayload("VNM", 80000))
	require.NoError(t, err)

	got, err := store.Get(created.ID)
	require.NoError(t, err)
	got.Status = models.StatusDisabled
	got.TriggerCount = 99

	again, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, again.Status)
	assert.Equal(t, int64(0), again.TriggerCount)

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_Update(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	created, err := store.Create(ctx, abovePayload("VNM", 80000))
	require.NoError(t, err)

	note := "take profit"
	base := 79000.0
	updated, err := store.Update(ctx, created.ID, RuleUpdate{
		Condition: models.Below{Target: 70000},
		BasePrice: &base,
		Note:      &note,
	})
	require.NoError(t, err)

	assert.Equal(t, models.Below{Target: 70000}, updated.Condition)
	assert.Equal(t, 79000.0, updated.BasePrice)
	assert.Equal(t, "take profit", updated.Note)
	assert.Equal(t, "VNM", updated.Symbol)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	_, err = store.Update(ctx, created.ID, RuleUpdate{Condition: models.Above{Target: -1}})
	assert.ErrorIs(t, err, models.ErrInvalidThreshold)

	_, err = store.Update(ctx, "missing", RuleUpdate{Note: &note})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_Toggle(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	created, err := store.Create(ctx, abovePayload("VNM", 80000))
	require.NoError(t, err)

	toggled, err := store.Toggle(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisabled, toggled.Status)
	assert.Equal(t, 0, store.CountActive())
	assert.Empty(t, store.ActiveSymbols())

	toggled, err = store.Toggle(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, toggled.Status)
	assert.Equal(t, []string{"VNM"}, store.ActiveSymbols())

	_, err = store.Toggle(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 1, store.Count())
}

func TestStore_SetEnabled(t *testing.T) {
	repo := newFakeRepository()
	store, _ := newTestStore(repo)
	ctx := context.Background()

	created, err := store.Create(ctx, abovePayload("FPT", 90000))
	require.NoError(t, err)
	savesAfterCreate := repo.saves

	// enabling an active rule is a no-op
	_, err = store.SetEnabled(ctx, created.ID, true)
	require.NoError(t, err)
	assert.Equal(t, savesAfterCreate, repo.saves)

	rule, err := store.SetEnabled(ctx, created.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisabled, rule.Status)
	assert.Equal(t, savesAfterCreate+1, repo.saves)

	_, err = store.SetEnabled(ctx, "missing", true)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	repo := newFakeRepository()
	store, _ := newTestStore(repo)
	ctx := context.Background()

	created, err := store.Create(ctx, abovePayload("VNM", 80000))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, created.ID))
	assert.Equal(t, 0, store.Count())
	assert.Empty(t, store.ListBySymbol("VNM"))
	assert.Empty(t, repo.rules)

	// idempotent
	require.NoError(t, store.Delete(ctx, created.ID))
	assert.Equal(t, 1, repo.deletes)
}

func TestStore_ListOrdering(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	first, err := store.Create(ctx, abovePayload("VNM", 1))
	require.NoError(t, err)
	second, err := store.Create(ctx, abovePayload("FPT", 1))
	require.NoError(t, err)
	third, err := store.Create(ctx, abovePayload("VNM", 2))
	require.NoError(t, err)

	list := store.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{list[0].ID, list[1].ID, list[2].ID})

	vnm := store.ListBySymbol("vnm")
	require.Len(t, vnm, 2)
	assert.Equal(t, third.ID, vnm[0].ID)
	assert.Equal(t, first.ID, vnm[1].ID)

	assert.Equal(t, []string{"FPT", "VNM"}, store.ActiveSymbols())
}

func TestStore_ApplyTransition_OneShotFires(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	created, err := store.Create(ctx, abovePayload("VNM", 80000))
	require.NoError(t, err)

	firedAt := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	ok := store.ApplyTransition(ctx, created.ID, models.StatusDisabled, &FiredMeta{
		At:           firedAt,
		Price:        80500,
		TriggerCount: 1,
	})
	require.True(t, ok)

	rule, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisabled, rule.Status)
	assert.Equal(t, int64(1), rule.TriggerCount)
	require.NotNil(t, rule.LastTriggeredAt)
	assert.True(t, rule.LastTriggeredAt.Equal(firedAt))
	assert.Equal(t, 80500.0, rule.LastPrice)
	assert.Equal(t, 0, store.CountActive())
}

func TestStore_ApplyTransition_Idempotent(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	created, err := store.Create(ctx, CreateParams{
		Symbol:      "VNM",
		Condition:   models.Above{Target: 80000},
		IsRecurring: true,
	})
	require.NoError(t, err)

	meta := &FiredMeta{At: time.Now(), Price: 81000, TriggerCount: 3}
	require.True(t, store.ApplyTransition(ctx, created.ID, models.StatusActive, meta))
	require.True(t, store.ApplyTransition(ctx, created.ID, models.StatusActive, meta))

	rule, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rule.TriggerCount)
	assert.Equal(t, models.StatusActive, rule.Status)
}

func TestStore_ApplyTransition_SkipsDeletedOrDisabled(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	deleted, err := store.Create(ctx, abovePayload("VNM", 80000))
	require.NoError(t, err)
	paused, err := store.Create(ctx, abovePayload("FPT", 90000))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, deleted.ID))
	_, err = store.Toggle(ctx, paused.ID)
	require.NoError(t, err)

	meta := &FiredMeta{At: time.Now(), Price: 1, TriggerCount: 1}
	assert.False(t, store.ApplyTransition(ctx, deleted.ID, models.StatusDisabled, meta))
	assert.False(t, store.ApplyTransition(ctx, paused.ID, models.StatusDisabled, meta))

	rule, err := store.Get(paused.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rule.TriggerCount)
	assert.Nil(t, rule.LastTriggeredAt)
	assert.Equal(t, 1, store.Count())
}

func TestStore_ApplyTransition_InvalidStatus(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	created, err := store.Create(ctx, abovePayload("VNM", 80000))
	require.NoError(t, err)

	assert.False(t, store.ApplyTransition(ctx, created.ID, models.RuleStatus("triggered"), nil))
	rule, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rule.Status)
}

func TestStore_DeleteFired(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	fired, err := store.Create(ctx, abovePayload("VNM", 80000))
	require.NoError(t, err)
	paused, err := store.Create(ctx, abovePayload("FPT", 90000))
	require.NoError(t, err)
	recurring, err := store.Create(ctx, CreateParams{Symbol: "HPG", Condition: models.Below{Target: 20000}, IsRecurring: true})
	require.NoError(t, err)

	require.True(t, store.ApplyTransition(ctx, fired.ID, models.StatusDisabled, &FiredMeta{At: time.Now(), Price: 80100, TriggerCount: 1}))
	_, err = store.Toggle(ctx, paused.ID)
	require.NoError(t, err)
	require.True(t, store.ApplyTransition(ctx, recurring.ID, models.StatusActive, &FiredMeta{At: time.Now(), Price: 19000, TriggerCount: 1}))

	assert.Equal(t, 1, store.DeleteFired(ctx))

	_, err = store.Get(fired.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = store.Get(paused.ID)
	assert.NoError(t, err)
	_, err = store.Get(recurring.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, store.DeleteFired(ctx))
}

func TestStore_ApplyTransition_UsesLiveRecurringFlag(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	created, err := store.Create(ctx, abovePayload("VNM", 80000))
	require.NoError(t, err)

	// The cycle evaluated the one-shot snapshot; the user made it recurring before commit
	recurring := true
	_, err = store.Update(ctx, created.ID, RuleUpdate{IsRecurring: &recurring})
	require.NoError(t, err)

	require.True(t, store.ApplyTransition(ctx, created.ID, models.StatusDisabled, &FiredMeta{At: time.Now(), Price: 80500, TriggerCount: 1}))

	rule, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rule.Status)
	assert.False(t, rule.DisabledByFiring)
	assert.Equal(t, int64(1), rule.TriggerCount)
	assert.Equal(t, 1, store.CountActive())
}

func TestStore_DeleteFired_KeepsRearmedThenPaused(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	created, err := store.Create(ctx, abovePayload("VNM", 80000))
	require.NoError(t, err)
	require.True(t, store.ApplyTransition(ctx, created.ID, models.StatusDisabled, &FiredMeta{At: time.Now(), Price: 80100, TriggerCount: 1}))

	rule, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.True(t, rule.IsSpent())

	rearmed, err := store.Toggle(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, rearmed.DisabledByFiring)

	paused, err := store.Toggle(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisabled, paused.Status)
	assert.False(t, paused.IsSpent())

	assert.Equal(t, 0, store.DeleteFired(ctx))
	_, err = store.Get(created.ID)
	assert.NoError(t, err)
}

func TestStore_ToggleRearmsFiredOneShot(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	created, err := store.Create(ctx, abovePayload("VNM", 80000))
	require.NoError(t, err)
	require.True(t, store.ApplyTransition(ctx, created.ID, models.StatusDisabled, &FiredMeta{At: time.Now(), Price: 80100, TriggerCount: 1}))

	rule, err := store.Toggle(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rule.Status)
	assert.Equal(t, int64(1), rule.TriggerCount)
}

func TestStore_RecordPrices(t *testing.T) {
	store, _ := newTestStore(nil)
	ctx := context.Background()

	created, err := store.Create(ctx, CreateParams{Symbol: "VNM", Condition: models.Above{Target: 80000}, BasePrice: 78000})
	require.NoError(t, err)

	asOf := time.Now()
	store.RecordPrices(ctx, models.PriceBatch{
		"VNM": {Symbol: "VNM", Price: 79000, AsOf: asOf},
		"ZZZ": {Symbol: "ZZZ", Price: 1, AsOf: asOf},
	})

	rule, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, 79000.0, rule.LastPrice)
	require.NotNil(t, rule.LastPriceAt)
	assert.Equal(t, 78000.0, rule.BasePrice)
	assert.Equal(t, models.StatusActive, rule.Status)
	assert.Equal(t, int64(0), rule.TriggerCount)
}

func TestStore_WriteThrough(t *testing.T) {
	repo := newFakeRepository()
	store, _ := newTestStore(repo)
	ctx := context.Background()

	created, err := store.Create(ctx, abovePayload("VNM", 80000))
	require.NoError(t, err)
	require.Contains(t, repo.rules, created.ID)

	_, err = store.Toggle(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisabled, repo.rules[created.ID].Status)
}

func TestStore_WriteThroughFailureKeepsMemory(t *testing.T) {
	repo := newFakeRepository()
	repo.failErr = errors.New("connection refused")
	store, _ := newTestStore(repo)
	ctx := context.Background()

	created, err := store.Create(ctx, abovePayload("VNM", 80000))
	require.NoError(t, err)

	rule, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rule.Status)
	assert.Equal(t, 1, repo.saves)
}

func TestStore_Load(t *testing.T) {
	repo := newFakeRepository()
	now := time.Now()
	repo.rules["a"] = &models.AlertRule{ID: "a", Symbol: "VNM", Condition: models.Above{Target: 1}, Status: models.StatusActive, CreatedAt: now}
	repo.rules["b"] = &models.AlertRule{ID: "b", Symbol: "FPT", Condition: models.Below{Target: 1}, Status: models.StatusDisabled, CreatedAt: now}
	repo.rules["bad"] = &models.AlertRule{ID: "bad", Symbol: "HPG", Status: models.StatusActive}

	store, _ := newTestStore(repo)
	require.NoError(t, store.Load(context.Background()))

	assert.Equal(t, 2, store.Count())
	assert.Equal(t, 1, store.CountActive())
	assert.Equal(t, []string{"VNM"}, store.ActiveSymbols())
}

func TestStore_LoadError(t *testing.T) {
	repo := newFakeRepository()
	repo.failErr = errors.New("boom")
	store, _ := newTestStore(repo)

	err := store.Load(context.Background())
	assert.Error(t, err)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rule, err := store.Create(ctx, abovePayload(fmt.Sprintf("S%d", i%5), float64(i+1)))
			if err != nil {
				t.Errorf("Create() error = %v", err)
				return
			}
			_ = store.ListActive()
			_, _ = store.Toggle(ctx, rule.ID)
			store.ApplyTransition(ctx, rule.ID, models.StatusActive, nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, store.Count())
}
