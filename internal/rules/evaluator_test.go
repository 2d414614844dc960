package rules

import (
	"math"
	"testing"
	"time"

	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		cond  models.Condition
		price float64
		base  float64
		want  bool
	}{
		{"above met", models.Above{Target: 80000}, 80500, 0, true},
		{"above at target", models.Above{Target: 80000}, 80000, 0, true},
		{"above not met", models.Above{Target: 80000}, 79999, 0, false},
		{"below met", models.Below{Target: 25000}, 24900, 0, true},
		{"below at target", models.Below{Target: 25000}, 25000, 0, true},
		{"below not met", models.Below{Target: 25000}, 25100, 0, false},
		{"crosses exact", models.Crosses{Target: 92100}, 92100, 0, true},
		{"crosses off by a dong", models.Crosses{Target: 92100}, 92101, 0, false},
		{"change above met", models.ChangeAbove{Percent: 5}, 105000, 100000, true},
		{"change above not met", models.ChangeAbove{Percent: 5}, 104000, 100000, false},
		{"change above zero base", models.ChangeAbove{Percent: 5}, 105000, 0, false},
		{"change below met", models.ChangeBelow{Percent: 5}, 94000, 100000, true},
		{"change below boundary", models.ChangeBelow{Percent: 5}, 95000, 100000, true},
		{"change below not met", models.ChangeBelow{Percent: 5}, 96000, 100000, false},
		{"change below on rise", models.ChangeBelow{Percent: 5}, 110000, 100000, false},
		{"change below negative base", models.ChangeBelow{Percent: 5}, 1, -100, false},
		{"nan price", models.Above{Target: 1}, math.NaN(), 0, false},
		{"inf price", models.Above{Target: 1}, math.Inf(1), 0, false},
		{"nil condition", nil, 100, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.cond, tt.price, tt.base))
		})
	}
}

func TestChangePercent(t *testing.T) {
	change, ok := ChangePercent(94000, 100000)
	assert.True(t, ok)
	assert.InDelta(t, -6.0, change, 1e-9)

	_, ok = ChangePercent(94000, 0)
	assert.False(t, ok)

	_, ok = ChangePercent(94000, math.NaN())
	assert.False(t, ok)
}

func TestTransition(t *testing.T) {
	now := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)

	t.Run("one-shot fires and disables", func(t *testing.T) {
		rule := &models.AlertRule{Status: models.StatusActive}
		res := Transition(rule, true, now)

		assert.True(t, res.Fired)
		assert.Equal(t, models.StatusDisabled, res.Status)
		assert.Equal(t, int64(1), res.TriggerCount)
		assert.Equal(t, now, *res.LastTriggeredAt)
	})

	t.Run("recurring fires and stays active", func(t *testing.T) {
		rule := &models.AlertRule{Status: models.StatusActive, IsRecurring: true, TriggerCount: 1, LastTriggeredAt: &earlier}
		res := Transition(rule, true, now)

		assert.True(t, res.Fired)
		assert.Equal(t, models.StatusActive, res.Status)
		assert.Equal(t, int64(2), res.TriggerCount)
		assert.Equal(t, now, *res.LastTriggeredAt)
	})

	t.Run("unsatisfied stays active", func(t *testing.T) {
		rule := &models.AlertRule{Status: models.StatusActive, TriggerCount: 1, LastTriggeredAt: &earlier}
		res := Transition(rule, false, now)

		assert.False(t, res.Fired)
		assert.Equal(t, models.StatusActive, res.Status)
		assert.Equal(t, int64(1), res.TriggerCount)
		assert.Equal(t, earlier, *res.LastTriggeredAt)
		assert.Nil(t, res.FiredMeta(100))
	})

	t.Run("disabled never fires", func(t *testing.T) {
		rule := &models.AlertRule{Status: models.StatusDisabled}
		res := Transition(rule, true, now)

		assert.False(t, res.Fired)
		assert.Equal(t, models.StatusDisabled, res.Status)
		assert.Equal(t, int64(0), res.TriggerCount)
	})

	t.Run("fired meta carries bookkeeping", func(t *testing.T) {
		rule := &models.AlertRule{Status: models.StatusActive, TriggerCount: 4, IsRecurring: true}
		meta := Transition(rule, true, now).FiredMeta(80500)

		if assert.NotNil(t, meta) {
			assert.Equal(t, now, meta.At)
			assert.Equal(t, 80500.0, meta.Price)
			assert.Equal(t, int64(5), meta.TriggerCount)
		}
	})
}
