package rules

import (
	"time"

	"github.com/mohamedkhairy/price-alerts/internal/models"
)

// TransitionResult is the outcome of feeding one evaluation verdict to a rule
type TransitionResult struct {
	Status          models.RuleStatus
	Fired           bool
	TriggerCount    int64
	LastTriggeredAt *time.Time
}

// FiredMeta returns the commit payload for ApplyTransition, nil when the rule did not fire
func (t TransitionResult) FiredMeta(price float64) *FiredMeta {
	if !t.Fired || t.LastTriggeredAt == nil {
		return nil
	}
	return &FiredMeta{
		At:           *t.LastTriggeredAt,
		Price:        price,
		TriggerCount: t.TriggerCount,
	}
}

// Transition computes a rule's next state from an evaluation verdict.
//
//	disabled            -> disabled, no fire
//	active, !satisfied  -> active, no fire
//	active, satisfied   -> fire; recurring stays active, one-shot becomes disabled
//
// A recurring rule on a condition that stays true fires on every cycle.
func Transition(rule *models.AlertRule, satisfied bool, now time.Time) TransitionResult {
	result := TransitionResult{
		Status:          rule.Status,
		TriggerCount:    rule.TriggerCount,
		LastTriggeredAt: rule.LastTriggeredAt,
	}

	if rule.Status != models.StatusActive {
		return result
	}

	if !satisfied {
		result.Status = models.StatusActive
		return result
	}

	fired := now
	result.Fired = true
	result.TriggerCount = rule.TriggerCount + 1
	result.LastTriggeredAt = &fired

	if rule.IsRecurring {
		result.Status = models.StatusActive
	} else {
		result.Status = models.StatusDisabled
	}

	return result
}
