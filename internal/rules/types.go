package rules

import (
	"context"
	"time"

	"github.com/mohamedkhairy/price-alerts/internal/models"
)

// Repository is the durable backing store behind the in-memory Store.
// The Store stays authoritative; repository failures are logged, not surfaced.
type Repository interface {
	// LoadRules returns every persisted rule
	LoadRules(ctx context.Context) ([]*models.AlertRule, error)

	// SaveRule inserts or replaces a rule
	SaveRule(ctx context.Context, rule *models.AlertRule) error

	// DeleteRule removes a rule; deleting a missing rule is not an error
	DeleteRule(ctx context.Context, id string) error
}

// CreateParams holds user input for a new rule
type CreateParams struct {
	Symbol      string           `json:"symbol"`
	StockName   string           `json:"stock_name,omitempty"`
	Condition   models.Condition `json:"-"`
	BasePrice   float64          `json:"base_price"`
	Note        string           `json:"note,omitempty"`
	IsRecurring bool             `json:"is_recurring"`
}

// RuleUpdate holds a partial user edit. Nil fields are left untouched.
// The symbol of a rule can never be edited.
type RuleUpdate struct {
	Condition   models.Condition
	BasePrice   *float64
	Note        *string
	StockName   *string
	IsRecurring *bool
}

// IsEmpty reports whether the update changes nothing
func (u RuleUpdate) IsEmpty() bool {
	return u.Condition == nil && u.BasePrice == nil && u.Note == nil &&
		u.StockName == nil && u.IsRecurring == nil
}

// FiredMeta carries the bookkeeping of a firing to ApplyTransition
type FiredMeta struct {
	At           time.Time
	Price        float64
	TriggerCount int64
}
