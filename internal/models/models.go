package models

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// RuleStatus is the resting state of a rule between evaluation cycles.
// A firing is reported as an event, never stored as a status.
type RuleStatus string

const (
	StatusActive   RuleStatus = "active"
	StatusDisabled RuleStatus = "disabled"
)

// Valid reports whether s is a resting status
func (s RuleStatus) Valid() bool {
	return s == StatusActive || s == StatusDisabled
}

// AlertRule is a user intent to be notified when an instrument's price meets a condition
type AlertRule struct {
	ID          string
	Symbol      string
	StockName   string
	Condition   Condition
	BasePrice   float64
	IsRecurring bool
	Status      RuleStatus
	// DisabledByFiring is set when a one-shot rule is disabled by its own
	// firing and cleared by any later status change
	DisabledByFiring bool
	LastTriggeredAt  *time.Time
	TriggerCount     int64
	LastPrice        float64
	LastPriceAt      *time.Time
	Note             string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// alertRuleJSON is the wire layout of AlertRule
type alertRuleJSON struct {
	ID              string        `json:"id"`
	Symbol          string        `json:"symbol"`
	StockName       string        `json:"stock_name,omitempty"`
	Condition       ConditionSpec `json:"condition"`
	BasePrice       float64       `json:"base_price"`
	IsRecurring     bool          `json:"is_recurring"`
	Status          RuleStatus    `json:"status"`
	DisabledByFire  bool          `json:"disabled_by_firing,omitempty"`
	LastTriggeredAt *time.Time    `json:"last_triggered_at,omitempty"`
	TriggerCount    int64         `json:"trigger_count"`
	LastPrice       float64       `json:"last_price,omitempty"`
	LastPriceAt     *time.Time    `json:"last_price_at,omitempty"`
	Note            string        `json:"note,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// MarshalJSON encodes the rule with its condition in wire form
func (r AlertRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(alertRuleJSON{
		ID:              r.ID,
		Symbol:          r.Symbol,
		StockName:       r.StockName,
		Condition:       SpecOf(r.Condition),
		BasePrice:       r.BasePrice,
		IsRecurring:     r.IsRecurring,
		Status:          r.Status,
		DisabledByFire:  r.DisabledByFiring,
		LastTriggeredAt: r.LastTriggeredAt,
		TriggerCount:    r.TriggerCount,
		LastPrice:       r.LastPrice,
		LastPriceAt:     r.LastPriceAt,
		Note:            r.Note,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	})
}

// UnmarshalJSON decodes a rule, rejecting unknown condition types
func (r *AlertRule) UnmarshalJSON(data []byte) error {
	var raw alertRuleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cond, err := raw.Condition.Condition()
	if err != nil {
		return err
	}
	*r = AlertRule{
		ID:               raw.ID,
		Symbol:           raw.Symbol,
		StockName:        raw.StockName,
		Condition:        cond,
		BasePrice:        raw.BasePrice,
		IsRecurring:      raw.IsRecurring,
		Status:           raw.Status,
		DisabledByFiring: raw.DisabledByFire,
		LastTriggeredAt:  raw.LastTriggeredAt,
		TriggerCount:     raw.TriggerCount,
		LastPrice:        raw.LastPrice,
		LastPriceAt:      raw.LastPriceAt,
		Note:             raw.Note,
		CreatedAt:        raw.CreatedAt,
		UpdatedAt:        raw.UpdatedAt,
	}
	return nil
}

// Validate validates an AlertRule
func (r *AlertRule) Validate() error {
	if r.ID == "" {
		return ErrInvalidRuleID
	}
	if NormalizeSymbol(r.Symbol) == "" {
		return ErrInvalidSymbol
	}
	if err := ValidateCondition(r.Condition); err != nil {
		return err
	}
	if math.IsNaN(r.BasePrice) || math.IsInf(r.BasePrice, 0) || r.BasePrice < 0 {
		return ErrInvalidBasePrice
	}
	if !r.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// IsActive reports whether the rule takes part in evaluation cycles
func (r *AlertRule) IsActive() bool {
	return r.Status == StatusActive
}

// IsSpent reports whether a one-shot rule is resting disabled because it fired
func (r *AlertRule) IsSpent() bool {
	return r.Status == StatusDisabled && !r.IsRecurring && r.DisabledByFiring
}

// Clone returns a deep copy of the rule
func (r *AlertRule) Clone() *AlertRule {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastTriggeredAt != nil {
		t := *r.LastTriggeredAt
		c.LastTriggeredAt = &t
	}
	if r.LastPriceAt != nil {
		t := *r.LastPriceAt
		c.LastPriceAt = &t
	}
	return &c
}

// NormalizeSymbol trims and upper-cases an instrument symbol
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// PriceSample is a single quote produced by the price source for one cycle
type PriceSample struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	AsOf   time.Time `json:"as_of"`
}

// Validate validates a PriceSample
func (p *PriceSample) Validate() error {
	if p.Symbol == "" {
		return ErrInvalidSymbol
	}
	if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price <= 0 {
		return ErrInvalidPrice
	}
	if p.AsOf.IsZero() {
		return ErrInvalidTimestamp
	}
	return nil
}

// PriceBatch maps symbol to its quote for one cycle.
// A missing symbol means no data this cycle.
type PriceBatch map[string]PriceSample

// FiringEvent is produced for each rule that fired in a cycle
type FiringEvent struct {
	RuleID        string    `json:"rule_id"`
	Symbol        string    `json:"symbol"`
	StockName     string    `json:"stock_name,omitempty"`
	Condition     Condition `json:"-"`
	PriceAtFiring float64   `json:"price_at_firing"`
	OccurredAt    time.Time `json:"occurred_at"`
	TriggerCount  int64     `json:"trigger_count"`
	IsRecurring   bool      `json:"is_recurring"`
}

// NotificationType classifies notifications in the history
type NotificationType string

const (
	NotificationAlertTriggered NotificationType = "alert_triggered"
	NotificationPriceTarget    NotificationType = "price_target"
	NotificationSystem         NotificationType = "system"
)

// Notification is the user-facing rendering of a firing event
type Notification struct {
	ID        string           `json:"id"`
	RuleID    string           `json:"rule_id,omitempty"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Symbol    string           `json:"symbol,omitempty"`
	Price     float64          `json:"price,omitempty"`
	Route     string           `json:"route,omitempty"`
	Sound     bool             `json:"sound"`
	IsRead    bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}
