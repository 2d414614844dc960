package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// ConditionType is the wire tag of a condition variant
type ConditionType string

const (
	ConditionAbove       ConditionType = "above"
	ConditionBelow       ConditionType = "below"
	ConditionCrosses     ConditionType = "crosses"
	ConditionChangeAbove ConditionType = "change_above"
	ConditionChangeBelow ConditionType = "change_below"
)

// Condition is the closed set of price conditions a rule can watch.
// Implemented only by Above, Below, Crosses, ChangeAbove and ChangeBelow.
type Condition interface {
	// Type returns the wire tag of the variant
	Type() ConditionType
	// Threshold returns the single numeric parameter (price target or percent)
	Threshold() float64
	isCondition()
}

// Above is satisfied when the price reaches or exceeds Target
type Above struct {
	Target float64
}

// Below is satisfied when the price reaches or falls under Target
type Below struct {
	Target float64
}

// Crosses is satisfied when the price equals Target exactly.
// No tolerance band is applied.
type Crosses struct {
	Target float64
}

// ChangeAbove is satisfied when the change from the base price is at least Percent
type ChangeAbove struct {
	Percent float64
}

// ChangeBelow is satisfied when the price dropped from the base price by at
// least Percent. Percent is a positive magnitude.
type ChangeBelow struct {
	Percent float64
}

func (Above) Type() ConditionType       { return ConditionAbove }
func (Below) Type() ConditionType       { return ConditionBelow }
func (Crosses) Type() ConditionType     { return ConditionCrosses }
func (ChangeAbove) Type() ConditionType { return ConditionChangeAbove }
func (ChangeBelow) Type() ConditionType { return ConditionChangeBelow }

func (c Above) Threshold() float64       { return c.Target }
func (c Below) Threshold() float64       { return c.Target }
func (c Crosses) Threshold() float64     { return c.Target }
func (c ChangeAbove) Threshold() float64 { return c.Percent }
func (c ChangeBelow) Threshold() float64 { return c.Percent }

func (Above) isCondition()       {}
func (Below) isCondition()       {}
func (Crosses) isCondition()     {}
func (ChangeAbove) isCondition() {}
func (ChangeBelow) isCondition() {}

// IsPercentage reports whether the condition compares against the base price
func IsPercentage(c Condition) bool {
	switch c.(type) {
	case ChangeAbove, ChangeBelow:
		return true
	default:
		return false
	}
}

// NewCondition builds a condition variant from its wire tag and value
func NewCondition(t ConditionType, value float64) (Condition, error) {
	var cond Condition
	switch t {
	case ConditionAbove:
		cond = Above{Target: value}
	case ConditionBelow:
		cond = Below{Target: value}
	case ConditionCrosses:
		cond = Crosses{Target: value}
	case ConditionChangeAbove:
		cond = ChangeAbove{Percent: value}
	case ConditionChangeBelow:
		cond = ChangeBelow{Percent: value}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCondition, t)
	}
	return cond, nil
}

// ValidateCondition checks the threshold of a condition
func ValidateCondition(c Condition) error {
	if c == nil {
		return ErrInvalidCondition
	}
	v := c.Threshold()
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%w: %s %v", ErrInvalidThreshold, c.Type(), v)
	}
	return nil
}

// ConditionSpec is the serialized form of a condition: {"type":"above","value":80000}
type ConditionSpec struct {
	Type  ConditionType `json:"type"`
	Value float64       `json:"value"`
}

// SpecOf returns the wire form of a condition
func SpecOf(c Condition) ConditionSpec {
	if c == nil {
		return ConditionSpec{}
	}
	return ConditionSpec{Type: c.Type(), Value: c.Threshold()}
}

// Condition converts the wire form back into a variant
func (s ConditionSpec) Condition() (Condition, error) {
	return NewCondition(s.Type, s.Value)
}

// MarshalCondition encodes a condition as JSON
func MarshalCondition(c Condition) ([]byte, error) {
	if c == nil {
		return nil, ErrInvalidCondition
	}
	return json.Marshal(SpecOf(c))
}

// UnmarshalCondition decodes a condition from JSON
func UnmarshalCondition(data []byte) (Condition, error) {
	var spec ConditionSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	return spec.Condition()
}
