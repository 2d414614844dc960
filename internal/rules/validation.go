package rules

import (
	"fmt"
	"math"

	"github.com/mohamedkhairy/price-alerts/internal/models"
)

// ValidateCreateParams validates and normalizes user input for a new rule
func ValidateCreateParams(p *CreateParams) error {
	p.Symbol = models.NormalizeSymbol(p.Symbol)
	if err := ValidateSymbol(p.Symbol); err != nil {
		return err
	}

	if err := models.ValidateCondition(p.Condition); err != nil {
		return err
	}

	if err := ValidateBasePrice(p.BasePrice); err != nil {
		return err
	}

	return nil
}

// ValidateUpdate validates the fields present in a partial edit
func ValidateUpdate(u RuleUpdate) error {
	if u.Condition != nil {
		if err := models.ValidateCondition(u.Condition); err != nil {
			return err
		}
	}
	if u.BasePrice != nil {
		if err := ValidateBasePrice(*u.BasePrice); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSymbol validates that an instrument symbol is well-formed
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return models.ErrInvalidSymbol
	}

	// Exchange tickers: letters, digits, '.', '-' and '_'
	for _, r := range symbol {
		if !((r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_') {
			return fmt.Errorf("%w: contains invalid character %q", models.ErrInvalidSymbol, r)
		}
	}

	return nil
}

// ValidateBasePrice validates a reference price. Zero is accepted; percentage
// conditions on such a rule simply never fire.
func ValidateBasePrice(base float64) error {
	if math.IsNaN(base) || math.IsInf(base, 0) || base < 0 {
		return fmt.Errorf("%w: %v", models.ErrInvalidBasePrice, base)
	}
	return nil
}
