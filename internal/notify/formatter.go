package notify

import (
	"fmt"
	"math"
	"strconv"

	"github.com/mohamedkhairy/price-alerts/internal/models"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Formatter renders firing events into user-facing Vietnamese text
type Formatter struct {
	printer *message.Printer
}

// NewFormatter creates a formatter for the given locale
func NewFormatter(tag language.Tag) *Formatter {
	return &Formatter{printer: message.NewPrinter(tag)}
}

// NewVietnameseFormatter creates a formatter using Vietnamese number grouping (80.000)
func NewVietnameseFormatter() *Formatter {
	return NewFormatter(language.Vietnamese)
}

// Price formats an amount in dong, e.g. "80.500đ"
func (f *Formatter) Price(v float64) string {
	return f.printer.Sprint(number.Decimal(v, number.MaxFractionDigits(2))) + "đ"
}

// ConditionText describes a condition, e.g. "vượt 80.000đ" or "giảm trên 5%"
func (f *Formatter) ConditionText(c models.Condition) string {
	switch cond := c.(type) {
	case models.Above:
		return "vượt " + f.Price(cond.Target)
	case models.Below:
		return "xuống dưới " + f.Price(cond.Target)
	case models.Crosses:
		return "chạm mốc " + f.Price(cond.Target)
	case models.ChangeAbove:
		return "tăng trên " + strconv.FormatFloat(cond.Percent, 'f', -1, 64) + "%"
	case models.ChangeBelow:
		return "giảm trên " + strconv.FormatFloat(cond.Percent, 'f', -1, 64) + "%"
	default:
		return ""
	}
}

// Title returns the notification title for a symbol
func (f *Formatter) Title(symbol string) string {
	return symbol + " đạt điều kiện!"
}

// Body returns the notification body for a firing
func (f *Formatter) Body(symbol string, c models.Condition, price float64) string {
	return fmt.Sprintf("Giá %s %s. Giá hiện tại: %s", symbol, f.ConditionText(c), f.Price(price))
}

// Route returns the in-app route of a symbol's detail page
func Route(symbol string) string {
	return "/stock/" + symbol
}

// ValidateEvent checks that an event can be rendered
func ValidateEvent(ev models.FiringEvent) error {
	if ev.Symbol == "" {
		return fmt.Errorf("%w: empty symbol on rule %s", models.ErrNotificationFormat, ev.RuleID)
	}
	if ev.Condition == nil {
		return fmt.Errorf("%w: missing condition on rule %s", models.ErrNotificationFormat, ev.RuleID)
	}
	if math.IsNaN(ev.PriceAtFiring) || math.IsInf(ev.PriceAtFiring, 0) {
		return fmt.Errorf("%w: non-finite price on rule %s", models.ErrNotificationFormat, ev.RuleID)
	}
	return nil
}
