package notify

import (
	"math"
	"testing"

	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestFormatter_ConditionText(t *testing.T) {
	f := NewVietnameseFormatter()

	tests := []struct {
		cond models.Condition
		want string
	}{
		{models.Above{Target: 80000}, "vượt 80.000đ"},
		{models.Below{Target: 25000}, "xuống dưới 25.000đ"},
		{models.Crosses{Target: 92100}, "chạm mốc 92.100đ"},
		{models.ChangeAbove{Percent: 5}, "tăng trên 5%"},
		{models.ChangeBelow{Percent: 2.5}, "giảm trên 2.5%"},
		{nil, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, f.ConditionText(tt.cond))
	}
}

func TestFormatter_Body(t *testing.T) {
	f := NewVietnameseFormatter()

	assert.Equal(t, "VNM đạt điều kiện!", f.Title("VNM"))
	assert.Equal(t,
		"Giá VNM vượt 80.000đ. Giá hiện tại: 80.500đ",
		f.Body("VNM", models.Above{Target: 80000}, 80500),
	)
	assert.Equal(t, "/stock/VNM", Route("VNM"))
}

func TestValidateEvent(t *testing.T) {
	ok := models.FiringEvent{RuleID: "r", Symbol: "VNM", Condition: models.Above{Target: 1}, PriceAtFiring: 2}
	assert.NoError(t, ValidateEvent(ok))

	noSymbol := ok
	noSymbol.Symbol = ""
	assert.ErrorIs(t, ValidateEvent(noSymbol), models.ErrNotificationFormat)

	noCond := ok
	noCond.Condition = nil
	assert.ErrorIs(t, ValidateEvent(noCond), models.ErrNotificationFormat)

	nanPrice := ok
	nanPrice.PriceAtFiring = math.NaN()
	assert.ErrorIs(t, ValidateEvent(nanPrice), models.ErrNotificationFormat)
}
