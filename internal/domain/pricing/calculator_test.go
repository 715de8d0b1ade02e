package pricing

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/types"
)

func pct(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestApplyPercent_Exact(t *testing.T) {
	tests := []struct {
		name    string
		amount  types.MinorUnits
		percent string
		want    types.MinorUnits
	}{
		{"twelve and a half", 1000, "12.5", 125},
		{"float-hostile 0.1", 1000, "0.1", 1},
		{"half rounds up", 5, "10", 1},         // 0.5 -> 1
		{"below half rounds down", 4, "10", 0}, // 0.4 -> 0
		{"one third", 100, "33.333", 33},
		{"full", 999, "100", 999},
		{"zero percent", 12345, "0", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ApplyPercent(tt.amount, pct(tt.percent)))
		})
	}
}

func TestCalculate_OverallDiscount(t *testing.T) {
	res, err := Calculate(Input{
		Lines:                  []LineInput{{UnitPrice: 250, Quantity: 4}},
		OverallDiscountPercent: pct("12.5"),
	})
	require.NoError(t, err)

	assert.Equal(t, types.MinorUnits(1000), res.Subtotal)
	assert.Equal(t, types.MinorUnits(125), res.Discount)
	assert.Equal(t, types.MinorUnits(875), res.Total)
}

func TestCalculate_CombinesAllDiscounts(t *testing.T) {
	res, err := Calculate(Input{
		Lines: []LineInput{
			{UnitPrice: 1999, Quantity: 3, DiscountPercent: pct("5")}, // 5997 -> 299.85 -> 300
			{UnitPrice: 450, Quantity: 1},
		},
		OverallDiscountPercent: pct("2.5"), // 6447 * 2.5% = 161.175 -> 161
		ManualDiscount:         50,
	})
	require.NoError(t, err)

	assert.Equal(t, types.MinorUnits(6447), res.Subtotal)
	assert.Equal(t, types.MinorUnits(300), res.LineDiscount)
	assert.Equal(t, types.MinorUnits(161), res.OverallDiscount)
	assert.Equal(t, types.MinorUnits(511), res.Discount)
	assert.Equal(t, types.MinorUnits(5936), res.Total)
	assert.Equal(t, types.MinorUnits(5697), res.Lines[0].Total)
	assert.False(t, res.Clamped)
}

func TestCalculate_ClampsExcessManualDiscount(t *testing.T) {
	res, err := Calculate(Input{
		Lines:          []LineInput{{UnitPrice: 300, Quantity: 1}},
		ManualDiscount: 1000,
	})
	require.NoError(t, err)

	assert.Equal(t, types.MinorUnits(300), res.Discount)
	assert.Equal(t, types.MinorUnits(0), res.Total)
	assert.True(t, res.Clamped)
}

func TestCalculate_Deterministic(t *testing.T) {
	in := Input{
		Lines:                  []LineInput{{UnitPrice: 333, Quantity: 7, DiscountPercent: pct("7.77")}},
		OverallDiscountPercent: pct("3.3"),
	}
	first, err := Calculate(in)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := Calculate(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCalculate_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"overall above 100", Input{OverallDiscountPercent: pct("100.01")}},
		{"negative overall", Input{OverallDiscountPercent: pct("-1")}},
		{"negative manual", Input{ManualDiscount: -1}},
		{"zero quantity", Input{Lines: []LineInput{{UnitPrice: 1, Quantity: 0}}}},
		{"negative price", Input{Lines: []LineInput{{UnitPrice: -1, Quantity: 1}}}},
		{"line percent above 100", Input{Lines: []LineInput{{UnitPrice: 1, Quantity: 1, DiscountPercent: pct("150")}}}},
		{"manual above max", Input{Lines: []LineInput{{UnitPrice: 100, Quantity: 1}}, ManualDiscount: math.MaxInt64}},
		{"price above max", Input{Lines: []LineInput{{UnitPrice: types.MaxAmount + 1, Quantity: 1}}}},
		{"price times quantity above max", Input{Lines: []LineInput{{UnitPrice: types.MaxAmount / 10, Quantity: 11}}}},
		{"price times quantity wraps int64", Input{Lines: []LineInput{{UnitPrice: 1 << 32, Quantity: 1 << 32}}}},
		{"subtotal above max", Input{Lines: []LineInput{
			{UnitPrice: types.MaxAmount, Quantity: 1},
			{UnitPrice: 1, Quantity: 1},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Calculate(tt.in)
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, apperror.CodeInvalidCart))
		})
	}
}

func TestCalculate_HugeManualDiscountNeverGoesNegative(t *testing.T) {
	manual := types.MinorUnitsFromDecimal(pct("92233720368547758.07"))

	_, err := Calculate(Input{
		Lines:                  []LineInput{{UnitPrice: 100, Quantity: 1}},
		OverallDiscountPercent: pct("1"),
		ManualDiscount:         manual,
	})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidCart))

	res, err := Calculate(Input{
		Lines:                  []LineInput{{UnitPrice: 100, Quantity: 1}},
		OverallDiscountPercent: pct("1"),
		ManualDiscount:         types.MaxAmount,
	})
	require.NoError(t, err)
	assert.Equal(t, types.MinorUnits(100), res.Discount)
	assert.Equal(t, types.MinorUnits(100), res.ManualDiscount)
	assert.Equal(t, types.MinorUnits(0), res.Total)
	assert.True(t, res.Clamped)
}

func TestCalculate_AtMaxAmount(t *testing.T) {
	res, err := Calculate(Input{
		Lines: []LineInput{
			{UnitPrice: types.MaxAmount / 4, Quantity: 2, DiscountPercent: pct("100")},
			{UnitPrice: types.MaxAmount / 2, Quantity: 1},
		},
		OverallDiscountPercent: pct("100"),
		ManualDiscount:         types.MaxAmount,
	})
	require.NoError(t, err)

	assert.Equal(t, types.MaxAmount, res.Subtotal)
	assert.Equal(t, res.Subtotal, res.Discount)
	assert.Equal(t, types.MinorUnits(0), res.Total)
	assert.Equal(t, res.Subtotal-res.Discount, res.Total)
}
