package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/internal/core/apperror"
)

func TestDiscountPolicy_Empty(t *testing.T) {
	p, err := NewDiscountPolicy("")
	require.NoError(t, err)
	assert.NoError(t, p.Check(DiscountInput{OverallPercent: 100, Discount: 5000, Subtotal: 5000}))

	var nilPolicy *DiscountPolicy
	assert.NoError(t, nilPolicy.Check(DiscountInput{Discount: 1}))
}

func TestDiscountPolicy_Check(t *testing.T) {
	p, err := NewDiscountPolicy(`overall_percent <= 20.0 && max_line_percent <= 30.0 || "manager" in roles`)
	require.NoError(t, err)

	tests := []struct {
		name    string
		in      DiscountInput
		allowed bool
	}{
		{"within limits", DiscountInput{OverallPercent: 12.5, Discount: 125, Subtotal: 1000}, true},
		{"overall too high", DiscountInput{OverallPercent: 25, Discount: 250, Subtotal: 1000}, false},
		{"line too high", DiscountInput{MaxLinePercent: 50, Discount: 100, Subtotal: 1000}, false},
		{"manager overrides", DiscountInput{OverallPercent: 50, Discount: 500, Subtotal: 1000, Roles: []string{"manager"}}, true},
		{"no discount skips check", DiscountInput{OverallPercent: 90}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Check(tt.in)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperror.HasCode(err, apperror.CodeDiscountNotAllowed))
		})
	}
}

func TestDiscountPolicy_ManualAndSaleType(t *testing.T) {
	p, err := NewDiscountPolicy(`sale_type == "wholesale" || manual_discount <= subtotal / 10`)
	require.NoError(t, err)

	assert.NoError(t, p.Check(DiscountInput{ManualDiscount: 100, Discount: 100, Subtotal: 1000, SaleType: "retail"}))
	assert.Error(t, p.Check(DiscountInput{ManualDiscount: 101, Discount: 101, Subtotal: 1000, SaleType: "retail"}))
	assert.NoError(t, p.Check(DiscountInput{ManualDiscount: 900, Discount: 900, Subtotal: 1000, SaleType: "wholesale"}))
}

func TestNewDiscountPolicy_Rejects(t *testing.T) {
	_, err := NewDiscountPolicy(`overall_percent +`)
	assert.Error(t, err)

	_, err = NewDiscountPolicy(`subtotal + 1`)
	assert.Error(t, err)

	_, err = NewDiscountPolicy(`unknown_var > 1`)
	assert.Error(t, err)
}
