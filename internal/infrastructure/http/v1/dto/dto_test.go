package dto

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "pharmapos/internal/core/context"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/sales"
)

func newValidator(t *testing.T) *validator.Validate {
	t.Helper()
	v := validator.New()
	v.SetTagName("binding")
	require.NoError(t, RegisterValidators(v))
	return v
}

func validRequest() SettleSaleRequest {
	return SettleSaleRequest{
		ClientTransactionID: "pos-1-0001",
		Lines: []SaleLineRequest{{
			ProductID:       id.New().String(),
			Quantity:        2,
			DiscountPercent: decimal.RequireFromString("12.5"),
		}},
		OverallDiscountPercent: decimal.RequireFromString("5"),
		SaleType:               "retail",
	}
}

func TestSettleSaleRequest_Validation(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name    string
		mutate  func(r *SettleSaleRequest)
		wantErr bool
	}{
		{"valid", func(*SettleSaleRequest) {}, false},
		{"empty sale type defaults", func(r *SettleSaleRequest) { r.SaleType = "" }, false},
		{"unknown sale type", func(r *SettleSaleRequest) { r.SaleType = "layaway" }, true},
		{"percent above 100", func(r *SettleSaleRequest) { r.OverallDiscountPercent = decimal.NewFromInt(101) }, true},
		{"negative line percent", func(r *SettleSaleRequest) { r.Lines[0].DiscountPercent = decimal.NewFromInt(-1) }, true},
		{"negative manual discount", func(r *SettleSaleRequest) { r.ManualDiscount = decimal.NewFromInt(-5) }, true},
		{"negative explicit price", func(r *SettleSaleRequest) {
			p := decimal.NewFromInt(-1)
			r.Lines[0].UnitPrice = &p
		}, true},
		{"manual discount at max", func(r *SettleSaleRequest) { r.ManualDiscount = types.MaxAmount.Decimal() }, false},
		{"manual discount beyond int64", func(r *SettleSaleRequest) {
			r.ManualDiscount = decimal.RequireFromString("92233720368547758.07")
		}, true},
		{"explicit price above max", func(r *SettleSaleRequest) {
			p := types.MaxAmount.Decimal().Add(decimal.RequireFromString("0.01"))
			r.Lines[0].UnitPrice = &p
		}, true},
		{"zero quantity", func(r *SettleSaleRequest) { r.Lines[0].Quantity = 0 }, true},
		{"bad product id", func(r *SettleSaleRequest) { r.Lines[0].ProductID = "abc" }, true},
		{"no lines", func(r *SettleSaleRequest) { r.Lines = nil }, true},
		{"missing client id", func(r *SettleSaleRequest) { r.ClientTransactionID = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest()
			tt.mutate(&r)
			err := v.Struct(r)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSettleSaleRequest_ToDomain_TokenUserIsCashier(t *testing.T) {
	r := validRequest()
	r.ManualDiscount = decimal.RequireFromString("1.25")
	r.Cashier = &CashierRequest{ID: "spoofed", Name: "Someone"}

	req, err := r.ToDomain(&appctx.UserContext{UserID: "cashier-7", Name: "Ada", Roles: []string{"cashier"}})
	require.NoError(t, err)

	assert.Equal(t, "cashier-7", req.Cashier.ID)
	assert.Equal(t, "Ada", req.Cashier.Name)
	assert.Equal(t, []string{"cashier"}, req.Roles)
	assert.Equal(t, types.MinorUnits(125), req.ManualDiscount)
	assert.Equal(t, sales.TypeRetail, req.SaleType)
	require.Len(t, req.Lines, 1)
	assert.True(t, req.Lines[0].LineDiscountPercent.Equal(decimal.RequireFromString("12.5")))
}

func TestFromSale_RendersMajorUnits(t *testing.T) {
	s := &sales.Sale{
		ID:       id.New(),
		Subtotal: 1000,
		Discount: 125,
		Total:    875,
		Items:    []sales.Item{{LineNo: 1, ProductID: id.New(), Quantity: 1, UnitPrice: 1000, LineTotal: 1000}},
	}

	resp := FromSale(s)

	assert.Equal(t, "8.75", resp.Total.StringFixed(2))
	assert.Equal(t, "1.25", resp.Discount.StringFixed(2))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "10.00", resp.Items[0].UnitPrice.StringFixed(2))
}

func TestAdjustStockRequest_Validation(t *testing.T) {
	v := newValidator(t)

	assert.NoError(t, v.Struct(AdjustStockRequest{Delta: -2, Type: "ADJUSTMENT", Reason: "damaged"}))
	assert.NoError(t, v.Struct(AdjustStockRequest{Delta: 1, Reason: "recount"}))
	assert.Error(t, v.Struct(AdjustStockRequest{Delta: 1, Type: "SALE", Reason: "sneaky"}))
	assert.Error(t, v.Struct(AdjustStockRequest{Delta: 0, Reason: "noop"}))
}
