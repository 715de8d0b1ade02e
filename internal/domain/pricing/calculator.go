// Package pricing computes sale totals and discounts in integer minor units.
package pricing

import (
	"github.com/shopspring/decimal"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/types"
)

var hundred = decimal.NewFromInt(100)

// LineInput is one priced cart line.
type LineInput struct {
	UnitPrice       types.MinorUnits
	Quantity        int64
	DiscountPercent decimal.Decimal
}

// Input is everything the calculator needs.
type Input struct {
	Lines                  []LineInput
	OverallDiscountPercent decimal.Decimal
	ManualDiscount         types.MinorUnits
}

// LineResult holds the per-line amounts.
type LineResult struct {
	Gross    types.MinorUnits `json:"gross"`
	Discount types.MinorUnits `json:"discount"`
	Total    types.MinorUnits `json:"total"`
}

// Result is the priced sale. Discount is what was actually granted after
// clamping, so Total == Subtotal - Discount always holds.
type Result struct {
	Lines           []LineResult     `json:"lines"`
	Subtotal        types.MinorUnits `json:"subtotal"`
	OverallDiscount types.MinorUnits `json:"overallDiscount"`
	LineDiscount    types.MinorUnits `json:"lineDiscount"`
	ManualDiscount  types.MinorUnits `json:"manualDiscount"`
	Discount        types.MinorUnits `json:"discount"`
	Total           types.MinorUnits `json:"total"`
	Clamped         bool             `json:"clamped"`
}

// ValidatePercent accepts values in [0, 100].
func ValidatePercent(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred)
}

// ApplyPercent returns amount × percent / 100 rounded half-up to a whole minor unit.
// The multiplication is exact, so 12.5% of 1000 is always 125.
func ApplyPercent(amount types.MinorUnits, percent decimal.Decimal) types.MinorUnits {
	if amount == 0 || percent.IsZero() {
		return 0
	}
	return types.MinorUnits(types.RoundHalfUp(decimal.NewFromInt(int64(amount)).Mul(percent).Div(hundred)))
}

// Calculate prices a sale:
//
//	subtotal = Σ unitPrice × qty
//	discount = round(subtotal × overall%) + Σ round(gross × line%) + manual, capped at subtotal
//	total    = subtotal − discount
//
// Every amount stays within [0, types.MaxAmount]; a cart whose gross or
// subtotal would leave it is rejected as InvalidCart.
// It is pure: the same input always yields the same result.
func Calculate(in Input) (Result, error) {
	if err := validate(in); err != nil {
		return Result{}, err
	}

	var ok bool
	res := Result{Lines: make([]LineResult, len(in.Lines))}
	for i, l := range in.Lines {
		gross, fits := l.UnitPrice.MulQty(l.Quantity)
		if !fits {
			return Result{}, outOfRange("line amount").WithDetail("line", i)
		}
		disc := ApplyPercent(gross, l.DiscountPercent)
		res.Lines[i] = LineResult{Gross: gross, Discount: disc, Total: gross - disc}
		if res.Subtotal, ok = types.AddChecked(res.Subtotal, gross); !ok {
			return Result{}, outOfRange("subtotal")
		}
		// Σ line discounts <= Σ gross, so this cannot overflow once the subtotal fits.
		res.LineDiscount += disc
	}

	res.OverallDiscount = ApplyPercent(res.Subtotal, in.OverallDiscountPercent)
	res.ManualDiscount = types.Min(in.ManualDiscount, res.Subtotal)

	// Each term is at most the subtotal, so the sum stays far inside int64.
	requested := res.OverallDiscount + res.LineDiscount + res.ManualDiscount
	res.Discount = types.Min(requested, res.Subtotal)
	res.Clamped = requested > res.Subtotal || in.ManualDiscount > res.Subtotal
	res.Total = res.Subtotal - res.Discount

	return res, nil
}

func outOfRange(what string) *apperror.AppError {
	return apperror.NewInvalidCart(what+" exceeds the maximum amount").
		WithDetail("max", types.MaxAmount.String())
}

func validate(in Input) error {
	if !ValidatePercent(in.OverallDiscountPercent) {
		return apperror.NewInvalidCart("overall discount percent must be between 0 and 100").
			WithDetail("overall_discount_percent", in.OverallDiscountPercent.String())
	}
	if in.ManualDiscount.IsNegative() {
		return apperror.NewInvalidCart("manual discount must not be negative")
	}
	if in.ManualDiscount > types.MaxAmount {
		return outOfRange("manual discount")
	}
	for i, l := range in.Lines {
		switch {
		case l.Quantity <= 0:
			return apperror.NewInvalidCart("quantity must be positive").WithDetail("line", i)
		case l.UnitPrice.IsNegative():
			return apperror.NewInvalidCart("unit price must not be negative").WithDetail("line", i)
		case l.UnitPrice > types.MaxAmount:
			return outOfRange("unit price").WithDetail("line", i)
		case !ValidatePercent(l.DiscountPercent):
			return apperror.NewInvalidCart("line discount percent must be between 0 and 100").WithDetail("line", i)
		}
	}
	return nil
}
