// Package policy evaluates the configurable rule that decides whether a
// cashier may grant the discount on a sale.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"pharmapos/internal/core/apperror"
)

// Variables available to a discount expression.
const (
	VarOverallPercent = "overall_percent"
	VarMaxLinePercent = "max_line_percent"
	VarManualDiscount = "manual_discount"
	VarSubtotal       = "subtotal"
	VarDiscount       = "discount"
	VarSaleType       = "sale_type"
	VarRoles          = "roles"
)

// DiscountInput is the evaluated sale. Amounts are minor units.
type DiscountInput struct {
	OverallPercent float64
	MaxLinePercent float64
	ManualDiscount int64
	Subtotal       int64
	Discount       int64
	SaleType       string
	Roles          []string
}

// DiscountPolicy is a compiled CEL expression returning bool.
// A nil or empty policy allows every discount.
//
// Example:
//
//	overall_percent <= 20.0 || "manager" in roles
type DiscountPolicy struct {
	expr string
	prg  cel.Program
}

// NewDiscountPolicy compiles expr. An empty expression yields an allow-all policy.
func NewDiscountPolicy(expr string) (*DiscountPolicy, error) {
	if expr == "" {
		return &DiscountPolicy{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable(VarOverallPercent, cel.DoubleType),
		cel.Variable(VarMaxLinePercent, cel.DoubleType),
		cel.Variable(VarManualDiscount, cel.IntType),
		cel.Variable(VarSubtotal, cel.IntType),
		cel.Variable(VarDiscount, cel.IntType),
		cel.Variable(VarSaleType, cel.StringType),
		cel.Variable(VarRoles, cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile discount policy: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("discount policy must return bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build discount policy: %w", err)
	}
	return &DiscountPolicy{expr: expr, prg: prg}, nil
}

// Expression returns the source text.
func (p *DiscountPolicy) Expression() string {
	if p == nil {
		return ""
	}
	return p.expr
}

// Check returns DISCOUNT_NOT_ALLOWED when the expression evaluates to false.
// Sales without any discount are never checked.
func (p *DiscountPolicy) Check(in DiscountInput) error {
	if p == nil || p.prg == nil || in.Discount == 0 {
		return nil
	}

	roles := in.Roles
	if roles == nil {
		roles = []string{}
	}
	out, _, err := p.prg.Eval(map[string]any{
		VarOverallPercent: in.OverallPercent,
		VarMaxLinePercent: in.MaxLinePercent,
		VarManualDiscount: in.ManualDiscount,
		VarSubtotal:       in.Subtotal,
		VarDiscount:       in.Discount,
		VarSaleType:       in.SaleType,
		VarRoles:          roles,
	})
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("evaluate discount policy: %w", err))
	}

	allowed, ok := out.Value().(bool)
	if !ok || !allowed {
		return apperror.NewBusinessRule(apperror.CodeDiscountNotAllowed, "Discount exceeds what this cashier may grant").
			WithDetail("discount", in.Discount).
			WithDetail("overall_percent", in.OverallPercent)
	}
	return nil
}
