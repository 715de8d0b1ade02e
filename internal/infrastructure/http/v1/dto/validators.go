package dto

import (
	"reflect"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/domain/sales"
)

// RegisterValidators installs the custom binding tags on v:
//
//	saletype      retail | wholesale (empty passes, the service defaults it)
//	percent       decimal in [0, 100]
//	amount        decimal major units in [0, types.MaxAmount]
//	movementtype  ADJUSTMENT | RETURN
func RegisterValidators(v *validator.Validate) error {
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})

	for tag, fn := range map[string]validator.Func{
		"saletype":     validateSaleType,
		"percent":      validatePercent,
		"amount":       validateAmount,
		"movementtype": validateMovementType,
	} {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}

// RegisterGinValidators installs the tags on gin's default validator.
func RegisterGinValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return RegisterValidators(v)
}

// decimalValue exposes decimals to validator as their string form so
// percent/amount can parse them exactly.
func decimalValue(field reflect.Value) any {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		return d.String()
	}
	return nil
}

func fieldDecimal(fl validator.FieldLevel) (decimal.Decimal, bool) {
	f := fl.Field()
	if f.Kind() != reflect.String {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(f.String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func validateSaleType(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s == "" || sales.Type(s).Valid()
}

func validatePercent(fl validator.FieldLevel) bool {
	d, ok := fieldDecimal(fl)
	return ok && !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(100))
}

var maxAmount = types.MaxAmount.Decimal()

func validateAmount(fl validator.FieldLevel) bool {
	d, ok := fieldDecimal(fl)
	return ok && !d.IsNegative() && d.LessThanOrEqual(maxAmount)
}

func validateMovementType(fl validator.FieldLevel) bool {
	t := inventory.MovementType(fl.Field().String())
	return t == "" || t == inventory.MovementAdjustment || t == inventory.MovementReturn
}
