// Package sales settles point-of-sale transactions against the inventory
// ledger: validate, lock, plan, price and commit, exactly once per client
// transaction id.
package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/inventory"
)

// Type of sale.
type Type string

const (
	TypeRetail    Type = "retail"
	TypeWholesale Type = "wholesale"
)

// Valid reports whether t is known.
func (t Type) Valid() bool {
	return t == TypeRetail || t == TypeWholesale
}

// Status of a persisted sale. Only completed sales are ever stored.
type Status string

const (
	StatusCompleted Status = "completed"
)

// State is a step of the settlement pipeline.
type State string

const (
	StateReceived  State = "RECEIVED"
	StateValidated State = "VALIDATED"
	StateLocked    State = "LOCKED"
	StatePlanned   State = "PLANNED"
	StateCommitted State = "COMMITTED"
	StateRejected  State = "REJECTED"
)

// Line is one requested cart line.
type Line struct {
	ProductID id.ID
	Quantity  int64
	// UnitPrice overrides the catalog price when set (major units).
	UnitPrice           *decimal.Decimal
	LineDiscountPercent decimal.Decimal
	IsWholesale         bool
}

// Cashier who rang up the sale.
type Cashier struct {
	ID    string `db:"cashier_id" json:"id"`
	Name  string `db:"cashier_name" json:"name"`
	Email string `db:"cashier_email" json:"email,omitempty"`
}

// Customer is optional buyer information; wholesale sales usually carry a business.
type Customer struct {
	Name            string `db:"customer_name" json:"name,omitempty"`
	Phone           string `db:"customer_phone" json:"phone,omitempty"`
	BusinessName    string `db:"business_name" json:"businessName,omitempty"`
	BusinessAddress string `db:"business_address" json:"businessAddress,omitempty"`
}

// Request is a settlement request as submitted by a terminal.
type Request struct {
	ClientTransactionID    string
	Lines                  []Line
	OverallDiscountPercent decimal.Decimal
	ManualDiscount         types.MinorUnits
	SaleType               Type
	Cashier                Cashier
	Customer               Customer
	Roles                  []string
}

// Sale is a committed sale.
type Sale struct {
	ID                  id.ID            `db:"id" json:"id"`
	ClientTransactionID string           `db:"client_transaction_id" json:"clientTransactionId"`
	ReceiptNumber       string           `db:"receipt_number" json:"receiptNumber"`
	CreatedAt           time.Time        `db:"created_at" json:"createdAt"`
	Cashier             Cashier          `db:"-" json:"cashier"`
	Customer            Customer         `db:"-" json:"customer"`
	SaleType            Type             `db:"sale_type" json:"saleType"`
	Subtotal            types.MinorUnits `db:"subtotal" json:"subtotal"`
	Discount            types.MinorUnits `db:"discount" json:"discount"`
	Total               types.MinorUnits `db:"total" json:"total"`
	Status              Status           `db:"status" json:"status"`
	Items               []Item           `db:"-" json:"items"`
}

// Item is one sold line. ProductName is a snapshot taken at sale time.
type Item struct {
	ID          id.ID            `db:"id" json:"id"`
	SaleID      id.ID            `db:"sale_id" json:"saleId"`
	LineNo      int              `db:"line_no" json:"lineNo"`
	ProductID   id.ID            `db:"product_id" json:"productId"`
	ProductName string           `db:"product_name" json:"productName"`
	Quantity    int64            `db:"quantity" json:"quantity"`
	UnitPrice   types.MinorUnits `db:"unit_price" json:"unitPrice"`
	Discount    types.MinorUnits `db:"discount" json:"discount"`
	LineTotal   types.MinorUnits `db:"line_total" json:"lineTotal"`
}

// Result of Settle. Replayed is true when an earlier settlement with the same
// client transaction id was returned instead of creating a new sale.
type Result struct {
	Sale      *Sale                `json:"sale"`
	Movements []inventory.Movement `json:"movements"`
	Replayed  bool                 `json:"-"`
}

// ListFilter for listing sales.
type ListFilter struct {
	CashierID string
	SaleType  *Type
	FromDate  *time.Time
	ToDate    *time.Time
	Limit     int
	Offset    int
}
