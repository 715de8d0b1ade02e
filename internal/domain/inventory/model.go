// Package inventory is the stock ledger: products, expiry-dated batches and
// the append-only movement trail that reconciles with them.
package inventory

import (
	"time"

	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
)

// Product is a sellable item. Quantity is the denormalized sum of its batches.
type Product struct {
	ID             id.ID             `db:"id" json:"id"`
	Name           string            `db:"name" json:"name"`
	SKU            string            `db:"sku" json:"sku"`
	Category       string            `db:"category" json:"category"`
	Unit           string            `db:"unit" json:"unit"`
	UnitPrice      types.MinorUnits  `db:"unit_price" json:"unitPrice"`
	WholesalePrice *types.MinorUnits `db:"wholesale_price" json:"wholesalePrice,omitempty"`
	ReorderLevel   int64             `db:"reorder_level" json:"reorderLevel"`
	Quantity       int64             `db:"quantity" json:"quantity"`
	CreatedAt      time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updatedAt"`
}

// BelowReorderLevel reports whether the product needs restocking.
func (p *Product) BelowReorderLevel() bool {
	return p.ReorderLevel > 0 && p.Quantity <= p.ReorderLevel
}

// Batch is a quantity of one product received together.
// A batch that reaches zero stays in place for audit history.
type Batch struct {
	ID          id.ID            `db:"id" json:"id"`
	ProductID   id.ID            `db:"product_id" json:"productId"`
	BatchNumber string           `db:"batch_number" json:"batchNumber"`
	ExpiryDate  *time.Time       `db:"expiry_date" json:"expiryDate,omitempty"`
	Quantity    int64            `db:"quantity" json:"quantity"`
	UnitCost    types.MinorUnits `db:"unit_cost" json:"unitCost"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
}

// IsExpired reports whether the batch expiry date is before asOf's day.
func (b *Batch) IsExpired(asOf time.Time) bool {
	if b.ExpiryDate == nil {
		return false
	}
	y, m, d := asOf.Date()
	return b.ExpiryDate.Before(time.Date(y, m, d, 0, 0, 0, 0, asOf.Location()))
}

// MovementType classifies a stock movement.
type MovementType string

const (
	MovementSale       MovementType = "SALE"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementAddition   MovementType = "ADDITION"
	MovementReturn     MovementType = "RETURN"
	MovementInitial    MovementType = "INITIAL"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementSale, MovementAdjustment, MovementAddition, MovementReturn, MovementInitial:
		return true
	}
	return false
}

// Movement is one append-only entry of the stock trail.
// BatchID is nil for aggregate-level changes (un-batched stock).
type Movement struct {
	ID        id.ID        `db:"id" json:"id"`
	ProductID id.ID        `db:"product_id" json:"productId"`
	BatchID   *id.ID       `db:"batch_id" json:"batchId,omitempty"`
	Type      MovementType `db:"movement_type" json:"type"`
	Delta     int64        `db:"delta" json:"delta"`
	SaleID    *id.ID       `db:"sale_id" json:"saleId,omitempty"`
	Actor     string       `db:"actor" json:"actor"`
	Reason    string       `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
}

// Availability is a consistent view of one product's stock.
type Availability struct {
	Product   Product `json:"product"`
	Aggregate int64   `json:"aggregate"`
	Batches   []Batch `json:"batches"`
}

// Deduction takes Amount units from one batch, or from the aggregate when BatchID is nil.
type Deduction struct {
	BatchID *id.ID `json:"batchId,omitempty"`
	Amount  int64  `json:"amount"`
}

// MovementRef describes why a deduction happens.
type MovementRef struct {
	Type   MovementType
	SaleID *id.ID
	Actor  string
	Reason string
	At     time.Time
}

// Reconciliation compares the three views of a product's stock.
type Reconciliation struct {
	ProductID     id.ID `json:"productId"`
	Aggregate     int64 `json:"aggregate"`
	BatchTotal    int64 `json:"batchTotal"`
	BatchCount    int   `json:"batchCount"`
	MovementTotal int64 `json:"movementTotal"`
	Consistent    bool  `json:"consistent"`
}
