package inventory

import (
	"context"
	"errors"
	"time"

	"pharmapos/internal/core/id"
)

// ErrNegativeStock is returned by repositories when a quantity update would
// take a batch or product below zero. Nothing is written in that case.
var ErrNegativeStock = errors.New("stock would become negative")

// Repository persists products, batches and movements.
// Writes must run inside the transaction carried by ctx.
//
// Getters return (nil, nil) when the row does not exist.
type Repository interface {
	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, productID id.ID) (*Product, error)
	// GetProducts returns the products that exist among ids, in no particular order.
	GetProducts(ctx context.Context, ids []id.ID) ([]Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	// AddProductQuantity adds delta to the aggregate; ErrNegativeStock if the result is < 0.
	AddProductQuantity(ctx context.Context, productID id.ID, delta int64) error

	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, batchID id.ID) (*Batch, error)
	// ListBatches returns every batch of a product in FEFO order, empty ones included.
	ListBatches(ctx context.Context, productID id.ID) ([]Batch, error)
	// AddBatchQuantity adds delta to the batch; ErrNegativeStock if the result is < 0.
	AddBatchQuantity(ctx context.Context, batchID id.ID, delta int64) error

	CreateMovements(ctx context.Context, movements []Movement) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	// SumMovements returns the signed sum of all deltas of a product.
	SumMovements(ctx context.Context, productID id.ID) (int64, error)
}

// ProductFilter for listing products.
type ProductFilter struct {
	Search       string
	Category     string
	BelowReorder bool
	Limit        int
	Offset       int
}

// MovementFilter for the movement history.
type MovementFilter struct {
	ProductID *id.ID
	SaleID    *id.ID
	Type      *MovementType
	FromDate  *time.Time
	ToDate    *time.Time
	Limit     int
	Offset    int
}

// Locker serializes writers of the same products for the lifetime of the
// transaction in ctx. ids must already be sorted (see id.SortedUnique).
type Locker interface {
	LockProducts(ctx context.Context, ids []id.ID) error
}
