package sales

import (
	"context"

	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/inventory"
)

// Repository persists sales and their items.
// Writes must run inside the transaction carried by ctx.
type Repository interface {
	// Create inserts the sale and its items. A second sale with the same
	// client transaction id fails with apperror CodeDuplicate.
	Create(ctx context.Context, sale *Sale) error
	// GetByID returns the sale with items ordered by line number, or (nil, nil).
	GetByID(ctx context.Context, saleID id.ID) (*Sale, error)
	// GetByClientTxID returns the sale with items, or (nil, nil).
	GetByClientTxID(ctx context.Context, clientTxID string) (*Sale, error)
	// List returns sales newest first, without items.
	List(ctx context.Context, filter ListFilter) ([]Sale, error)
}

// Guard serializes concurrent settlements.
// Both locks are held until the transaction in ctx ends and fail with
// apperror CodeLockTimeout when they cannot be taken in time.
type Guard interface {
	inventory.Locker
	// LockTransaction serializes settlements sharing a client transaction id.
	LockTransaction(ctx context.Context, clientTxID string) error
}

// Notifier receives post-commit events. Implementations must not block long;
// errors are logged and never change the outcome of a settlement.
type Notifier interface {
	SaleCompleted(ctx context.Context, sale *Sale) error
	LowStock(ctx context.Context, product inventory.Product) error
}

// Metrics observes settlement outcomes.
type Metrics interface {
	ObserveSettlement(outcome string, seconds float64)
}

type nopNotifier struct{}

func (nopNotifier) SaleCompleted(context.Context, *Sale) error        { return nil }
func (nopNotifier) LowStock(context.Context, inventory.Product) error { return nil }

type nopMetrics struct{}

func (nopMetrics) ObserveSettlement(string, float64) {}
