package sales

import (
	"context"
	"fmt"
	"slices"

	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/inventory"
)

// IdempotencyLedger maps client transaction ids to committed settlements.
// The unique index on the sale's client transaction id is the source of
// truth; the ledger only reads it back.
type IdempotencyLedger struct {
	sales     Repository
	movements inventory.Repository
}

// NewIdempotencyLedger creates a ledger over the sale and movement stores.
func NewIdempotencyLedger(sales Repository, movements inventory.Repository) *IdempotencyLedger {
	return &IdempotencyLedger{sales: sales, movements: movements}
}

// Lookup returns the stored result for clientTxID marked as replayed,
// or nil when no sale was committed under it.
func (l *IdempotencyLedger) Lookup(ctx context.Context, clientTxID string) (*Result, error) {
	sale, err := l.sales.GetByClientTxID(ctx, clientTxID)
	if err != nil {
		return nil, fmt.Errorf("lookup client transaction: %w", err)
	}
	if sale == nil {
		return nil, nil
	}

	res, err := l.load(ctx, sale)
	if err != nil {
		return nil, err
	}
	res.Replayed = true
	return res, nil
}

// Get returns the committed result of a sale by id, or nil.
func (l *IdempotencyLedger) Get(ctx context.Context, saleID id.ID) (*Result, error) {
	sale, err := l.sales.GetByID(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("get sale: %w", err)
	}
	if sale == nil {
		return nil, nil
	}
	return l.load(ctx, sale)
}

func (l *IdempotencyLedger) load(ctx context.Context, sale *Sale) (*Result, error) {
	movements, err := l.movements.ListMovements(ctx, inventory.MovementFilter{SaleID: &sale.ID})
	if err != nil {
		return nil, fmt.Errorf("load sale movements: %w", err)
	}
	sortMovements(movements)
	return &Result{Sale: sale, Movements: movements}, nil
}

// sortMovements puts movements in creation order (UUIDv7 ids are time ordered).
func sortMovements(m []inventory.Movement) {
	slices.SortFunc(m, func(a, b inventory.Movement) int { return id.Compare(a.ID, b.ID) })
}
