package memory

import (
	"context"

	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/sales"
)

// Guard implements sales.Guard with in-process keyed mutexes.
// Locks are released when the surrounding transaction commits or rolls back.
type Guard struct {
	store *Store
}

var _ sales.Guard = (*Guard)(nil)

// NewGuard creates a guard over store's lock table.
func NewGuard(store *Store) *Guard {
	return &Guard{store: store}
}

// LockTransaction implements sales.Guard.
func (g *Guard) LockTransaction(ctx context.Context, clientTxID string) error {
	return g.store.lockKeys(ctx, "client_transaction", []string{"tx:" + clientTxID})
}

// LockProducts implements inventory.Locker. ids must be sorted.
func (g *Guard) LockProducts(ctx context.Context, ids []id.ID) error {
	keys := make([]string, len(ids))
	for i, pid := range ids {
		keys[i] = "product:" + pid.String()
	}
	return g.store.lockKeys(ctx, "product", keys)
}
