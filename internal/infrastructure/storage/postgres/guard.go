package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/sales"
)

// Guard implements sales.Guard with PostgreSQL transaction-scoped locks.
// Both locks are released by COMMIT or ROLLBACK.
type Guard struct {
	txManager   *TxManager
	lockTimeout time.Duration
}

var _ sales.Guard = (*Guard)(nil)

// NewGuard creates a guard. lockTimeout bounds each lock wait.
func NewGuard(txManager *TxManager, lockTimeout time.Duration) *Guard {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Guard{txManager: txManager, lockTimeout: lockTimeout}
}

func (g *Guard) setLockTimeout(ctx context.Context, tx *Tx) error {
	_, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", g.lockTimeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("set lock_timeout: %w", err)
	}
	return nil
}

// LockTransaction takes an advisory lock keyed on the client transaction id.
func (g *Guard) LockTransaction(ctx context.Context, clientTxID string) error {
	tx := g.txManager.GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("lock client transaction: no transaction in context")
	}
	if err := g.setLockTimeout(ctx, tx); err != nil {
		return err
	}

	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "sale:"+clientTxID)
	if err != nil {
		return MapLockError(fmt.Errorf("advisory lock: %w", err), "client_transaction")
	}
	return nil
}

// LockProducts row-locks the products in id order.
func (g *Guard) LockProducts(ctx context.Context, ids []id.ID) error {
	if len(ids) == 0 {
		return nil
	}
	tx := g.txManager.GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("lock products: no transaction in context")
	}
	if err := g.setLockTimeout(ctx, tx); err != nil {
		return err
	}

	rows, err := tx.Query(ctx, `SELECT id FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return MapLockError(fmt.Errorf("lock products: %w", err), "product")
	}
	if _, err := pgx.CollectRows(rows, pgx.RowTo[id.ID]); err != nil {
		return MapLockError(fmt.Errorf("lock products: %w", err), "product")
	}
	return nil
}
