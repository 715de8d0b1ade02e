// Package memory is a process-local storage backend with the same
// transactional and locking guarantees as the PostgreSQL one.
//
// Each transaction writes into a private overlay. Commit applies the overlay
// under the store mutex in one step; rollback drops it. Reads outside a
// transaction only ever see committed state.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/tx"
	"pharmapos/internal/domain/audit"
	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/domain/sales"
	"pharmapos/internal/infrastructure/lock"
)

// Store holds the committed state.
type Store struct {
	mu sync.RWMutex

	products      map[id.ID]inventory.Product
	batches       map[id.ID]inventory.Batch
	movements     []inventory.Movement
	sales         map[id.ID]sales.Sale
	salesByClient map[string]id.ID
	audit         []audit.Entry

	locks       *lock.KeyedMutex
	lockTimeout time.Duration
}

// NewStore creates an empty store. lockTimeout bounds every lock wait.
func NewStore(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Store{
		products:      make(map[id.ID]inventory.Product),
		batches:       make(map[id.ID]inventory.Batch),
		sales:         make(map[id.ID]sales.Sale),
		salesByClient: make(map[string]id.ID),
		locks:         lock.NewKeyedMutex(),
		lockTimeout:   lockTimeout,
	}
}

// Ping always succeeds; it lets the store stand in for a database in health checks.
func (s *Store) Ping(context.Context) error { return nil }

// AuditEntries returns a copy of the committed audit trail.
func (s *Store) AuditEntries() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.audit)
}

// overlay is the uncommitted state of one transaction.
type overlay struct {
	products  map[id.ID]inventory.Product
	batches   map[id.ID]inventory.Batch
	movements []inventory.Movement
	sales     []sales.Sale
	audit     []audit.Entry

	held   map[string]bool
	onDone []func()
}

func newOverlay() *overlay {
	return &overlay{
		products: make(map[id.ID]inventory.Product),
		batches:  make(map[id.ID]inventory.Batch),
		held:     make(map[string]bool),
	}
}

func (o *overlay) finish() {
	for i := len(o.onDone) - 1; i >= 0; i-- {
		o.onDone[i]()
	}
	o.onDone = nil
}

type overlayKey struct{}

func overlayFrom(ctx context.Context) *overlay {
	o, _ := ctx.Value(overlayKey{}).(*overlay)
	return o
}

// TxManager runs functions against a transaction overlay.
type TxManager struct {
	store *Store
}

var _ tx.Manager = (*TxManager)(nil)

// NewTxManager creates a transaction manager for store.
func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

// RunInTransaction implements tx.Manager. Nested calls join the outer transaction.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if overlayFrom(ctx) != nil {
		return fn(ctx)
	}

	o := newOverlay()
	defer o.finish()

	if err := fn(context.WithValue(ctx, overlayKey{}, o)); err != nil {
		return err
	}
	return m.store.apply(o)
}

// ReadOnly runs fn outside any transaction; memory reads are already consistent.
func (m *TxManager) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// apply commits an overlay. Unique constraints are checked before anything
// is written so a failed commit leaves the store untouched.
func (s *Store) apply(o *overlay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sale := range o.sales {
		if _, exists := s.salesByClient[sale.ClientTransactionID]; exists {
			return apperror.NewDuplicate("sale", "client_transaction_id", sale.ClientTransactionID)
		}
	}

	for pid, p := range o.products {
		if _, exists := s.products[pid]; exists || p.SKU == "" {
			continue
		}
		for _, committed := range s.products {
			if committed.SKU == p.SKU {
				return apperror.NewDuplicate("product", "sku", p.SKU)
			}
		}
	}

	maps.Copy(s.products, o.products)
	maps.Copy(s.batches, o.batches)
	s.movements = append(s.movements, o.movements...)
	for _, sale := range o.sales {
		s.sales[sale.ID] = sale
		s.salesByClient[sale.ClientTransactionID] = sale.ID
	}
	s.audit = append(s.audit, o.audit...)
	return nil
}

// lockKeys takes the given keys for the lifetime of the transaction in ctx.
// Keys already held by the transaction are skipped. On a timeout none of
// the keys requested by this call stay held.
func (s *Store) lockKeys(ctx context.Context, resource string, keys []string) error {
	o := overlayFrom(ctx)
	if o == nil {
		return fmt.Errorf("lock %s: no transaction in context", resource)
	}

	fresh := make([]string, 0, len(keys))
	for _, key := range keys {
		if !o.held[key] {
			fresh = append(fresh, key)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	unlock, err := s.locks.LockAll(waitCtx, fresh)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperror.NewLockTimeout(resource).WithCause(err)
	}
	for _, key := range fresh {
		o.held[key] = true
	}
	o.onDone = append(o.onDone, unlock)
	return nil
}
