package memory

import (
	"context"
	"slices"
	"strings"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/inventory"
)

// InventoryRepo implements inventory.Repository over a Store.
type InventoryRepo struct {
	store *Store
}

var _ inventory.Repository = (*InventoryRepo)(nil)

// NewInventoryRepo creates the inventory repository.
func NewInventoryRepo(store *Store) *InventoryRepo {
	return &InventoryRepo{store: store}
}

// product reads through the overlay. Callers hold s.mu.
func (r *InventoryRepo) product(o *overlay, productID id.ID) (inventory.Product, bool) {
	if o != nil {
		if p, ok := o.products[productID]; ok {
			return p, true
		}
	}
	p, ok := r.store.products[productID]
	return p, ok
}

func (r *InventoryRepo) batch(o *overlay, batchID id.ID) (inventory.Batch, bool) {
	if o != nil {
		if b, ok := o.batches[batchID]; ok {
			return b, true
		}
	}
	b, ok := r.store.batches[batchID]
	return b, ok
}

func (r *InventoryRepo) CreateProduct(ctx context.Context, p *inventory.Product) error {
	o := overlayFrom(ctx)
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if p.SKU != "" {
		for _, existing := range r.allProducts(o) {
			if existing.SKU == p.SKU {
				return apperror.NewDuplicate("product", "sku", p.SKU)
			}
		}
	}
	if o == nil {
		return errNoTx("create product")
	}
	o.products[p.ID] = cloneProduct(*p)
	return nil
}

func (r *InventoryRepo) GetProduct(ctx context.Context, productID id.ID) (*inventory.Product, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.product(overlayFrom(ctx), productID)
	if !ok {
		return nil, nil
	}
	p = cloneProduct(p)
	return &p, nil
}

func (r *InventoryRepo) GetProducts(ctx context.Context, ids []id.ID) ([]inventory.Product, error) {
	o := overlayFrom(ctx)
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]inventory.Product, 0, len(ids))
	for _, pid := range ids {
		if p, ok := r.product(o, pid); ok {
			out = append(out, cloneProduct(p))
		}
	}
	return out, nil
}

func (r *InventoryRepo) allProducts(o *overlay) []inventory.Product {
	out := make([]inventory.Product, 0, len(r.store.products))
	for pid, p := range r.store.products {
		if o != nil {
			if op, ok := o.products[pid]; ok {
				p = op
			}
		}
		out = append(out, p)
	}
	if o != nil {
		for pid, p := range o.products {
			if _, ok := r.store.products[pid]; !ok {
				out = append(out, p)
			}
		}
	}
	return out
}

func (r *InventoryRepo) ListProducts(ctx context.Context, filter inventory.ProductFilter) ([]inventory.Product, error) {
	o := overlayFrom(ctx)
	r.store.mu.RLock()
	all := r.allProducts(o)
	r.store.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	out := make([]inventory.Product, 0, len(all))
	for _, p := range all {
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) && !strings.Contains(strings.ToLower(p.SKU), search) {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.BelowReorder && !p.BelowReorderLevel() {
			continue
		}
		out = append(out, cloneProduct(p))
	}
	slices.SortFunc(out, func(a, b inventory.Product) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return id.Compare(a.ID, b.ID)
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (r *InventoryRepo) AddProductQuantity(ctx context.Context, productID id.ID, delta int64) error {
	o := overlayFrom(ctx)
	if o == nil {
		return errNoTx("update product quantity")
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.product(o, productID)
	if !ok {
		return apperror.NewNotFound("product", productID.String())
	}
	if p.Quantity+delta < 0 {
		return inventory.ErrNegativeStock
	}
	p.Quantity += delta
	o.products[productID] = p
	return nil
}

func (r *InventoryRepo) CreateBatch(ctx context.Context, b *inventory.Batch) error {
	o := overlayFrom(ctx)
	if o == nil {
		return errNoTx("create batch")
	}
	if b.Quantity < 0 {
		return inventory.ErrNegativeStock
	}
	o.batches[b.ID] = cloneBatch(*b)
	return nil
}

func (r *InventoryRepo) GetBatch(ctx context.Context, batchID id.ID) (*inventory.Batch, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	b, ok := r.batch(overlayFrom(ctx), batchID)
	if !ok {
		return nil, nil
	}
	b = cloneBatch(b)
	return &b, nil
}

func (r *InventoryRepo) ListBatches(ctx context.Context, productID id.ID) ([]inventory.Batch, error) {
	o := overlayFrom(ctx)
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []inventory.Batch
	for bid, b := range r.store.batches {
		if b.ProductID != productID {
			continue
		}
		if o != nil {
			if ob, ok := o.batches[bid]; ok {
				b = ob
			}
		}
		out = append(out, cloneBatch(b))
	}
	if o != nil {
		for bid, b := range o.batches {
			if _, committed := r.store.batches[bid]; !committed && b.ProductID == productID {
				out = append(out, cloneBatch(b))
			}
		}
	}
	inventory.SortFEFO(out)
	return out, nil
}

func (r *InventoryRepo) AddBatchQuantity(ctx context.Context, batchID id.ID, delta int64) error {
	o := overlayFrom(ctx)
	if o == nil {
		return errNoTx("update batch quantity")
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	b, ok := r.batch(o, batchID)
	if !ok {
		return apperror.NewNotFound("batch", batchID.String())
	}
	if b.Quantity+delta < 0 {
		return inventory.ErrNegativeStock
	}
	b.Quantity += delta
	o.batches[batchID] = b
	return nil
}

func (r *InventoryRepo) CreateMovements(ctx context.Context, movements []inventory.Movement) error {
	o := overlayFrom(ctx)
	if o == nil {
		return errNoTx("create movements")
	}
	for _, m := range movements {
		o.movements = append(o.movements, cloneMovement(m))
	}
	return nil
}

func (r *InventoryRepo) movementsView(o *overlay) []inventory.Movement {
	all := slices.Clone(r.store.movements)
	if o != nil {
		all = append(all, o.movements...)
	}
	return all
}

func (r *InventoryRepo) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	o := overlayFrom(ctx)
	r.store.mu.RLock()
	all := r.movementsView(o)
	r.store.mu.RUnlock()

	out := make([]inventory.Movement, 0, len(all))
	for _, m := range all {
		switch {
		case filter.ProductID != nil && m.ProductID != *filter.ProductID:
			continue
		case filter.SaleID != nil && (m.SaleID == nil || *m.SaleID != *filter.SaleID):
			continue
		case filter.Type != nil && m.Type != *filter.Type:
			continue
		case filter.FromDate != nil && m.CreatedAt.Before(*filter.FromDate):
			continue
		case filter.ToDate != nil && !m.CreatedAt.Before(*filter.ToDate):
			continue
		}
		out = append(out, cloneMovement(m))
	}
	slices.SortFunc(out, func(a, b inventory.Movement) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return id.Compare(a.ID, b.ID)
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (r *InventoryRepo) SumMovements(ctx context.Context, productID id.ID) (int64, error) {
	o := overlayFrom(ctx)
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var sum int64
	for _, m := range r.movementsView(o) {
		if m.ProductID == productID {
			sum += m.Delta
		}
	}
	return sum, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneProduct(p inventory.Product) inventory.Product {
	if p.WholesalePrice != nil {
		v := *p.WholesalePrice
		p.WholesalePrice = &v
	}
	return p
}

func cloneBatch(b inventory.Batch) inventory.Batch {
	if b.ExpiryDate != nil {
		v := *b.ExpiryDate
		b.ExpiryDate = &v
	}
	return b
}

func cloneMovement(m inventory.Movement) inventory.Movement {
	if m.BatchID != nil {
		v := *m.BatchID
		m.BatchID = &v
	}
	if m.SaleID != nil {
		v := *m.SaleID
		m.SaleID = &v
	}
	return m
}
