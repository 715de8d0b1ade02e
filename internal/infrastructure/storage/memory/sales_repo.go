package memory

import (
	"context"
	"slices"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/sales"
)

// SalesRepo implements sales.Repository over a Store.
type SalesRepo struct {
	store *Store
}

var _ sales.Repository = (*SalesRepo)(nil)

// NewSalesRepo creates the sales repository.
func NewSalesRepo(store *Store) *SalesRepo {
	return &SalesRepo{store: store}
}

func (r *SalesRepo) Create(ctx context.Context, sale *sales.Sale) error {
	o := overlayFrom(ctx)
	if o == nil {
		return errNoTx("create sale")
	}

	r.store.mu.RLock()
	_, committed := r.store.salesByClient[sale.ClientTransactionID]
	r.store.mu.RUnlock()
	if committed || slices.ContainsFunc(o.sales, func(s sales.Sale) bool {
		return s.ClientTransactionID == sale.ClientTransactionID
	}) {
		return apperror.NewDuplicate("sale", "client_transaction_id", sale.ClientTransactionID)
	}

	o.sales = append(o.sales, cloneSale(*sale))
	return nil
}

func (r *SalesRepo) GetByID(ctx context.Context, saleID id.ID) (*sales.Sale, error) {
	if o := overlayFrom(ctx); o != nil {
		for _, s := range o.sales {
			if s.ID == saleID {
				out := cloneSale(s)
				return &out, nil
			}
		}
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	s, ok := r.store.sales[saleID]
	if !ok {
		return nil, nil
	}
	out := cloneSale(s)
	return &out, nil
}

func (r *SalesRepo) GetByClientTxID(ctx context.Context, clientTxID string) (*sales.Sale, error) {
	if o := overlayFrom(ctx); o != nil {
		for _, s := range o.sales {
			if s.ClientTransactionID == clientTxID {
				out := cloneSale(s)
				return &out, nil
			}
		}
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	saleID, ok := r.store.salesByClient[clientTxID]
	if !ok {
		return nil, nil
	}
	out := cloneSale(r.store.sales[saleID])
	return &out, nil
}

func (r *SalesRepo) List(_ context.Context, filter sales.ListFilter) ([]sales.Sale, error) {
	r.store.mu.RLock()
	out := make([]sales.Sale, 0, len(r.store.sales))
	for _, s := range r.store.sales {
		switch {
		case filter.CashierID != "" && s.Cashier.ID != filter.CashierID:
			continue
		case filter.SaleType != nil && s.SaleType != *filter.SaleType:
			continue
		case filter.FromDate != nil && s.CreatedAt.Before(*filter.FromDate):
			continue
		case filter.ToDate != nil && !s.CreatedAt.Before(*filter.ToDate):
			continue
		}
		s.Items = nil
		out = append(out, s)
	}
	r.store.mu.RUnlock()

	slices.SortFunc(out, func(a, b sales.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return id.Compare(b.ID, a.ID)
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func cloneSale(s sales.Sale) sales.Sale {
	s.Items = slices.Clone(s.Items)
	return s
}
