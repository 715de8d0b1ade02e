package inventory

import (
	"slices"
	"time"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
)

// PlanOptions tunes batch selection.
type PlanOptions struct {
	// SkipExpired excludes batches that expired before AsOf.
	SkipExpired bool
	AsOf        time.Time
}

// PlanRequest is the input of Plan. Batches must be read in the same
// transaction that later applies the deductions.
type PlanRequest struct {
	ProductID id.ID
	Requested int64
	Aggregate int64
	Batches   []Batch
	Options   PlanOptions
}

// compareFEFO orders by expiry date ascending, undated batches last,
// then by batch id.
func compareFEFO(a, b Batch) int {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return 1
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return -1
	case a.ExpiryDate != nil && b.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
		return a.ExpiryDate.Compare(*b.ExpiryDate)
	}
	return id.Compare(a.ID, b.ID)
}

// SortFEFO sorts batches in consumption order.
func SortFEFO(batches []Batch) {
	slices.SortStableFunc(batches, compareFEFO)
}

// Plan produces the ordered deductions that satisfy req.Requested using
// first-expiry-first-out. The amounts always sum to Requested.
//
// A product without any batch rows but with a positive aggregate is treated
// as a single implicit batch with no expiry (BatchID nil).
func Plan(req PlanRequest) ([]Deduction, error) {
	if req.Requested <= 0 {
		return nil, apperror.NewValidation("requested quantity must be positive").
			WithDetail("product_id", req.ProductID.String())
	}

	if len(req.Batches) == 0 {
		if req.Aggregate < req.Requested {
			return nil, apperror.NewInsufficientStock(req.ProductID.String(), req.Requested, max(req.Aggregate, 0))
		}
		return []Deduction{{Amount: req.Requested}}, nil
	}

	ordered := slices.Clone(req.Batches)
	SortFEFO(ordered)

	eligible := ordered[:0]
	var available int64
	for _, b := range ordered {
		if b.Quantity <= 0 {
			continue
		}
		if req.Options.SkipExpired && b.IsExpired(req.Options.AsOf) {
			continue
		}
		eligible = append(eligible, b)
		available += b.Quantity
	}

	if available < req.Requested {
		return nil, apperror.NewInsufficientStock(req.ProductID.String(), req.Requested, available)
	}

	plan := make([]Deduction, 0, len(eligible))
	remaining := req.Requested
	for _, b := range eligible {
		take := min(b.Quantity, remaining)
		batchID := b.ID
		plan = append(plan, Deduction{BatchID: &batchID, Amount: take})
		remaining -= take
		if remaining == 0 {
			break
		}
	}
	return plan, nil
}

// Snapshot is a working copy of one product's stock. Planning several cart
// lines of the same product against it never counts a unit twice.
type Snapshot struct {
	ProductID id.ID
	Aggregate int64
	Batches   []Batch
}

// NewSnapshot copies an availability view.
func NewSnapshot(a *Availability) *Snapshot {
	batches := slices.Clone(a.Batches)
	SortFEFO(batches)
	return &Snapshot{ProductID: a.Product.ID, Aggregate: a.Aggregate, Batches: batches}
}

// Plan plans requested units and consumes them from the snapshot.
func (s *Snapshot) Plan(requested int64, opts PlanOptions) ([]Deduction, error) {
	plan, err := Plan(PlanRequest{
		ProductID: s.ProductID,
		Requested: requested,
		Aggregate: s.Aggregate,
		Batches:   s.Batches,
		Options:   opts,
	})
	if err != nil {
		return nil, err
	}

	for _, d := range plan {
		s.Aggregate -= d.Amount
		if d.BatchID == nil {
			continue
		}
		for i := range s.Batches {
			if s.Batches[i].ID == *d.BatchID {
				s.Batches[i].Quantity -= d.Amount
				break
			}
		}
	}
	return plan, nil
}

// Total sums the amounts of a plan.
func Total(plan []Deduction) int64 {
	var n int64
	for _, d := range plan {
		n += d.Amount
	}
	return n
}
