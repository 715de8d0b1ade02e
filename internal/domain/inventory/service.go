package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/tx"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/audit"
	"pharmapos/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Service is the inventory ledger.
type Service struct {
	repo   Repository
	txm    tx.Manager
	locker Locker
	audit  audit.Recorder
	now    func() time.Time
}

// NewService creates the ledger service.
func NewService(repo Repository, txm tx.Manager, locker Locker, recorder audit.Recorder) *Service {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Service{
		repo:   repo,
		txm:    txm,
		locker: locker,
		audit:  recorder,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Repository exposes the underlying repository to collaborators in the same transaction.
func (s *Service) Repository() Repository {
	return s.repo
}

// GetAvailable returns the product with its batches in FEFO order.
// Outside a transaction this is the last committed state.
func (s *Service) GetAvailable(ctx context.Context, productID id.ID) (*Availability, error) {
	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	batches, err := s.repo.ListBatches(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	SortFEFO(batches)

	return &Availability{Product: *p, Aggregate: p.Quantity, Batches: batches}, nil
}

// ApplyDeduction decrements the planned batches and the product aggregate and
// writes one movement per deduction. It joins the transaction in ctx; a
// deduction that would go negative fails with InsufficientStock and nothing
// from this call survives.
func (s *Service) ApplyDeduction(ctx context.Context, productID id.ID, plan []Deduction, ref MovementRef) ([]Movement, error) {
	if len(plan) == 0 {
		return nil, nil
	}
	if !ref.Type.Valid() {
		return nil, apperror.NewValidation("unknown movement type").WithDetail("type", ref.Type)
	}
	if ref.At.IsZero() {
		ref.At = s.now()
	}

	var movements []Movement
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		movements = make([]Movement, 0, len(plan))
		var total int64

		for _, d := range plan {
			if d.Amount <= 0 {
				return apperror.NewValidation("deduction amount must be positive")
			}
			if d.BatchID != nil {
				if err := s.repo.AddBatchQuantity(ctx, *d.BatchID, -d.Amount); err != nil {
					return s.stockError(ctx, err, productID, d)
				}
			}
			movements = append(movements, Movement{
				ID:        id.New(),
				ProductID: productID,
				BatchID:   d.BatchID,
				Type:      ref.Type,
				Delta:     -d.Amount,
				SaleID:    ref.SaleID,
				Actor:     ref.Actor,
				Reason:    ref.Reason,
				CreatedAt: ref.At,
			})
			total += d.Amount
		}

		if err := s.repo.AddProductQuantity(ctx, productID, -total); err != nil {
			return s.stockError(ctx, err, productID, Deduction{Amount: total})
		}

		if err := s.repo.CreateMovements(ctx, movements); err != nil {
			return fmt.Errorf("create movements: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return movements, nil
}

// stockError turns ErrNegativeStock into InsufficientStock with the current quantity.
func (s *Service) stockError(ctx context.Context, err error, productID id.ID, d Deduction) error {
	if !errors.Is(err, ErrNegativeStock) {
		return fmt.Errorf("update quantity: %w", err)
	}

	var available int64
	if d.BatchID != nil {
		if b, getErr := s.repo.GetBatch(ctx, *d.BatchID); getErr == nil && b != nil {
			available = b.Quantity
		}
	} else if p, getErr := s.repo.GetProduct(ctx, productID); getErr == nil && p != nil {
		available = p.Quantity
	}
	return apperror.NewInsufficientStock(productID.String(), d.Amount, available).WithCause(err)
}

// NewProduct is the input of CreateProduct.
type NewProduct struct {
	Name           string
	SKU            string
	Category       string
	Unit           string
	UnitPrice      types.MinorUnits
	WholesalePrice *types.MinorUnits
	ReorderLevel   int64
}

// CreateProduct registers a product with no stock. Stock arrives through ReceiveBatch.
func (s *Service) CreateProduct(ctx context.Context, in NewProduct) (*Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.SKU = strings.TrimSpace(in.SKU)
	switch {
	case in.Name == "":
		return nil, apperror.NewValidation("product name is required")
	case in.SKU == "":
		return nil, apperror.NewValidation("product SKU is required")
	case !in.UnitPrice.InRange():
		return nil, apperror.NewValidation("unit price out of range").WithDetail("max", types.MaxAmount.String())
	case in.WholesalePrice != nil && !in.WholesalePrice.InRange():
		return nil, apperror.NewValidation("wholesale price out of range").WithDetail("max", types.MaxAmount.String())
	case in.ReorderLevel < 0:
		return nil, apperror.NewValidation("reorder level must not be negative")
	}
	if in.Unit == "" {
		in.Unit = "unit"
	}

	now := s.now()
	p := &Product{
		ID:             id.New(),
		Name:           in.Name,
		SKU:            in.SKU,
		Category:       in.Category,
		Unit:           in.Unit,
		UnitPrice:      in.UnitPrice,
		WholesalePrice: in.WholesalePrice,
		ReorderLevel:   in.ReorderLevel,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateProduct(ctx, p); err != nil {
			return err
		}
		entry := audit.Entry{EntityType: "product", EntityID: p.ID, Action: audit.ActionProductCreated, Payload: p}
		audit.Enrich(ctx, &entry)
		return s.audit.Record(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "product created", "product_id", p.ID, "sku", p.SKU)
	return p, nil
}

// GetProduct returns a product or NotFound.
func (s *Service) GetProduct(ctx context.Context, productID id.ID) (*Product, error) {
	p, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperror.NewNotFound("product", productID.String())
	}
	return p, nil
}

// ListProducts lists products with paging defaults applied.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	filter.Limit = clampLimit(filter.Limit)
	return s.repo.ListProducts(ctx, filter)
}

// ReceiveBatchInput is a restock of one product.
type ReceiveBatchInput struct {
	ProductID   id.ID
	BatchNumber string
	ExpiryDate  *time.Time
	Quantity    int64
	UnitCost    types.MinorUnits
	Actor       string
}

// UnbatchedBatchNumber names the batch that absorbs stock recorded before a
// product had any batches.
const UnbatchedBatchNumber = "UNBATCHED"

// ReceiveBatch adds a new batch. The very first stock of a product is
// recorded as INITIAL, later restocks as ADDITION. Stock a product held
// without batches is first moved into an UNBATCHED batch with no expiry, so
// the aggregate keeps equalling the batch total and the old units stay sellable.
func (s *Service) ReceiveBatch(ctx context.Context, in ReceiveBatchInput) (*Batch, *Movement, error) {
	if in.Quantity <= 0 {
		return nil, nil, apperror.NewValidation("batch quantity must be positive")
	}
	if !in.UnitCost.InRange() {
		return nil, nil, apperror.NewValidation("unit cost out of range").WithDetail("max", types.MaxAmount.String())
	}
	if strings.TrimSpace(in.BatchNumber) == "" {
		return nil, nil, apperror.NewValidation("batch number is required")
	}

	var (
		batch    *Batch
		movement *Movement
	)
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.locker.LockProducts(ctx, []id.ID{in.ProductID}); err != nil {
			return err
		}

		p, err := s.GetProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		existing, err := s.repo.ListBatches(ctx, in.ProductID)
		if err != nil {
			return fmt.Errorf("list batches: %w", err)
		}

		now := s.now()
		movementType := MovementAddition
		if len(existing) == 0 {
			if p.Quantity == 0 {
				movementType = MovementInitial
			} else if err := s.foldUnbatched(ctx, p, in.Actor, now); err != nil {
				return err
			}
		}

		batch = &Batch{
			ID:          id.New(),
			ProductID:   in.ProductID,
			BatchNumber: strings.TrimSpace(in.BatchNumber),
			ExpiryDate:  in.ExpiryDate,
			Quantity:    in.Quantity,
			UnitCost:    in.UnitCost,
			CreatedAt:   now,
		}
		if err := s.repo.CreateBatch(ctx, batch); err != nil {
			return err
		}
		if err := s.repo.AddProductQuantity(ctx, in.ProductID, in.Quantity); err != nil {
			return fmt.Errorf("update product quantity: %w", err)
		}

		batchID := batch.ID
		movement = &Movement{
			ID:        id.New(),
			ProductID: in.ProductID,
			BatchID:   &batchID,
			Type:      movementType,
			Delta:     in.Quantity,
			Actor:     in.Actor,
			CreatedAt: now,
		}
		if err := s.repo.CreateMovements(ctx, []Movement{*movement}); err != nil {
			return fmt.Errorf("create movement: %w", err)
		}

		entry := audit.Entry{EntityType: "batch", EntityID: batch.ID, Action: audit.ActionBatchReceived, Actor: in.Actor, Payload: batch}
		audit.Enrich(ctx, &entry)
		return s.audit.Record(ctx, entry)
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info(ctx, "batch received",
		"product_id", in.ProductID,
		"batch_id", batch.ID,
		"quantity", in.Quantity,
		"movement_type", movement.Type,
	)
	return batch, movement, nil
}

// foldUnbatched turns un-batched aggregate stock into a batch. The pair of
// movements nets to zero, so the aggregate and the movement total are unchanged.
func (s *Service) foldUnbatched(ctx context.Context, p *Product, actor string, now time.Time) error {
	batch := &Batch{
		ID:          id.New(),
		ProductID:   p.ID,
		BatchNumber: UnbatchedBatchNumber,
		Quantity:    p.Quantity,
		CreatedAt:   now,
	}
	if err := s.repo.CreateBatch(ctx, batch); err != nil {
		return err
	}

	const reason = "un-batched stock moved to batch " + UnbatchedBatchNumber
	batchID := batch.ID
	moves := []Movement{
		{ID: id.New(), ProductID: p.ID, Type: MovementAdjustment, Delta: -p.Quantity, Actor: actor, Reason: reason, CreatedAt: now},
		{ID: id.New(), ProductID: p.ID, BatchID: &batchID, Type: MovementAdjustment, Delta: p.Quantity, Actor: actor, Reason: reason, CreatedAt: now},
	}
	if err := s.repo.CreateMovements(ctx, moves); err != nil {
		return fmt.Errorf("create movement: %w", err)
	}

	logger.Info(ctx, "un-batched stock folded into batch",
		"product_id", p.ID,
		"batch_id", batch.ID,
		"quantity", p.Quantity,
	)
	return nil
}

// AdjustInput is a manual stock correction or a customer return.
type AdjustInput struct {
	ProductID id.ID
	// BatchID is required when the product has batches.
	BatchID *id.ID
	Delta   int64
	Type    MovementType
	Reason  string
	Actor   string
}

// Adjust applies a signed correction and records it with the same movement shape as sales.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (*Movement, error) {
	if in.Type == "" {
		in.Type = MovementAdjustment
	}
	switch {
	case in.Delta == 0:
		return nil, apperror.NewValidation("adjustment delta must not be zero")
	case in.Type != MovementAdjustment && in.Type != MovementReturn:
		return nil, apperror.NewValidation("adjustment type must be ADJUSTMENT or RETURN").WithDetail("type", in.Type)
	case in.Type == MovementReturn && in.Delta < 0:
		return nil, apperror.NewValidation("a return must add stock")
	case strings.TrimSpace(in.Reason) == "":
		return nil, apperror.NewValidation("adjustment reason is required")
	}

	var movement *Movement
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.locker.LockProducts(ctx, []id.ID{in.ProductID}); err != nil {
			return err
		}
		if _, err := s.GetProduct(ctx, in.ProductID); err != nil {
			return err
		}

		if in.BatchID != nil {
			b, err := s.repo.GetBatch(ctx, *in.BatchID)
			if err != nil {
				return err
			}
			if b == nil || b.ProductID != in.ProductID {
				return apperror.NewNotFound("batch", in.BatchID.String())
			}
			if err := s.repo.AddBatchQuantity(ctx, b.ID, in.Delta); err != nil {
				return s.stockError(ctx, err, in.ProductID, Deduction{BatchID: in.BatchID, Amount: -in.Delta})
			}
		} else {
			batches, err := s.repo.ListBatches(ctx, in.ProductID)
			if err != nil {
				return fmt.Errorf("list batches: %w", err)
			}
			if len(batches) > 0 {
				return apperror.NewValidation("batch_id is required for a batch-tracked product")
			}
		}

		if err := s.repo.AddProductQuantity(ctx, in.ProductID, in.Delta); err != nil {
			return s.stockError(ctx, err, in.ProductID, Deduction{Amount: -in.Delta})
		}

		movement = &Movement{
			ID:        id.New(),
			ProductID: in.ProductID,
			BatchID:   in.BatchID,
			Type:      in.Type,
			Delta:     in.Delta,
			Actor:     in.Actor,
			Reason:    in.Reason,
			CreatedAt: s.now(),
		}
		if err := s.repo.CreateMovements(ctx, []Movement{*movement}); err != nil {
			return fmt.Errorf("create movement: %w", err)
		}

		entry := audit.Entry{EntityType: "product", EntityID: in.ProductID, Action: audit.ActionStockAdjusted, Actor: in.Actor, Payload: movement}
		audit.Enrich(ctx, &entry)
		return s.audit.Record(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock adjusted",
		"product_id", in.ProductID,
		"delta", in.Delta,
		"type", in.Type,
	)
	return movement, nil
}

// ListMovements returns the movement history, newest last.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	filter.Limit = clampLimit(filter.Limit)
	return s.repo.ListMovements(ctx, filter)
}

// Reconcile checks that the aggregate equals both the batch total and the
// signed sum of the product's movements. The reads share one snapshot when
// the transaction manager supports read-only transactions.
func (s *Service) Reconcile(ctx context.Context, productID id.ID) (*Reconciliation, error) {
	run := s.txm.RunInTransaction
	if ro, ok := s.txm.(tx.ReadOnlyManager); ok {
		run = ro.ReadOnly
	}

	var rec *Reconciliation
	err := run(ctx, func(ctx context.Context) error {
		avail, err := s.GetAvailable(ctx, productID)
		if err != nil {
			return err
		}
		sum, err := s.repo.SumMovements(ctx, productID)
		if err != nil {
			return fmt.Errorf("sum movements: %w", err)
		}

		rec = &Reconciliation{
			ProductID:     productID,
			Aggregate:     avail.Aggregate,
			BatchCount:    len(avail.Batches),
			MovementTotal: sum,
		}
		for _, b := range avail.Batches {
			rec.BatchTotal += b.Quantity
		}
		rec.Consistent = rec.Aggregate == rec.MovementTotal &&
			(rec.BatchCount == 0 || rec.BatchTotal == rec.Aggregate)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ReconcileAll walks every product and returns the inconsistent ones.
func (s *Service) ReconcileAll(ctx context.Context) ([]Reconciliation, error) {
	var broken []Reconciliation
	for offset := 0; ; offset += maxListLimit {
		products, err := s.repo.ListProducts(ctx, ProductFilter{Limit: maxListLimit, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("list products: %w", err)
		}
		for _, p := range products {
			rec, err := s.Reconcile(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			if !rec.Consistent {
				broken = append(broken, *rec)
			}
		}
		if len(products) < maxListLimit {
			return broken, nil
		}
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}
