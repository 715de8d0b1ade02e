package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/numerator"
	"pharmapos/internal/core/tx"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/audit"
	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/domain/policy"
	"pharmapos/internal/domain/pricing"
	"pharmapos/pkg/logger"
)

var tracer = otel.Tracer("pharmapos/sales")

const (
	maxClientTxIDLength = 128
	maxLines            = 500

	defaultListLimit = 50
	maxListLimit     = 500
)

// Settlement outcomes reported to Metrics.
const (
	OutcomeCommitted = "committed"
	OutcomeReplayed  = "replayed"
	OutcomeRejected  = "rejected"
)

// Options tunes settlement behavior.
type Options struct {
	// SkipExpired keeps expired batches out of FEFO plans.
	SkipExpired    bool
	ReceiptConfig  numerator.Config
	ReceiptOptions *numerator.Options
}

// Deps are the collaborators of Service. Policy, Audit, Notifier and Metrics are optional.
type Deps struct {
	Repo      Repository
	Inventory *inventory.Service
	TxManager tx.Manager
	Guard     Guard
	Numerator numerator.Generator
	Policy    *policy.DiscountPolicy
	Audit     audit.Recorder
	Notifier  Notifier
	Metrics   Metrics
}

// Service is the sale settlement orchestrator.
type Service struct {
	repo      Repository
	inventory *inventory.Service
	txm       tx.Manager
	guard     Guard
	numerator numerator.Generator
	policy    *policy.DiscountPolicy
	audit     audit.Recorder
	notifier  Notifier
	metrics   Metrics
	ledger    *IdempotencyLedger
	opts      Options
	now       func() time.Time
}

// NewService creates the orchestrator.
func NewService(deps Deps, opts Options) *Service {
	s := &Service{
		repo:      deps.Repo,
		inventory: deps.Inventory,
		txm:       deps.TxManager,
		guard:     deps.Guard,
		numerator: deps.Numerator,
		policy:    deps.Policy,
		audit:     deps.Audit,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.opts.ReceiptConfig.Prefix == "" {
		s.opts.ReceiptConfig = numerator.DefaultConfig("RCP")
	}
	s.ledger = NewIdempotencyLedger(deps.Repo, deps.Inventory.Repository())
	return s
}

// settlement carries one request through the pipeline.
type settlement struct {
	req      Request
	state    State
	products map[id.ID]inventory.Product
	// snapshots hold the post-sale stock of each product once planned.
	snapshots map[id.ID]*inventory.Snapshot
	plans     [][]inventory.Deduction
	result    *Result
}

func (st *settlement) advance(next State) { st.state = next }

// Settle validates, prices and commits a sale, or rejects it leaving no trace.
// Repeating a committed client transaction id returns the stored result with
// Replayed set instead of selling twice.
func (s *Service) Settle(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	req.ClientTransactionID = strings.TrimSpace(req.ClientTransactionID)
	if req.SaleType == "" {
		req.SaleType = TypeRetail
	}

	ctx, span := tracer.Start(ctx, "sales.Settle", trace.WithAttributes(
		attribute.String("sale.client_tx_id", req.ClientTransactionID),
		attribute.Int("sale.lines", len(req.Lines)),
	))
	defer span.End()

	st := &settlement{req: req, state: StateReceived}
	res, err := s.settle(ctx, st)

	outcome := OutcomeCommitted
	switch {
	case err != nil:
		outcome = OutcomeRejected
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res.Replayed:
		outcome = OutcomeReplayed
	}
	elapsed := time.Since(start)
	s.metrics.ObserveSettlement(outcome, elapsed.Seconds())
	span.SetAttributes(attribute.String("sale.outcome", outcome))

	if err != nil {
		level := logger.Warn
		if !apperror.IsAppError(err) || apperror.HasCode(err, apperror.CodePersistenceFailure) {
			level = logger.Error
		}
		level(ctx, "settlement rejected",
			"client_tx_id", req.ClientTransactionID,
			"state", st.state,
			"error", err,
			"duration_ms", elapsed.Milliseconds())
		return nil, err
	}

	logger.Info(ctx, "settlement "+outcome,
		"client_tx_id", req.ClientTransactionID,
		"state", StateCommitted,
		"sale_id", res.Sale.ID,
		"receipt_number", res.Sale.ReceiptNumber,
		"total", res.Sale.Total,
		"duration_ms", elapsed.Milliseconds())

	if !res.Replayed {
		s.afterCommit(ctx, st)
	}
	return res, nil
}

func (s *Service) settle(ctx context.Context, st *settlement) (*Result, error) {
	req := st.req

	if req.ClientTransactionID == "" {
		return nil, s.reject(st, apperror.NewInvalidCart("client transaction id is required"))
	}
	if len(req.ClientTransactionID) > maxClientTxIDLength {
		return nil, s.reject(st, apperror.NewInvalidCart("client transaction id is too long"))
	}

	// Fast path: a committed settlement needs no validation or locks.
	if res, err := s.ledger.Lookup(ctx, req.ClientTransactionID); err != nil {
		return nil, s.reject(st, apperror.NewPersistenceFailure(err))
	} else if res != nil {
		return res, nil
	}

	if err := s.validate(ctx, st); err != nil {
		return nil, s.reject(st, err)
	}
	st.advance(StateValidated)

	receipt, err := s.numerator.GetNextNumber(ctx, s.opts.ReceiptConfig, s.opts.ReceiptOptions, s.now())
	if err != nil {
		return nil, s.reject(st, apperror.NewPersistenceFailure(fmt.Errorf("allocate receipt number: %w", err)))
	}

	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.commit(ctx, st, receipt)
	})
	if err != nil {
		// Another writer committed the same id between our check and insert.
		if apperror.IsDuplicate(err) {
			if res, lookupErr := s.ledger.Lookup(ctx, req.ClientTransactionID); lookupErr == nil && res != nil {
				return res, nil
			}
		}
		return nil, s.reject(st, classify(err))
	}
	return st.result, nil
}

// validate checks the cart shape and that every product exists.
func (s *Service) validate(ctx context.Context, st *settlement) error {
	req := st.req

	if len(req.Lines) == 0 {
		return apperror.NewInvalidCart("cart is empty")
	}
	if len(req.Lines) > maxLines {
		return apperror.NewInvalidCart("too many lines").WithDetail("max", maxLines)
	}
	if !req.SaleType.Valid() {
		return apperror.NewInvalidCart("unknown sale type").WithDetail("sale_type", req.SaleType)
	}
	if !pricing.ValidatePercent(req.OverallDiscountPercent) {
		return apperror.NewInvalidCart("overall discount percent must be between 0 and 100")
	}
	if !req.ManualDiscount.InRange() {
		return apperror.NewInvalidCart("manual discount out of range").
			WithDetail("max", types.MaxAmount.String())
	}

	ids := make([]id.ID, 0, len(req.Lines))
	for i, l := range req.Lines {
		switch {
		case id.IsNil(l.ProductID):
			return apperror.NewInvalidCart("product id is required").WithDetail("line", i)
		case l.Quantity <= 0:
			return apperror.NewInvalidCart("quantity must be positive").WithDetail("line", i)
		case !pricing.ValidatePercent(l.LineDiscountPercent):
			return apperror.NewInvalidCart("line discount percent must be between 0 and 100").WithDetail("line", i)
		case l.UnitPrice != nil && !types.MinorUnitsFromDecimal(*l.UnitPrice).InRange():
			return apperror.NewInvalidCart("unit price out of range").WithDetail("line", i)
		}
		ids = append(ids, l.ProductID)
	}

	products, err := s.inventory.Repository().GetProducts(ctx, id.SortedUnique(ids))
	if err != nil {
		return apperror.NewPersistenceFailure(fmt.Errorf("load products: %w", err))
	}
	st.products = make(map[id.ID]inventory.Product, len(products))
	for _, p := range products {
		st.products[p.ID] = p
	}
	for i, l := range req.Lines {
		if _, ok := st.products[l.ProductID]; !ok {
			return apperror.NewInvalidCart("unknown product").
				WithDetail("line", i).
				WithDetail("product_id", l.ProductID.String())
		}
	}
	return nil
}

// commit runs inside the settlement transaction. Any error rolls back every write.
func (s *Service) commit(ctx context.Context, st *settlement, receipt string) error {
	req := st.req

	if err := s.guard.LockTransaction(ctx, req.ClientTransactionID); err != nil {
		return err
	}
	if res, err := s.ledger.Lookup(ctx, req.ClientTransactionID); err != nil {
		return err
	} else if res != nil {
		st.result = res
		return nil
	}

	productIDs := make([]id.ID, 0, len(st.products))
	for pid := range st.products {
		productIDs = append(productIDs, pid)
	}
	if err := s.guard.LockProducts(ctx, id.SortedUnique(productIDs)); err != nil {
		return err
	}
	st.advance(StateLocked)

	if err := s.plan(ctx, st); err != nil {
		return err
	}

	sale, priced, err := s.price(st)
	if err != nil {
		return err
	}
	if err := s.policy.Check(discountInput(req, priced)); err != nil {
		return err
	}
	st.advance(StatePlanned)

	sale.ReceiptNumber = receipt
	if err := s.repo.Create(ctx, sale); err != nil {
		return err
	}

	var movements []inventory.Movement
	for i, l := range req.Lines {
		m, err := s.inventory.ApplyDeduction(ctx, l.ProductID, st.plans[i], inventory.MovementRef{
			Type:   inventory.MovementSale,
			SaleID: &sale.ID,
			Actor:  req.Cashier.ID,
			Reason: sale.ReceiptNumber,
			At:     sale.CreatedAt,
		})
		if err != nil {
			return err
		}
		movements = append(movements, m...)
	}
	sortMovements(movements)

	entry := audit.Entry{
		EntityType: "sale",
		EntityID:   sale.ID,
		Action:     audit.ActionSaleCompleted,
		Actor:      req.Cashier.ID,
		Payload:    map[string]any{"sale": sale, "movements": movements},
	}
	audit.Enrich(ctx, &entry)
	if err := s.audit.Record(ctx, entry); err != nil {
		return fmt.Errorf("record audit: %w", err)
	}

	st.result = &Result{Sale: sale, Movements: movements}
	return nil
}

// plan re-reads stock under lock and builds one FEFO plan per line.
func (s *Service) plan(ctx context.Context, st *settlement) error {
	st.snapshots = make(map[id.ID]*inventory.Snapshot, len(st.products))
	for pid := range st.products {
		avail, err := s.inventory.GetAvailable(ctx, pid)
		if err != nil {
			return err
		}
		st.products[pid] = avail.Product
		st.snapshots[pid] = inventory.NewSnapshot(avail)
	}

	opts := inventory.PlanOptions{SkipExpired: s.opts.SkipExpired, AsOf: s.now()}
	st.plans = make([][]inventory.Deduction, len(st.req.Lines))
	for i, l := range st.req.Lines {
		p, err := st.snapshots[l.ProductID].Plan(l.Quantity, opts)
		if err != nil {
			if appErr, ok := apperror.AsAppError(err); ok && appErr.Code == apperror.CodeInsufficientStock {
				appErr.WithDetail("product_name", st.products[l.ProductID].Name).WithDetail("line", i)
			}
			return err
		}
		st.plans[i] = p
	}
	return nil
}

// price resolves unit prices and builds the sale.
func (s *Service) price(st *settlement) (*Sale, pricing.Result, error) {
	req := st.req

	in := pricing.Input{
		Lines:                  make([]pricing.LineInput, len(req.Lines)),
		OverallDiscountPercent: req.OverallDiscountPercent,
		ManualDiscount:         req.ManualDiscount,
	}
	for i, l := range req.Lines {
		in.Lines[i] = pricing.LineInput{
			UnitPrice:       resolvePrice(l, st.products[l.ProductID], req.SaleType),
			Quantity:        l.Quantity,
			DiscountPercent: l.LineDiscountPercent,
		}
	}

	priced, err := pricing.Calculate(in)
	if err != nil {
		return nil, pricing.Result{}, err
	}

	sale := &Sale{
		ID:                  id.New(),
		ClientTransactionID: req.ClientTransactionID,
		CreatedAt:           s.now(),
		Cashier:             req.Cashier,
		Customer:            req.Customer,
		SaleType:            req.SaleType,
		Subtotal:            priced.Subtotal,
		Discount:            priced.Discount,
		Total:               priced.Total,
		Status:              StatusCompleted,
		Items:               make([]Item, len(req.Lines)),
	}
	for i, l := range req.Lines {
		sale.Items[i] = Item{
			ID:          id.New(),
			SaleID:      sale.ID,
			LineNo:      i + 1,
			ProductID:   l.ProductID,
			ProductName: st.products[l.ProductID].Name,
			Quantity:    l.Quantity,
			UnitPrice:   in.Lines[i].UnitPrice,
			Discount:    priced.Lines[i].Discount,
			LineTotal:   priced.Lines[i].Total,
		}
	}
	return sale, priced, nil
}

// resolvePrice picks the explicit line price, then the wholesale price for
// wholesale lines, then the catalog price.
func resolvePrice(l Line, p inventory.Product, saleType Type) types.MinorUnits {
	if l.UnitPrice != nil {
		return types.MinorUnitsFromDecimal(*l.UnitPrice)
	}
	if (l.IsWholesale || saleType == TypeWholesale) && p.WholesalePrice != nil {
		return *p.WholesalePrice
	}
	return p.UnitPrice
}

func discountInput(req Request, priced pricing.Result) policy.DiscountInput {
	maxLine := decimal.Zero
	for _, l := range req.Lines {
		if l.LineDiscountPercent.GreaterThan(maxLine) {
			maxLine = l.LineDiscountPercent
		}
	}
	return policy.DiscountInput{
		// Policy thresholds compare percentages, never money, so float64 is exact enough.
		OverallPercent: req.OverallDiscountPercent.InexactFloat64(),
		MaxLinePercent: maxLine.InexactFloat64(),
		ManualDiscount: int64(req.ManualDiscount),
		Subtotal:       int64(priced.Subtotal),
		Discount:       int64(priced.Discount),
		SaleType:       string(req.SaleType),
		Roles:          req.Roles,
	}
}

// afterCommit publishes events. Failures never affect the committed sale.
func (s *Service) afterCommit(ctx context.Context, st *settlement) {
	sale := st.result.Sale
	if err := s.notifier.SaleCompleted(ctx, sale); err != nil {
		logger.Warn(ctx, "sale completed notification failed", "sale_id", sale.ID, "error", err)
	}

	for pid, snap := range st.snapshots {
		p := st.products[pid]
		p.Quantity = snap.Aggregate
		if !p.BelowReorderLevel() {
			continue
		}
		if err := s.notifier.LowStock(ctx, p); err != nil {
			logger.Warn(ctx, "low stock notification failed", "product_id", pid, "error", err)
		}
	}
}

func (s *Service) reject(st *settlement, err error) error {
	st.advance(StateRejected)
	return err
}

// classify keeps business errors and turns anything else into PersistenceFailure.
func classify(err error) error {
	if apperror.IsAppError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.NewLockTimeout("settlement").WithCause(err)
	}
	return apperror.NewPersistenceFailure(err)
}

// Get returns a committed sale with its movements.
func (s *Service) Get(ctx context.Context, saleID id.ID) (*Result, error) {
	res, err := s.ledger.Get(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, apperror.NewNotFound("sale", saleID.String())
	}
	return res, nil
}

// GetByClientTxID returns the settlement stored under a client transaction id.
func (s *Service) GetByClientTxID(ctx context.Context, clientTxID string) (*Result, error) {
	res, err := s.ledger.Lookup(ctx, strings.TrimSpace(clientTxID))
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, apperror.NewNotFound("sale", clientTxID)
	}
	res.Replayed = false
	return res, nil
}

// List returns sales newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Sale, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	if filter.SaleType != nil && !filter.SaleType.Valid() {
		return nil, apperror.NewValidation("unknown sale type")
	}
	return s.repo.List(ctx, filter)
}
