// Package inventory_repo provides the PostgreSQL implementation of inventory.Repository.
package inventory_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/infrastructure/storage/postgres"
)

const (
	productsTable  = "products"
	batchesTable   = "batches"
	movementsTable = "stock_movements"

	productsSKUKey = "products_sku_key"
)

var (
	productColumns  = postgres.ExtractDBColumns[inventory.Product]()
	batchColumns    = postgres.ExtractDBColumns[inventory.Batch]()
	movementColumns = postgres.ExtractDBColumns[inventory.Movement]()
)

// Repo implements inventory.Repository.
type Repo struct {
	txm      *postgres.TxManager
	inserter *postgres.BatchInserter
	builder  squirrel.StatementBuilderType
}

var _ inventory.Repository = (*Repo)(nil)

// New creates the inventory repository.
func New(txm *postgres.TxManager) *Repo {
	return &Repo{
		txm:      txm,
		inserter: postgres.NewBatchInserter(txm),
		builder:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *Repo) querier(ctx context.Context) postgres.Querier {
	return r.txm.GetQuerier(ctx)
}

// --- Products ---

func (r *Repo) CreateProduct(ctx context.Context, p *inventory.Product) error {
	sql, args, err := r.builder.Insert(productsTable).SetMap(postgres.StructToMap(p)).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		if postgres.IsUniqueViolation(err, productsSKUKey) {
			return apperror.NewDuplicate("product", "sku", p.SKU)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *Repo) GetProduct(ctx context.Context, productID id.ID) (*inventory.Product, error) {
	sql, args, err := r.builder.Select(productColumns...).
		From(productsTable).
		Where(squirrel.Eq{"id": productID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var p inventory.Product
	if err := pgxscan.Get(ctx, r.querier(ctx), &p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

func (r *Repo) GetProducts(ctx context.Context, ids []id.ID) ([]inventory.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sql, args, err := r.builder.Select(productColumns...).
		From(productsTable).
		Where(squirrel.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var products []inventory.Product
	if err := pgxscan.Select(ctx, r.querier(ctx), &products, sql, args...); err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	return products, nil
}

func (r *Repo) ListProducts(ctx context.Context, filter inventory.ProductFilter) ([]inventory.Product, error) {
	q := r.builder.Select(productColumns...).From(productsTable)

	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		q = q.Where(squirrel.Or{
			squirrel.ILike{"name": pattern},
			squirrel.ILike{"sku": pattern},
		})
	}
	if filter.Category != "" {
		q = q.Where(squirrel.Eq{"category": filter.Category})
	}
	if filter.BelowReorder {
		q = q.Where("reorder_level > 0 AND quantity <= reorder_level")
	}

	q = q.OrderBy("name", "id")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var products []inventory.Product
	if err := pgxscan.Select(ctx, r.querier(ctx), &products, sql, args...); err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	return products, nil
}

func (r *Repo) AddProductQuantity(ctx context.Context, productID id.ID, delta int64) error {
	tag, err := r.querier(ctx).Exec(ctx, `
		UPDATE products
		SET quantity = quantity + $2, updated_at = now()
		WHERE id = $1 AND quantity + $2 >= 0
	`, productID, delta)
	if err != nil {
		if postgres.IsCheckViolation(err) {
			return inventory.ErrNegativeStock
		}
		return fmt.Errorf("update product quantity: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missingOrNegative(ctx, productsTable, "product", productID)
}

// --- Batches ---

func (r *Repo) CreateBatch(ctx context.Context, b *inventory.Batch) error {
	sql, args, err := r.builder.Insert(batchesTable).SetMap(postgres.StructToMap(b)).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		if postgres.IsCheckViolation(err) {
			return inventory.ErrNegativeStock
		}
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (r *Repo) GetBatch(ctx context.Context, batchID id.ID) (*inventory.Batch, error) {
	sql, args, err := r.builder.Select(batchColumns...).
		From(batchesTable).
		Where(squirrel.Eq{"id": batchID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var b inventory.Batch
	if err := pgxscan.Get(ctx, r.querier(ctx), &b, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return &b, nil
}

func (r *Repo) ListBatches(ctx context.Context, productID id.ID) ([]inventory.Batch, error) {
	sql, args, err := r.builder.Select(batchColumns...).
		From(batchesTable).
		Where(squirrel.Eq{"product_id": productID}).
		OrderBy("expiry_date ASC NULLS LAST", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var batches []inventory.Batch
	if err := pgxscan.Select(ctx, r.querier(ctx), &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("select batches: %w", err)
	}
	return batches, nil
}

func (r *Repo) AddBatchQuantity(ctx context.Context, batchID id.ID, delta int64) error {
	tag, err := r.querier(ctx).Exec(ctx, `
		UPDATE batches
		SET quantity = quantity + $2
		WHERE id = $1 AND quantity + $2 >= 0
	`, batchID, delta)
	if err != nil {
		if postgres.IsCheckViolation(err) {
			return inventory.ErrNegativeStock
		}
		return fmt.Errorf("update batch quantity: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missingOrNegative(ctx, batchesTable, "batch", batchID)
}

// missingOrNegative explains a guarded UPDATE that matched no row.
func (r *Repo) missingOrNegative(ctx context.Context, table, entity string, rowID id.ID) error {
	var exists bool
	err := r.querier(ctx).QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+table+" WHERE id = $1)", rowID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check %s: %w", entity, err)
	}
	if !exists {
		return apperror.NewNotFound(entity, rowID.String())
	}
	return inventory.ErrNegativeStock
}

// --- Movements ---

func movementRow(m inventory.Movement) []any {
	return []any{m.ID, m.ProductID, m.BatchID, m.Type, m.Delta, m.SaleID, m.Actor, m.Reason, m.CreatedAt}
}

// CreateMovements uses COPY inside a transaction and a multi-row INSERT otherwise.
func (r *Repo) CreateMovements(ctx context.Context, movements []inventory.Movement) error {
	if len(movements) == 0 {
		return nil
	}

	if r.txm.GetTx(ctx) != nil {
		rows := make([][]any, 0, len(movements))
		for _, m := range movements {
			rows = append(rows, movementRow(m))
		}
		if _, err := r.inserter.CopyFromSlice(ctx, movementsTable, movementColumns, rows); err != nil {
			return fmt.Errorf("copy movements: %w", err)
		}
		return nil
	}

	q := r.builder.Insert(movementsTable).Columns(movementColumns...)
	for _, m := range movements {
		q = q.Values(movementRow(m)...)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert movements: %w", err)
	}
	return nil
}

func (r *Repo) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	q := r.builder.Select(movementColumns...).From(movementsTable)

	if filter.ProductID != nil {
		q = q.Where(squirrel.Eq{"product_id": *filter.ProductID})
	}
	if filter.SaleID != nil {
		q = q.Where(squirrel.Eq{"sale_id": *filter.SaleID})
	}
	if filter.Type != nil {
		q = q.Where(squirrel.Eq{"movement_type": *filter.Type})
	}
	if filter.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *filter.FromDate})
	}
	if filter.ToDate != nil {
		q = q.Where(squirrel.Lt{"created_at": *filter.ToDate})
	}

	q = q.OrderBy("created_at", "id")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var movements []inventory.Movement
	if err := pgxscan.Select(ctx, r.querier(ctx), &movements, sql, args...); err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	return movements, nil
}

func (r *Repo) SumMovements(ctx context.Context, productID id.ID) (int64, error) {
	var sum int64
	err := r.querier(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0)::BIGINT FROM stock_movements WHERE product_id = $1`, productID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum movements: %w", err)
	}
	return sum, nil
}
