// Package sales_repo provides the PostgreSQL implementation of sales.Repository.
package sales_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/sales"
	"pharmapos/internal/infrastructure/storage/postgres"
)

const (
	salesTable = "sales"
	itemsTable = "sale_items"

	clientTxIDKey = "sales_client_transaction_id_key"
)

// saleRow is the flat shape of the sales table.
type saleRow struct {
	ID                  id.ID            `db:"id"`
	ClientTransactionID string           `db:"client_transaction_id"`
	ReceiptNumber       string           `db:"receipt_number"`
	CreatedAt           time.Time        `db:"created_at"`
	CashierID           string           `db:"cashier_id"`
	CashierName         string           `db:"cashier_name"`
	CashierEmail        string           `db:"cashier_email"`
	CustomerName        string           `db:"customer_name"`
	CustomerPhone       string           `db:"customer_phone"`
	BusinessName        string           `db:"business_name"`
	BusinessAddress     string           `db:"business_address"`
	SaleType            sales.Type       `db:"sale_type"`
	Subtotal            types.MinorUnits `db:"subtotal"`
	Discount            types.MinorUnits `db:"discount"`
	Total               types.MinorUnits `db:"total"`
	Status              sales.Status     `db:"status"`
}

var (
	saleColumns = postgres.ExtractDBColumns[saleRow]()
	itemColumns = postgres.ExtractDBColumns[sales.Item]()
)

func fromSale(s *sales.Sale) saleRow {
	return saleRow{
		ID:                  s.ID,
		ClientTransactionID: s.ClientTransactionID,
		ReceiptNumber:       s.ReceiptNumber,
		CreatedAt:           s.CreatedAt,
		CashierID:           s.Cashier.ID,
		CashierName:         s.Cashier.Name,
		CashierEmail:        s.Cashier.Email,
		CustomerName:        s.Customer.Name,
		CustomerPhone:       s.Customer.Phone,
		BusinessName:        s.Customer.BusinessName,
		BusinessAddress:     s.Customer.BusinessAddress,
		SaleType:            s.SaleType,
		Subtotal:            s.Subtotal,
		Discount:            s.Discount,
		Total:               s.Total,
		Status:              s.Status,
	}
}

func (r saleRow) toSale() sales.Sale {
	return sales.Sale{
		ID:                  r.ID,
		ClientTransactionID: r.ClientTransactionID,
		ReceiptNumber:       r.ReceiptNumber,
		CreatedAt:           r.CreatedAt.UTC(),
		Cashier:             sales.Cashier{ID: r.CashierID, Name: r.CashierName, Email: r.CashierEmail},
		Customer: sales.Customer{
			Name:            r.CustomerName,
			Phone:           r.CustomerPhone,
			BusinessName:    r.BusinessName,
			BusinessAddress: r.BusinessAddress,
		},
		SaleType: r.SaleType,
		Subtotal: r.Subtotal,
		Discount: r.Discount,
		Total:    r.Total,
		Status:   r.Status,
	}
}

// Repo implements sales.Repository.
type Repo struct {
	txm      *postgres.TxManager
	inserter *postgres.BatchInserter
	builder  squirrel.StatementBuilderType
}

var _ sales.Repository = (*Repo)(nil)

// New creates the sales repository.
func New(txm *postgres.TxManager) *Repo {
	return &Repo{
		txm:      txm,
		inserter: postgres.NewBatchInserter(txm),
		builder:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts the sale header and copies its items. Must run in a transaction.
func (r *Repo) Create(ctx context.Context, sale *sales.Sale) error {
	if r.txm.GetTx(ctx) == nil {
		return fmt.Errorf("create sale requires transaction context")
	}

	sql, args, err := r.builder.Insert(salesTable).SetMap(postgres.StructToMap(fromSale(sale))).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		if postgres.IsUniqueViolation(err, clientTxIDKey) {
			return apperror.NewDuplicate("sale", "client_transaction_id", sale.ClientTransactionID).WithCause(err)
		}
		return fmt.Errorf("insert sale: %w", err)
	}

	rows := make([][]any, 0, len(sale.Items))
	for _, it := range sale.Items {
		rows = append(rows, postgres.RowValues(it, itemColumns))
	}
	if _, err := r.inserter.CopyFromSlice(ctx, itemsTable, itemColumns, rows); err != nil {
		return fmt.Errorf("copy sale items: %w", err)
	}
	return nil
}

func (r *Repo) GetByID(ctx context.Context, saleID id.ID) (*sales.Sale, error) {
	return r.getOne(ctx, squirrel.Eq{"id": saleID})
}

func (r *Repo) GetByClientTxID(ctx context.Context, clientTxID string) (*sales.Sale, error) {
	return r.getOne(ctx, squirrel.Eq{"client_transaction_id": clientTxID})
}

func (r *Repo) getOne(ctx context.Context, where squirrel.Eq) (*sales.Sale, error) {
	sql, args, err := r.builder.Select(saleColumns...).From(salesTable).Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row saleRow
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sale: %w", err)
	}

	sale := row.toSale()
	items, err := r.items(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func (r *Repo) items(ctx context.Context, saleID id.ID) ([]sales.Item, error) {
	sql, args, err := r.builder.Select(itemColumns...).
		From(itemsTable).
		Where(squirrel.Eq{"sale_id": saleID}).
		OrderBy("line_no").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var items []sales.Item
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("select sale items: %w", err)
	}
	return items, nil
}

func (r *Repo) List(ctx context.Context, filter sales.ListFilter) ([]sales.Sale, error) {
	q := r.builder.Select(saleColumns...).From(salesTable)

	if filter.CashierID != "" {
		q = q.Where(squirrel.Eq{"cashier_id": filter.CashierID})
	}
	if filter.SaleType != nil {
		q = q.Where(squirrel.Eq{"sale_type": *filter.SaleType})
	}
	if filter.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *filter.FromDate})
	}
	if filter.ToDate != nil {
		q = q.Where(squirrel.Lt{"created_at": *filter.ToDate})
	}

	q = q.OrderBy("created_at DESC", "id DESC")
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

	var rows []saleRow
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select sales: %w", err)
	}

	out := make([]sales.Sale, len(rows))
	for i, row := range rows {
		out[i] = row.toSale()
	}
	return out, nil
}
