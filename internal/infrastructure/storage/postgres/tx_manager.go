package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pharmapos/internal/core/tx"
	"pharmapos/pkg/logger"
)

var tracer = otel.Tracer("pharmapos/postgres")

var _ tx.ReadOnlyManager = (*TxManager)(nil)

// TxOptions configures one transaction.
type TxOptions struct {
	IsolationLevel pgx.TxIsoLevel
	AccessMode     pgx.TxAccessMode

	// StatementTimeout bounds every statement of the transaction. Zero disables it.
	StatementTimeout time.Duration
}

// Querier is what repositories run SQL against: the active transaction or the pool.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxManager runs functions inside a transaction carried by the context.
// Settlement writes use READ COMMITTED and rely on row and advisory locks;
// reconciliation reads use a REPEATABLE READ snapshot so batch totals and
// movement sums are taken from the same point in time.
type TxManager struct {
	pool      *pgxpool.Pool
	readWrite TxOptions
	readOnly  TxOptions
}

// NewTxManager creates a transaction manager over pool.
func NewTxManager(pool *Pool) *TxManager {
	return &TxManager{
		pool: pool.Pool,
		readWrite: TxOptions{
			IsolationLevel:   pgx.ReadCommitted,
			AccessMode:       pgx.ReadWrite,
			StatementTimeout: 30 * time.Second,
		},
		readOnly: TxOptions{
			IsolationLevel:   pgx.RepeatableRead,
			AccessMode:       pgx.ReadOnly,
			StatementTimeout: 30 * time.Second,
		},
	}
}

// WithStatementTimeout sets the statement timeout of new transactions.
func (m *TxManager) WithStatementTimeout(d time.Duration) *TxManager {
	m.readWrite.StatementTimeout = d
	m.readOnly.StatementTimeout = d
	return m
}

type txKey struct{}

// Tx is the transaction stored in the context.
type Tx struct {
	pgx.Tx
	readOnly bool
}

// RunInTransaction implements tx.Manager. A call inside an active
// transaction joins it; the outermost call commits.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.run(ctx, m.readWrite, fn)
}

// ReadOnly implements tx.ReadOnlyManager.
func (m *TxManager) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.run(ctx, m.readOnly, fn)
}

func (m *TxManager) run(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) error {
	if existing := m.GetTx(ctx); existing != nil {
		if existing.readOnly && opts.AccessMode == pgx.ReadWrite {
			return errors.New("read-write transaction requested inside a read-only one")
		}
		return fn(ctx)
	}

	ctx, span := tracer.Start(ctx, "postgres.transaction", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("tx.isolation", string(opts.IsolationLevel)),
		attribute.String("tx.access_mode", string(opts.AccessMode)),
	))
	defer span.End()

	err := m.begin(ctx, opts, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (m *TxManager) begin(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) (err error) {
	pgtx, err := m.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   opts.IsolationLevel,
		AccessMode: opts.AccessMode,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Rollback on a fresh context: ctx may already be cancelled.
		if rbErr := pgtx.Rollback(context.Background()); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logger.Error(ctx, "rollback failed", "error", rbErr, "cause", err)
		}
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	if opts.StatementTimeout > 0 {
		timeout := fmt.Sprintf("%dms", opts.StatementTimeout.Milliseconds())
		if _, err = pgtx.Exec(ctx, "SELECT set_config('statement_timeout', $1, true)", timeout); err != nil {
			return fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	txCtx := context.WithValue(ctx, txKey{}, &Tx{Tx: pgtx, readOnly: opts.AccessMode == pgx.ReadOnly})
	if err = fn(txCtx); err != nil {
		return err
	}

	if err = pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// GetTx returns the transaction in ctx, or nil.
func (m *TxManager) GetTx(ctx context.Context) *Tx {
	if t, ok := ctx.Value(txKey{}).(*Tx); ok {
		return t
	}
	return nil
}

// GetQuerier returns the transaction in ctx, falling back to the pool.
func (m *TxManager) GetQuerier(ctx context.Context) Querier {
	if t := m.GetTx(ctx); t != nil {
		return t.Tx
	}
	return m.pool
}
