// Package app assembles the settlement services over the configured storage backend.
package app

import (
	"context"
	"fmt"

	"pharmapos/internal/config"
	"pharmapos/internal/core/numerator"
	"pharmapos/internal/domain/audit"
	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/domain/policy"
	"pharmapos/internal/domain/sales"
	"pharmapos/internal/infrastructure/http/v1/handlers"
	"pharmapos/internal/infrastructure/notify"
	"pharmapos/internal/infrastructure/storage/memory"
	"pharmapos/internal/infrastructure/storage/postgres"
	"pharmapos/internal/infrastructure/storage/postgres/inventory_repo"
	"pharmapos/internal/infrastructure/storage/postgres/sales_repo"
	"pharmapos/pkg/logger"
	pgnumerator "pharmapos/pkg/numerator"
)

// Options overrides parts of the assembled backend.
type Options struct {
	// Notifier receives post-commit events. Defaults to the transactional
	// outbox on postgres and to the log on memory.
	Notifier sales.Notifier
	Metrics  sales.Metrics
}

// Backend holds the wired services and what is needed to shut them down.
type Backend struct {
	Name      string
	Inventory *inventory.Service
	Sales     *sales.Service
	Checks    map[string]handlers.Pinger

	// Set on the postgres backend only.
	Pool      *postgres.Pool
	TxManager *postgres.TxManager
}

// Open connects to the configured backend and wires the services.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Backend, error) {
	pol, err := policy.NewDiscountPolicy(cfg.DiscountPolicy)
	if err != nil {
		return nil, fmt.Errorf("discount policy: %w", err)
	}
	salesOpts := sales.Options{
		SkipExpired:   cfg.FEFOSkipExpired,
		ReceiptConfig: numerator.DefaultConfig(cfg.ReceiptPrefix),
	}

	switch cfg.StorageBackend {
	case config.BackendMemory:
		return openMemory(cfg, opts, pol, salesOpts), nil
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, opts, pol, salesOpts)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

func openMemory(cfg *config.Config, opts Options, pol *policy.DiscountPolicy, salesOpts sales.Options) *Backend {
	store := memory.NewStore(cfg.LockTimeout)
	txm := memory.NewTxManager(store)
	guard := memory.NewGuard(store)
	recorder := memory.NewAuditRecorder(store)

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}

	inv := inventory.NewService(memory.NewInventoryRepo(store), txm, guard, recorder)
	svc := sales.NewService(sales.Deps{
		Repo:      memory.NewSalesRepo(store),
		Inventory: inv,
		TxManager: txm,
		Guard:     guard,
		Numerator: pgnumerator.NewMemory(),
		Policy:    pol,
		Audit:     recorder,
		Notifier:  notifier,
		Metrics:   opts.Metrics,
	}, salesOpts)

	logger.Info(context.Background(), "memory backend ready", "lock_timeout", cfg.LockTimeout)
	return &Backend{
		Name:      config.BackendMemory,
		Inventory: inv,
		Sales:     svc,
		Checks:    map[string]handlers.Pinger{"storage": store},
	}
}

func openPostgres(ctx context.Context, cfg *config.Config, opts Options, pol *policy.DiscountPolicy, salesOpts sales.Options) (*Backend, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	if cfg.DBAutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	txm := postgres.NewTxManager(pool).WithStatementTimeout(cfg.StatementTimeout)
	guard := postgres.NewGuard(txm, cfg.LockTimeout)

	var recorder audit.Recorder = audit.Nop{}
	if r, err := postgres.NewAuditRecorder(txm); err != nil {
		logger.Warn(ctx, "audit recorder disabled", "error", err)
	} else {
		recorder = r
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = postgres.NewOutboxNotifier(txm)
	}

	inv := inventory.NewService(inventory_repo.New(txm), txm, guard, recorder)
	svc := sales.NewService(sales.Deps{
		Repo:      sales_repo.New(txm),
		Inventory: inv,
		TxManager: txm,
		Guard:     guard,
		Numerator: pgnumerator.New(pool),
		Policy:    pol,
		Audit:     recorder,
		Notifier:  notifier,
		Metrics:   opts.Metrics,
	}, salesOpts)

	return &Backend{
		Name:      config.BackendPostgres,
		Inventory: inv,
		Sales:     svc,
		Checks:    map[string]handlers.Pinger{"postgres": pool},
		Pool:      pool,
		TxManager: txm,
	}, nil
}

// Close releases the database pool, if any.
func (b *Backend) Close() {
	if b.Pool != nil {
		b.Pool.Close()
	}
}
