// Package main is the entry point for the pharmapos background worker.
// It relays the transactional outbox to Redis, consumes the event queue,
// reconciles stock and exports pool metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pharmapos/internal/app"
	"pharmapos/internal/config"
	"pharmapos/internal/infrastructure/metrics"
	"pharmapos/internal/infrastructure/notify"
	"pharmapos/internal/infrastructure/storage/postgres"
	"pharmapos/pkg/logger"
)

const (
	outboxPollInterval = 500 * time.Millisecond
	maintenanceEvery   = time.Hour
	poolStatsEvery     = 15 * time.Second
	publishedRetention = 7 * 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
		Service:     "pharmapos-worker",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	if cfg.StorageBackend != config.BackendPostgres {
		log.Fatalw("worker requires the postgres backend", "backend", cfg.StorageBackend)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting pharmapos worker")

	m := metrics.New()
	backend, err := app.Open(ctx, cfg, app.Options{Metrics: m})
	if err != nil {
		log.Fatalw("failed to open storage backend", "error", err)
	}
	defer backend.Close()

	worker := NewWorker(cfg, backend, m, log)

	if cfg.RedisURL != "" {
		client, err := notify.Open(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer func() { _ = client.Close() }()

		pubCfg := notify.DefaultPublisherConfig()
		pubCfg.FailureThreshold = cfg.BreakerFailureThreshold
		pubCfg.OpenTimeout = cfg.BreakerOpenTimeout
		worker.publisher = notify.NewPublisher(client, pubCfg, m)
		worker.consumer = notify.NewConsumer(client, notify.ConsumerConfig{Workers: cfg.WorkerConcurrency})
	} else {
		log.Warn("REDIS_URL is empty: outbox events are only logged")
	}

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WorkerMetricsPort),
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics server failed", "error", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = metricsServer.Shutdown(shutdownCtx)

	log.Info("worker stopped")
}

// Worker runs the background loops against one database.
type Worker struct {
	cfg       *config.Config
	backend   *app.Backend
	metrics   *metrics.Metrics
	log       *logger.Logger
	relay     *postgres.OutboxRelay
	publisher *notify.Publisher
	consumer  *notify.Consumer
}

func NewWorker(cfg *config.Config, backend *app.Backend, m *metrics.Metrics, log *logger.Logger) *Worker {
	w := &Worker{
		cfg:     cfg,
		backend: backend,
		metrics: m,
		log:     log.WithComponent("worker"),
	}
	w.relay = postgres.NewOutboxRelay(backend.TxManager, 100, postgres.OutboxHandlerFunc(w.deliver))
	return w
}

// Run starts every loop and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []func(context.Context){w.runOutbox, w.runMaintenance, w.runReconcile, w.runPoolStats}
	if w.consumer != nil {
		w.consumer.Handle(notify.EventSaleCompleted, w.onSaleCompleted)
		w.consumer.Handle(notify.EventLowStock, w.onLowStock)
		loops = append(loops, w.runConsumer)
	}

	for _, loop := range loops {
		wg.Add(1)
		go func(loop func(context.Context)) {
			defer wg.Done()
			loop(ctx)
		}(loop)
	}
	wg.Wait()
}

// deliver hands one outbox message to Redis, or to the log without it.
func (w *Worker) deliver(ctx context.Context, msg *postgres.OutboxMessage) error {
	e, err := msg.Event()
	if err != nil {
		return err
	}
	if w.publisher == nil {
		w.log.Infow("outbox event", "event_type", e.Type, "aggregate_id", e.AggregateID)
		return nil
	}
	return w.publisher.Publish(ctx, e)
}

func (w *Worker) runOutbox(ctx context.Context) {
	ticker := time.NewTicker(outboxPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, err := w.relay.ProcessBatch(ctx)
				if err != nil {
					if ctx.Err() == nil {
						w.log.Errorw("outbox batch failed", "error", err)
					}
					break
				}
				if n > 0 {
					w.log.Debugw("relayed outbox batch", "count", n)
				}
				if n == 0 {
					break
				}
			}
		}
	}
}

func (w *Worker) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(maintenanceEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.relay.MoveToDLQ(ctx); err != nil {
				w.log.Errorw("outbox dlq move failed", "error", err)
			} else if n > 0 {
				w.log.Warnw("moved failed outbox messages to dlq", "count", n)
			}
			if n, err := w.relay.PurgePublished(ctx, publishedRetention); err != nil {
				w.log.Errorw("outbox purge failed", "error", err)
			} else if n > 0 {
				w.log.Infow("purged published outbox messages", "count", n)
			}
		}
	}
}

func (w *Worker) runReconcile(ctx context.Context) {
	if w.cfg.ReconcileInterval <= 0 {
		return
	}
	ticker := time.NewTicker(w.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			broken, err := w.backend.Inventory.ReconcileAll(ctx)
			if err != nil {
				w.log.Errorw("reconciliation failed", "error", err)
				continue
			}
			for _, r := range broken {
				w.log.Errorw("stock ledger inconsistent",
					"product_id", r.ProductID,
					"aggregate", r.Aggregate,
					"batch_total", r.BatchTotal,
					"movement_total", r.MovementTotal,
				)
			}
			w.log.Infow("reconciliation finished", "inconsistent", len(broken))
		}
	}
}

func (w *Worker) runPoolStats(ctx context.Context) {
	ticker := time.NewTicker(poolStatsEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := w.backend.Pool.Stats()
			w.metrics.SetPoolConnections(s.TotalConns, s.IdleConns, s.AcquiredConns)
		}
	}
}

func (w *Worker) runConsumer(ctx context.Context) {
	if err := w.consumer.Run(ctx); err != nil && ctx.Err() == nil {
		w.log.Errorw("event consumer stopped", "error", err)
	}
}

func (w *Worker) onSaleCompleted(ctx context.Context, e notify.Event) error {
	var p notify.SaleCompletedPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return err
	}
	w.log.WithContext(ctx).Infow("sale completed",
		"sale_id", p.SaleID,
		"receipt_number", p.ReceiptNumber,
		"cashier_id", p.CashierID,
		"total", p.Total,
		"lines", p.Lines,
	)
	return nil
}

func (w *Worker) onLowStock(ctx context.Context, e notify.Event) error {
	var p notify.LowStockPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return err
	}
	w.log.WithContext(ctx).Warnw("stock below reorder level",
		"product_id", p.ProductID,
		"sku", p.SKU,
		"quantity", p.Quantity,
		"reorder_level", p.ReorderLevel,
	)
	return nil
}
