//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/audit"
	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/domain/sales"
	"pharmapos/internal/infrastructure/notify"
	"pharmapos/internal/infrastructure/storage/postgres"
	"pharmapos/internal/infrastructure/storage/postgres/inventory_repo"
	"pharmapos/internal/infrastructure/storage/postgres/sales_repo"
	"pharmapos/pkg/numerator"
)

var testPool *postgres.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("pharmapos"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres container: %v\n", err)
		os.Exit(1)
	}

	code := func() int {
		defer func() { _ = testcontainers.TerminateContainer(ctr) }()

		dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Fprintf(os.Stderr, "connection string: %v\n", err)
			return 1
		}
		testPool, err = postgres.NewPool(ctx, postgres.DefaultPoolConfig(dsn))
		if err != nil {
			fmt.Fprintf(os.Stderr, "open pool: %v\n", err)
			return 1
		}
		defer testPool.Close()

		if err := postgres.Migrate(ctx, testPool); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			return 1
		}
		return m.Run()
	}()
	os.Exit(code)
}

type pgEnv struct {
	txm       *postgres.TxManager
	recorder  *postgres.AuditRecorder
	inventory *inventory.Service
	sales     *sales.Service
}

func newPGEnv(t *testing.T, notifier sales.Notifier) *pgEnv {
	t.Helper()
	txm := postgres.NewTxManager(testPool).WithStatementTimeout(5 * time.Second)
	guard := postgres.NewGuard(txm, 2*time.Second)
	recorder, err := postgres.NewAuditRecorder(txm)
	require.NoError(t, err)

	inv := inventory.NewService(inventory_repo.New(txm), txm, guard, recorder)
	svc := sales.NewService(sales.Deps{
		Repo:      sales_repo.New(txm),
		Inventory: inv,
		TxManager: txm,
		Guard:     guard,
		Numerator: numerator.New(testPool),
		Audit:     recorder,
		Notifier:  notifier,
	}, sales.Options{})

	return &pgEnv{txm: txm, recorder: recorder, inventory: inv, sales: svc}
}

func (e *pgEnv) product(t *testing.T, reorder int64, batches ...int64) *inventory.Product {
	t.Helper()
	ctx := context.Background()
	p, err := e.inventory.CreateProduct(ctx, inventory.NewProduct{
		Name:         "Amoxicillin 500mg",
		SKU:          "SKU-" + id.New().String(),
		UnitPrice:    1250,
		ReorderLevel: reorder,
	})
	require.NoError(t, err)

	for i, qty := range batches {
		exp := time.Date(2027, time.Month(i+1), 1, 0, 0, 0, 0, time.UTC)
		_, _, err := e.inventory.ReceiveBatch(ctx, inventory.ReceiveBatchInput{
			ProductID:   p.ID,
			BatchNumber: fmt.Sprintf("LOT-%d", i+1),
			ExpiryDate:  &exp,
			Quantity:    qty,
			Actor:       "receiver",
		})
		require.NoError(t, err)
	}
	return p
}

func settleReq(clientTxID string, productID id.ID, qty int64) sales.Request {
	return sales.Request{
		ClientTransactionID: clientTxID,
		Lines:               []sales.Line{{ProductID: productID, Quantity: qty}},
		Cashier:             sales.Cashier{ID: "cashier-1", Name: "Dana"},
	}
}

func TestPostgres_SettleFEFOAndReconcile(t *testing.T) {
	e := newPGEnv(t, nil)
	ctx := context.Background()
	p := e.product(t, 0, 3, 10)
	txID := "pg-" + id.New().String()

	res, err := e.sales.Settle(ctx, settleReq(txID, p.ID, 5))
	require.NoError(t, err)
	require.Len(t, res.Movements, 2)
	assert.Equal(t, int64(-3), res.Movements[0].Delta)
	assert.Equal(t, int64(-2), res.Movements[1].Delta)
	assert.Equal(t, int64(6250), int64(res.Sale.Total))
	assert.True(t, strings.HasPrefix(res.Sale.ReceiptNumber, "RCP-"), res.Sale.ReceiptNumber)

	avail, err := e.inventory.GetAvailable(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), avail.Aggregate)

	stored, err := e.sales.GetByClientTxID(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, res.Sale.ID, stored.Sale.ID)
	require.Len(t, stored.Sale.Items, 1)
	assert.Equal(t, int64(5), stored.Sale.Items[0].Quantity)

	rec, err := e.inventory.Reconcile(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent, "%+v", rec)
}

func TestPostgres_DuplicateClientTxIDReplays(t *testing.T) {
	e := newPGEnv(t, nil)
	ctx := context.Background()
	p := e.product(t, 0, 20)
	txID := "pg-" + id.New().String()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		saleIDs = map[id.ID]int{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.sales.Settle(ctx, settleReq(txID, p.ID, 2))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			saleIDs[res.Sale.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, saleIDs, 1)
	avail, err := e.inventory.GetAvailable(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(18), avail.Aggregate)
}

func TestPostgres_NoOversell(t *testing.T) {
	e := newPGEnv(t, nil)
	ctx := context.Background()
	p := e.product(t, 0, 4, 3)

	const buyers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.sales.Settle(ctx, settleReq(fmt.Sprintf("pg-buyer-%s-%d", p.ID, i), p.ID, 1))
			if err != nil {
				assert.True(t, apperror.IsInsufficientStock(err) || apperror.IsRetryable(err), "unexpected: %v", err)
				return
			}
			mu.Lock()
			committed++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, committed, 7)
	avail, err := e.inventory.GetAvailable(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7-committed), avail.Aggregate)
	for _, b := range avail.Batches {
		assert.GreaterOrEqual(t, b.Quantity, int64(0))
	}

	rec, err := e.inventory.Reconcile(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent, "%+v", rec)
}

func TestPostgres_InsufficientStockLeavesNoTrace(t *testing.T) {
	e := newPGEnv(t, nil)
	ctx := context.Background()
	p := e.product(t, 0, 2)
	txID := "pg-" + id.New().String()

	_, err := e.sales.Settle(ctx, settleReq(txID, p.ID, 3))
	require.True(t, apperror.IsInsufficientStock(err), "%v", err)

	_, err = e.sales.GetByClientTxID(ctx, txID)
	assert.True(t, apperror.IsNotFound(err))

	movements, err := e.inventory.ListMovements(ctx, inventory.MovementFilter{ProductID: &p.ID})
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestPostgres_AuditCompression(t *testing.T) {
	e := newPGEnv(t, nil)
	ctx := context.Background()
	entityID := id.New()
	big := strings.Repeat("aspirin ", 4096)

	err := e.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return e.recorder.Record(ctx, audit.Entry{
			EntityType: "product",
			EntityID:   entityID,
			Action:     audit.ActionStockAdjusted,
			Actor:      "auditor",
			Payload:    map[string]string{"note": big},
		})
	})
	require.NoError(t, err)

	history, err := e.recorder.History(ctx, "product", entityID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, postgres.CompressionZstd, history[0].CompressionAlgo)
	assert.Contains(t, string(history[0].Changes), "aspirin aspirin")
}

func TestPostgres_OutboxRelay(t *testing.T) {
	txm := postgres.NewTxManager(testPool)
	e := newPGEnv(t, postgres.NewOutboxNotifier(txm))
	ctx := context.Background()
	p := e.product(t, 5, 6)

	res, err := e.sales.Settle(ctx, settleReq("pg-"+id.New().String(), p.ID, 2))
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		events = map[string][]id.ID{}
	)
	relay := postgres.NewOutboxRelay(txm, 100, postgres.OutboxHandlerFunc(func(_ context.Context, msg *postgres.OutboxMessage) error {
		ev, err := msg.Event()
		if err != nil {
			return err
		}
		mu.Lock()
		events[ev.Type] = append(events[ev.Type], ev.AggregateID)
		mu.Unlock()
		return nil
	}))

	for {
		n, err := relay.ProcessBatch(ctx)
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}

	assert.Contains(t, events[notify.EventSaleCompleted], res.Sale.ID)
	assert.Contains(t, events[notify.EventLowStock], p.ID)
}
