package v1_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "pharmapos/internal/core/context"
	"pharmapos/internal/domain/auth"
	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/domain/sales"
	v1 "pharmapos/internal/infrastructure/http/v1"
	"pharmapos/internal/infrastructure/http/v1/handlers"
	"pharmapos/internal/infrastructure/metrics"
	"pharmapos/internal/infrastructure/storage/memory"
	"pharmapos/pkg/logger"
	"pharmapos/pkg/numerator"
)

type api struct {
	router *gin.Engine
	jwt    *auth.JWTService
}

func newAPI(t *testing.T, withAuth bool) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore(time.Second)
	txm := memory.NewTxManager(store)
	guard := memory.NewGuard(store)
	recorder := memory.NewAuditRecorder(store)
	inv := inventory.NewService(memory.NewInventoryRepo(store), txm, guard, recorder)
	svc := sales.NewService(sales.Deps{
		Repo:      memory.NewSalesRepo(store),
		Inventory: inv,
		TxManager: txm,
		Guard:     guard,
		Numerator: numerator.NewMemory(),
		Audit:     recorder,
	}, sales.Options{})

	cfg := v1.RouterConfig{
		Logger:       logger.NewNop(),
		Sales:        svc,
		Inventory:    inv,
		HealthChecks: map[string]handlers.Pinger{"storage": store},
		Version:      "test",
		Metrics:      metrics.New(),
	}
	a := &api{}
	if withAuth {
		a.jwt = auth.NewJWTService(auth.DefaultJWTConfig("test-secret"))
		cfg.JWTValidator = a.jwt
	}

	router, err := v1.NewRouter(cfg)
	require.NoError(t, err)
	a.router = router
	return a
}

func (a *api) token(t *testing.T, user appctx.UserContext) string {
	t.Helper()
	tok, _, err := a.jwt.GenerateAccessToken(user)
	require.NoError(t, err)
	return tok
}

func (a *api) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seedProduct creates a product with one batch of qty units at 10.00.
func (a *api) seedProduct(t *testing.T, token, sku string, qty int64) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/products", token, map[string]any{
		"name": "Product " + sku, "sku": sku, "unitPrice": "10.00", "reorderLevel": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	productID := decode[map[string]any](t, rec)["id"].(string)

	rec = a.do(t, http.MethodPost, "/api/v1/products/"+productID+"/batches", token, map[string]any{
		"batchNumber": "B-" + sku, "quantity": qty, "expiryDate": "2027-01-31T00:00:00Z", "unitCost": "4.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return productID
}

func saleBody(clientTxID, productID string, qty int64) map[string]any {
	return map[string]any{
		"clientTransactionId":    clientTxID,
		"overallDiscountPercent": "12.5",
		"lines":                  []map[string]any{{"productId": productID, "quantity": qty}},
	}
}

func TestSettle_CreatedThenReplayed(t *testing.T) {
	a := newAPI(t, false)
	productID := a.seedProduct(t, "", "PARA-500", 10)

	first := a.do(t, http.MethodPost, "/api/v1/sales", "", saleBody("pos-1-0001", productID, 4))
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get(handlers.HeaderReplayed))

	body := decode[map[string]any](t, first)
	sale := body["sale"].(map[string]any)
	assert.Equal(t, "40", sale["subtotal"])
	assert.Equal(t, "5", sale["discount"])
	assert.Equal(t, "35", sale["total"])
	assert.Len(t, body["movements"], 1)

	second := a.do(t, http.MethodPost, "/api/v1/sales", "", saleBody("pos-1-0001", productID, 4))
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(handlers.HeaderReplayed))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	stock := decode[map[string]any](t, a.do(t, http.MethodGet, "/api/v1/products/"+productID+"/stock", "", nil))
	assert.EqualValues(t, 6, stock["aggregate"])
}

func TestSettle_InsufficientStock(t *testing.T) {
	a := newAPI(t, false)
	productID := a.seedProduct(t, "", "AMOX-250", 3)

	rec := a.do(t, http.MethodPost, "/api/v1/sales", "", saleBody("pos-1-0002", productID, 5))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "INSUFFICIENT_STOCK", body["code"])
	details := body["details"].(map[string]any)
	assert.EqualValues(t, 5, details["requested"])
	assert.EqualValues(t, 3, details["available"])
}

func TestSettle_InvalidBody(t *testing.T) {
	a := newAPI(t, false)

	rec := a.do(t, http.MethodPost, "/api/v1/sales", "", map[string]any{
		"clientTransactionId":    "pos-1-0003",
		"overallDiscountPercent": "150",
		"lines":                  []map[string]any{{"productId": "0190f2a0-0000-7000-8000-000000000001", "quantity": 1}},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettle_ExtremeAmounts(t *testing.T) {
	a := newAPI(t, false)
	productID := a.seedProduct(t, "", "ASP-100", 10)

	huge := saleBody("pos-4-0001", productID, 1)
	huge["manualDiscount"] = "92233720368547758.07"
	rec := a.do(t, http.MethodPost, "/api/v1/sales", "", huge)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	pricey := saleBody("pos-4-0002", productID, 1)
	pricey["lines"] = []map[string]any{{"productId": productID, "quantity": 1, "unitPrice": "1e20"}}
	rec = a.do(t, http.MethodPost, "/api/v1/sales", "", pricey)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	generous := saleBody("pos-4-0003", productID, 2)
	generous["manualDiscount"] = "1000"
	rec = a.do(t, http.MethodPost, "/api/v1/sales", "", generous)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decode[map[string]any](t, rec)["sale"].(map[string]any)
	assert.Equal(t, "20", sale["subtotal"])
	assert.Equal(t, "20", sale["discount"])
	assert.Equal(t, "0", sale["total"])
}

func TestSales_GetAndList(t *testing.T) {
	a := newAPI(t, false)
	productID := a.seedProduct(t, "", "IBU-200", 10)

	for i := 1; i <= 3; i++ {
		rec := a.do(t, http.MethodPost, "/api/v1/sales", "", saleBody(fmt.Sprintf("pos-2-%04d", i), productID, 1))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	list := decode[map[string]any](t, a.do(t, http.MethodGet, "/api/v1/sales?limit=2", "", nil))
	items := list["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "pos-2-0003", items[0].(map[string]any)["clientTransactionId"])

	rec := a.do(t, http.MethodGet, "/api/v1/sales/by-client-id/pos-2-0001", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	saleID := decode[map[string]any](t, rec)["sale"].(map[string]any)["id"].(string)

	rec = a.do(t, http.MethodGet, "/api/v1/sales/"+saleID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/v1/sales/by-client-id/nope", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/api/v1/sales/not-a-uuid", "", nil).Code)
}

func TestAuth_PermissionsAndCashierIdentity(t *testing.T) {
	a := newAPI(t, true)
	admin := a.token(t, appctx.UserContext{UserID: "admin-1", IsAdmin: true})
	cashier := a.token(t, appctx.UserContext{UserID: "cashier-7", Name: "Ada", Permissions: []string{auth.PermSalesWrite}})

	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/api/v1/products", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/api/v1/products", "garbage", nil).Code)

	rec := a.do(t, http.MethodPost, "/api/v1/products", cashier, map[string]any{"name": "X", "sku": "X-1", "unitPrice": "1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	productID := a.seedProduct(t, admin, "CET-10", 5)

	rec = a.do(t, http.MethodPost, "/api/v1/sales", cashier, saleBody("pos-3-0001", productID, 1))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cashierOut := decode[map[string]any](t, rec)["sale"].(map[string]any)["cashier"].(map[string]any)
	assert.Equal(t, "cashier-7", cashierOut["id"])
	assert.Equal(t, "Ada", cashierOut["name"])
}

func TestInventory_AdjustAndReconcile(t *testing.T) {
	a := newAPI(t, false)
	productID := a.seedProduct(t, "", "ORS-1", 5)

	stock := decode[map[string]any](t, a.do(t, http.MethodGet, "/api/v1/products/"+productID+"/stock", "", nil))
	batchID := stock["batches"].([]any)[0].(map[string]any)["id"].(string)

	rec := a.do(t, http.MethodPost, "/api/v1/products/"+productID+"/adjustments", "", map[string]any{
		"batchId": batchID, "delta": -2, "reason": "damaged",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	movements := decode[map[string]any](t, a.do(t, http.MethodGet, "/api/v1/products/"+productID+"/movements", "", nil))
	assert.Len(t, movements["items"], 2)

	rec = a.do(t, http.MethodGet, "/api/v1/products/"+productID+"/reconciliation", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recon := decode[map[string]any](t, rec)
	assert.Equal(t, true, recon["consistent"])
	assert.EqualValues(t, 3, recon["aggregate"])
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t, false)

	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/health/ready", "", nil).Code)

	rec := a.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pharmapos_http_requests_in_flight")
}
