package handlers

import (
	"github.com/gin-gonic/gin"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/infrastructure/http/v1/dto"
)

// InventoryHandler serves products, batches and the stock ledger.
type InventoryHandler struct {
	*BaseHandler
	service *inventory.Service
}

// NewInventoryHandler creates an inventory handler.
func NewInventoryHandler(base *BaseHandler, service *inventory.Service) *InventoryHandler {
	return &InventoryHandler{BaseHandler: base, service: service}
}

// CreateProduct handles POST /products.
func (h *InventoryHandler) CreateProduct(c *gin.Context) {
	var req dto.CreateProductRequest
	if !h.BindJSON(c, &req) {
		return
	}
	p, err := h.service.CreateProduct(c.Request.Context(), req.ToDomain())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromProduct(*p))
}

// ListProducts handles GET /products.
func (h *InventoryHandler) ListProducts(c *gin.Context) {
	var q dto.ListProductsRequest
	if !h.BindQuery(c, &q) {
		return
	}
	filter := q.ToFilter()
	products, err := h.service.ListProducts(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	out := make([]dto.ProductResponse, 0, len(products))
	for _, p := range products {
		out = append(out, dto.FromProduct(p))
	}
	h.OK(c, dto.ListResponse[dto.ProductResponse]{Items: out, Limit: filter.Limit, Offset: filter.Offset})
}

// Stock handles GET /products/:id/stock.
func (h *InventoryHandler) Stock(c *gin.Context) {
	productID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	a, err := h.service.GetAvailable(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromAvailability(a))
}

// ReceiveBatch handles POST /products/:id/batches.
func (h *InventoryHandler) ReceiveBatch(c *gin.Context) {
	productID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.ReceiveBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}
	b, m, err := h.service.ReceiveBatch(c.Request.Context(), req.ToDomain(productID, h.Actor(c)))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.ReceiveBatchResponse{Batch: dto.FromBatch(*b), Movement: dto.FromMovement(*m)})
}

// Adjust handles POST /products/:id/adjustments.
func (h *InventoryHandler) Adjust(c *gin.Context) {
	productID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.AdjustStockRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in, err := req.ToDomain(productID, h.Actor(c))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid batchId").WithCause(err))
		return
	}
	m, err := h.service.Adjust(c.Request.Context(), in)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromMovement(*m))
}

// Movements handles GET /products/:id/movements.
func (h *InventoryHandler) Movements(c *gin.Context) {
	productID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var q dto.ListMovementsRequest
	if !h.BindQuery(c, &q) {
		return
	}
	filter := q.ToFilter(productID)
	ms, err := h.service.ListMovements(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ListResponse[dto.MovementResponse]{Items: dto.FromMovements(ms), Limit: filter.Limit, Offset: filter.Offset})
}

// Reconcile handles GET /products/:id/reconciliation.
func (h *InventoryHandler) Reconcile(c *gin.Context) {
	productID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	r, err := h.service.Reconcile(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, r)
}
