package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/domain/sales"
	"pharmapos/internal/infrastructure/http/v1/dto"
)

// HeaderReplayed marks a response served from an earlier settlement.
const HeaderReplayed = "Idempotent-Replayed"

// SalesHandler serves the settlement API.
type SalesHandler struct {
	*BaseHandler
	service *sales.Service
}

// NewSalesHandler creates a sales handler.
func NewSalesHandler(base *BaseHandler, service *sales.Service) *SalesHandler {
	return &SalesHandler{BaseHandler: base, service: service}
}

// Settle handles POST /sales.
// 201 for a new sale; 200 with Idempotent-Replayed: true and the original
// body when the client transaction id was already settled.
func (h *SalesHandler) Settle(c *gin.Context) {
	var req dto.SettleSaleRequest
	if !h.BindJSON(c, &req) {
		return
	}

	in, err := req.ToDomain(h.User(c))
	if err != nil {
		h.Error(c, apperror.NewInvalidCart("invalid product id").WithCause(err))
		return
	}

	result, err := h.service.Settle(c.Request.Context(), in)
	if err != nil {
		h.Error(c, err)
		return
	}

	resp := dto.FromResult(result)
	if result.Replayed {
		c.Header(HeaderReplayed, "true")
		h.OK(c, resp)
		return
	}
	c.Header("Location", "/api/v1/sales/"+result.Sale.ID.String())
	h.Created(c, resp)
}

// Get handles GET /sales/:id.
func (h *SalesHandler) Get(c *gin.Context) {
	saleID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	result, err := h.service.Get(c.Request.Context(), saleID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromResult(result))
}

// GetByClientTxID handles GET /sales/by-client-id/:clientTxId.
func (h *SalesHandler) GetByClientTxID(c *gin.Context) {
	result, err := h.service.GetByClientTxID(c.Request.Context(), c.Param("clientTxId"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromResult(result))
}

// List handles GET /sales.
func (h *SalesHandler) List(c *gin.Context) {
	var q dto.ListSalesRequest
	if !h.BindQuery(c, &q) {
		return
	}
	filter := q.ToFilter()
	items, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	out := make([]dto.SaleResponse, 0, len(items))
	for i := range items {
		out = append(out, dto.FromSale(&items[i]))
	}
	c.JSON(http.StatusOK, dto.ListResponse[dto.SaleResponse]{Items: out, Limit: filter.Limit, Offset: filter.Offset})
}
