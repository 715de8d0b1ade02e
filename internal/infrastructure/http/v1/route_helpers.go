package v1

import (
	"github.com/gin-gonic/gin"

	"pharmapos/internal/domain/auth"
	"pharmapos/internal/infrastructure/http/v1/handlers"
	"pharmapos/internal/infrastructure/http/v1/middleware"
)

// RegisterSalesRoutes wires the settlement API onto group.
func RegisterSalesRoutes(group *gin.RouterGroup, h *handlers.SalesHandler) {
	group.POST("", middleware.RequirePermission(auth.PermSalesWrite), h.Settle)
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.GET("/by-client-id/:clientTxId", h.GetByClientTxID)
}

// RegisterInventoryRoutes wires products and the stock ledger onto group.
// Writes require inventory:write.
func RegisterInventoryRoutes(group *gin.RouterGroup, h *handlers.InventoryHandler) {
	write := middleware.RequirePermission(auth.PermInventoryWrite)

	group.POST("", write, h.CreateProduct)
	group.GET("", h.ListProducts)
	group.GET("/:id/stock", h.Stock)
	group.POST("/:id/batches", write, h.ReceiveBatch)
	group.POST("/:id/adjustments", write, h.Adjust)
	group.GET("/:id/movements", h.Movements)
	group.GET("/:id/reconciliation", h.Reconcile)
}
