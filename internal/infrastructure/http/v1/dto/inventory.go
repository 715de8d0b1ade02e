package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/inventory"
)

// CreateProductRequest is the body of POST /products.
type CreateProductRequest struct {
	Name           string           `json:"name" binding:"required,max=200"`
	SKU            string           `json:"sku" binding:"required,max=64"`
	Category       string           `json:"category" binding:"max=100"`
	Unit           string           `json:"unit" binding:"max=32"`
	UnitPrice      decimal.Decimal  `json:"unitPrice" binding:"amount"`
	WholesalePrice *decimal.Decimal `json:"wholesalePrice" binding:"omitempty,amount"`
	ReorderLevel   int64            `json:"reorderLevel" binding:"min=0"`
}

// ToDomain converts the request.
func (r CreateProductRequest) ToDomain() inventory.NewProduct {
	in := inventory.NewProduct{
		Name:         r.Name,
		SKU:          r.SKU,
		Category:     r.Category,
		Unit:         r.Unit,
		UnitPrice:    types.MinorUnitsFromDecimal(r.UnitPrice),
		ReorderLevel: r.ReorderLevel,
	}
	if r.WholesalePrice != nil {
		w := types.MinorUnitsFromDecimal(*r.WholesalePrice)
		in.WholesalePrice = &w
	}
	return in
}

// ProductResponse is a product with its aggregate quantity.
type ProductResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	SKU            string    `json:"sku"`
	Category       string    `json:"category,omitempty"`
	Unit           string    `json:"unit,omitempty"`
	UnitPrice      Money     `json:"unitPrice"`
	WholesalePrice *Money    `json:"wholesalePrice,omitempty"`
	ReorderLevel   int64     `json:"reorderLevel"`
	Quantity       int64     `json:"quantity"`
	LowStock       bool      `json:"lowStock"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// FromProduct maps a product.
func FromProduct(p inventory.Product) ProductResponse {
	return ProductResponse{
		ID:             p.ID.String(),
		Name:           p.Name,
		SKU:            p.SKU,
		Category:       p.Category,
		Unit:           p.Unit,
		UnitPrice:      FromMinor(p.UnitPrice),
		WholesalePrice: FromMinorPtr(p.WholesalePrice),
		ReorderLevel:   p.ReorderLevel,
		Quantity:       p.Quantity,
		LowStock:       p.BelowReorderLevel(),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// ListProductsRequest holds query parameters of GET /products.
type ListProductsRequest struct {
	PageRequest
	Search       string `form:"search"`
	Category     string `form:"category"`
	BelowReorder bool   `form:"belowReorder"`
}

// ToFilter converts query parameters.
func (r ListProductsRequest) ToFilter() inventory.ProductFilter {
	return inventory.ProductFilter{
		Search:       r.Search,
		Category:     r.Category,
		BelowReorder: r.BelowReorder,
		Limit:        r.Limit,
		Offset:       r.Offset,
	}
}

// BatchResponse is one batch.
type BatchResponse struct {
	ID          string     `json:"id"`
	BatchNumber string     `json:"batchNumber"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
	Quantity    int64      `json:"quantity"`
	UnitCost    Money      `json:"unitCost"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// FromBatch maps a batch.
func FromBatch(b inventory.Batch) BatchResponse {
	return BatchResponse{
		ID:          b.ID.String(),
		BatchNumber: b.BatchNumber,
		ExpiryDate:  b.ExpiryDate,
		Quantity:    b.Quantity,
		UnitCost:    FromMinor(b.UnitCost),
		CreatedAt:   b.CreatedAt,
	}
}

// StockResponse is GET /products/:id/stock.
type StockResponse struct {
	Product   ProductResponse `json:"product"`
	Aggregate int64           `json:"aggregate"`
	Batches   []BatchResponse `json:"batches"`
}

// FromAvailability maps stock availability; batches keep FEFO order.
func FromAvailability(a *inventory.Availability) StockResponse {
	resp := StockResponse{
		Product:   FromProduct(a.Product),
		Aggregate: a.Aggregate,
		Batches:   make([]BatchResponse, 0, len(a.Batches)),
	}
	for _, b := range a.Batches {
		resp.Batches = append(resp.Batches, FromBatch(b))
	}
	return resp
}

// ReceiveBatchRequest is the body of POST /products/:id/batches.
type ReceiveBatchRequest struct {
	BatchNumber string          `json:"batchNumber" binding:"required,max=64"`
	ExpiryDate  *time.Time      `json:"expiryDate"`
	Quantity    int64           `json:"quantity" binding:"required,gt=0"`
	UnitCost    decimal.Decimal `json:"unitCost" binding:"amount"`
}

// ToDomain converts the request.
func (r ReceiveBatchRequest) ToDomain(productID id.ID, actor string) inventory.ReceiveBatchInput {
	return inventory.ReceiveBatchInput{
		ProductID:   productID,
		BatchNumber: r.BatchNumber,
		ExpiryDate:  r.ExpiryDate,
		Quantity:    r.Quantity,
		UnitCost:    types.MinorUnitsFromDecimal(r.UnitCost),
		Actor:       actor,
	}
}

// ReceiveBatchResponse is returned by POST /products/:id/batches.
type ReceiveBatchResponse struct {
	Batch    BatchResponse    `json:"batch"`
	Movement MovementResponse `json:"movement"`
}

// AdjustStockRequest is the body of POST /products/:id/adjustments.
type AdjustStockRequest struct {
	BatchID *string `json:"batchId" binding:"omitempty,uuid"`
	Delta   int64   `json:"delta" binding:"required,ne=0"`
	Type    string  `json:"type" binding:"movementtype"`
	Reason  string  `json:"reason" binding:"required,max=500"`
}

// ToDomain converts the request.
func (r AdjustStockRequest) ToDomain(productID id.ID, actor string) (inventory.AdjustInput, error) {
	in := inventory.AdjustInput{
		ProductID: productID,
		Delta:     r.Delta,
		Type:      inventory.MovementType(r.Type),
		Reason:    r.Reason,
		Actor:     actor,
	}
	if r.BatchID != nil {
		batchID, err := id.Parse(*r.BatchID)
		if err != nil {
			return inventory.AdjustInput{}, err
		}
		in.BatchID = &batchID
	}
	return in, nil
}

// ListMovementsRequest holds query parameters of GET /products/:id/movements.
type ListMovementsRequest struct {
	PageRequest
	DateRange
	Type string `form:"type"`
}

// ToFilter converts query parameters.
func (r ListMovementsRequest) ToFilter(productID id.ID) inventory.MovementFilter {
	f := inventory.MovementFilter{
		ProductID: &productID,
		FromDate:  r.From,
		ToDate:    r.To,
		Limit:     r.Limit,
		Offset:    r.Offset,
	}
	if r.Type != "" {
		t := inventory.MovementType(r.Type)
		f.Type = &t
	}
	return f
}
