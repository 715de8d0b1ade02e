// Package notify delivers post-commit settlement events.
//
// Events are JSON envelopes pushed onto a Redis list (LPUSH) and consumed
// by cmd/worker with BRPOP. Delivery is at-least-once; consumers must
// tolerate duplicates by event id.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/domain/sales"
)

// Event types.
const (
	EventSaleCompleted = "sale.completed"
	EventLowStock      = "stock.low"
)

// DefaultQueue is the Redis list events are pushed to.
const DefaultQueue = "pharmapos:events"

// Event is the envelope stored in the queue.
type Event struct {
	ID          id.ID           `json:"id"`
	Type        string          `json:"type"`
	AggregateID id.ID           `json:"aggregateId"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts,omitempty"`
}

// SaleCompletedPayload is the body of a sale.completed event.
type SaleCompletedPayload struct {
	SaleID              id.ID            `json:"saleId"`
	ClientTransactionID string           `json:"clientTransactionId"`
	ReceiptNumber       string           `json:"receiptNumber"`
	CashierID           string           `json:"cashierId"`
	SaleType            sales.Type       `json:"saleType"`
	Total               types.MinorUnits `json:"total"`
	Lines               int              `json:"lines"`
}

// LowStockPayload is the body of a stock.low event.
type LowStockPayload struct {
	ProductID    id.ID  `json:"productId"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
	ReorderLevel int64  `json:"reorderLevel"`
}

func newEvent(eventType string, aggregateID id.ID, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:          id.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  time.Now().UTC(),
		Payload:     body,
	}, nil
}

// SaleCompleted builds the event for a committed sale.
func SaleCompleted(sale *sales.Sale) (Event, error) {
	return newEvent(EventSaleCompleted, sale.ID, SaleCompletedPayload{
		SaleID:              sale.ID,
		ClientTransactionID: sale.ClientTransactionID,
		ReceiptNumber:       sale.ReceiptNumber,
		CashierID:           sale.Cashier.ID,
		SaleType:            sale.SaleType,
		Total:               sale.Total,
		Lines:               len(sale.Items),
	})
}

// LowStock builds the event for a product at or below its reorder level.
func LowStock(p inventory.Product) (Event, error) {
	return newEvent(EventLowStock, p.ID, LowStockPayload{
		ProductID:    p.ID,
		SKU:          p.SKU,
		Name:         p.Name,
		Quantity:     p.Quantity,
		ReorderLevel: p.ReorderLevel,
	})
}

// Decode parses a queued envelope.
func Decode(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type")
	}
	return e, nil
}
