package notify

import (
	"context"

	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/domain/sales"
	"pharmapos/pkg/logger"
)

// LogNotifier writes events to the log. Used when no Redis is configured.
type LogNotifier struct{}

var _ sales.Notifier = LogNotifier{}

func (LogNotifier) SaleCompleted(ctx context.Context, sale *sales.Sale) error {
	logger.Info(ctx, "sale completed",
		"sale_id", sale.ID,
		"receipt_number", sale.ReceiptNumber,
		"total", sale.Total,
	)
	return nil
}

func (LogNotifier) LowStock(ctx context.Context, p inventory.Product) error {
	logger.Warn(ctx, "low stock",
		"product_id", p.ID,
		"sku", p.SKU,
		"quantity", p.Quantity,
		"reorder_level", p.ReorderLevel,
	)
	return nil
}
