// Package audit defines the audit trail contract used by domain services.
// Entries are written inside the business transaction they describe.
package audit

import (
	"context"

	appctx "pharmapos/internal/core/context"
	"pharmapos/internal/core/id"
)

// Action is the audited event name.
type Action string

const (
	ActionSaleCompleted  Action = "SALE_COMPLETED"
	ActionBatchReceived  Action = "BATCH_RECEIVED"
	ActionStockAdjusted  Action = "STOCK_ADJUSTED"
	ActionProductCreated Action = "PRODUCT_CREATED"
)

// Entry is one audit record. Payload is serialized to JSON by the recorder.
type Entry struct {
	EntityType string
	EntityID   id.ID
	Action     Action
	Actor      string
	Payload    any
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Enrich fills Actor from the authenticated user when the caller left it empty.
func Enrich(ctx context.Context, entry *Entry) {
	if entry.Actor != "" {
		return
	}
	if uid := appctx.GetUserID(ctx); uid != "" {
		entry.Actor = uid
	}
}

// Nop discards entries.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Entry) error { return nil }
