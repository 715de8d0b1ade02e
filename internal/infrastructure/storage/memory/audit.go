package memory

import (
	"context"

	"pharmapos/internal/domain/audit"
)

// AuditRecorder keeps audit entries with the transaction that produced them.
type AuditRecorder struct {
	store *Store
}

var _ audit.Recorder = (*AuditRecorder)(nil)

// NewAuditRecorder creates a recorder writing to store.
func NewAuditRecorder(store *Store) *AuditRecorder {
	return &AuditRecorder{store: store}
}

// Record implements audit.Recorder.
func (r *AuditRecorder) Record(ctx context.Context, entry audit.Entry) error {
	audit.Enrich(ctx, &entry)
	if o := overlayFrom(ctx); o != nil {
		o.audit = append(o.audit, entry)
		return nil
	}

	r.store.mu.Lock()
	r.store.audit = append(r.store.audit, entry)
	r.store.mu.Unlock()
	return nil
}
