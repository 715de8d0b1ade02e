package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/domain/sales"
	"pharmapos/internal/infrastructure/notify"
	"pharmapos/pkg/logger"
)

// OutboxStatus represents the state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// maxOutboxRetries before a message is parked as failed.
const maxOutboxRetries = 5

// OutboxMessage is a row of sys_outbox.
type OutboxMessage struct {
	ID            id.ID        `db:"id"`
	AggregateType string       `db:"aggregate_type"` // "sale", "product"
	AggregateID   id.ID        `db:"aggregate_id"`
	EventType     string       `db:"event_type"` // notify.EventSaleCompleted, ...
	Payload       []byte       `db:"payload"`    // notify.Event JSON
	Status        OutboxStatus `db:"status"`
	RetryCount    int          `db:"retry_count"`
	LastError     *string      `db:"last_error"`
	NextRetryAt   *time.Time   `db:"next_retry_at"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   *time.Time   `db:"published_at"`
}

// Event decodes the stored envelope.
func (m *OutboxMessage) Event() (notify.Event, error) {
	return notify.Decode(m.Payload)
}

// OutboxNotifier implements sales.Notifier by persisting events to
// sys_outbox. The relay in cmd/worker forwards them to the event queue, so
// a Redis outage never loses a post-commit event.
type OutboxNotifier struct {
	txManager *TxManager
}

var _ sales.Notifier = (*OutboxNotifier)(nil)

// NewOutboxNotifier creates a new outbox notifier.
func NewOutboxNotifier(txManager *TxManager) *OutboxNotifier {
	return &OutboxNotifier{txManager: txManager}
}

func (n *OutboxNotifier) SaleCompleted(ctx context.Context, sale *sales.Sale) error {
	e, err := notify.SaleCompleted(sale)
	if err != nil {
		return err
	}
	return n.Enqueue(ctx, "sale", e)
}

func (n *OutboxNotifier) LowStock(ctx context.Context, p inventory.Product) error {
	e, err := notify.LowStock(p)
	if err != nil {
		return err
	}
	return n.Enqueue(ctx, "product", e)
}

// Enqueue stores e. It joins the transaction in ctx when there is one.
func (n *OutboxNotifier) Enqueue(ctx context.Context, aggregateType string, e notify.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = n.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_outbox (id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, aggregateType, e.AggregateID, e.Type, body, OutboxStatusPending, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// OutboxHandler processes outbox messages.
type OutboxHandler interface {
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// OutboxHandlerFunc adapts a function to OutboxHandler.
type OutboxHandlerFunc func(ctx context.Context, msg *OutboxMessage) error

func (f OutboxHandlerFunc) Handle(ctx context.Context, msg *OutboxMessage) error { return f(ctx, msg) }

// OutboxRelay moves pending outbox messages to a handler.
type OutboxRelay struct {
	txManager *TxManager
	batchSize int
	handler   OutboxHandler
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(txManager *TxManager, batchSize int, handler OutboxHandler) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{txManager: txManager, batchSize: batchSize, handler: handler}
}

// ProcessBatch claims up to batchSize due messages with SKIP LOCKED, hands
// them to the handler and records the outcome in the same transaction.
// Returns the number of messages published.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	published := 0
	err := r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		q := r.txManager.GetQuerier(ctx)

		var messages []*OutboxMessage
		err := pgxscan.Select(ctx, q, &messages, `
			SELECT id, aggregate_type, aggregate_id, event_type, payload, status,
			       retry_count, last_error, next_retry_at, created_at, published_at
			FROM sys_outbox
			WHERE status = $1
			  AND (next_retry_at IS NULL OR next_retry_at <= now())
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, OutboxStatusPending, r.batchSize)
		if err != nil {
			return fmt.Errorf("fetch outbox messages: %w", err)
		}

		for _, msg := range messages {
			if err := r.handler.Handle(ctx, msg); err != nil {
				logger.Warn(ctx, "outbox delivery failed",
					"message_id", msg.ID,
					"event_type", msg.EventType,
					"retry_count", msg.RetryCount,
					"error", err,
				)
				if err := r.markFailed(ctx, msg, err); err != nil {
					return err
				}
				continue
			}
			if _, err := q.Exec(ctx, `
				UPDATE sys_outbox SET status = $1, published_at = now() WHERE id = $2
			`, OutboxStatusPublished, msg.ID); err != nil {
				return fmt.Errorf("mark published: %w", err)
			}
			published++
		}
		return nil
	})
	return published, err
}

func (r *OutboxRelay) markFailed(ctx context.Context, msg *OutboxMessage, cause error) error {
	next := time.Now().UTC().Add(time.Duration(1<<min(msg.RetryCount, 6)) * time.Second)
	status := OutboxStatusPending
	if msg.RetryCount+1 >= maxOutboxRetries {
		status = OutboxStatusFailed
	}
	_, err := r.txManager.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_outbox
		SET retry_count = retry_count + 1,
		    last_error = $1,
		    next_retry_at = $2,
		    status = $3
		WHERE id = $4
	`, cause.Error(), next, status, msg.ID)
	if err != nil {
		return fmt.Errorf("update failed message: %w", err)
	}
	return nil
}

// MoveToDLQ moves failed messages to sys_outbox_dlq.
func (r *OutboxRelay) MoveToDLQ(ctx context.Context) (int64, error) {
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, `
		WITH moved AS (
			DELETE FROM sys_outbox
			WHERE status = $1
			RETURNING id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, created_at
		)
		INSERT INTO sys_outbox_dlq (id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, created_at)
		SELECT id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, created_at FROM moved
	`, OutboxStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("move to DLQ: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgePublished deletes published messages older than age.
func (r *OutboxRelay) PurgePublished(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM sys_outbox WHERE status = $1 AND published_at < $2
	`, OutboxStatusPublished, time.Now().UTC().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}
