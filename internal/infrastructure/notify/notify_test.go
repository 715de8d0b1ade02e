package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/domain/sales"
)

// fakeQueue is an in-memory stand-in for a Redis list.
type fakeQueue struct {
	mu     sync.Mutex
	lists  map[string][]string
	fail   error
	pushes int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{lists: make(map[string][]string)}
}

func (q *fakeQueue) LPush(_ context.Context, key string, values ...any) *redis.IntCmd {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushes++
	if q.fail != nil {
		return redis.NewIntResult(0, q.fail)
	}
	for _, v := range values {
		var s string
		switch b := v.(type) {
		case []byte:
			s = string(b)
		case string:
			s = b
		}
		q.lists[key] = append([]string{s}, q.lists[key]...)
	}
	return redis.NewIntResult(int64(len(q.lists[key])), nil)
}

func (q *fakeQueue) BRPop(_ context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, k := range keys {
		l := q.lists[k]
		if len(l) == 0 {
			continue
		}
		last := l[len(l)-1]
		q.lists[k] = l[:len(l)-1]
		return redis.NewStringSliceResult([]string{k, last}, nil)
	}
	return redis.NewStringSliceResult(nil, redis.Nil)
}

func (q *fakeQueue) len(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lists[key])
}

type countingObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (o *countingObserver) ObservePublish(eventType, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = make(map[string]int)
	}
	o.results[eventType+"/"+result]++
}

func (o *countingObserver) SetBreakerState(string, float64) {}

func testSale() *sales.Sale {
	return &sales.Sale{
		ID:                  id.New(),
		ClientTransactionID: "pos-1-0001",
		ReceiptNumber:       "RCP-2026-00001",
		SaleType:            sales.TypeRetail,
		Total:               4500,
		Items:               []sales.Item{{LineNo: 1}, {LineNo: 2}},
	}
}

func TestSaleCompletedEvent_Payload(t *testing.T) {
	sale := testSale()

	e, err := SaleCompleted(sale)
	require.NoError(t, err)

	assert.Equal(t, EventSaleCompleted, e.Type)
	assert.Equal(t, sale.ID, e.AggregateID)

	var p SaleCompletedPayload
	require.NoError(t, json.Unmarshal(e.Payload, &p))
	assert.Equal(t, "RCP-2026-00001", p.ReceiptNumber)
	assert.Equal(t, 2, p.Lines)
	assert.EqualValues(t, 4500, p.Total)
}

func TestDecode_RejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"id":"0190f2a0-0000-7000-8000-000000000000"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestPublisher_PushesToQueue(t *testing.T) {
	q := newFakeQueue()
	obs := &countingObserver{}
	p := NewPublisher(q, PublisherConfig{Queue: "events"}, obs)

	require.NoError(t, p.SaleCompleted(context.Background(), testSale()))
	require.NoError(t, p.LowStock(context.Background(), inventory.Product{ID: id.New(), SKU: "AMOX-250", Quantity: 2, ReorderLevel: 5}))

	assert.Equal(t, 2, q.len("events"))
	assert.Equal(t, 1, obs.results[EventSaleCompleted+"/ok"])
	assert.Equal(t, 1, obs.results[EventLowStock+"/ok"])
}

func TestPublisher_RetriesTransientFailure(t *testing.T) {
	q := newFakeQueue()
	q.fail = errors.New("connection refused")
	p := NewPublisher(q, PublisherConfig{
		Queue:            "events",
		MaxRetries:       2,
		InitialInterval:  time.Millisecond,
		FailureThreshold: 10,
	}, nil)

	err := p.SaleCompleted(context.Background(), testSale())

	require.Error(t, err)
	assert.Equal(t, 3, q.pushes)
}

func TestPublisher_BreakerOpensAndFailsFast(t *testing.T) {
	q := newFakeQueue()
	q.fail = errors.New("connection refused")
	obs := &countingObserver{}
	p := NewPublisher(q, PublisherConfig{
		Queue:            "events",
		MaxRetries:       0,
		InitialInterval:  time.Millisecond,
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	}, obs)
	ctx := context.Background()

	require.Error(t, p.SaleCompleted(ctx, testSale()))
	require.Error(t, p.SaleCompleted(ctx, testSale()))
	assert.Equal(t, gobreaker.StateOpen, p.State())

	err := p.SaleCompleted(ctx, testSale())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, q.pushes)
	assert.Equal(t, 3, obs.results[EventSaleCompleted+"/error"])
}

func TestConsumer_DispatchesByType(t *testing.T) {
	q := newFakeQueue()
	p := NewPublisher(q, PublisherConfig{Queue: "events"}, nil)
	c := NewConsumer(q, ConsumerConfig{Queue: "events"})

	var got []string
	c.Handle(EventSaleCompleted, func(_ context.Context, e Event) error {
		got = append(got, e.Type)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, p.SaleCompleted(ctx, testSale()))

	took, err := c.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, took)
	assert.Equal(t, []string{EventSaleCompleted}, got)

	took, err = c.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, took)
}

func TestConsumer_RequeuesThenDeadLetters(t *testing.T) {
	q := newFakeQueue()
	p := NewPublisher(q, PublisherConfig{Queue: "events"}, nil)
	c := NewConsumer(q, ConsumerConfig{Queue: "events", MaxAttempts: 2})

	calls := 0
	c.Handle(EventSaleCompleted, func(context.Context, Event) error {
		calls++
		return errors.New("downstream down")
	})

	ctx := context.Background()
	require.NoError(t, p.SaleCompleted(ctx, testSale()))

	_, err := c.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, q.len("events"), "requeued after first failure")

	_, err = c.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, q.len("events"))
	assert.Equal(t, 1, q.len(DLQPrefix+"events"))
}

func TestConsumer_MalformedGoesToDLQ(t *testing.T) {
	q := newFakeQueue()
	q.LPush(context.Background(), "events", "garbage")
	c := NewConsumer(q, ConsumerConfig{Queue: "events"})

	took, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, took)
	assert.Equal(t, 1, q.len(DLQPrefix+"events"))
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	q := newFakeQueue()
	c := NewConsumer(q, ConsumerConfig{Queue: "events", Workers: 2, PollTimeout: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
