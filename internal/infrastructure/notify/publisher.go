package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/domain/sales"
	"pharmapos/pkg/logger"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("event queue unavailable")

// Pusher is the subset of redis.Cmdable the publisher needs.
type Pusher interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
}

// Observer receives publish outcomes and breaker transitions.
type Observer interface {
	ObservePublish(eventType, result string)
	SetBreakerState(name string, state float64)
}

type nopObserver struct{}

func (nopObserver) ObservePublish(string, string)   {}
func (nopObserver) SetBreakerState(string, float64) {}

// PublisherConfig tunes retries and the circuit breaker.
type PublisherConfig struct {
	Queue            string
	MaxRetries       uint64
	InitialInterval  time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// DefaultPublisherConfig returns production defaults.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Queue:            DefaultQueue,
		MaxRetries:       3,
		InitialInterval:  50 * time.Millisecond,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// Publisher pushes events to Redis behind a circuit breaker.
// Transient failures are retried with exponential backoff; an open breaker
// fails fast with ErrUnavailable.
type Publisher struct {
	client   Pusher
	cfg      PublisherConfig
	breaker  *gobreaker.CircuitBreaker
	observer Observer
}

var _ sales.Notifier = (*Publisher)(nil)

// NewPublisher creates a publisher. observer may be nil.
func NewPublisher(client Pusher, cfg PublisherConfig, observer Observer) *Publisher {
	def := DefaultPublisherConfig()
	if cfg.Queue == "" {
		cfg.Queue = def.Queue
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if observer == nil {
		observer = nopObserver{}
	}

	p := &Publisher{client: client, cfg: cfg, observer: observer}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-events",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			observer.SetBreakerState(name, float64(to))
		},
	})
	observer.SetBreakerState("redis-events", float64(gobreaker.StateClosed))
	return p
}

// State returns the breaker state.
func (p *Publisher) State() gobreaker.State {
	return p.breaker.State()
}

func (p *Publisher) SaleCompleted(ctx context.Context, sale *sales.Sale) error {
	e, err := SaleCompleted(sale)
	if err != nil {
		return err
	}
	return p.Publish(ctx, e)
}

func (p *Publisher) LowStock(ctx context.Context, product inventory.Product) error {
	e, err := LowStock(product)
	if err != nil {
		return err
	}
	return p.Publish(ctx, e)
}

// Publish pushes e onto the configured queue.
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	return p.PublishTo(ctx, p.cfg.Queue, e)
}

// PublishTo pushes e onto queue.
func (p *Publisher) PublishTo(ctx context.Context, queue string, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.InitialInterval
	policy.MaxElapsedTime = 0

	op := func() error {
		_, err := p.breaker.Execute(func() (any, error) {
			return nil, p.client.LPush(ctx, queue, body).Err()
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrUnavailable)
		}
		return err
	}

	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, p.cfg.MaxRetries), ctx))
	if err != nil {
		p.observer.ObservePublish(e.Type, "error")
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	p.observer.ObservePublish(e.Type, "ok")
	return nil
}
