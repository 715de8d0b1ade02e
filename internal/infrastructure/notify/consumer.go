package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"pharmapos/pkg/logger"
)

// DLQPrefix prefixes the dead letter list of a queue.
const DLQPrefix = "dlq:"

// Queue is the subset of redis.Cmdable the consumer needs.
type Queue interface {
	Pusher
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Handler processes one event. A returned error requeues the event until
// MaxAttempts is reached, then it is moved to the dead letter list.
type Handler func(ctx context.Context, e Event) error

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Queue       string
	Workers     int
	PollTimeout time.Duration
	MaxAttempts int
}

// Consumer pops events with BRPOP and dispatches them by type.
type Consumer struct {
	queue    Queue
	cfg      ConsumerConfig
	handlers map[string]Handler
}

// NewConsumer creates a consumer.
func NewConsumer(queue Queue, cfg ConsumerConfig) *Consumer {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Consumer{queue: queue, cfg: cfg, handlers: make(map[string]Handler)}
}

// Handle registers h for eventType. Must be called before Run.
func (c *Consumer) Handle(eventType string, h Handler) {
	c.handlers[eventType] = h
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			c.loop(ctx, worker)
			return nil
		})
	}
	logger.Info(ctx, "event consumer started", "queue", c.cfg.Queue, "workers", c.cfg.Workers)
	return g.Wait()
}

func (c *Consumer) loop(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			logger.Info(ctx, "event worker stopped", "worker", worker)
			return
		}
		if _, err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "poll events", "worker", worker, "error", err)
			time.Sleep(time.Second)
		}
	}
}

// Poll waits up to PollTimeout for one event and processes it.
// It reports whether an event was taken.
func (c *Consumer) Poll(ctx context.Context) (bool, error) {
	result, err := c.queue.BRPop(ctx, c.cfg.PollTimeout, c.cfg.Queue).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(result) < 2 {
		return false, nil
	}
	c.process(ctx, []byte(result[1]))
	return true, nil
}

func (c *Consumer) process(ctx context.Context, raw []byte) {
	e, err := Decode(raw)
	if err != nil {
		c.deadLetter(ctx, raw, err.Error())
		return
	}

	h, ok := c.handlers[e.Type]
	if !ok {
		logger.Warn(ctx, "no handler for event", "type", e.Type, "event_id", e.ID)
		return
	}

	if err := h(ctx, e); err != nil {
		e.Attempts++
		if e.Attempts >= c.cfg.MaxAttempts {
			body, _ := json.Marshal(e)
			c.deadLetter(ctx, body, err.Error())
			return
		}
		body, mErr := json.Marshal(e)
		if mErr != nil {
			logger.Error(ctx, "marshal retried event", "event_id", e.ID, "error", mErr)
			return
		}
		if pErr := c.queue.LPush(ctx, c.cfg.Queue, body).Err(); pErr != nil {
			logger.Error(ctx, "requeue event", "event_id", e.ID, "error", pErr)
		}
		return
	}
	logger.Debug(ctx, "event processed", "type", e.Type, "event_id", e.ID)
}

// DLQEntry wraps an event that could not be processed.
type DLQEntry struct {
	Queue    string          `json:"queue"`
	Raw      json.RawMessage `json:"raw"`
	Reason   string          `json:"reason"`
	FailedAt time.Time       `json:"failedAt"`
}

func (c *Consumer) deadLetter(ctx context.Context, raw []byte, reason string) {
	entry := DLQEntry{Queue: c.cfg.Queue, Reason: reason, FailedAt: time.Now().UTC()}
	if json.Valid(raw) {
		entry.Raw = raw
	} else {
		entry.Raw, _ = json.Marshal(string(raw))
	}
	body, err := json.Marshal(entry)
	if err != nil {
		logger.Error(ctx, "marshal dlq entry", "error", err)
		return
	}
	if err := c.queue.LPush(ctx, DLQPrefix+c.cfg.Queue, body).Err(); err != nil {
		logger.Error(ctx, "push to dlq", "error", err)
		return
	}
	logger.Warn(ctx, "event moved to dead letter queue", "queue", c.cfg.Queue, "reason", reason)
}

// Open connects to Redis from a URL and checks connectivity.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
