// Package main drives concurrent settlements against a running server and
// verifies that stock never goes negative and replays never sell twice.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	appctx "pharmapos/internal/core/context"
	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/auth"
	"pharmapos/pkg/logger"
)

type options struct {
	addr        string
	secret      string
	stock       int64
	requests    int
	concurrency int
	rps         float64
	dupEvery    int
	timeout     time.Duration
}

type counters struct {
	committed    atomic.Int64
	replayed     atomic.Int64
	insufficient atomic.Int64
	retried      atomic.Int64
	failed       atomic.Int64
}

type client struct {
	http  *http.Client
	base  string
	token string
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", "http://localhost:8080", "server base URL")
	flag.StringVar(&opts.secret, "jwt-secret", os.Getenv("JWT_SECRET"), "HMAC secret used to mint a token; empty when auth is off")
	flag.Int64Var(&opts.stock, "stock", 50, "units received before the run")
	flag.IntVar(&opts.requests, "requests", 200, "number of settlement requests")
	flag.IntVar(&opts.concurrency, "concurrency", 16, "requests in flight")
	flag.Float64Var(&opts.rps, "rps", 200, "request rate limit")
	flag.IntVar(&opts.dupEvery, "dup-every", 5, "every n-th request reuses the previous client transaction id; 0 disables")
	flag.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: "info", Development: true})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	c := &client{http: &http.Client{Timeout: 10 * time.Second}, base: opts.addr}
	if opts.secret != "" {
		jwtService := auth.NewJWTService(auth.DefaultJWTConfig(opts.secret))
		c.token, _, err = jwtService.GenerateAccessToken(appctx.UserContext{UserID: "loadtest", Name: "Load Test", IsAdmin: true})
		if err != nil {
			log.Fatalw("failed to mint token", "error", err)
		}
	}

	productID, err := c.prepare(ctx, opts.stock)
	if err != nil {
		log.Fatalw("failed to prepare product", "error", err)
	}
	log.Infow("product ready", "product_id", productID, "stock", opts.stock)

	var cnt counters
	start := time.Now()
	if err := run(ctx, c, opts, productID, &cnt); err != nil {
		log.Fatalw("load run aborted", "error", err)
	}
	elapsed := time.Since(start)

	remaining, consistent, err := c.verify(ctx, productID)
	if err != nil {
		log.Fatalw("failed to verify stock", "error", err)
	}

	committed := cnt.committed.Load()
	log.Infow("load run finished",
		"duration", elapsed.Round(time.Millisecond),
		"committed", committed,
		"replayed", cnt.replayed.Load(),
		"insufficient", cnt.insufficient.Load(),
		"retried", cnt.retried.Load(),
		"failed", cnt.failed.Load(),
		"remaining", remaining,
		"consistent", consistent,
	)

	if remaining < 0 || remaining != opts.stock-committed || !consistent {
		log.Errorw("stock invariant violated", "expected_remaining", opts.stock-committed, "remaining", remaining)
		os.Exit(2)
	}
}

func run(ctx context.Context, c *client, opts options, productID string, cnt *counters) error {
	limiter := rate.NewLimiter(rate.Limit(opts.rps), opts.concurrency)
	runID := id.New().String()[:8]

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)

	for i := 0; i < opts.requests; i++ {
		n := i
		if opts.dupEvery > 0 && i > 0 && i%opts.dupEvery == 0 {
			n = i - 1
		}
		clientTxID := fmt.Sprintf("lt-%s-%06d", runID, n)

		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			status, err := c.settle(ctx, clientTxID, productID, cnt)
			if err != nil {
				cnt.failed.Add(1)
				return nil
			}
			switch status {
			case http.StatusCreated:
				cnt.committed.Add(1)
			case http.StatusOK:
				cnt.replayed.Add(1)
			case http.StatusUnprocessableEntity:
				cnt.insufficient.Add(1)
			default:
				cnt.failed.Add(1)
			}
			return nil
		})
	}
	return g.Wait()
}

// settle posts one sale, retrying 503 (lock timeout, persistence failure)
// with the same client transaction id.
func (c *client) settle(ctx context.Context, clientTxID, productID string, cnt *counters) (int, error) {
	body := map[string]any{
		"clientTransactionId": clientTxID,
		"lines":               []map[string]any{{"productId": productID, "quantity": 1}},
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second

	var status int
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			cnt.retried.Add(1)
		}
		code, _, err := c.do(ctx, http.MethodPost, "/api/v1/sales", body)
		if err != nil {
			return err
		}
		if code == http.StatusServiceUnavailable {
			return fmt.Errorf("server busy")
		}
		status = code
		return nil
	}, backoff.WithContext(b, ctx))
	return status, err
}

func (c *client) prepare(ctx context.Context, stock int64) (string, error) {
	sku := "LT-" + id.New().String()
	status, raw, err := c.do(ctx, http.MethodPost, "/api/v1/products", map[string]any{
		"name": "Load test " + sku, "sku": sku, "unitPrice": "1.00",
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("create product: status %d: %s", status, raw)
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", err
	}

	// Two batches so the FEFO planner has to split.
	first := stock / 2
	for i, qty := range []int64{first, stock - first} {
		if qty == 0 {
			continue
		}
		expiry := time.Now().UTC().AddDate(0, i+3, 0)
		status, raw, err := c.do(ctx, http.MethodPost, "/api/v1/products/"+p.ID+"/batches", map[string]any{
			"batchNumber": fmt.Sprintf("LT-%d", i+1), "quantity": qty, "expiryDate": expiry,
		})
		if err != nil {
			return "", err
		}
		if status != http.StatusCreated {
			return "", fmt.Errorf("receive batch: status %d: %s", status, raw)
		}
	}
	return p.ID, nil
}

func (c *client) verify(ctx context.Context, productID string) (int64, bool, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/api/v1/products/"+productID+"/reconciliation", nil)
	if err != nil {
		return 0, false, err
	}
	if status != http.StatusOK {
		return 0, false, fmt.Errorf("reconciliation: status %d: %s", status, raw)
	}
	var r struct {
		Aggregate  int64 `json:"aggregate"`
		Consistent bool  `json:"consistent"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return 0, false, err
	}
	return r.Aggregate, r.Consistent, nil
}

func (c *client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, nil, backoff.Permanent(err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, err
}
