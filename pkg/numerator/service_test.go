package numerator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"pharmapos/internal/core/numerator"
)

type mockRow struct {
	val int64
	err error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.err != nil {
		return m.err
	}
	if len(dest) > 0 {
		if ptr, ok := dest[0].(*int64); ok {
			*ptr = m.val
		}
	}
	return nil
}

// mockQuerier simulates sys_sequences for a single key.
type mockQuerier struct {
	mu           sync.Mutex
	currentValue int64
	calls        int
}

func (m *mockQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	switch {
	case strings.Contains(sql, "current_val = $2"):
		m.currentValue = args[1].(int64)
	case len(args) == 2:
		m.currentValue += args[1].(int64)
	default:
		m.currentValue++
	}
	return &mockRow{val: m.currentValue}
}

var period = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func TestGetNextNumber_Strict(t *testing.T) {
	q := &mockQuerier{}
	svc := New(q)
	ctx := context.Background()
	cfg := numerator.DefaultConfig("RCP")

	num, err := svc.GetNextNumber(ctx, cfg, nil, period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if num != "RCP-2026-00001" {
		t.Errorf("expected RCP-2026-00001, got %s", num)
	}

	num, err = svc.GetNextNumber(ctx, cfg, nil, period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if num != "RCP-2026-00002" {
		t.Errorf("expected RCP-2026-00002, got %s", num)
	}
}

func TestGetNextNumber_Cached(t *testing.T) {
	q := &mockQuerier{}
	svc := New(q)
	ctx := context.Background()
	cfg := numerator.DefaultConfig("RCP")
	opts := &numerator.Options{Strategy: numerator.StrategyCached, RangeSize: 10}

	// First call reserves 1..10.
	num, err := svc.GetNextNumber(ctx, cfg, opts, period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if num != "RCP-2026-00001" {
		t.Errorf("expected RCP-2026-00001, got %s", num)
	}
	if q.currentValue != 10 {
		t.Errorf("expected DB value to be 10, got %d", q.currentValue)
	}

	for i := 0; i < 9; i++ {
		if _, err := svc.GetNextNumber(ctx, cfg, opts, period); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if q.calls != 1 {
		t.Errorf("expected a single reservation, got %d", q.calls)
	}

	// Range exhausted: the next call reserves 11..20.
	num, err = svc.GetNextNumber(ctx, cfg, opts, period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if num != "RCP-2026-00011" {
		t.Errorf("expected RCP-2026-00011, got %s", num)
	}
	if q.currentValue != 20 {
		t.Errorf("expected DB value to be 20, got %d", q.currentValue)
	}
}

func TestSetNextNumber_InvalidatesCache(t *testing.T) {
	q := &mockQuerier{}
	svc := New(q)
	ctx := context.Background()
	cfg := numerator.DefaultConfig("RCP")
	opts := &numerator.Options{Strategy: numerator.StrategyCached, RangeSize: 10}

	if _, err := svc.GetNextNumber(ctx, cfg, opts, period); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SetNextNumber(ctx, cfg, period, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	num, err := svc.GetNextNumber(ctx, cfg, opts, period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if num != "RCP-2026-00100" {
		t.Errorf("expected RCP-2026-00100, got %s", num)
	}
}

func TestMemory_ResetsPerYear(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	cfg := numerator.DefaultConfig("RCP")

	a, _ := m.GetNextNumber(ctx, cfg, nil, period)
	b, _ := m.GetNextNumber(ctx, cfg, nil, period)
	c, _ := m.GetNextNumber(ctx, cfg, nil, period.AddDate(1, 0, 0))

	if a != "RCP-2026-00001" || b != "RCP-2026-00002" {
		t.Errorf("unexpected sequence %s, %s", a, b)
	}
	if c != "RCP-2027-00001" {
		t.Errorf("expected RCP-2027-00001, got %s", c)
	}
}

func TestFormatNumber_WithoutYear(t *testing.T) {
	cfg := numerator.Config{Prefix: "POS", PadWidth: 3, ResetPeriod: "never"}
	if got := formatNumber(cfg, period, 7); got != "POS-007" {
		t.Errorf("expected POS-007, got %s", got)
	}
}
