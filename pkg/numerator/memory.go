package numerator

import (
	"context"
	"sync"
	"time"

	"pharmapos/internal/core/numerator"
)

// Memory is a process-local Generator used with the in-memory storage backend.
// Strategies are irrelevant here: every call is a map increment.
type Memory struct {
	mu   sync.Mutex
	last map[string]int64
}

var _ numerator.Generator = (*Memory)(nil)

// NewMemory creates an empty in-memory generator.
func NewMemory() *Memory {
	return &Memory{last: make(map[string]int64)}
}

// GetNextNumber implements numerator.Generator.
func (m *Memory) GetNextNumber(_ context.Context, cfg numerator.Config, _ *numerator.Options, period time.Time) (string, error) {
	key := buildKey(cfg, period)

	m.mu.Lock()
	m.last[key]++
	num := m.last[key]
	m.mu.Unlock()

	return formatNumber(cfg, period, num), nil
}

// SetNextNumber implements numerator.Generator.
func (m *Memory) SetNextNumber(_ context.Context, cfg numerator.Config, period time.Time, value int64) error {
	m.mu.Lock()
	m.last[buildKey(cfg, period)] = value - 1
	m.mu.Unlock()
	return nil
}
