package numerator

import (
	"context"
	"time"
)

// Generator hands out sequential receipt numbers.
type Generator interface {
	// GetNextNumber generates the next number for period.
	// Pattern: PREFIX-YEAR-XXXXX (e.g., RCP-2026-00001)
	GetNextNumber(ctx context.Context, cfg Config, opts *Options, period time.Time) (string, error)

	// SetNextNumber moves the sequence (data migration, manual correction).
	SetNextNumber(ctx context.Context, cfg Config, period time.Time, value int64) error
}
