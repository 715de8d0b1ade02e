// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
)

// Money is rendered in major units with two decimals ("12.50").
type Money = decimal.Decimal

// FromMinor converts minor units to the API representation.
func FromMinor(m types.MinorUnits) Money {
	return m.Decimal()
}

// FromMinorPtr converts an optional amount.
func FromMinorPtr(m *types.MinorUnits) *Money {
	if m == nil {
		return nil
	}
	d := m.Decimal()
	return &d
}

// PageRequest contains limit/offset paging parameters.
type PageRequest struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// DateRange filters by creation time; To is exclusive.
type DateRange struct {
	From *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To   *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// IDResponse for create operations.
type IDResponse struct {
	ID string `json:"id"`
}

// NewIDResponse creates ID response.
func NewIDResponse(i id.ID) IDResponse {
	return IDResponse{ID: i.String()}
}

// ErrorResponse for error details.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
