package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInsufficientStock_Details(t *testing.T) {
	err := NewInsufficientStock("p-1", 7, 3)

	assert.Equal(t, CodeInsufficientStock, err.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, err.HTTPStatus)
	assert.Equal(t, int64(7), err.Details["requested"])
	assert.Equal(t, int64(3), err.Details["available"])
	assert.Equal(t, int64(4), err.Details["shortfall"])
}

func TestHelpers_SeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("settle: %w", NewLockTimeout("product"))

	assert.True(t, IsLockTimeout(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsInsufficientStock(wrapped))
	assert.Equal(t, http.StatusServiceUnavailable, GetHTTPStatus(wrapped))
}

func TestPersistenceFailure_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewPersistenceFailure(cause)

	require.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestGetHTTPStatus_PlainError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(errors.New("boom")))
}
