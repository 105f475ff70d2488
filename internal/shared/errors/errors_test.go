package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorWrapsSentinel(t *testing.T) {
	err := NotFound("plan")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, http.StatusNotFound, err.StatusCode)
	assert.Equal(t, "plan not found", err.Message)
}

func TestOptimisticLockMapsToConflict(t *testing.T) {
	err := OptimisticLock("subscription")
	assert.True(t, errors.Is(err, ErrOptimisticLock))
	assert.Equal(t, http.StatusConflict, err.StatusCode)
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("pool exhausted")
	err := Internal("database unavailable", cause)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "database unavailable")
	assert.Contains(t, err.Error(), "pool exhausted")
}

func TestToResponseHidesInternals(t *testing.T) {
	err := Internal("something broke", errors.New("secret detail"))
	resp := err.ToResponse()
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "secret detail")
}
