package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	malformed := NewMalformedInputError("patient_id", "patient id is required")
	unavailable := NewModelUnavailableError("v1.0.0", errors.New("connection refused"))
	scoreRange := &ScoreRangeError{Score: 1.3}

	assert.True(t, IsMalformedInput(malformed))
	assert.False(t, IsMalformedInput(unavailable))

	assert.True(t, IsModelUnavailable(unavailable))
	assert.False(t, IsModelUnavailable(scoreRange))

	assert.True(t, IsScoreRange(scoreRange))
	assert.False(t, IsScoreRange(malformed))
}

func TestErrorClassification_Wrapped(t *testing.T) {
	inner := NewModelUnavailableError("v1.0.0", errors.New("timeout"))
	wrapped := fmt.Errorf("scoring candidate treatment-a: %w", inner)

	assert.True(t, IsModelUnavailable(wrapped))
}

func TestModelUnavailableError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewModelUnavailableError("v1.0.0", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "v1.0.0")
}

func TestIsNotFound(t *testing.T) {
	wrapped := fmt.Errorf("patient p1: %w", ErrNotFound)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsNotFound(errors.New("other")))
}
