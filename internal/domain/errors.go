package domain

import (
	"errors"
	"fmt"
)

// Error codes for different failure scenarios
const (
	ErrCodeMalformedInput   = "MALFORMED_INPUT"
	ErrCodeModelUnavailable = "MODEL_UNAVAILABLE"
	ErrCodeScoreRange       = "SCORE_OUT_OF_RANGE"
	ErrCodeCacheUnavailable = "CACHE_UNAVAILABLE"
	ErrCodeNotFound         = "NOT_FOUND"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// MalformedInputError indicates the caller supplied structurally invalid
// input. It is never retried and maps to a 4xx response.
type MalformedInputError struct {
	Field   string
	Message string
}

func (e *MalformedInputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed input for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("malformed input: %s", e.Message)
}

// NewMalformedInputError creates a MalformedInputError for a field.
func NewMalformedInputError(field, message string) *MalformedInputError {
	return &MalformedInputError{Field: field, Message: message}
}

// ModelUnavailableError indicates the scoring backend could not be loaded or
// reached, including timeouts. The orchestrator retries it with bounded
// exponential backoff; the invoker never retries it silently.
type ModelUnavailableError struct {
	Version string
	Cause   error
}

func (e *ModelUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("model %q unavailable: %v", e.Version, e.Cause)
	}
	return fmt.Sprintf("model %q unavailable", e.Version)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Cause }

// NewModelUnavailableError creates a ModelUnavailableError.
func NewModelUnavailableError(version string, cause error) *ModelUnavailableError {
	return &ModelUnavailableError{Version: version, Cause: cause}
}

// ScoreRangeError indicates a score outside [0,1] reached the classifier.
// This is always an integration bug in the model contract, never a user
// error, and is fatal to the request.
type ScoreRangeError struct {
	Score float64
}

func (e *ScoreRangeError) Error() string {
	return fmt.Sprintf("score %v outside [0,1]: model contract violation", e.Score)
}

// CacheUnavailableError indicates a cache storage tier failed. It is never
// surfaced to callers; the cache degrades to direct compute instead.
type CacheUnavailableError struct {
	Cause error
}

func (e *CacheUnavailableError) Error() string {
	return fmt.Sprintf("prediction cache unavailable: %v", e.Cause)
}

func (e *CacheUnavailableError) Unwrap() error { return e.Cause }

// IsMalformedInput reports whether err is a MalformedInputError.
func IsMalformedInput(err error) bool {
	var target *MalformedInputError
	return errors.As(err, &target)
}

// IsModelUnavailable reports whether err is a ModelUnavailableError.
func IsModelUnavailable(err error) bool {
	var target *ModelUnavailableError
	return errors.As(err, &target)
}

// IsScoreRange reports whether err is a ScoreRangeError.
func IsScoreRange(err error) bool {
	var target *ScoreRangeError
	return errors.As(err, &target)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
