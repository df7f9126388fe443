package model

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/treatment-engine/internal/domain"
)

// BreakerConfig represents circuit breaker configuration
type BreakerConfig struct {
	MaxRequests uint32        `json:"max_requests"`
	Interval    time.Duration `json:"interval"`
	Timeout     time.Duration `json:"timeout"`
}

// BreakerModel wraps a scoring model with a circuit breaker so a failing
// inference backend stops receiving traffic while it recovers. An open
// breaker surfaces as ModelUnavailableError.
type BreakerModel struct {
	inner   domain.ScoringModel
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Logger
}

// NewBreakerModel wraps a scoring model with a circuit breaker.
func NewBreakerModel(inner domain.ScoringModel, config BreakerConfig, logger *logrus.Logger) *BreakerModel {
	if config.MaxRequests == 0 {
		config.MaxRequests = 3
	}
	if config.Interval == 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "scoring-model-" + inner.Version(),
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 && counts.TotalFailures*2 >= counts.Requests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Scoring model circuit breaker state changed")
		},
	}

	return &BreakerModel{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     logger,
	}
}

// Version returns the wrapped model's version identifier.
func (m *BreakerModel) Version() string {
	return m.inner.Version()
}

// Score invokes the wrapped model through the circuit breaker.
func (m *BreakerModel) Score(ctx context.Context, vector domain.FeatureVector, candidates []domain.TreatmentCandidate) ([]float64, error) {
	result, err := m.breaker.Execute(func() (interface{}, error) {
		return m.inner.Score(ctx, vector, candidates)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, domain.NewModelUnavailableError(m.inner.Version(), err)
		}
		return nil, err
	}
	return result.([]float64), nil
}
