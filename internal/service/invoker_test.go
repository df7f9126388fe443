package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treatment-engine/internal/domain"
	"github.com/treatment-engine/pkg/model"
)

// countingModel scores candidates by position and tracks invocation
// concurrency.
type countingModel struct {
	version     string
	calls       atomic.Int64
	active      atomic.Int64
	maxActive   atomic.Int64
	delay       time.Duration
	failPattern func(candidates []domain.TreatmentCandidate) error
}

func (m *countingModel) Version() string { return m.version }

func (m *countingModel) Score(ctx context.Context, vector domain.FeatureVector, candidates []domain.TreatmentCandidate) ([]float64, error) {
	m.calls.Add(1)
	active := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		max := m.maxActive.Load()
		if active <= max || m.maxActive.CompareAndSwap(max, active) {
			break
		}
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.failPattern != nil {
		if err := m.failPattern(candidates); err != nil {
			return nil, err
		}
	}

	scores := make([]float64, len(candidates))
	for i, candidate := range candidates {
		scores[i] = float64(len(candidate.ID)%10) / 10.0
	}
	return scores, nil
}

func invokerLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func candidateSet(n int) []domain.TreatmentCandidate {
	candidates := make([]domain.TreatmentCandidate, n)
	for i := range candidates {
		candidates[i] = domain.TreatmentCandidate{ID: string(rune('a'+i%26)) + "-candidate"}
	}
	return candidates
}

func TestInvoker_ScoresAllCandidates(t *testing.T) {
	m := &countingModel{version: "v1.0.0"}
	registry := model.NewRegistry()
	registry.Register(m)

	invoker := NewModelInvoker(registry, InvokerConfig{BatchSize: 4}, invokerLogger())

	candidates := candidateSet(10)
	outcomes, err := invoker.Invoke(context.Background(), "v1.0.0", domain.FeatureVector{0.5}, candidates)
	require.NoError(t, err)
	require.Len(t, outcomes, 10)

	for i, outcome := range outcomes {
		assert.NoError(t, outcome.Err)
		assert.Equal(t, candidates[i].ID, outcome.Candidate.ID, "outcome order matches input order")
	}
	assert.Equal(t, int64(3), m.calls.Load(), "10 candidates in batches of 4")
}

func TestInvoker_BatchingDoesNotChangeScores(t *testing.T) {
	registry := model.NewRegistry()
	registry.Register(&countingModel{version: "v1.0.0"})

	candidates := candidateSet(9)
	vector := domain.FeatureVector{0.5}

	small := NewModelInvoker(registry, InvokerConfig{BatchSize: 2}, invokerLogger())
	large := NewModelInvoker(registry, InvokerConfig{BatchSize: 100}, invokerLogger())

	fromSmall, err := small.Invoke(context.Background(), "v1.0.0", vector, candidates)
	require.NoError(t, err)
	fromLarge, err := large.Invoke(context.Background(), "v1.0.0", vector, candidates)
	require.NoError(t, err)

	for i := range candidates {
		assert.Equal(t, fromLarge[i].RawScore, fromSmall[i].RawScore)
	}
}

func TestInvoker_BoundedConcurrency(t *testing.T) {
	m := &countingModel{version: "v1.0.0", delay: 20 * time.Millisecond}
	registry := model.NewRegistry()
	registry.Register(m)

	invoker := NewModelInvoker(registry, InvokerConfig{BatchSize: 1, MaxConcurrency: 2}, invokerLogger())

	_, err := invoker.Invoke(context.Background(), "v1.0.0", domain.FeatureVector{0.5}, candidateSet(8))
	require.NoError(t, err)
	assert.LessOrEqual(t, m.maxActive.Load(), int64(2), "no more than 2 batches in flight")
}

func TestInvoker_UnknownModelVersion(t *testing.T) {
	invoker := NewModelInvoker(model.NewRegistry(), InvokerConfig{}, invokerLogger())

	_, err := invoker.Invoke(context.Background(), "v9.9.9", domain.FeatureVector{0.5}, candidateSet(2))
	require.Error(t, err)
	assert.True(t, domain.IsModelUnavailable(err))
}

func TestInvoker_TimeoutMarksBatchUnavailable(t *testing.T) {
	m := &countingModel{version: "v1.0.0", delay: time.Second}
	registry := model.NewRegistry()
	registry.Register(m)

	invoker := NewModelInvoker(registry, InvokerConfig{Timeout: 20 * time.Millisecond}, invokerLogger())

	outcomes, err := invoker.Invoke(context.Background(), "v1.0.0", domain.FeatureVector{0.5}, candidateSet(3))
	require.NoError(t, err)
	for _, outcome := range outcomes {
		require.Error(t, outcome.Err)
		assert.True(t, domain.IsModelUnavailable(outcome.Err))
	}
}

func TestInvoker_PartialBatchFailure(t *testing.T) {
	var mu sync.Mutex
	batch := 0
	m := &countingModel{
		version: "v1.0.0",
		failPattern: func(candidates []domain.TreatmentCandidate) error {
			mu.Lock()
			defer mu.Unlock()
			batch++
			if batch == 1 {
				return errors.New("backend connection reset")
			}
			return nil
		},
	}
	registry := model.NewRegistry()
	registry.Register(m)

	// One batch at a time so the failing batch is deterministic in size.
	invoker := NewModelInvoker(registry, InvokerConfig{BatchSize: 2, MaxConcurrency: 1}, invokerLogger())

	outcomes, err := invoker.Invoke(context.Background(), "v1.0.0", domain.FeatureVector{0.5}, candidateSet(6))
	require.NoError(t, err)

	var failed, succeeded int
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			assert.True(t, domain.IsModelUnavailable(outcome.Err))
			failed++
		} else {
			succeeded++
		}
	}
	assert.Equal(t, 2, failed, "exactly the failing batch is marked")
	assert.Equal(t, 4, succeeded)
}
