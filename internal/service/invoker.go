package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/treatment-engine/internal/domain"
)

// ScoreOutcome is the per-candidate result of a model invocation. Err is set
// when the candidate's batch failed.
type ScoreOutcome struct {
	Candidate domain.TreatmentCandidate
	RawScore  float64
	Err       error
}

// InvokerConfig represents model invoker configuration
type InvokerConfig struct {
	BatchSize      int
	Timeout        time.Duration
	MaxConcurrency int
}

// ModelInvoker wraps the versioned model registry. It groups candidates into
// batches to amortize invocation overhead and dispatches batches to a
// bounded worker pool so fan-out never exceeds the configured concurrency.
// Batch grouping must not change per-candidate results versus single calls.
type ModelInvoker struct {
	registry domain.ModelRegistry
	log      *logrus.Logger

	mu        sync.RWMutex
	batchSize int
	timeout   time.Duration
	sem       chan struct{}
}

// NewModelInvoker creates a model invoker.
func NewModelInvoker(registry domain.ModelRegistry, config InvokerConfig, logger *logrus.Logger) *ModelInvoker {
	inv := &ModelInvoker{
		registry: registry,
		log:      logger,
	}
	inv.Configure(config)
	return inv
}

// Configure applies invoker configuration. Safe to call while requests are
// in flight; in-flight batches finish under the old settings.
func (inv *ModelInvoker) Configure(config InvokerConfig) {
	if config.BatchSize <= 0 {
		config.BatchSize = 16
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.batchSize = config.BatchSize
	inv.timeout = config.Timeout
	inv.sem = make(chan struct{}, config.MaxConcurrency)
}

// Invoke scores all candidates for one patient against a model version.
// Individual batch failures are reported per candidate in the outcomes;
// the returned error is non-nil only when the model itself cannot be
// resolved. ModelUnavailableError is never retried here; retry policy
// belongs to the orchestrator.
func (inv *ModelInvoker) Invoke(ctx context.Context, version string, vector domain.FeatureVector, candidates []domain.TreatmentCandidate) ([]ScoreOutcome, error) {
	m, err := inv.registry.Lookup(version)
	if err != nil {
		return nil, err
	}

	inv.mu.RLock()
	batchSize := inv.batchSize
	timeout := inv.timeout
	sem := inv.sem
	inv.mu.RUnlock()

	outcomes := make([]ScoreOutcome, len(candidates))
	var wg sync.WaitGroup

	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				inv.failBatch(outcomes, candidates, start, end, version, ctx.Err())
				return
			}

			batchCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			scores, err := m.Score(batchCtx, vector, candidates[start:end])
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					err = domain.NewModelUnavailableError(version, err)
				}
				inv.log.WithError(err).WithFields(logrus.Fields{
					"model_version": version,
					"batch_start":   start,
					"batch_size":    end - start,
				}).Warn("Model batch invocation failed")
				inv.failBatch(outcomes, candidates, start, end, version, err)
				return
			}

			for i, score := range scores {
				outcomes[start+i] = ScoreOutcome{
					Candidate: candidates[start+i],
					RawScore:  score,
				}
			}
		}(start, end)
	}

	wg.Wait()
	return outcomes, nil
}

func (inv *ModelInvoker) failBatch(outcomes []ScoreOutcome, candidates []domain.TreatmentCandidate, start, end int, version string, err error) {
	if !domain.IsModelUnavailable(err) {
		err = domain.NewModelUnavailableError(version, err)
	}
	for i := start; i < end; i++ {
		outcomes[i] = ScoreOutcome{Candidate: candidates[i], Err: err}
	}
}
