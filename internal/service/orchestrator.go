package service

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/treatment-engine/internal/domain"
)

// requestState tracks a recommendation request through its lifecycle.
type requestState string

const (
	stateReceived   requestState = "RECEIVED"
	stateNormalized requestState = "NORMALIZED"
	stateCacheHit   requestState = "CACHE_HIT"
	stateComputing  requestState = "COMPUTING"
	stateClassified requestState = "CLASSIFIED"
	stateReturned   requestState = "RETURNED"
	stateFailed     requestState = "FAILED"
)

// OrchestratorConfig represents orchestrator configuration. All fields are
// hot-reloadable; a ModelVersion change flushes the entire prediction cache
// since scores are not comparable across versions.
type OrchestratorConfig struct {
	ModelVersion   string
	Threshold      float64
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Orchestrator composes the normalizer, model invoker, feedback adjuster,
// efficacy classifier, and prediction cache into the public recommendation
// and outcome-recording operations.
type Orchestrator struct {
	normalizer  *FeatureNormalizer
	invoker     *ModelInvoker
	classifier  *EfficacyClassifier
	cache       domain.PredictionCache
	adjuster    domain.FeedbackAdjuster
	predictions domain.PredictionRepository
	log         *logrus.Logger

	mu  sync.RWMutex
	cfg OrchestratorConfig
}

// NewOrchestrator creates a recommendation orchestrator. The predictions
// repository may be nil, in which case results are not persisted and the
// adjuster sees no historical raw scores.
func NewOrchestrator(
	normalizer *FeatureNormalizer,
	invoker *ModelInvoker,
	classifier *EfficacyClassifier,
	cache domain.PredictionCache,
	adjuster domain.FeedbackAdjuster,
	predictions domain.PredictionRepository,
	config OrchestratorConfig,
	logger *logrus.Logger,
) *Orchestrator {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 100 * time.Millisecond
	}
	return &Orchestrator{
		normalizer:  normalizer,
		invoker:     invoker,
		classifier:  classifier,
		cache:       cache,
		adjuster:    adjuster,
		predictions: predictions,
		cfg:         config,
		log:         logger,
	}
}

// ApplyConfig applies a new orchestrator configuration. Changing the model
// version invalidates the whole cache, not just per-patient entries.
func (o *Orchestrator) ApplyConfig(config OrchestratorConfig) {
	o.mu.Lock()
	previousVersion := o.cfg.ModelVersion
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 100 * time.Millisecond
	}
	o.cfg = config
	o.mu.Unlock()

	if previousVersion != config.ModelVersion {
		o.log.WithFields(logrus.Fields{
			"previous_version": previousVersion,
			"model_version":    config.ModelVersion,
		}).Info("Model version changed, flushing prediction cache")
		o.cache.Flush()
	}
}

func (o *Orchestrator) config() OrchestratorConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// Recommend scores the supplied candidates for a patient and returns them
// ranked by adjusted score descending, ties broken by candidate ID
// ascending.
func (o *Orchestrator) Recommend(ctx context.Context, patientID string, profile domain.GenomicProfile, history *domain.MedicalHistory, candidates []domain.TreatmentCandidate) (*domain.Recommendation, error) {
	state := stateReceived
	log := o.log.WithField("patient_id", patientID)

	fail := func(err error) (*domain.Recommendation, error) {
		state = stateFailed
		log.WithError(err).WithField("state", string(state)).Warn("Recommendation request failed")
		return nil, err
	}

	if patientID == "" {
		return fail(domain.NewMalformedInputError("patient_id", "patient id is required"))
	}
	if len(candidates) == 0 {
		return fail(domain.NewMalformedInputError("candidates", "at least one candidate is required"))
	}

	vector, err := o.normalizer.Normalize(profile, history)
	if err != nil {
		return fail(err)
	}
	state = stateNormalized

	cfg := o.config()

	adjVersion, err := o.adjuster.AdjustmentVersion(ctx, patientID)
	if err != nil {
		return fail(fmt.Errorf("loading adjustment version: %w", err))
	}

	key := domain.CacheKey{
		PatientID:   patientID,
		Fingerprint: fingerprint(vector, candidates, cfg.ModelVersion, adjVersion),
	}

	rec, hit, err := o.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*domain.Recommendation, error) {
		return o.compute(ctx, patientID, vector, candidates, cfg)
	})
	if err != nil {
		return fail(err)
	}

	if hit {
		state = stateCacheHit
		// Waiters and later hits share the cached value; return a copy so
		// the stored recommendation stays immutable.
		hitCopy := *rec
		hitCopy.CacheHit = true
		rec = &hitCopy
	}

	state = stateReturned
	log.WithFields(logrus.Fields{
		"state":         string(state),
		"model_version": rec.ModelVersion,
		"cache_hit":     rec.CacheHit,
		"results":       len(rec.Results),
		"failures":      len(rec.Failures),
	}).Info("Recommendation request completed")

	return rec, nil
}

// compute runs the full scoring pipeline for a cache miss. It retries
// model-unavailable candidates with bounded exponential backoff, then
// returns scored candidates plus per-candidate failure markers; the request
// fails only when zero candidates succeeded.
func (o *Orchestrator) compute(ctx context.Context, patientID string, vector domain.FeatureVector, candidates []domain.TreatmentCandidate, cfg OrchestratorConfig) (*domain.Recommendation, error) {
	log := o.log.WithFields(logrus.Fields{
		"patient_id":    patientID,
		"model_version": cfg.ModelVersion,
		"state":         string(stateComputing),
	})
	log.Debug("Computing recommendation")

	outcomeByID := make(map[string]ScoreOutcome, len(candidates))
	pending := candidates

	for attempt := 0; ; attempt++ {
		outcomes, err := o.invoker.Invoke(ctx, cfg.ModelVersion, vector, pending)
		if err != nil {
			if domain.IsModelUnavailable(err) && attempt < cfg.MaxRetries {
				if err := o.backoff(ctx, cfg.RetryBaseDelay, attempt); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		var failed []domain.TreatmentCandidate
		for _, outcome := range outcomes {
			outcomeByID[outcome.Candidate.ID] = outcome
			if outcome.Err != nil && domain.IsModelUnavailable(outcome.Err) {
				failed = append(failed, outcome.Candidate)
			}
		}

		if len(failed) == 0 || attempt >= cfg.MaxRetries {
			break
		}

		log.WithFields(logrus.Fields{
			"attempt":        attempt + 1,
			"failed_batches": len(failed),
		}).Warn("Retrying unavailable candidates")

		if err := o.backoff(ctx, cfg.RetryBaseDelay, attempt); err != nil {
			return nil, err
		}
		pending = failed
	}

	results := make([]domain.PredictionResult, 0, len(candidates))
	var failures []domain.CandidateFailure
	var lastErr error

	for _, cand := range candidates {
		outcome := outcomeByID[cand.ID]
		if outcome.Err != nil {
			failures = append(failures, domain.CandidateFailure{
				Candidate: cand,
				Reason:    outcome.Err.Error(),
			})
			lastErr = outcome.Err
			continue
		}

		adjusted, err := o.adjuster.Adjust(ctx, patientID, cand, outcome.RawScore)
		if err != nil {
			return nil, fmt.Errorf("adjusting score for candidate %s: %w", cand.ID, err)
		}

		tier, confident, err := o.classifier.Classify(adjusted, cfg.Threshold)
		if err != nil {
			// Score range violations are integration bugs, fatal to the
			// request and never retried.
			log.WithError(err).WithField("candidate_id", cand.ID).Error("Score outside model contract range")
			return nil, err
		}

		results = append(results, domain.PredictionResult{
			Candidate:     cand,
			RawScore:      outcome.RawScore,
			AdjustedScore: adjusted,
			Tier:          tier,
			Confident:     confident,
		})
	}

	if len(results) == 0 {
		if lastErr == nil {
			lastErr = domain.NewModelUnavailableError(cfg.ModelVersion, nil)
		}
		return nil, lastErr
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].AdjustedScore != results[j].AdjustedScore {
			return results[i].AdjustedScore > results[j].AdjustedScore
		}
		return results[i].Candidate.ID < results[j].Candidate.ID
	})

	rec := &domain.Recommendation{
		PatientID:    patientID,
		ModelVersion: cfg.ModelVersion,
		Results:      results,
		Failures:     failures,
		GeneratedAt:  time.Now().UTC(),
	}

	if o.predictions != nil {
		if err := o.predictions.SaveResults(ctx, rec); err != nil {
			log.WithError(err).Warn("Failed to persist prediction results")
		}
	}

	log.WithFields(logrus.Fields{
		"state":    string(stateClassified),
		"results":  len(results),
		"failures": len(failures),
	}).Debug("Recommendation classified")

	return rec, nil
}

// RecordOutcome appends an observed outcome and triggers targeted cache
// invalidation through the adjuster. It bypasses the cache-read path
// entirely. Failures are always surfaced synchronously: lost outcomes would
// corrupt future adjustments.
func (o *Orchestrator) RecordOutcome(ctx context.Context, patientID string, candidate domain.TreatmentCandidate, observed float64) error {
	if patientID == "" {
		return domain.NewMalformedInputError("patient_id", "patient id is required")
	}
	if candidate.ID == "" {
		return domain.NewMalformedInputError("candidate", "candidate id is required")
	}
	if observed < 0 || observed > 1 {
		return domain.NewMalformedInputError("observed_outcome", "observed outcome must be in [0,1]")
	}

	if err := o.adjuster.RecordOutcome(ctx, patientID, candidate, observed); err != nil {
		return fmt.Errorf("recording outcome: %w", err)
	}

	o.log.WithFields(logrus.Fields{
		"patient_id":   patientID,
		"candidate_id": candidate.ID,
		"observed":     observed,
	}).Info("Outcome recorded")

	return nil
}

// backoff sleeps for the exponential retry delay, abandoning early if the
// caller's context is cancelled.
func (o *Orchestrator) backoff(ctx context.Context, base time.Duration, attempt int) error {
	delay := base << uint(attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fingerprint hashes the inputs identifying a cacheable unit of work:
// feature layout and vector bits, sorted candidate ids, model version, and
// the patient's adjustment version.
func fingerprint(vector domain.FeatureVector, candidates []domain.TreatmentCandidate, modelVersion string, adjustmentVersion uint64) string {
	h := sha256.New()

	h.Write([]byte(FeatureLayoutVersion))
	buf := make([]byte, 8)
	for _, f := range vector {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		h.Write(buf)
	}

	ids := make([]string, len(candidates))
	for i, cand := range candidates {
		ids[i] = cand.ID
	}
	sort.Strings(ids)
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}

	h.Write([]byte(modelVersion))
	binary.LittleEndian.PutUint64(buf, adjustmentVersion)
	h.Write(buf)

	return fmt.Sprintf("%x", h.Sum(nil))
}
