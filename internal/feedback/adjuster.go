// Package feedback folds recorded treatment outcomes into per-patient score
// adjustments. It owns the append-only progress history and derives a
// bounded, exponentially weighted correction per (patient, candidate
// category) that is applied to future raw model scores.
package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/treatment-engine/internal/domain"
)

// Invalidator drops cached predictions for a patient when their adjustment
// state changes.
type Invalidator interface {
	InvalidatePatient(patientID string)
}

// RawScoreSource serves the most recent raw score predicted for a
// (patient, candidate) pair, used to compute the outcome delta.
type RawScoreSource interface {
	LatestRawScore(ctx context.Context, patientID, candidateID string) (float64, bool, error)
}

// Config represents feedback adjustment configuration
type Config struct {
	// Decay is the weight kept from the previous term on each update; a new
	// delta contributes (1 - Decay).
	Decay float64
	// MaxAdjustment bounds the term to ±MaxAdjustment.
	MaxAdjustment float64
}

// DefaultConfig returns the reference feedback configuration: decay 0.7,
// adjustment bound ±0.2.
func DefaultConfig() Config {
	return Config{Decay: 0.7, MaxAdjustment: 0.2}
}

// patientState caches a patient's adjustment terms and version. Access is
// serialized per patient: appends and term recomputation for one patient
// never race, while distinct patients proceed independently.
type patientState struct {
	mu      sync.Mutex
	loaded  bool
	version uint64
	terms   map[string]float64 // by candidate category
}

// Adjuster implements the progress feedback loop.
type Adjuster struct {
	store       domain.ProgressStore
	scores      RawScoreSource
	invalidator Invalidator
	cfg         Config
	log         *logrus.Logger

	mu       sync.Mutex
	patients map[string]*patientState
}

// NewAdjuster creates a feedback adjuster. scores and invalidator may be
// nil: without a score source outcome deltas fall back to zero, and without
// an invalidator cache invalidation is the caller's responsibility.
func NewAdjuster(store domain.ProgressStore, scores RawScoreSource, invalidator Invalidator, config Config, logger *logrus.Logger) *Adjuster {
	if config.Decay <= 0 || config.Decay >= 1 {
		config.Decay = DefaultConfig().Decay
	}
	if config.MaxAdjustment <= 0 {
		config.MaxAdjustment = DefaultConfig().MaxAdjustment
	}
	return &Adjuster{
		store:       store,
		scores:      scores,
		invalidator: invalidator,
		cfg:         config,
		log:         logger,
		patients:    make(map[string]*patientState),
	}
}

func (a *Adjuster) patient(patientID string) *patientState {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.patients[patientID]
	if !ok {
		state = &patientState{terms: make(map[string]float64)}
		a.patients[patientID] = state
	}
	return state
}

// load populates version and terms from the store. Must hold state.mu.
func (a *Adjuster) load(ctx context.Context, patientID string, state *patientState) error {
	if state.loaded {
		return nil
	}

	count, err := a.store.Count(ctx, patientID)
	if err != nil {
		return fmt.Errorf("counting progress records: %w", err)
	}
	state.version = uint64(count)
	state.loaded = true
	return nil
}

// term returns the adjustment term for a category, replaying the stored
// history on first access. Must hold state.mu.
func (a *Adjuster) term(ctx context.Context, patientID, category string, state *patientState) (float64, error) {
	if t, ok := state.terms[category]; ok {
		return t, nil
	}

	records, err := a.store.ListByCategory(ctx, patientID, category)
	if err != nil {
		return 0, fmt.Errorf("listing progress records: %w", err)
	}

	t := a.replay(records)
	state.terms[category] = t
	return t, nil
}

// replay folds the historical deltas into the adjustment term. The clamp is
// applied after every step so a single outlier outcome cannot produce
// runaway drift.
func (a *Adjuster) replay(records []*domain.ProgressRecord) float64 {
	var term float64
	for _, record := range records {
		delta := record.ObservedOutcome - record.RawScore
		term = a.cfg.Decay*term + (1-a.cfg.Decay)*delta
		term = clampAbs(term, a.cfg.MaxAdjustment)
	}
	return term
}

// RecordOutcome appends a ProgressRecord, recomputes the patient's
// adjustment term, bumps their adjustment version, and invalidates their
// cached predictions. A storage failure is returned to the caller; outcomes
// must never be silently lost.
func (a *Adjuster) RecordOutcome(ctx context.Context, patientID string, candidate domain.TreatmentCandidate, observed float64) error {
	if observed < 0 || observed > 1 {
		return domain.NewMalformedInputError("observed_outcome", "observed outcome must be in [0,1]")
	}

	state := a.patient(patientID)
	state.mu.Lock()
	defer state.mu.Unlock()

	if err := a.load(ctx, patientID, state); err != nil {
		return err
	}

	// The delta is measured against the raw score the engine predicted for
	// this candidate. Without a recorded prediction the delta is zero: the
	// outcome still counts toward the history but carries no signal.
	rawScore := observed
	if a.scores != nil {
		if raw, found, err := a.scores.LatestRawScore(ctx, patientID, candidate.ID); err != nil {
			a.log.WithError(err).WithFields(logrus.Fields{
				"patient_id":   patientID,
				"candidate_id": candidate.ID,
			}).Warn("Failed to look up latest raw score, recording zero-delta outcome")
		} else if found {
			rawScore = raw
		}
	}

	record := &domain.ProgressRecord{
		PatientID:       patientID,
		CandidateID:     candidate.ID,
		Category:        candidate.Category,
		RawScore:        rawScore,
		ObservedOutcome: observed,
		Timestamp:       time.Now().UTC(),
	}

	if err := a.store.Append(ctx, record); err != nil {
		return fmt.Errorf("appending progress record: %w", err)
	}

	records, err := a.store.ListByCategory(ctx, patientID, candidate.Category)
	if err != nil {
		return fmt.Errorf("recomputing adjustment term: %w", err)
	}
	state.terms[candidate.Category] = a.replay(records)
	state.version++

	if a.invalidator != nil {
		a.invalidator.InvalidatePatient(patientID)
	}

	a.log.WithFields(logrus.Fields{
		"patient_id":         patientID,
		"candidate_id":       candidate.ID,
		"category":           candidate.Category,
		"observed":           observed,
		"adjustment_term":    state.terms[candidate.Category],
		"adjustment_version": state.version,
	}).Info("Progress record applied")

	return nil
}

// Adjust applies the patient's adjustment term for the candidate's category
// to a raw score, clamped to [0,1]. Patients without outcome history get the
// raw score unchanged.
func (a *Adjuster) Adjust(ctx context.Context, patientID string, candidate domain.TreatmentCandidate, rawScore float64) (float64, error) {
	state := a.patient(patientID)
	state.mu.Lock()
	defer state.mu.Unlock()

	if err := a.load(ctx, patientID, state); err != nil {
		return 0, err
	}

	term, err := a.term(ctx, patientID, candidate.Category, state)
	if err != nil {
		return 0, err
	}

	adjusted := rawScore + term
	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > 1 {
		adjusted = 1
	}
	return adjusted, nil
}

// AdjustmentVersion returns the patient's current adjustment version. It
// participates in the cache fingerprint so stale entries become unreachable
// the moment a new outcome lands.
func (a *Adjuster) AdjustmentVersion(ctx context.Context, patientID string) (uint64, error) {
	state := a.patient(patientID)
	state.mu.Lock()
	defer state.mu.Unlock()

	if err := a.load(ctx, patientID, state); err != nil {
		return 0, err
	}
	return state.version, nil
}

// Analyze summarizes a patient's outcome history: overall trend, average
// observed outcome, and treatment duration.
func (a *Adjuster) Analyze(ctx context.Context, patientID string) (*domain.ProgressSummary, error) {
	records, err := a.store.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing progress records: %w", err)
	}

	if len(records) == 0 {
		return &domain.ProgressSummary{
			PatientID: patientID,
			Status:    "no progress data available",
		}, nil
	}

	var sum float64
	for _, record := range records {
		sum += record.ObservedOutcome
	}

	summary := &domain.ProgressSummary{
		PatientID:      patientID,
		Status:         "active",
		AverageOutcome: sum / float64(len(records)),
		TotalEntries:   len(records),
		Latest:         records[len(records)-1],
		TreatmentDurationDays: int(records[len(records)-1].Timestamp.
			Sub(records[0].Timestamp).Hours() / 24),
	}
	summary.Trend = trend(records)
	return summary, nil
}

func trend(records []*domain.ProgressRecord) string {
	if len(records) < 2 {
		return "insufficient data"
	}

	recent := (records[len(records)-1].ObservedOutcome + records[len(records)-2].ObservedOutcome) / 2

	older := records[0].ObservedOutcome
	if len(records) > 2 {
		var sum float64
		for _, record := range records[:len(records)-2] {
			sum += record.ObservedOutcome
		}
		older = sum / float64(len(records)-2)
	}

	switch {
	case recent > older:
		return "improving"
	case recent < older:
		return "declining"
	default:
		return "stable"
	}
}

func clampAbs(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}
