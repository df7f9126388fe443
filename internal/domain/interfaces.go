package domain

import (
	"context"
)

// ScoringModel is a versioned, pure scoring function. Implementations must
// be deterministic: the same (version, vector, candidates) always yields the
// same scores. The engine assumes this for cache correctness but does not
// re-verify it.
type ScoringModel interface {
	Version() string
	Score(ctx context.Context, vector FeatureVector, candidates []TreatmentCandidate) ([]float64, error)
}

// ModelRegistry resolves a model version to its scoring capability.
// Multiple versions may coexist for A/B comparison.
type ModelRegistry interface {
	Lookup(version string) (ScoringModel, error)
	Versions() []string
}

// PredictionCache memoizes ranked recommendations keyed by an input+model
// fingerprint. Implementations guarantee at most one concurrent computation
// per key and degrade to direct compute when a storage tier is unavailable.
type PredictionCache interface {
	GetOrCompute(ctx context.Context, key CacheKey, compute func(ctx context.Context) (*Recommendation, error)) (*Recommendation, bool, error)
	InvalidatePatient(patientID string)
	Flush()
}

// CacheKey identifies a cacheable unit of work.
type CacheKey struct {
	PatientID   string
	Fingerprint string
}

// FeedbackAdjuster folds recorded treatment outcomes into per-patient
// corrections applied to future raw scores.
type FeedbackAdjuster interface {
	RecordOutcome(ctx context.Context, patientID string, candidate TreatmentCandidate, observed float64) error
	Adjust(ctx context.Context, patientID string, candidate TreatmentCandidate, rawScore float64) (float64, error)
	AdjustmentVersion(ctx context.Context, patientID string) (uint64, error)
}

// ProgressStore persists append-only outcome records, range-sorted by
// timestamp within a patient partition.
type ProgressStore interface {
	Append(ctx context.Context, record *ProgressRecord) error
	ListByPatient(ctx context.Context, patientID string) ([]*ProgressRecord, error)
	ListByCategory(ctx context.Context, patientID, category string) ([]*ProgressRecord, error)
	Count(ctx context.Context, patientID string) (int64, error)
	Close() error
}

// PatientRepository persists patient snapshots in the patients collection.
type PatientRepository interface {
	Save(ctx context.Context, snapshot *PatientSnapshot) error
	Get(ctx context.Context, patientID string) (*PatientSnapshot, error)
}

// PredictionRepository persists prediction results and serves the latest raw
// score for a (patient, candidate) pair to the feedback adjuster.
type PredictionRepository interface {
	SaveResults(ctx context.Context, rec *Recommendation) error
	LatestRawScore(ctx context.Context, patientID, candidateID string) (float64, bool, error)
}

// ConfigManager defines the interface for configuration management.
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetModelConfig() *ModelConfig
	GetCacheConfig() *CacheConfig
	GetFeedbackConfig() *FeedbackConfig
	Reload() error
	Validate() error
	IsProduction() bool
}
