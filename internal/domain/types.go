package domain

import (
	"time"
)

// GeneMarker holds the observed variant and its mutation score for one gene.
type GeneMarker struct {
	Variant       string  `json:"variant"`
	MutationScore float64 `json:"mutation_score"`
}

// GenomicProfile maps gene symbols to their observed markers.
// A profile is immutable once ingested for a given patient snapshot.
type GenomicProfile map[string]GeneMarker

// HistoryRecord is a single entry in a patient's medical history.
// Any subset of its fields may be populated.
type HistoryRecord struct {
	Condition  string `json:"condition,omitempty"`
	Treatment  string `json:"treatment,omitempty"`
	Allergy    string `json:"allergy,omitempty"`
	Medication string `json:"medication,omitempty"`
}

// MedicalHistory is an ordered, append-only sequence of history records.
type MedicalHistory struct {
	Records []HistoryRecord `json:"records"`
}

// FeatureVector is a fixed-length numeric projection of a patient profile.
// Equal inputs always produce bit-identical vectors.
type FeatureVector []float64

// TreatmentCandidate identifies a treatment under consideration. The
// candidate universe is supplied by the caller, not owned by the engine.
type TreatmentCandidate struct {
	ID          string `json:"id"`
	DosageClass string `json:"dosage_class,omitempty"`
	Category    string `json:"category,omitempty"`
}

// EfficacyTier is a coarse bucket derived from a continuous adjusted score.
type EfficacyTier string

const (
	TierLow    EfficacyTier = "low"
	TierMedium EfficacyTier = "medium"
	TierHigh   EfficacyTier = "high"
)

// PredictionResult is a single scored candidate. Results are never mutated
// after creation; a later prediction supersedes them.
type PredictionResult struct {
	Candidate     TreatmentCandidate `json:"candidate"`
	RawScore      float64            `json:"raw_score"`
	AdjustedScore float64            `json:"adjusted_score"`
	Tier          EfficacyTier       `json:"efficacy_tier"`
	Confident     bool               `json:"confident"`
}

// CandidateFailure marks a candidate whose invocation failed mid-batch.
type CandidateFailure struct {
	Candidate TreatmentCandidate `json:"candidate"`
	Reason    string             `json:"reason"`
}

// Recommendation is the ranked output of one recommendation request.
type Recommendation struct {
	PatientID    string             `json:"patient_id"`
	ModelVersion string             `json:"model_version"`
	Results      []PredictionResult `json:"results"`
	Failures     []CandidateFailure `json:"failures,omitempty"`
	CacheHit     bool               `json:"cache_hit"`
	GeneratedAt  time.Time          `json:"generated_at"`
}

// ProgressRecord is one observed real-world outcome for a treatment.
// Records are append-only and owned by the feedback adjuster.
type ProgressRecord struct {
	ID              int64     `json:"id,omitempty"`
	PatientID       string    `json:"patient_id"`
	CandidateID     string    `json:"candidate_id"`
	Category        string    `json:"category,omitempty"`
	RawScore        float64   `json:"raw_score"`
	ObservedOutcome float64   `json:"observed_outcome"`
	Timestamp       time.Time `json:"timestamp"`
}

// ProgressSummary aggregates a patient's outcome history.
type ProgressSummary struct {
	PatientID             string          `json:"patient_id"`
	Status                string          `json:"status"`
	Trend                 string          `json:"trend,omitempty"`
	AverageOutcome        float64         `json:"average_outcome"`
	TotalEntries          int             `json:"total_entries"`
	Latest                *ProgressRecord `json:"latest_entry,omitempty"`
	TreatmentDurationDays int             `json:"treatment_duration_days"`
}

// PatientSnapshot is the persisted patient profile used for recommendations.
type PatientSnapshot struct {
	ID             string          `json:"id"`
	GenomicProfile GenomicProfile  `json:"genomic_profile"`
	MedicalHistory *MedicalHistory `json:"medical_history"`
	CreatedAt      time.Time       `json:"created_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at,omitempty"`
}
