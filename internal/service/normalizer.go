// Package service implements the treatment recommendation engine: feature
// normalization, model invocation, efficacy classification, and the
// orchestrator that composes them.
package service

import (
	"github.com/treatment-engine/internal/domain"
)

// FeatureLayoutVersion identifies the feature vector layout. It must be
// bumped whenever the gene panel or history slots change, since cached
// entries and older models depend on the layout staying fixed.
const FeatureLayoutVersion = "v1"

// genePanel defines the fixed order of gene slots in the feature vector.
// The order is part of the layout contract and never changes within a
// layout version.
var genePanel = []string{
	"BRCA1", "BRCA2", "TP53", "EGFR",
	"KRAS", "NRAS", "BRAF", "ALK",
	"PTEN", "PIK3CA", "ERBB2", "MET",
	"RET", "ROS1", "APC", "MLH1",
}

// historySlots is the number of aggregate history features appended after
// the gene panel: conditions, prior treatments, allergies, medications.
const historySlots = 4

// historyCountCap bounds each history count before scaling, so one patient
// with a very long record cannot saturate the feature.
const historyCountCap = 10

// VectorLength is the fixed length of every feature vector.
var VectorLength = len(genePanel) + historySlots

// FeatureNormalizer projects a patient profile into a fixed-shape numeric
// feature vector. Normalization is pure and deterministic: equal inputs
// always produce bit-identical vectors.
type FeatureNormalizer struct{}

// NewFeatureNormalizer creates a feature normalizer.
func NewFeatureNormalizer() *FeatureNormalizer {
	return &FeatureNormalizer{}
}

// Normalize converts a genomic profile and medical history into a feature
// vector. Missing gene entries map to 0.0 rather than failing, since absent
// data is common in genomic intake. It fails only when a required top-level
// object is absent entirely.
func (n *FeatureNormalizer) Normalize(profile domain.GenomicProfile, history *domain.MedicalHistory) (domain.FeatureVector, error) {
	if profile == nil {
		return nil, domain.NewMalformedInputError("genomic_profile", "genomic profile is required")
	}
	if history == nil {
		return nil, domain.NewMalformedInputError("medical_history", "medical history is required")
	}

	vector := make(domain.FeatureVector, 0, VectorLength)

	// Gene slots in panel order, not map order.
	for _, gene := range genePanel {
		marker, ok := profile[gene]
		if !ok {
			vector = append(vector, 0.0)
			continue
		}
		vector = append(vector, clamp01(marker.MutationScore))
	}

	var conditions, treatments, allergies, medications int
	for _, record := range history.Records {
		if record.Condition != "" {
			conditions++
		}
		if record.Treatment != "" {
			treatments++
		}
		if record.Allergy != "" {
			allergies++
		}
		if record.Medication != "" {
			medications++
		}
	}

	vector = append(vector,
		scaleCount(conditions),
		scaleCount(treatments),
		scaleCount(allergies),
		scaleCount(medications),
	)

	return vector, nil
}

func scaleCount(n int) float64 {
	if n > historyCountCap {
		n = historyCountCap
	}
	return float64(n) / float64(historyCountCap)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
