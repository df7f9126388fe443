package service

import (
	"github.com/treatment-engine/internal/domain"
)

// TierBoundaries defines the lower (inclusive) edges of the medium and high
// efficacy tiers.
type TierBoundaries struct {
	Medium float64
	High   float64
}

// DefaultTierBoundaries returns the reference boundaries: scores below 0.33
// are low, below 0.66 medium, and 0.66 upward high.
func DefaultTierBoundaries() TierBoundaries {
	return TierBoundaries{Medium: 0.33, High: 0.66}
}

// EfficacyClassifier maps adjusted scores to an efficacy tier and a
// pass/fail confidence decision against a configured threshold.
type EfficacyClassifier struct {
	boundaries TierBoundaries
}

// NewEfficacyClassifier creates a classifier with the given tier boundaries.
func NewEfficacyClassifier(boundaries TierBoundaries) *EfficacyClassifier {
	return &EfficacyClassifier{boundaries: boundaries}
}

// Classify buckets an adjusted score and decides confidence. A score outside
// [0,1] is an upstream model contract violation and returns ScoreRangeError.
func (c *EfficacyClassifier) Classify(adjustedScore, threshold float64) (domain.EfficacyTier, bool, error) {
	if adjustedScore < 0 || adjustedScore > 1 {
		return "", false, &domain.ScoreRangeError{Score: adjustedScore}
	}

	var tier domain.EfficacyTier
	switch {
	case adjustedScore >= c.boundaries.High:
		tier = domain.TierHigh
	case adjustedScore >= c.boundaries.Medium:
		tier = domain.TierMedium
	default:
		tier = domain.TierLow
	}

	return tier, adjustedScore >= threshold, nil
}
