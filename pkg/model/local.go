package model

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/treatment-engine/internal/domain"
)

// LocalModel is a deterministic linear scorer that runs in-process. Its
// weights are derived from the version string and the candidate identity, so
// the same (version, vector, candidate) always produces the same score and
// distinct versions produce independent score surfaces.
type LocalModel struct {
	version string
}

// NewLocalModel creates a local scoring model for a version.
func NewLocalModel(version string) *LocalModel {
	return &LocalModel{version: version}
}

// Version returns the model version identifier.
func (m *LocalModel) Version() string {
	return m.version
}

// Score computes one score per candidate. Scores are always in [0,1].
func (m *LocalModel) Score(ctx context.Context, vector domain.FeatureVector, candidates []domain.TreatmentCandidate) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewModelUnavailableError(m.version, err)
	}

	scores := make([]float64, len(candidates))
	for i, cand := range candidates {
		weights := m.candidateWeights(cand, len(vector))

		var sum float64
		for j, feature := range vector {
			sum += feature * weights[j]
		}
		// Sigmoid keeps the raw score inside the model contract range.
		scores[i] = 1.0 / (1.0 + math.Exp(-sum))
	}
	return scores, nil
}

// candidateWeights derives a stable weight vector from the model version and
// candidate identity. Weights land in [-1,1].
func (m *LocalModel) candidateWeights(cand domain.TreatmentCandidate, n int) []float64 {
	seed := sha256.Sum256([]byte(m.version + "|" + cand.ID + "|" + cand.Category))

	weights := make([]float64, n)
	block := seed[:]
	for i := 0; i < n; i++ {
		if i > 0 && i%4 == 0 {
			next := sha256.Sum256(block)
			block = next[:]
		}
		off := (i % 4) * 8
		bits := binary.BigEndian.Uint64(block[off : off+8])
		weights[i] = float64(bits)/float64(math.MaxUint64)*2 - 1
	}
	return weights
}
