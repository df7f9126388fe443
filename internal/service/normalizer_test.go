package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treatment-engine/internal/domain"
)

func testProfile() domain.GenomicProfile {
	return domain.GenomicProfile{
		"BRCA1": {Variant: "c.68_69delAG", MutationScore: 0.9},
		"TP53":  {Variant: "c.743G>A", MutationScore: 0.4},
	}
}

func testHistory() *domain.MedicalHistory {
	return &domain.MedicalHistory{
		Records: []domain.HistoryRecord{
			{Condition: "breast cancer", Treatment: "lumpectomy"},
			{Allergy: "penicillin"},
			{Medication: "tamoxifen"},
		},
	}
}

func TestNormalizer_FixedLength(t *testing.T) {
	normalizer := NewFeatureNormalizer()

	vector, err := normalizer.Normalize(testProfile(), testHistory())
	require.NoError(t, err)
	assert.Len(t, vector, VectorLength)
}

func TestNormalizer_Deterministic(t *testing.T) {
	normalizer := NewFeatureNormalizer()

	first, err := normalizer.Normalize(testProfile(), testHistory())
	require.NoError(t, err)
	second, err := normalizer.Normalize(testProfile(), testHistory())
	require.NoError(t, err)

	assert.Equal(t, first, second, "equal inputs must produce identical vectors")
}

func TestNormalizer_GeneOrderIsFixed(t *testing.T) {
	normalizer := NewFeatureNormalizer()

	vector, err := normalizer.Normalize(testProfile(), testHistory())
	require.NoError(t, err)

	// BRCA1 is the first panel slot, TP53 the third.
	assert.Equal(t, 0.9, vector[0])
	assert.Equal(t, 0.4, vector[2])
}

func TestNormalizer_MissingGeneIsZero(t *testing.T) {
	normalizer := NewFeatureNormalizer()

	vector, err := normalizer.Normalize(domain.GenomicProfile{}, testHistory())
	require.NoError(t, err)

	for i := 0; i < len(genePanel); i++ {
		assert.Zero(t, vector[i], "slot %d should default to 0.0", i)
	}
}

func TestNormalizer_HistoryCounts(t *testing.T) {
	normalizer := NewFeatureNormalizer()

	vector, err := normalizer.Normalize(testProfile(), testHistory())
	require.NoError(t, err)

	base := len(genePanel)
	assert.Equal(t, 0.1, vector[base], "one condition")
	assert.Equal(t, 0.1, vector[base+1], "one treatment")
	assert.Equal(t, 0.1, vector[base+2], "one allergy")
	assert.Equal(t, 0.1, vector[base+3], "one medication")
}

func TestNormalizer_HistoryCountsCapped(t *testing.T) {
	normalizer := NewFeatureNormalizer()

	var records []domain.HistoryRecord
	for i := 0; i < 25; i++ {
		records = append(records, domain.HistoryRecord{Condition: "chronic condition"})
	}

	vector, err := normalizer.Normalize(testProfile(), &domain.MedicalHistory{Records: records})
	require.NoError(t, err)
	assert.Equal(t, 1.0, vector[len(genePanel)])
}

func TestNormalizer_MutationScoreClamped(t *testing.T) {
	normalizer := NewFeatureNormalizer()

	profile := domain.GenomicProfile{
		"BRCA1": {Variant: "x", MutationScore: 1.7},
		"BRCA2": {Variant: "y", MutationScore: -0.3},
	}

	vector, err := normalizer.Normalize(profile, testHistory())
	require.NoError(t, err)
	assert.Equal(t, 1.0, vector[0])
	assert.Equal(t, 0.0, vector[1])
}

func TestNormalizer_RejectsMissingInputs(t *testing.T) {
	normalizer := NewFeatureNormalizer()

	_, err := normalizer.Normalize(nil, testHistory())
	require.Error(t, err)
	assert.True(t, domain.IsMalformedInput(err))

	_, err = normalizer.Normalize(testProfile(), nil)
	require.Error(t, err)
	assert.True(t, domain.IsMalformedInput(err))
}
