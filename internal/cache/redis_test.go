package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treatment-engine/internal/domain"
)

// getTestRedis returns a Redis tier for testing.
// Skip test if TEST_REDIS_URL is not set.
func getTestRedis(t *testing.T) *RedisTierClient {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set, skipping Redis tests")
	}

	tier, err := NewRedisTier(domain.CacheConfig{
		RedisURL: redisURL,
		TTL:      time.Minute,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		tier.Flush(context.Background())
		tier.Close()
	})
	return tier
}

func TestRedisTier_SetGet(t *testing.T) {
	tier := getTestRedis(t)
	ctx := context.Background()

	rec := testRecommendation("p1")
	require.NoError(t, tier.Set(ctx, "fp1", "p1", rec, 0))

	got, found, err := tier.Get(ctx, "fp1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.PatientID, got.PatientID)
	assert.Len(t, got.Results, 1)
}

func TestRedisTier_Miss(t *testing.T) {
	tier := getTestRedis(t)

	_, found, err := tier.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisTier_InvalidatePatient(t *testing.T) {
	tier := getTestRedis(t)
	ctx := context.Background()

	require.NoError(t, tier.Set(ctx, "fp1", "p1", testRecommendation("p1"), 0))
	require.NoError(t, tier.Set(ctx, "fp2", "p1", testRecommendation("p1"), 0))
	require.NoError(t, tier.Set(ctx, "fp3", "p2", testRecommendation("p2"), 0))

	require.NoError(t, tier.InvalidatePatient(ctx, "p1"))

	_, found, err := tier.Get(ctx, "fp1")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = tier.Get(ctx, "fp3")
	require.NoError(t, err)
	assert.True(t, found, "other patients' entries must survive")
}
