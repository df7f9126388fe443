// Package cache implements the prediction cache: a compute-avoidance layer
// keyed by input+model fingerprints, with single-flight computation, TTL and
// LRU bounds, and an optional best-effort distributed tier.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/treatment-engine/internal/domain"
)

// RemoteTier is an optional distributed cache tier. All failures are treated
// as cache misses; the tier is never allowed to fail a request.
type RemoteTier interface {
	Get(ctx context.Context, fingerprint string) (*domain.Recommendation, bool, error)
	Set(ctx context.Context, fingerprint, patientID string, rec *domain.Recommendation, ttl time.Duration) error
	InvalidatePatient(ctx context.Context, patientID string) error
	Flush(ctx context.Context) error
	Close() error
}

// remoteOpTimeout bounds best-effort remote tier operations that run outside
// a request context.
const remoteOpTimeout = 2 * time.Second

// PredictionCache memoizes ranked recommendations. It guarantees at most one
// concurrent computation per key: concurrent requesters for the same key
// join the in-flight computation and receive the same result. A requester
// may abandon its wait; the computation itself is never cancelled since
// other waiters may still need the result.
type PredictionCache struct {
	log    *logrus.Logger
	group  singleflight.Group
	remote RemoteTier

	mu      sync.Mutex
	mem     *expirable.LRU[string, *domain.Recommendation]
	ttl     time.Duration
	maxSize int

	idxMu      sync.Mutex
	byPatient  map[string]map[string]struct{}
	keyPatient map[string]string
}

// NewPredictionCache creates a prediction cache with the given TTL and
// maximum entry count. remote may be nil.
func NewPredictionCache(ttl time.Duration, maxSize int, remote RemoteTier, logger *logrus.Logger) *PredictionCache {
	c := &PredictionCache{
		log:        logger,
		remote:     remote,
		ttl:        ttl,
		maxSize:    maxSize,
		byPatient:  make(map[string]map[string]struct{}),
		keyPatient: make(map[string]string),
	}
	c.mem = expirable.NewLRU[string, *domain.Recommendation](maxSize, c.onEvict, ttl)
	return c
}

// onEvict drops the patient index for an expired or LRU-evicted key. It runs
// under the LRU's internal lock, so it must only touch the index maps.
func (c *PredictionCache) onEvict(key string, _ *domain.Recommendation) {
	c.idxMu.Lock()
	defer c.idxMu.Unlock()
	c.removeIndexLocked(key)
}

func (c *PredictionCache) removeIndexLocked(key string) {
	patientID, ok := c.keyPatient[key]
	if !ok {
		return
	}
	delete(c.keyPatient, key)
	if keys, ok := c.byPatient[patientID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byPatient, patientID)
		}
	}
}

// GetOrCompute returns the cached recommendation for key, or computes it
// with at most one concurrent computation per key. The boolean reports a
// cache hit. Recommendations carrying per-candidate failures are returned
// but never stored, so a degraded result does not shadow a later complete
// one.
func (c *PredictionCache) GetOrCompute(ctx context.Context, key domain.CacheKey, compute func(ctx context.Context) (*domain.Recommendation, error)) (*domain.Recommendation, bool, error) {
	c.mu.Lock()
	rec, ok := c.mem.Get(key.Fingerprint)
	c.mu.Unlock()
	if ok {
		return rec, true, nil
	}

	if c.remote != nil {
		rec, found, err := c.remote.Get(ctx, key.Fingerprint)
		if err != nil {
			// Best-effort tier: degrade to compute, never propagate.
			c.log.WithError(&domain.CacheUnavailableError{Cause: err}).Warn("Remote cache tier unavailable, computing directly")
		} else if found {
			c.store(key, rec, false)
			return rec, true, nil
		}
	}

	// The computation runs detached from the requester's context: a caller
	// abandoning its wait must not cancel work other waiters depend on.
	computeCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.Fingerprint, func() (interface{}, error) {
		rec, err := compute(computeCtx)
		if err != nil {
			return nil, err
		}
		if len(rec.Failures) == 0 {
			c.store(key, rec, true)
		}
		return rec, nil
	})

	select {
	case result := <-ch:
		if result.Err != nil {
			return nil, false, result.Err
		}
		return result.Val.(*domain.Recommendation), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// store inserts a recommendation into the memory tier and, when writeRemote
// is set, the remote tier.
func (c *PredictionCache) store(key domain.CacheKey, rec *domain.Recommendation, writeRemote bool) {
	c.mu.Lock()
	c.mem.Add(key.Fingerprint, rec)
	c.mu.Unlock()

	c.idxMu.Lock()
	if _, ok := c.byPatient[key.PatientID]; !ok {
		c.byPatient[key.PatientID] = make(map[string]struct{})
	}
	c.byPatient[key.PatientID][key.Fingerprint] = struct{}{}
	c.keyPatient[key.Fingerprint] = key.PatientID
	c.idxMu.Unlock()

	if writeRemote && c.remote != nil {
		ctx, cancel := context.WithTimeout(context.Background(), remoteOpTimeout)
		defer cancel()
		if err := c.remote.Set(ctx, key.Fingerprint, key.PatientID, rec, 0); err != nil {
			c.log.WithError(err).Warn("Failed to write remote cache tier")
		}
	}
}

// InvalidatePatient removes all entries derived from a patient's features.
// Called by the feedback adjuster whenever a new outcome changes the
// patient's adjustment state.
func (c *PredictionCache) InvalidatePatient(patientID string) {
	c.idxMu.Lock()
	keys := make([]string, 0, len(c.byPatient[patientID]))
	for key := range c.byPatient[patientID] {
		keys = append(keys, key)
	}
	c.idxMu.Unlock()

	for _, key := range keys {
		c.mu.Lock()
		c.mem.Remove(key)
		c.mu.Unlock()
	}

	if c.remote != nil {
		ctx, cancel := context.WithTimeout(context.Background(), remoteOpTimeout)
		defer cancel()
		if err := c.remote.InvalidatePatient(ctx, patientID); err != nil {
			c.log.WithError(err).Warn("Failed to invalidate remote cache tier")
		}
	}

	c.log.WithFields(logrus.Fields{
		"patient_id": patientID,
		"entries":    len(keys),
	}).Debug("Invalidated cached predictions for patient")
}

// Flush removes every entry. Used when the model version changes, since
// scores are no longer comparable across versions.
func (c *PredictionCache) Flush() {
	c.mu.Lock()
	c.mem.Purge()
	c.mu.Unlock()

	c.idxMu.Lock()
	c.byPatient = make(map[string]map[string]struct{})
	c.keyPatient = make(map[string]string)
	c.idxMu.Unlock()

	if c.remote != nil {
		ctx, cancel := context.WithTimeout(context.Background(), remoteOpTimeout)
		defer cancel()
		if err := c.remote.Flush(ctx); err != nil {
			c.log.WithError(err).Warn("Failed to flush remote cache tier")
		}
	}
}

// Configure applies a new TTL and maximum entry count. The expirable LRU
// fixes both at construction time, so a change rebuilds the memory tier and
// discards its entries. Unchanged settings are a no-op, keeping config
// reloads that touch other sections from emptying the cache.
func (c *PredictionCache) Configure(ttl time.Duration, maxSize int) {
	c.mu.Lock()
	if ttl == c.ttl && maxSize == c.maxSize {
		c.mu.Unlock()
		return
	}
	c.ttl = ttl
	c.maxSize = maxSize
	c.mem = expirable.NewLRU[string, *domain.Recommendation](maxSize, c.onEvict, ttl)
	c.mu.Unlock()

	c.idxMu.Lock()
	c.byPatient = make(map[string]map[string]struct{})
	c.keyPatient = make(map[string]string)
	c.idxMu.Unlock()

	c.log.WithFields(logrus.Fields{
		"ttl":      ttl,
		"max_size": maxSize,
	}).Info("Prediction cache reconfigured")
}

// Len reports the number of entries in the memory tier.
func (c *PredictionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mem.Len()
}
