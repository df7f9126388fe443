// Package model provides scoring model implementations and the version
// registry used to dispatch recommendation requests to a trained model.
package model

import (
	"sort"
	"sync"

	"github.com/treatment-engine/internal/domain"
)

// Registry maps model versions to their scoring capability. Versions may
// coexist so that requests can be routed to different models for A/B
// comparison.
type Registry struct {
	mu     sync.RWMutex
	models map[string]domain.ScoringModel
}

// NewRegistry creates an empty model registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]domain.ScoringModel)}
}

// Register adds a model under its version, replacing any previous entry.
func (r *Registry) Register(m domain.ScoringModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Version()] = m
}

// Lookup resolves a version to its model. An unknown version surfaces as
// ModelUnavailableError since the model cannot be loaded.
func (r *Registry) Lookup(version string) (domain.ScoringModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[version]
	if !ok {
		return nil, domain.NewModelUnavailableError(version, nil)
	}
	return m, nil
}

// Versions returns all registered versions in sorted order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]string, 0, len(r.models))
	for v := range r.models {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}
