package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/treatment-engine/internal/domain"
)

// MemoryPatientRepository keeps patient snapshots in process memory. Used by
// the standalone server, which runs without an external database.
type MemoryPatientRepository struct {
	mu        sync.RWMutex
	snapshots map[string]*domain.PatientSnapshot
}

// NewMemoryPatientRepository creates an empty in-memory patient repository.
func NewMemoryPatientRepository() *MemoryPatientRepository {
	return &MemoryPatientRepository{
		snapshots: make(map[string]*domain.PatientSnapshot),
	}
}

// Save upserts a patient snapshot.
func (r *MemoryPatientRepository) Save(ctx context.Context, snapshot *domain.PatientSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	copied := *snapshot
	copied.UpdatedAt = now
	if existing, ok := r.snapshots[snapshot.ID]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else {
		copied.CreatedAt = now
	}
	r.snapshots[snapshot.ID] = &copied
	return nil
}

// Get retrieves a patient snapshot by ID.
func (r *MemoryPatientRepository) Get(ctx context.Context, patientID string) (*domain.PatientSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot, ok := r.snapshots[patientID]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", patientID, domain.ErrNotFound)
	}
	copied := *snapshot
	return &copied, nil
}
