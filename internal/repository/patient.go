package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/treatment-engine/internal/domain"
)

// PatientRepository handles patient snapshot persistence
type PatientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{
		db:  db,
		log: logger,
	}
}

// Save upserts a patient snapshot. The genomic profile and medical history
// are stored as JSONB documents.
func (r *PatientRepository) Save(ctx context.Context, snapshot *domain.PatientSnapshot) error {
	profile, err := json.Marshal(snapshot.GenomicProfile)
	if err != nil {
		return fmt.Errorf("marshaling genomic profile: %w", err)
	}

	history, err := json.Marshal(snapshot.MedicalHistory)
	if err != nil {
		return fmt.Errorf("marshaling medical history: %w", err)
	}

	query := `
		INSERT INTO patients (id, genomic_profile, medical_history, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			genomic_profile = EXCLUDED.genomic_profile,
			medical_history = EXCLUDED.medical_history,
			updated_at = NOW()`

	_, err = r.db.Exec(ctx, query, snapshot.ID, profile, history)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": snapshot.ID,
			"error":      err,
		}).Error("Failed to save patient snapshot")
		return fmt.Errorf("saving patient: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id": snapshot.ID,
		"genes":      len(snapshot.GenomicProfile),
	}).Info("Patient snapshot saved")

	return nil
}

// Get retrieves a patient snapshot by ID
func (r *PatientRepository) Get(ctx context.Context, patientID string) (*domain.PatientSnapshot, error) {
	query := `
		SELECT id, genomic_profile, medical_history, created_at, updated_at
		FROM patients
		WHERE id = $1`

	var (
		snapshot             domain.PatientSnapshot
		profile, history     []byte
		createdAt, updatedAt time.Time
	)

	err := r.db.QueryRow(ctx, query, patientID).Scan(
		&snapshot.ID,
		&profile,
		&history,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("patient %s: %w", patientID, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to get patient snapshot")
		return nil, fmt.Errorf("getting patient: %w", err)
	}

	if err := json.Unmarshal(profile, &snapshot.GenomicProfile); err != nil {
		return nil, fmt.Errorf("unmarshaling genomic profile: %w", err)
	}
	if err := json.Unmarshal(history, &snapshot.MedicalHistory); err != nil {
		return nil, fmt.Errorf("unmarshaling medical history: %w", err)
	}
	snapshot.CreatedAt = createdAt
	snapshot.UpdatedAt = updatedAt

	return &snapshot, nil
}
