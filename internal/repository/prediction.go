package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/treatment-engine/internal/domain"
)

// PredictionRepository handles prediction result persistence
type PredictionRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPredictionRepository creates a new prediction repository
func NewPredictionRepository(db *pgxpool.Pool, logger *logrus.Logger) *PredictionRepository {
	return &PredictionRepository{
		db:  db,
		log: logger,
	}
}

// SaveResults persists every scored candidate of a recommendation in one
// transaction. Later predictions supersede earlier ones for LatestRawScore.
func (r *PredictionRepository) SaveResults(ctx context.Context, rec *domain.Recommendation) error {
	if len(rec.Results) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO predictions (
			id, patient_id, candidate_id, dosage_class, category,
			model_version, raw_score, adjusted_score, efficacy_tier, confident,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	for _, result := range rec.Results {
		_, err := tx.Exec(ctx, query,
			uuid.New(),
			rec.PatientID,
			result.Candidate.ID,
			result.Candidate.DosageClass,
			result.Candidate.Category,
			rec.ModelVersion,
			result.RawScore,
			result.AdjustedScore,
			string(result.Tier),
			result.Confident,
			rec.GeneratedAt,
		)
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"patient_id":   rec.PatientID,
				"candidate_id": result.Candidate.ID,
				"error":        err,
			}).Error("Failed to save prediction result")
			return fmt.Errorf("saving prediction result: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing predictions: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id":    rec.PatientID,
		"model_version": rec.ModelVersion,
		"results":       len(rec.Results),
	}).Info("Prediction results saved")

	return nil
}

// LatestRawScore returns the most recent raw score recorded for a
// (patient, candidate) pair. The second return value reports whether any
// prediction exists.
func (r *PredictionRepository) LatestRawScore(ctx context.Context, patientID, candidateID string) (float64, bool, error) {
	query := `
		SELECT raw_score
		FROM predictions
		WHERE patient_id = $1 AND candidate_id = $2
		ORDER BY created_at DESC
		LIMIT 1`

	var rawScore float64
	err := r.db.QueryRow(ctx, query, patientID, candidateID).Scan(&rawScore)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		r.log.WithFields(logrus.Fields{
			"patient_id":   patientID,
			"candidate_id": candidateID,
			"error":        err,
		}).Error("Failed to query latest raw score")
		return 0, false, fmt.Errorf("querying latest raw score: %w", err)
	}

	return rawScore, true, nil
}

// History returns a patient's stored predictions, newest first, capped at
// limit rows.
func (r *PredictionRepository) History(ctx context.Context, patientID string, limit int) ([]domain.PredictionResult, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT candidate_id, dosage_class, category, raw_score, adjusted_score,
			   efficacy_tier, confident
		FROM predictions
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying prediction history: %w", err)
	}
	defer rows.Close()

	var results []domain.PredictionResult
	for rows.Next() {
		var (
			result domain.PredictionResult
			tier   string
		)
		err := rows.Scan(
			&result.Candidate.ID,
			&result.Candidate.DosageClass,
			&result.Candidate.Category,
			&result.RawScore,
			&result.AdjustedScore,
			&tier,
			&result.Confident,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning prediction row: %w", err)
		}
		result.Tier = domain.EfficacyTier(tier)
		results = append(results, result)
	}

	return results, rows.Err()
}
