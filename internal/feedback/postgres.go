package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/treatment-engine/internal/domain"
)

// PostgresStore implements the progress store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL progress store.
// It expects the database and schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL progress store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Append stores a new progress record.
func (s *PostgresStore) Append(ctx context.Context, record *domain.ProgressRecord) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO patient_progress (
			patient_id, candidate_id, category, raw_score, observed_outcome, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		record.PatientID,
		record.CandidateID,
		record.Category,
		record.RawScore,
		record.ObservedOutcome,
		record.Timestamp,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// ListByPatient returns all progress records for a patient, oldest first.
func (s *PostgresStore) ListByPatient(ctx context.Context, patientID string) ([]*domain.ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, candidate_id, category, raw_score, observed_outcome, recorded_at
		FROM patient_progress
		WHERE patient_id = $1
		ORDER BY recorded_at, id
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ListByCategory returns a patient's progress records for one candidate
// category, oldest first.
func (s *PostgresStore) ListByCategory(ctx context.Context, patientID, category string) ([]*domain.ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, candidate_id, category, raw_score, observed_outcome, recorded_at
		FROM patient_progress
		WHERE patient_id = $1 AND category = $2
		ORDER BY recorded_at, id
	`, patientID, category)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// Count returns the number of progress records for a patient.
func (s *PostgresStore) Count(ctx context.Context, patientID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM patient_progress WHERE patient_id = $1", patientID,
	).Scan(&count)
	return count, err
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
