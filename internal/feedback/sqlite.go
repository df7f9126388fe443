package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/treatment-engine/internal/domain"
)

// SQLiteStore implements the progress store using SQLite, for standalone
// deployments that need no external database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite progress store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a row into a ProgressRecord.
func scanRecord(s scanner) (*domain.ProgressRecord, error) {
	record := &domain.ProgressRecord{}
	err := s.Scan(
		&record.ID, &record.PatientID, &record.CandidateID, &record.Category,
		&record.RawScore, &record.ObservedOutcome, &record.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS patient_progress (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id TEXT NOT NULL,
		candidate_id TEXT NOT NULL,
		category TEXT DEFAULT '',
		raw_score REAL NOT NULL,
		observed_outcome REAL NOT NULL,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_progress_patient ON patient_progress(patient_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_progress_category ON patient_progress(patient_id, category, recorded_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Append stores a new progress record. Records are append-only; there is no
// update path.
func (s *SQLiteStore) Append(ctx context.Context, record *domain.ProgressRecord) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO patient_progress (
			patient_id, candidate_id, category, raw_score, observed_outcome, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		record.PatientID,
		record.CandidateID,
		record.Category,
		record.RawScore,
		record.ObservedOutcome,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	record.ID = id

	return nil
}

// ListByPatient returns all progress records for a patient, oldest first.
func (s *SQLiteStore) ListByPatient(ctx context.Context, patientID string) ([]*domain.ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, candidate_id, category, raw_score, observed_outcome, recorded_at
		FROM patient_progress
		WHERE patient_id = ?
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
func (s *SQLiteStore) ListByCategory(ctx context.Context, patientID, category string) ([]*domain.ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, candidate_id, category, raw_score, observed_outcome, recorded_at
		FROM patient_progress
		WHERE patient_id = ? AND category = ?
		ORDER BY recorded_at, id
	`, patientID, category)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// Count returns the number of progress records for a patient.
func (s *SQLiteStore) Count(ctx context.Context, patientID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM patient_progress WHERE patient_id = ?", patientID,
	).Scan(&count)
	return count, err
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func collectRecords(rows *sql.Rows) ([]*domain.ProgressRecord, error) {
	var result []*domain.ProgressRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, record)
	}
	return result, rows.Err()
}
