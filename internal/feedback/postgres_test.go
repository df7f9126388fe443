package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treatment-engine/internal/domain"
)

func createMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(true),
	)
	require.NoError(t, err)

	mock.ExpectPing()
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return store, mock
}

func TestPostgresStore_Append(t *testing.T) {
	store, mock := createMockStore(t)

	record := &domain.ProgressRecord{
		PatientID:       "p1",
		CandidateID:     "treatment-a",
		Category:        "chemotherapy",
		RawScore:        0.8,
		ObservedOutcome: 0.6,
		Timestamp:       time.Now().UTC(),
	}

	mock.ExpectQuery("INSERT INTO patient_progress").
		WithArgs(record.PatientID, record.CandidateID, record.Category,
			record.RawScore, record.ObservedOutcome, record.Timestamp).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	require.NoError(t, store.Append(context.Background(), record))
	assert.Equal(t, int64(7), record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListByCategory(t *testing.T) {
	store, mock := createMockStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "patient_id", "candidate_id", "category", "raw_score", "observed_outcome", "recorded_at",
	}).
		AddRow(int64(1), "p1", "treatment-a", "chemotherapy", 0.8, 0.6, now).
		AddRow(int64(2), "p1", "treatment-a", "chemotherapy", 0.7, 0.5, now.Add(time.Hour))

	mock.ExpectQuery("SELECT (.+) FROM patient_progress").
		WithArgs("p1", "chemotherapy").
		WillReturnRows(rows)

	records, err := store.ListByCategory(context.Background(), "p1", "chemotherapy")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, 0.6, records[0].ObservedOutcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	store, mock := createMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	count, err := store.Count(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
