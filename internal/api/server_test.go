package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treatment-engine/internal/cache"
	"github.com/treatment-engine/internal/domain"
	"github.com/treatment-engine/internal/feedback"
	"github.com/treatment-engine/internal/service"
	"github.com/treatment-engine/pkg/model"
)

// stubConfigManager satisfies domain.ConfigManager with fixed values.
type stubConfigManager struct {
	config domain.Config
}

func (s *stubConfigManager) GetConfig() *domain.Config                 { return &s.config }
func (s *stubConfigManager) GetServerConfig() *domain.ServerConfig     { return &s.config.Server }
func (s *stubConfigManager) GetModelConfig() *domain.ModelConfig       { return &s.config.Model }
func (s *stubConfigManager) GetCacheConfig() *domain.CacheConfig       { return &s.config.Cache }
func (s *stubConfigManager) GetFeedbackConfig() *domain.FeedbackConfig { return &s.config.Feedback }
func (s *stubConfigManager) Reload() error                             { return nil }
func (s *stubConfigManager) Validate() error                           { return nil }
func (s *stubConfigManager) IsProduction() bool                        { return false }

// memoryPatients is an in-memory patient repository.
type memoryPatients struct {
	mu        sync.Mutex
	snapshots map[string]*domain.PatientSnapshot
}

func newMemoryPatients() *memoryPatients {
	return &memoryPatients{snapshots: make(map[string]*domain.PatientSnapshot)}
}

func (m *memoryPatients) Save(ctx context.Context, snapshot *domain.PatientSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.ID] = snapshot
	return nil
}

func (m *memoryPatients) Get(ctx context.Context, patientID string) (*domain.PatientSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.snapshots[patientID]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", patientID, domain.ErrNotFound)
	}
	return snapshot, nil
}

// memoryHistory records saved recommendations and serves raw scores and
// prediction history from memory.
type memoryHistory struct {
	mu    sync.Mutex
	saved []*domain.Recommendation
}

func (m *memoryHistory) SaveResults(ctx context.Context, rec *domain.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, rec)
	return nil
}

func (m *memoryHistory) LatestRawScore(ctx context.Context, patientID, candidateID string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.saved) - 1; i >= 0; i-- {
		if m.saved[i].PatientID != patientID {
			continue
		}
		for _, res := range m.saved[i].Results {
			if res.Candidate.ID == candidateID {
				return res.RawScore, true, nil
			}
		}
	}
	return 0, false, nil
}

func (m *memoryHistory) History(ctx context.Context, patientID string, limit int) ([]domain.PredictionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []domain.PredictionResult
	for i := len(m.saved) - 1; i >= 0 && len(results) < limit; i-- {
		if m.saved[i].PatientID != patientID {
			continue
		}
		for _, res := range m.saved[i].Results {
			if len(results) == limit {
				break
			}
			results = append(results, res)
		}
	}
	return results, nil
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func setupServer(t *testing.T) (*Server, *memoryPatients) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	registry := model.NewRegistry()
	registry.Register(model.NewLocalModel("v1.0.0"))

	store, err := feedback.NewSQLiteStore(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	history := &memoryHistory{}
	predictionCache := cache.NewPredictionCache(time.Minute, 128, nil, logger)
	adjuster := feedback.NewAdjuster(store, history, predictionCache, feedback.DefaultConfig(), logger)

	orchestrator := service.NewOrchestrator(
		service.NewFeatureNormalizer(),
		service.NewModelInvoker(registry, service.InvokerConfig{}, logger),
		service.NewEfficacyClassifier(service.DefaultTierBoundaries()),
		predictionCache,
		adjuster,
		history,
		service.OrchestratorConfig{ModelVersion: "v1.0.0", Threshold: 0.8},
		logger,
	)

	patients := newMemoryPatients()
	manager := &stubConfigManager{config: domain.Config{
		Model:   domain.ModelConfig{Version: "v1.0.0"},
		Logging: domain.LoggingConfig{Level: "error"},
	}}

	checks := map[string]HealthChecker{
		"progress_store": healthFunc(func(ctx context.Context) error { return nil }),
	}

	return NewServer(manager, orchestrator, patients, adjuster, history, checks, logger), patients
}

func doRequest(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)
	return recorder
}

func testPatientBody() map[string]any {
	return map[string]any{
		"id": "patient-1",
		"genomic_profile": map[string]any{
			"BRCA1": map[string]any{"variant": "c.68_69delAG", "mutation_score": 0.9},
			"TP53":  map[string]any{"variant": "c.743G>A", "mutation_score": 0.4},
		},
		"medical_history": map[string]any{
			"records": []map[string]any{
				{"condition": "breast cancer", "treatment": "lumpectomy"},
			},
		},
	}
}

func TestServer_SaveAndGetPatient(t *testing.T) {
	server, _ := setupServer(t)

	resp := doRequest(t, server, http.MethodPost, "/api/v1/patients", testPatientBody())
	assert.Equal(t, http.StatusCreated, resp.Code)

	resp = doRequest(t, server, http.MethodGet, "/api/v1/patients/patient-1", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var snapshot domain.PatientSnapshot
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &snapshot))
	assert.Equal(t, "patient-1", snapshot.ID)
	assert.Contains(t, snapshot.GenomicProfile, "BRCA1")
}

func TestServer_GetPatient_NotFound(t *testing.T) {
	server, _ := setupServer(t)

	resp := doRequest(t, server, http.MethodGet, "/api/v1/patients/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestServer_Predict_UsesStoredSnapshot(t *testing.T) {
	server, _ := setupServer(t)

	resp := doRequest(t, server, http.MethodPost, "/api/v1/patients", testPatientBody())
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doRequest(t, server, http.MethodPost, "/api/v1/predict", map[string]any{
		"patient_id": "patient-1",
		"candidates": []map[string]any{
			{"id": "treatment-a", "category": "chemotherapy"},
			{"id": "treatment-b", "category": "immunotherapy"},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var rec domain.Recommendation
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &rec))
	assert.Equal(t, "patient-1", rec.PatientID)
	assert.Equal(t, "v1.0.0", rec.ModelVersion)
	require.Len(t, rec.Results, 2)
	assert.GreaterOrEqual(t, rec.Results[0].AdjustedScore, rec.Results[1].AdjustedScore)
	assert.False(t, rec.CacheHit)

	// Second identical request is served from cache.
	resp = doRequest(t, server, http.MethodPost, "/api/v1/predict", map[string]any{
		"patient_id": "patient-1",
		"candidates": []map[string]any{
			{"id": "treatment-a", "category": "chemotherapy"},
			{"id": "treatment-b", "category": "immunotherapy"},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &rec))
	assert.True(t, rec.CacheHit)
}

func TestServer_Predict_UnknownPatient(t *testing.T) {
	server, _ := setupServer(t)

	resp := doRequest(t, server, http.MethodPost, "/api/v1/predict", map[string]any{
		"patient_id": "ghost",
		"candidates": []map[string]any{{"id": "treatment-a"}},
	})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestServer_Predict_MissingFields(t *testing.T) {
	server, _ := setupServer(t)

	resp := doRequest(t, server, http.MethodPost, "/api/v1/predict", map[string]any{
		"candidates": []map[string]any{{"id": "treatment-a"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestServer_RecordOutcomeAndProgress(t *testing.T) {
	server, _ := setupServer(t)

	resp := doRequest(t, server, http.MethodPost, "/api/v1/patients", testPatientBody())
	require.Equal(t, http.StatusCreated, resp.Code)

	for _, observed := range []float64{0.3, 0.5, 0.7} {
		resp = doRequest(t, server, http.MethodPost, "/api/v1/patients/patient-1/outcome", map[string]any{
			"candidate":        map[string]any{"id": "treatment-a", "category": "chemotherapy"},
			"observed_outcome": observed,
		})
		require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())
	}

	resp = doRequest(t, server, http.MethodGet, "/api/v1/patients/patient-1/progress", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var summary domain.ProgressSummary
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &summary))
	assert.Equal(t, "patient-1", summary.PatientID)
	assert.Equal(t, "active", summary.Status)
	assert.Equal(t, 3, summary.TotalEntries)
}

func TestServer_RecordOutcome_OutOfRange(t *testing.T) {
	server, _ := setupServer(t)

	resp := doRequest(t, server, http.MethodPost, "/api/v1/patients/patient-1/outcome", map[string]any{
		"candidate":        map[string]any{"id": "treatment-a"},
		"observed_outcome": 2.0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestServer_Health(t *testing.T) {
	server, _ := setupServer(t)

	resp := doRequest(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "v1.0.0", body["model_version"])
}

func TestServer_Health_DegradedDependency(t *testing.T) {
	server, _ := setupServer(t)
	server.checks["database"] = healthFunc(func(ctx context.Context) error {
		return errors.New("connection refused")
	})

	resp := doRequest(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestServer_GetPredictions(t *testing.T) {
	server, _ := setupServer(t)

	resp := doRequest(t, server, http.MethodPost, "/api/v1/patients", testPatientBody())
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doRequest(t, server, http.MethodPost, "/api/v1/predict", map[string]any{
		"patient_id": "patient-1",
		"candidates": []map[string]any{
			{"id": "treatment-a", "category": "chemotherapy"},
			{"id": "treatment-b", "category": "immunotherapy"},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = doRequest(t, server, http.MethodGet, "/api/v1/patients/patient-1/predictions", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body struct {
		PatientID   string                    `json:"patient_id"`
		Predictions []domain.PredictionResult `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "patient-1", body.PatientID)
	require.Len(t, body.Predictions, 2)

	resp = doRequest(t, server, http.MethodGet, "/api/v1/patients/patient-1/predictions?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Len(t, body.Predictions, 1)

	resp = doRequest(t, server, http.MethodGet, "/api/v1/patients/patient-1/predictions?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// Unknown patients have no history rather than an error.
	resp = doRequest(t, server, http.MethodGet, "/api/v1/patients/nobody/predictions", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Empty(t, body.Predictions)
}
