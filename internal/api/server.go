package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/treatment-engine/internal/domain"
	"github.com/treatment-engine/internal/middleware"
	"github.com/treatment-engine/internal/service"
)

// ProgressAnalyzer summarizes a patient's recorded treatment outcomes.
type ProgressAnalyzer interface {
	Analyze(ctx context.Context, patientID string) (*domain.ProgressSummary, error)
}

// PredictionHistory serves past prediction results for a patient, newest
// first. Optional: deployments without a prediction store pass nil and the
// history endpoint is not registered.
type PredictionHistory interface {
	History(ctx context.Context, patientID string, limit int) ([]domain.PredictionResult, error)
}

// HealthChecker reports liveness of a backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	orchestrator  *service.Orchestrator
	patients      domain.PatientRepository
	analyzer      ProgressAnalyzer
	history       PredictionHistory
	checks        map[string]HealthChecker
	log           *logrus.Logger
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(
	configManager domain.ConfigManager,
	orchestrator *service.Orchestrator,
	patients domain.PatientRepository,
	analyzer ProgressAnalyzer,
	history PredictionHistory,
	checks map[string]HealthChecker,
	logger *logrus.Logger,
) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(60 * time.Second))

	server := &Server{
		configManager: configManager,
		orchestrator:  orchestrator,
		patients:      patients,
		analyzer:      analyzer,
		history:       history,
		checks:        checks,
		log:           logger,
		router:        router,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Router exposes the underlying handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.log.WithField("addr", addr).Info("HTTP server listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("starting server: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/predict", s.handlePredict)
		v1.POST("/patients", s.handleSavePatient)
		v1.GET("/patients/:id", s.handleGetPatient)
		v1.POST("/patients/:id/outcome", s.handleRecordOutcome)
		v1.GET("/patients/:id/progress", s.handleGetProgress)
		if s.history != nil {
			v1.GET("/patients/:id/predictions", s.handleGetPredictions)
		}
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}
	for name, check := range s.checks {
		if err := check.Health(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			deps[name] = "ok"
		}
	}

	body := gin.H{
		"status":        "healthy",
		"timestamp":     time.Now().UTC(),
		"model_version": s.configManager.GetModelConfig().Version,
	}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}

	c.JSON(status, body)
}

// predictRequest is the payload for recommendation requests. The genomic
// profile and medical history are optional; when omitted, the stored patient
// snapshot supplies them.
type predictRequest struct {
	PatientID      string                      `json:"patient_id" binding:"required"`
	Candidates     []domain.TreatmentCandidate `json:"candidates" binding:"required"`
	GenomicProfile domain.GenomicProfile       `json:"genomic_profile"`
	MedicalHistory *domain.MedicalHistory      `json:"medical_history"`
}

// handlePredict scores the supplied candidates for a patient and returns a
// ranked recommendation.
func (s *Server) handlePredict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewMalformedInputError("body", err.Error()))
		return
	}

	profile := req.GenomicProfile
	history := req.MedicalHistory
	if profile == nil {
		snapshot, err := s.patients.Get(c.Request.Context(), req.PatientID)
		if err != nil {
			s.respondError(c, err)
			return
		}
		profile = snapshot.GenomicProfile
		if history == nil {
			history = snapshot.MedicalHistory
		}
	}

	rec, err := s.orchestrator.Recommend(c.Request.Context(), req.PatientID, profile, history, req.Candidates)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

// handleSavePatient upserts a patient snapshot
func (s *Server) handleSavePatient(c *gin.Context) {
	var snapshot domain.PatientSnapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		s.respondError(c, domain.NewMalformedInputError("body", err.Error()))
		return
	}
	if snapshot.ID == "" {
		s.respondError(c, domain.NewMalformedInputError("id", "patient id is required"))
		return
	}

	if err := s.patients.Save(c.Request.Context(), &snapshot); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": snapshot.ID})
}

// handleGetPatient retrieves a patient snapshot
func (s *Server) handleGetPatient(c *gin.Context) {
	snapshot, err := s.patients.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// outcomeRequest is the payload for recording an observed treatment outcome.
type outcomeRequest struct {
	Candidate       domain.TreatmentCandidate `json:"candidate" binding:"required"`
	ObservedOutcome float64                   `json:"observed_outcome"`
}

// handleRecordOutcome records an observed outcome for a patient's treatment.
// Accepted outcomes influence future recommendations asynchronously from the
// caller's perspective, so the response is 202.
func (s *Server) handleRecordOutcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewMalformedInputError("body", err.Error()))
		return
	}

	err := s.orchestrator.RecordOutcome(c.Request.Context(), c.Param("id"), req.Candidate, req.ObservedOutcome)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"patient_id": c.Param("id"),
		"status":     "recorded",
	})
}

// handleGetProgress summarizes a patient's recorded outcomes
func (s *Server) handleGetProgress(c *gin.Context) {
	summary, err := s.analyzer.Analyze(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	summary.PatientID = c.Param("id")

	c.JSON(http.StatusOK, summary)
}

// handleGetPredictions lists a patient's past prediction results, newest
// first. The limit query parameter bounds the page size.
func (s *Server) handleGetPredictions(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(c, domain.NewMalformedInputError("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	results, err := s.history.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"patient_id":  c.Param("id"),
		"predictions": results,
	})
}

// respondError maps domain errors to HTTP status codes
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsMalformedInput(err):
		status = http.StatusBadRequest
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	case domain.IsModelUnavailable(err):
		status = http.StatusServiceUnavailable
	case domain.IsScoreRange(err):
		// A score outside [0,1] is an integration bug, not a client error.
		s.log.WithError(err).Error("Scoring model returned out-of-range score")
	}

	if status >= http.StatusInternalServerError {
		s.log.WithFields(logrus.Fields{
			"path":  c.Request.URL.Path,
			"error": err,
		}).Error("Request failed")
	}

	c.JSON(status, gin.H{
		"error":          err.Error(),
		"correlation_id": c.GetString("correlation_id"),
	})
}
