package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/treatment-engine/internal/domain"
)

// RemoteConfig represents remote inference backend configuration
type RemoteConfig struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
}

// RemoteModel scores candidates through a separate inference service. All
// transport failures, including timeouts, surface as ModelUnavailableError;
// retry policy belongs to the orchestrator, not this client.
type RemoteModel struct {
	version    string
	config     RemoteConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logrus.Logger
}

// NewRemoteModel creates a remote scoring model client.
func NewRemoteModel(version string, config RemoteConfig, logger *logrus.Logger) *RemoteModel {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 10
	}

	return &RemoteModel{
		version: version,
		config:  config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit),
		log:     logger,
	}
}

// Version returns the model version identifier.
func (m *RemoteModel) Version() string {
	return m.version
}

type scoreRequest struct {
	ModelVersion string                      `json:"model_version"`
	Features     []float64                   `json:"features"`
	Candidates   []domain.TreatmentCandidate `json:"candidates"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

// Score sends one batch of candidates to the inference service.
func (m *RemoteModel) Score(ctx context.Context, vector domain.FeatureVector, candidates []domain.TreatmentCandidate) ([]float64, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, domain.NewModelUnavailableError(m.version, err)
	}

	body, err := json.Marshal(scoreRequest{
		ModelVersion: m.version,
		Features:     vector,
		Candidates:   candidates,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling score request: %w", err)
	}

	url := m.config.BaseURL + "/score"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.log.WithError(err).WithField("model_version", m.version).Warn("Inference backend unreachable")
		return nil, domain.NewModelUnavailableError(m.version, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewModelUnavailableError(m.version,
			fmt.Errorf("inference backend returned status %d", resp.StatusCode))
	}

	var decoded scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, domain.NewModelUnavailableError(m.version,
			fmt.Errorf("decoding score response: %w", err))
	}

	if len(decoded.Scores) != len(candidates) {
		return nil, domain.NewModelUnavailableError(m.version,
			fmt.Errorf("backend returned %d scores for %d candidates", len(decoded.Scores), len(candidates)))
	}

	return decoded.Scores, nil
}
