// Package main provides the lightweight entry point for the treatment
// recommendation engine. This version requires no external databases:
// progress lives in a local SQLite file, patient snapshots and cached
// predictions stay in memory, and scoring runs in-process.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/treatment-engine/internal/api"
	"github.com/treatment-engine/internal/cache"
	"github.com/treatment-engine/internal/config"
	"github.com/treatment-engine/internal/domain"
	"github.com/treatment-engine/internal/feedback"
	"github.com/treatment-engine/internal/repository"
	"github.com/treatment-engine/internal/service"
	"github.com/treatment-engine/pkg/model"
)

func main() {
	cfg := config.LoadLiteConfig()
	if err := cfg.EnsureDataDir(); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	logger := setupLogger(cfg)
	logger.WithFields(logrus.Fields{
		"data_dir":      cfg.DataDir,
		"model_version": cfg.ModelVersion,
	}).Info("Starting treatment engine (lite)")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := feedback.NewSQLiteStore(cfg.ProgressDBPath())
	if err != nil {
		logger.WithError(err).Fatal("Failed to open progress store")
	}
	defer store.Close()

	registry := model.NewRegistry()
	registry.Register(model.NewLocalModel(cfg.ModelVersion))

	predictionCache := cache.NewPredictionCache(cfg.CacheTTL, cfg.CacheMaxItems, nil, logger)
	adjuster := feedback.NewAdjuster(store, nil, predictionCache, feedback.DefaultConfig(), logger)

	orchestrator := service.NewOrchestrator(
		service.NewFeatureNormalizer(),
		service.NewModelInvoker(registry, service.InvokerConfig{}, logger),
		service.NewEfficacyClassifier(service.DefaultTierBoundaries()),
		predictionCache,
		adjuster,
		nil,
		service.OrchestratorConfig{
			ModelVersion: cfg.ModelVersion,
			Threshold:    cfg.Threshold,
		},
		logger,
	)

	patients := repository.NewMemoryPatientRepository()
	checks := map[string]api.HealthChecker{
		"progress_store": storeHealth{store},
	}

	server := api.NewServer(liteConfigManager{cfg}, orchestrator, patients, adjuster, nil, checks, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Treatment engine (lite) stopped")
}

func setupLogger(cfg *config.LiteConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger
}

// liteConfigManager adapts LiteConfig to the configuration interface the
// HTTP server consumes. Reload is a no-op: lite settings come from the
// environment and hold for the process lifetime.
type liteConfigManager struct {
	cfg *config.LiteConfig
}

func (m liteConfigManager) GetConfig() *domain.Config {
	return &domain.Config{
		Server:   *m.GetServerConfig(),
		Model:    *m.GetModelConfig(),
		Cache:    *m.GetCacheConfig(),
		Feedback: *m.GetFeedbackConfig(),
		Logging: domain.LoggingConfig{
			Level:  m.cfg.LogLevel,
			Format: m.cfg.LogFormat,
			Output: "stdout",
		},
	}
}

func (m liteConfigManager) GetServerConfig() *domain.ServerConfig {
	return &domain.ServerConfig{
		Host:         "0.0.0.0",
		Port:         m.cfg.HTTPPort,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func (m liteConfigManager) GetModelConfig() *domain.ModelConfig {
	return &domain.ModelConfig{
		Version:   m.cfg.ModelVersion,
		Threshold: m.cfg.Threshold,
	}
}

func (m liteConfigManager) GetCacheConfig() *domain.CacheConfig {
	return &domain.CacheConfig{
		TTL:     m.cfg.CacheTTL,
		MaxSize: m.cfg.CacheMaxItems,
	}
}

func (m liteConfigManager) GetFeedbackConfig() *domain.FeedbackConfig {
	return &domain.FeedbackConfig{
		Decay:         feedback.DefaultConfig().Decay,
		MaxAdjustment: feedback.DefaultConfig().MaxAdjustment,
		Store:         "sqlite",
		SQLitePath:    m.cfg.ProgressDBPath(),
	}
}

func (m liteConfigManager) Reload() error   { return nil }
func (m liteConfigManager) Validate() error { return nil }
func (m liteConfigManager) IsProduction() bool {
	return false
}

// storeHealth adapts the progress store's connectivity to the health check
// interface.
type storeHealth struct {
	store domain.ProgressStore
}

func (h storeHealth) Health(ctx context.Context) error {
	_, err := h.store.Count(ctx, "health-check")
	return err
}
