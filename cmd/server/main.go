package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/treatment-engine/internal/api"
	"github.com/treatment-engine/internal/cache"
	"github.com/treatment-engine/internal/config"
	"github.com/treatment-engine/internal/database"
	"github.com/treatment-engine/internal/domain"
	"github.com/treatment-engine/internal/feedback"
	"github.com/treatment-engine/internal/repository"
	"github.com/treatment-engine/internal/service"
	"github.com/treatment-engine/pkg/model"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := setupLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database and migrations
	dbConfig := database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		Database:    cfg.Database.Database,
		Username:    cfg.Database.Username,
		Password:    cfg.Database.Password,
		MaxConns:    int32(cfg.Database.MaxOpenConns),
		MinConns:    int32(cfg.Database.MaxIdleConns),
		MaxConnLife: cfg.Database.ConnMaxLifetime,
		MaxConnIdle: 30 * time.Minute,
		SSLMode:     cfg.Database.SSLMode,
	}

	db, err := database.NewConnection(ctx, dbConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	migrationRunner, err := database.NewMigrationRunner(dbConfig.URL(), cfg.Database.MigrationsPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create migration runner")
	}
	if err := migrationRunner.Up(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}
	migrationRunner.Close()

	// Repositories
	patients := repository.NewPatientRepository(db.Pool, logger)
	predictions := repository.NewPredictionRepository(db.Pool, logger)

	// Progress store
	progressStore, err := newProgressStore(cfg, dbConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open progress store")
	}
	defer progressStore.Close()

	// Prediction cache, with an optional Redis tier
	var remoteTier cache.RemoteTier
	checks := map[string]api.HealthChecker{"database": db}
	if cfg.Cache.RedisEnabled {
		redisTier, err := cache.NewRedisTier(cfg.Cache)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisTier.Close()
		remoteTier = redisTier
		checks["redis"] = redisHealth{redisTier}
	}
	predictionCache := cache.NewPredictionCache(cfg.Cache.TTL, cfg.Cache.MaxSize, remoteTier, logger)

	// Scoring models
	registry := model.NewRegistry()
	registry.Register(newScoringModel(cfg.Model, logger))

	// Feedback adjuster
	adjuster := feedback.NewAdjuster(progressStore, predictions, predictionCache, feedback.Config{
		Decay:         cfg.Feedback.Decay,
		MaxAdjustment: cfg.Feedback.MaxAdjustment,
	}, logger)

	// Orchestrator
	invoker := service.NewModelInvoker(registry, invokerConfig(cfg.Model), logger)
	orchestrator := service.NewOrchestrator(
		service.NewFeatureNormalizer(),
		invoker,
		service.NewEfficacyClassifier(service.DefaultTierBoundaries()),
		predictionCache,
		adjuster,
		predictions,
		orchestratorConfig(cfg.Model),
		logger,
	)

	server := api.NewServer(configManager, orchestrator, patients, adjuster, predictions, checks, logger)

	// Handle shutdown and reload signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				reload(configManager, orchestrator, invoker, predictionCache, logger)
				continue
			}
			logger.WithField("signal", sig.String()).Info("Shutdown signal received")
			cancel()
			return
		}
	}()

	logger.WithFields(logrus.Fields{
		"host":          cfg.Server.Host,
		"port":          cfg.Server.Port,
		"model_version": cfg.Model.Version,
	}).Info("Starting treatment recommendation engine")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// setupLogger configures logrus from the logging config.
func setupLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return logger
}

// newProgressStore opens the configured progress store backend.
func newProgressStore(cfg *domain.Config, dbConfig database.Config, logger *logrus.Logger) (domain.ProgressStore, error) {
	switch cfg.Feedback.Store {
	case "sqlite":
		logger.WithField("path", cfg.Feedback.SQLitePath).Info("Using SQLite progress store")
		if err := os.MkdirAll(filepath.Dir(cfg.Feedback.SQLitePath), 0755); err != nil {
			return nil, err
		}
		return feedback.NewSQLiteStore(cfg.Feedback.SQLitePath)
	default:
		logger.Info("Using PostgreSQL progress store")
		return feedback.NewPostgresStoreFromURL(dbConfig.URL())
	}
}

// newScoringModel builds the active model: a remote inference client behind
// a circuit breaker when a backend URL is configured, an in-process model
// otherwise.
func newScoringModel(cfg domain.ModelConfig, logger *logrus.Logger) domain.ScoringModel {
	if cfg.BackendURL == "" {
		logger.WithField("model_version", cfg.Version).Info("Using in-process scoring model")
		return model.NewLocalModel(cfg.Version)
	}

	logger.WithFields(logrus.Fields{
		"model_version": cfg.Version,
		"backend_url":   cfg.BackendURL,
	}).Info("Using remote scoring backend")

	remote := model.NewRemoteModel(cfg.Version, model.RemoteConfig{
		BaseURL:   cfg.BackendURL,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
	}, logger)

	return model.NewBreakerModel(remote, model.BreakerConfig{
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
	}, logger)
}

func invokerConfig(cfg domain.ModelConfig) service.InvokerConfig {
	return service.InvokerConfig{
		BatchSize:      cfg.BatchSize,
		Timeout:        cfg.Timeout,
		MaxConcurrency: cfg.MaxConcurrency,
	}
}

func orchestratorConfig(cfg domain.ModelConfig) service.OrchestratorConfig {
	return service.OrchestratorConfig{
		ModelVersion:   cfg.Version,
		Threshold:      cfg.Threshold,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
	}
}

// reload re-reads configuration and applies the hot-reloadable model and
// cache settings. A model version change flushes the prediction cache; a
// TTL or size change rebuilds it.
func reload(manager *config.Manager, orchestrator *service.Orchestrator, invoker *service.ModelInvoker, predictionCache *cache.PredictionCache, logger *logrus.Logger) {
	logger.Info("Reloading configuration")

	if err := manager.Reload(); err != nil {
		logger.WithError(err).Error("Configuration reload failed, keeping previous settings")
		return
	}
	if err := manager.Validate(); err != nil {
		logger.WithError(err).Error("Reloaded configuration is invalid, keeping previous settings")
		return
	}

	modelCfg := manager.GetModelConfig()
	invoker.Configure(invokerConfig(*modelCfg))
	orchestrator.ApplyConfig(orchestratorConfig(*modelCfg))

	cacheCfg := manager.GetCacheConfig()
	predictionCache.Configure(cacheCfg.TTL, cacheCfg.MaxSize)

	logger.WithField("model_version", modelCfg.Version).Info("Configuration reloaded")
}

// redisHealth adapts the Redis tier's Ping to the health check interface.
type redisHealth struct {
	tier *cache.RedisTierClient
}

func (r redisHealth) Health(ctx context.Context) error {
	return r.tier.Ping(ctx)
}
