package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-anomaly/internal/alerts"
	"github.com/miradorstack/mirador-anomaly/internal/api"
	"github.com/miradorstack/mirador-anomaly/internal/cache"
	"github.com/miradorstack/mirador-anomaly/internal/config"
	"github.com/miradorstack/mirador-anomaly/internal/engine"
	"github.com/miradorstack/mirador-anomaly/internal/history"
	"github.com/miradorstack/mirador-anomaly/internal/metrics"
	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/patterns"
	"github.com/miradorstack/mirador-anomaly/internal/repo"
	"github.com/miradorstack/mirador-anomaly/internal/scoring"
	"github.com/miradorstack/mirador-anomaly/internal/services"
	"github.com/miradorstack/mirador-anomaly/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-anomaly",
		slog.String("http_address", cfg.Server.HTTPAddress),
		slog.String("grpc_address", cfg.Server.GRPCAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	// Without Redis the learned-feed cache and sync lease stay process-local.
	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	var publisher engine.AlertPublisher
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("alert cache unavailable", slog.Any("error", err))
		} else {
			defer provider.Close()
			cacheProvider = provider
			publisher = cache.NewAlertPublisher(provider, cfg.Cache.AlertTTL)
		}
	}

	seed, err := patterns.LoadSeedFile(cfg.Patterns.SeedPath)
	if err != nil {
		logger.Error("failed to load pattern seed", slog.Any("error", err))
		os.Exit(1)
	}
	registry := patterns.NewRegistry(logger, seed...)

	recommender, err := scoring.LoadRecommender(cfg.Detection.RulesPath, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	alertStore := alerts.NewStore(cfg.Detection.AlertCapacity, cfg.Detection.AlertRetention, time.Now)

	deps := engine.Deps{
		Logger:      logger,
		History:     history.NewStore(cfg.Detection.HistoryCapacity, cfg.Detection.HistoryShards),
		Registry:    registry,
		Alerts:      alertStore,
		Dedup:       alerts.NewDeduplicator(alertStore, cfg.Detection.DedupWindow),
		Recommender: recommender,
		Tracker:     patterns.NewTracker(),
		Publisher:   publisher,
	}
	if cfg.Backend.Endpoint != "" {
		backend := repo.NewPatternBackend(repo.BackendConfig{
			Endpoint:         cfg.Backend.Endpoint,
			APIKey:           cfg.Backend.APIKey,
			Timeout:          cfg.Backend.Timeout,
			FailureThreshold: cfg.Backend.FailureThreshold,
			OpenTimeout:      cfg.Backend.OpenTimeout,
			LearnedTTL:       cfg.Cache.LearnedTTL,
			SyncLease:        cfg.Patterns.SyncInterval,
		}, cacheProvider, logger)
		deps.Syncer = backend
		deps.Source = backend
	}

	detectionModels := make(map[string]*models.DetectionModel, len(cfg.Detection.Models))
	for i := range cfg.Detection.Models {
		m := cfg.Detection.Models[i]
		detectionModels[m.Metric] = &m
	}

	eng := engine.New(engine.Config{
		Workers:           cfg.Detection.Workers,
		ZThreshold:        cfg.Detection.ZThreshold,
		ZMinSamples:       cfg.Detection.ZMinSamples,
		IQRMultiplier:     cfg.Detection.IQRMultiplier,
		IQRMinSamples:     cfg.Detection.IQRMinSamples,
		CompositeFraction: cfg.Detection.CompositeFraction,
		PredictionHorizon: cfg.Detection.PredictionHorizon,
		DisableLearning:   !cfg.Patterns.LearningMode,
		SyncInterval:      cfg.Patterns.SyncInterval,
		SyncTimeout:       cfg.Patterns.SyncTimeout,
		LearnedMinSamples: cfg.Patterns.LearnedMinSamples,
		Models:            detectionModels,
	}, deps)
	defer eng.Close()

	grpcServer, err := api.NewServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	tree := services.NewTree(logger, services.TreeConfig{ShutdownTimeout: cfg.Server.GracefulTimeout})

	if cfg.Collector.BaseURL != "" {
		collector := repo.NewCollectorClient(cfg.Collector.BaseURL, cfg.Collector.SnapshotPath, cfg.Collector.Timeout)
		tree.AddDetectionService(services.NewTickService(collector, eng, cfg.Collector.TickInterval, logger))
	} else {
		logger.Warn("collector base URL not configured; detection runs only through the HTTP API")
	}
	if deps.Source != nil {
		tree.AddDetectionService(services.NewLearnedRefreshService(eng, cfg.Patterns.LearnedRefresh, logger))
	}

	apiServer := &http.Server{
		Addr:              cfg.Server.HTTPAddress,
		Handler:           api.NewRouter(api.NewHandlers(eng, logger)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService("http-api", apiServer, cfg.Server.GracefulTimeout))

	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		tree.AddAPIService(services.NewHTTPServerService("metrics", metricsServer, 5*time.Second))
	}
	tree.AddAPIService(services.NewGRPCServerService(grpcServer, cfg.Server.GracefulTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("supervisor exited", slog.Any("error", err))
	}
	logger.Info("mirador-anomaly stopped")
}
