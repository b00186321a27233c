package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/banking/fraud-detection/internal/alerting"
	"github.com/banking/fraud-detection/internal/api"
	"github.com/banking/fraud-detection/internal/cache"
	"github.com/banking/fraud-detection/internal/config"
	"github.com/banking/fraud-detection/internal/drift"
	"github.com/banking/fraud-detection/internal/features"
	"github.com/banking/fraud-detection/internal/featurestore"
	"github.com/banking/fraud-detection/internal/pkg/logger"
	"github.com/banking/fraud-detection/internal/pkg/telemetry"
	"github.com/banking/fraud-detection/internal/scoring"
	"github.com/banking/fraud-detection/internal/storage/postgres"
	"github.com/banking/fraud-detection/internal/stream"
)

// driftThreshold is the z-distance above which feature drift is
// reported. See the model retraining runbook.
const driftThreshold = 0.3

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fraud-detection: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(cfg.Telemetry.ServiceName, cfg.Telemetry.Environment,
		cfg.Telemetry.Environment != "production")
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	// Redis backs idempotency keys and the score-result cache. The
	// pipeline degrades to in-process idempotency when it is
	// unreachable; scores are then re-computed on redelivery.
	var (
		idem       featurestore.IdempotencyCache
		scoreCache stream.ScoreCache
	)
	redisClient, err := cache.New(ctx, &cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, using in-process idempotency", logger.ErrorField(err))
		idem = featurestore.NewMemoryIdempotency(cfg.Redis.IdempotencyTTL)
	} else {
		defer redisClient.Close()
		idem = redisClient
		scoreCache = redisClient
	}

	store := featurestore.New(&cfg.FeatureStore, idem, log)
	go store.RunSweeper(ctx)

	extractor := features.NewExtractor(features.DefaultRiskTable(), cfg.FeatureStore.MinTransactions)

	artifact, err := scoring.LoadArtifact(cfg.Scoring.ArtifactPath,
		extractor.FeatureNames(), extractor.SchemaVersion())
	if err != nil {
		return fmt.Errorf("load model artifact: %w", err)
	}
	adapter := scoring.NewAdapter(scoring.NewModel(artifact), &cfg.Scoring, log)
	log.Info("model artifact loaded",
		logger.StringField("model_version", artifact.ModelVersion),
		logger.StringField("family", string(artifact.Family)))

	detector := drift.NewDetector(artifact.FeatureNames,
		artifact.FeatureMeans, artifact.FeatureStdDevs, driftThreshold, 0, log)

	policy, err := alerting.NewPolicy(cfg.Alerting.Thresholds)
	if err != nil {
		return fmt.Errorf("build alert policy: %w", err)
	}

	// Without a configured database the alert sink is in-process
	// only, intended for local development.
	var alertStore alerting.AlertStore
	if cfg.Database.Host != "" {
		pgStore, err := postgres.Connect(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("connect alert store: %w", err)
		}
		defer pgStore.Close()
		alertStore = pgStore
	} else {
		log.Warn("no database configured, alerts are not persisted")
		alertStore = alerting.NewMemoryStore()
	}

	publisher, err := stream.NewPublisher(&cfg.Kafka, log)
	if err != nil {
		return fmt.Errorf("start producer: %w", err)
	}
	defer publisher.Close()

	engine := alerting.NewEngine(policy, alertStore, publisher, log)

	config.OnReload(func(updated *config.Config) {
		if err := engine.UpdateThresholds(updated.Alerting.Thresholds); err != nil {
			log.Warn("rejected reloaded thresholds", logger.ErrorField(err))
		}
	})

	coordinator := stream.NewCoordinator(store, extractor, adapter, engine,
		publisher, scoreCache, detector, &cfg.Pipeline, &cfg.Scoring, log)
	coordinator.Start()

	consumer, err := stream.NewConsumer(&cfg.Kafka, coordinator, log)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	handler := api.NewHandler(engine, coordinator, log)
	server := api.NewServer(cfg, handler, log)
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: promhttp.Handler(),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return consumer.Run(groupCtx)
	})
	group.Go(func() error {
		return server.Start()
	})
	group.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	log.Info("fraud detection pipeline started",
		logger.StringField("topic", cfg.Kafka.TransactionTopic),
		logger.IntField("workers", cfg.Pipeline.Workers))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		log.Info("shutdown signal received")
	case err := <-coordinator.Fatal():
		log.Error("pipeline failure, shutting down", logger.ErrorField(err))
		runErr = err
	case <-groupCtx.Done():
	}

	// Stop intake first, then drain in-flight transactions so their
	// offsets commit before the process exits.
	cancel()
	if err := consumer.Close(); err != nil {
		log.Warn("consumer close failed", logger.ErrorField(err))
	}
	if err := coordinator.Drain(); err != nil {
		log.Warn("pipeline drain incomplete", logger.ErrorField(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown failed", logger.ErrorField(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics shutdown failed", logger.ErrorField(err))
	}

	if err := group.Wait(); err != nil && runErr == nil {
		runErr = err
	}

	log.Info("shutdown complete")
	return runErr
}
