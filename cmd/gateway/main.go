package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/edushield/access-gateway/internal/api/rest"
	"github.com/edushield/access-gateway/internal/domain/consent"
	"github.com/edushield/access-gateway/internal/infrastructure/audit"
	"github.com/edushield/access-gateway/internal/infrastructure/auth"
	"github.com/edushield/access-gateway/internal/infrastructure/cache"
	"github.com/edushield/access-gateway/internal/infrastructure/config"
	"github.com/edushield/access-gateway/internal/infrastructure/database"
	"github.com/edushield/access-gateway/internal/infrastructure/telemetry"
	"github.com/edushield/access-gateway/internal/metrics"
	"github.com/edushield/access-gateway/internal/service/anomaly"
	"github.com/edushield/access-gateway/internal/service/consentgate"
	"github.com/edushield/access-gateway/internal/service/evaluator"
	"github.com/edushield/access-gateway/internal/service/incidentresponse"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Init(ctx, &telemetry.Config{
		ServiceName:    "access-gateway",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Fatal("telemetry initialization failed", zap.Error(err))
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	reg := metrics.NewRegistry()

	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal("database initialization failed", zap.Error(err))
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	redisCache, err := cache.NewRedisCache(redisClient, logger)
	if err != nil {
		logger.Fatal("cache initialization failed", zap.Error(err))
	}
	defer func() { _ = redisCache.Close() }()

	minter, err := auth.NewTokenMinter(cfg.Consent.TokenSigningKey, cfg.Consent.TokenIssuer)
	if err != nil {
		logger.Fatal("token minter initialization failed", zap.Error(err))
	}

	publisher := audit.NewPublisher(logger, audit.NopSink{}, reg, cfg.Audit.QueueDepth, cfg.Audit.FlushTimeout)
	defer publisher.Close()

	queryTimeout := cfg.Database.QueryTimeout
	consentRepo := database.NewConsentRepository(pool, queryTimeout)
	policyRepo := database.NewParentalPolicyRepository(pool, queryTimeout)
	registry := database.NewRegistryRepository(pool, queryTimeout)
	reputations := database.NewReputationRepository(pool, reg, queryTimeout)
	accessLog := database.NewAccessLogRepository(pool, queryTimeout)
	incidents := database.NewIncidentRepository(pool, queryTimeout)

	sessions := cache.NewRedisSessionStore(redisCache, redisClient, logger)
	rateLimiter := cache.NewRedisRateLimiter(redisClient, logger)
	volume := cache.NewRedisVolumeTracker(redisClient, logger)

	consentGate := consentgate.NewService(
		consentRepo, policyRepo, registry, sessions,
		consent.DefaultCatalog(), minter, publisher, reg, logger,
		cfg.Consent,
	)
	responder := incidentresponse.NewService(
		incidents, sessions, reputations, consentGate,
		publisher, reg, logger, cfg.Incident,
	)
	eval := evaluator.NewService(reputations, rateLimiter, volume, accessLog, responder, reg, logger, cfg.Quota)
	detector := anomaly.NewService(accessLog, responder, reg, logger, cfg.Anomaly)

	handlers := rest.NewHandlers(consentGate, eval, detector, responder, logger)
	server := rest.NewServer(cfg.Server, handlers, reg, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
