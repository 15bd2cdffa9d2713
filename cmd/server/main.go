package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pactguard/pactguard/internal/audit"
	"github.com/pactguard/pactguard/internal/auth"
	"github.com/pactguard/pactguard/internal/config"
	"github.com/pactguard/pactguard/internal/contract"
	"github.com/pactguard/pactguard/internal/enforcement"
	"github.com/pactguard/pactguard/internal/handlers"
	"github.com/pactguard/pactguard/internal/metrics"
	"github.com/pactguard/pactguard/internal/middleware"
	"github.com/pactguard/pactguard/internal/penalty"
	"github.com/pactguard/pactguard/internal/realtime"
	"github.com/pactguard/pactguard/internal/scheduler"
	"github.com/pactguard/pactguard/internal/scoring"
	"github.com/pactguard/pactguard/internal/storage"
)

const serviceName = "pactguard"

var version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.InitLogger(cfg)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting accountability service",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("mode", cfg.Enforcement.Mode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Contract registry with optional hot reload
	registry, err := contract.NewRegistryFromFile(cfg.Enforcement.ContractPath, logger)
	if err != nil {
		logger.Fatal("Failed to load contracts", zap.Error(err))
	}
	defer registry.Close()

	if cfg.Enforcement.WatchContracts {
		if err := registry.Watch(); err != nil {
			logger.Error("Failed to watch contract file", zap.Error(err))
		}
	}

	// Rate limit store
	var limiter enforcement.RateLimitStore
	if cfg.RateLimit.Backend == "redis" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		limiter = enforcement.NewRedisRateLimitStore(redisClient, enforcement.RateLimitWindow)
	}

	// Core engine
	collector := metrics.NewCollector()
	promCollector := metrics.NewPrometheusCollector()
	penalties := penalty.NewRegistry()
	rules := penalty.NewRuleSet(logger)
	calculator := scoring.NewCalculator(collector, penalties, cfg.Scoring.PenaltyHalfLifeHours, logger)

	authority := auth.NewStaticRoleAuthority(cfg.Auth.RoleGrants)
	enforcer := enforcement.NewEnforcer(
		enforcement.Config{
			Mode:            enforcement.Mode(cfg.Enforcement.Mode),
			RequireContract: cfg.Enforcement.RequireContract,
		},
		registry,
		authority,
		limiter,
		collector,
		logger,
	)

	// Optional persistence
	var (
		store         *storage.Store
		auditRepo     *storage.AuditRepository
		violationRepo *storage.ViolationRepository
		scoreRepo     *storage.ScoreRepository
	)
	if cfg.Database.Enabled {
		store, err = storage.NewStore(cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer store.Close()

		if err := store.AutoMigrate(); err != nil {
			logger.Fatal("Failed to run database migrations", zap.Error(err))
		}

		auditRepo = storage.NewAuditRepository(store)
		violationRepo = storage.NewViolationRepository(store)
		scoreRepo = storage.NewScoreRepository(store)
	}

	// Audit trail
	var recorder *audit.Recorder
	if cfg.Audit.Enabled {
		var sink audit.Sink
		if auditRepo != nil {
			sink = audit.NewDatabaseSink(auditRepo)
		} else {
			sink = audit.NewMemorySink(0)
		}
		recorder = audit.NewRecorder(cfg.Audit, sink, logger)
		if err := recorder.Start(ctx); err != nil {
			logger.Fatal("Failed to start audit recorder", zap.Error(err))
		}
		defer recorder.Stop()
	}

	// Realtime stream
	hub := realtime.NewHub(logger)
	go hub.Run(ctx)

	// Token service
	var authService *auth.Service
	if cfg.Auth.Enabled {
		authService = auth.NewService(cfg.Auth)
	}

	// Background jobs
	if cfg.Scheduler.Enabled {
		jobs := scheduler.NewScheduler(cfg, calculator, penalties, promCollector, scoreRepo, auditRepo, violationRepo, logger)
		if err := jobs.Start(); err != nil {
			logger.Fatal("Failed to start scheduler", zap.Error(err))
		}
		defer jobs.Stop()
	}

	// HTTP surface
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Metrics(promCollector))
	if authService != nil {
		router.Use(middleware.Authenticate(authService))
	}
	router.Use(middleware.Enforce(enforcer, logger, middleware.EnforceOptions{
		Collector:  promCollector,
		Recorder:   recorder,
		Hub:        hub,
		Violations: violationRepo,
	}))

	handler := handlers.NewHandler(registry, enforcer, calculator, collector, penalties, rules, authService, hub, handlers.Persistence{
		Store:      store,
		Audits:     auditRepo,
		Violations: violationRepo,
		Scores:     scoreRepo,
	}, logger)
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
	}

	logger.Info("Service shutdown complete")
}
