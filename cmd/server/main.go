// Package main is the entry point for the neighborhood incident server.
// It provides a REST API for reporting security incidents, assigning them
// to security personnel, reviewing their feedback, and auditing every
// change through a published Merkle root.
//
// Architecture:
//   - Every status change goes through the incident lifecycle machine
//   - Role permissions come from a casbin policy
//   - Mutations write their audit row in the same transaction
//   - Optional backends (Redis, Meilisearch, MinIO) degrade gracefully
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/config"
	"github.com/neighborwatch/incident-server/internal/database"
	"github.com/neighborwatch/incident-server/internal/handlers"
	"github.com/neighborwatch/incident-server/internal/lifecycle"
	"github.com/neighborwatch/incident-server/internal/middleware"
	"github.com/neighborwatch/incident-server/internal/rbac"
	"github.com/neighborwatch/incident-server/internal/search"
	"github.com/neighborwatch/incident-server/internal/services"
	"github.com/neighborwatch/incident-server/internal/storage"
	"github.com/neighborwatch/incident-server/internal/store"
)

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("Failed to load config: %v", err)
	}

	sugar.Infow("Starting incident server",
		"port", cfg.Port,
		"env", cfg.Environment,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize database connection pool
	db, err := database.NewPool(ctx, cfg.DatabaseURL, database.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		sugar.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db, sugar); err != nil {
			sugar.Fatalf("Failed to migrate database: %v", err)
		}
	}

	st := store.NewPostgresStore(db)
	policy, err := rbac.NewPolicy()
	if err != nil {
		sugar.Fatalf("Failed to load permission policy: %v", err)
	}

	// Search: Meilisearch when configured, store queries otherwise
	var engine search.Engine
	if cfg.MeiliURL != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, sugar)
		defer meili.Close()
		engine = meili
	}
	finder := search.NewService(engine, st, sugar)
	go func() {
		if err := finder.Reindex(ctx); err != nil {
			sugar.Warnw("Initial search reindex failed", "error", err)
		}
	}()

	// Photo storage is optional; uploads answer 503 without it
	var objects storage.ObjectStore
	if cfg.Storage.Enabled() {
		minioStore, err := storage.NewMinioStore(ctx, storage.Options{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			PublicURL: cfg.Storage.PublicURL,
			UseSSL:    cfg.Storage.UseSSL,
		}, sugar)
		if err != nil {
			sugar.Fatalf("Failed to initialize photo storage: %v", err)
		}
		objects = minioStore
	} else {
		sugar.Warn("STORAGE_ENDPOINT not set, photo uploads are disabled")
	}

	limiter, ipLimiter := newLimiters(ctx, cfg, sugar)

	// Initialize services
	auditSvc := services.NewAuditService(st, policy, sugar)
	notificationSvc := services.NewNotificationService(st, policy, sugar)
	incidentSvc := services.NewIncidentService(st, policy, lifecycle.NewMachine(policy), auditSvc, notificationSvc, finder, sugar)
	feedbackSvc := services.NewFeedbackService(st, policy, incidentSvc, auditSvc, notificationSvc, sugar)
	integritySvc := services.NewIntegrityService(st, policy, sugar)

	// Start background integrity worker (rebuilds the audit Merkle tree)
	integrityWorker := services.NewIntegrityWorker(integritySvc, cfg.IntegritySchedule, sugar)
	go func() {
		if err := integrityWorker.Start(ctx); err != nil {
			sugar.Errorw("Integrity worker stopped", "error", err)
		}
	}()

	router := handlers.NewRouter(handlers.RouterConfig{
		Incidents:      incidentSvc,
		Comments:       services.NewCommentService(st, policy, auditSvc, notificationSvc, sugar),
		Photos:         services.NewPhotoService(st, objects, policy, auditSvc, cfg.Storage.MaxUploadBytes, sugar),
		Feedback:       feedbackSvc,
		Profiles:       services.NewProfileService(st, policy, auditSvc, sugar),
		Notifications:  notificationSvc,
		Stats:          services.NewStatsService(st, policy, incidentSvc, sugar),
		Audit:          auditSvc,
		Integrity:      integritySvc,
		DB:             st,
		SearchMode:     finder.Mode,
		JWTSecret:      []byte(cfg.JWTSecret),
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        limiter,
		IPLimiter:      ipLimiter,
		RetryAfter:     time.Minute,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		RequestTimeout: 30 * time.Second,
	}, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	sugar.Info("Shutting down gracefully...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Fatalf("Forced shutdown: %v", err)
	}

	sugar.Info("Server stopped")
}

// newLimiters returns the per-user and per-address limiters. Counters are
// shared through Redis when REDIS_URL is set and reachable, and kept in
// process otherwise.
func newLimiters(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (middleware.Limiter, middleware.Limiter) {
	inProcess := func() (middleware.Limiter, middleware.Limiter) {
		return middleware.NewMemoryLimiter(ctx, cfg.RateLimitRPM, time.Minute),
			middleware.NewMemoryLimiter(ctx, cfg.RateLimitIPRPM, time.Minute)
	}
	if cfg.RedisURL == "" {
		return inProcess()
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatalf("Invalid REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warnw("Redis unavailable, using in-process rate limiter", "error", err)
		_ = client.Close()
		return inProcess()
	}
	go func() {
		<-ctx.Done()
		_ = client.Close()
	}()
	logger.Infow("Rate limiting via Redis",
		"user_limit_per_minute", cfg.RateLimitRPM,
		"ip_limit_per_minute", cfg.RateLimitIPRPM,
	)
	return middleware.NewRedisLimiter(client, cfg.RateLimitRPM, time.Minute),
		middleware.NewRedisLimiter(client, cfg.RateLimitIPRPM, time.Minute)
}
