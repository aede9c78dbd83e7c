package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/meridian-gateway/internal/auth"
	"github.com/af-corp/meridian-gateway/internal/cache"
	"github.com/af-corp/meridian-gateway/internal/config"
	"github.com/af-corp/meridian-gateway/internal/gateway"
	"github.com/af-corp/meridian-gateway/internal/monitor"
	"github.com/af-corp/meridian-gateway/internal/ratelimit"
	"github.com/af-corp/meridian-gateway/internal/router"
	"github.com/af-corp/meridian-gateway/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	cfg := loader.Config()

	// PostgreSQL carries API keys and usage audit records.
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (gateway will start but auth will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (caches degrade to local/database)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	metrics := telemetry.NewMetrics()

	var store cache.Store
	if cfg.Cache.Backend == "redis" && rdb != nil {
		store = cache.NewRedis(rdb, cfg.Cache.TTL)
		logger.Info("response cache using redis", "ttl", cfg.Cache.TTL)
	} else {
		store = cache.NewMemory(cfg.Cache.TTL)
		logger.Info("response cache using memory", "ttl", cfg.Cache.TTL)
	}

	pricing := monitor.NewPricing(loader.Models().Pricing)
	audit := monitor.NewAuditSink(dbPool, cfg.Monitor.AuditBuffer, cfg.Monitor.AuditWriteTimeout)
	defer audit.Close()
	mon := monitor.New(cfg.Monitor, pricing, metrics, monitor.LogSink{}, audit)

	registry := router.BuildFromConfig(loader.Providers())
	health := router.NewHealthTracker(5, 30*time.Second)
	resolver := router.NewResolver(loader.Models(), registry, health)
	limiter := ratelimit.NewLimiter(cfg.Limits)

	orchestrator := gateway.NewOrchestrator(resolver, limiter, store, mon, health, metrics)
	sessions := gateway.NewSessionManager(cfg.Streaming, resolver, limiter, mon, health, metrics)
	defer sessions.Close()

	keyStore := auth.NewCachedKeyStore(dbPool, rdb)
	handler := gateway.NewHandler(orchestrator, sessions, mon, health)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	// Unauthenticated routes
	r.Get("/meridian/v1/health", handler.Health)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(keyStore))
		r.Post("/v1/generate", handler.Generate)
		r.Post("/v1/stream", handler.Stream)
		r.Delete("/v1/stream/{id}", handler.CancelStream)
		r.Get("/v1/usage", handler.Usage)
		r.Post("/meridian/v1/reset-daily-costs", handler.ResetDailyCosts)
	})

	// Metrics on a separate listener so the telemetry port never needs auth.
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	// Periodic usage snapshots into the audit trail.
	snapshotDone := make(chan struct{})
	go func() {
		interval := cfg.Telemetry.SnapshotInterval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-snapshotDone:
				return
			case <-ticker.C:
				audit.RecordSnapshot(mon.Snapshot())
			}
		}
	}()
	defer close(snapshotDone)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func generateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
