package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/enercall/webhook-relay/internal/api/router"
	"github.com/enercall/webhook-relay/internal/audit"
	"github.com/enercall/webhook-relay/internal/calls"
	appconfig "github.com/enercall/webhook-relay/internal/config"
	"github.com/enercall/webhook-relay/internal/events"
	"github.com/enercall/webhook-relay/internal/observability/metrics"
	"github.com/enercall/webhook-relay/internal/reconcile"
	"github.com/enercall/webhook-relay/internal/webhook"
	"github.com/enercall/webhook-relay/internal/whatsapp"
	"github.com/enercall/webhook-relay/pkg/logging"
)

func main() {
	// Local development convenience; a missing .env file is fine.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting webhook-relay API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	// Storage. Without DATABASE_URL the relay runs on in-memory state:
	// useful for local testing, everything lost on restart.
	var pool *pgxpool.Pool
	var callStore calls.Store = calls.NewMemoryStore()
	var auditStore *audit.Store
	var queueStore *whatsapp.QueueStore
	if cfg.DatabaseURL != "" {
		p, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create database pool", "error", err)
			os.Exit(1)
		}
		if err := p.Ping(ctx); err != nil {
			logger.Error("database unreachable", "error", err)
			os.Exit(1)
		}
		pool = p
		defer pool.Close()
		callStore = calls.NewPostgresStore(pool)
		auditStore = audit.NewStore(pool)
		queueStore = whatsapp.NewQueueStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set; running with in-memory storage")
	}

	// Event dedup: Redis when available, Postgres otherwise.
	var tracker events.Tracker
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		tracker = events.NewRedisTracker(client, 0)
	} else if pool != nil {
		tracker = events.NewProcessedStore(pool)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	client := whatsapp.NewClient(
		cfg.WhatsAppAPIURL,
		cfg.WhatsAppAPIToken,
		cfg.WhatsAppSendPaths,
		cfg.WhatsAppTimeout,
		logger.Component("whatsapp"),
	)
	dispatcherCfg := whatsapp.DispatcherConfig{
		Client:  client,
		Queue:   queueStore,
		Logger:  logger.Component("dispatch"),
		Metrics: webhookMetrics,
	}
	if auditStore != nil {
		dispatcherCfg.History = auditStore
	}
	dispatcher := whatsapp.NewDispatcher(dispatcherCfg)

	engine := reconcile.NewEngine(callStore, logger.Component("reconcile"))
	ring := audit.NewRingBuffer(cfg.RecentRequestsCap)

	handlerCfg := webhook.HandlerConfig{
		Calls:           callStore,
		Reconciler:      engine,
		Dispatcher:      dispatcher,
		Recorder:        ring,
		Tracker:         tracker,
		Metrics:         webhookMetrics,
		Logger:          logger.Component("webhook"),
		WebhookSecret:   cfg.WebhookSecret,
		FollowupMessage: cfg.FollowupMessage,
	}
	if auditStore != nil {
		handlerCfg.Audit = auditStore
	}
	webhookHandler := webhook.NewHandler(handlerCfg)

	r := router.New(&router.Config{
		Logger:             logger,
		Webhook:            webhookHandler,
		Recorder:           ring,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AdminJWTSecret:     cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
