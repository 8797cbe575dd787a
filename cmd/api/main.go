package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hanjaemi/hanjaemi/internal/api"
	"github.com/hanjaemi/hanjaemi/internal/audit"
	"github.com/hanjaemi/hanjaemi/internal/auth"
	"github.com/hanjaemi/hanjaemi/internal/chat"
	"github.com/hanjaemi/hanjaemi/internal/config"
	"github.com/hanjaemi/hanjaemi/internal/database"
	"github.com/hanjaemi/hanjaemi/internal/events"
	"github.com/hanjaemi/hanjaemi/internal/history"
	"github.com/hanjaemi/hanjaemi/internal/middleware"
	"github.com/hanjaemi/hanjaemi/internal/provider"
	"github.com/hanjaemi/hanjaemi/internal/provider/openai"
	iredis "github.com/hanjaemi/hanjaemi/internal/redis"
	"github.com/hanjaemi/hanjaemi/internal/server"
	"github.com/hanjaemi/hanjaemi/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS is optional; without it usage events are dropped.
	var eventsClient *events.Client
	var publisher *events.Publisher
	if cfg.NATS.Enabled {
		eventsClient, err = events.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to nats", "error", err)
			os.Exit(1)
		}
		defer eventsClient.Close()
		publisher = events.NewPublisher(eventsClient.JetStream())
	}

	// Auth
	verifier := auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)

	// Quota gate
	usageRepo := usage.NewRepository(pool)
	usageSvc := usage.NewService(usageRepo, cfg.Limits)
	usageHandler := usage.NewHandler(usageSvc)

	// Chat history
	var store history.Store
	var recent *history.RecentCache
	if cfg.History.Enabled {
		store = history.NewStore(pool)
		recent = history.NewRecentCache(redisClient, cfg.History.RecentLimit, cfg.History.RecentTTL)
	} else {
		store = history.NewNoopStore()
	}
	historyHandler := history.NewHandler(store)

	// Completion provider
	var providerClient provider.Client
	if cfg.Provider.APIKey != "" {
		providerClient = openai.New(cfg.Provider.APIKey, cfg.Provider.BaseURL,
			openai.WithTimeout(cfg.Provider.Timeout))
	}

	estimator, err := chat.NewEstimator()
	if err != nil {
		slog.Warn("token estimator unavailable, prompt token counts will be zero", "error", err)
	}

	var eventPublisher chat.EventPublisher
	if publisher != nil {
		eventPublisher = publisher
	}
	chatHandler := chat.NewHandler(providerClient, usageSvc, store, recent, eventPublisher, estimator, cfg.Provider)

	// Request audit log
	auditRepo := audit.NewRepository(pool)
	auditHandler := audit.NewHandler(auditRepo)
	if eventsClient != nil {
		consumer := audit.NewConsumer(auditRepo, events.NewConsumerManager(eventsClient.JetStream()))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("audit consumer stopped", "error", err)
			}
		}()
	}

	// Per-IP rate limit on the provider-facing endpoints
	routerCfg := api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
	}
	if cfg.RateLimit.MaxRequests > 0 {
		limiter := middleware.NewRateLimiter(redisClient, cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSec)
		routerCfg.ChatRateLimiter = limiter.Middleware
	}

	var eventBusHealthy func() bool
	if eventsClient != nil {
		eventBusHealthy = eventsClient.Healthy
	}

	router := api.NewRouter(pool, routerCfg, api.HandlerSet{
		Chat:       chatHandler.Chat,
		Transcribe: chatHandler.Transcribe,
		Speech:     chatHandler.Speech,

		GetUsage:    usageHandler.Get,
		RecordUsage: usageHandler.Record,

		ListSessionMessages: historyHandler.ListSessionMessages,

		ListAuditLogs: auditHandler.ListRequestLogs,

		AuthMiddleware:  auth.Middleware(verifier),
		EventBusHealthy: eventBusHealthy,
	})

	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
