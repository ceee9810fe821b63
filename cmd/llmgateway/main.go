package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/fragmentforge/llm-gateway/internal/api"
	"github.com/fragmentforge/llm-gateway/internal/auth"
	"github.com/fragmentforge/llm-gateway/internal/circuitbreaker"
	"github.com/fragmentforge/llm-gateway/internal/config"
	"github.com/fragmentforge/llm-gateway/internal/fallback"
	"github.com/fragmentforge/llm-gateway/internal/notifications"
	"github.com/fragmentforge/llm-gateway/internal/provider"
	"github.com/fragmentforge/llm-gateway/internal/queue"
	"github.com/fragmentforge/llm-gateway/internal/ratelimit"
	"github.com/fragmentforge/llm-gateway/internal/repository"
	"github.com/fragmentforge/llm-gateway/internal/secrets"
	"github.com/fragmentforge/llm-gateway/internal/streaming"
	"github.com/fragmentforge/llm-gateway/internal/structured"
	"github.com/fragmentforge/llm-gateway/internal/telemetry"

	"github.com/redis/go-redis/v9"
)

const version = "0.2.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)
	logger := slog.Default()

	logger.Info("starting llm-gateway", "addr", cfg.Addr, "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "llm-gateway", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	creds := provider.Credentials{
		OpenAIAPIKey:         cfg.OpenAIAPIKey,
		OpenAIBaseURL:        cfg.OpenAIBaseURL,
		AnthropicAPIKey:      cfg.AnthropicAPIKey,
		AnthropicBaseURL:     cfg.AnthropicBaseURL,
		GroqAPIKey:           cfg.GroqAPIKey,
		FireworksAPIKey:      cfg.FireworksAPIKey,
		TogetherAPIKey:       cfg.TogetherAPIKey,
		DeepSeekAPIKey:       cfg.DeepSeekAPIKey,
		XAIAPIKey:            cfg.XAIAPIKey,
		MistralAPIKey:        cfg.MistralAPIKey,
		OpenRouterAPIKey:     cfg.OpenRouterAPIKey,
		GoogleServiceAccount: cfg.GoogleCredentials,
		OllamaBaseURL:        cfg.OllamaBaseURL,
		AWSRegion:            cfg.AWSRegion,
	}

	if cfg.SecretsName != "" && cfg.AWSRegion != "" {
		store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			logger.Error("failed to initialize secrets manager", "error", err)
			os.Exit(1)
		}
		if err := secrets.HydrateCredentials(ctx, store, cfg.SecretsName, &creds); err != nil {
			logger.Error("failed to hydrate credentials", "error", err)
			os.Exit(1)
		}
		logger.Info("provider credentials hydrated from secrets manager", "secret", cfg.SecretsName)
	}

	resolver := provider.NewResolver(creds)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	var distributed ratelimit.Limiter
	if redisClient != nil {
		distributed = ratelimit.NewRedisLimiterWithClient(redisClient)
		logger.Info("using distributed rate limiter")
	} else {
		logger.Info("using in-process rate limiter")
	}
	limiter := ratelimit.NewFallbackLimiter(distributed, logger)
	defer limiter.Stop()

	var breakerOpts []circuitbreaker.ManagerOption
	if redisClient != nil && cfg.UseDistributedCircuitBreaker {
		breakerOpts = append(breakerOpts, circuitbreaker.WithRedisClient(redisClient))
		logger.Info("using distributed circuit breakers")
	}
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), breakerOpts...)

	var notifier notifications.Notifier
	if cfg.AlertTopicARN != "" && cfg.AWSRegion != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.AlertTopicARN)
		if err != nil {
			logger.Error("failed to initialize sns notifier", "error", err)
			os.Exit(1)
		}
		logger.Info("alerts enabled", "topic", cfg.AlertTopicARN)
	}

	var usageEvents queue.Publisher
	if cfg.UsageQueueURL != "" && cfg.AWSRegion != "" {
		usageEvents, err = queue.NewSQSPublisher(ctx, cfg.AWSRegion, cfg.UsageQueueURL)
		if err != nil {
			logger.Error("failed to initialize usage queue", "error", err)
			os.Exit(1)
		}
		logger.Info("usage events enabled", "queue", cfg.UsageQueueURL)
	} else {
		usageEvents = queue.NewInMemoryPublisher()
	}

	var generationLog repository.GenerationLog
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		pgLog := repository.NewPostgresGenerationLog(db)
		if err := pgLog.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		generationLog = pgLog
		logger.Info("generation log persisted to postgres")
	} else {
		generationLog = repository.NewInMemoryGenerationLog()
		logger.Info("generation log kept in memory")
	}

	handler := api.NewHandler(api.HandlerConfig{
		Resolver:        resolver,
		Limiter:         limiter,
		Breakers:        breakers,
		Chain:           fallback.NewChain(cfg.FallbackProviders, resolver),
		Policy:          fallback.DefaultPolicy(),
		Generator:       structured.NewGenerator(logger),
		Streamer:        streaming.New(logger),
		UsageEvents:     usageEvents,
		GenerationLog:   generationLog,
		Notifier:        notifier,
		AdminKeys:       auth.NewVerifier(cfg.AdminKeyHash),
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		RequestTimeout:  cfg.RequestTimeout,
		Logger:          logger,
	})

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// Write timeout must outlive the request timeout so streams are
		// never cut off mid-generation.
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
