package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/internal/api"
	"github.com/relaydesk/relaydesk/internal/circuitbreaker"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/ingest"
	"github.com/relaydesk/relaydesk/internal/mailbox"
	"github.com/relaydesk/relaydesk/internal/metrics"
	"github.com/relaydesk/relaydesk/internal/notify"
	"github.com/relaydesk/relaydesk/internal/observ"
	"github.com/relaydesk/relaydesk/internal/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting relaydesk",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Duration("mailbox_ttl", cfg.MailboxTTL),
		zap.Int("mailbox_capacity", cfg.MailboxCapacity),
	)

	// Mailbox state shared by ingestion and the panel endpoints
	store := mailbox.NewStore(mailbox.Config{
		TTL:          cfg.MailboxTTL,
		Capacity:     cfg.MailboxCapacity,
		DefaultLimit: cfg.QueryLimitDefault,
		MaxLimit:     cfg.QueryLimitMax,
	}, logger)
	cache := mailbox.NewContextCache(cfg.ContextCacheSize)
	replies := mailbox.NewReplySet()

	// Redis backs panel rate limiting; the relay runs without it
	ctx := context.Background()
	var rateLimiter *redis.RateLimiter
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, panel rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateWindow,
		})
		defer redisClient.Close()
	}

	// Echo forwarding to the panel, breaker-protected
	var notifier ingest.Notifier
	var breaker *circuitbreaker.CircuitBreaker
	if cfg.PanelURL != "" {
		breaker = circuitbreaker.New(circuitbreaker.DefaultConfig("panel"), logger)
		panelNotifier := notify.NewPanelNotifier(notify.Config{
			URL:     cfg.PanelURL,
			Timeout: time.Duration(cfg.NotifyTimeout) * time.Second,
		}, logger)
		notifier = circuitbreaker.NewProtectedNotifier(panelNotifier, breaker, logger)
		logger.Info("echo forwarding enabled", zap.String("panel_url", cfg.PanelURL))
	} else {
		logger.Info("echo forwarding disabled, no panel url configured")
	}

	eventRouter := ingest.NewRouter(ingest.Config{
		Store:         store,
		Cache:         cache,
		Replies:       replies,
		Notifier:      notifier,
		NotifyTimeout: time.Duration(cfg.NotifyTimeout) * time.Second,
	}, logger)

	// Background sweeper purges expired records between polls
	sweeper := mailbox.NewSweeper(store, cfg.SweepInterval, logger)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	go sweeper.Start(sweepCtx)

	logger.Info("mailbox sweeper started", zap.Duration("interval", cfg.SweepInterval))

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	var handler *api.Handler
	if breaker != nil {
		handler = api.NewHandlerWithBreaker(logger, store, replies, eventRouter, cfg.VerifyToken, breaker)
	} else {
		handler = api.NewHandler(logger, store, replies, eventRouter, cfg.VerifyToken)
	}

	// The platform side is never rate limited or token guarded; dropping
	// its events only makes it resend them.
	r.Get("/webhook", handler.VerifyWebhook)
	r.Post("/webhook", handler.IngestWebhook)

	r.Route("/panel", func(r chi.Router) {
		r.Use(api.AccessTokenMiddleware(cfg.AccessToken, logger))
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

		r.Get("/notifications", handler.PollNotifications)
		r.Post("/replies/drain", handler.DrainReplies)
	})

	// Health check
	r.Get("/health", handler.Health)

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		sweepCancel()
		eventRouter.Wait()

		logger.Info("server stopped gracefully")
	}

	return nil
}
