package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/chartlens/internal"
	"github.com/DukeRupert/chartlens/internal/ai"
	"github.com/DukeRupert/chartlens/internal/ai/anthropic"
	"github.com/DukeRupert/chartlens/internal/ai/mock"
	"github.com/DukeRupert/chartlens/internal/billing"
	"github.com/DukeRupert/chartlens/internal/handler"
	"github.com/DukeRupert/chartlens/internal/invite"
	"github.com/DukeRupert/chartlens/internal/metrics"
	"github.com/DukeRupert/chartlens/internal/middleware"
	"github.com/DukeRupert/chartlens/internal/repository"
	"github.com/DukeRupert/chartlens/internal/service"
	"github.com/DukeRupert/chartlens/internal/storage"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	sessionSweepInterval = time.Hour
	shutdownTimeout      = 30 * time.Second
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := internal.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	repo := repository.New(db)

	store, err := newStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	provider, err := newAIProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("ai provider initialization failed: %w", err)
	}

	// ==========================================================================
	// Services
	// ==========================================================================

	userService := service.NewUserService(repo, service.UserServiceConfig{
		SessionDuration: service.DefaultSessionDuration,
		Invites:         invite.New(cfg.Features.InviteCodesEnabled, cfg.ValidInviteCodes),
		QuotaLocation:   cfg.QuotaTimezone,
	}, logger)

	quotaService := service.NewQuotaService(repo, cfg.QuotaLimits(), logger)
	usageRecorder := service.NewUsageRecorder(repo, cfg.QuotaTimezone, logger)

	analysisService := service.NewAnalysisService(
		repo,
		quotaService,
		usageRecorder,
		provider,
		service.NewImagingProcessor(),
		store,
		service.AnalysisConfig{
			MaxUploadSize:     cfg.MaxUploadSize,
			MaxImageDimension: cfg.AIMaxImageDimension,
			FreeHistoryAccess: cfg.Features.FreeHistoryAccess,
		},
		logger,
	)

	var billingService billing.Service
	if cfg.StripeSecretKey != "" {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			PremiumMonthlyPriceID: cfg.StripePremiumMonthlyPriceID,
			PremiumYearlyPriceID:  cfg.StripePremiumYearlyPriceID,
		})
		logger.Info("Stripe billing enabled")
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, billing routes will answer 503")
	}

	// ==========================================================================
	// Middleware
	// ==========================================================================

	isSecure := !cfg.IsDevelopment()
	authMw := middleware.NewAuthMiddleware(userService, logger, isSecure)
	csrfMw := middleware.CSRF(logger)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		logger.Info("Redis rate limiter enabled")
	}

	var memoryLimiters []*middleware.MemoryLimiter
	newLimiter := func(name string, max int, window time.Duration) *middleware.RateLimitMiddleware {
		if redisClient != nil {
			return middleware.NewRateLimitMiddleware(name, middleware.NewRedisLimiter(redisClient, name, max, window), cfg.TrustProxyHeaders, logger)
		}
		l := middleware.NewMemoryLimiter(max, window)
		memoryLimiters = append(memoryLimiters, l)
		return middleware.NewRateLimitMiddleware(name, l, cfg.TrustProxyHeaders, logger)
	}
	analyzeLimit := newLimiter("analyze", cfg.AnalyzeRateLimit, cfg.AnalyzeRateWindow)
	authLimit := newLimiter("auth", cfg.AuthRateLimit, cfg.AuthRateWindow)

	// ==========================================================================
	// Handlers and routes
	// ==========================================================================

	analysisHandler := handler.NewAnalysisHandler(analysisService, cfg.MaxUploadSize, logger)

	requireUser := authMw.RequireUser
	protect := middleware.Stack(authMw.RequireUser, csrfMw)
	upload := middleware.Stack(
		middleware.MaxBodySize(analysisHandler.MaxRequestSize(), logger),
		analyzeLimit.Limit,
		csrfMw,
	)

	mux := http.NewServeMux()

	mux.Handle("GET /health", handler.Health(db, logger))
	mux.Handle("GET /metrics", middleware.BasicAuth("metrics", cfg.MetricsUsername, cfg.MetricsPassword)(promhttp.Handler()))

	handler.NewAuthHandler(userService, logger, isSecure).RegisterRoutes(mux, authLimit.Limit, protect)
	handler.NewAccountHandler(quotaService, cfg.Features.ShowPricing, logger).RegisterRoutes(mux, requireUser)
	analysisHandler.RegisterRoutes(mux, requireUser, upload)
	handler.NewBillingHandler(billingService, userService, cfg.BaseURL, logger).RegisterRoutes(mux, protect)
	handler.NewWebhookHandler(billingService, userService, logger).RegisterRoutes(mux)

	if cfg.StorageProvider == storage.ProviderLocal {
		handler.NewFileHandler(store, logger).RegisterRoutes(mux, requireUser)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	root := middleware.Stack(
		middleware.NewSecurityHeadersMiddleware(isSecure).Handler,
		metrics.Middleware,
		authMw.WithUser,
		middleware.NewRequestLoggingMiddleware(logger, cfg.TrustProxyHeaders).Handler,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	// Model calls retry with backoff, so uploads may take a while.
	writeTimeout := cfg.AIRequestTimeout*time.Duration(cfg.AIMaxRetries+1) + 30*time.Second

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "ai_provider", cfg.AIProvider)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, initiating graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		sweepSessions(gctx, userService, logger)
		return nil
	})

	for _, l := range memoryLimiters {
		g.Go(func() error { return l.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func newStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		return storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		}, logger)
	default:
		return storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
	}
}

func newAIProvider(cfg *internal.Config, logger *slog.Logger) (ai.AIProvider, error) {
	if cfg.AIProvider == "mock" {
		logger.Warn("Using mock AI provider")
		return mock.New(logger), nil
	}
	return anthropic.New(anthropic.Config{
		APIKey:  cfg.AnthropicAPIKey,
		Model:   cfg.AnthropicModel,
		BaseURL: cfg.AnthropicBaseURL,
		ProviderConfig: ai.ProviderConfig{
			MaxRetries:     cfg.AIMaxRetries,
			RetryBaseDelay: cfg.AIRetryBaseDelay,
			RequestTimeout: cfg.AIRequestTimeout,
		},
	}, logger)
}

// sweepSessions deletes expired sessions until ctx is done.
func sweepSessions(ctx context.Context, users service.UserService, logger *slog.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := users.DeleteExpiredSessions(ctx)
			if err != nil {
				logger.Error("failed to delete expired sessions", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("deleted expired sessions", "count", n)
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
