// Package main is the entrypoint for the tracker API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/tgcpa/tgcpa/internal/app"
	"github.com/tgcpa/tgcpa/internal/auth"
	"github.com/tgcpa/tgcpa/internal/config"
	"github.com/tgcpa/tgcpa/internal/handler"
	"github.com/tgcpa/tgcpa/internal/middleware"
	"github.com/tgcpa/tgcpa/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	verifier, err := auth.NewVerifier(cfg.AdminTokenHash)
	if err != nil {
		logger.Error("invalid ADMIN_TOKEN_HASH", "error", err)
		os.Exit(1)
	}
	if !verifier.Enabled() {
		logger.Warn("ADMIN_TOKEN_HASH not set, admin routes reject every request")
	}

	a, err := app.Build(ctx, cfg, logger, app.Options{Migrate: true})
	if err != nil {
		logger.Error("failed to initialise tracker",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL, cfg.RedisURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database", "redis", a.Cache != nil)

	if cfg.TelegramBotUsername == "" {
		logger.Warn("TELEGRAM_BOT_USERNAME not set, tracking links cannot reach the bot")
	}

	r := setupRouter(a, verifier, cfg, logger)

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	if cfg.RetrySweepEnabled {
		srv.Go("postback-retry-worker", a.RetryWorker.Run)
	}
	srv.OnShutdown("stores", func(ctx context.Context) error {
		a.Close()
		return nil
	})

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
		"retry_worker", cfg.RetrySweepEnabled,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(a *app.App, verifier *auth.Verifier, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	deps := []handler.Dependency{{Name: "postgres", Checker: a.Repo}}
	if a.Cache != nil {
		deps = append(deps, handler.Dependency{Name: "redis", Checker: a.Cache})
	} else {
		deps = append(deps, handler.Dependency{Name: "redis"})
	}
	health := handler.NewHealthHandler(deps...)

	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", a.MetricsHTTP)

	clickLimit := middleware.ClickRateLimitConfig{
		Logger:  logger,
		Metrics: a.Metrics,
		Enabled: cfg.RateLimitClickEnabled,
		RPS:     cfg.RateLimitClickRPS,
		Burst:   cfg.RateLimitClickBurst,
	}
	if a.Cache != nil {
		clickLimit.Limiter = a.Cache
	}
	clicks := handler.NewClickHandler(a.Clicks, cfg.TelegramBotUsername, logger)
	r.With(middleware.RateLimitClick(clickLimit)).Get("/go/{slug}", clicks.Redirect)

	apiLimit := httprate.Limit(cfg.RateLimitAPIPerMinute, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return middleware.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded","code":"RATE_LIMITED"}` + "\n"))
		}),
	)

	claims := handler.NewClaimHandler(a.Claims, logger)
	admin := handler.NewAdminHandler(a.Recorder, a.Sweeper, a.Postbacks, a.Repo, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiLimit)

		r.Post("/claim", claims.Claim)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminAuth(verifier, logger))

			r.Post("/events", admin.RecordEvent)
			r.Post("/offers/{slug}/postbacks/retry", admin.RetryPostbacks)
			r.Get("/offers/{slug}/postbacks", admin.ListPostbacks)
		})
	})

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
