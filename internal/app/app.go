// Package app wires the tracker's stores, services and postback pipeline
// from configuration. It is shared by the API server and the bot.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tgcpa/tgcpa/internal/antifraud"
	"github.com/tgcpa/tgcpa/internal/cache"
	"github.com/tgcpa/tgcpa/internal/config"
	"github.com/tgcpa/tgcpa/internal/database"
	"github.com/tgcpa/tgcpa/internal/handler"
	"github.com/tgcpa/tgcpa/internal/idempotency"
	"github.com/tgcpa/tgcpa/internal/metrics"
	"github.com/tgcpa/tgcpa/internal/postback"
	"github.com/tgcpa/tgcpa/internal/repository"
	"github.com/tgcpa/tgcpa/internal/service"
)

// App holds the wired components.
type App struct {
	Repo        *repository.Repository
	DB          *sql.DB
	Cache       *cache.Cache
	Metrics     metrics.Recorder
	MetricsHTTP http.Handler
	Postbacks   *postback.Repository
	Dispatcher  *postback.Dispatcher
	Sweeper     *postback.Sweeper
	RetryWorker *postback.Worker
	Clicks      *service.ClickService
	Claims      *service.ClaimService
	Recorder    *service.EventRecorder
	Reputation  *antifraud.CIDRReputation
	closeFuncs  []func()
}

// Options tune Build.
type Options struct {
	// Migrate applies pending migrations before the version check.
	Migrate bool
}

// Build connects to Postgres (and Redis when configured), verifies the
// schema version and wires every service.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if opts.Migrate {
		if err := database.Migrate(ctx, cfg.DatabaseURL, logger); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closeFuncs = append(a.closeFuncs, func() { _ = db.Close() })

	if err := database.RequireVersion(db); err != nil {
		return nil, err
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.Repo = repo
	a.closeFuncs = append(a.closeFuncs, repo.Close)

	if cfg.RedisURL != "" {
		c, err := cache.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.Cache = c
		a.closeFuncs = append(a.closeFuncs, func() { _ = c.Close() })
	}

	a.Metrics, a.MetricsHTTP = NewMetrics(cfg.MetricsBackend)

	loc, err := cfg.DayLocation()
	if err != nil {
		return nil, err
	}

	rep, err := antifraud.NewCIDRReputation(cfg.SuspectIPCIDRs)
	if err != nil {
		return nil, err
	}
	a.Reputation = rep

	a.Postbacks = postback.NewRepository(db)
	a.Dispatcher = postback.NewDispatcher(repo, a.Postbacks, NewGuard(cfg, a.Cache, logger), postback.Config{
		Secret:   cfg.PostbackSecret,
		Timeout:  cfg.PostbackTimeout,
		DedupTTL: cfg.PostbackDedupTTL,
	}, logger, a.Metrics)
	a.Sweeper = postback.NewSweeper(repo, a.Postbacks, a.Dispatcher, logger, a.Metrics)
	a.RetryWorker = postback.NewWorker(a.Postbacks, a.Sweeper, logger)
	a.RetryWorker.SetBatchSize(cfg.RetrySweepBatch)
	a.RetryWorker.SetPollInterval(cfg.RetrySweepInterval)

	var offerCache service.OfferCache
	if a.Cache != nil {
		offerCache = a.Cache
	}
	a.Clicks = service.NewClickService(repo, repo, offerCache, rep, logger, a.Metrics)
	a.Claims = service.NewClaimService(a.Clicks, repo, logger, a.Metrics)

	gate := antifraud.NewGate(repo,
		antifraud.WithPrimaryCap(cfg.PrimaryDailyCap),
		antifraud.WithReactionWindow(cfg.ReactionDebounce),
		antifraud.WithLocation(loc),
	)
	a.Recorder = service.NewEventRecorder(repo, repo, repo, gate, a.Dispatcher,
		service.RecorderConfig{Location: loc}, logger, a.Metrics)

	ok = true
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closeFuncs) - 1; i >= 0; i-- {
		a.closeFuncs[i]()
	}
	a.closeFuncs = nil
}

// NewMetrics returns the recorder for backend and the handler that
// exposes it.
func NewMetrics(backend string) (metrics.Recorder, http.Handler) {
	if backend == config.BackendMemory {
		rec := metrics.NewInMemory()
		return rec, http.HandlerFunc(handler.NewMetricsHandler(rec).Metrics)
	}
	rec := metrics.NewPrometheus()
	return rec, rec.Handler()
}

// NewGuard builds the idempotency tiers: always the bounded in-process set
// with insertion-order eviction, plus the shared Redis tier when configured.
func NewGuard(cfg *config.Config, c *cache.Cache, logger *slog.Logger) idempotency.Guard {
	tiers := idempotency.Tiered{idempotency.NewMemoryGuard(cfg.IdempotencyCapacity)}
	if cfg.UseRedisGuard() && c != nil {
		tiers = append(tiers, idempotency.NewRedisGuard(c, logger))
	}
	return tiers
}
