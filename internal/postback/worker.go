package postback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tgcpa/tgcpa/internal/model"
)

const (
	// DefaultBatchSize is the number of failed postbacks examined per poll.
	DefaultBatchSize = 50
	// DefaultPollInterval is the time between polls for due retries.
	DefaultPollInterval = 30 * time.Second
)

// DueStore lists failed postbacks still under their offer's attempt cap
// whose backoff has elapsed at now.
type DueStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*DueCandidate, error)
}

// Worker resends failed postbacks once their backoff has elapsed.
// It runs the same path as the manual sweep.
type Worker struct {
	due          DueStore
	sweeper      *Sweeper
	logger       *slog.Logger
	batchSize    int
	pollInterval time.Duration
	now          func() time.Time
	started      bool
}

// NewWorker creates a retry worker.
func NewWorker(due DueStore, sweeper *Sweeper, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		due:          due,
		sweeper:      sweeper,
		logger:       logger.With("component", "postback.worker"),
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
	}
}

// Run starts the worker loop. Blocks until context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.started {
		return errors.New("worker already started")
	}
	w.started = true

	w.logger.Info("postback retry worker started", "poll_interval", w.pollInterval)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("postback retry worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.processOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
			}
		}
	}
}

// processOnce resends every due candidate and returns how many were tried.
func (w *Worker) processOnce(ctx context.Context) (int, error) {
	now := w.now()
	candidates, err := w.due.ListDue(ctx, now, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due postbacks: %w", err)
	}

	bySlug := make(map[string][]*model.PostbackLog)
	var order []string
	for _, c := range candidates {
		if IsExhausted(c.Log.Attempt, c.MaxAttempts) || !IsDue(c.Log.Attempt, c.Log.CreatedAt, now) {
			continue
		}
		if _, ok := bySlug[c.OfferSlug]; !ok {
			order = append(order, c.OfferSlug)
		}
		bySlug[c.OfferSlug] = append(bySlug[c.OfferSlug], c.Log)
	}

	tried := 0
	for _, slug := range order {
		offer, err := w.sweeper.store.GetOfferBySlug(ctx, slug)
		if err != nil {
			w.logger.Warn("failed to resolve offer for retry", "slug", slug, "error", err)
			continue
		}
		report := w.sweeper.RetryCandidates(ctx, offer, bySlug[slug])
		tried += len(report.Retries)
	}
	return tried, nil
}

// SetBatchSize overrides the default batch size.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetPollInterval overrides the default poll interval.
func (w *Worker) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		w.pollInterval = interval
	}
}
