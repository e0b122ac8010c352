package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/palate/internal/adapters/lock"
	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/pkg/logger"
	"github.com/okian/palate/pkg/metrics"
)

// Report summarizes one batch run.
type Report struct {
	RunID       string           `json:"run_id"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Skipped     bool             `json:"skipped"`
	Categories  []CategoryReport `json:"categories,omitempty"`
	FlushedKeys int              `json:"flushed_keys"`
}

// CategoryReport is the per-category part of a Report.
type CategoryReport struct {
	Category   model.Category `json:"category"`
	Discovered int            `json:"discovered"`
	Recomputed int            `json:"recomputed"`
	Failed     int            `json:"failed"`
	Error      string         `json:"error,omitempty"`
}

type recomputeFunc func(ctx context.Context, a, b string, c model.Category) (*model.TasteSimilarity, error)

// BatchScheduler runs the daily full recomputation, single-flight across
// every process sharing the lock store.
type BatchScheduler struct {
	locker     *lock.Locker
	discoverer Discoverer
	recompute  recomputeFunc
	cache      Cache
	now        func() time.Time
	logger     logger.Logger

	hour, minute int
	onStart      bool

	mu   sync.Mutex
	last *Report
}

// RunOnce performs one batch run. When another holder owns the lock it
// returns a Report with Skipped set and issues no recomputes.
func (b *BatchScheduler) RunOnce(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString(), StartedAt: b.now().UTC()}
	log := b.logger.With(logger.String("run_id", report.RunID))

	lease, err := b.locker.Acquire(ctx, lock.BatchKey)
	if errors.Is(err, lock.ErrHeld) {
		log.Info(ctx, "batch lock held elsewhere, skipping run")
		metrics.RecordBatchRun(metrics.BatchLocked)
		report.Skipped = true
		report.FinishedAt = b.now().UTC()
		return report, nil
	}
	if err != nil {
		metrics.RecordBatchRun(metrics.BatchFailed)
		return report, fmt.Errorf("batch lock: %w", err)
	}
	defer func() {
		if _, err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Error(ctx, "batch lock release failed", logger.Error(err))
		}
	}()

	log.Info(ctx, "batch run started")
	for _, c := range model.Categories {
		if ctx.Err() != nil {
			break
		}
		report.Categories = append(report.Categories, b.runCategory(ctx, log, c))
	}

	if err := ctx.Err(); err != nil {
		report.FinishedAt = b.now().UTC()
		metrics.RecordBatchRun(metrics.BatchFailed)
		log.Warn(context.WithoutCancel(ctx), "batch run interrupted", logger.Error(err))
		b.remember(report)
		return report, err
	}

	flushed, err := b.cache.Flush(ctx)
	if err != nil {
		log.Error(ctx, "cache flush failed", logger.Error(err))
	}
	report.FlushedKeys = flushed
	metrics.UpdateCacheFlushedKeys(flushed)

	report.FinishedAt = b.now().UTC()
	metrics.RecordBatchRun(metrics.BatchCompleted)
	metrics.RecordBatchDuration(report.FinishedAt.Sub(report.StartedAt).Seconds())
	metrics.UpdateBatchLastSuccess(report.FinishedAt.Unix())
	b.remember(report)

	log.Info(ctx, "batch run finished",
		logger.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
		logger.Int("flushed_keys", flushed),
	)
	return report, nil
}

func (b *BatchScheduler) runCategory(ctx context.Context, log logger.Logger, c model.Category) CategoryReport {
	cr := CategoryReport{Category: c}
	log = log.With(logger.String("category", string(c)))

	pairs, err := b.discoverer.Discover(ctx, c)
	if err != nil {
		log.Error(ctx, "pair discovery failed", logger.Error(err))
		cr.Error = err.Error()
		return cr
	}
	cr.Discovered = len(pairs)
	metrics.UpdateBatchPairsDiscovered(string(c), len(pairs))

	for _, p := range pairs {
		if ctx.Err() != nil {
			return cr
		}
		if _, err := b.recompute(ctx, p.UserLow, p.UserHigh, c); err != nil {
			cr.Failed++
			metrics.RecordBatchPairFailure(string(c))
			log.Warn(ctx, "pair recompute failed, skipping",
				logger.String("user_low", p.UserLow),
				logger.String("user_high", p.UserHigh),
				logger.Error(err),
			)
			continue
		}
		cr.Recomputed++
	}
	log.Info(ctx, "category done",
		logger.Int("discovered", cr.Discovered),
		logger.Int("recomputed", cr.Recomputed),
		logger.Int("failed", cr.Failed),
	)
	return cr
}

func (b *BatchScheduler) remember(r Report) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = &r
}

// LastReport returns the most recent run this process executed.
func (b *BatchScheduler) LastReport() (Report, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return Report{}, false
	}
	return *b.last, true
}

// NextRun returns the first daily run time at hour:minute UTC strictly after now.
func NextRun(now time.Time, hour, minute int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Serve runs the daily schedule until ctx is cancelled.
func (b *BatchScheduler) Serve(ctx context.Context) error {
	if b.onStart {
		b.runLogged(ctx)
	}
	for {
		next := NextRun(b.now(), b.hour, b.minute)
		b.logger.Info(ctx, "next batch run scheduled", logger.Time("at", next))

		timer := time.NewTimer(next.Sub(b.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			b.runLogged(ctx)
		}
	}
}

func (b *BatchScheduler) runLogged(ctx context.Context) {
	if _, err := b.RunOnce(ctx); err != nil && ctx.Err() == nil {
		b.logger.Error(ctx, "batch run failed", logger.Error(err))
	}
}

// String names the service in supervisor logs.
func (b *BatchScheduler) String() string { return "batch-scheduler" }
