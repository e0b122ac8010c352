// Package service composes the taste-similarity engine: the pair
// orchestrator, the incremental trigger with its queue and workers, the
// daily batch and the discovery reads.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/okian/palate/internal/adapters/lock"
	eventqueue "github.com/okian/palate/internal/adapters/mq/queue"
	workerpool "github.com/okian/palate/internal/adapters/mq/worker"
	"github.com/okian/palate/internal/domain/dedupe"
	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/internal/domain/scoring"
	"github.com/okian/palate/pkg/logger"
)

// Deps are the adapters the engine runs on.
type Deps struct {
	Items      ItemSource
	Store      SimilarityStore
	Discoverer Discoverer
	Profiles   ProfileSource
	Cache      Cache
	Locker     *lock.Locker
}

// Service implements the API dependencies for the similarity engine.
type Service struct {
	orchestrator *Orchestrator
	trigger      *Trigger
	scheduler    *BatchScheduler
	discovery    *Discovery
	workers      *workerpool.Pool
	queue        *eventqueue.InMemoryQueue
	coalescer    dedupe.Coalescer
	store        SimilarityStore
	cache        Cache

	// Configuration
	workerCount   int
	queueSize     int
	coalescerSize int
	retryDelay    time.Duration
	batchHour     int
	batchMinute   int
	batchOnStart  bool
	breaker       BreakerSettings
	scorerOpts    []scoring.Option
	now           func() time.Time

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of recompute workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the recompute queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithCoalescerSize bounds the pending-pair set.
func WithCoalescerSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.coalescerSize = size
		}
	}
}

// WithRetryDelay sets the delay before a failed trigger recompute is retried.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.retryDelay = d
		}
	}
}

// WithBatchTime sets the daily UTC batch time.
func WithBatchTime(hour, minute int) Option {
	return func(s *Service) {
		s.batchHour, s.batchMinute = hour, minute
	}
}

// WithBatchOnStart runs one batch as soon as the scheduler starts.
func WithBatchOnStart(on bool) Option {
	return func(s *Service) {
		s.batchOnStart = on
	}
}

// WithBreaker tunes the item source circuit breaker.
func WithBreaker(b BreakerSettings) Option {
	return func(s *Service) {
		s.breaker = b
	}
}

// WithScoring passes options to the scorer.
func WithScoring(opts ...scoring.Option) Option {
	return func(s *Service) {
		s.scorerOpts = append(s.scorerOpts, opts...)
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New wires the engine. Nothing runs until the scheduler and worker pool
// are served, typically by a supervisor.
func New(d Deps, opts ...Option) (*Service, error) {
	switch {
	case d.Items == nil, d.Store == nil, d.Discoverer == nil, d.Profiles == nil, d.Cache == nil, d.Locker == nil:
		return nil, errors.New("service: missing dependency")
	}

	s := &Service{
		workerCount:   runtime.NumCPU() * 2,
		queueSize:     10_000,
		coalescerSize: 50_000,
		retryDelay:    5 * time.Second,
		batchHour:     3,
		breaker:       DefaultBreakerSettings(),
		now:           time.Now,
		store:         d.Store,
		cache:         d.Cache,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}

	s.orchestrator = &Orchestrator{
		items:  newBreakerItems(d.Items, s.breaker, s.logger.Named("breaker")),
		store:  d.Store,
		cache:  d.Cache,
		scorer: scoring.New(s.scorerOpts...),
		now:    s.now,
		logger: s.logger.Named("orchestrator"),
	}

	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.coalescer = dedupe.NewInMemoryCoalescer(dedupe.WithMaxSize(s.coalescerSize))
	s.trigger = &Trigger{queue: s.queue, coalescer: s.coalescer, logger: s.logger.Named("trigger")}
	s.workers = workerpool.NewPool(s.workerCount, s.queue, s.orchestrator,
		workerpool.WithRetryDelay(s.retryDelay),
		workerpool.WithCoalescer(s.coalescer),
		workerpool.WithLogger(s.logger.Named("worker-pool")),
	)

	s.scheduler = &BatchScheduler{
		locker:     d.Locker,
		discoverer: d.Discoverer,
		recompute:  s.orchestrator.RecomputePair,
		cache:      d.Cache,
		now:        s.now,
		logger:     s.logger.Named("batch"),
		hour:       s.batchHour,
		minute:     s.batchMinute,
		onStart:    s.batchOnStart,
	}
	s.discovery = &Discovery{cache: d.Cache, profiles: d.Profiles}
	return s, nil
}

// RecomputePair rescores one pair synchronously.
func (s *Service) RecomputePair(ctx context.Context, a, b string, c model.Category) (*model.TasteSimilarity, error) {
	return s.orchestrator.RecomputePair(ctx, a, b, c)
}

// PairScore returns the pair's score, or nil when no row exists.
func (s *Service) PairScore(ctx context.Context, a, b string, c model.Category) (*model.PairScore, error) {
	if err := validatePair(a, b, c); err != nil {
		return nil, err
	}
	return s.cache.PairScore(ctx, a, b, c)
}

// AllScoresForUser lists every similarity row involving u.
func (s *Service) AllScoresForUser(ctx context.Context, u string) ([]model.UserScore, error) {
	if u == "" {
		return nil, ErrInvalidUser
	}
	return s.cache.AllScoresForUser(ctx, u)
}

// HighSimilarity returns u's cached high tier.
func (s *Service) HighSimilarity(ctx context.Context, u string) ([]model.UserScore, error) {
	if u == "" {
		return nil, ErrInvalidUser
	}
	return s.cache.HighSimilarity(ctx, u)
}

// ModerateSimilarity returns u's cached moderate tier.
func (s *Service) ModerateSimilarity(ctx context.Context, u string) ([]model.UserScore, error) {
	if u == "" {
		return nil, ErrInvalidUser
	}
	return s.cache.ModerateSimilarity(ctx, u)
}

// InvalidateUserCaches drops u's friends and tier lists, e.g. after a pin change.
func (s *Service) InvalidateUserCaches(ctx context.Context, u string) error {
	if u == "" {
		return ErrInvalidUser
	}
	return s.cache.InvalidateUser(ctx, u)
}

// Submit hands a signal to the incremental trigger.
func (s *Service) Submit(ctx context.Context, sig Signal) Disposition {
	return s.trigger.Submit(ctx, sig)
}

// OnSignal reports whether a recompute for the signal is pending.
func (s *Service) OnSignal(ctx context.Context, sig Signal) bool {
	return s.trigger.OnSignal(ctx, sig)
}

// SimilarUsers pages through u's most similar users.
func (s *Service) SimilarUsers(ctx context.Context, q Query) (Page, error) {
	return s.discovery.SimilarUsers(ctx, q)
}

// PinEligibility reports whether a may pin b.
func (s *Service) PinEligibility(ctx context.Context, a, b string) (Eligibility, error) {
	return s.discovery.PinEligibility(ctx, a, b)
}

// RunBatch runs the full recomputation now, honoring the fleet lock.
func (s *Service) RunBatch(ctx context.Context) (Report, error) {
	return s.scheduler.RunOnce(ctx)
}

// LastBatch returns this process's most recent batch report.
func (s *Service) LastBatch() (Report, bool) {
	return s.scheduler.LastReport()
}

// Scheduler is the supervised daily batch service.
func (s *Service) Scheduler() *BatchScheduler { return s.scheduler }

// Workers is the supervised recompute worker pool.
func (s *Service) Workers() *workerpool.Pool { return s.workers }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	stats := map[string]any{
		"queue_len":      s.queue.Len(ctx),
		"queue_capacity": s.queue.Cap(),
		"pending_pairs":  s.coalescer.Size(),
		"worker_count":   s.workers.Size(),
		"batch_schedule": fmt.Sprintf("%02d:%02d UTC", s.batchHour, s.batchMinute),
		"next_batch_run": NextRun(s.now(), s.batchHour, s.batchMinute),
	}
	if c, ok := s.store.(Counter); ok {
		if n, err := c.CountSimilarities(ctx); err == nil {
			stats["similarity_rows"] = n
		} else {
			s.logger.Warn(ctx, "similarity row count failed", logger.Error(err))
		}
	}
	if r, ok := s.scheduler.LastReport(); ok {
		stats["last_batch"] = r
	}
	return stats
}

// Close stops accepting signals. Workers drain what is queued and exit.
func (s *Service) Close() error {
	return s.queue.Close()
}
