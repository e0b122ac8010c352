// Package worker runs queued pair recomputations with a bounded retry.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/okian/palate/internal/adapters/mq/queue"
	"github.com/okian/palate/internal/domain/dedupe"
	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/pkg/logger"
	"github.com/okian/palate/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2
	defaultRetryDelay       = 5 * time.Second
)

// Recomputer recomputes one pair.
type Recomputer interface {
	RecomputePair(ctx context.Context, a, b string, c model.Category) (*model.TasteSimilarity, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.PairJob
}

// InMemoryWorker pulls jobs off the queue until the context ends or the
// queue closes.
type InMemoryWorker struct {
	queue      Queue
	recomputer Recomputer
	coalescer  dedupe.Coalescer
	retryDelay time.Duration
	name       string
	logger     logger.Logger
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}
}

// process runs a job, retrying exactly once after the retry delay. A second
// failure is logged and left for the nightly batch.
func (w *InMemoryWorker) process(ctx context.Context, job queue.PairJob) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerJobLatency(float64(time.Since(start).Milliseconds()))
	}()

	if w.coalescer != nil {
		w.coalescer.Unrecord(ctx, job.Key())
	}

	err := w.attempt(ctx, job)
	if err == nil {
		return
	}
	w.logger.Warn(ctx, "recompute failed, retrying once",
		logger.String("user_a", job.UserA),
		logger.String("user_b", job.UserB),
		logger.String("category", string(job.Category)),
		logger.Duration("delay", w.retryDelay),
		logger.Error(err),
	)
	metrics.RecordTriggerRetry()

	timer := time.NewTimer(w.retryDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		metrics.RecordTriggerDeferred()
		return
	case <-timer.C:
	}

	if err := w.attempt(ctx, job); err != nil {
		metrics.RecordTriggerDeferred()
		w.logger.Error(ctx, "recompute failed after retry, deferring to batch",
			logger.String("user_a", job.UserA),
			logger.String("user_b", job.UserB),
			logger.String("category", string(job.Category)),
			logger.Error(err),
		)
	}
}

func (w *InMemoryWorker) attempt(ctx context.Context, job queue.PairJob) error {
	if _, err := w.recomputer.RecomputePair(ctx, job.UserA, job.UserB, job.Category); err != nil {
		return fmt.Errorf("recompute %s: %w", job.Key(), err)
	}
	return nil
}

// Pool manages multiple workers and runs as a supervised service.
type Pool struct {
	workers []*InMemoryWorker
	logger  logger.Logger

	retryDelay time.Duration
	coalescer  dedupe.Coalescer
}

// NewPool creates a new worker pool. workerCount < 1 picks a default.
func NewPool(workerCount int, q Queue, r Recomputer, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	p := &Pool{
		workers:    make([]*InMemoryWorker, workerCount),
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Named("worker-pool")
	}

	for i := range p.workers {
		name := "worker-" + strconv.Itoa(i)
		p.workers[i] = &InMemoryWorker{
			queue:      q,
			recomputer: r,
			coalescer:  p.coalescer,
			retryDelay: p.retryDelay,
			name:       name,
			logger:     p.logger.Named(name),
		}
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Serve runs all workers until ctx is cancelled. When the queue closes
// underneath it the pool asks its supervisor not to restart it.
func (p *Pool) Serve(ctx context.Context) error {
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *InMemoryWorker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		p.logger.Info(context.WithoutCancel(ctx), "worker pool stopped")
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return suture.ErrDoNotRestart
}

// String names the service in supervisor logs.
func (p *Pool) String() string { return "worker-pool" }
