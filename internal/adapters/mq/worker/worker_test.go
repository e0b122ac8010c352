package worker_test

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"
	"github.com/thejerf/suture/v4"

	queue "github.com/okian/palate/internal/adapters/mq/queue"
	worker "github.com/okian/palate/internal/adapters/mq/worker"
	"github.com/okian/palate/internal/domain/dedupe"
	"github.com/okian/palate/internal/domain/model"
	logging "github.com/okian/palate/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logging.InitWithWriter(io.Discard); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// mockRecomputer fails the first failures calls and reports every call on calls.
type mockRecomputer struct {
	mu       sync.Mutex
	failures int
	count    int
	calls    chan queue.PairJob
}

func newMockRecomputer(failures int) *mockRecomputer {
	return &mockRecomputer{failures: failures, calls: make(chan queue.PairJob, 16)}
}

func (m *mockRecomputer) RecomputePair(_ context.Context, a, b string, c model.Category) (*model.TasteSimilarity, error) {
	m.mu.Lock()
	m.count++
	fail := m.count <= m.failures
	m.mu.Unlock()

	m.calls <- queue.PairJob{UserA: a, UserB: b, Category: c}
	if fail {
		return nil, errors.New("store unavailable")
	}
	return nil, nil
}

func (m *mockRecomputer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func waitCalls(m *mockRecomputer, n int) bool {
	for i := 0; i < n; i++ {
		select {
		case <-m.calls:
		case <-time.After(2 * time.Second):
			return false
		}
	}
	return true
}

func TestPool(t *testing.T) {
	convey.Convey("Given a worker pool over an in-memory queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		job := queue.PairJob{UserA: "bob", UserB: "alice", Category: model.CategoryWine}

		convey.Convey("When the recompute succeeds", func() {
			rec := newMockRecomputer(0)
			pool := worker.NewPool(2, q, rec, worker.WithRetryDelay(10*time.Millisecond))
			convey.So(pool.Size(), convey.ShouldEqual, 2)
			go func() { _ = pool.Serve(ctx) }()

			convey.So(q.Enqueue(ctx, job), convey.ShouldBeNil)

			convey.Convey("Then it runs exactly once", func() {
				convey.So(waitCalls(rec, 1), convey.ShouldBeTrue)
				time.Sleep(50 * time.Millisecond)
				convey.So(rec.Count(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the first attempt fails", func() {
			rec := newMockRecomputer(1)
			pool := worker.NewPool(1, q, rec, worker.WithRetryDelay(10*time.Millisecond))
			go func() { _ = pool.Serve(ctx) }()

			convey.So(q.Enqueue(ctx, job), convey.ShouldBeNil)

			convey.Convey("Then it is retried once and succeeds", func() {
				convey.So(waitCalls(rec, 2), convey.ShouldBeTrue)
				time.Sleep(50 * time.Millisecond)
				convey.So(rec.Count(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When both attempts fail", func() {
			rec := newMockRecomputer(5)
			pool := worker.NewPool(1, q, rec, worker.WithRetryDelay(10*time.Millisecond))
			go func() { _ = pool.Serve(ctx) }()

			convey.So(q.Enqueue(ctx, job), convey.ShouldBeNil)

			convey.Convey("Then the job is deferred after the retry", func() {
				convey.So(waitCalls(rec, 2), convey.ShouldBeTrue)
				time.Sleep(100 * time.Millisecond)
				convey.So(rec.Count(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When a coalescer is attached", func() {
			co := dedupe.NewInMemoryCoalescer()
			co.SeenAndRecord(ctx, job.Key())
			rec := newMockRecomputer(0)
			pool := worker.NewPool(1, q, rec, worker.WithCoalescer(co))
			go func() { _ = pool.Serve(ctx) }()

			convey.So(q.Enqueue(ctx, job), convey.ShouldBeNil)

			convey.Convey("Then taking the job clears its pending mark", func() {
				convey.So(waitCalls(rec, 1), convey.ShouldBeTrue)
				convey.So(co.Size(), convey.ShouldEqual, 0)
			})
		})
	})
}

func TestPoolServe(t *testing.T) {
	convey.Convey("Given a running pool", t, func() {
		q := queue.NewInMemoryQueue()
		pool := worker.NewPool(3, q, newMockRecomputer(0))
		done := make(chan error, 1)

		convey.Convey("When its context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			go func() { done <- pool.Serve(ctx) }()
			cancel()

			convey.Convey("Then Serve returns cleanly", func() {
				select {
				case err := <-done:
					convey.So(err, convey.ShouldBeNil)
				case <-time.After(2 * time.Second):
					convey.So("timeout", convey.ShouldBeEmpty)
				}
			})
		})

		convey.Convey("When the queue is closed", func() {
			go func() { done <- pool.Serve(context.Background()) }()
			convey.So(q.Close(), convey.ShouldBeNil)

			convey.Convey("Then Serve asks not to be restarted", func() {
				select {
				case err := <-done:
					convey.So(errors.Is(err, suture.ErrDoNotRestart), convey.ShouldBeTrue)
				case <-time.After(2 * time.Second):
					convey.So("timeout", convey.ShouldBeEmpty)
				}
			})
		})
	})
}
