package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/palate/internal/adapters/cache"
	"github.com/okian/palate/internal/adapters/kv"
	"github.com/okian/palate/internal/adapters/lock"
	"github.com/okian/palate/internal/adapters/repository"
	service "github.com/okian/palate/internal/app"
	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/internal/domain/scoring"
	"github.com/okian/palate/pkg/logger"
)

var (
	base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now  = base.Add(30 * 24 * time.Hour)
)

func TestMain(m *testing.M) {
	if err := logger.InitWithWriter(io.Discard); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type env struct {
	store *repository.Store
	kv    kv.Store
	mr    *miniredis.Miniredis
}

func newEnv(t *testing.T) env {
	t.Helper()
	mr := miniredis.RunT(t)
	kvs := kv.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	t.Cleanup(func() { _ = kvs.Close() })

	store, err := repository.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return env{store: store, kv: kvs, mr: mr}
}

func (e env) engine(t *testing.T, d service.Discoverer, opts ...service.Option) *service.Service {
	t.Helper()
	if d == nil {
		d = repository.NewSQLDiscoverer(e.store)
	}
	opts = append([]service.Option{
		service.WithClock(func() time.Time { return now }),
		service.WithRetryDelay(time.Millisecond),
		service.WithWorkerCount(2),
	}, opts...)
	svc, err := service.New(service.Deps{
		Items:      e.store,
		Store:      e.store,
		Discoverer: d,
		Profiles:   e.store,
		Cache:      cache.New(e.kv, e.store, e.store),
		Locker:     lock.New(e.kv, time.Hour),
	}, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

// rate writes one public restaurant note per rating, dish i at venue "v".
func rate(t *testing.T, s *repository.Store, author string, ratings ...float64) {
	t.Helper()
	for i, r := range ratings {
		err := s.InsertNote(context.Background(), model.Note{
			ID:            fmt.Sprintf("%s-%d", author, i),
			AuthorID:      author,
			Type:          model.NoteRestaurant,
			VenueID:       "v",
			Extension:     map[string]any{"dish_name": fmt.Sprintf("Dish %d", i)},
			Rating:        r,
			ExperiencedAt: base,
			Public:        true,
		})
		if err != nil {
			t.Fatalf("insert note: %v", err)
		}
	}
}

func TestRecomputePair(t *testing.T) {
	Convey("Given two users who rated the same five dishes alike", t, func() {
		e := newEnv(t)
		svc := e.engine(t, nil)
		ctx := context.Background()
		rate(t, e.store, "alice", 8, 6, 9, 7, 5)
		rate(t, e.store, "bob", 8, 6, 9, 7, 5)

		Convey("When the pair is recomputed in reverse order", func() {
			row, err := svc.RecomputePair(ctx, "bob", "alice", model.CategoryRestaurant)

			Convey("Then the canonical row holds a perfect score", func() {
				So(err, ShouldBeNil)
				So(row, ShouldNotBeNil)
				So(row.UserLow, ShouldEqual, "alice")
				So(row.UserHigh, ShouldEqual, "bob")
				So(row.Score, ShouldEqual, 1.0)
				So(row.OverlapCount, ShouldEqual, 5)

				stored, err := e.store.GetSimilarity(ctx, "alice", "bob", model.CategoryRestaurant)
				So(err, ShouldBeNil)
				So(stored.Score, ShouldEqual, 1.0)
			})

			Convey("Then recomputing again is idempotent", func() {
				again, err := svc.RecomputePair(ctx, "alice", "bob", model.CategoryRestaurant)
				So(err, ShouldBeNil)
				So(*again, ShouldResemble, *row)
				n, err := e.store.CountSimilarities(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})

			Convey("Then the pair score is served from the cache", func() {
				So(e.mr.Exists(cache.PairKey("alice", "bob", model.CategoryRestaurant)), ShouldBeTrue)
				ps, err := svc.PairScore(ctx, "bob", "alice", model.CategoryRestaurant)
				So(err, ShouldBeNil)
				So(ps.Score, ShouldEqual, 1.0)
			})

			Convey("Then losing an overlapping item deletes the row", func() {
				So(e.store.DeleteNote(ctx, "bob-4"), ShouldBeNil)
				gone, err := svc.RecomputePair(ctx, "alice", "bob", model.CategoryRestaurant)
				So(err, ShouldBeNil)
				So(gone, ShouldBeNil)

				_, err = e.store.GetSimilarity(ctx, "alice", "bob", model.CategoryRestaurant)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				ps, err := svc.PairScore(ctx, "alice", "bob", model.CategoryRestaurant)
				So(err, ShouldBeNil)
				So(ps, ShouldBeNil)
			})
		})

		Convey("When the ratings are far apart", func() {
			rate(t, e.store, "carol", 1, 1, 1, 1, 1)
			row, err := svc.RecomputePair(ctx, "alice", "carol", model.CategoryRestaurant)

			Convey("Then the row exists with a low score", func() {
				So(err, ShouldBeNil)
				So(row, ShouldNotBeNil)
				So(row.Score, ShouldBeLessThan, 0.5)
			})
		})

		Convey("When the pair is invalid", func() {
			_, selfErr := svc.RecomputePair(ctx, "alice", "alice", model.CategoryRestaurant)
			_, emptyErr := svc.RecomputePair(ctx, "", "bob", model.CategoryRestaurant)
			_, catErr := svc.RecomputePair(ctx, "alice", "bob", model.Category("beer"))

			Convey("Then typed errors are returned", func() {
				So(errors.Is(selfErr, service.ErrSelfPair), ShouldBeTrue)
				So(errors.Is(emptyErr, service.ErrInvalidUser), ShouldBeTrue)
				So(errors.Is(catErr, service.ErrUnknownCategory), ShouldBeTrue)
			})
		})
	})
}

func TestRecomputeMinOverlap(t *testing.T) {
	Convey("Given a pair with seven identical dishes and a stored row", t, func() {
		e := newEnv(t)
		ctx := context.Background()
		rate(t, e.store, "a", 8, 8, 8, 8, 8, 8, 8)
		rate(t, e.store, "b", 8, 8, 8, 8, 8, 8, 8)
		row, err := e.engine(t, nil).RecomputePair(ctx, "a", "b", model.CategoryRestaurant)
		So(err, ShouldBeNil)
		So(row, ShouldNotBeNil)

		Convey("When an engine requiring ten shared items recomputes it", func() {
			strict := e.engine(t, nil, service.WithScoring(scoring.WithMinOverlap(10)))
			got, err := strict.RecomputePair(ctx, "a", "b", model.CategoryRestaurant)

			Convey("Then the row is deleted rather than stored with a zero score", func() {
				So(err, ShouldBeNil)
				So(got, ShouldBeNil)
				_, err := e.store.GetSimilarity(ctx, "a", "b", model.CategoryRestaurant)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When an engine asks for fewer than five shared items", func() {
			loose := e.engine(t, nil, service.WithScoring(scoring.WithMinOverlap(2)))
			So(e.store.DeleteNote(ctx, "b-0"), ShouldBeNil)
			So(e.store.DeleteNote(ctx, "b-1"), ShouldBeNil)
			So(e.store.DeleteNote(ctx, "b-2"), ShouldBeNil)
			got, err := loose.RecomputePair(ctx, "a", "b", model.CategoryRestaurant)

			Convey("Then the persisted floor of five still applies", func() {
				So(err, ShouldBeNil)
				So(got, ShouldBeNil)
				n, err := e.store.CountSimilarities(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 0)
			})
		})
	})
}

// gateDiscoverer blocks its first Discover call until release is closed.
type gateDiscoverer struct {
	next    service.Discoverer
	entered chan struct{}
	release chan struct{}
	first   bool
}

func (g *gateDiscoverer) Discover(ctx context.Context, c model.Category) ([]model.Pair, error) {
	if !g.first {
		g.first = true
		close(g.entered)
		<-g.release
	}
	return g.next.Discover(ctx, c)
}

func TestBatch(t *testing.T) {
	Convey("Given three users with overlapping dishes", t, func() {
		e := newEnv(t)
		ctx := context.Background()
		rate(t, e.store, "alice", 8, 6, 9, 7, 5)
		rate(t, e.store, "bob", 8, 6, 9, 7, 5)
		rate(t, e.store, "carol", 8, 6, 9, 7, 4)
		rate(t, e.store, "dave", 8, 6)

		Convey("When a batch runs", func() {
			svc := e.engine(t, nil)
			So(e.kv.Set(ctx, cache.HighKey("alice"), []byte("[]"), time.Hour), ShouldBeNil)
			report, err := svc.RunBatch(ctx)

			Convey("Then every discovered pair is rescored and the cache flushed", func() {
				So(err, ShouldBeNil)
				So(report.Skipped, ShouldBeFalse)
				So(report.Categories, ShouldHaveLength, len(model.Categories))
				So(report.Categories[0].Category, ShouldEqual, model.CategoryRestaurant)
				So(report.Categories[0].Discovered, ShouldEqual, 3)
				So(report.Categories[0].Recomputed, ShouldEqual, 3)
				So(report.FlushedKeys, ShouldBeGreaterThanOrEqualTo, 1)
				So(e.mr.Exists(cache.HighKey("alice")), ShouldBeFalse)

				n, err := e.store.CountSimilarities(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 3)

				last, ok := svc.LastBatch()
				So(ok, ShouldBeTrue)
				So(last.RunID, ShouldEqual, report.RunID)
			})

			Convey("Then the lock is released", func() {
				So(e.mr.Exists(lock.BatchKey), ShouldBeFalse)
			})
		})

		Convey("When two processes start the batch at the same time", func() {
			gate := &gateDiscoverer{
				next:    repository.NewSQLDiscoverer(e.store),
				entered: make(chan struct{}),
				release: make(chan struct{}),
			}
			first := e.engine(t, gate)
			second := e.engine(t, nil)

			done := make(chan service.Report, 1)
			go func() {
				r, _ := first.RunBatch(ctx)
				done <- r
			}()
			<-gate.entered

			skipped, err := second.RunBatch(ctx)
			close(gate.release)
			winner := <-done

			Convey("Then only one of them recomputes", func() {
				So(err, ShouldBeNil)
				So(skipped.Skipped, ShouldBeTrue)
				So(skipped.Categories, ShouldBeEmpty)
				So(winner.Skipped, ShouldBeFalse)
				So(winner.Categories[0].Recomputed, ShouldEqual, 3)
			})
		})

		Convey("When the lock is already held", func() {
			lease, err := lock.New(e.kv, time.Hour).Acquire(ctx, lock.BatchKey)
			So(err, ShouldBeNil)
			report, err := e.engine(t, nil).RunBatch(ctx)

			Convey("Then the run is skipped and the holder keeps the lock", func() {
				So(err, ShouldBeNil)
				So(report.Skipped, ShouldBeTrue)
				ok, err := lease.Release(ctx)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			})
		})
	})
}

func TestTrigger(t *testing.T) {
	Convey("Given an engine whose workers are not running", t, func() {
		e := newEnv(t)
		svc := e.engine(t, nil, service.WithQueueSize(1))
		ctx := context.Background()
		echo := service.Signal{SenderID: "alice", AuthorID: "bob", NoteType: model.NoteRestaurant, Reaction: service.ReactionEcho}

		Convey("When the first signal for a pair arrives", func() {
			So(svc.Submit(ctx, echo), ShouldEqual, service.DispositionAccepted)

			Convey("Then a second one for the same pair is coalesced", func() {
				reverse := service.Signal{SenderID: "bob", AuthorID: "alice", NoteType: model.NoteRestaurant, Reaction: service.ReactionDiverge}
				So(svc.Submit(ctx, reverse), ShouldEqual, service.DispositionCoalesced)
				So(svc.OnSignal(ctx, reverse), ShouldBeTrue)
			})

			Convey("Then a different pair is dropped on a full queue", func() {
				other := service.Signal{SenderID: "alice", AuthorID: "carol", NoteType: model.NoteWine, Reaction: service.ReactionEcho}
				So(svc.Submit(ctx, other), ShouldEqual, service.DispositionDropped)
				So(svc.OnSignal(ctx, other), ShouldBeFalse)
				So(svc.GetStats(ctx)["pending_pairs"], ShouldEqual, int64(1))
			})
		})

		Convey("When signals do not qualify", func() {
			bookmark := echo
			bookmark.Reaction = service.ReactionBookmark
			self := echo
			self.AuthorID = "alice"
			visit := echo
			visit.NoteType = model.NoteVisit

			Convey("Then they are ignored", func() {
				So(svc.Submit(ctx, bookmark), ShouldEqual, service.DispositionIgnored)
				So(svc.Submit(ctx, self), ShouldEqual, service.DispositionIgnored)
				So(svc.Submit(ctx, visit), ShouldEqual, service.DispositionIgnored)
			})
		})
	})

	Convey("Given running workers", t, func() {
		e := newEnv(t)
		svc := e.engine(t, nil)
		rate(t, e.store, "alice", 8, 6, 9, 7, 5)
		rate(t, e.store, "bob", 8, 6, 9, 7, 5)

		ctx, cancel := context.WithCancel(context.Background())
		served := make(chan error, 1)
		go func() { served <- svc.Workers().Serve(ctx) }()
		Reset(cancel)

		Convey("When an echo is submitted", func() {
			sig := service.Signal{SenderID: "bob", AuthorID: "alice", NoteType: model.NoteRestaurant, Reaction: service.ReactionEcho}
			So(svc.Submit(ctx, sig), ShouldEqual, service.DispositionAccepted)

			Convey("Then the pair row appears without blocking the caller", func() {
				var row *model.TasteSimilarity
				deadline := time.Now().Add(5 * time.Second)
				for time.Now().Before(deadline) {
					if r, err := e.store.GetSimilarity(context.Background(), "alice", "bob", model.CategoryRestaurant); err == nil {
						row = r
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				cancel()
				So(<-served, ShouldBeNil)
				So(row, ShouldNotBeNil)
				So(row.OverlapCount, ShouldEqual, 5)
			})
		})
	})
}

func TestSimilarUsers(t *testing.T) {
	Convey("Given scored pairs for alice", t, func() {
		e := newEnv(t)
		svc := e.engine(t, nil)
		ctx := context.Background()

		put := func(a, b string, c model.Category, score float64, overlap int) {
			low, high := model.Canonical(a, b)
			So(e.store.UpsertSimilarity(ctx, model.TasteSimilarity{
				UserLow: low, UserHigh: high, Category: c, Score: score, OverlapCount: overlap, LastComputedAt: now,
			}), ShouldBeNil)
		}
		put("alice", "bob", model.CategoryWine, 0.9, 6)
		put("alice", "bob", model.CategoryRestaurant, 0.6, 8)
		put("alice", "carol", model.CategoryRestaurant, 0.75, 5)
		put("alice", "dave", model.CategorySpirit, 0.55, 7)
		put("alice", "erin", model.CategoryWine, 0.3, 9)
		put("alice", "frank", model.CategoryWine, 0.3, 12)
		So(e.store.UpsertUser(ctx, model.Profile{UserID: "bob", DisplayName: "Bob", Bio: "natural wine"}, true), ShouldBeNil)
		So(e.store.UpsertUser(ctx, model.Profile{UserID: "carol", DisplayName: "Carol"}, false), ShouldBeNil)
		So(e.store.AddPin(ctx, "alice", "dave"), ShouldBeNil)

		Convey("When the first page is requested", func() {
			page, err := svc.SimilarUsers(ctx, service.Query{UserID: "alice"})

			Convey("Then users are ranked by their best category", func() {
				So(err, ShouldBeNil)
				So(page.Total, ShouldEqual, 5)
				So(page.Limit, ShouldEqual, service.DefaultLimit)
				ids := make([]string, len(page.Candidates))
				for i, c := range page.Candidates {
					ids[i] = c.UserID
				}
				So(ids, ShouldResemble, []string{"bob", "carol", "dave", "frank", "erin"})

				bob := page.Candidates[0]
				So(bob.Category, ShouldEqual, model.CategoryWine)
				So(bob.Tier, ShouldEqual, model.TierHigh)
				So(bob.DisplayName, ShouldEqual, "Bob")
				So(page.Candidates[1].DisplayName, ShouldBeEmpty)
				So(page.Candidates[2].Tier, ShouldEqual, model.TierFriend)
				So(page.Candidates[3].Tier, ShouldEqual, model.TierGeneral)
			})
		})

		Convey("When paging past the first two", func() {
			page, err := svc.SimilarUsers(ctx, service.Query{UserID: "alice", Offset: 2, Limit: 2})
			So(err, ShouldBeNil)
			So(page.Candidates, ShouldHaveLength, 2)
			So(page.Candidates[0].UserID, ShouldEqual, "dave")

			beyond, err := svc.SimilarUsers(ctx, service.Query{UserID: "alice", Offset: 50})
			So(err, ShouldBeNil)
			So(beyond.Candidates, ShouldBeEmpty)
			So(beyond.Total, ShouldEqual, 5)
		})

		Convey("When filtering by category", func() {
			page, err := svc.SimilarUsers(ctx, service.Query{UserID: "alice", Category: model.CategoryRestaurant, Limit: 1000})
			So(err, ShouldBeNil)
			So(page.Limit, ShouldEqual, service.MaxLimit)
			So(page.Total, ShouldEqual, 2)
			So(page.Candidates[0].UserID, ShouldEqual, "carol")
			So(page.Candidates[1].Tier, ShouldEqual, model.TierModerate)
		})

		Convey("When the query is invalid", func() {
			_, err := svc.SimilarUsers(ctx, service.Query{})
			So(errors.Is(err, service.ErrInvalidUser), ShouldBeTrue)
			_, err = svc.SimilarUsers(ctx, service.Query{UserID: "alice", Category: "beer"})
			So(errors.Is(err, service.ErrUnknownCategory), ShouldBeTrue)
		})

		Convey("When pin eligibility is checked", func() {
			bob, err := svc.PinEligibility(ctx, "bob", "alice")
			So(err, ShouldBeNil)
			So(bob.Eligible, ShouldBeTrue)
			So(bob.Category, ShouldEqual, model.CategoryWine)

			dave, err := svc.PinEligibility(ctx, "alice", "dave")
			So(err, ShouldBeNil)
			So(dave.Eligible, ShouldBeFalse)

			stranger, err := svc.PinEligibility(ctx, "alice", "zed")
			So(err, ShouldBeNil)
			So(stranger.Eligible, ShouldBeFalse)
			So(stranger.Category, ShouldBeEmpty)

			_, err = svc.PinEligibility(ctx, "alice", "alice")
			So(errors.Is(err, service.ErrSelfPair), ShouldBeTrue)
		})
	})
}

func TestNextRun(t *testing.T) {
	Convey("Given a 03:00 UTC schedule", t, func() {
		So(service.NextRun(time.Date(2026, 5, 1, 2, 59, 0, 0, time.UTC), 3, 0),
			ShouldEqual, time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC))
		So(service.NextRun(time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC), 3, 0),
			ShouldEqual, time.Date(2026, 5, 2, 3, 0, 0, 0, time.UTC))
		So(service.NextRun(time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC), 3, 0),
			ShouldEqual, time.Date(2027, 1, 1, 3, 0, 0, 0, time.UTC))

		Convey("Then non-UTC inputs are normalized", func() {
			berlin := time.FixedZone("CET", 3600)
			got := service.NextRun(time.Date(2026, 5, 1, 4, 30, 0, 0, berlin), 3, 0)
			So(got, ShouldEqual, time.Date(2026, 5, 2, 3, 0, 0, 0, time.UTC))
		})
	})
}
