package cache_test

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/palate/internal/adapters/cache"
	"github.com/okian/palate/internal/adapters/kv"
	"github.com/okian/palate/internal/adapters/repository"
	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.InitWithWriter(io.Discard); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fixture struct {
	mr    *miniredis.Miniredis
	store *repository.Store
	cache *cache.Tiered
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	kvs := kv.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	t.Cleanup(func() { _ = kvs.Close() })

	store, err := repository.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return fixture{mr: mr, store: store, cache: cache.New(kvs, store, store)}
}

func row(low, high string, c model.Category, score float64) model.TasteSimilarity {
	return model.TasteSimilarity{UserLow: low, UserHigh: high, Category: c, Score: score, OverlapCount: 6, LastComputedAt: time.Now()}
}

func TestPairScore(t *testing.T) {
	Convey("Given a stored pair", t, func() {
		f := newFixture(t)
		ctx := context.Background()
		So(f.store.UpsertSimilarity(ctx, row("alice", "bob", model.CategoryWine, 0.8)), ShouldBeNil)

		Convey("When it is read in either order", func() {
			ps, err := f.cache.PairScore(ctx, "bob", "alice", model.CategoryWine)

			Convey("Then the store value is returned and cached under the canonical key", func() {
				So(err, ShouldBeNil)
				So(*ps, ShouldResemble, model.PairScore{Score: 0.8, OverlapCount: 6})
				So(f.mr.Exists("tss:pair:alice:bob:wine"), ShouldBeTrue)
				So(f.mr.TTL("tss:pair:alice:bob:wine"), ShouldEqual, 24*time.Hour)
			})

			Convey("Then later reads are served from the cache", func() {
				_, err := f.store.DeleteSimilarity(ctx, "alice", "bob", model.CategoryWine)
				So(err, ShouldBeNil)
				ps, err := f.cache.PairScore(ctx, "alice", "bob", model.CategoryWine)
				So(err, ShouldBeNil)
				So(ps.Score, ShouldEqual, 0.8)

				Convey("And dropping the key exposes the store state", func() {
					So(f.cache.DropPair(ctx, "bob", "alice", model.CategoryWine), ShouldBeNil)
					ps, err := f.cache.PairScore(ctx, "alice", "bob", model.CategoryWine)
					So(err, ShouldBeNil)
					So(ps, ShouldBeNil)
				})
			})
		})

		Convey("When a pair has no row", func() {
			ps, err := f.cache.PairScore(ctx, "alice", "carol", model.CategoryWine)

			Convey("Then nil is returned and nothing is cached", func() {
				So(err, ShouldBeNil)
				So(ps, ShouldBeNil)
				So(f.mr.Exists("tss:pair:alice:carol:wine"), ShouldBeFalse)
			})
		})

		Convey("When a score is written through", func() {
			So(f.cache.SetPairScore(ctx, "alice", "bob", model.CategoryWine, model.PairScore{Score: 0.95, OverlapCount: 9}), ShouldBeNil)
			ps, err := f.cache.PairScore(ctx, "alice", "bob", model.CategoryWine)
			So(err, ShouldBeNil)
			So(ps.Score, ShouldEqual, 0.95)
		})

		Convey("When the KV store is down", func() {
			f.mr.Close()
			ps, err := f.cache.PairScore(ctx, "alice", "bob", model.CategoryWine)

			Convey("Then the read degrades to the store", func() {
				So(err, ShouldBeNil)
				So(ps.Score, ShouldEqual, 0.8)
			})
		})
	})
}

func TestLists(t *testing.T) {
	Convey("Given a user with scores in every tier", t, func() {
		f := newFixture(t)
		ctx := context.Background()
		for _, r := range []model.TasteSimilarity{
			row("alice", "bob", model.CategoryWine, 0.9),
			row("alice", "carol", model.CategoryWine, 0.7),
			row("alice", "dave", model.CategorySpirit, 0.69),
			row("alice", "erin", model.CategoryRestaurant, 0.5),
			row("alice", "frank", model.CategoryRestaurant, 0.3),
		} {
			So(f.store.UpsertSimilarity(ctx, r), ShouldBeNil)
		}
		So(f.store.AddPin(ctx, "alice", "bob"), ShouldBeNil)

		Convey("Then the high list holds scores at or above 0.7", func() {
			high, err := f.cache.HighSimilarity(ctx, "alice")
			So(err, ShouldBeNil)
			So(high, ShouldHaveLength, 2)
			So(high[0].OtherUserID, ShouldEqual, "bob")
			So(high[1].OtherUserID, ShouldEqual, "carol")
			So(f.mr.Exists("tss:high:alice"), ShouldBeTrue)
		})

		Convey("Then the moderate list holds scores in [0.5, 0.7)", func() {
			mod, err := f.cache.ModerateSimilarity(ctx, "alice")
			So(err, ShouldBeNil)
			So(mod, ShouldHaveLength, 2)
			So(mod[0].OtherUserID, ShouldEqual, "dave")
			So(mod[1].OtherUserID, ShouldEqual, "erin")
		})

		Convey("Then friends are cached for an hour", func() {
			friends, err := f.cache.Friends(ctx, "alice")
			So(err, ShouldBeNil)
			So(friends, ShouldResemble, []string{"bob"})
			So(f.mr.TTL("tss:friends:alice"), ShouldEqual, time.Hour)
		})

		Convey("Then all scores bypass the cache", func() {
			all, err := f.cache.AllScoresForUser(ctx, "alice")
			So(err, ShouldBeNil)
			So(all, ShouldHaveLength, 5)
		})

		Convey("When the user is invalidated", func() {
			_, _ = f.cache.Friends(ctx, "alice")
			_, _ = f.cache.HighSimilarity(ctx, "alice")
			_, _ = f.cache.ModerateSimilarity(ctx, "alice")
			So(f.cache.InvalidateUser(ctx, "alice"), ShouldBeNil)

			Convey("Then the three list keys are gone", func() {
				So(f.mr.Exists("tss:friends:alice"), ShouldBeFalse)
				So(f.mr.Exists("tss:high:alice"), ShouldBeFalse)
				So(f.mr.Exists("tss:moderate:alice"), ShouldBeFalse)
			})
		})

		Convey("When the namespace is flushed", func() {
			_, _ = f.cache.HighSimilarity(ctx, "alice")
			_, _ = f.cache.PairScore(ctx, "alice", "bob", model.CategoryWine)
			So(f.mr.Set("lock:taste-similarity:batch", "token"), ShouldBeNil)

			n, err := f.cache.Flush(ctx)

			Convey("Then cache keys go and the lock stays", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
				So(f.mr.Exists("lock:taste-similarity:batch"), ShouldBeTrue)
			})
		})
	})
}

func TestCacheWithBadger(t *testing.T) {
	Convey("Given a cache over badger", t, func() {
		kvs, err := kv.OpenBadger("")
		So(err, ShouldBeNil)
		defer func() { _ = kvs.Close() }()
		store, err := repository.Open(":memory:")
		So(err, ShouldBeNil)
		defer func() { _ = store.Close() }()
		c := cache.New(kvs, store, store, cache.WithTTLs(time.Minute, time.Minute, time.Minute))
		ctx := context.Background()
		So(store.UpsertSimilarity(ctx, row("a", "b", model.CategorySpirit, 0.75)), ShouldBeNil)

		ps, err := c.PairScore(ctx, "a", "b", model.CategorySpirit)
		So(err, ShouldBeNil)
		So(ps.Score, ShouldEqual, 0.75)

		cached, err := kvs.Get(ctx, cache.PairKey("b", "a", model.CategorySpirit))
		So(err, ShouldBeNil)
		So(string(cached), ShouldContainSubstring, "0.75")
	})
}
