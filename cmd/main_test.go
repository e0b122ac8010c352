package main

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/palate/internal/adapters/repository"
	"github.com/okian/palate/internal/config"
	"github.com/okian/palate/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.InitWithWriter(io.Discard); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestWiring(t *testing.T) {
	convey.Convey("Given a badger configuration", t, func() {
		cfg := config.New()
		cfg.KVBackend = config.KVBackendBadger

		convey.Convey("Then an in-memory kv store opens", func() {
			kvs, err := openKV(context.Background(), cfg)
			convey.So(err, convey.ShouldBeNil)
			convey.So(kvs.Close(), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given each discovery mode", t, func() {
		store, err := repository.Open(":memory:")
		convey.So(err, convey.ShouldBeNil)
		defer func() { _ = store.Close() }()
		cfg := config.New()

		convey.So(newDiscoverer(cfg, store), convey.ShouldHaveSameTypeAs, &repository.SQLDiscoverer{})
		cfg.DiscoveryMode = config.DiscoveryIndex
		convey.So(newDiscoverer(cfg, store), convey.ShouldHaveSameTypeAs, &repository.IndexDiscoverer{})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given an invalid configuration", t, func() {
		t.Setenv("PALATE_KV_BACKEND", "memcached")

		convey.Convey("Then run fails before serving", func() {
			err := run(context.Background())
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given a self-contained configuration", t, func() {
		t.Setenv("PALATE_ADDR", "127.0.0.1:0")
		t.Setenv("PALATE_DB_PATH", ":memory:")
		t.Setenv("PALATE_KV_BACKEND", "badger")
		t.Setenv("PALATE_WORKER_COUNT", "2")

		convey.Convey("Then run serves until cancelled and exits cleanly", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
			defer cancel()
			convey.So(run(ctx), convey.ShouldBeNil)
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given a short-lived context", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		store, err := repository.Open(":memory:")
		convey.So(err, convey.ShouldBeNil)
		defer func() { _ = store.Close() }()

		convey.Convey("Then the updaters return when it ends", func() {
			convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
			convey.So(func() { startServiceMetricsUpdater(ctx, store) }, convey.ShouldNotPanic)
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})
	})
}
