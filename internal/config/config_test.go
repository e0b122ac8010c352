package config_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/okian/palate/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.KVBackend, convey.ShouldEqual, config.KVBackendRedis)
			convey.So(cfg.DiscoveryMode, convey.ShouldEqual, config.DiscoverySQL)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.BatchHour, convey.ShouldEqual, 3)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then the duration helpers match the documented policy", func() {
			convey.So(cfg.RetryDelay(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.LockTTL(), convey.ShouldEqual, 2*time.Hour)
			convey.So(cfg.FriendsTTL(), convey.ShouldEqual, time.Hour)
			convey.So(cfg.ListTTL(), convey.ShouldEqual, 24*time.Hour)
			convey.So(cfg.PairTTL(), convey.ShouldEqual, 24*time.Hour)
			convey.So(cfg.BreakerOpenTimeout(), convey.ShouldEqual, 30*time.Second)
		})
	})
}
