package config_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/crewmap/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, "127.0.0.1:9080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, "sqlite")
			convey.So(cfg.Persistent(), convey.ShouldBeTrue)
			convey.So(cfg.NotifyDriver, convey.ShouldEqual, "none")
			convey.So(cfg.FeedBackoffInitial(), convey.ShouldEqual, time.Second)
			convey.So(cfg.FeedBackoffMax(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.FeedMaxReconnects, convey.ShouldEqual, 5)
			convey.So(cfg.TrailFadeMaxAge(), convey.ShouldEqual, 24*time.Hour)
			convey.So(cfg.TrailMinOpacity, convey.ShouldEqual, 0.1)
		})

		convey.Convey("Then the defaults should validate", func() {
			convey.So(config.Validate(cfg), convey.ShouldBeNil)
		})

		convey.Convey("Then the sqlite database sits next to the session file", func() {
			cfg.SessionFile = filepath.Join("state", "ana.yaml")
			convey.So(cfg.ResolvedStoreDSN(), convey.ShouldEqual, "file:"+filepath.Join("state", config.DefaultSQLiteFile))

			cfg.StoreDSN = "file:/tmp/other.db"
			convey.So(cfg.ResolvedStoreDSN(), convey.ShouldEqual, "file:/tmp/other.db")
		})

		convey.Convey("Then the memory store is not persistent and has no DSN", func() {
			cfg.StoreDriver = "memory"
			convey.So(cfg.Persistent(), convey.ShouldBeFalse)
			convey.So(cfg.ResolvedStoreDSN(), convey.ShouldBeEmpty)
		})

		convey.Convey("Then an empty timezone should resolve to Local", func() {
			loc, err := cfg.Location()
			convey.So(err, convey.ShouldBeNil)
			convey.So(loc, convey.ShouldEqual, time.Local)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a config with invalid values", t, func() {
		convey.Convey("When the store driver is unknown", func() {
			cfg := config.New()
			cfg.StoreDriver = "mongo"
			err := config.Validate(cfg)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When a SQL store has no DSN", func() {
			cfg := config.New()
			cfg.StoreDriver = "postgres"
			convey.So(config.Validate(cfg), convey.ShouldNotBeNil)
			cfg.StoreDSN = "postgres://localhost/crewmap"
			convey.So(config.Validate(cfg), convey.ShouldBeNil)
		})

		convey.Convey("When NATS notifications have no URL", func() {
			cfg := config.New()
			cfg.NotifyDriver = "nats"
			convey.So(config.Validate(cfg), convey.ShouldNotBeNil)
		})

		convey.Convey("When the backoff cap is below the initial delay", func() {
			cfg := config.New()
			cfg.FeedBackoffMaxMS = 10
			convey.So(config.Validate(cfg), convey.ShouldNotBeNil)
		})

		convey.Convey("When the minimum opacity is out of range", func() {
			cfg := config.New()
			cfg.TrailMinOpacity = 1.5
			convey.So(config.Validate(cfg), convey.ShouldNotBeNil)
		})

		convey.Convey("When the timezone is unknown", func() {
			cfg := config.New()
			cfg.Timezone = "Mars/Olympus"
			convey.So(errors.Is(config.Validate(cfg), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}
