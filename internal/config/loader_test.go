package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/TinchoF/gym-score-be/internal/config"
	"github.com/TinchoF/gym-score-be/internal/domain/scoring"
)

var configEnvVars = []string{
	"GYMSCORE_CONFIG",
	"GYMSCORE_ADDR",
	"GYMSCORE_STORE_DRIVER",
	"GYMSCORE_STORE_DSN",
	"GYMSCORE_BROADCAST_WORKERS",
	"GYMSCORE_SUBMIT_RATE_PER_SEC",
	"GYMSCORE_SHUTDOWN_TIMEOUT",
	"GYMSCORE_CORS_ALLOWED_ORIGINS",
	"GYMSCORE_LOG_FORMAT",
	"GYMSCORE_AMQP_URL",
	"GYMSCORE_AMQP_EXCHANGE",
}

func clearConfigEnvVars() {
	for _, k := range configEnvVars {
		_ = os.Unsetenv(k)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.BroadcastWorkers, convey.ShouldEqual, 8)
			convey.So(cfg.ShutdownTimeout, convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then the defaults are returned", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.CORSAllowedOrigins, convey.ShouldResemble, []string{"*"})
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("GYMSCORE_ADDR", ":8080")
			_ = os.Setenv("GYMSCORE_STORE_DRIVER", "sqlite")
			_ = os.Setenv("GYMSCORE_STORE_DSN", "/tmp/scores.db")
			_ = os.Setenv("GYMSCORE_BROADCAST_WORKERS", "4")
			_ = os.Setenv("GYMSCORE_SUBMIT_RATE_PER_SEC", "2.5")
			_ = os.Setenv("GYMSCORE_SHUTDOWN_TIMEOUT", "3s")
			_ = os.Setenv("GYMSCORE_CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env vars override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreSQLite)
				convey.So(cfg.StoreDSN, convey.ShouldEqual, "/tmp/scores.db")
				convey.So(cfg.BroadcastWorkers, convey.ShouldEqual, 4)
				convey.So(cfg.SubmitRatePerSec, convey.ShouldEqual, 2.5)
				convey.So(cfg.ShutdownTimeout, convey.ShouldEqual, 3*time.Second)
				convey.So(cfg.CORSAllowedOrigins, convey.ShouldResemble, []string{"https://a.example", "https://b.example"})
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := writeFile(t, "gymscore.yaml", `
addr: ":9090"
broadcast_queue_size: 500
log_format: json
metrics_namespace: venue
metrics_labels:
  site: arena-1
metrics_buckets: [1, 10, 100]
levels:
  - level: Club
    scoring_method: start_value
    base_start_value: 9.0
`)
			_ = os.Setenv("GYMSCORE_CONFIG", path)
			_ = os.Setenv("GYMSCORE_ADDR", ":7070")

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values apply and env still wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.BroadcastQueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
				convey.So(cfg.MetricsNamespace, convey.ShouldEqual, "venue")
				convey.So(cfg.MetricsSubsystem, convey.ShouldEqual, "scores")
				convey.So(cfg.MetricsLabels, convey.ShouldResemble, map[string]string{"site": "arena-1"})
				convey.So(cfg.MetricsBuckets, convey.ShouldResemble, []float64{1, 10, 100})
				convey.So(len(cfg.Levels), convey.ShouldEqual, 1)
				convey.So(cfg.Levels[0].Method, convey.ShouldEqual, scoring.MethodStartValue)
				convey.So(*cfg.Levels[0].BaseStartValue, convey.ShouldEqual, 9.0)
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("GYMSCORE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
			_, err := config.Load(ctx)

			convey.Convey("Then loading fails", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a SQL driver has no DSN", func() {
			_ = os.Setenv("GYMSCORE_STORE_DRIVER", "postgres")
			_, err := config.Load(ctx)

			convey.Convey("Then the config is invalid", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the driver is unknown", func() {
			_ = os.Setenv("GYMSCORE_STORE_DRIVER", "mongo")
			_, err := config.Load(ctx)

			convey.Convey("Then the config is invalid", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the log format is unknown", func() {
			_ = os.Setenv("GYMSCORE_LOG_FORMAT", "xml")
			_, err := config.Load(ctx)

			convey.Convey("Then the config is invalid", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestConfig_LevelTable(t *testing.T) {
	convey.Convey("Given a levels file and inline levels", t, func() {
		path := writeFile(t, "levels.yaml", `
levels:
  - level: Club
    scoring_method: deductions
  - level: Regional
    scoring_method: start_value
    base_start_value: 9.2
`)
		cfg := config.New()
		cfg.LevelsFile = path

		convey.Convey("Then the file entries are returned", func() {
			table, err := cfg.LevelTable()
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(table), convey.ShouldEqual, 2)
			convey.So(table[1].Level, convey.ShouldEqual, "Regional")
		})

		convey.Convey("When the file is missing", func() {
			cfg.LevelsFile = filepath.Join(t.TempDir(), "nope.yaml")
			_, err := cfg.LevelTable()

			convey.Convey("Then an error is returned", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}
