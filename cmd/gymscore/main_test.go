package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/TinchoF/gym-score-be/internal/config"
	"github.com/TinchoF/gym-score-be/pkg/logger"
	"github.com/TinchoF/gym-score-be/pkg/metrics"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestLevelsCommand(t *testing.T) {
	convey.Convey("Given the levels command", t, func() {
		var out bytes.Buffer
		app := newApp()
		app.Writer = &out

		convey.Convey("It prints the built-in table", func() {
			err := app.Run([]string{"gymscore", "levels"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(out.String(), convey.ShouldContainSubstring, "LEVEL")
			convey.So(out.String(), convey.ShouldContainSubstring, "USAG 6")
			convey.So(out.String(), convey.ShouldContainSubstring, "9.50")
			convey.So(out.String(), convey.ShouldContainSubstring, "fig_code")
		})

		convey.Convey("Configured levels are added to the table", func() {
			t.Setenv("GYMSCORE_LEVELS_FILE", filepath.Join("testdata", "levels.yaml"))
			err := app.Run([]string{"gymscore", "levels"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(out.String(), convey.ShouldContainSubstring, "Nivel 4")
		})

		convey.Convey("An invalid configuration fails", func() {
			t.Setenv("GYMSCORE_STORE_DRIVER", "mongo")
			err := app.Run([]string{"gymscore", "levels"})
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestMigrateCommand(t *testing.T) {
	convey.Convey("Given the migrate command", t, func() {
		var out bytes.Buffer
		app := newApp()
		app.Writer = &out

		convey.Convey("It refuses the memory store", func() {
			err := app.Run([]string{"gymscore", "migrate"})
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("It applies the schema to a sqlite file", func() {
			t.Setenv("GYMSCORE_STORE_DRIVER", config.StoreSQLite)
			t.Setenv("GYMSCORE_STORE_DSN", filepath.Join(t.TempDir(), "scores.db"))
			err := app.Run([]string{"gymscore", "migrate"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(out.String(), convey.ShouldContainSubstring, "schema applied (sqlite)")
		})
	})
}

func TestServe(t *testing.T) {
	convey.Convey("Given a configuration on a free port", t, func() {
		t.Setenv("GYMSCORE_ADDR", freeAddr(t))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		cfg, err := setup(ctx)
		convey.So(err, convey.ShouldBeNil)
		cfg.ShutdownTimeout = 2 * time.Second
		cfg.MetricsNamespace = "meet"
		defer metrics.Configure()

		convey.Convey("serve answers health checks and stops cleanly on cancel", func() {
			done := make(chan error, 1)
			go func() { done <- serve(ctx, cfg) }()

			healthy := false
			for deadline := time.Now().Add(3 * time.Second); time.Now().Before(deadline); {
				resp, err := http.Get("http://" + cfg.Addr + "/healthz")
				if err == nil {
					_ = resp.Body.Close()
					healthy = resp.StatusCode == http.StatusOK
					break
				}
				time.Sleep(20 * time.Millisecond)
			}
			convey.So(healthy, convey.ShouldBeTrue)

			resp, err := http.Get("http://" + cfg.Addr + "/metrics")
			convey.So(err, convey.ShouldBeNil)
			body, err := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(body), convey.ShouldContainSubstring, "meet_scores_queue_capacity")

			cancel()
			select {
			case err := <-done:
				convey.So(err, convey.ShouldBeNil)
			case <-time.After(5 * time.Second):
				t.Fatal("serve did not stop")
			}
		})
	})
}

func TestOpenStore(t *testing.T) {
	convey.Convey("Given store configurations", t, func() {
		ctx := context.Background()
		convey.So(logger.Init(), convey.ShouldBeNil)

		convey.Convey("memory needs no DSN", func() {
			cfg := config.New()
			store, err := openStore(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			convey.So(store.Close(), convey.ShouldBeNil)
		})

		convey.Convey("an unknown driver is rejected", func() {
			cfg := config.New()
			cfg.StoreDriver = "mongo"
			_, err := openStore(ctx, cfg)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}

type fakeStats map[string]any

func (f fakeStats) Stats(context.Context) map[string]any { return f }

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("The metrics updaters tolerate partial stats", t, func() {
		convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		convey.So(func() {
			updateServiceMetrics(context.Background(), fakeStats{"started": false, "workers": 8})
			updateServiceMetrics(context.Background(), fakeStats{"queueLength": 3, "idempotencyKeys": int64(2)})
		}, convey.ShouldNotPanic)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		convey.So(func() { runSystemMetrics(ctx, fakeStats{}) }, convey.ShouldNotPanic)
	})
}
