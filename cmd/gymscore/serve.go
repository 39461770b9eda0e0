package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/TinchoF/gym-score-be/internal/adapters/http/api"
	"github.com/TinchoF/gym-score-be/internal/adapters/live"
	"github.com/TinchoF/gym-score-be/internal/adapters/mq/amqp"
	"github.com/TinchoF/gym-score-be/internal/adapters/repository"
	service "github.com/TinchoF/gym-score-be/internal/app"
	"github.com/TinchoF/gym-score-be/internal/config"
	"github.com/TinchoF/gym-score-be/internal/domain/levels"
	"github.com/TinchoF/gym-score-be/pkg/logger"
	"github.com/TinchoF/gym-score-be/pkg/metrics"
)

// HTTP server timeouts. Websocket connections manage their own deadlines
// after the upgrade.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API and the live score channel",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address, overrides the configured one"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := setup(ctx)
			if err != nil {
				return err
			}
			if addr := c.String("addr"); addr != "" {
				cfg.Addr = addr
			}
			return serve(ctx, cfg)
		},
	}
}

// setup loads the configuration and initializes the global logger from it.
func setup(ctx context.Context) (*config.Config, error) {
	if err := logger.Init(); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

// configureMetrics must run before the HTTP server captures the registry.
func configureMetrics(cfg *config.Config) {
	metrics.Configure(
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithSubsystem(cfg.MetricsSubsystem),
		metrics.WithCustomLabels(cfg.MetricsLabels),
		metrics.WithHistogramBuckets(cfg.MetricsBuckets),
	)
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return repository.NewMemoryStore(ctx), nil
	case config.StoreSQLite:
		return repository.OpenSQL(ctx, repository.DriverSQLite, cfg.StoreDSN)
	case config.StorePostgres:
		return repository.OpenSQL(ctx, repository.DriverPostgres, cfg.StoreDSN)
	default:
		return nil, fmt.Errorf("%w: store driver %q", config.ErrInvalidConfig, cfg.StoreDriver)
	}
}

func newRegistry(cfg *config.Config) (*levels.Registry, error) {
	table, err := cfg.LevelTable()
	if err != nil {
		return nil, err
	}
	return levels.NewRegistry(levels.WithLevels(table...)), nil
}

// serve runs until ctx is cancelled or the listener fails. The service stops
// before the hub so queued broadcasts still reach live clients.
func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Get().Named("main")
	configureMetrics(cfg)

	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error(ctx, "store close failed", logger.Error(err))
		}
	}()

	hub := live.NewHub(live.WithClientBuffer(cfg.HubBuffer))
	hubCtx, stopHub := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHub()
	go hub.Run(hubCtx)

	publishers := live.Fanout{hub}
	if cfg.AMQPURL != "" {
		pub, err := amqp.Dial(ctx, cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		publishers = append(publishers, pub)
		log.Info(ctx, "amqp publisher enabled", logger.String("exchange", cfg.AMQPExchange))
	}

	svc := service.New(
		service.WithStore(store),
		service.WithRegistry(registry),
		service.WithPublisher(publishers),
		service.WithQueueSize(cfg.BroadcastQueueSize),
		service.WithWorkerCount(cfg.BroadcastWorkers),
		service.WithDedupeSize(cfg.DedupeSize),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	apiServer := api.NewServer(svc,
		api.WithLive(hub),
		api.WithSubmitRate(cfg.SubmitRatePerSec, cfg.SubmitBurst),
		api.WithCORSOrigins(cfg.CORSAllowedOrigins),
	)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Handler(),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		runSystemMetrics(gctx, svc)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(gctx, "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := svc.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("service stop: %w", err))
		}
		stopHub()
		return errors.Join(errs...)
	})

	err = g.Wait()
	log.Info(ctx, "server stopped")
	return err
}
