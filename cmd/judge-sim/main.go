package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/TinchoF/gym-score-be/internal/domain/scoring"
	"github.com/TinchoF/gym-score-be/internal/simulate"
	"github.com/TinchoF/gym-score-be/pkg/logger"
)

const runTimeout = 10 * time.Minute

func main() {
	if err := newApp().Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "judge-sim:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	d := simulate.DefaultConfig()
	return &cli.App{
		Name:  "judge-sim",
		Usage: "drive a scoring service with a simulated judge panel and verify the results",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: d.BaseURL, Usage: "base URL of the service"},
			&cli.StringFlag{Name: "institution", Value: d.Institution},
			&cli.StringFlag{Name: "tournament", Value: d.Tournament},
			&cli.StringSliceFlag{Name: "apparatus", Value: cli.NewStringSlice(d.Apparatus...)},
			&cli.IntFlag{Name: "gymnasts", Value: d.Gymnasts},
			&cli.IntFlag{Name: "judges", Value: d.Judges},
			&cli.StringFlag{Name: "method", Value: string(d.Method), Usage: "deductions or start_value"},
			&cli.Float64Flag{Name: "start-value", Value: d.StartValue},
			&cli.IntFlag{Name: "update-every", Value: d.UpdateEvery},
			&cli.IntFlag{Name: "retract-every", Value: d.RetractEvery},
			&cli.IntFlag{Name: "duplicate-every", Value: d.DuplicateEvery},
			&cli.IntFlag{Name: "workers", Value: d.Workers},
			&cli.Float64Flag{Name: "judge-rate", Value: d.JudgeRate, Usage: "submissions per judge per second"},
			&cli.DurationFlag{Name: "timeout", Value: d.Timeout, Usage: "HTTP request timeout"},
			&cli.Uint64Flag{Name: "seed", Value: d.Seed},
			&cli.BoolFlag{Name: "live", Value: d.Live, Usage: "count events on the live channel"},
			&cli.StringFlag{Name: "plan-out", Usage: "write the generated request plan as JSON to this file"},
			&cli.StringFlag{Name: "log-format", Value: logger.FormatText},
		},
		Action: run,
	}
}

func configFrom(c *cli.Context) simulate.Config {
	cfg := simulate.DefaultConfig()
	cfg.BaseURL = c.String("url")
	cfg.Institution = c.String("institution")
	cfg.Tournament = c.String("tournament")
	cfg.Apparatus = c.StringSlice("apparatus")
	cfg.Gymnasts = c.Int("gymnasts")
	cfg.Judges = c.Int("judges")
	cfg.Method = scoring.Method(c.String("method"))
	cfg.StartValue = c.Float64("start-value")
	cfg.UpdateEvery = c.Int("update-every")
	cfg.RetractEvery = c.Int("retract-every")
	cfg.DuplicateEvery = c.Int("duplicate-every")
	cfg.Workers = c.Int("workers")
	cfg.JudgeRate = c.Float64("judge-rate")
	cfg.Timeout = c.Duration("timeout")
	cfg.Seed = c.Uint64("seed")
	cfg.Live = c.Bool("live")
	return cfg
}

func run(c *cli.Context) error {
	if err := logger.Init(logger.WithFormat(c.String("log-format"))); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	cfg := configFrom(c)
	if path := c.String("plan-out"); path != "" {
		if err := writePlan(path, cfg); err != nil {
			return err
		}
	}
	_, err := simulate.Run(ctx, cfg)
	return err
}

func writePlan(path string, cfg simulate.Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create plan file: %w", err)
	}
	if err := simulate.NewPlan(cfg).Write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write plan: %w", err)
	}
	return f.Close()
}
