package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/TinchoF/gym-score-be/internal/config"
	"github.com/TinchoF/gym-score-be/internal/domain/levels"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply the database schema for the configured SQL store",
		Action: func(c *cli.Context) error {
			cfg, err := setup(c.Context)
			if err != nil {
				return err
			}
			if cfg.StoreDriver == config.StoreMemory {
				return fmt.Errorf("%w: migrate needs a sqlite or postgres store", config.ErrInvalidConfig)
			}
			// Opening a SQL store applies the schema.
			store, err := openStore(c.Context, cfg)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.App.Writer, "schema applied (%s)\n", cfg.StoreDriver)
			return store.Close()
		},
	}
}

func levelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "levels",
		Usage: "print the effective level table",
		Action: func(c *cli.Context) error {
			cfg, err := setup(c.Context)
			if err != nil {
				return err
			}
			registry, err := newRegistry(cfg)
			if err != nil {
				return err
			}
			return printLevels(c.App.Writer, registry.Table(nil))
		},
	}
}

func printLevels(w io.Writer, table []levels.Config) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "LEVEL\tMETHOD\tBASE")
	for _, c := range table {
		base := "-"
		if c.BaseStartValue != nil {
			base = fmt.Sprintf("%.2f", *c.BaseStartValue)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Level, c.Method, base)
	}
	return tw.Flush()
}
