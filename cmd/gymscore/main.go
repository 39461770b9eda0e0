package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "gymscore:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "gymscore",
		Usage: "gymnastics score aggregation service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML configuration file",
				EnvVars: []string{"GYMSCORE_CONFIG"},
			},
		},
		Before: func(c *cli.Context) error {
			// config.Load reads the file path from the environment.
			if path := c.String("config"); path != "" {
				return os.Setenv("GYMSCORE_CONFIG", path)
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			levelsCommand(),
		},
		DefaultCommand: "serve",
	}
}
