// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			Value:   "config.toml",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Log at debug level",
		},
	}
}

// setupCommand handles setup operations for the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config file populated with defaults",
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Initialize database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration instead",
					},
					&cli.BoolFlag{
						Name:  "status",
						Usage: "List migrations and whether they are applied",
					},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

// syncCommand runs one sync in the foreground.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run one library sync",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "repair",
				Usage: "Re-fetch every item instead of only those changed since the last sync",
			},
			&cli.Int64SliceFlag{
				Name:    "section",
				Aliases: []string{"s"},
				Usage:   "Only sync this library section id (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "no-progress",
				Usage: "Log progress instead of drawing a progress bar",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the run result as JSON",
			},
		},
		Action: r.Sync,
	}
}

// watchCommand runs the sync daemon.
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Aliases: []string{"daemon"},
		Usage:   "Sync on an interval and serve status and metrics over HTTP",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Time between scheduled syncs (default from sync.watch_interval_minutes)",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address for /metrics, /healthz, /runs and /sync (default from telemetry.metrics_addr)",
			},
			&cli.BoolFlag{
				Name:  "repair",
				Usage: "Start with a repair sync",
			},
		},
		Action: r.Watch,
	}
}

// sectionsCommand lists library sections.
func sectionsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sections",
		Usage: "List the server's library sections and their local sync state",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text, json or csv",
				Value:   "text",
			},
			&cli.BoolFlag{
				Name:  "local",
				Usage: "Only show what is stored locally without contacting the server",
			},
		},
		Action: r.Sections,
	}
}

// statusCommand lists recent sync runs.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show recent sync runs",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of runs to show",
				Value:   10,
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text, json or csv",
				Value:   "text",
			},
		},
		Action: r.Status,
	}
}
