// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

// syncCommand runs the full discovery and upload pipeline
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Discover library assets and upload them to the media server",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Asset types to process: image, video, or all",
				Value:   "all",
			},
			&cli.BoolFlag{
				Name:  "screenshots-only",
				Usage: "Process only screenshots",
			},
			&cli.BoolFlag{
				Name:  "no-screenshots",
				Usage: "Exclude screenshots (default)",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "Resume from the existing state database",
			},
			&cli.BoolFlag{
				Name:  "reset",
				Usage: "Clear the state database and start fresh",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Run discovery only, without uploading",
			},
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "Log progress lines instead of the live progress view",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of parallel workers (only 1 is supported)",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Logging verbosity: debug, info, warn, error",
				Value: "info",
			},
		},
		Action: r.Sync,
	}
}

// statusCommand reports stored sync progress without touching the library
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show per-status counts and run metadata from the state database",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print JSON output",
				Value: true,
			},
		},
		Action: r.Status,
	}
}

// setupCommand scaffolds a configuration file
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create a config.toml from the embedded example",
		Flags: []cli.Flag{
			configFlag(),
		},
		Action: r.Setup,
	}
}
