package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"photosync/internal/store"
)

// Status reports the state database summary without touching the library or
// the upload service.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	if _, err := os.Stat(config.Paths.StateFile); err != nil {
		return cli.Exit(fmt.Sprintf("no state database at %s, run a sync first", config.Paths.StateFile), 2)
	}

	st, err := store.Open(config.Paths.StateFile)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	metadata, err := st.Metadata()
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	if cmd.Bool("json") {
		payload := map[string]any{
			"state_file": config.Paths.StateFile,
			"stats": map[string]int{
				"total":     stats.Total,
				"completed": stats.Completed,
				"failed":    stats.Failed,
				"pending":   stats.Pending,
			},
			"metadata": metadata,
		}
		if err := r.writeJSON(payload, cmd.Bool("pretty")); err != nil {
			return cli.Exit(err.Error(), 2)
		}
		return nil
	}

	r.writePlain("State file:   %s\n", config.Paths.StateFile)
	r.writePlain("Total assets: %d\n", stats.Total)
	r.writePlain("Completed:    %d\n", stats.Completed)
	r.writePlain("Failed:       %d\n", stats.Failed)
	r.writePlain("Pending:      %d\n", stats.Pending)

	if started, ok := metadata[store.MetaStartedAt]; ok {
		r.writePlain("Last started: %s\n", started)
	}
	if updated, ok := metadata[store.MetaLastUpdated]; ok {
		r.writePlain("Last updated: %s\n", updated)
	}
	if percent, ok := metadata[store.MetaProgressPercent]; ok {
		r.writePlain("Progress:     %s%%\n", percent)
	}
	return nil
}
