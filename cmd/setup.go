package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"photosync/internal/shared"
)

// Setup writes the example configuration to the given path.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if err := shared.CreateConfigFile(path); err != nil {
		return cli.Exit(err.Error(), 2)
	}

	r.logger.Info("configuration file created", "path", path)
	r.writePlain("Created %s. Edit it with your library tool path and API key, then run `photosync sync`.\n", path)
	return nil
}
