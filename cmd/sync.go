package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"photosync/internal/exporttool"
	"photosync/internal/models"
	"photosync/internal/shared"
	"photosync/internal/store"
	"photosync/internal/tasks"
	"photosync/internal/ui"
	"photosync/internal/uploader"
)

// Sync runs the full pipeline: environment validation, discovery, and the
// processing loop. Exit codes: 0 full success, 1 failed assets or operator
// interrupt, 2 fatal error before or during the run.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(cmd.String("log-level")))

	// Mutually exclusive flags are rejected before any state-store access.
	if cmd.Bool("resume") && cmd.Bool("reset") {
		return cli.Exit(fmt.Sprintf("%v: --resume and --reset", shared.ErrInvalidFlag), 2)
	}
	if cmd.Bool("screenshots-only") && cmd.IsSet("no-screenshots") {
		return cli.Exit(fmt.Sprintf("%v: --screenshots-only and --no-screenshots", shared.ErrInvalidFlag), 2)
	}

	typeFilter, err := models.ParseTypeFilter(cmd.String("type"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	if workers := cmd.Int("workers"); workers > 1 {
		r.logger.Warn("parallel workers are not supported yet, processing sequentially", "requested", workers)
	}

	config, err := r.loadConfig(cmd)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if err := config.Validate(); err != nil {
		return cli.Exit(err.Error(), 2)
	}

	filter := exporttool.Filter{Type: typeFilter}
	if cmd.Bool("screenshots-only") {
		filter.ScreenshotsOnly = true
	} else {
		filter.NoScreenshots = cmd.Bool("no-screenshots")
	}

	// Setup validation: every external collaborator must be reachable before
	// any asset work starts.
	r.logger.Info("validating environment")

	tool := exporttool.New(config.Paths.ToolBinary, 0, r.logger)
	if err := tool.Validate(); err != nil {
		return cli.Exit(err.Error(), 2)
	}

	client := uploader.New(uploader.Opts{
		BaseURL:   config.Upload.APIURL,
		APIKey:    config.Upload.APIKey,
		DeviceID:  config.Upload.DeviceID,
		Timeout:   config.Upload.Timeout(),
		RateLimit: config.Upload.RateLimit,
	})
	if err := client.Ping(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("upload service unreachable: %v", err), 2)
	}

	if err := os.MkdirAll(config.Paths.TempDir, 0755); err != nil {
		return cli.Exit(fmt.Sprintf("failed to create temp directory: %v", err), 2)
	}

	statePath := config.Paths.StateFile
	_, statErr := os.Stat(statePath)
	stateExists := statErr == nil

	if cmd.Bool("reset") && stateExists {
		r.logger.Info("resetting state database", "path", statePath)
		if err := os.Remove(statePath); err != nil {
			return cli.Exit(fmt.Sprintf("failed to reset state database: %v", err), 2)
		}
		stateExists = false
	}

	st, err := store.Open(statePath)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer st.Close()

	// Snapshot before mutating an existing store.
	if cmd.Bool("resume") && stateExists {
		backupPath, err := st.Backup()
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		r.logger.Info("state database backed up", "path", backupPath)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(runCtx)
	defer cancel()

	plain := cmd.Bool("plain") || cmd.Bool("dry-run")
	engineLogger := r.logger
	if !plain {
		// The progress view owns the terminal; logs go to a file meanwhile.
		fileLogger, ok := r.runLogger(config.Paths.TempDir)
		if ok {
			engineLogger = fileLogger
		} else {
			plain = true
		}
	}

	progressCh := make(chan tasks.ProgressUpdate, 50)
	consumerDone := make(chan struct{})

	if !plain {
		prog := tea.NewProgram(ui.NewModel(progressCh, cancel))
		go func() {
			defer close(consumerDone)
			if _, err := prog.Run(); err != nil {
				r.logger.Error("progress view failed", "err", err)
			}
		}()
	} else {
		go func() {
			defer close(consumerDone)
			for update := range progressCh {
				switch update.Phase {
				case tasks.Discover:
					r.writePlain("🔍 %s\n", update.Message)
				case tasks.Process:
					if update.Total > 0 {
						r.writePlain("[%d/%d] %s\n", update.Step, update.Total, update.Message)
					}
				case tasks.Retry:
					r.writePlain("   %s\n", update.Message)
				}
			}
		}()
	}

	engine := tasks.NewEngine(st, tool, client, tasks.EngineOpts{
		Policy: tasks.Policy{
			MaxAttempts: config.Retry.MaxRetries,
			Delays:      config.Retry.Delays(),
		},
		TempRoot:         config.Paths.TempDir,
		ProgressInterval: config.Processing.ProgressUpdateInterval,
		Logger:           engineLogger,
	})

	result, runErr := engine.Run(runCtx, progressCh, tasks.RunOptions{
		Filter: filter,
		Resume: cmd.Bool("resume"),
		DryRun: cmd.Bool("dry-run"),
	})
	close(progressCh)
	<-consumerDone

	if runErr != nil {
		return cli.Exit(fmt.Sprintf("sync failed: %v", runErr), 2)
	}

	r.printSummary(result)

	if result.Outcome == tasks.OutcomeSuccess {
		return nil
	}
	return cli.Exit("", 1)
}

// runLogger opens the log file the engine writes to while the progress view
// owns the terminal. If the file cannot be opened the run falls back to plain
// output, since stderr logs underneath the view would tear its rendering.
func (r *Runner) runLogger(tempDir string) (*log.Logger, bool) {
	fileLogger, err := shared.NewFileLogger(filepath.Join(tempDir, "photosync.log"))
	if err != nil {
		r.logger.Warn("cannot open run log file, falling back to plain output", "err", err)
		return r.logger, false
	}
	return fileLogger, true
}

func (r *Runner) printSummary(result *tasks.RunResult) {
	r.writePlain("\n═══════════════════════════════════════\n")
	r.writePlain("Photo Sync %s\n", titleFor(result.Outcome))
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("Total assets: %d\n", result.Stats.Total)
	r.writePlain("Completed:    %d\n", result.Stats.Completed)
	r.writePlain("Failed:       %d\n", result.Stats.Failed)
	r.writePlain("Pending:      %d\n", result.Stats.Pending)
	r.writePlain("Elapsed:      %s\n", result.Elapsed.Round(time.Second))

	if result.Outcome == tasks.OutcomeInterrupted {
		r.writePlain("\nInterrupted. Run with --resume to continue.\n")
	} else if result.Stats.Failed > 0 {
		r.writePlain("\nRun with --resume to retry failed assets.\n")
	}
}

func titleFor(outcome tasks.Outcome) string {
	switch outcome {
	case tasks.OutcomeSuccess:
		return "Complete"
	case tasks.OutcomeInterrupted:
		return "Interrupted"
	default:
		return "Finished With Failures"
	}
}
