// package tasks implements the sync orchestration engine.
//
// The core abstraction is Engine, which drives a run end to end: discovery via
// the export tool, then a single sequential pass over eligible assets applying
// export → upload → cleanup → state transition with retry and backoff around
// each asset. Progress is emitted via channels for non-blocking status
// reporting to the CLI/UI layers; the state store remains the only authority
// on what has been done.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"photosync/internal/exporttool"
	"photosync/internal/models"
	"photosync/internal/shared"
	"photosync/internal/store"
	"photosync/internal/uploader"
)

// Library abstracts the export tool gateway.
type Library interface {
	// Discover lists assets matching the filter.
	Discover(ctx context.Context, filter exporttool.Filter) ([]models.DiscoveredAsset, error)

	// ExportAsset materializes one asset into destDir.
	ExportAsset(ctx context.Context, assetID, destDir string) (*models.ExportResult, error)
}

// Uploader abstracts the remote service client.
type Uploader interface {
	Upload(ctx context.Context, filePath string, meta uploader.Metadata) (*uploader.Result, error)
}

// StateStore abstracts the persistent state store.
type StateStore interface {
	AddAssets(assets []models.DiscoveredAsset) error
	FetchEligible(maxRetries int) ([]models.Asset, error)
	MarkCompleted(assetID, remoteID string, fileSize, uploadBytes int64, uploadDuration float64) error
	MarkFailed(assetID, errorMessage string) error
	Stats() (store.Stats, error)
	SetMetadata(key, value string) error
	GetMetadata(key string) (string, bool, error)
}

// Outcome classifies how a run ended.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomePartial
	OutcomeInterrupted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartial:
		return "partial failure"
	case OutcomeInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// RunOptions selects what a run discovers and how it starts.
type RunOptions struct {
	Filter exporttool.Filter
	Resume bool
	DryRun bool
}

// RunResult contains the summary of a completed run.
type RunResult struct {
	Outcome   Outcome
	Stats     store.Stats
	Processed int // assets attempted this run
	Elapsed   time.Duration
}

// Engine orchestrates a sync run. Single sequential worker: assets are
// processed one at a time so completion bookkeeping stays exactly-once.
type Engine struct {
	store    StateStore
	library  Library
	uploader Uploader
	policy   Policy
	tempRoot string
	interval int
	logger   *log.Logger
}

// EngineOpts contains configuration options for creating an Engine.
type EngineOpts struct {
	Policy           Policy
	TempRoot         string
	ProgressInterval int
	Logger           *log.Logger
}

// NewEngine creates an Engine over the given collaborators.
func NewEngine(st StateStore, lib Library, up Uploader, opts EngineOpts) *Engine {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 10
	}
	if opts.TempRoot == "" {
		opts.TempRoot = os.TempDir()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy.MaxAttempts = 1
	}

	return &Engine{
		store:    st,
		library:  lib,
		uploader: up,
		policy:   opts.Policy,
		tempRoot: opts.TempRoot,
		interval: opts.ProgressInterval,
		logger:   shared.WithLogger(opts.Logger, "component", "engine"),
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (e *Engine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
		// Sent successfully
	default:
		// Channel full or closed, skip this update
	}
}

// Run executes a full sync: discovery (unless resuming with discovery
// metadata present), then the processing loop, then the summary. Cancelling
// ctx stops the run between assets; the asset in flight always finishes and
// records a terminal state.
func (e *Engine) Run(ctx context.Context, progress chan<- ProgressUpdate, opts RunOptions) (*RunResult, error) {
	start := time.Now()

	if err := e.discoverPhase(ctx, progress, opts); err != nil {
		return nil, err
	}

	if opts.DryRun {
		stats, err := e.store.Stats()
		if err != nil {
			return nil, err
		}
		e.logger.Info("dry run, skipping processing", "total", stats.Total)
		return &RunResult{Outcome: OutcomeSuccess, Stats: stats, Elapsed: time.Since(start)}, nil
	}

	interrupted, processed, err := e.processPhase(ctx, progress)
	if err != nil {
		return nil, err
	}

	stats, err := e.store.Stats()
	if err != nil {
		return nil, err
	}
	if err := e.store.SetMetadata(store.MetaLastUpdated, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}

	outcome := OutcomeSuccess
	switch {
	case interrupted:
		outcome = OutcomeInterrupted
	case stats.Failed > 0:
		outcome = OutcomePartial
	}

	e.sendProgress(progress, summaryUpdate(outcome, stats.Completed, stats.Failed, stats.Pending))
	e.logger.Info("run finished",
		"outcome", outcome.String(),
		"total", stats.Total,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"pending", stats.Pending,
	)

	return &RunResult{
		Outcome:   outcome,
		Stats:     stats,
		Processed: processed,
		Elapsed:   time.Since(start),
	}, nil
}

// discoverPhase runs discovery once per store. A resume with discovery
// metadata present skips the external call entirely; insert-or-ignore would
// make a re-run safe, but skipping avoids a redundant tool invocation.
func (e *Engine) discoverPhase(ctx context.Context, progress chan<- ProgressUpdate, opts RunOptions) error {
	if opts.Resume {
		if total, ok, err := e.store.GetMetadata(store.MetaTotalAssets); err != nil {
			return err
		} else if ok {
			stats, err := e.store.Stats()
			if err != nil {
				return err
			}
			e.logger.Info("resuming from existing state", "completed", stats.Completed, "total", total)
			return nil
		}
	}

	e.sendProgress(progress, discoverStartUpdate())
	e.logger.Info("discovering assets", "type", filterLabel(opts.Filter))

	assets, err := e.library.Discover(ctx, opts.Filter)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	if err := e.store.AddAssets(assets); err != nil {
		return err
	}

	images, videos := 0, 0
	for _, a := range assets {
		if a.Type == "video" {
			videos++
		} else {
			images++
		}
	}

	meta := map[string]string{
		store.MetaStartedAt:          time.Now().UTC().Format(time.RFC3339),
		store.MetaTotalAssets:        strconv.Itoa(len(assets)),
		store.MetaAssetTypes:         filterLabel(opts.Filter),
		store.MetaIncludeScreenshots: strconv.FormatBool(!opts.Filter.NoScreenshots),
		store.MetaRunID:              shared.GenerateID(),
	}
	for k, v := range meta {
		if err := e.store.SetMetadata(k, v); err != nil {
			return err
		}
	}

	e.sendProgress(progress, discoverDoneUpdate(len(assets), images, videos))
	e.logger.Info("discovery complete", "assets", len(assets), "images", images, "videos", videos)
	return nil
}

// processPhase drives the per-asset loop. Returns whether the run was
// interrupted and how many assets were attempted. Only invariant violations
// surface as errors; per-asset failures are absorbed into the state store.
func (e *Engine) processPhase(ctx context.Context, progress chan<- ProgressUpdate) (bool, int, error) {
	eligible, err := e.store.FetchEligible(e.policy.MaxAttempts)
	if err != nil {
		return false, 0, err
	}
	if len(eligible) == 0 {
		e.logger.Info("no assets to process")
		return false, 0, nil
	}

	tempDir := filepath.Join(e.tempRoot, "photosync-run-"+shared.GenerateID())
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return false, 0, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	e.logger.Info("processing assets", "count", len(eligible), "temp_dir", tempDir)

	total := len(eligible)
	start := time.Now()
	processed := 0

	for i, asset := range eligible {
		// Cancellation is honored between assets only; an asset already in
		// its export/upload sequence finishes and records a terminal state.
		if ctx.Err() != nil {
			e.logger.Warn("cancellation requested, stopping before next asset", "remaining", total-i)
			return true, processed, nil
		}

		name := asset.OriginalFilename
		if name == "" {
			name = asset.ID
		}
		e.sendProgress(progress, assetStartUpdate(i+1, total, name))

		completed, err := e.processAsset(ctx, progress, asset, tempDir, i+1, total)
		if err != nil {
			return false, processed, err
		}

		processed++
		speed := float64(processed) / time.Since(start).Minutes()
		if completed {
			e.sendProgress(progress, assetDoneUpdate(i+1, total, name, speed))
		} else {
			e.sendProgress(progress, assetFailedUpdate(i+1, total, name, speed))
		}

		if processed%e.interval == 0 {
			e.persistProgress()
			e.logger.Info("progress", "processed", processed, "total", total, "assets_per_min", fmt.Sprintf("%.1f", speed))
		}
	}

	return false, processed, nil
}

// processAsset applies the retry policy around a single asset. The attempt
// index continues from the stored retry count so a resumed asset spends only
// its remaining budget. Returns whether the asset completed.
func (e *Engine) processAsset(ctx context.Context, progress chan<- ProgressUpdate, asset models.Asset, tempDir string, step, total int) (bool, error) {
	// Work runs detached from run cancellation: the in-flight attempt must
	// reach a terminal state transition before the loop can exit.
	workCtx := context.WithoutCancel(ctx)

	for attempt := asset.RetryCount; ; attempt++ {
		e.logger.Debug("processing asset", "asset", asset.ID, "attempt", attempt+1, "max", e.policy.MaxAttempts)

		err := e.attemptAsset(workCtx, asset, tempDir)
		if err == nil {
			return true, nil
		}
		if isInvariantViolation(err) {
			return false, err
		}

		if markErr := e.store.MarkFailed(asset.ID, err.Error()); markErr != nil {
			return false, markErr
		}

		delay, ok := e.policy.Next(attempt)
		if !ok {
			e.logger.Error("asset failed permanently", "asset", asset.ID, "attempts", attempt+1, "err", err)
			return false, nil
		}

		e.logger.Warn("asset attempt failed",
			"asset", asset.ID, "attempt", attempt+1, "retry_in", delay, "err", err)
		e.sendProgress(progress, retryWaitUpdate(step, total, asset.ID, attempt+2, e.policy.MaxAttempts))

		select {
		case <-ctx.Done():
			// The failed attempt is already recorded; abandon the remaining
			// budget and let a future resume spend it.
			return false, nil
		case <-time.After(delay):
		}
	}
}

// attemptAsset runs one export → upload → cleanup → record sequence.
func (e *Engine) attemptAsset(ctx context.Context, asset models.Asset, tempDir string) error {
	export, err := e.library.ExportAsset(ctx, asset.ID, tempDir)
	if err != nil {
		return err
	}

	meta := uploader.MetadataFromExport(asset.ID, export.Metadata)
	result, err := e.uploader.Upload(ctx, export.FilePath, meta)
	if err != nil {
		return err
	}

	// The asset is durably recorded once MarkCompleted succeeds; a leftover
	// temp file is only disk noise.
	if err := os.Remove(export.FilePath); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("failed to delete temp file", "path", export.FilePath, "err", err)
	}

	if err := e.store.MarkCompleted(asset.ID, result.RemoteID, export.Metadata.FileSize, result.Bytes, result.Duration.Seconds()); err != nil {
		return err
	}

	e.logger.Debug("uploaded asset", "asset", asset.ID, "remote_id", result.RemoteID, "bytes", result.Bytes)
	return nil
}

// persistProgress writes the rolling percentage into run metadata so an
// observer reading the store mid-run sees live progress. Best effort.
func (e *Engine) persistProgress() {
	stats, err := e.store.Stats()
	if err != nil || stats.Total == 0 {
		return
	}
	percent := float64(stats.Completed) / float64(stats.Total) * 100
	if err := e.store.SetMetadata(store.MetaProgressPercent, fmt.Sprintf("%.2f", percent)); err != nil {
		e.logger.Warn("failed to persist progress metadata", "key", store.MetaProgressPercent, "err", err)
		return
	}
	if err := e.store.SetMetadata(store.MetaLastProgressUpdate, time.Now().UTC().Format(time.RFC3339)); err != nil {
		e.logger.Warn("failed to persist progress metadata", "key", store.MetaLastProgressUpdate, "err", err)
	}
}

// isInvariantViolation reports whether an error means corrupted bookkeeping
// rather than a retryable per-asset failure.
func isInvariantViolation(err error) bool {
	return errors.Is(err, shared.ErrInvalidTransition) || errors.Is(err, shared.ErrAssetNotFound)
}

func filterLabel(f exporttool.Filter) string {
	if f.Type == "" {
		return string(models.FilterAll)
	}
	return string(f.Type)
}
