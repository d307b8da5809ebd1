// package exporttool wraps the external photo library export binary.
//
// The tool speaks JSON on stdout: list-assets emits an array of asset
// descriptors, export-asset emits a single result object. Exit codes carry
// meaning separate from JSON-level failure, and every invocation runs under a
// wall-clock deadline so a wedged library session cannot hang a sync run.
package exporttool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"photosync/internal/models"
	"photosync/internal/shared"
)

// DefaultTimeout bounds a single tool invocation.
const DefaultTimeout = 120 * time.Second

// Tool exit codes with defined meanings.
const (
	ExitInvalidInvocation   = 64
	ExitAssetNotFound       = 3
	ExitDestinationUnusable = 4
)

// Filter selects which assets a discovery invocation lists.
type Filter struct {
	Type            models.TypeFilter
	ScreenshotsOnly bool
	NoScreenshots   bool
}

// Tool invokes the export binary as a subprocess.
type Tool struct {
	binary  string
	timeout time.Duration
	logger  *log.Logger
}

// New creates a Tool for the binary at path. A non-positive timeout falls
// back to [DefaultTimeout].
func New(binary string, timeout time.Duration, logger *log.Logger) *Tool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Tool{binary: binary, timeout: timeout, logger: logger}
}

// Validate checks that the configured binary exists and is executable.
func (t *Tool) Validate() error {
	info, err := os.Stat(t.binary)
	if err != nil {
		return fmt.Errorf("%w: %s", shared.ErrToolNotFound, t.binary)
	}
	if info.IsDir() || info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%w: %s is not executable", shared.ErrToolNotFound, t.binary)
	}
	return nil
}

// Discover lists assets matching the filter.
func (t *Tool) Discover(ctx context.Context, filter Filter) ([]models.DiscoveredAsset, error) {
	args := []string{"list-assets"}
	if filter.Type != "" && filter.Type != models.FilterAll {
		args = append(args, "--type", string(filter.Type))
	}
	if filter.NoScreenshots {
		args = append(args, "--no-screenshots")
	} else if filter.ScreenshotsOnly {
		args = append(args, "--screenshots-only")
	}

	stdout, err := t.run(ctx, args)
	if err != nil {
		return nil, err
	}

	var assets []models.DiscoveredAsset
	if err := json.Unmarshal(stdout, &assets); err != nil {
		return nil, fmt.Errorf("%w: expected asset list: %v", shared.ErrToolInvalidOutput, err)
	}

	for _, a := range assets {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrToolInvalidOutput, err)
		}
	}

	return assets, nil
}

// ExportAsset materializes a single asset into destDir and returns the
// exported file's path and metadata.
func (t *Tool) ExportAsset(ctx context.Context, assetID, destDir string) (*models.ExportResult, error) {
	stdout, err := t.run(ctx, []string{"export-asset", assetID, destDir})
	if err != nil {
		return nil, err
	}

	var result models.ExportResult
	if err := json.Unmarshal(stdout, &result); err != nil {
		return nil, fmt.Errorf("%w: expected export result: %v", shared.ErrToolInvalidOutput, err)
	}

	if !result.Success {
		return nil, fmt.Errorf("%w: %s (code %d)", shared.ErrAssetExportFailed, result.Error, result.ErrorCode)
	}

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrToolInvalidOutput, err)
	}

	return &result, nil
}

// run executes the binary with args under the tool deadline and returns stdout.
func (t *Tool) run(ctx context.Context, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	t.logger.Debug("invoking export tool", "binary", t.binary, "args", strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %s after %v", shared.ErrToolTimeout, args[0], t.timeout)
	}

	if err != nil {
		// A bare command name surfaces a PATH lookup failure as *exec.Error;
		// an explicit path to a missing binary comes back from fork/exec as
		// fs.ErrNotExist. Both mean the tool is not there.
		var execErr *exec.Error
		if errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", shared.ErrToolNotFound, err)
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			return nil, fmt.Errorf("%w: %s exited with code %d (%s): %s",
				shared.ErrToolExecution, args[0], code, exitCodeReason(code),
				strings.TrimSpace(stderr.String()))
		}

		return nil, fmt.Errorf("%w: %v", shared.ErrToolExecution, err)
	}

	return stdout.Bytes(), nil
}

func exitCodeReason(code int) string {
	switch code {
	case ExitInvalidInvocation:
		return "invalid invocation"
	case ExitAssetNotFound:
		return "asset not found"
	case ExitDestinationUnusable:
		return "export destination unusable"
	default:
		return "tool failure"
	}
}
