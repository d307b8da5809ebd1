package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"photosync/internal/exporttool"
	"photosync/internal/models"
	"photosync/internal/shared"
	"photosync/internal/store"
	"photosync/internal/uploader"
)

type mockLibrary struct {
	assets          []models.DiscoveredAsset
	discoverErr     error
	discoverCalls   int
	exportCalls     int
	exportErrFor    map[string]error
	exportFailOnce  map[string]bool
	exportAttempted map[string]int
}

func (m *mockLibrary) Discover(ctx context.Context, filter exporttool.Filter) ([]models.DiscoveredAsset, error) {
	m.discoverCalls++
	if m.discoverErr != nil {
		return nil, m.discoverErr
	}
	return m.assets, nil
}

func (m *mockLibrary) ExportAsset(ctx context.Context, assetID, destDir string) (*models.ExportResult, error) {
	m.exportCalls++
	if m.exportAttempted == nil {
		m.exportAttempted = make(map[string]int)
	}
	m.exportAttempted[assetID]++

	if err, ok := m.exportErrFor[assetID]; ok {
		if !m.exportFailOnce[assetID] || m.exportAttempted[assetID] == 1 {
			return nil, err
		}
	}

	path := filepath.Join(destDir, assetID+".bin")
	if err := os.WriteFile(path, []byte("exported "+assetID), 0644); err != nil {
		return nil, err
	}

	return &models.ExportResult{
		Success:  true,
		FilePath: path,
		Metadata: &models.ExportMetadata{
			OriginalFilename: assetID + ".HEIC",
			CreationDate:     "2023-01-01T00:00:00Z",
			FileSize:         1024,
			MediaType:        "image",
			Dimensions:       models.Dimensions{Width: 100, Height: 100},
			Format:           "HEIC",
		},
	}, nil
}

type mockUploader struct {
	calls     int
	errFor    map[string]error
	onUpload  func(calls int)
	lastPaths []string
}

func (m *mockUploader) Upload(ctx context.Context, filePath string, meta uploader.Metadata) (*uploader.Result, error) {
	m.calls++
	m.lastPaths = append(m.lastPaths, filePath)
	if m.onUpload != nil {
		m.onUpload(m.calls)
	}
	if err, ok := m.errFor[meta.AssetID]; ok {
		return nil, err
	}
	return &uploader.Result{RemoteID: "remote-" + meta.AssetID, Bytes: 1024, Duration: 10 * time.Millisecond}, nil
}

func discoveredAssets(n int) []models.DiscoveredAsset {
	assets := make([]models.DiscoveredAsset, n)
	for i := range assets {
		assets[i] = models.DiscoveredAsset{
			ID:               fmt.Sprintf("asset-%03d", i+1),
			Type:             "image",
			CreationDate:     fmt.Sprintf("2023-01-%02dT00:00:00Z", i+1),
			OriginalFilename: fmt.Sprintf("IMG_%03d.HEIC", i+1),
		}
	}
	return assets
}

func testEngine(t *testing.T, lib Library, up Uploader, policy Policy) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	engine := NewEngine(st, lib, up, EngineOpts{
		Policy:           policy,
		TempRoot:         t.TempDir(),
		ProgressInterval: 2,
	})
	return engine, st
}

func fastPolicy(maxAttempts int) Policy {
	return Policy{MaxAttempts: maxAttempts, Delays: []time.Duration{time.Millisecond}}
}

func TestEngineRun(t *testing.T) {
	t.Run("all assets succeed", func(t *testing.T) {
		lib := &mockLibrary{assets: discoveredAssets(3)}
		up := &mockUploader{}
		engine, st := testEngine(t, lib, up, fastPolicy(3))

		result, err := engine.Run(context.Background(), nil, RunOptions{})
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}

		if result.Outcome != OutcomeSuccess {
			t.Errorf("expected success, got %v", result.Outcome)
		}
		want := store.Stats{Completed: 3, Total: 3}
		if result.Stats != want {
			t.Errorf("expected %+v, got %+v", want, result.Stats)
		}
		if up.calls != 3 {
			t.Errorf("expected 3 uploads, got %d", up.calls)
		}

		// Temp files are deleted after upload.
		for _, p := range up.lastPaths {
			if _, err := os.Stat(p); !os.IsNotExist(err) {
				t.Errorf("temp file %s not cleaned up", p)
			}
		}

		if _, ok, _ := st.GetMetadata(store.MetaTotalAssets); !ok {
			t.Error("discovery metadata not recorded")
		}
		if _, ok, _ := st.GetMetadata(store.MetaLastUpdated); !ok {
			t.Error("last_updated not recorded")
		}
	})

	t.Run("partial failure sets outcome and stats", func(t *testing.T) {
		lib := &mockLibrary{
			assets: discoveredAssets(10),
			exportErrFor: map[string]error{
				"asset-002": fmt.Errorf("%w: library session dropped", shared.ErrToolExecution),
				"asset-007": fmt.Errorf("%w: 30s elapsed", shared.ErrToolTimeout),
			},
		}
		up := &mockUploader{}
		engine, st := testEngine(t, lib, up, fastPolicy(2))

		result, err := engine.Run(context.Background(), nil, RunOptions{})
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}

		if result.Outcome != OutcomePartial {
			t.Errorf("expected partial failure, got %v", result.Outcome)
		}
		want := store.Stats{Completed: 8, Failed: 2, Pending: 0, Total: 10}
		if result.Stats != want {
			t.Errorf("expected %+v, got %+v", want, result.Stats)
		}

		// Each failed asset spent its full budget, one retry_count per attempt.
		a, err := st.Get("asset-002")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if a.RetryCount != 2 || a.ErrorMessage == "" {
			t.Errorf("unexpected failed row: %+v", a)
		}
	})

	t.Run("retry then success", func(t *testing.T) {
		lib := &mockLibrary{
			assets:         discoveredAssets(1),
			exportErrFor:   map[string]error{"asset-001": fmt.Errorf("%w: flaky", shared.ErrToolExecution)},
			exportFailOnce: map[string]bool{"asset-001": true},
		}
		up := &mockUploader{}
		engine, st := testEngine(t, lib, up, fastPolicy(3))

		result, err := engine.Run(context.Background(), nil, RunOptions{})
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}

		if result.Outcome != OutcomeSuccess {
			t.Errorf("expected success after retry, got %v", result.Outcome)
		}

		a, _ := st.Get("asset-001")
		if a.Status != models.StatusCompleted {
			t.Errorf("expected completed, got %v", a.Status)
		}
		if a.RetryCount != 1 {
			t.Errorf("expected retry count 1 from the failed attempt, got %d", a.RetryCount)
		}
	})

	t.Run("dry run stops after discovery", func(t *testing.T) {
		lib := &mockLibrary{assets: discoveredAssets(5)}
		up := &mockUploader{}
		engine, st := testEngine(t, lib, up, fastPolicy(3))

		result, err := engine.Run(context.Background(), nil, RunOptions{DryRun: true})
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}

		if up.calls != 0 || lib.exportCalls != 0 {
			t.Error("dry run must not process assets")
		}
		if result.Stats.Pending != 5 {
			t.Errorf("expected 5 pending, got %+v", result.Stats)
		}

		stats, _ := st.Stats()
		if stats.Total != 5 {
			t.Errorf("discovery should still populate the store, got %+v", stats)
		}
	})

	t.Run("discovery failure is fatal", func(t *testing.T) {
		lib := &mockLibrary{discoverErr: fmt.Errorf("%w: photo-export", shared.ErrToolNotFound)}
		engine, _ := testEngine(t, lib, &mockUploader{}, fastPolicy(3))

		_, err := engine.Run(context.Background(), nil, RunOptions{})
		if !errors.Is(err, shared.ErrToolNotFound) {
			t.Errorf("expected ErrToolNotFound, got %v", err)
		}
	})
}

func TestEngineInterruption(t *testing.T) {
	lib := &mockLibrary{assets: discoveredAssets(10)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Operator interrupts while asset 5 is mid-upload.
	up := &mockUploader{onUpload: func(calls int) {
		if calls == 5 {
			cancel()
		}
	}}
	engine, st := testEngine(t, lib, up, fastPolicy(3))

	result, err := engine.Run(ctx, nil, RunOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.Outcome != OutcomeInterrupted {
		t.Fatalf("expected interrupted, got %v", result.Outcome)
	}

	// The in-flight asset finished; nothing is half-done.
	want := store.Stats{Completed: 5, Pending: 5, Total: 10}
	if result.Stats != want {
		t.Fatalf("expected %+v, got %+v", want, result.Stats)
	}

	// A subsequent resume run processes exactly the remaining assets, without
	// re-running discovery.
	up2 := &mockUploader{}
	engine2 := NewEngine(st, lib, up2, EngineOpts{Policy: fastPolicy(3), TempRoot: t.TempDir()})

	discoverCallsBefore := lib.discoverCalls
	result2, err := engine2.Run(context.Background(), nil, RunOptions{Resume: true})
	if err != nil {
		t.Fatalf("resume run failed: %v", err)
	}

	if lib.discoverCalls != discoverCallsBefore {
		t.Error("resume must not re-run discovery")
	}
	if up2.calls != 5 {
		t.Errorf("resume should process exactly 5 assets, got %d", up2.calls)
	}
	if result2.Outcome != OutcomeSuccess {
		t.Errorf("expected success, got %v", result2.Outcome)
	}
	if result2.Stats.Completed != 10 || result2.Stats.Pending != 0 {
		t.Errorf("unexpected final stats: %+v", result2.Stats)
	}
}

func TestEngineCancelledBeforeStart(t *testing.T) {
	lib := &mockLibrary{assets: discoveredAssets(3)}
	up := &mockUploader{}
	engine, _ := testEngine(t, lib, up, fastPolicy(3))

	// Populate the store first so the second run has eligible assets.
	if _, err := engine.Run(context.Background(), nil, RunOptions{DryRun: true}); err != nil {
		t.Fatalf("seed run failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Run(ctx, nil, RunOptions{Resume: true})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Outcome != OutcomeInterrupted {
		t.Errorf("expected interrupted, got %v", result.Outcome)
	}
	if up.calls != 0 {
		t.Errorf("no assets should be processed after cancellation, got %d uploads", up.calls)
	}
}

func TestEngineProgressUpdates(t *testing.T) {
	lib := &mockLibrary{assets: discoveredAssets(3)}
	up := &mockUploader{}
	engine, _ := testEngine(t, lib, up, fastPolicy(3))

	progress := make(chan ProgressUpdate, 100)
	if _, err := engine.Run(context.Background(), progress, RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	close(progress)

	var phases = map[Phase]int{}
	for update := range progress {
		phases[update.Phase]++
	}

	if phases[Discover] == 0 {
		t.Error("expected discovery updates")
	}
	if phases[Process] < 3 {
		t.Errorf("expected process updates for each asset, got %d", phases[Process])
	}
	if phases[Summary] != 1 {
		t.Errorf("expected one summary update, got %d", phases[Summary])
	}
}

func TestEngineProgressMetadata(t *testing.T) {
	lib := &mockLibrary{assets: discoveredAssets(4)}
	up := &mockUploader{}
	engine, st := testEngine(t, lib, up, fastPolicy(3)) // interval 2

	if _, err := engine.Run(context.Background(), nil, RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	percent, ok, err := st.GetMetadata(store.MetaProgressPercent)
	if err != nil || !ok {
		t.Fatalf("progress percent not persisted: ok=%v err=%v", ok, err)
	}
	if percent == "" {
		t.Error("empty progress percent")
	}
	if _, ok, _ := st.GetMetadata(store.MetaLastProgressUpdate); !ok {
		t.Error("last progress update not persisted")
	}
}

// brokenStore wraps the real store but refuses failure transitions, simulating
// a bookkeeping invariant violation surfacing mid-run.
type brokenStore struct {
	*store.Store
}

func (b *brokenStore) MarkFailed(assetID, errorMessage string) error {
	return fmt.Errorf("%w: asset %s is already completed", shared.ErrInvalidTransition, assetID)
}

// metadataFailStore wraps the real store but refuses metadata writes,
// simulating a read-only or contended state file mid-run.
type metadataFailStore struct {
	*store.Store
}

func (m *metadataFailStore) SetMetadata(key, value string) error {
	return fmt.Errorf("%w: metadata write refused", shared.ErrStoreUnavailable)
}

func TestPersistProgressWarnsOnMetadataFailure(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	if err := st.AddAssets(discoveredAssets(2)); err != nil {
		t.Fatalf("failed to add assets: %v", err)
	}

	var logs bytes.Buffer
	engine := NewEngine(&metadataFailStore{st}, &mockLibrary{}, &mockUploader{}, EngineOpts{
		Policy:   fastPolicy(1),
		TempRoot: t.TempDir(),
		Logger:   shared.NewLogger(&logs),
	})

	engine.persistProgress()

	if !strings.Contains(logs.String(), "failed to persist progress metadata") {
		t.Errorf("expected a warning about the refused metadata write, got %q", logs.String())
	}
}

func TestEngineInvariantViolationAborts(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	lib := &mockLibrary{
		assets:       discoveredAssets(3),
		exportErrFor: map[string]error{"asset-001": fmt.Errorf("%w: boom", shared.ErrToolExecution)},
	}
	engine := NewEngine(&brokenStore{st}, lib, &mockUploader{}, EngineOpts{
		Policy:   fastPolicy(2),
		TempRoot: t.TempDir(),
	})

	_, err = engine.Run(context.Background(), nil, RunOptions{})
	if !errors.Is(err, shared.ErrInvalidTransition) {
		t.Errorf("invariant violation must abort the run, got %v", err)
	}
}
