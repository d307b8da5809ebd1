// package store implements the persistent sync state store.
//
// A single SQLite file is the source of truth for which assets have been
// uploaded. The store owns every status transition: callers can only move an
// asset through MarkCompleted/MarkFailed, and a completed row can never be
// overwritten.
package store

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"photosync/internal/models"
	"photosync/internal/shared"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assets (
	asset_id TEXT PRIMARY KEY,
	original_filename TEXT NOT NULL DEFAULT '',
	asset_type TEXT NOT NULL DEFAULT 'image',
	creation_date TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	remote_id TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	processed_at TEXT NOT NULL DEFAULT '',
	file_size INTEGER NOT NULL DEFAULT 0,
	duration REAL NOT NULL DEFAULT 0,
	upload_bytes INTEGER NOT NULL DEFAULT 0,
	upload_duration REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_status ON assets(status);
CREATE INDEX IF NOT EXISTS idx_retry ON assets(status, retry_count);
`

// Metadata keys written by the orchestrator and read on resume.
const (
	MetaStartedAt          = "started_at"
	MetaTotalAssets        = "total_assets"
	MetaAssetTypes         = "asset_types"
	MetaIncludeScreenshots = "include_screenshots"
	MetaRunID              = "run_id"
	MetaProgressPercent    = "progress_percent"
	MetaLastProgressUpdate = "last_progress_update"
	MetaLastUpdated        = "last_updated"
)

const backupKeep = 5

// Store is the persistent per-asset state table plus run metadata.
type Store struct {
	db     *sql.DB
	path   string
	closed bool
}

// Open creates or opens the state database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := shared.NewDatabase(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %v", shared.ErrStoreUnavailable, err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the location of the backing database file.
func (s *Store) Path() string {
	return s.path
}

// AddAssets bulk-inserts discovered assets with insert-or-ignore semantics.
// Rows already present keep their status and retry count, so a re-discovery
// never resets processed work.
func (s *Store) AddAssets(assets []models.DiscoveredAsset) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"INSERT OR IGNORE INTO assets (asset_id, original_filename, asset_type, creation_date, status) VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range assets {
		if _, err := stmt.Exec(a.ID, a.OriginalFilename, a.Type, a.CreationDate, models.StatusPending.String()); err != nil {
			return fmt.Errorf("failed to insert asset %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit asset inserts: %w", err)
	}
	return nil
}

// FetchEligible returns assets that still need processing: pending, or failed
// with retry budget left. Ordered oldest-first, ties broken by asset id, so
// processing order is deterministic across runs.
func (s *Store) FetchEligible(maxRetries int) ([]models.Asset, error) {
	rows, err := s.db.Query(`
		SELECT asset_id, original_filename, asset_type, creation_date, status,
		       remote_id, error_message, retry_count, processed_at,
		       file_size, duration, upload_bytes, upload_duration
		FROM assets
		WHERE status = 'pending' OR (status = 'failed' AND retry_count < ?)
		ORDER BY creation_date ASC, asset_id ASC
	`, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible assets: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var a models.Asset
		var status string
		if err := rows.Scan(
			&a.ID, &a.OriginalFilename, &a.Type, &a.CreationDate, &status,
			&a.RemoteID, &a.ErrorMessage, &a.RetryCount, &a.ProcessedAt,
			&a.FileSize, &a.Duration, &a.UploadBytes, &a.UploadDuration,
		); err != nil {
			return nil, fmt.Errorf("failed to scan asset row: %w", err)
		}

		a.Status, err = models.ParseStatus(status)
		if err != nil {
			return nil, fmt.Errorf("corrupt asset row %s: %w", a.ID, err)
		}
		assets = append(assets, a)
	}

	return assets, rows.Err()
}

// Get retrieves a single asset row by id.
func (s *Store) Get(assetID string) (*models.Asset, error) {
	var a models.Asset
	var status string
	err := s.db.QueryRow(`
		SELECT asset_id, original_filename, asset_type, creation_date, status,
		       remote_id, error_message, retry_count, processed_at,
		       file_size, duration, upload_bytes, upload_duration
		FROM assets WHERE asset_id = ?
	`, assetID).Scan(
		&a.ID, &a.OriginalFilename, &a.Type, &a.CreationDate, &status,
		&a.RemoteID, &a.ErrorMessage, &a.RetryCount, &a.ProcessedAt,
		&a.FileSize, &a.Duration, &a.UploadBytes, &a.UploadDuration,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", shared.ErrAssetNotFound, assetID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset %s: %w", assetID, err)
	}

	a.Status, err = models.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("corrupt asset row %s: %w", a.ID, err)
	}
	return &a, nil
}

// MarkCompleted transitions an asset to completed with its upload metrics.
// Completing an already-completed asset is rejected: completed is terminal.
func (s *Store) MarkCompleted(assetID, remoteID string, fileSize, uploadBytes int64, uploadDuration float64) error {
	result, err := s.db.Exec(`
		UPDATE assets
		SET status = 'completed', remote_id = ?, error_message = '',
		    file_size = ?, upload_bytes = ?, upload_duration = ?, processed_at = ?
		WHERE asset_id = ? AND status != 'completed'
	`, remoteID, fileSize, uploadBytes, uploadDuration, timestamp(), assetID)
	if err != nil {
		return fmt.Errorf("failed to mark %s completed: %w", assetID, err)
	}

	return s.checkTransition(result, assetID, models.StatusCompleted)
}

// MarkFailed transitions an asset to failed, records the error, and increments
// the retry count. Failing a completed asset is a programming error and is
// rejected with [shared.ErrInvalidTransition] rather than overwriting a success.
func (s *Store) MarkFailed(assetID, errorMessage string) error {
	result, err := s.db.Exec(`
		UPDATE assets
		SET status = 'failed', error_message = ?, retry_count = retry_count + 1, processed_at = ?
		WHERE asset_id = ? AND status != 'completed'
	`, errorMessage, timestamp(), assetID)
	if err != nil {
		return fmt.Errorf("failed to mark %s failed: %w", assetID, err)
	}

	return s.checkTransition(result, assetID, models.StatusFailed)
}

// checkTransition distinguishes "row missing" from "row already completed"
// when a guarded status update touched nothing.
func (s *Store) checkTransition(result sql.Result, assetID string, to models.Status) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transition for %s: %w", assetID, err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM assets WHERE asset_id = ?", assetID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check transition for %s: %w", assetID, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", shared.ErrAssetNotFound, assetID)
	}
	return fmt.Errorf("%w: asset %s is already completed, refusing transition to %s", shared.ErrInvalidTransition, assetID, to)
}

// Stats are per-status asset counts for the whole store.
type Stats struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Stats returns per-status counts. Statuses with no rows report zero.
func (s *Store) Stats() (Stats, error) {
	var stats Stats

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM assets GROUP BY status")
	if err != nil {
		return stats, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("failed to scan stats row: %w", err)
		}

		switch status {
		case models.StatusPending.String():
			stats.Pending = count
		case models.StatusCompleted.String():
			stats.Completed = count
		case models.StatusFailed.String():
			stats.Failed = count
		}
		stats.Total += count
	}

	return stats, rows.Err()
}

// SetMetadata stores a scalar run metadata value, last write wins.
func (s *Store) SetMetadata(key, value string) error {
	if _, err := s.db.Exec("INSERT OR REPLACE INTO sync_metadata (key, value) VALUES (?, ?)", key, value); err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}
	return nil
}

// GetMetadata retrieves a run metadata value. The second return reports
// whether the key was present.
func (s *Store) GetMetadata(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM sync_metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get metadata %s: %w", key, err)
	}
	return value, true, nil
}

// Metadata returns the full metadata table.
func (s *Store) Metadata() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM sync_metadata ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// Backup copies the database file to a timestamped sibling and prunes old
// backups, keeping only the most recent five.
func (s *Store) Backup() (string, error) {
	ts := time.Now().UTC().Format("2006-01-02_15-04-05.000000000")
	backupPath := filepath.Join(filepath.Dir(s.path), fmt.Sprintf("state_backup_%s.db", ts))

	if err := copyFile(s.path, backupPath); err != nil {
		return "", fmt.Errorf("failed to back up database: %w", err)
	}

	backups, err := filepath.Glob(filepath.Join(filepath.Dir(s.path), "state_backup_*.db"))
	if err != nil {
		return "", fmt.Errorf("failed to list backups: %w", err)
	}

	// Timestamped names sort chronologically.
	sort.Strings(backups)
	for _, old := range backups[:max(0, len(backups)-backupKeep)] {
		if err := os.Remove(old); err != nil {
			return "", fmt.Errorf("failed to prune backup %s: %w", old, err)
		}
	}

	return backupPath, nil
}

// Close releases the database connection. Safe to call more than once.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
