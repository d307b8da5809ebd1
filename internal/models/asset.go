package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an asset in the state store.
type Status int

const (
	StatusPending Status = iota
	StatusCompleted
	StatusFailed
)

// String returns the stored representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseStatus converts a stored status string back into a [Status].
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	default:
		return StatusPending, fmt.Errorf("unknown asset status %q", s)
	}
}

// Terminal reports whether the status ends an asset's lifecycle for a run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Asset is one row of the state store's asset table.
type Asset struct {
	ID               string
	OriginalFilename string
	Type             string // "image" or "video"
	CreationDate     string // ISO-8601 UTC with trailing Z
	Status           Status
	RemoteID         string
	ErrorMessage     string
	RetryCount       int
	ProcessedAt      string
	FileSize         int64
	Duration         float64
	UploadBytes      int64
	UploadDuration   float64
}

// DiscoveredAsset is one entry of the export tool's list-assets output.
type DiscoveredAsset struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	CreationDate     string `json:"creation_date"`
	OriginalFilename string `json:"original_filename"`
	IsScreenshot     bool   `json:"is_screenshot"`
	IsLivePhoto      bool   `json:"is_live_photo"`
}

// Validate checks a discovery record for the fields the pipeline depends on.
func (d DiscoveredAsset) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("discovered asset missing id")
	}
	if d.Type != "image" && d.Type != "video" {
		return fmt.Errorf("discovered asset %s has invalid type %q", d.ID, d.Type)
	}
	if err := validateCreationDate(d.CreationDate); err != nil {
		return fmt.Errorf("discovered asset %s: %w", d.ID, err)
	}
	if d.OriginalFilename == "" {
		return fmt.Errorf("discovered asset %s missing original_filename", d.ID)
	}
	return nil
}

// Dimensions are pixel dimensions of an exported asset.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Location is an optional GPS position attached to an asset.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ExportMetadata describes a single exported file as reported by the export tool.
type ExportMetadata struct {
	OriginalFilename string      `json:"original_filename"`
	CreationDate     string      `json:"creation_date"`
	ModificationDate string      `json:"modification_date,omitempty"`
	FileSize         int64       `json:"file_size"`
	IsLivePhoto      bool        `json:"is_live_photo"`
	IsFavorite       bool        `json:"is_favorite,omitempty"`
	MediaType        string      `json:"media_type"`
	Dimensions       Dimensions  `json:"dimensions"`
	Format           string      `json:"format"`
	Duration         *float64    `json:"duration,omitempty"`
	Location         *Location   `json:"location,omitempty"`
	// The tool never exports the video half of a live photo; the field stays null.
	LivePhotoVideoComplement any `json:"live_photo_video_complement"`
}

// ExportResult is the export tool's response for a single export-asset call.
type ExportResult struct {
	Success   bool            `json:"success"`
	FilePath  string          `json:"file_path,omitempty"`
	Metadata  *ExportMetadata `json:"metadata,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode int             `json:"error_code,omitempty"`
}

// Validate checks a successful export record for the required shape.
// Failure records (success=false) are handled by the gateway before validation.
func (e ExportResult) Validate() error {
	if !e.Success {
		return fmt.Errorf("export result not successful")
	}
	if e.FilePath == "" {
		return fmt.Errorf("export result missing file_path")
	}
	if e.Metadata == nil {
		return fmt.Errorf("export result missing metadata")
	}

	m := e.Metadata
	if m.OriginalFilename == "" {
		return fmt.Errorf("export metadata missing original_filename")
	}
	if err := validateCreationDate(m.CreationDate); err != nil {
		return err
	}
	if m.FileSize <= 0 {
		return fmt.Errorf("export metadata has non-positive file_size %d", m.FileSize)
	}
	if m.MediaType != "image" && m.MediaType != "video" {
		return fmt.Errorf("export metadata has invalid media_type %q", m.MediaType)
	}
	if m.Dimensions.Width <= 0 || m.Dimensions.Height <= 0 {
		return fmt.Errorf("export metadata has invalid dimensions %dx%d", m.Dimensions.Width, m.Dimensions.Height)
	}
	if m.Duration != nil && *m.Duration < 0 {
		return fmt.Errorf("export metadata has negative duration")
	}
	if m.LivePhotoVideoComplement != nil {
		return fmt.Errorf("export metadata carries unexpected live_photo_video_complement")
	}
	return nil
}

func validateCreationDate(s string) error {
	if s == "" {
		return fmt.Errorf("missing creation_date")
	}
	if !strings.HasSuffix(s, "Z") {
		return fmt.Errorf("creation_date %q is not UTC", s)
	}
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		return fmt.Errorf("invalid creation_date %q: %w", s, err)
	}
	return nil
}

// TypeFilter selects which asset types a run discovers and processes.
type TypeFilter string

const (
	FilterAll   TypeFilter = "all"
	FilterImage TypeFilter = "image"
	FilterVideo TypeFilter = "video"
)

// ParseTypeFilter validates a CLI-supplied type filter value.
func ParseTypeFilter(s string) (TypeFilter, error) {
	switch TypeFilter(s) {
	case FilterAll, FilterImage, FilterVideo:
		return TypeFilter(s), nil
	default:
		return FilterAll, fmt.Errorf("invalid asset type %q (want image, video, or all)", s)
	}
}
