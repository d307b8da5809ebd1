// package uploader implements the HTTP client for the remote photo service.
//
// Uploads stream the exported file as a multipart body together with a flat
// metadata field set. A failed upload leaves nothing to reconcile server-side;
// re-uploading the same asset is the retry strategy.
package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"photosync/internal/models"
	"photosync/internal/shared"
)

// Metadata is the flattened field set sent alongside the file.
type Metadata struct {
	AssetID          string
	Filename         string
	CreationDate     string
	ModificationDate string
	IsFavorite       bool
	Duration         *float64
	Location         *models.Location
}

// MetadataFromExport builds upload metadata from an export tool record.
func MetadataFromExport(assetID string, m *models.ExportMetadata) Metadata {
	modified := m.ModificationDate
	if modified == "" {
		modified = m.CreationDate
	}
	return Metadata{
		AssetID:          assetID,
		Filename:         m.OriginalFilename,
		CreationDate:     m.CreationDate,
		ModificationDate: modified,
		IsFavorite:       m.IsFavorite,
		Duration:         m.Duration,
		Location:         m.Location,
	}
}

// Result describes a completed upload.
type Result struct {
	RemoteID string
	Bytes    int64
	Duration time.Duration
}

// Client uploads exported files to the remote service.
type Client struct {
	baseURL    string
	apiKey     string
	deviceID   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Opts contains configuration options for creating a Client.
type Opts struct {
	BaseURL    string
	APIKey     string
	DeviceID   string
	Timeout    time.Duration
	RateLimit  float64 // uploads per second, 0 disables limiting
	HTTPClient *http.Client
}

// New creates an upload client for the service at opts.BaseURL.
func New(opts Opts) *Client {
	if opts.DeviceID == "" {
		opts.DeviceID = "photosync"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		deviceID:   opts.DeviceID,
		httpClient: opts.HTTPClient,
		limiter:    limiter,
	}
}

// Ping verifies the service is reachable and the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api-keys", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", shared.ErrUploadRejected, resp.StatusCode, string(body))
	}
	return nil
}

// Upload streams the file at filePath with its metadata and returns the
// remote-assigned identifier plus transfer metrics.
func (c *Client) Upload(ctx context.Context, filePath string, meta Metadata) (*Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrUploadTransport, err)
		}
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat upload file: %w", err)
	}
	fileSize := info.Size()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(form, filePath, c.deviceID, meta))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/assets", pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", shared.ErrUploadTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Body captured verbatim for diagnostics.
		return nil, fmt.Errorf("%w: status %d: %s", shared.ErrUploadRejected, resp.StatusCode, string(body))
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.ID == "" {
		return nil, fmt.Errorf("%w: response missing id: %s", shared.ErrUploadRejected, string(body))
	}

	return &Result{
		RemoteID: payload.ID,
		Bytes:    fileSize,
		Duration: time.Since(start),
	}, nil
}

// writeForm writes the multipart body: metadata fields first, file part last.
func writeForm(form *multipart.Writer, filePath, deviceID string, meta Metadata) error {
	fields := map[string]string{
		"deviceAssetId":  meta.AssetID,
		"deviceId":       deviceID,
		"filename":       meta.Filename,
		"fileCreatedAt":  meta.CreationDate,
		"fileModifiedAt": meta.ModificationDate,
		"isFavorite":     strconv.FormatBool(meta.IsFavorite),
	}
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return err
		}
	}

	if meta.Duration != nil {
		if err := form.WriteField("duration", strconv.FormatFloat(*meta.Duration, 'f', -1, 64)); err != nil {
			return err
		}
	}
	if meta.Location != nil {
		if err := form.WriteField("latitude", strconv.FormatFloat(meta.Location.Latitude, 'f', -1, 64)); err != nil {
			return err
		}
		if err := form.WriteField("longitude", strconv.FormatFloat(meta.Location.Longitude, 'f', -1, 64)); err != nil {
			return err
		}
	}

	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := form.CreateFormFile("assetData", filepath.Base(filePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}

	return form.Close()
}

// transportError distinguishes deadline expiry from connection-level failure.
func (c *Client) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", shared.ErrUploadTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", shared.ErrUploadTimeout, err)
	}
	return fmt.Errorf("%w: %v", shared.ErrUploadTransport, err)
}
