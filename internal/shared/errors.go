package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// External export tool errors
	ErrToolNotFound      = fmt.Errorf("export tool not found")
	ErrToolTimeout       = fmt.Errorf("export tool timed out")
	ErrToolInvalidOutput = fmt.Errorf("export tool produced invalid output")
	ErrToolExecution     = fmt.Errorf("export tool execution failed")
	ErrAssetExportFailed = fmt.Errorf("asset export failed")

	// Upload service errors
	ErrUploadRejected  = fmt.Errorf("upload rejected by server")
	ErrUploadTimeout   = fmt.Errorf("upload timed out")
	ErrUploadTransport = fmt.Errorf("upload transport failure")

	// State store errors
	ErrStoreUnavailable  = fmt.Errorf("state store unavailable")
	ErrInvalidTransition = fmt.Errorf("invalid asset status transition")
	ErrAssetNotFound     = fmt.Errorf("asset not found")

	// Input validation errors
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrInvalidFlag  = fmt.Errorf("invalid flag combination")
)
