package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Paths      PathsConfig      `toml:"paths"`
	Upload     UploadConfig     `toml:"upload"`
	Retry      RetryConfig      `toml:"retry"`
	Processing ProcessingConfig `toml:"processing"`
}

// PathsConfig contains filesystem locations used by a sync run.
type PathsConfig struct {
	ToolBinary string `toml:"tool_binary"`
	StateFile  string `toml:"state_file"`
	TempDir    string `toml:"temp_dir"`
}

// UploadConfig contains upload API settings.
type UploadConfig struct {
	APIURL         string  `toml:"api_url"`
	APIKey         string  `toml:"api_key"`
	DeviceID       string  `toml:"device_id"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RateLimit      float64 `toml:"rate_limit"`
}

// RetryConfig contains per-asset retry settings.
type RetryConfig struct {
	MaxRetries  int     `toml:"max_retries"`
	RetryDelays []int64 `toml:"retry_delays"`
}

// ProcessingConfig contains orchestration loop settings.
type ProcessingConfig struct {
	ProgressUpdateInterval int `toml:"progress_update_interval"`
}

// Timeout returns the configured upload timeout as a [time.Duration].
func (u UploadConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// Delays returns the configured backoff delays as [time.Duration] values.
func (r RetryConfig) Delays() []time.Duration {
	delays := make([]time.Duration, len(r.RetryDelays))
	for i, ms := range r.RetryDelays {
		delays[i] = time.Duration(ms) * time.Millisecond
	}
	return delays
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	// Check if file already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	// Write the embedded example config to the file
	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that the settings a run depends on are present.
func (c *Config) Validate() error {
	if c.Paths.ToolBinary == "" {
		return fmt.Errorf("%w: paths.tool_binary is required", ErrInvalidConfig)
	}
	if c.Paths.StateFile == "" {
		return fmt.Errorf("%w: paths.state_file is required", ErrInvalidConfig)
	}
	if c.Upload.APIURL == "" || c.Upload.APIKey == "" {
		return fmt.Errorf("%w: upload.api_url and upload.api_key are required", ErrInvalidConfig)
	}
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("%w: retry.max_retries must be at least 1", ErrInvalidConfig)
	}
	if len(c.Retry.RetryDelays) == 0 {
		return fmt.Errorf("%w: retry.retry_delays must not be empty", ErrInvalidConfig)
	}
	return nil
}
