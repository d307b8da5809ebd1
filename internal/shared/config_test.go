package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Paths.StateFile != "./state.db" {
			t.Errorf("expected state file ./state.db, got %s", config.Paths.StateFile)
		}

		if config.Retry.MaxRetries != 3 {
			t.Errorf("expected max retries 3, got %d", config.Retry.MaxRetries)
		}

		if config.Upload.APIURL != "http://localhost:2283/api" {
			t.Errorf("expected upload API URL http://localhost:2283/api, got %s", config.Upload.APIURL)
		}

		if config.Upload.DeviceID != "photosync" {
			t.Errorf("expected device id photosync, got %s", config.Upload.DeviceID)
		}

		if config.Processing.ProgressUpdateInterval != 10 {
			t.Errorf("expected progress update interval 10, got %d", config.Processing.ProgressUpdateInterval)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Paths.StateFile != defaultConfig.Paths.StateFile {
			t.Errorf("created config state file doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		content := `[paths]
tool_binary = "/usr/local/bin/photo-export"
state_file = "/var/lib/photosync/state.db"
temp_dir = "/tmp/photosync"

[upload]
api_url = "https://photos.example.com/api"
api_key = "secret"
timeout_seconds = 60
rate_limit = 2.5

[retry]
max_retries = 5
retry_delays = [500, 1500]

[processing]
progress_update_interval = 25
`
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Paths.ToolBinary != "/usr/local/bin/photo-export" {
			t.Errorf("unexpected tool binary: %s", config.Paths.ToolBinary)
		}

		if config.Upload.Timeout() != 60*time.Second {
			t.Errorf("expected 60s upload timeout, got %v", config.Upload.Timeout())
		}

		delays := config.Retry.Delays()
		if len(delays) != 2 || delays[0] != 500*time.Millisecond || delays[1] != 1500*time.Millisecond {
			t.Errorf("unexpected retry delays: %v", delays)
		}
	})

	t.Run("LoadConfig missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
			t.Error("expected error for missing config file")
		}
	})

	t.Run("Validate", func(t *testing.T) {
		tc := []struct {
			name   string
			mutate func(*Config)
		}{
			{"missing tool binary", func(c *Config) { c.Paths.ToolBinary = "" }},
			{"missing state file", func(c *Config) { c.Paths.StateFile = "" }},
			{"missing api key", func(c *Config) { c.Upload.APIKey = "" }},
			{"zero retries", func(c *Config) { c.Retry.MaxRetries = 0 }},
			{"empty delays", func(c *Config) { c.Retry.RetryDelays = nil }},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				config := DefaultConfig()
				tt.mutate(config)

				err := config.Validate()
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
			})
		}

		if err := DefaultConfig().Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})
}
