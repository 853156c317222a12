package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Redis contains connection settings for the broker and idempotency cache.
type Redis struct {
	URI string `toml:"uri"`
}

// Script contains settings for the script generation provider.
type Script struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Voice contains settings for the speech synthesis provider.
type Voice struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	VoiceID        string `toml:"voice_id"`
	ModelID        string `toml:"model_id"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Assembly contains settings for local media assembly.
type Assembly struct {
	FFmpegBinary    string `toml:"ffmpeg_binary"`
	BackgroundImage string `toml:"background_image"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// Publish contains settings for the video platform upload API.
type Publish struct {
	APIKey         string   `toml:"api_key"`
	BaseURL        string   `toml:"base_url"`
	Privacy        string   `toml:"privacy"`
	CategoryID     string   `toml:"category_id"`
	Tags           []string `toml:"tags"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// StageLimits overrides retry and timeout budgets for a single stage.
type StageLimits struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
	MaxAttempts    int `toml:"max_attempts"`
}

// Pipeline contains retry and backoff budgets for stage execution.
type Pipeline struct {
	MaxAttempts        int                    `toml:"max_attempts"`
	TimeoutSeconds     int                    `toml:"timeout_seconds"`
	BackoffBaseSeconds int                    `toml:"backoff_base_seconds"`
	BackoffCapSeconds  int                    `toml:"backoff_cap_seconds"`
	StageOverrides     map[string]StageLimits `toml:"stage_overrides"`
}

// Workflow contains daemon timing and worker pool configuration.
type Workflow struct {
	Concurrency          int    `toml:"concurrency"`
	SweepInterval        int    `toml:"sweep_interval"`
	LeaseTTL             int    `toml:"lease_ttl"`
	HeartbeatInterval    int    `toml:"heartbeat_interval"`
	ErrorRetryInterval   int    `toml:"error_retry_interval"`
	LeaseRetryDelay      int    `toml:"lease_retry_delay"`
	DailyCron            string `toml:"daily_cron"`
	DailyContentEnabled  bool   `toml:"daily_content_enabled"`
	IdempotencyTTLHours  int    `toml:"idempotency_ttl_hours"`
	IdempotencyCacheOn   bool   `toml:"idempotency_cache_enabled"`
	SchedulerGracePeriod int    `toml:"scheduler_grace_period"`
}

// Series describes the recurring content preset used by the daily producer.
type Series struct {
	Title       string `toml:"title"`
	Genre       string `toml:"genre"`
	Description string `toml:"description"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the top-level application configuration.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Redis    Redis    `toml:"redis"`
	Script   Script   `toml:"script"`
	Voice    Voice    `toml:"voice"`
	Assembly Assembly `toml:"assembly"`
	Publish  Publish  `toml:"publish"`
	Pipeline Pipeline `toml:"pipeline"`
	Workflow Workflow `toml:"workflow"`
	Series   Series   `toml:"series"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the expanded default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/dramapipe/config.toml")
}

// Load reads configuration from path (or the default location when path is
// empty), applies defaults, normalizes paths, and validates the result.
// The returned bool reports whether a config file was found.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if strings.TrimSpace(path) != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %q is a directory", expanded)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(defaultPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return defaultPath, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	return defaultPath, true, nil
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.StagingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the location of the SQLite job database.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockFilePath returns the daemon lock file location.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Paths.DataDir, "dramapiped.lock")
}

func expandPath(pathValue string) (string, error) {
	trimmed := strings.TrimSpace(pathValue)
	if trimmed == "" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		if strings.HasPrefix(trimmed, "~/") {
			return filepath.Join(home, trimmed[2:]), nil
		}
		return "", fmt.Errorf("unsupported home-relative path %q", trimmed)
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", trimmed, err)
	}
	return abs, nil
}

// ExpandPath resolves ~ and relative segments in a user-supplied path.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes the embedded sample configuration to path. An existing
// file is refused unless overwrite is set.
func CreateSample(path string, overwrite bool) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		if !overwrite {
			return fmt.Errorf("config file already exists at %s", expanded)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
