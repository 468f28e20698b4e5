package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	ReportDir string `toml:"report_dir"`
	LogDir    string `toml:"log_dir"`
	PromptDir string `toml:"prompt_dir"`
}

// Scheduler contains loop timing and map-reduce sizing.
type Scheduler struct {
	CheckIntervalSeconds int  `toml:"check_interval_seconds"`
	MaxWorkers           int  `toml:"max_workers"`
	MaxLogLines          int  `toml:"max_log_lines"`
	ChunkSize            int  `toml:"chunk_size"`
	TestMode             bool `toml:"test_mode"`
}

// LLMProfile is a named API credential.
type LLMProfile struct {
	APIKey string `toml:"api_key"`
}

// LLM contains shared connection settings for the analysis endpoint.
type LLM struct {
	BaseURL             string                `toml:"base_url"`
	Referer             string                `toml:"referer"`
	Title               string                `toml:"title"`
	TimeoutSeconds      int                   `toml:"timeout_seconds"`
	RetryAttempts       int                   `toml:"retry_attempts"`
	RetryBackoffSeconds int                   `toml:"retry_backoff_seconds"`
	RequestsPerMinute   int                   `toml:"requests_per_minute"`
	DefaultProfile      string                `toml:"default_profile"`
	Profiles            map[string]LLMProfile `toml:"profiles"`
}

// SMTPProfile describes one outbound mail account.
type SMTPProfile struct {
	Server         string `toml:"server"`
	Port           int    `toml:"port"`
	SenderEmail    string `toml:"sender_email"`
	SenderPassword string `toml:"sender_password"`
	StartTLS       bool   `toml:"starttls"`
}

// SMTP groups the named mail profiles sources may reference.
type SMTP struct {
	Profiles map[string]SMTPProfile `toml:"profiles"`
}

// Notifications contains ntfy and email delivery toggles.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Email          bool   `toml:"email"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics configures the optional Prometheus listener.
type Metrics struct {
	Listen string `toml:"listen"`
}

// Config encapsulates all configuration values for logsentinel.
//
// Configuration sections by subsystem:
//   - Paths: state, report, log and prompt directories
//   - Scheduler: tick interval, worker pool, line cap and chunk size
//   - LLM: endpoint, retries and credential profiles
//   - SMTP: named mail profiles
//   - Notifications: ntfy topic and email toggle
//   - Logging: log format, level, and retention
//   - Metrics: Prometheus listener address
//   - Sources: one entry per analyzed log file
type Config struct {
	Paths         Paths         `toml:"paths"`
	Scheduler     Scheduler     `toml:"scheduler"`
	LLM           LLM           `toml:"llm"`
	SMTP          SMTP          `toml:"smtp"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
	Sources       []Source      `toml:"sources"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. Unknown keys are rejected.
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
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strings.TrimSpace(strict.String()))
			}
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

// Loader returns a function that reloads path on each call. The scheduler uses
// it so edits apply on the next tick without a restart.
func Loader(path string) func() (*Config, error) {
	return func() (*Config, error) {
		cfg, _, _, err := Load(path)
		return cfg, err
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("logsentinel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.ReportDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StateNamespace returns "test" when test mode is on, "prod" otherwise.
func (c *Config) StateNamespace() string {
	if c.Scheduler.TestMode {
		return "test"
	}
	return "prod"
}

// CheckInterval returns the scheduler sleep between ticks.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Scheduler.CheckIntervalSeconds) * time.Second
}

// FindSource returns the source with the given id.
func (c *Config) FindSource(id string) (*Source, bool) {
	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i], true
		}
	}
	return nil, false
}

// SMTPProfileFor returns the named SMTP profile.
func (c *Config) SMTPProfileFor(name string) (SMTPProfile, bool) {
	profile, ok := c.SMTP.Profiles[strings.TrimSpace(name)]
	return profile, ok
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
