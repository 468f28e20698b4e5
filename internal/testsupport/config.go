package testsupport

import (
	"path/filepath"
	"testing"
	"time"

	"logsentinel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.ReportDir = filepath.Join(base, "reports")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.PromptDir = filepath.Join(base, "prompts")
	cfgVal.Scheduler.TestMode = true
	cfgVal.Scheduler.CheckIntervalSeconds = 1
	cfgVal.Notifications.Email = false
	cfgVal.LLM.DefaultProfile = "default"
	cfgVal.LLM.Profiles = map[string]config.LLMProfile{"default": {APIKey: "test-key"}}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithChunkSize overrides scheduler.chunk_size.
func WithChunkSize(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.ChunkSize = n
	}
}

// WithMaxLogLines overrides scheduler.max_log_lines.
func WithMaxLogLines(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.MaxLogLines = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// NewSource returns an enabled source reading logFile with the given stages
// already decoded, in UTC.
func NewSource(id, logFile string, stages ...config.StageConfig) config.Source {
	return config.Source{
		ID:                 id,
		Hostname:           id,
		LogFile:            logFile,
		LookbackHours:      24,
		Timezone:           "UTC",
		RunIntervalSeconds: 3600,
		Stages:             stages,
		Location:           time.UTC,
	}
}

// Stage returns an enabled stage config.
func Stage(name, model string, threshold int) config.StageConfig {
	return config.StageConfig{
		Name:             name,
		Model:            model,
		TriggerThreshold: threshold,
	}
}
