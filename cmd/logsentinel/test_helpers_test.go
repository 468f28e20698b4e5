package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"logsentinel/internal/checkpoint"
	"logsentinel/internal/config"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	stateDir   string
	reportDir  string
	logFile    string
}

type envOption func(*envSettings)

type envSettings struct {
	testMode      bool
	sourceEnabled bool
	ntfyTopic     string
}

func withProductionState() envOption {
	return func(s *envSettings) { s.testMode = false }
}

func withDisabledSource() envOption {
	return func(s *envSettings) { s.sourceEnabled = false }
}

func withNtfyTopic(topic string) envOption {
	return func(s *envSettings) { s.ntfyTopic = topic }
}

func setupCLITestEnv(t *testing.T, opts ...envOption) *cliTestEnv {
	t.Helper()
	t.Setenv("LOGSENTINEL_API_KEY", "")

	settings := envSettings{testMode: true, sourceEnabled: true}
	for _, opt := range opts {
		opt(&settings)
	}

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "logsentinel.toml"),
		stateDir:   filepath.Join(base, "state"),
		reportDir:  filepath.Join(base, "reports"),
		logFile:    filepath.Join(base, "fw01.log"),
	}
	promptDir := filepath.Join(base, "prompts")
	if err := os.MkdirAll(promptDir, 0o755); err != nil {
		t.Fatalf("mkdir prompts: %v", err)
	}
	if err := os.WriteFile(filepath.Join(promptDir, "periodic.txt"), []byte("Analyze {{LOG_DATA}}"), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	if err := os.WriteFile(filepath.Join(promptDir, "daily.txt"), []byte("Summarize {{LOG_DATA}}"), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	if err := os.WriteFile(env.logFile, nil, 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var b strings.Builder
	b.WriteString("[paths]\n")
	b.WriteString("state_dir = \"" + env.stateDir + "\"\n")
	b.WriteString("report_dir = \"" + env.reportDir + "\"\n")
	b.WriteString("log_dir = \"" + filepath.Join(base, "logs") + "\"\n")
	b.WriteString("prompt_dir = \"" + promptDir + "\"\n\n")
	b.WriteString("[scheduler]\n")
	if settings.testMode {
		b.WriteString("test_mode = true\n")
	}
	b.WriteString("\n[llm.profiles.team]\napi_key = \"sk-test\"\n\n")
	if settings.ntfyTopic != "" {
		b.WriteString("[notifications]\nntfy_topic = \"" + settings.ntfyTopic + "\"\n\n")
	}
	b.WriteString("[[sources]]\n")
	b.WriteString("id = \"fw01\"\n")
	b.WriteString("display_name = \"Edge Firewall\"\n")
	b.WriteString("log_file = \"" + env.logFile + "\"\n")
	b.WriteString("credential = \"profile:team\"\n")
	if !settings.sourceEnabled {
		b.WriteString("enabled = false\n")
	}
	b.WriteString(`pipeline_stages = '[{"name": "Periodic", "model": "m0", "prompt_file": "periodic.txt"}, {"name": "Daily", "model": "m1", "prompt_file": "daily.txt", "trigger_threshold": 3}]'` + "\n")

	if err := os.WriteFile(env.configPath, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

// loadConfig reads the env's config the same way the CLI does.
func (e *cliTestEnv) loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, _, _, err := config.Load(e.configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return cfg
}

func (e *cliTestEnv) checkpoints(t *testing.T) *checkpoint.Store {
	t.Helper()
	cfg := e.loadConfig(t)
	store, err := checkpoint.New(cfg.Paths.StateDir, cfg.StateNamespace(), nil)
	if err != nil {
		t.Fatalf("checkpoint.New: %v", err)
	}
	return store
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
