package daemonrun

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"logsentinel/internal/logging"
	"logsentinel/internal/testsupport"
)

func TestBuildWiresStores(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	rt, err := Build(cfg, nil, nil, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer rt.Close()

	if rt.History == nil {
		t.Fatal("expected history store")
	}
	wantDir := filepath.Join(cfg.Paths.StateDir, "test")
	if filepath.Dir(rt.History.Path()) != wantDir || filepath.Dir(rt.Usage.Path()) != wantDir {
		t.Fatalf("stores outside namespace dir: %s %s", rt.History.Path(), rt.Usage.Path())
	}
	if rt.Checkpoints.Dir() != wantDir {
		t.Fatalf("unexpected checkpoint dir %s", rt.Checkpoints.Dir())
	}
}

func TestOnceWithoutSources(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	summary, err := Once(context.Background(), cfg, Options{}, nil)
	if err != nil {
		t.Fatalf("Once: %v", err)
	}
	if summary.Sources != 0 || len(summary.Failed) != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestCheckPreflightBlocksOnMissingDirectories(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := checkPreflight(context.Background(), testLogger(), cfg); err == nil {
		t.Fatal("expected missing directories to block")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	if err := checkPreflight(context.Background(), testLogger(), cfg); err != nil {
		t.Fatalf("unexpected preflight error: %v", err)
	}
}

func TestEnsureCurrentLogPointer(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "logsentinel-1.log")
	second := filepath.Join(dir, "logsentinel-2.log")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte(p), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "logsentinel.log"))
	if err != nil || string(data) != second {
		t.Fatalf("pointer resolves to %q (%v)", data, err)
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logsentinel.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || strings.TrimSpace(string(data)) == "" {
		t.Fatalf("unexpected pid file %q (%v)", data, err)
	}
}

func testLogger() *slog.Logger {
	return logging.NewNop()
}
