package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"logsentinel/internal/analysis"
	"logsentinel/internal/checkpoint"
	"logsentinel/internal/config"
	"logsentinel/internal/daemon"
	"logsentinel/internal/history"
	"logsentinel/internal/logcursor"
	"logsentinel/internal/pipeline"
	"logsentinel/internal/report"
	"logsentinel/internal/testsupport"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	checkpoints, err := checkpoint.New(cfg.Paths.StateDir, cfg.StateNamespace(), nil)
	if err != nil {
		t.Fatalf("checkpoint.New: %v", err)
	}
	controller, err := pipeline.NewController(cfg, pipeline.Dependencies{
		Checkpoints: checkpoints,
		Reader:      logcursor.NewReader(checkpoints, nil),
		Reports:     report.NewStore(cfg.Paths.ReportDir, nil),
		Analyzer: analysis.Func(func(context.Context, analysis.Request) (string, error) {
			return "## Findings\nnone", nil
		}),
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	hist, err := history.Open(filepath.Join(cfg.Paths.StateDir, history.FileName))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	scheduler := pipeline.NewScheduler(func() (*config.Config, error) { return cfg, nil }, controller, nil)
	d, err := daemon.New(cfg, scheduler, hist, nil, filepath.Join(cfg.Paths.LogDir, "logsentinel.log"))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status()
	if !status.Running || status.LockFilePath != filepath.Join(cfg.Paths.StateDir, daemon.LockFileName) {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.HistoryPath == "" {
		t.Fatal("expected history path in status")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}
	if running, err := daemon.IsRunning(cfg); err != nil || !running {
		t.Fatalf("expected lock to be held: %v %v", running, err)
	}
	if _, err := d.RunOnce(ctx); err == nil {
		t.Fatal("expected RunOnce to refuse while daemon runs")
	}

	d.Stop()
	time.Sleep(50 * time.Millisecond)
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
	if running, err := daemon.IsRunning(cfg); err != nil || running {
		t.Fatalf("expected lock to be released: %v %v", running, err)
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg)
	second := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := second.Start(ctx); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if _, err := second.RunOnce(ctx); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning from RunOnce, got %v", err)
	}
}

func TestRunOnceProcessesSources(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	logPath := filepath.Join(testsupport.BaseDir(cfg), "fw.log")
	testsupport.WriteLog(t, logPath, testsupport.LogLine(time.Now().Add(-time.Minute), "event"))
	cfg.Sources = append(cfg.Sources, testsupport.NewSource("fw", logPath, testsupport.Stage("periodic", "m", 0)))
	d := newDaemon(t, cfg)

	summary, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Sources != 1 || len(summary.Failed) != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	entries, err := report.NewStore(cfg.Paths.ReportDir, nil).List("fw", "periodic")
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one report, got %v %v", entries, err)
	}
	if running, _ := daemon.IsRunning(cfg); running {
		t.Fatal("RunOnce must release the lock")
	}
}

func TestTestNotification(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	sent, detail, err := d.TestNotification(context.Background())
	if sent || err != nil || detail != "ntfy topic not configured" {
		t.Fatalf("unexpected result %v %q %v", sent, detail, err)
	}

	cfg.Notifications.NtfyTopic = srv.URL
	sent, _, err = d.TestNotification(context.Background())
	if !sent || err != nil || hits != 1 {
		t.Fatalf("expected notification delivered: %v %v hits=%d", sent, err, hits)
	}
}
