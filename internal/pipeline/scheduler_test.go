package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"logsentinel/internal/config"
	"logsentinel/internal/notifications"
	"logsentinel/internal/pipeline"
	"logsentinel/internal/testsupport"
)

func TestRunOnceIsolatesPanickingSource(t *testing.T) {
	h := newHarness(t, chain("periodic"))
	boomLog := filepath.Join(testsupport.BaseDir(h.cfg), "input", "boom.log")
	testsupport.WriteLog(t, boomLog, testsupport.LogLine(t0.Add(-time.Minute), "event"))
	testsupport.WriteLog(t, h.logPath, testsupport.LogLine(t0.Add(-time.Minute), "event"))
	h.cfg.Sources = append([]config.Source{testsupport.NewSource("boom", boomLog, chain("periodic")...)}, h.cfg.Sources...)

	h.controller = h.newController(t, panickingReader{next: h.reader, source: "boom"})
	scheduler := pipeline.NewScheduler(func() (*config.Config, error) { return h.cfg, nil }, h.controller, nil)

	summary, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Sources != 2 || !slices.Equal(summary.Failed, []string{"boom"}) {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if h.notifier.count(notifications.EventSourceFailed) != 1 {
		t.Fatalf("expected source failure notification, got %+v", h.notifier.events)
	}
	entries, err := h.reports.List("fw", "periodic")
	if err != nil || len(entries) != 1 {
		t.Fatalf("healthy source did not run: %v %v", entries, err)
	}
	status := scheduler.Status()
	if status.Ticks != 1 || status.LastError == "" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRunOnceKeepsLastGoodConfig(t *testing.T) {
	h := newHarness(t, chain("periodic"))
	testsupport.WriteLog(t, h.logPath, testsupport.LogLine(t0.Add(-time.Minute), "event"))
	calls := 0
	load := func() (*config.Config, error) {
		calls++
		if calls == 1 {
			return h.cfg, nil
		}
		return nil, errors.New("toml: bad syntax")
	}
	scheduler := pipeline.NewScheduler(load, h.controller, nil)

	if _, err := scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	h.now = t0.Add(2 * time.Hour)
	testsupport.AppendLog(t, h.logPath, testsupport.LogLine(h.now.Add(-time.Minute), "later"))
	summary, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if summary.Sources != 1 || len(h.analyzer.requests()) != 2 {
		t.Fatalf("expected previous config to run again: %+v calls=%d", summary, len(h.analyzer.requests()))
	}
}

func TestRunOnceWithoutConfigFails(t *testing.T) {
	h := newHarness(t, chain("periodic"))
	scheduler := pipeline.NewScheduler(func() (*config.Config, error) {
		return nil, errors.New("missing file")
	}, h.controller, nil)

	if _, err := scheduler.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error when no configuration has ever loaded")
	}
	if got := scheduler.Status().LastError; got == "" {
		t.Fatal("expected last error to be recorded")
	}
}

func TestRunOnceSkipsDisabledSources(t *testing.T) {
	h := newHarness(t, chain("periodic"))
	testsupport.WriteLog(t, h.logPath, testsupport.LogLine(t0.Add(-time.Minute), "event"))
	disabled := false
	h.cfg.Sources[0].Enabled = &disabled
	scheduler := pipeline.NewScheduler(func() (*config.Config, error) { return h.cfg, nil }, h.controller, nil)

	summary, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Sources != 0 || len(h.analyzer.requests()) != 0 {
		t.Fatalf("disabled source ran: %+v", summary)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	h := newHarness(t, chain("periodic"))
	scheduler := pipeline.NewScheduler(func() (*config.Config, error) { return h.cfg, nil }, h.controller, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := scheduler.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}

	deadline := time.Now().Add(5 * time.Second)
	for scheduler.Status().Ticks == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never ticked")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !scheduler.Status().Running {
		t.Fatal("expected running status")
	}

	scheduler.Stop()
	if scheduler.Status().Running {
		t.Fatal("expected stopped status")
	}
	scheduler.Stop()
}

func TestSchedulerRequiresCollaborators(t *testing.T) {
	scheduler := pipeline.NewScheduler(nil, nil, nil)
	if err := scheduler.Start(context.Background()); err == nil {
		t.Fatal("expected error for unconfigured scheduler")
	}
}
