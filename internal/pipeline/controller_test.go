package pipeline_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"logsentinel/internal/analysis"
	"logsentinel/internal/config"
	"logsentinel/internal/history"
	"logsentinel/internal/mapreduce"
	"logsentinel/internal/notifications"
	"logsentinel/internal/report"
	"logsentinel/internal/services"
	"logsentinel/internal/testsupport"
)

func TestStageZeroPersistsReportThenAdvancesCheckpoint(t *testing.T) {
	h := newHarness(t, chain("periodic", "daily"))
	testsupport.WriteLog(t, h.logPath,
		testsupport.LogLine(t0.Add(-30*time.Minute), "event 1"),
		testsupport.LogLine(t0.Add(-20*time.Minute), "event 2"),
		testsupport.LogLine(t0.Add(-10*time.Minute), "event 3"),
	)

	h.mustRun(t)

	calls := h.analyzer.requests()
	if len(calls) != 1 || calls[0].Worker != mapreduce.MainWorker {
		t.Fatalf("expected one main worker call, got %+v", calls)
	}
	if !strings.Contains(calls[0].Content, "event 1") || !strings.Contains(calls[0].Content, "event 3") {
		t.Fatalf("unexpected content %q", calls[0].Content)
	}

	entries := h.listReports(t, "periodic")
	if len(entries) != 1 {
		t.Fatalf("expected 1 report, got %d", len(entries))
	}
	rep := h.loadReport(t, entries[0].Path)
	if rep.RawLogCount == nil || *rep.RawLogCount != 3 {
		t.Fatalf("unexpected raw_log_count %v", rep.RawLogCount)
	}
	if rep.SummaryStats["critical"] != float64(1) || rep.AnalysisMarkdown != "## Findings\nok" {
		t.Fatalf("unexpected report body %+v", rep)
	}
	if rep.AnalysisEndTime != report.FormatTime(t0) || rep.Hostname != "fw" || rep.ReportType != "periodic" {
		t.Fatalf("unexpected report header %+v", rep)
	}

	if last, ok := h.checkpoints.LastRun("fw"); !ok || !last.Equal(t0.Add(-10*time.Minute)) {
		t.Fatalf("expected checkpoint at last line, got %v %v", last, ok)
	}
	if cycle, ok := h.checkpoints.LastCycle("fw"); !ok || !cycle.Equal(t0) {
		t.Fatalf("expected cycle at now, got %v %v", cycle, ok)
	}
	if got := h.buffer(1); got != 1 {
		t.Fatalf("expected buffer[1]=1, got %d", got)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Paths.ReportDir, "fw", report.WorkersDir)); !os.IsNotExist(err) {
		t.Fatalf("single task must not write worker reports: %v", err)
	}
	if got := h.history.statuses(); !slices.Equal(got, []history.Status{history.StatusSucceeded}) {
		t.Fatalf("unexpected history %v", got)
	}
}

func TestStageZeroRespectsRunInterval(t *testing.T) {
	h := newHarness(t, chain("periodic", "daily"))
	testsupport.WriteLog(t, h.logPath, testsupport.LogLine(t0.Add(-time.Minute), "event 1"))
	h.mustRun(t)

	h.now = t0.Add(59 * time.Minute)
	h.mustRun(t)
	if got := len(h.analyzer.requests()); got != 1 {
		t.Fatalf("stage fired before interval elapsed: %d calls", got)
	}

	h.now = t0.Add(time.Hour)
	h.mustRun(t)
	if got := len(h.analyzer.requests()); got != 1 {
		t.Fatalf("quiet log must not call the analyzer: %d calls", got)
	}
	if cycle, _ := h.checkpoints.LastCycle("fw"); !cycle.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected cycle to advance on quiet run, got %v", cycle)
	}
	if got := h.buffer(1); got != 1 {
		t.Fatalf("quiet run must not increment buffer, got %d", got)
	}
}

func TestQuietFirstRunAdvancesWithoutReport(t *testing.T) {
	h := newHarness(t, chain("periodic", "daily"))

	h.mustRun(t)

	if got := len(h.analyzer.requests()); got != 0 {
		t.Fatalf("expected no analyzer calls, got %d", got)
	}
	if got := len(h.listReports(t, "periodic")); got != 0 {
		t.Fatalf("expected no reports, got %d", got)
	}
	if last, ok := h.checkpoints.LastRun("fw"); !ok || !last.Equal(t0) {
		t.Fatalf("expected checkpoint at window end, got %v %v", last, ok)
	}
	if cycle, ok := h.checkpoints.LastCycle("fw"); !ok || !cycle.Equal(t0) {
		t.Fatalf("expected cycle recorded, got %v %v", cycle, ok)
	}
	if _, ok := h.checkpoints.Buffer("fw", 1); ok {
		t.Fatal("buffer must stay unset")
	}
	if got := h.history.statuses(); !slices.Equal(got, []history.Status{history.StatusEmpty}) {
		t.Fatalf("unexpected history %v", got)
	}
}

func TestStageFailureLeavesCheckpointsUntouched(t *testing.T) {
	h := newHarness(t, chain("periodic", "daily"))
	testsupport.WriteLog(t, h.logPath, testsupport.LogLine(t0.Add(-time.Minute), "event 1"))
	h.analyzer.respond = func(analysis.Request) (string, error) {
		return "", analysis.Fatal(services.ErrConfiguration, errors.New("401 invalid key"))
	}

	err := h.run(t)
	if err == nil || !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration failure, got %v", err)
	}
	if _, ok := h.checkpoints.LastRun("fw"); ok {
		t.Fatal("checkpoint advanced on failure")
	}
	if _, ok := h.checkpoints.LastCycle("fw"); ok {
		t.Fatal("cycle advanced on failure")
	}
	if got := len(h.listReports(t, "periodic")); got != 0 {
		t.Fatalf("expected no reports, got %d", got)
	}
	if h.notifier.count(notifications.EventStageFailed) != 1 {
		t.Fatalf("expected stage failure notification, got %+v", h.notifier.events)
	}
	if got := h.history.statuses(); !slices.Equal(got, []history.Status{history.StatusFailed}) {
		t.Fatalf("unexpected history %v", got)
	}

	h.analyzer.respond = nil
	h.mustRun(t)
	entries := h.listReports(t, "periodic")
	if len(entries) != 1 {
		t.Fatalf("expected retry on next tick to persist a report, got %d", len(entries))
	}
	if !strings.Contains(h.analyzer.requests()[1].Content, "event 1") {
		t.Fatal("retry must re-read the same lines")
	}
}

func TestStageZeroSaveFailureLeavesCheckpointsAbsent(t *testing.T) {
	h := newHarness(t, chain("periodic", "daily"))
	testsupport.WriteLog(t, h.logPath, testsupport.LogLine(t0.Add(-time.Minute), "event 1"))
	h.failSaves(t, "periodic")

	if err := h.run(t); !errors.Is(err, errBoom) {
		t.Fatalf("expected save failure, got %v", err)
	}
	if _, ok := h.checkpoints.LastRun("fw"); ok {
		t.Fatal("checkpoint advanced after failed save")
	}
	if _, ok := h.checkpoints.LastCycle("fw"); ok {
		t.Fatal("cycle advanced after failed save")
	}
	if _, ok := h.checkpoints.Buffer("fw", 1); ok {
		t.Fatal("buffer[1] set after failed save")
	}
}

func TestStageZeroSaveFailureKeepsPreviousCheckpoints(t *testing.T) {
	h := newHarness(t, chain("periodic", "daily"))
	testsupport.WriteLog(t, h.logPath, testsupport.LogLine(t0.Add(-time.Minute), "event 1"))
	h.mustRun(t)
	lastRun, _ := h.checkpoints.LastRun("fw")
	lastCycle, _ := h.checkpoints.LastCycle("fw")

	h.now = t0.Add(time.Hour)
	testsupport.AppendLog(t, h.logPath, testsupport.LogLine(h.now.Add(-time.Minute), "event 2"))
	h.failSaves(t, "periodic")
	if err := h.run(t); !errors.Is(err, errBoom) {
		t.Fatalf("expected save failure, got %v", err)
	}

	if got, _ := h.checkpoints.LastRun("fw"); !got.Equal(lastRun) {
		t.Fatalf("checkpoint moved to %v, want %v", got, lastRun)
	}
	if got, _ := h.checkpoints.LastCycle("fw"); !got.Equal(lastCycle) {
		t.Fatalf("cycle moved to %v, want %v", got, lastCycle)
	}
	if got := h.buffer(1); got != 1 {
		t.Fatalf("buffer[1] = %d, want 1", got)
	}
}

func TestChainStageSaveFailureKeepsBuffers(t *testing.T) {
	h := newHarness(t, chain("periodic", "daily", "weekly"))
	ctx := t.Context()
	for i := range 3 {
		h.now = t0.Add(time.Duration(i) * time.Minute)
		if _, err := h.reports.Save(ctx, "fw", "periodic", time.UTC, report.Report{
			Hostname:          "fw",
			AnalysisStartTime: report.FormatTime(h.now.Add(-time.Minute)),
			AnalysisEndTime:   report.FormatTime(h.now),
			AnalysisMarkdown:  "report",
			ReportType:        "periodic",
		}); err != nil {
			t.Fatalf("seed report: %v", err)
		}
	}
	if err := h.checkpoints.SetBuffer(ctx, "fw", 1, 3); err != nil {
		t.Fatalf("SetBuffer: %v", err)
	}
	if err := h.checkpoints.SetLastCycle(ctx, "fw", h.now); err != nil {
		t.Fatalf("SetLastCycle: %v", err)
	}
	h.failSaves(t, "daily")

	if err := h.run(t); !errors.Is(err, errBoom) {
		t.Fatalf("expected save failure, got %v", err)
	}
	if got := len(h.analyzer.callsFor("daily")); got != 1 {
		t.Fatalf("expected one chain call, got %d", got)
	}
	if got := h.buffer(1); got != 3 {
		t.Fatalf("buffer[1] changed on failure: %d", got)
	}
	if _, ok := h.checkpoints.Buffer("fw", 2); ok {
		t.Fatal("buffer[2] set after failed save")
	}
	if got := len(h.listReports(t, "daily")); got != 0 {
		t.Fatalf("expected no daily reports, got %d", got)
	}
}

func TestThresholdTriggersChainStage(t *testing.T) {
	stages := chain("periodic", "daily", "weekly")
	stages[2].TriggerThreshold = 2
	h := newHarness(t, stages)
	h.analyzer.respond = func(req analysis.Request) (string, error) {
		if req.Worker == "daily" {
			return "daily digest", nil
		}
		return "```json\n{\"critical\": 1}\n```\n## Findings\nok", nil
	}

	for k := range 3 {
		h.now = t0.Add(time.Duration(k) * time.Hour)
		testsupport.AppendLog(t, h.logPath, testsupport.LogLine(h.now.Add(-5*time.Minute), "event"))
		h.mustRun(t)
		if k < 2 && len(h.analyzer.callsFor("daily")) != 0 {
			t.Fatalf("chain stage fired early at run %d", k+1)
		}
	}

	daily := h.analyzer.callsFor("daily")
	if len(daily) != 1 {
		t.Fatalf("expected chain stage to fire once, got %d", len(daily))
	}
	if got := strings.Count(daily[0].Content, "--- REPORT FROM "); got != 3 {
		t.Fatalf("expected 3 report headers, got %d in %q", got, daily[0].Content)
	}

	periodic := h.listReports(t, "periodic")
	summaries := h.listReports(t, "daily")
	if len(periodic) != 3 || len(summaries) != 1 {
		t.Fatalf("unexpected report counts periodic=%d daily=%d", len(periodic), len(summaries))
	}
	rep := h.loadReport(t, summaries[0].Path)
	want := []string{periodic[0].Path, periodic[1].Path, periodic[2].Path}
	if !slices.Equal(rep.SummarizedFiles, want) {
		t.Fatalf("summarized_files = %v, want %v", rep.SummarizedFiles, want)
	}
	if rep.AnalysisStartTime != report.FormatTime(t0.Add(-24*time.Hour)) || rep.AnalysisEndTime != report.FormatTime(t0.Add(2*time.Hour)) {
		t.Fatalf("unexpected summary window %s - %s", rep.AnalysisStartTime, rep.AnalysisEndTime)
	}
	if rep.RawLogCount != nil || rep.AnalysisMarkdown != "daily digest" || len(rep.SummaryStats) != 0 {
		t.Fatalf("unexpected summary report %+v", rep)
	}
	if got := h.buffer(1); got != 0 {
		t.Fatalf("expected buffer[1] reset, got %d", got)
	}
	if got := h.buffer(2); got != 1 {
		t.Fatalf("expected buffer[2]=1, got %d", got)
	}
}

func TestChainStageTakesOldestOfUnconsumed(t *testing.T) {
	h := newHarness(t, chain("periodic", "daily"))
	ctx := t.Context()

	var paths []string
	for i := range 5 {
		h.now = t0.Add(time.Duration(i) * time.Minute)
		path, err := h.reports.Save(ctx, "fw", "periodic", time.UTC, report.Report{
			Hostname:          "fw",
			AnalysisStartTime: report.FormatTime(h.now.Add(-time.Minute)),
			AnalysisEndTime:   report.FormatTime(h.now),
			AnalysisMarkdown:  "report " + string(rune('A'+i)),
			ReportType:        "periodic",
		})
		if err != nil {
			t.Fatalf("seed report: %v", err)
		}
		paths = append(paths, path)
	}
	if err := h.checkpoints.SetBuffer(ctx, "fw", 1, 4); err != nil {
		t.Fatalf("SetBuffer: %v", err)
	}
	if err := h.checkpoints.SetLastCycle(ctx, "fw", h.now); err != nil {
		t.Fatalf("SetLastCycle: %v", err)
	}

	h.mustRun(t)

	daily := h.analyzer.callsFor("daily")
	if len(daily) != 1 {
		t.Fatalf("expected one chain call, got %d", len(daily))
	}
	for _, want := range []string{"report B", "report C", "report D"} {
		if !strings.Contains(daily[0].Content, want) {
			t.Fatalf("content missing %q: %q", want, daily[0].Content)
		}
	}
	if strings.Contains(daily[0].Content, "report A") || strings.Contains(daily[0].Content, "report E") {
		t.Fatalf("content includes consumed or newest report: %q", daily[0].Content)
	}
	rep := h.loadReport(t, h.listReports(t, "daily")[0].Path)
	if !slices.Equal(rep.SummarizedFiles, paths[1:4]) {
		t.Fatalf("summarized_files = %v, want %v", rep.SummarizedFiles, paths[1:4])
	}
	if got := h.buffer(1); got != 1 {
		t.Fatalf("expected report E to stay queued, got buffer %d", got)
	}
}

func TestChainStageFailureKeepsBuffer(t *testing.T) {
	h := newHarness(t, chain("periodic", "daily"))
	ctx := t.Context()
	if err := h.checkpoints.SetBuffer(ctx, "fw", 1, 3); err != nil {
		t.Fatalf("SetBuffer: %v", err)
	}
	if err := h.checkpoints.SetLastCycle(ctx, "fw", t0); err != nil {
		t.Fatalf("SetLastCycle: %v", err)
	}

	err := h.run(t)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected missing input failure, got %v", err)
	}
	if got := h.buffer(1); got != 3 {
		t.Fatalf("buffer changed on failure: %d", got)
	}
}

func TestDisabledStageAndSourceAreSkipped(t *testing.T) {
	stages := chain("periodic", "daily")
	disabled := false
	stages[1].Enabled = &disabled
	h := newHarness(t, stages)
	testsupport.WriteLog(t, h.logPath, testsupport.LogLine(t0.Add(-time.Minute), "event 1"))

	h.mustRun(t)
	if _, ok := h.checkpoints.Buffer("fw", 1); ok {
		t.Fatal("disabled stage buffer must not be incremented")
	}

	h.src.Enabled = &disabled
	h.now = t0.Add(2 * time.Hour)
	h.mustRun(t)
	if got := len(h.analyzer.requests()); got != 1 {
		t.Fatalf("disabled source ran: %d calls", got)
	}
}

func TestOversizedBatchUsesMapReduce(t *testing.T) {
	h := newHarness(t, chain("periodic"), testsupport.WithChunkSize(2))
	testsupport.SequentialLog(t, h.logPath, t0.Add(-time.Hour), 5)
	h.analyzer.respond = func(req analysis.Request) (string, error) {
		if req.Worker == "reduce" {
			return "```json\n{\"total\": 5}\n```\nmerged", nil
		}
		return "```json\n{\"n\": 1}\n```\nchunk " + req.Worker, nil
	}

	h.mustRun(t)

	reduce := h.analyzer.callsFor("reduce")
	if len(reduce) != 1 {
		t.Fatalf("expected one reduce call, got %d", len(reduce))
	}
	for _, name := range []string{"main [1/3]", "main [2/3]", "main [3/3]"} {
		if len(h.analyzer.callsFor(name)) != 1 {
			t.Fatalf("missing map task %s", name)
		}
		if !strings.Contains(reduce[0].Content, "### Worker: "+name) {
			t.Fatalf("reduce input missing %s: %q", name, reduce[0].Content)
		}
	}

	rep := h.loadReport(t, h.listReports(t, "periodic")[0].Path)
	if rep.AnalysisMarkdown != "merged" || rep.SummaryStats["total"] != float64(5) {
		t.Fatalf("unexpected merged report %+v", rep)
	}
	if len(rep.WorkerReports) != 3 {
		t.Fatalf("expected 3 worker reports, got %v", rep.WorkerReports)
	}
	for _, path := range rep.WorkerReports {
		worker := h.loadReport(t, path)
		if worker.Worker == "" || !strings.Contains(path, report.WorkersDir) {
			t.Fatalf("unexpected worker report %s: %+v", path, worker)
		}
	}
}

func TestLineCapDefersRemainder(t *testing.T) {
	h := newHarness(t, chain("periodic"), testsupport.WithMaxLogLines(3))
	lines := testsupport.SequentialLog(t, h.logPath, t0.Add(-time.Hour), 5)

	h.mustRun(t)
	first := h.analyzer.requests()[0].Content
	if !strings.Contains(first, lines[2]) || strings.Contains(first, lines[3]) {
		t.Fatalf("unexpected first batch %q", first)
	}
	if !strings.Contains(first, "WARNING") {
		t.Fatalf("expected cap warning in batch %q", first)
	}

	h.now = t0.Add(time.Hour)
	h.mustRun(t)
	second := h.analyzer.requests()[1].Content
	if strings.Contains(second, lines[0]) || !strings.Contains(second, lines[3]) || !strings.Contains(second, lines[4]) {
		t.Fatalf("unexpected second batch %q", second)
	}
}

func TestPartialWorkerFailureIsReported(t *testing.T) {
	h := newHarness(t, chain("periodic"), testsupport.WithChunkSize(2))
	testsupport.SequentialLog(t, h.logPath, t0.Add(-time.Hour), 4)
	h.analyzer.respond = func(req analysis.Request) (string, error) {
		switch req.Worker {
		case "main [2/2]":
			return "", analysis.Transient(errBoom)
		case "reduce":
			return "merged", nil
		}
		return "chunk", nil
	}

	h.mustRun(t)

	rep := h.loadReport(t, h.listReports(t, "periodic")[0].Path)
	if !slices.Equal(rep.FailedWorkers, []string{"main [2/2]"}) {
		t.Fatalf("unexpected failed_workers %v", rep.FailedWorkers)
	}
	reduce := h.analyzer.callsFor("reduce")
	if len(reduce) != 1 || !strings.Contains(reduce[0].Content, "> NOTE: 1 worker(s) failed") {
		t.Fatalf("reduce input missing failure note: %+v", reduce)
	}
	if h.notifier.count(notifications.EventWorkersFailed) != 1 {
		t.Fatal("expected partial failure notification")
	}
	if _, ok := h.checkpoints.LastRun("fw"); !ok {
		t.Fatal("partial failure must still advance the checkpoint")
	}
}

func TestAllWorkersFailingAbortsStage(t *testing.T) {
	h := newHarness(t, chain("periodic", "daily"), testsupport.WithChunkSize(2))
	testsupport.SequentialLog(t, h.logPath, t0.Add(-time.Hour), 4)
	h.analyzer.respond = func(analysis.Request) (string, error) {
		return "", analysis.Transient(errBoom)
	}

	err := h.run(t)
	if !errors.Is(err, mapreduce.ErrAllWorkersFailed) {
		t.Fatalf("expected ErrAllWorkersFailed, got %v", err)
	}
	if len(h.analyzer.callsFor("reduce")) != 0 {
		t.Fatal("reduce must not run when every worker failed")
	}
	if _, ok := h.checkpoints.LastRun("fw"); ok {
		t.Fatal("checkpoint advanced")
	}
	if h.buffer(1) != 0 {
		t.Fatal("buffer incremented")
	}
}

func TestReportEmailedToStageRecipients(t *testing.T) {
	h := newHarness(t, chain("periodic"))
	h.cfg.Notifications.Email = true
	h.cfg.SMTP.Profiles = map[string]config.SMTPProfile{
		"ops": {Server: "smtp.example.com", Port: 587, SenderEmail: "sentinel@example.com"},
	}
	h.src.SMTPProfile = "ops"
	h.src.Stages[0].Recipients = []string{"soc@example.com"}
	testsupport.WriteLog(t, h.logPath, testsupport.LogLine(t0.Add(-time.Minute), "event 1"))

	h.mustRun(t)

	if len(h.mailer.messages) != 1 {
		t.Fatalf("expected one email, got %d", len(h.mailer.messages))
	}
	msg := h.mailer.messages[0]
	if msg.From != "sentinel@example.com" || !slices.Equal(msg.To, []string{"soc@example.com"}) {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	if !strings.Contains(msg.Subject, "fw") || !strings.Contains(msg.HTML, "<h2>Findings</h2>") {
		t.Fatalf("unexpected email content subject=%q html=%q", msg.Subject, msg.HTML)
	}
	if h.mailer.profiles[0].Server != "smtp.example.com" {
		t.Fatalf("unexpected profile %+v", h.mailer.profiles[0])
	}
}

func TestEmailFailureDoesNotFailStage(t *testing.T) {
	h := newHarness(t, chain("periodic"))
	h.cfg.Notifications.Email = true
	h.cfg.SMTP.Profiles = map[string]config.SMTPProfile{"ops": {Server: "smtp.example.com", Port: 587}}
	h.src.SMTPProfile = "ops"
	h.src.Stages[0].Recipients = []string{"soc@example.com"}
	h.mailer.err = errBoom
	h.history.err = errBoom
	testsupport.WriteLog(t, h.logPath, testsupport.LogLine(t0.Add(-time.Minute), "event 1"))

	h.mustRun(t)
	if _, ok := h.checkpoints.LastRun("fw"); !ok {
		t.Fatal("checkpoint must advance despite observer failures")
	}
}

func TestAttachedContextFilesReachAnalyzerAndEmail(t *testing.T) {
	h := newHarness(t, chain("periodic"))
	contextPath := filepath.Join(testsupport.BaseDir(h.cfg), "context", "network.txt")
	testsupport.WriteLog(t, contextPath, "vlan 10 office")
	h.src.ContextFiles = []string{contextPath, filepath.Join(testsupport.BaseDir(h.cfg), "missing.txt")}
	h.src.AttachContextFiles = true
	h.cfg.Notifications.Email = true
	h.cfg.SMTP.Profiles = map[string]config.SMTPProfile{"ops": {Server: "smtp.example.com", Port: 587}}
	h.src.SMTPProfile = "ops"
	h.src.Stages[0].Recipients = []string{"soc@example.com"}
	testsupport.WriteLog(t, h.logPath, testsupport.LogLine(t0.Add(-time.Minute), "event 1"))

	h.mustRun(t)

	call := h.analyzer.requests()[0]
	if !slices.Equal(call.Attachments, []string{contextPath}) {
		t.Fatalf("unexpected analyzer attachments %v", call.Attachments)
	}
	if !slices.Equal(h.mailer.messages[0].Attachments, []string{contextPath}) {
		t.Fatalf("unexpected email attachments %v", h.mailer.messages[0].Attachments)
	}
}

func TestBonusContextInlinedWhenNotAttached(t *testing.T) {
	h := newHarness(t, chain("periodic"))
	contextPath := filepath.Join(testsupport.BaseDir(h.cfg), "context", "network.txt")
	testsupport.WriteLog(t, contextPath, "vlan 10 office")
	h.src.ContextFiles = []string{contextPath}
	testsupport.WriteLog(t, h.logPath, testsupport.LogLine(t0.Add(-time.Minute), "event 1"))

	h.mustRun(t)

	call := h.analyzer.requests()[0]
	if !strings.Contains(call.BonusContext, "--- START OF FILE: network.txt ---") || len(call.Attachments) != 0 {
		t.Fatalf("unexpected bonus context %q attachments %v", call.BonusContext, call.Attachments)
	}
}
