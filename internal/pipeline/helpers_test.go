package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"logsentinel/internal/analysis"
	"logsentinel/internal/checkpoint"
	"logsentinel/internal/config"
	"logsentinel/internal/history"
	"logsentinel/internal/logcursor"
	"logsentinel/internal/notifications"
	"logsentinel/internal/pipeline"
	"logsentinel/internal/report"
	"logsentinel/internal/testsupport"
)

var t0 = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

type recordingAnalyzer struct {
	mu      sync.Mutex
	calls   []analysis.Request
	respond func(req analysis.Request) (string, error)
}

func (a *recordingAnalyzer) Analyze(_ context.Context, req analysis.Request) (string, error) {
	a.mu.Lock()
	a.calls = append(a.calls, req)
	respond := a.respond
	a.mu.Unlock()
	if respond == nil {
		return "```json\n{\"critical\": 1}\n```\n## Findings\nok", nil
	}
	return respond(req)
}

func (a *recordingAnalyzer) requests() []analysis.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]analysis.Request(nil), a.calls...)
}

func (a *recordingAnalyzer) callsFor(worker string) []analysis.Request {
	var out []analysis.Request
	for _, req := range a.requests() {
		if req.Worker == worker {
			out = append(out, req)
		}
	}
	return out
}

type publishedEvent struct {
	event   notifications.Event
	payload notifications.Payload
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (n *fakeNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{event: event, payload: payload})
	return nil
}

func (n *fakeNotifier) count(event notifications.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e.event == event {
			total++
		}
	}
	return total
}

type fakeMailer struct {
	mu       sync.Mutex
	messages []notifications.Message
	profiles []config.SMTPProfile
	err      error
}

func (m *fakeMailer) factory(profile config.SMTPProfile) notifications.Mailer {
	m.mu.Lock()
	m.profiles = append(m.profiles, profile)
	m.mu.Unlock()
	return m
}

func (m *fakeMailer) Send(_ context.Context, msg notifications.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return m.err
}

type fakeHistory struct {
	mu   sync.Mutex
	runs []history.Run
	err  error
}

func (h *fakeHistory) Record(_ context.Context, run history.Run) (history.Run, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, run)
	return run, h.err
}

func (h *fakeHistory) statuses() []history.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]history.Status, len(h.runs))
	for i, r := range h.runs {
		out[i] = r.Status
	}
	return out
}

// panickingReader panics for one source and delegates the rest.
type panickingReader struct {
	next   pipeline.LogReader
	source string
}

func (r panickingReader) Read(ctx context.Context, req logcursor.Request) (logcursor.Result, error) {
	if req.SourceID == r.source {
		panic("reader exploded")
	}
	return r.next.Read(ctx, req)
}

// failingSaves rejects Save for one stage and delegates everything else.
type failingSaves struct {
	*report.Store
	stage string
}

func (s failingSaves) Save(ctx context.Context, sourceID, stage string, loc *time.Location, r report.Report) (string, error) {
	if stage == s.stage {
		return "", errBoom
	}
	return s.Store.Save(ctx, sourceID, stage, loc, r)
}

type harness struct {
	cfg         *config.Config
	src         *config.Source
	logPath     string
	checkpoints *checkpoint.Store
	reader      *logcursor.Reader
	reports     *report.Store
	store       pipeline.ReportStore
	analyzer    *recordingAnalyzer
	notifier    *fakeNotifier
	mailer      *fakeMailer
	history     *fakeHistory
	controller  *pipeline.Controller
	now         time.Time
}

func newHarness(t *testing.T, stages []config.StageConfig, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	h := &harness{
		analyzer: &recordingAnalyzer{},
		notifier: &fakeNotifier{},
		mailer:   &fakeMailer{},
		history:  &fakeHistory{},
		now:      t0,
	}
	cfg := testsupport.NewConfig(t, opts...)
	h.logPath = filepath.Join(testsupport.BaseDir(cfg), "input", "fw.log")
	cfg.Sources = append(cfg.Sources, testsupport.NewSource("fw", h.logPath, stages...))
	h.cfg = cfg
	h.src = &cfg.Sources[len(cfg.Sources)-1]
	testsupport.WriteLog(t, h.logPath)

	var err error
	h.checkpoints, err = checkpoint.New(cfg.Paths.StateDir, cfg.StateNamespace(), nil)
	if err != nil {
		t.Fatalf("checkpoint.New: %v", err)
	}
	clock := func() time.Time { return h.now }
	h.reader = logcursor.NewReader(h.checkpoints, nil)
	h.reader.SetClock(clock)
	h.reports = report.NewStore(cfg.Paths.ReportDir, nil)
	h.reports.SetClock(clock)
	h.store = h.reports

	h.controller = h.newController(t, h.reader)
	return h
}

func (h *harness) newController(t *testing.T, reader pipeline.LogReader) *pipeline.Controller {
	t.Helper()
	controller, err := pipeline.NewController(h.cfg, pipeline.Dependencies{
		Checkpoints: h.checkpoints,
		Reader:      reader,
		Reports:     h.store,
		Analyzer:    h.analyzer,
		Notifier:    h.notifier,
		Mailer:      h.mailer.factory,
		History:     h.history,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	controller.SetClock(func() time.Time { return h.now })
	return controller
}

// failSaves makes every Save for stage return errBoom.
func (h *harness) failSaves(t *testing.T, stage string) {
	t.Helper()
	h.store = failingSaves{Store: h.reports, stage: stage}
	h.controller = h.newController(t, h.reader)
}

func (h *harness) run(t *testing.T) error {
	t.Helper()
	return h.controller.RunSource(context.Background(), h.src)
}

func (h *harness) mustRun(t *testing.T) {
	t.Helper()
	if err := h.run(t); err != nil {
		t.Fatalf("RunSource: %v", err)
	}
}

func (h *harness) listReports(t *testing.T, stage string) []report.Entry {
	t.Helper()
	entries, err := h.reports.List(h.src.ID, stage)
	if err != nil {
		t.Fatalf("List %s: %v", stage, err)
	}
	return entries
}

func (h *harness) loadReport(t *testing.T, path string) report.Report {
	t.Helper()
	rep, err := h.reports.Load(path)
	if err != nil {
		t.Fatalf("Load %s: %v", path, err)
	}
	return rep
}

func (h *harness) buffer(idx int) int {
	n, _ := h.checkpoints.Buffer(h.src.ID, idx)
	return n
}

func chain(names ...string) []config.StageConfig {
	stages := make([]config.StageConfig, len(names))
	for i, name := range names {
		threshold := 0
		if i > 0 {
			threshold = 3
		}
		stages[i] = testsupport.Stage(name, "test/model", threshold)
	}
	return stages
}

var errBoom = errors.New("boom")
