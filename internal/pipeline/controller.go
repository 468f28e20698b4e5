package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"logsentinel/internal/analysis"
	"logsentinel/internal/config"
	"logsentinel/internal/history"
	"logsentinel/internal/logcursor"
	"logsentinel/internal/logging"
	"logsentinel/internal/metrics"
	"logsentinel/internal/notifications"
	"logsentinel/internal/report"
	"logsentinel/internal/services"
)

// Checkpoints is the checkpoint state the controller reads and advances.
type Checkpoints interface {
	LastRun(sourceID string) (time.Time, bool)
	LastCycle(sourceID string) (time.Time, bool)
	Buffer(sourceID string, idx int) (int, bool)
	SetLastRun(ctx context.Context, sourceID string, ts time.Time) error
	SetLastCycle(ctx context.Context, sourceID string, ts time.Time) error
	SetBuffer(ctx context.Context, sourceID string, idx, count int) error
	IncrementBuffer(ctx context.Context, sourceID string, idx int) (int, error)
}

// LogReader reads the unconsumed window of a log file.
type LogReader interface {
	Read(ctx context.Context, req logcursor.Request) (logcursor.Result, error)
}

// ReportStore persists and lists stage outputs.
type ReportStore interface {
	Save(ctx context.Context, sourceID, stage string, loc *time.Location, r report.Report) (string, error)
	SaveWorker(ctx context.Context, sourceID, stage, worker string, loc *time.Location, r report.Report) (string, error)
	Load(path string) (report.Report, error)
	List(sourceID, stage string) ([]report.Entry, error)
}

// HistoryRecorder stores one row per stage execution.
type HistoryRecorder interface {
	Record(ctx context.Context, run history.Run) (history.Run, error)
}

// MailerFactory builds a mailer for an SMTP profile.
type MailerFactory func(profile config.SMTPProfile) notifications.Mailer

// SMTPMailers is the production MailerFactory.
func SMTPMailers(profile config.SMTPProfile) notifications.Mailer {
	return notifications.NewSMTPMailer(profile, 0)
}

// Dependencies are the collaborators of a Controller. Checkpoints, Reader,
// Reports and Analyzer are required; the rest are optional observers.
type Dependencies struct {
	Checkpoints Checkpoints
	Reader      LogReader
	Reports     ReportStore
	Analyzer    analysis.Analyzer
	Notifier    notifications.Service
	Mailer      MailerFactory
	History     HistoryRecorder
	Logger      *slog.Logger
}

// Controller runs the stage chain of one source at a time.
type Controller struct {
	checkpoints Checkpoints
	reader      LogReader
	reports     ReportStore
	analyzer    analysis.Analyzer
	notifier    notifications.Service
	newMailer   MailerFactory
	history     HistoryRecorder
	logger      *slog.Logger
	now         func() time.Time

	mu  sync.RWMutex
	cfg *config.Config
}

// NewController constructs a Controller for cfg.
func NewController(cfg *config.Config, deps Dependencies) (*Controller, error) {
	switch {
	case deps.Checkpoints == nil:
		return nil, errors.New("pipeline: checkpoint store is required")
	case deps.Reader == nil:
		return nil, errors.New("pipeline: log reader is required")
	case deps.Reports == nil:
		return nil, errors.New("pipeline: report store is required")
	case deps.Analyzer == nil:
		return nil, errors.New("pipeline: analyzer is required")
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	mailer := deps.Mailer
	if mailer == nil {
		mailer = SMTPMailers
	}
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	return &Controller{
		checkpoints: deps.Checkpoints,
		reader:      deps.Reader,
		reports:     deps.Reports,
		analyzer:    deps.Analyzer,
		notifier:    notifier,
		newMailer:   mailer,
		history:     deps.History,
		logger:      logging.NewComponentLogger(deps.Logger, "pipeline"),
		now:         time.Now,
		cfg:         cfg,
	}, nil
}

// SetConfig swaps the configuration used for scheduler-wide settings.
func (c *Controller) SetConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// SetClock overrides the wall clock; intended for tests.
func (c *Controller) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

func (c *Controller) config() *config.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// RunSource runs every due stage of src in order. A failing stage leaves its
// checkpoints untouched and does not stop later stages from being evaluated.
// The returned error joins every stage failure.
func (c *Controller) RunSource(ctx context.Context, src *config.Source) error {
	if src == nil || !src.IsEnabled() || len(src.Stages) == 0 {
		return nil
	}
	ctx = services.WithSourceID(ctx, src.ID)
	ctx = services.WithRequestID(ctx, uuid.NewString())

	var errs []error
	for idx := range src.Stages {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !src.StageEnabled(idx) || !c.stageDue(src, idx) {
			continue
		}
		if err := c.runStage(ctx, src, idx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// stageDue reports whether stage idx should fire now.
func (c *Controller) stageDue(src *config.Source, idx int) bool {
	if idx == 0 {
		last, ok := c.checkpoints.LastCycle(src.ID)
		return !ok || c.now().Sub(last) >= src.RunInterval()
	}
	buffer, _ := c.checkpoints.Buffer(src.ID, idx)
	return buffer >= max(src.Stages[idx].TriggerThreshold, 1)
}

// stageOutcome is what a successful stage run hands to the observers.
type stageOutcome struct {
	status       history.Status
	report       report.Report
	reportPath   string
	lines        int
	inputs       []string
	mailAttached []string
}

func (c *Controller) runStage(ctx context.Context, src *config.Source, idx int) error {
	stage := src.Stages[idx]
	ctx = services.WithStage(ctx, stage.Name)
	logger := logging.WithContext(ctx, c.logger)
	started := c.now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("stage_index", idx),
	)

	var (
		outcome stageOutcome
		err     error
	)
	if idx == 0 {
		outcome, err = c.runIngest(ctx, src, logger)
	} else {
		outcome, err = c.runChain(ctx, src, idx, logger)
	}
	finished := c.now()
	elapsed := finished.Sub(started)

	run := history.Run{
		SourceID:       src.ID,
		StageIndex:     idx,
		Stage:          stage.Name,
		Status:         outcome.status,
		StartedAt:      started,
		FinishedAt:     finished,
		LineCount:      outcome.lines,
		InputReports:   len(outcome.inputs),
		ReportPath:     outcome.reportPath,
		FailedWorkers:  outcome.report.FailedWorkers,
		ReduceFallback: outcome.report.ReduceFallback,
	}

	if err != nil {
		run.Status = history.StatusFailed
		run.Error = err.Error()
		c.recordHistory(ctx, logger, run)
		metrics.RecordStage(src.ID, stage.Name, string(history.StatusFailed), elapsed)
		logging.ErrorWithContext(logger, "stage failed", "stage_failure",
			logging.Error(err),
			logging.String("failure_kind", services.FailureLabel(err)),
			logging.Bool("retryable", services.Retryable(err)),
			logging.String(logging.FieldErrorHint, failureHint(err)),
			logging.Alert("stage_failure"),
		)
		c.publish(ctx, logger, notifications.EventStageFailed, notifications.Payload{
			"source": src.ID,
			"stage":  stage.Name,
			"error":  err.Error(),
		})
		return fmt.Errorf("stage %s: %w", stage.Name, err)
	}

	c.recordHistory(ctx, logger, run)
	metrics.RecordStage(src.ID, stage.Name, string(run.Status), elapsed)
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("status", string(run.Status)),
		logging.String("report", outcome.reportPath),
		logging.Duration("elapsed", elapsed),
	)
	if outcome.reportPath == "" {
		return nil
	}

	if len(outcome.report.FailedWorkers) > 0 {
		c.publish(ctx, logger, notifications.EventWorkersFailed, notifications.Payload{
			"source":  src.ID,
			"stage":   stage.Name,
			"workers": joinNames(outcome.report.FailedWorkers),
		})
	}
	if outcome.report.ReduceFallback {
		c.publish(ctx, logger, notifications.EventReduceFallback, notifications.Payload{
			"source": src.ID,
			"stage":  stage.Name,
		})
	}
	c.mailReport(ctx, logger, src, stage, outcome)
	return nil
}

// advanceBuffer increments the buffer of stage next when it exists and is enabled.
func (c *Controller) advanceBuffer(ctx context.Context, src *config.Source, next int) error {
	if !src.StageEnabled(next) {
		return nil
	}
	count, err := c.checkpoints.IncrementBuffer(ctx, src.ID, next)
	if err != nil {
		return fmt.Errorf("increment buffer %d: %w", next, err)
	}
	metrics.SetBuffer(src.ID, next, count)
	return nil
}

func failureHint(err error) string {
	switch {
	case errors.Is(err, services.ErrConfiguration):
		return "check the stage credential, model and prompt_file"
	case errors.Is(err, services.ErrNotFound):
		return "check that the log file or upstream reports exist"
	case errors.Is(err, services.ErrValidation):
		return "inspect the stage input for malformed content"
	default:
		return "stage will be retried on the next scheduler tick"
	}
}
