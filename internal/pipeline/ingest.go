package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"logsentinel/internal/analysis"
	"logsentinel/internal/config"
	"logsentinel/internal/contextfiles"
	"logsentinel/internal/history"
	"logsentinel/internal/logcursor"
	"logsentinel/internal/logging"
	"logsentinel/internal/mapreduce"
	"logsentinel/internal/metrics"
	"logsentinel/internal/report"
)

// runIngest executes stage 0: read new lines, map-reduce them and persist the
// report. Checkpoints advance in a fixed order only after the save succeeds.
func (c *Controller) runIngest(ctx context.Context, src *config.Source, logger *slog.Logger) (stageOutcome, error) {
	cfg := c.config()
	stage := src.Stages[0]

	res, err := c.reader.Read(ctx, logcursor.Request{
		Path:          src.LogFile,
		LookbackHours: src.LookbackHours,
		Location:      src.Location,
		SourceID:      src.ID,
		LineCap:       cfg.Scheduler.MaxLogLines,
	})
	if err != nil {
		return stageOutcome{}, fmt.Errorf("read log: %w", err)
	}
	metrics.RecordLines(src.ID, res.LineCount, res.Dropped)
	cycle := c.now()

	if res.LineCount == 0 {
		logger.Info("no new log lines",
			logging.String(logging.FieldEventType, "log_window_empty"),
			logging.String("window_start", report.FormatTime(res.WindowStart)),
		)
		if err := c.checkpoints.SetLastRun(ctx, src.ID, res.CandidateCheckpoint); err != nil {
			return stageOutcome{}, fmt.Errorf("advance checkpoint: %w", err)
		}
		if err := c.checkpoints.SetLastCycle(ctx, src.ID, cycle); err != nil {
			return stageOutcome{}, fmt.Errorf("record cycle: %w", err)
		}
		return stageOutcome{status: history.StatusEmpty}, nil
	}

	// Attached context files are sent as files, so they are not inlined too.
	var (
		bonus       string
		attachments []string
	)
	if src.AttachContextFiles {
		attachments = contextfiles.Existing(src.ContextFiles)
		bonus = contextfiles.Empty
	} else {
		bonus = contextfiles.Load(src.ContextFiles, logger)
	}

	sink := workerSink{
		reports:  c.reports,
		src:      src,
		stage:    stage.Name,
		start:    res.WindowStart,
		end:      res.WindowEnd,
		rawCount: res.LineCount,
	}
	executor := mapreduce.NewExecutor(c.analyzer, mapreduce.Options{
		MaxWorkers: cfg.Scheduler.MaxWorkers,
		Sink:       sink,
		Logger:     c.logger,
		Stage:      stage.Name,
	})

	chunks := mapreduce.Split(strings.Split(res.Text, "\n"), cfg.Scheduler.ChunkSize)
	tasks := mapreduce.BuildTasks(stage, src.Credential, chunks, analysis.Request{
		SourceID:     src.ID,
		BonusContext: bonus,
		Attachments:  attachments,
	})
	logger.Info("dispatching map tasks",
		logging.Int("lines", res.LineCount),
		logging.Int("chunks", len(chunks)),
		logging.Int("tasks", len(tasks)),
	)

	results, err := executor.Map(ctx, tasks)
	if err != nil {
		return stageOutcome{lines: res.LineCount}, err
	}
	merged := executor.Reduce(ctx, results, mapreduce.ReduceRequest{
		Base: analysis.Request{
			SourceID:     src.ID,
			Model:        stage.Model,
			Credential:   firstNonBlank(stage.Credential, src.Credential),
			BonusContext: bonus,
		},
		Summary:    stage.SummaryConf,
		TotalTasks: len(tasks),
	})

	rep := report.Report{
		Hostname:          src.Hostname,
		AnalysisStartTime: report.FormatTime(res.WindowStart),
		AnalysisEndTime:   report.FormatTime(res.WindowEnd),
		SummaryStats:      merged.Stats,
		AnalysisMarkdown:  merged.Markdown,
		ReportType:        stage.Name,
		RawLogCount:       report.IntPtr(res.LineCount),
		FailedWorkers:     merged.FailedWorkers,
		ReduceFallback:    merged.ReduceFallback,
		WorkerReports:     merged.WorkerReports,
	}
	path, err := c.reports.Save(ctx, src.ID, stage.Name, src.Location, rep)
	if err != nil {
		return stageOutcome{lines: res.LineCount}, fmt.Errorf("save report: %w", err)
	}

	outcome := stageOutcome{
		status:     history.StatusSucceeded,
		report:     rep,
		reportPath: path,
		lines:      res.LineCount,
	}
	if src.AttachContextFiles {
		outcome.mailAttached = attachments
	}
	if err := c.checkpoints.SetLastRun(ctx, src.ID, res.CandidateCheckpoint); err != nil {
		return outcome, fmt.Errorf("advance checkpoint: %w", err)
	}
	if err := c.checkpoints.SetLastCycle(ctx, src.ID, cycle); err != nil {
		return outcome, fmt.Errorf("record cycle: %w", err)
	}
	if err := c.advanceBuffer(ctx, src, 1); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// workerSink persists individual map outputs under the source's worker tree.
type workerSink struct {
	reports    ReportStore
	src        *config.Source
	stage      string
	start, end time.Time
	rawCount   int
}

func (w workerSink) SaveWorker(ctx context.Context, worker string, summary map[string]any, markdown string) (string, error) {
	return w.reports.SaveWorker(ctx, w.src.ID, w.stage, worker, w.src.Location, report.Report{
		Hostname:          w.src.Hostname,
		AnalysisStartTime: report.FormatTime(w.start),
		AnalysisEndTime:   report.FormatTime(w.end),
		SummaryStats:      summary,
		AnalysisMarkdown:  markdown,
		ReportType:        w.stage,
		RawLogCount:       report.IntPtr(w.rawCount),
		Worker:            worker,
	})
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
