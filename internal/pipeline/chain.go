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
	"logsentinel/internal/logging"
	"logsentinel/internal/metrics"
	"logsentinel/internal/report"
	"logsentinel/internal/services"
	"logsentinel/internal/stats"
)

// runChain executes a threshold-driven stage over reports of stage idx-1.
func (c *Controller) runChain(ctx context.Context, src *config.Source, idx int, logger *slog.Logger) (stageOutcome, error) {
	stage := src.Stages[idx]
	upstream := src.Stages[idx-1]
	threshold := max(stage.TriggerThreshold, 1)
	buffer, _ := c.checkpoints.Buffer(src.ID, idx)

	entries, err := c.reports.List(src.ID, upstream.Name)
	if err != nil {
		return stageOutcome{}, fmt.Errorf("list %s reports: %w", upstream.Name, err)
	}
	selected := selectInputs(entries, buffer, threshold)
	if len(selected) < threshold {
		return stageOutcome{}, services.Wrap(services.ErrNotFound, stage.Name, "select inputs",
			fmt.Sprintf("%d of %d %s reports available", len(selected), threshold, upstream.Name), nil)
	}

	var (
		blocks      []string
		inputs      []string
		windowStart time.Time
		windowEnd   time.Time
	)
	for _, entry := range selected {
		rep, err := c.reports.Load(entry.Path)
		if err != nil {
			logging.WarnWithContext(logger, "skipping unreadable input report", "report_unreadable",
				logging.String("path", entry.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect or remove the corrupt report file"),
				logging.String(logging.FieldImpact, "summary omits this report"),
			)
			continue
		}
		blocks = append(blocks, fmt.Sprintf("--- REPORT FROM %s TO %s ---\n\n%s",
			rep.AnalysisStartTime, rep.AnalysisEndTime, rep.AnalysisMarkdown))
		inputs = append(inputs, entry.Path)
		if start, end, err := rep.Window(); err == nil {
			if windowStart.IsZero() || start.Before(windowStart) {
				windowStart = start
			}
			if end.After(windowEnd) {
				windowEnd = end
			}
		}
	}
	if len(blocks) == 0 {
		return stageOutcome{}, services.Wrap(services.ErrValidation, stage.Name, "load inputs", "no readable input reports", nil)
	}
	if windowStart.IsZero() {
		now := c.now().In(src.Location)
		windowStart, windowEnd = now, now
	}

	logger.Info("summarizing upstream reports",
		logging.String("upstream", upstream.Name),
		logging.Int("buffer", buffer),
		logging.Int("threshold", threshold),
		logging.Int("inputs", len(inputs)),
	)

	text, err := c.analyzer.Analyze(ctx, analysis.Request{
		SourceID:     src.ID,
		Worker:       stage.Name,
		Model:        stage.Model,
		PromptFile:   stage.PromptFile,
		Credential:   firstNonBlank(stage.Credential, src.Credential),
		Content:      strings.Join(blocks, "\n\n"),
		BonusContext: chainBonus(src, logger),
	})
	if err != nil {
		return stageOutcome{inputs: inputs}, fmt.Errorf("analyze: %w", err)
	}
	summary, markdown := stats.Extract(text)

	rep := report.Report{
		Hostname:          src.Hostname,
		AnalysisStartTime: report.FormatTime(windowStart.In(src.Location)),
		AnalysisEndTime:   report.FormatTime(windowEnd.In(src.Location)),
		SummaryStats:      summary,
		AnalysisMarkdown:  markdown,
		ReportType:        stage.Name,
		SummarizedFiles:   inputs,
	}
	path, err := c.reports.Save(ctx, src.ID, stage.Name, src.Location, rep)
	if err != nil {
		return stageOutcome{inputs: inputs}, fmt.Errorf("save report: %w", err)
	}

	outcome := stageOutcome{
		status:       history.StatusSucceeded,
		report:       rep,
		reportPath:   path,
		inputs:       inputs,
		mailAttached: inputs,
	}
	// Reports beyond the consumed threshold stay queued for the next tick.
	remaining := max(buffer-threshold, 0)
	if err := c.checkpoints.SetBuffer(ctx, src.ID, idx, remaining); err != nil {
		return outcome, fmt.Errorf("reset buffer %d: %w", idx, err)
	}
	metrics.SetBuffer(src.ID, idx, remaining)
	if err := c.advanceBuffer(ctx, src, idx+1); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// selectInputs returns the oldest threshold reports among the newest buffer
// entries. entries must be sorted oldest first.
func selectInputs(entries []report.Entry, buffer, threshold int) []report.Entry {
	if buffer <= 0 || len(entries) == 0 {
		return nil
	}
	unconsumed := entries[max(len(entries)-buffer, 0):]
	return unconsumed[:min(threshold, len(unconsumed))]
}

func chainBonus(src *config.Source, logger *slog.Logger) string {
	if src.AttachContextFiles {
		return contextfiles.Empty
	}
	return contextfiles.Load(src.ContextFiles, logger)
}
