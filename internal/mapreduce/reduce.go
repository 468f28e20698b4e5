package mapreduce

import (
	"context"
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"time"

	"logsentinel/internal/analysis"
	"logsentinel/internal/config"
	"logsentinel/internal/logging"
	"logsentinel/internal/metrics"
	"logsentinel/internal/stats"
)

// defaultReducePrompt is used when a stage has no summary_conf.
//
//go:embed reduce_prompt.md
var defaultReducePrompt string

// ReduceRequest carries what the reduce call needs beyond the worker results.
type ReduceRequest struct {
	// Base supplies SourceID, BonusContext and the stage level model and
	// credential used when Summary is nil or leaves them blank.
	Base    analysis.Request
	Summary *config.SummaryConfig
	// TotalTasks is the number of tasks that ran, failures included.
	TotalTasks int
}

// Outcome is the merged stage result.
type Outcome struct {
	Stats          map[string]any
	Markdown       string
	FailedWorkers  []string
	ReduceFallback bool
	WorkerReports  []string
}

// Reduce merges worker results. With a single task there is no reduce call:
// the outcome is that worker's own stats and markdown. Otherwise the outputs
// are concatenated (primary workers first, substages in completion order) and
// synthesised by one analysis call; if that call fails the concatenation is
// used verbatim and ReduceFallback is set.
func (e *Executor) Reduce(ctx context.Context, results []WorkerResult, req ReduceRequest) Outcome {
	ordered := orderResults(results)
	outcome := Outcome{FailedWorkers: failedWorkers(ordered)}
	for _, r := range ordered {
		if r.ReportPath != "" {
			outcome.WorkerReports = append(outcome.WorkerReports, r.ReportPath)
		}
	}

	total := req.TotalTasks
	if total <= 0 {
		total = len(results)
	}
	if total <= 1 {
		for _, r := range ordered {
			if r.OK() {
				outcome.Stats = r.Stats
				outcome.Markdown = r.Markdown
				break
			}
		}
		if outcome.Stats == nil {
			outcome.Stats = map[string]any{}
		}
		return outcome
	}

	combined := CombineOutputs(ordered)
	reduceReq := req.Base
	reduceReq.Worker = "reduce"
	reduceReq.Content = combined
	reduceReq.Attachments = nil
	reduceReq.PromptFile = ""
	reduceReq.Prompt = defaultReducePrompt
	if req.Summary != nil {
		reduceReq.Model = firstNonBlank(req.Summary.Model, req.Base.Model)
		reduceReq.Credential = firstNonBlank(req.Summary.Credential, req.Base.Credential)
		if strings.TrimSpace(req.Summary.PromptFile) != "" {
			reduceReq.PromptFile = req.Summary.PromptFile
			reduceReq.Prompt = ""
		}
	}

	logger := logging.WithContext(ctx, e.logger)
	started := time.Now()
	text, err := e.analyzer.Analyze(ctx, reduceReq)
	if err != nil {
		metrics.RecordReduceFallback()
		logging.WarnWithContext(logger, "reduce failed; using concatenated worker outputs", "reduce_fallback",
			logging.String("failure_kind", string(analysis.KindOf(err))),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check summary_conf model, prompt and credential"),
			logging.String(logging.FieldImpact, "report contains raw worker outputs"),
		)
		outcome.ReduceFallback = true
		outcome.Stats = MergeStats(ordered)
		outcome.Markdown = combined
		return outcome
	}
	outcome.Stats, outcome.Markdown = stats.Extract(text)
	logger.Info("reduce completed",
		logging.Int("workers", len(ordered)),
		logging.Int("failed_workers", len(outcome.FailedWorkers)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return outcome
}

// CombineOutputs renders successful outputs under "### Worker: <name>"
// headers, followed by a note naming failed workers.
func CombineOutputs(ordered []WorkerResult) string {
	var b strings.Builder
	for _, r := range ordered {
		if !r.OK() {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### Worker: %s\n\n%s", r.Task.Name, strings.TrimSpace(r.Text))
	}
	if failed := failedWorkers(ordered); len(failed) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "> NOTE: %d worker(s) failed and are not included: %s", len(failed), strings.Join(failed, ", "))
	}
	return b.String()
}

// MergeStats sums numeric top-level values across successful workers and
// keeps the first value seen for everything else.
func MergeStats(ordered []WorkerResult) map[string]any {
	merged := make(map[string]any)
	for _, r := range ordered {
		if !r.OK() {
			continue
		}
		for key, value := range r.Stats {
			current, seen := merged[key]
			if !seen {
				merged[key] = value
				continue
			}
			a, aNum := current.(float64)
			b, bNum := value.(float64)
			if aNum && bNum {
				merged[key] = a + b
			}
		}
	}
	return merged
}

// orderResults puts primary tasks first in chunk order, then the rest in
// completion order.
func orderResults(results []WorkerResult) []WorkerResult {
	ordered := slices.Clone(results)
	slices.SortStableFunc(ordered, func(a, b WorkerResult) int {
		switch {
		case a.Task.Primary && !b.Task.Primary:
			return -1
		case !a.Task.Primary && b.Task.Primary:
			return 1
		case a.Task.Primary && b.Task.Primary:
			return a.Task.Chunk - b.Task.Chunk
		default:
			return a.Order - b.Order
		}
	})
	return ordered
}

func failedWorkers(ordered []WorkerResult) []string {
	var failed []string
	for _, r := range ordered {
		if !r.OK() {
			failed = append(failed, r.Task.Name)
		}
	}
	return failed
}
