// Package mapreduce splits oversized inputs across parallel analysis workers
// and merges their outputs into a single stage result.
package mapreduce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"logsentinel/internal/analysis"
	"logsentinel/internal/logging"
	"logsentinel/internal/metrics"
	"logsentinel/internal/services"
	"logsentinel/internal/stats"
)

// ErrAllWorkersFailed is returned by Map when no task succeeded.
var ErrAllWorkersFailed = errors.New("all map workers failed")

// DefaultMaxWorkers bounds the pool when Options.MaxWorkers is unset.
const DefaultMaxWorkers = 5

// WorkerSink persists an individual worker output and returns its path.
type WorkerSink interface {
	SaveWorker(ctx context.Context, worker string, summary map[string]any, markdown string) (string, error)
}

// WorkerResult is the outcome of one task.
type WorkerResult struct {
	Task     Task
	Text     string
	Stats    map[string]any
	Markdown string
	Err      error
	// Order is the 1-based completion position.
	Order      int
	ReportPath string
	Elapsed    time.Duration
}

// OK reports whether the task produced output.
func (r WorkerResult) OK() bool {
	return r.Err == nil
}

// Options configures an Executor.
type Options struct {
	MaxWorkers int
	// Sink receives per-worker outputs when more than one task runs.
	Sink   WorkerSink
	Logger *slog.Logger
	// Stage labels metrics.
	Stage string
}

// Executor runs map tasks on a bounded pool and reduces their outputs.
type Executor struct {
	analyzer   analysis.Analyzer
	maxWorkers int
	sink       WorkerSink
	logger     *slog.Logger
	stage      string
}

// NewExecutor constructs an Executor.
func NewExecutor(analyzer analysis.Analyzer, opts Options) *Executor {
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Executor{
		analyzer:   analyzer,
		maxWorkers: maxWorkers,
		sink:       opts.Sink,
		logger:     logging.NewComponentLogger(opts.Logger, "mapreduce"),
		stage:      opts.Stage,
	}
}

// Map runs every task with at most min(len(tasks), MaxWorkers) in flight.
// A failing task never cancels its siblings. Results are returned in
// completion order, failures included. When every task fails the results are
// returned together with ErrAllWorkersFailed.
func (e *Executor) Map(ctx context.Context, tasks []Task) ([]WorkerResult, error) {
	if len(tasks) == 0 {
		return nil, services.Wrap(services.ErrValidation, e.stage, "map", "no tasks", nil)
	}
	persist := len(tasks) > 1 && e.sink != nil

	var (
		mu      sync.Mutex
		results = make([]WorkerResult, 0, len(tasks))
	)
	// Plain Group: no shared cancellation between tasks.
	var group errgroup.Group
	group.SetLimit(min(len(tasks), e.maxWorkers))

	for _, task := range tasks {
		group.Go(func() error {
			result := e.runTask(ctx, task, persist)
			mu.Lock()
			result.Order = len(results) + 1
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	succeeded := 0
	for _, r := range results {
		if r.OK() {
			succeeded++
		}
	}
	if succeeded == 0 {
		return results, fmt.Errorf("%w: %d tasks: %w", ErrAllWorkersFailed, len(results), firstError(results))
	}
	return results, nil
}

func (e *Executor) runTask(ctx context.Context, task Task, persist bool) WorkerResult {
	taskCtx := services.WithWorker(ctx, task.Name)
	logger := logging.WithContext(taskCtx, e.logger)
	started := time.Now()
	result := WorkerResult{Task: task}

	text, err := e.analyzer.Analyze(taskCtx, task.Request)
	result.Elapsed = time.Since(started)
	metrics.RecordWorker(e.stage, err == nil)
	if err != nil {
		result.Err = err
		logging.WarnWithContext(logger, "map worker failed", "map_worker_failed",
			logging.String(logging.FieldWorker, task.Name),
			logging.String("failure_kind", string(analysis.KindOf(err))),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check credential, model and prompt for this worker"),
			logging.String(logging.FieldImpact, "worker output is missing from the merged report"),
		)
		return result
	}
	result.Text = text
	result.Stats, result.Markdown = stats.Extract(text)
	logger.Info("map worker completed",
		logging.String(logging.FieldWorker, task.Name),
		logging.Duration("elapsed", result.Elapsed),
	)

	if persist {
		path, err := e.sink.SaveWorker(taskCtx, task.Name, result.Stats, result.Markdown)
		if err != nil {
			logging.WarnWithContext(logger, "worker report not saved", "worker_report_save_failed",
				logging.String(logging.FieldWorker, task.Name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check report_dir permissions"),
				logging.String(logging.FieldImpact, "merged report is unaffected"),
			)
		} else {
			result.ReportPath = path
		}
	}
	return result
}

func firstError(results []WorkerResult) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return errors.New("no results")
}
