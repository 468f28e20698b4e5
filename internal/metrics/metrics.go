// Package metrics exposes Prometheus collectors for pipeline stages, map
// workers and LLM calls, plus an optional /metrics listener.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"logsentinel/internal/logging"
)

const namespace = "logsentinel"

var (
	// stageRuns counts stage executions.
	// Labels: source, stage, status (success, failure, skipped, empty)
	stageRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stage",
		Name:      "runs_total",
		Help:      "Stage executions by outcome",
	}, []string{"source", "stage", "status"})

	// stageDuration measures wall time of a stage execution.
	// Labels: source, stage
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "stage",
		Name:      "duration_seconds",
		Help:      "Stage execution latency in seconds",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"source", "stage"})

	// linesRead counts log lines handed to stage 0.
	// Labels: source
	linesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cursor",
		Name:      "lines_total",
		Help:      "Log lines consumed by the cursor reader",
	}, []string{"source"})

	// linesDeferred counts lines beyond the per-run cap.
	// Labels: source
	linesDeferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cursor",
		Name:      "deferred_lines_total",
		Help:      "Log lines deferred to a later run by the line cap",
	}, []string{"source"})

	// workerResults counts map worker outcomes.
	// Labels: stage, status (success, failure)
	workerResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mapreduce",
		Name:      "worker_results_total",
		Help:      "Map worker outcomes",
	}, []string{"stage", "status"})

	// reduceFallbacks counts reduce calls that fell back to concatenation.
	reduceFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mapreduce",
		Name:      "reduce_fallbacks_total",
		Help:      "Reduce calls that fell back to raw concatenation",
	})

	// llmAttempts counts HTTP attempts per credential alias.
	// Labels: alias
	llmAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "attempts_total",
		Help:      "LLM HTTP attempts by credential alias",
	}, []string{"alias"})

	// llmFailures counts analysis failures by kind.
	// Labels: kind (transient, fatal, blocked)
	llmFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "failures_total",
		Help:      "Analysis failures by kind",
	}, []string{"kind"})

	// bufferCount mirrors the persisted buffer counters.
	// Labels: source, stage_index
	bufferCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stage",
		Name:      "buffer_count",
		Help:      "Upstream completions awaiting consumption",
	}, []string{"source", "stage_index"})
)

// RecordStage records a stage outcome and its duration.
func RecordStage(source, stage, status string, elapsed time.Duration) {
	stageRuns.WithLabelValues(source, stage, status).Inc()
	if elapsed > 0 {
		stageDuration.WithLabelValues(source, stage).Observe(elapsed.Seconds())
	}
}

// RecordLines records lines consumed and deferred for a source.
func RecordLines(source string, read, deferred int) {
	if read > 0 {
		linesRead.WithLabelValues(source).Add(float64(read))
	}
	if deferred > 0 {
		linesDeferred.WithLabelValues(source).Add(float64(deferred))
	}
}

// RecordWorker records a single map worker outcome.
func RecordWorker(stage string, ok bool) {
	status := "success"
	if !ok {
		status = "failure"
	}
	workerResults.WithLabelValues(stage, status).Inc()
}

// RecordReduceFallback counts a reduce that degraded to concatenation.
func RecordReduceFallback() {
	reduceFallbacks.Inc()
}

// RecordLLMAttempt counts one HTTP attempt made with alias.
func RecordLLMAttempt(alias string) {
	llmAttempts.WithLabelValues(alias).Inc()
}

// RecordLLMFailure counts an analysis failure of the given kind.
func RecordLLMFailure(kind string) {
	llmFailures.WithLabelValues(kind).Inc()
}

// SetBuffer mirrors a buffer counter value.
func SetBuffer(source string, stageIndex, value int) {
	bufferCount.WithLabelValues(source, fmt.Sprint(stageIndex)).Set(float64(value))
}

// Server serves the default registry on /metrics.
type Server struct {
	addr   string
	logger *slog.Logger
	srv    *http.Server
	ln     net.Listener
}

// NewServer returns a metrics server for addr. An empty addr yields nil.
func NewServer(addr string, logger *slog.Logger) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	logger = logging.NewComponentLogger(logger, "metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		addr:   addr,
		logger: logger,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.addr, err)
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.WarnWithContext(s.logger, "metrics server stopped", "metrics_server_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check metrics.listen address"),
				logging.String(logging.FieldImpact, "prometheus scrapes will fail"),
			)
		}
	}()
	s.logger.Info("metrics listener started", logging.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.ln == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
