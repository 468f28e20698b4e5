package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"logsentinel/internal/analysis"
	"logsentinel/internal/checkpoint"
	"logsentinel/internal/config"
	"logsentinel/internal/daemon"
	"logsentinel/internal/history"
	"logsentinel/internal/logcursor"
	"logsentinel/internal/logging"
	"logsentinel/internal/metrics"
	"logsentinel/internal/notifications"
	"logsentinel/internal/pipeline"
	"logsentinel/internal/preflight"
	"logsentinel/internal/report"
	"logsentinel/internal/usage"
)

// CurrentLogName is the link in paths.log_dir that points at the newest run log.
const CurrentLogName = "logsentinel.log"

// Options configures daemon process runtime behavior.
type Options struct {
	// ConfigPath is reloaded on every scheduler tick when set.
	ConfigPath  string
	LogLevel    string
	Development bool
}

// Runtime is the wired object graph shared by Run and Once.
type Runtime struct {
	Config      *config.Config
	Logger      *slog.Logger
	LogPath     string
	Checkpoints *checkpoint.Store
	Reports     *report.Store
	History     *history.Store
	Usage       *usage.Tracker
	Daemon      *daemon.Daemon
}

// Build constructs every component for cfg. History failures degrade to a
// runtime without history rather than aborting.
func Build(cfg *config.Config, load pipeline.ConfigLoader, logger *slog.Logger, logPath string) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if load == nil {
		load = func() (*config.Config, error) { return cfg, nil }
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	checkpoints, err := checkpoint.New(cfg.Paths.StateDir, cfg.StateNamespace(), logger)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	reports := report.NewStore(cfg.Paths.ReportDir, logger)
	tracker := usage.NewTracker(filepath.Join(checkpoints.Dir(), usage.FileName))
	analyzer := analysis.NewService(cfg.LLM, tracker, logger)

	deps := pipeline.Dependencies{
		Checkpoints: checkpoints,
		Reader:      logcursor.NewReader(checkpoints, logger),
		Reports:     reports,
		Analyzer:    analyzer,
		Notifier:    notifications.NewService(cfg),
		Mailer:      pipeline.SMTPMailers,
		Logger:      logger,
	}

	hist, err := history.Open(filepath.Join(checkpoints.Dir(), history.FileName))
	if err != nil {
		logging.WarnWithContext(logger, "run history unavailable", "history_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state_dir permissions or remove a corrupt history.db"),
			logging.String(logging.FieldImpact, "stage runs are not recorded"),
		)
		hist = nil
	} else {
		deps.History = hist
	}

	controller, err := pipeline.NewController(cfg, deps)
	if err != nil {
		if hist != nil {
			_ = hist.Close()
		}
		return nil, fmt.Errorf("create controller: %w", err)
	}
	scheduler := pipeline.NewScheduler(load, controller, logger)
	d, err := daemon.New(cfg, scheduler, hist, logger, logPath)
	if err != nil {
		if hist != nil {
			_ = hist.Close()
		}
		return nil, fmt.Errorf("create daemon: %w", err)
	}

	return &Runtime{
		Config:      cfg,
		Logger:      logger,
		LogPath:     logPath,
		Checkpoints: checkpoints,
		Reports:     reports,
		History:     hist,
		Usage:       tracker,
		Daemon:      d,
	}, nil
}

// Close stops the daemon and releases the history database.
func (r *Runtime) Close() error {
	if r == nil || r.Daemon == nil {
		return nil
	}
	return r.Daemon.Close()
}

// Run starts the logsentinel daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("logsentinel-%s.log", runID))
	logger, err := logging.New(logging.Options{
		Level:       firstNonEmpty(opts.LogLevel, cfg.Logging.Level),
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update logsentinel.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "logsentinel-*.log", Exclude: []string{logPath}},
	)

	if err := checkPreflight(signalCtx, logger, cfg); err != nil {
		return err
	}

	rt, err := Build(cfg, loaderFor(cfg, opts), logger, logPath)
	if err != nil {
		logger.Error("build runtime", logging.Error(err))
		return err
	}
	defer rt.Close()

	pruneHistory(signalCtx, logger, rt.History, cfg.Logging.RetentionDays)
	logConfigSnapshot(logger, cfg)

	metricsServer := metrics.NewServer(cfg.Metrics.Listen, logger)
	if err := metricsServer.Start(); err != nil {
		logging.WarnWithContext(logger, "metrics listener disabled", "metrics_listen_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check metrics.listen for a free host:port"),
			logging.String(logging.FieldImpact, "prometheus scrapes will fail"),
		)
		metricsServer = nil
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Stop(shutdownCtx)
	}()

	if err := rt.Daemon.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.StateDir, "logsentinel.pid")
	if err := writePIDFile(pidPath); err != nil {
		logging.WarnWithContext(logger, "failed to write pid file", "pid_file_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "external tooling cannot locate the daemon pid"),
		)
	}
	defer os.Remove(pidPath)

	<-signalCtx.Done()
	logger.Info("logsentinel daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// Once performs a single pass over every enabled source and returns its summary.
func Once(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (pipeline.TickSummary, error) {
	if cfg == nil {
		return pipeline.TickSummary{}, fmt.Errorf("config is required")
	}
	rt, err := Build(cfg, loaderFor(cfg, opts), logger, "")
	if err != nil {
		return pipeline.TickSummary{}, err
	}
	defer rt.Close()
	return rt.Daemon.RunOnce(ctx)
}

func loaderFor(cfg *config.Config, opts Options) pipeline.ConfigLoader {
	if strings.TrimSpace(opts.ConfigPath) == "" {
		return func() (*config.Config, error) { return cfg, nil }
	}
	return config.Loader(opts.ConfigPath)
}

// checkPreflight logs every failing check and aborts only on required ones.
func checkPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	failed, blocking := preflight.Failed(preflight.RunAll(ctx, cfg))
	for _, r := range failed {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.Bool("required", r.Required),
			logging.String(logging.FieldErrorHint, "run 'logsentinel status --check' for details"),
		)
	}
	if blocking {
		return errors.New("required preflight checks failed")
	}
	return nil
}

func pruneHistory(ctx context.Context, logger *slog.Logger, store *history.Store, retentionDays int) {
	if store == nil || retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed, err := store.Prune(ctx, cutoff)
	if err != nil {
		logging.WarnWithContext(logger, "history prune failed", "history_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "history.db keeps growing"),
		)
		return
	}
	if removed > 0 {
		logger.Info("history pruned", logging.Int64("removed", removed), logging.Int("retention_days", retentionDays))
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, CurrentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	enabled := 0
	for i := range cfg.Sources {
		if cfg.Sources[i].IsEnabled() {
			enabled++
		}
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.Int("sources", len(cfg.Sources)),
		logging.Int("enabled_sources", enabled),
		logging.String("state_namespace", cfg.StateNamespace()),
		logging.Duration("check_interval", cfg.CheckInterval()),
		logging.Int("max_workers", cfg.Scheduler.MaxWorkers),
		logging.Int("chunk_size", cfg.Scheduler.ChunkSize),
		logging.Int("max_log_lines", cfg.Scheduler.MaxLogLines),
		logging.Int("llm_profiles", len(cfg.LLM.Profiles)),
		logging.Bool("ntfy_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("email_enabled", cfg.Notifications.Email),
		logging.String("metrics_listen", cfg.Metrics.Listen),
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
