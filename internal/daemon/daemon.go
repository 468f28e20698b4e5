package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"logsentinel/internal/config"
	"logsentinel/internal/history"
	"logsentinel/internal/logging"
	"logsentinel/internal/notifications"
	"logsentinel/internal/pipeline"
)

// LockFileName is the daemon lock kept in the state directory.
const LockFileName = "logsentinel.lock"

// ErrAlreadyRunning reports that another process holds the daemon lock.
var ErrAlreadyRunning = errors.New("another logsentinel instance is already running")

// Daemon coordinates the scheduler and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	scheduler *pipeline.Scheduler
	history   *history.Store
	logPath   string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Scheduler    pipeline.Status
	HistoryPath  string
	LockFilePath string
	LogPath      string
}

// LockPath returns the daemon lock location for cfg.
func LockPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, LockFileName)
}

// IsRunning reports whether some process currently holds the daemon lock.
func IsRunning(cfg *config.Config) (bool, error) {
	lock := flock.New(LockPath(cfg))
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe lock: %w", err)
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

// New constructs a daemon. hist may be nil when history is unavailable.
func New(cfg *config.Config, scheduler *pipeline.Scheduler, hist *history.Store, logger *slog.Logger, logPath string) (*Daemon, error) {
	if cfg == nil || scheduler == nil {
		return nil, errors.New("daemon requires config and scheduler")
	}
	lockPath := LockPath(cfg)
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		scheduler: scheduler,
		history:   hist,
		logPath:   logPath,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the scheduler loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.acquire(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.scheduler.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("logsentinel daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Stop stops the scheduler and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scheduler.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("logsentinel daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.history != nil {
		return d.history.Close()
	}
	return nil
}

// RunOnce executes a single scheduler pass while holding the daemon lock. It
// fails when a daemon is already running.
func (d *Daemon) RunOnce(ctx context.Context) (pipeline.TickSummary, error) {
	if d.running.Load() {
		return pipeline.TickSummary{}, errors.New("daemon already running in this process")
	}
	if err := d.acquire(); err != nil {
		return pipeline.TickSummary{}, err
	}
	defer func() {
		_ = d.lock.Unlock()
	}()
	return d.scheduler.RunOnce(ctx)
}

func (d *Daemon) acquire() error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	return nil
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:      d.running.Load(),
		Scheduler:    d.scheduler.Status(),
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
	}
	if d.history != nil {
		status.HistoryPath = d.history.Path()
	}
	return status
}
