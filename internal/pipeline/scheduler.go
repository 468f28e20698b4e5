package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"logsentinel/internal/config"
	"logsentinel/internal/logging"
	"logsentinel/internal/notifications"
)

const defaultCheckInterval = 60 * time.Second

// ConfigLoader returns the current configuration. It is called once per tick
// so edits apply without a restart.
type ConfigLoader func() (*config.Config, error)

// TickSummary describes one pass over the configured sources.
type TickSummary struct {
	Started  time.Time
	Sources  int
	Failed   []string
	Duration time.Duration
}

// Status is a snapshot of scheduler state.
type Status struct {
	Running   bool
	Ticks     int
	LastTick  time.Time
	LastError string
}

// Scheduler runs the controller over every enabled source on a fixed interval.
type Scheduler struct {
	load       ConfigLoader
	controller *Controller
	logger     *slog.Logger

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	cfg      *config.Config
	ticks    int
	lastTick time.Time
	lastErr  error
}

// NewScheduler constructs a Scheduler.
func NewScheduler(load ConfigLoader, controller *Controller, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		load:       load,
		controller: controller,
		logger:     logging.NewComponentLogger(logger, "scheduler"),
	}
}

// Start begins the background loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	if s.load == nil || s.controller == nil {
		s.mu.Unlock()
		return errors.New("scheduler not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(runCtx)
	return nil
}

// Stop terminates the loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Status returns the latest scheduler information.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := Status{Running: s.running, Ticks: s.ticks, LastTick: s.lastTick}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logging.ErrorWithContext(s.logger, "scheduler tick failed", "scheduler_tick_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run 'logsentinel config validate'"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval()):
		}
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()
	if cfg == nil || cfg.CheckInterval() <= 0 {
		return defaultCheckInterval
	}
	return cfg.CheckInterval()
}

// RunOnce reloads configuration and runs every enabled source sequentially.
// A failing or panicking source is logged and does not block the others. When
// reloading fails the last good configuration is reused.
func (s *Scheduler) RunOnce(ctx context.Context) (TickSummary, error) {
	summary := TickSummary{Started: time.Now()}
	cfg, err := s.reload()
	if err != nil {
		s.setLastError(err)
		return summary, err
	}
	s.controller.SetConfig(cfg)

	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if !src.IsEnabled() {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		summary.Sources++
		if err := s.runSource(ctx, src); err != nil {
			summary.Failed = append(summary.Failed, src.ID)
			s.setLastError(err)
		}
	}
	summary.Duration = time.Since(summary.Started)

	s.mu.Lock()
	s.ticks++
	s.lastTick = summary.Started
	if len(summary.Failed) == 0 {
		s.lastErr = nil
	}
	s.mu.Unlock()

	s.logger.Debug("scheduler tick complete",
		logging.Int("sources", summary.Sources),
		logging.Int("failed", len(summary.Failed)),
		logging.Duration("elapsed", summary.Duration),
	)
	return summary, ctx.Err()
}

func (s *Scheduler) reload() (*config.Config, error) {
	cfg, err := s.load()
	if err == nil && cfg != nil {
		s.mu.Lock()
		s.cfg = cfg
		s.mu.Unlock()
		return cfg, nil
	}

	s.mu.RLock()
	last := s.cfg
	s.mu.RUnlock()
	if err == nil {
		err = errors.New("config loader returned nil")
	}
	if last == nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.WarnWithContext(s.logger, "config reload failed; keeping previous configuration", "config_reload_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "fix the config file; run 'logsentinel config validate'"),
		logging.String(logging.FieldImpact, "edits since the last good load are ignored"),
	)
	return last, nil
}

func (s *Scheduler) runSource(ctx context.Context, src *config.Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source %s panicked: %v", src.ID, r)
			logging.ErrorWithContext(s.logger, "source panicked", "source_panic",
				logging.String(logging.FieldSourceID, src.ID),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.Alert("source_panic"),
			)
			s.controller.publish(ctx, s.logger, notifications.EventSourceFailed, notifications.Payload{
				"source": src.ID,
				"error":  fmt.Sprint(r),
			})
		}
	}()
	return s.controller.RunSource(ctx, src)
}

func (s *Scheduler) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
