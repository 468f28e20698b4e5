// Package checkpoint persists the per-source scalars that drive the pipeline:
// the last consumed log instant, the last stage 0 cycle, and one buffer
// counter per downstream stage.
//
// Each scalar lives in its own file under <state_dir>/<namespace>/ so test and
// production runs never share state. Writes go through a temp file and rename,
// and every mutation holds the matching lockfile so an administrative process
// and the scheduler can touch the same source safely. Missing or corrupt files
// read as absent; callers treat absent as "never run".
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"logsentinel/internal/fileutil"
	"logsentinel/internal/lockfile"
	"logsentinel/internal/logging"
	"logsentinel/internal/services"
)

type kind int

const (
	kindLastRun kind = iota
	kindLastCycle
	kindBuffer
)

// Key identifies one checkpoint scalar.
type Key struct {
	kind  kind
	index int
}

var (
	// LastRunKey is the instant up to which log lines have been consumed.
	LastRunKey = Key{kind: kindLastRun}
	// LastCycleKey is the instant of the last stage 0 attempt that completed.
	LastCycleKey = Key{kind: kindLastCycle}
)

// BufferKey is the count of upstream reports awaiting stage idx.
func BufferKey(idx int) Key {
	return Key{kind: kindBuffer, index: idx}
}

func (k Key) String() string {
	switch k.kind {
	case kindLastRun:
		return "last_run_timestamp"
	case kindLastCycle:
		return "last_cycle_run"
	default:
		return "buffer_count[" + strconv.Itoa(k.index) + "]"
	}
}

func (k Key) fileName(sourceID string) string {
	switch k.kind {
	case kindLastRun:
		return "last_run_timestamp_" + sourceID
	case kindLastCycle:
		return "last_cycle_run_" + sourceID
	default:
		return "buffer_count_" + sourceID + "_" + strconv.Itoa(k.index)
	}
}

// Store reads and writes checkpoint files for one namespace.
type Store struct {
	dir      string
	logger   *slog.Logger
	lockOpts []lockfile.Option
}

// New opens the store rooted at <stateDir>/<namespace>, creating it if needed.
func New(stateDir, namespace string, logger *slog.Logger) (*Store, error) {
	stateDir = strings.TrimSpace(stateDir)
	namespace = strings.TrimSpace(namespace)
	if stateDir == "" || namespace == "" {
		return nil, services.Wrap(services.ErrConfiguration, "checkpoint", "open", "state dir and namespace are required", nil)
	}
	dir := filepath.Join(stateDir, namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logging.NewComponentLogger(logger, "checkpoint"),
	}, nil
}

// Dir returns the namespace directory.
func (s *Store) Dir() string {
	return s.dir
}

// SetLockOptions overrides lock acquisition behaviour for every mutation.
func (s *Store) SetLockOptions(opts ...lockfile.Option) {
	s.lockOpts = opts
}

func (s *Store) path(sourceID string, key Key) string {
	return filepath.Join(s.dir, key.fileName(sourceID))
}

// Get returns the raw stored value. Missing, unreadable, or blank files read
// as absent.
func (s *Store) Get(sourceID string, key Key) (string, bool) {
	data, err := os.ReadFile(s.path(sourceID, key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.WarnWithContext(s.logger, "checkpoint unreadable; treating as absent", "checkpoint_unreadable",
				logging.String(logging.FieldSourceID, sourceID),
				logging.String("key", key.String()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "source is treated as never run for this key"),
			)
		}
		return "", false
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", false
	}
	return value, true
}

func (s *Store) getTime(sourceID string, key Key) (time.Time, bool) {
	raw, ok := s.Get(sourceID, key)
	if !ok {
		return time.Time{}, false
	}
	ts, err := parseTimestamp(raw)
	if err != nil {
		logging.WarnWithContext(s.logger, "checkpoint corrupt; treating as absent", "checkpoint_corrupt",
			logging.String(logging.FieldSourceID, sourceID),
			logging.String("key", key.String()),
			logging.String("value", raw),
			logging.String(logging.FieldImpact, "source is treated as never run for this key"),
		)
		return time.Time{}, false
	}
	return ts, true
}

// LastRun returns the last consumed log instant.
func (s *Store) LastRun(sourceID string) (time.Time, bool) {
	return s.getTime(sourceID, LastRunKey)
}

// LastCycle returns the last completed stage 0 cycle instant.
func (s *Store) LastCycle(sourceID string) (time.Time, bool) {
	return s.getTime(sourceID, LastCycleKey)
}

// Buffer returns the pending report count for stage idx. Absent reads as 0.
func (s *Store) Buffer(sourceID string, idx int) (int, bool) {
	raw, ok := s.Get(sourceID, BufferKey(idx))
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		logging.WarnWithContext(s.logger, "buffer counter corrupt; treating as zero", "checkpoint_corrupt",
			logging.String(logging.FieldSourceID, sourceID),
			logging.Int("stage_index", idx),
			logging.String("value", raw),
			logging.String(logging.FieldImpact, "pending reports for this stage are not counted"),
		)
		return 0, false
	}
	return n, true
}

// SetLastRun persists the last consumed log instant.
func (s *Store) SetLastRun(ctx context.Context, sourceID string, ts time.Time) error {
	return s.set(ctx, sourceID, LastRunKey, formatTimestamp(ts))
}

// SetLastCycle persists the last stage 0 cycle instant.
func (s *Store) SetLastCycle(ctx context.Context, sourceID string, ts time.Time) error {
	return s.set(ctx, sourceID, LastCycleKey, formatTimestamp(ts))
}

// SetBuffer overwrites the pending report count for stage idx.
func (s *Store) SetBuffer(ctx context.Context, sourceID string, idx, count int) error {
	if count < 0 {
		return services.Wrap(services.ErrValidation, "checkpoint", "set buffer", "count must be >= 0", nil)
	}
	return s.set(ctx, sourceID, BufferKey(idx), strconv.Itoa(count))
}

// IncrementBuffer adds one to the pending report count for stage idx under
// the lock and returns the new value.
func (s *Store) IncrementBuffer(ctx context.Context, sourceID string, idx int) (int, error) {
	if err := validateSourceID(sourceID); err != nil {
		return 0, err
	}
	key := BufferKey(idx)
	target := s.path(sourceID, key)
	var next int
	err := lockfile.With(ctx, target, func() error {
		current, _ := s.Buffer(sourceID, idx)
		next = current + 1
		return fileutil.WriteFileAtomic(target, []byte(strconv.Itoa(next)), 0o644)
	}, s.lockOpts...)
	if err != nil {
		return 0, fmt.Errorf("increment %s for %s: %w", key, sourceID, err)
	}
	return next, nil
}

func (s *Store) set(ctx context.Context, sourceID string, key Key, value string) error {
	if err := validateSourceID(sourceID); err != nil {
		return err
	}
	target := s.path(sourceID, key)
	err := lockfile.With(ctx, target, func() error {
		return fileutil.WriteFileAtomic(target, []byte(value), 0o644)
	}, s.lockOpts...)
	if err != nil {
		return fmt.Errorf("write %s for %s: %w", key, sourceID, err)
	}
	return nil
}

// Reset removes every checkpoint file that belongs to sourceID.
func (s *Store) Reset(ctx context.Context, sourceID string) error {
	if err := validateSourceID(sourceID); err != nil {
		return err
	}
	names, err := s.sourceFiles(sourceID)
	if err != nil {
		return err
	}
	for _, name := range names {
		target := filepath.Join(s.dir, name)
		err := lockfile.With(ctx, target, func() error {
			if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			return nil
		}, s.lockOpts...)
		if err != nil {
			return fmt.Errorf("reset %s: %w", name, err)
		}
	}
	return nil
}

// RenameSource moves every checkpoint of oldID to newID. It refuses to merge
// into a source that already has checkpoints.
func (s *Store) RenameSource(ctx context.Context, oldID, newID string) error {
	if err := validateSourceID(oldID); err != nil {
		return err
	}
	if err := validateSourceID(newID); err != nil {
		return err
	}
	if oldID == newID {
		return nil
	}
	existing, err := s.sourceFiles(newID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return services.Wrap(services.ErrValidation, "checkpoint", "rename source",
			fmt.Sprintf("source %q already has checkpoints", newID), nil)
	}
	names, err := s.sourceFiles(oldID)
	if err != nil {
		return err
	}
	for _, name := range names {
		from := filepath.Join(s.dir, name)
		to := filepath.Join(s.dir, renameFile(name, oldID, newID))
		err := lockfile.With(ctx, from, func() error {
			return os.Rename(from, to)
		}, s.lockOpts...)
		if err != nil {
			return fmt.Errorf("rename %s: %w", name, err)
		}
	}
	return nil
}

// sourceFiles lists checkpoint file names owned by sourceID. Buffer files are
// matched on an all-digit index suffix so "fw" never claims "fw_2" files.
func (s *Store) sourceFiles(sourceID string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var names []string
	bufferPrefix := "buffer_count_" + sourceID + "_"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case name == LastRunKey.fileName(sourceID), name == LastCycleKey.fileName(sourceID):
			names = append(names, name)
		case strings.HasPrefix(name, bufferPrefix) && isDigits(strings.TrimPrefix(name, bufferPrefix)):
			names = append(names, name)
		}
	}
	return names, nil
}

func renameFile(name, oldID, newID string) string {
	switch {
	case name == LastRunKey.fileName(oldID):
		return LastRunKey.fileName(newID)
	case name == LastCycleKey.fileName(oldID):
		return LastCycleKey.fileName(newID)
	default:
		idx, _ := strconv.Atoi(strings.TrimPrefix(name, "buffer_count_"+oldID+"_"))
		return BufferKey(idx).fileName(newID)
	}
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validateSourceID(sourceID string) error {
	if strings.TrimSpace(sourceID) == "" || strings.ContainsAny(sourceID, `/\`) {
		return services.Wrap(services.ErrValidation, "checkpoint", "validate", fmt.Sprintf("invalid source id %q", sourceID), nil)
	}
	return nil
}

func formatTimestamp(ts time.Time) string {
	return ts.Format(time.RFC3339Nano)
}

func parseTimestamp(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, nil
	}
	// Zone-less ISO values are read as UTC.
	return time.Parse("2006-01-02T15:04:05.999999999", raw)
}
