// Package lockfile provides an exclusive cross-process lock built on atomic
// creation of a sibling "<target>.lock" file.
//
// Locks whose file is older than the stale threshold are reaped so a crashed
// holder cannot wedge the scheduler. Acquisition that exceeds the timeout
// returns ErrBusy, which callers should treat as retryable.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"logsentinel/internal/services"
)

const (
	// DefaultTimeout bounds how long Acquire waits for a held lock.
	DefaultTimeout = 10 * time.Second
	// DefaultStaleAfter is the lock file age beyond which the holder is presumed dead.
	DefaultStaleAfter = 10 * time.Second

	minBackoff = 50 * time.Millisecond
	maxBackoff = 150 * time.Millisecond
)

// ErrBusy reports that the lock could not be acquired before the timeout.
var ErrBusy = fmt.Errorf("lock busy: %w", services.ErrTransient)

// Option customizes acquisition behaviour.
type Option func(*options)

type options struct {
	timeout    time.Duration
	staleAfter time.Duration
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.staleAfter = d
		}
	}
}

// Lock is a held lock file. Release must be called exactly once.
type Lock struct {
	path string
	file *os.File
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Acquire blocks until the lock for target is held, the timeout elapses, or
// ctx is cancelled.
func Acquire(ctx context.Context, target string, opts ...Option) (*Lock, error) {
	if target == "" {
		return nil, errors.New("lockfile: target path is required")
	}
	cfg := options{timeout: DefaultTimeout, staleAfter: DefaultStaleAfter}
	for _, opt := range opts {
		opt(&cfg)
	}

	lockPath := target + ".lock"
	deadline := time.Now().Add(cfg.timeout)
	for {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = file.WriteString(strconv.Itoa(os.Getpid()))
			return &Lock{path: lockPath, file: file}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", lockPath, err)
		}

		if reapStale(lockPath, cfg.staleAfter) {
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquire %s after %s: %w", lockPath, cfg.timeout, ErrBusy)
		}

		wait := minBackoff + rand.N(maxBackoff-minBackoff)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// beforeReap runs between the staleness check and the reap; tests use it to
// interleave a competing holder.
var beforeReap = func() {}

// reapStale removes the lock file when its mtime is older than staleAfter.
// The file is first renamed aside and compared with the one that was judged
// stale, so a lock created by another waiter in between is put back instead
// of deleted. Losing the rename race to another reaper still counts as reaped.
func reapStale(lockPath string, staleAfter time.Duration) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	if time.Since(info.ModTime()) <= staleAfter {
		return false
	}
	beforeReap()

	grave := fmt.Sprintf("%s.stale-%d-%d", lockPath, os.Getpid(), rand.Uint64())
	if err := os.Rename(lockPath, grave); err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	moved, err := os.Stat(grave)
	if err == nil && !os.SameFile(info, moved) {
		_ = os.Link(grave, lockPath)
		_ = os.Remove(grave)
		return false
	}
	_ = os.Remove(grave)
	return true
}

// Release closes and removes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	closeErr := l.file.Close()
	l.file = nil
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return closeErr
}

// With runs fn while holding the lock for target. The lock is released on
// every exit path, including panics in fn.
func With(ctx context.Context, target string, fn func() error, opts ...Option) (err error) {
	lock, err := Acquire(ctx, target, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()
	return fn()
}
