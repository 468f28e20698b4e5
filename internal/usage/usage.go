// Package usage counts LLM attempts per credential alias in a small JSON file
// shared across processes.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"logsentinel/internal/fileutil"
	"logsentinel/internal/lockfile"
	"logsentinel/internal/metrics"
)

// FileName is the tracker file kept under the state namespace directory.
const FileName = "api_usage.json"

// Tracker persists alias -> call count.
type Tracker struct {
	path     string
	lockOpts []lockfile.Option

	mu sync.Mutex
}

// Entry is one alias and its count.
type Entry struct {
	Alias string
	Count int
}

// NewTracker returns a tracker persisting to path.
func NewTracker(path string, opts ...lockfile.Option) *Tracker {
	return &Tracker{path: path, lockOpts: opts}
}

// Path returns the backing file.
func (t *Tracker) Path() string {
	return t.path
}

// Increment adds one call to alias.
func (t *Tracker) Increment(ctx context.Context, alias string) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		alias = "unknown"
	}
	metrics.RecordLLMAttempt(alias)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create usage dir: %w", err)
	}
	return lockfile.With(ctx, t.path, func() error {
		counts, err := t.read()
		if err != nil {
			return err
		}
		counts[alias]++
		if err := fileutil.WriteJSONAtomic(t.path, counts); err != nil {
			return fmt.Errorf("write usage: %w", err)
		}
		return nil
	}, t.lockOpts...)
}

// Counts returns a copy of the persisted counts. A missing file is empty.
func (t *Tracker) Counts() (map[string]int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.read()
}

// Entries returns counts sorted by descending count then alias.
func (t *Tracker) Entries() ([]Entry, error) {
	counts, err := t.Counts()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(counts))
	for alias, count := range counts {
		entries = append(entries, Entry{Alias: alias, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Alias < entries[j].Alias
	})
	return entries, nil
}

// read treats a corrupt file as empty so a damaged tracker never blocks analysis.
func (t *Tracker) read() (map[string]int, error) {
	counts := make(map[string]int)
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return counts, nil
		}
		return nil, fmt.Errorf("read usage: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return counts, nil
	}
	if err := json.Unmarshal(data, &counts); err != nil {
		return make(map[string]int), nil
	}
	return counts, nil
}
