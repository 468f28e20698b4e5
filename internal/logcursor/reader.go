// Package logcursor reads the slice of a log file that is newer than a
// source's checkpoint.
//
// The reader never persists anything: it returns a candidate checkpoint that
// the caller stores only after the downstream analysis has been saved.
package logcursor

import (
	"bufio"
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"logsentinel/internal/logging"
	"logsentinel/internal/services"
)

// CheckpointSource supplies the last consumed instant for a source.
type CheckpointSource interface {
	LastRun(sourceID string) (time.Time, bool)
}

// Request describes one cursor read.
type Request struct {
	Path          string
	LookbackHours int
	Location      *time.Location
	SourceID      string
	// LineCap bounds the kept lines; zero or negative disables the cap.
	LineCap int
}

// Result is the window read for one run.
type Result struct {
	// Text is Lines joined by newlines, plus a trailing warning line when
	// the cap dropped entries.
	Text                string
	WindowStart         time.Time
	WindowEnd           time.Time
	LineCount           int
	CandidateCheckpoint time.Time
	// Dropped counts lines newer than WindowStart that exceeded the cap.
	Dropped int
	Lines   []string
}

// Reader streams log files against stored checkpoints.
type Reader struct {
	checkpoints CheckpointSource
	logger      *slog.Logger
	now         func() time.Time
}

// NewReader constructs a Reader.
func NewReader(checkpoints CheckpointSource, logger *slog.Logger) *Reader {
	return &Reader{
		checkpoints: checkpoints,
		logger:      logging.NewComponentLogger(logger, "logcursor"),
		now:         time.Now,
	}
}

// SetClock overrides the wall clock; intended for tests.
func (r *Reader) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

const ctxCheckEvery = 4096

// Read returns every line whose resolved timestamp is strictly after the
// window start, earliest first, capped at LineCap.
//
// Lines without a parseable timestamp inherit the previous parsed timestamp;
// lines before the first parseable one use the file modification time.
func (r *Reader) Read(ctx context.Context, req Request) (Result, error) {
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	windowEnd := r.now().In(loc)
	windowStart := windowEnd.Add(-time.Duration(req.LookbackHours) * time.Hour)
	if r.checkpoints != nil {
		if last, ok := r.checkpoints.LastRun(req.SourceID); ok {
			windowStart = last.In(loc)
		}
	}

	file, err := os.Open(req.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, services.Wrap(services.ErrNotFound, "logcursor", "open", req.Path, err)
		}
		return Result{}, fmt.Errorf("open log %s: %w", req.Path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("stat log %s: %w", req.Path, err)
	}
	mtime := info.ModTime().In(loc)

	kept := &lineHeap{}
	total := 0
	var evicted *entry
	err = scanLines(ctx, file, loc, windowEnd, mtime, func(e entry) {
		if !e.ts.After(windowStart) {
			return
		}
		total++
		heap.Push(kept, e)
		if req.LineCap > 0 && kept.Len() > req.LineCap {
			out := heap.Pop(kept).(entry)
			if evicted == nil || compareEntries(out, *evicted) < 0 {
				evicted = &out
			}
		}
	})
	if err != nil {
		return Result{}, fmt.Errorf("read log %s: %w", req.Path, err)
	}

	entries := []entry(*kept)
	slices.SortFunc(entries, compareEntries)

	// The next run resumes strictly after the last kept timestamp, so the cap
	// must not split lines sharing that timestamp.
	if evicted != nil && len(entries) > 0 && entries[len(entries)-1].ts.Equal(evicted.ts) {
		tie := evicted.ts
		cut := len(entries)
		for cut > 0 && entries[cut-1].ts.Equal(tie) {
			cut--
		}
		if cut > 0 {
			entries = entries[:cut]
		} else {
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				return Result{}, fmt.Errorf("rewind log %s: %w", req.Path, err)
			}
			entries = entries[:0]
			err = scanLines(ctx, file, loc, windowEnd, mtime, func(e entry) {
				if e.ts.Equal(tie) {
					entries = append(entries, e)
				}
			})
			if err != nil {
				return Result{}, fmt.Errorf("read log %s: %w", req.Path, err)
			}
		}
	}

	result := Result{
		WindowStart:         windowStart,
		WindowEnd:           windowEnd,
		LineCount:           len(entries),
		CandidateCheckpoint: windowEnd,
		Dropped:             total - len(entries),
		Lines:               make([]string, len(entries)),
	}
	for i, e := range entries {
		result.Lines[i] = e.text
	}
	if len(entries) > 0 {
		result.CandidateCheckpoint = entries[len(entries)-1].ts
	}

	text := strings.Join(result.Lines, "\n")
	if result.Dropped > 0 {
		warning := fmt.Sprintf("!!! WARNING: %d new lines exceed the per-run cap of %d; analyzing the earliest %d, the remaining %d are deferred to the next run. !!!",
			total, req.LineCap, len(entries), result.Dropped)
		text += "\n" + warning
		logging.WarnWithContext(r.logger, "log volume exceeded line cap", "log_cap_exceeded",
			logging.String(logging.FieldSourceID, req.SourceID),
			logging.Int("kept", len(entries)),
			logging.Int("dropped", result.Dropped),
			logging.String(logging.FieldErrorHint, "raise scheduler.max_log_lines or shorten run_interval_seconds"),
			logging.String(logging.FieldImpact, "remaining lines are analyzed on the next run"),
		)
	}
	result.Text = text

	r.logger.Debug("log window read",
		logging.String(logging.FieldSourceID, req.SourceID),
		logging.String("window_start", windowStart.Format(time.RFC3339)),
		logging.String("window_end", windowEnd.Format(time.RFC3339)),
		logging.Int("lines", result.LineCount),
	)
	return result, nil
}

// scanLines resolves a timestamp for every non-blank line and hands it to fn
// in file order. Lines without one inherit the previous timestamp, starting
// from fallback.
func scanLines(ctx context.Context, r io.Reader, loc *time.Location, ref, fallback time.Time, fn func(entry)) error {
	inherited := fallback
	seq := 0
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		raw, readErr := reader.ReadString('\n')
		if raw != "" {
			seq++
			if seq%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			line := strings.TrimRight(strings.ToValidUTF8(raw, ""), "\r\n")
			if strings.TrimSpace(line) != "" {
				if ts, ok := parseTimestamp(line, loc, ref); ok {
					inherited = ts
				}
				fn(entry{ts: inherited, seq: seq, text: line})
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

type entry struct {
	ts   time.Time
	seq  int
	text string
}

// compareEntries orders by timestamp, then file position.
func compareEntries(a, b entry) int {
	if c := a.ts.Compare(b.ts); c != 0 {
		return c
	}
	return a.seq - b.seq
}

// lineHeap is a max-heap on (ts, seq) so the latest entry is evicted first.
type lineHeap []entry

func (h lineHeap) Len() int           { return len(h) }
func (h lineHeap) Less(i, j int) bool { return compareEntries(h[i], h[j]) > 0 }
func (h lineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *lineHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *lineHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
