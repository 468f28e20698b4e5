package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	maxLineBytes = 1024 * 1024
	pollInterval = 250 * time.Millisecond
)

// Filter reports whether a line should be emitted. A nil Filter keeps every line.
type Filter func(line string) bool

// Contains returns a Filter matching lines that contain every needle.
func Contains(needles ...string) Filter {
	var kept []string
	for _, n := range needles {
		if n = strings.TrimSpace(n); n != "" {
			kept = append(kept, n)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return func(line string) bool {
		for _, n := range kept {
			if !strings.Contains(line, n) {
				return false
			}
		}
		return true
	}
}

// Position identifies where the next Follow read starts.
type Position struct {
	Offset int64
	// file identifies the resolved file the offset belongs to.
	file os.FileInfo
}

// Last returns up to limit matching lines from the end of path and the
// position just past them. A missing file yields no lines and a zero position.
func Last(path string, limit int, filter Filter) ([]string, Position, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Position{}, nil
		}
		return nil, Position{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, Position{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, Position{}, fmt.Errorf("log path %q is a directory", path)
	}
	if limit <= 0 {
		return nil, Position{Offset: info.Size(), file: info}, nil
	}

	ring := make([]string, limit)
	count, idx := 0, 0
	offset, err := scan(file, func(line string) {
		if filter != nil && !filter(line) {
			return
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		count = min(count+1, limit)
	})
	if err != nil {
		return nil, Position{}, err
	}

	lines := make([]string, count)
	start := 0
	if count == limit {
		start = idx
	}
	for i := range count {
		lines[i] = ring[(start+i)%limit]
	}
	return lines, Position{Offset: offset, file: info}, nil
}

// Follow polls path from pos and calls emit for each new matching line until
// ctx is cancelled. Partial trailing lines are held back until completed.
func Follow(ctx context.Context, path string, pos Position, filter Filter, emit func(string)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		next, err := readNew(path, pos, filter, emit)
		if err != nil {
			return err
		}
		pos = next

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func readNew(path string, pos Position, filter Filter, emit func(string)) (Position, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Position{}, nil
		}
		return pos, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return pos, fmt.Errorf("stat log file: %w", err)
	}
	offset := pos.Offset
	if pos.file == nil || !os.SameFile(pos.file, info) || info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return Position{Offset: offset, file: info}, nil
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return pos, fmt.Errorf("seek log file: %w", err)
	}
	read, err := scan(file, func(line string) {
		if filter == nil || filter(line) {
			emit(line)
		}
	})
	if err != nil {
		return pos, err
	}
	return Position{Offset: offset + read, file: info}, nil
}

// scan feeds each complete line to fn and returns the bytes consumed.
func scan(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		raw, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return consumed, nil
			}
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(raw))
		line := strings.TrimRight(raw, "\r\n")
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		fn(line)
	}
}
