package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// LogLine renders an ISO-8601 log line stamped at ts.
func LogLine(ts time.Time, msg string) string {
	return fmt.Sprintf("%s %s", ts.Format(time.RFC3339), msg)
}

// WriteLog writes lines to path, creating parent directories.
func WriteLog(t testing.TB, path string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	body := strings.Join(lines, "\n")
	if len(lines) > 0 {
		body += "\n"
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// AppendLog appends lines to path.
func AppendLog(t testing.TB, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			t.Fatalf("append %s: %v", path, err)
		}
	}
}

// SequentialLog writes n lines one second apart starting at start and
// returns the rendered lines.
func SequentialLog(t testing.TB, path string, start time.Time, n int) []string {
	t.Helper()
	lines := make([]string, n)
	for i := range lines {
		lines[i] = LogLine(start.Add(time.Duration(i)*time.Second), fmt.Sprintf("event %d", i+1))
	}
	WriteLog(t, path, lines...)
	return lines
}

// WritePrompt writes a prompt template and returns its path.
func WritePrompt(t testing.TB, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write prompt %s: %v", path, err)
	}
	return path
}
