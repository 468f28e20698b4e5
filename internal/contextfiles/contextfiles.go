// Package contextfiles loads operator supplied reference files (network
// diagrams, asset lists, runbooks) that ride along with every analysis prompt.
package contextfiles

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"logsentinel/internal/logging"
)

// Empty is substituted when no context file could be read.
const Empty = "No additional context provided."

// Frame wraps content in the start/end markers used inside prompts.
func Frame(name, content string) string {
	return fmt.Sprintf("--- START OF FILE: %s ---\n%s\n--- END OF FILE: %s ---", name, content, name)
}

// Load reads every path and returns the framed contents joined by blank
// lines. Missing or unreadable files are logged and skipped.
func Load(paths []string, logger *slog.Logger) string {
	logger = logging.NewComponentLogger(logger, "contextfiles")
	parts := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logging.WarnWithContext(logger, "context file skipped", "context_file_unreadable",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check context_files paths in the source config"),
				logging.String(logging.FieldImpact, "analysis runs without this reference file"),
			)
			continue
		}
		content := strings.ToValidUTF8(string(data), "")
		parts = append(parts, Frame(filepath.Base(path), content))
	}
	if len(parts) == 0 {
		return Empty
	}
	return strings.Join(parts, "\n\n")
}

// Existing filters paths down to regular files that exist.
func Existing(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			out = append(out, path)
		}
	}
	return out
}
