package analysis

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"logsentinel/internal/contextfiles"
	"logsentinel/internal/logging"
	"logsentinel/internal/services/llm"
)

// maxAttachmentBytes bounds a single attachment sent inline.
const maxAttachmentBytes = 8 << 20

// buildParts converts attachment files to chat content parts. Images become
// data URLs, UTF-8 text is framed inline, anything else is skipped.
func buildParts(paths []string, logger *slog.Logger) []llm.Part {
	parts := make([]llm.Part, 0, len(paths))
	for _, path := range paths {
		part, err := attachmentPart(path)
		if err != nil {
			logging.WarnWithContext(logger, "attachment skipped", "attachment_skipped",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "attach images or UTF-8 text files only"),
				logging.String(logging.FieldImpact, "analysis runs without this attachment"),
			)
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

func attachmentPart(path string) (llm.Part, error) {
	info, err := os.Stat(path)
	if err != nil {
		return llm.Part{}, err
	}
	if info.Size() > maxAttachmentBytes {
		return llm.Part{}, fmt.Errorf("attachment is %d bytes, limit %d", info.Size(), maxAttachmentBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return llm.Part{}, err
	}
	mimeType := http.DetectContentType(data)
	if strings.HasPrefix(mimeType, "image/") {
		return llm.ImagePart("data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)), nil
	}
	if utf8.Valid(data) {
		return llm.TextPart(contextfiles.Frame(filepath.Base(path), string(data))), nil
	}
	return llm.Part{}, fmt.Errorf("unsupported attachment type %s", mimeType)
}
