package analysis

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"logsentinel/internal/contextfiles"
	"logsentinel/internal/services"
)

const (
	placeholderLogs    = "{logs_content}"
	placeholderReports = "{reports_content}"
	placeholderBonus   = "{bonus_context}"
)

// RenderPrompt substitutes content and bonus context into template. Both
// content placeholders receive the same text.
func RenderPrompt(template, content, bonus string) (string, error) {
	if !strings.Contains(template, placeholderLogs) && !strings.Contains(template, placeholderReports) {
		return "", fmt.Errorf("prompt has neither %s nor %s placeholder", placeholderLogs, placeholderReports)
	}
	if strings.TrimSpace(bonus) == "" {
		bonus = contextfiles.Empty
	}
	replacer := strings.NewReplacer(
		placeholderLogs, content,
		placeholderReports, content,
		placeholderBonus, bonus,
	)
	return replacer.Replace(template), nil
}

func loadTemplate(req Request) (string, error) {
	if path := strings.TrimSpace(req.PromptFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", Fatal(services.ErrConfiguration, fmt.Errorf("prompt file %s not found", path))
			}
			return "", Fatal(services.ErrConfiguration, fmt.Errorf("read prompt file: %w", err))
		}
		return string(data), nil
	}
	if strings.TrimSpace(req.Prompt) != "" {
		return req.Prompt, nil
	}
	return "", Fatal(services.ErrConfiguration, errors.New("no prompt configured"))
}
