package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Slugify lowercases and trims value, removes characters other than word
// characters, whitespace and hyphens, then collapses runs of whitespace,
// underscores and hyphens into a single underscore.
//
// "Daily Summary" becomes "daily_summary"; "Weekly -- Roll-up!" becomes
// "weekly_roll_up".
func Slugify(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	var b strings.Builder
	pendingSep := false
	for _, r := range value {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			pendingSep = true
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r):
			if pendingSep {
				b.WriteByte('_')
				pendingSep = false
			}
			b.WriteRune(r)
		}
	}
	if pendingSep {
		b.WriteByte('_')
	}
	return b.String()
}

// Title returns value with each word title-cased, used for stage labels in
// email subjects and CLI output.
func Title(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return cases.Title(language.Und).String(value)
}
