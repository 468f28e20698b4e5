package notifications

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"logsentinel/internal/textutil"
)

//go:embed templates/report_email.html.tmpl
var reportTemplateText string

var (
	reportTemplate = template.Must(template.New("report_email").
			Funcs(template.FuncMap{"join": strings.Join}).
			Parse(reportTemplateText))
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
)

// ReportEmail is the content of one report email.
type ReportEmail struct {
	SourceLabel    string
	Hostname       string
	Stage          string
	WindowStart    string
	WindowEnd      string
	Generated      string
	Stats          map[string]any
	Markdown       string
	FailedWorkers  []string
	ReduceFallback bool
}

type statRow struct {
	Key   string
	Value string
}

// Subject returns the email subject line.
func (e ReportEmail) Subject() string {
	return fmt.Sprintf("[logsentinel] %s - %s (%s to %s)", textutil.Title(e.Stage), e.SourceLabel, e.WindowStart, e.WindowEnd)
}

// Render produces the HTML and plain text bodies.
func (e ReportEmail) Render() (string, string, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(e.Markdown), &body); err != nil {
		return "", "", fmt.Errorf("render markdown: %w", err)
	}
	data := struct {
		Subject        string
		StageTitle     string
		SourceLabel    string
		Hostname       string
		WindowStart    string
		WindowEnd      string
		Generated      string
		Stats          []statRow
		FailedWorkers  []string
		ReduceFallback bool
		Body           template.HTML
	}{
		Subject:        e.Subject(),
		StageTitle:     textutil.Title(e.Stage),
		SourceLabel:    e.SourceLabel,
		Hostname:       e.Hostname,
		WindowStart:    e.WindowStart,
		WindowEnd:      e.WindowEnd,
		Generated:      e.Generated,
		Stats:          statRows(e.Stats),
		FailedWorkers:  e.FailedWorkers,
		ReduceFallback: e.ReduceFallback,
		// goldmark escapes raw HTML unless WithUnsafe is set.
		Body: template.HTML(body.String()),
	}
	var out bytes.Buffer
	if err := reportTemplate.Execute(&out, data); err != nil {
		return "", "", fmt.Errorf("render email template: %w", err)
	}
	return out.String(), e.plainText(), nil
}

func (e ReportEmail) plainText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", e.Subject())
	fmt.Fprintf(&b, "Host: %s\n", e.Hostname)
	if e.ReduceFallback {
		b.WriteString("Note: the merge step failed; raw worker outputs follow.\n")
	}
	if len(e.FailedWorkers) > 0 {
		fmt.Fprintf(&b, "Workers without output: %s\n", strings.Join(e.FailedWorkers, ", "))
	}
	for _, row := range statRows(e.Stats) {
		fmt.Fprintf(&b, "%s: %s\n", row.Key, row.Value)
	}
	b.WriteString("\n")
	b.WriteString(e.Markdown)
	b.WriteString("\n")
	return b.String()
}

func statRows(stats map[string]any) []statRow {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]statRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, statRow{Key: k, Value: formatStat(stats[k])})
	}
	return rows
}

func formatStat(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}
