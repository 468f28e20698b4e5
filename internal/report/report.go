// Package report persists stage outputs as immutable JSON files laid out by
// source, stage slug and local date.
//
// Layout:
//
//	<root>/<source>/<stage_slug>/<YYYY-MM-DD>/<HH-MM-SS>.json
//	<root>/<source>/.workers/<stage_slug>/<worker_slug>/<YYYY-MM-DD>/<HH-MM-SS>.json
//
// Dates and times are rendered in the source timezone. A name collision gets
// a -N suffix. Worker reports live under a dot directory so stage listings
// never see them.
package report

import (
	"time"
)

// Report is one persisted stage (or worker) output.
type Report struct {
	Hostname            string         `json:"hostname"`
	AnalysisStartTime   string         `json:"analysis_start_time"`
	AnalysisEndTime     string         `json:"analysis_end_time"`
	ReportGeneratedTime string         `json:"report_generated_time"`
	SummaryStats        map[string]any `json:"summary_stats"`
	AnalysisMarkdown    string         `json:"analysis_details_markdown"`
	ReportType          string         `json:"report_type"`
	RawLogCount         *int           `json:"raw_log_count,omitempty"`
	SummarizedFiles     []string       `json:"summarized_files,omitempty"`
	FailedWorkers       []string       `json:"failed_workers,omitempty"`
	Worker              string         `json:"worker,omitempty"`
	ReduceFallback      bool           `json:"reduce_fallback,omitempty"`
	WorkerReports       []string       `json:"worker_reports,omitempty"`
}

// FormatTime renders t as ISO-8601 for report fields.
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ParseTime parses a report time field.
func ParseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339, value)
}

// Window returns the parsed analysis start and end times.
func (r Report) Window() (time.Time, time.Time, error) {
	start, err := ParseTime(r.AnalysisStartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseTime(r.AnalysisEndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// IntPtr is a helper for RawLogCount.
func IntPtr(v int) *int {
	return &v
}
