package preflight

import (
	"context"
	"fmt"

	"logsentinel/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Required marks checks whose failure prevents the daemon from starting.
	Required bool
}

// RunAll executes the filesystem checks for the given config: the state,
// report and log directories, plus the log file and prompt files of every
// enabled source.
func RunAll(_ context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		required(CheckDirectoryAccess("State directory", cfg.Paths.StateDir)),
		required(CheckDirectoryAccess("Report directory", cfg.Paths.ReportDir)),
		required(CheckDirectoryAccess("Log directory", cfg.Paths.LogDir)),
	}

	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if !src.IsEnabled() {
			continue
		}
		results = append(results, CheckFileReadable(fmt.Sprintf("%s log file", src.ID), src.LogFile))
		for idx, stage := range src.Stages {
			if !src.StageEnabled(idx) {
				continue
			}
			results = append(results, CheckFileReadable(fmt.Sprintf("%s/%s prompt", src.ID, stage.Name), stage.PromptFile))
			if stage.SummaryConf != nil && stage.SummaryConf.PromptFile != "" {
				results = append(results, CheckFileReadable(fmt.Sprintf("%s/%s summary prompt", src.ID, stage.Name), stage.SummaryConf.PromptFile))
			}
			for _, sub := range stage.Substages {
				if sub.IsEnabled() {
					results = append(results, CheckFileReadable(fmt.Sprintf("%s/%s prompt", src.ID, sub.Name), sub.PromptFile))
				}
			}
		}
	}
	return results
}

// Failed returns the failing results, and whether any of them is required.
func Failed(results []Result) ([]Result, bool) {
	var (
		failed   []Result
		blocking bool
	)
	for _, r := range results {
		if r.Passed {
			continue
		}
		failed = append(failed, r)
		if r.Required {
			blocking = true
		}
	}
	return failed, blocking
}

func required(r Result) Result {
	r.Required = true
	return r
}
