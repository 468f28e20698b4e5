package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"logsentinel/internal/checkpoint"
	"logsentinel/internal/config"
	"logsentinel/internal/daemon"
	"logsentinel/internal/history"
	"logsentinel/internal/preflight"
	"logsentinel/internal/textutil"
)

type stageStatus struct {
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	Buffer     int    `json:"buffer"`
	Threshold  int    `json:"threshold,omitempty"`
	LastStatus string `json:"last_status,omitempty"`
	LastRun    string `json:"last_run,omitempty"`
}

type sourceStatus struct {
	ID        string        `json:"id"`
	Label     string        `json:"label"`
	Enabled   bool          `json:"enabled"`
	LastRun   string        `json:"last_run"`
	LastCycle string        `json:"last_cycle"`
	Stages    []stageStatus `json:"stages"`
}

type statusReport struct {
	DaemonRunning bool           `json:"daemon_running"`
	ConfigPath    string         `json:"config_path"`
	Namespace     string         `json:"namespace"`
	Sources       []sourceStatus `json:"sources"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		check   bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, checkpoint and stage status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report, err := collectStatus(cmd.Context(), ctx, cfg)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			var lines []string
			lines = append(lines, renderSectionHeader("Daemon", colorize)...)
			if report.DaemonRunning {
				lines = append(lines, renderStatusLine("Daemon", statusOK, "Running", colorize))
			} else {
				lines = append(lines, renderStatusLine("Daemon", statusInfo, "Stopped", colorize))
			}
			lines = append(lines,
				renderStatusLine("Config", statusInfo, report.ConfigPath, colorize),
				renderStatusLine("State namespace", statusInfo, report.Namespace, colorize),
			)

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Paths", colorize)...)
			for _, r := range []preflight.Result{
				preflight.CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
				preflight.CheckDirectoryAccess("Report directory", cfg.Paths.ReportDir),
				preflight.CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
			} {
				lines = append(lines, checkLine(r, colorize))
			}
			fmt.Fprintln(out, strings.Join(lines, "\n"))

			fmt.Fprintln(out)
			fmt.Fprintln(out, strings.Join(renderSectionHeader("Sources", colorize), "\n"))
			fmt.Fprintln(out, renderTable(
				[]string{"Source", "Enabled", "Last Run", "Last Cycle", "Stages"},
				sourceRows(report.Sources),
				nil,
			))

			if check {
				checkCtx := cmd.Context()
				if checkCtx == nil {
					checkCtx = context.Background()
				}
				lines = []string{""}
				lines = append(lines, renderSectionHeader("Checks", colorize)...)
				for _, r := range preflight.RunAll(checkCtx, cfg) {
					lines = append(lines, checkLine(r, colorize))
				}
				for _, r := range preflight.CheckServices(checkCtx, cfg) {
					lines = append(lines, checkLine(r, colorize))
				}
				fmt.Fprintln(out, strings.Join(lines, "\n"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Probe log files, prompts, LLM credentials and SMTP servers")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of tables")
	return cmd
}

func collectStatus(cmdCtx context.Context, ctx *commandContext, cfg *config.Config) (statusReport, error) {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	running, err := daemon.IsRunning(cfg)
	if err != nil {
		return statusReport{}, err
	}
	store, err := ctx.checkpoints()
	if err != nil {
		return statusReport{}, err
	}
	// History is optional; status still renders checkpoints without it.
	hist, histErr := ctx.openHistory()
	if histErr == nil {
		defer hist.Close()
	}

	report := statusReport{
		DaemonRunning: running,
		ConfigPath:    ctx.configPath,
		Namespace:     cfg.StateNamespace(),
	}
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		var latest map[int]history.Run
		if histErr == nil {
			latest, _ = hist.Latest(cmdCtx, src.ID)
		}
		report.Sources = append(report.Sources, describeSource(src, store.Snapshot(src.ID, len(src.Stages)), latest))
	}
	return report, nil
}

func describeSource(src *config.Source, snap checkpoint.Snapshot, latest map[int]history.Run) sourceStatus {
	status := sourceStatus{
		ID:        src.ID,
		Label:     src.Label(),
		Enabled:   src.IsEnabled(),
		LastRun:   formatInstant(snap.LastRun, snap.HasLastRun, src.Location),
		LastCycle: formatInstant(snap.LastCycle, snap.HasLastCycle, src.Location),
	}
	for idx, stage := range src.Stages {
		st := stageStatus{Name: stage.Name, Enabled: src.StageEnabled(idx)}
		if idx > 0 {
			st.Threshold = max(stage.TriggerThreshold, 1)
			if idx < len(snap.Buffers) {
				st.Buffer = snap.Buffers[idx]
			}
		}
		if run, ok := latest[idx]; ok {
			st.LastStatus = string(run.Status)
			st.LastRun = formatInstant(run.FinishedAt, true, src.Location)
		}
		status.Stages = append(status.Stages, st)
	}
	return status
}

func sourceRows(sources []sourceStatus) [][]string {
	rows := make([][]string, 0, len(sources))
	for _, s := range sources {
		parts := make([]string, 0, len(s.Stages))
		for idx, st := range s.Stages {
			label := textutil.Title(st.Name)
			if idx > 0 {
				label = fmt.Sprintf("%s %d/%d", label, st.Buffer, st.Threshold)
			}
			if !st.Enabled {
				label += " (off)"
			} else if st.LastStatus != "" {
				label += " " + st.LastStatus
			}
			parts = append(parts, label)
		}
		rows = append(rows, []string{
			s.ID,
			textutil.Ternary(s.Enabled, "yes", "no"),
			s.LastRun,
			s.LastCycle,
			strings.Join(parts, ", "),
		})
	}
	return rows
}
