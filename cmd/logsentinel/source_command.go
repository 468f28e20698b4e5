package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"logsentinel/internal/report"
)

func newSourceCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage persisted per-source state",
	}
	cmd.AddCommand(newSourceRenameCommand(ctx))
	return cmd
}

func newSourceRenameCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rename OLD NEW",
		Short: "Move checkpoints, reports and history of a source to a new id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldID := strings.TrimSpace(args[0])
			newID := strings.TrimSpace(args[1])
			if oldID == "" || newID == "" {
				return errSourceRequired
			}
			if oldID == newID {
				return fmt.Errorf("old and new source ids are identical")
			}
			if err := ctx.requireStopped("rename source"); err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			checkpoints, err := ctx.checkpoints()
			if err != nil {
				return err
			}
			if err := checkpoints.RenameSource(cmd.Context(), oldID, newID); err != nil {
				return fmt.Errorf("rename checkpoints: %w", err)
			}
			if err := report.NewStore(cfg.Paths.ReportDir, nil).RenameSource(oldID, newID); err != nil {
				return fmt.Errorf("rename reports: %w", err)
			}
			hist, err := ctx.openHistory()
			if err != nil {
				return err
			}
			defer hist.Close()
			if err := hist.RenameSource(cmd.Context(), oldID, newID); err != nil {
				return fmt.Errorf("rename history: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Renamed source %s to %s\n", oldID, newID)
			if _, ok := cfg.FindSource(newID); !ok {
				fmt.Fprintf(out, "Update the source id in %s before the next run.\n", ctx.configPath)
			}
			return nil
		},
	}
}
