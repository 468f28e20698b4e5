package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newStateCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset checkpoint state",
	}
	cmd.AddCommand(newStateResetCommand(ctx))
	return cmd
}

func newStateResetCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset [SOURCE...]",
		Short: "Clear checkpoints so sources start over from their lookback window",
		Long: "Removes last-run, cycle and buffer checkpoints. With no arguments every " +
			"configured source is reset. Outside test mode --force is required.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Scheduler.TestMode && !force {
				return fmt.Errorf("refusing to reset %s state without --force", cfg.StateNamespace())
			}
			if err := ctx.requireStopped("reset state"); err != nil {
				return err
			}

			ids := make([]string, 0, len(args))
			for _, arg := range args {
				if id := strings.TrimSpace(arg); id != "" {
					ids = append(ids, id)
				}
			}
			if len(ids) == 0 {
				for i := range cfg.Sources {
					ids = append(ids, cfg.Sources[i].ID)
				}
			}
			if len(ids) == 0 {
				return errSourceRequired
			}

			store, err := ctx.checkpoints()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range ids {
				if err := store.Reset(cmd.Context(), id); err != nil {
					return fmt.Errorf("reset %s: %w", id, err)
				}
				fmt.Fprintf(out, "Reset %s (%s)\n", id, cfg.StateNamespace())
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Allow resetting production state")
	return cmd
}
