package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"logsentinel/internal/daemonrun"
	"logsentinel/internal/logging"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		logLevel    string
		development bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				ConfigPath:  ctx.configPath,
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}

func newOnceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run every due stage of every enabled source once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg, "")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			summary, err := daemonrun.Once(cmd.Context(), cfg, daemonrun.Options{ConfigPath: ctx.configPath}, logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Processed %d source(s) in %s\n", summary.Sources, summary.Duration.Round(time.Millisecond))
			if len(summary.Failed) > 0 {
				return fmt.Errorf("%d source(s) failed: %s", len(summary.Failed), strings.Join(summary.Failed, ", "))
			}
			return nil
		},
	}
}
