package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"logsentinel/internal/config"
	"logsentinel/internal/preflight"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or validate the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		path      string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(path)
			if target == "" {
				if flag := cmd.Flag("config"); flag != nil {
					target = strings.TrimSpace(flag.Value.String())
				}
			}
			if target == "" {
				def, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				target = def
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return err
				}
				target = expanded
			}

			if _, err := os.Stat(target); err == nil {
				if !overwrite {
					return fmt.Errorf("config file %s already exists (use --overwrite to replace it)", target)
				}
			} else if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("stat %s: %w", target, err)
			}

			if err := config.CreateSample(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "Destination path (defaults to --config or the default location)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse the configuration and check sources, prompts and directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration: %s\n", ctx.configPath)

			results := preflight.RunAll(cmd.Context(), cfg)
			colorize := shouldColorize(out)
			for _, result := range results {
				fmt.Fprintln(out, checkLine(result, colorize))
			}
			failed, blocking := preflight.Failed(results)
			if blocking {
				return fmt.Errorf("configuration has %d failing required check(s)", countRequired(failed))
			}
			enabled := 0
			for i := range cfg.Sources {
				if cfg.Sources[i].IsEnabled() {
					enabled++
				}
			}
			fmt.Fprintf(out, "Configuration valid: %d source(s), %d enabled", len(cfg.Sources), enabled)
			if len(failed) > 0 {
				fmt.Fprintf(out, ", %d warning(s)", len(failed))
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}

func countRequired(results []preflight.Result) int {
	n := 0
	for _, r := range results {
		if r.Required {
			n++
		}
	}
	return n
}
