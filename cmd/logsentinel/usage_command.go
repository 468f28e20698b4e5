package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"logsentinel/internal/usage"
)

func newUsageCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show LLM call counts per credential alias",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.checkpoints()
			if err != nil {
				return err
			}
			tracker := usage.NewTracker(filepath.Join(store.Dir(), usage.FileName))
			entries, err := tracker.Entries()
			if err != nil {
				return err
			}
			if jsonOut {
				counts := make(map[string]int, len(entries))
				for _, e := range entries {
					counts[e.Alias] = e.Count
				}
				return writeJSON(cmd, counts)
			}
			rows := make([][]string, 0, len(entries))
			total := 0
			for _, e := range entries {
				rows = append(rows, []string{e.Alias, strconv.Itoa(e.Count)})
				total += e.Count
			}
			if len(rows) > 0 {
				rows = append(rows, []string{"total", strconv.Itoa(total)})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Credential", "Calls"}, rows, []columnAlignment{alignLeft, alignRight}))
			fmt.Fprintf(out, "Source: %s\n", tracker.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}
