package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"logsentinel/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		source  string
		status  string
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent stage executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			filter := history.Filter{
				SourceID: strings.TrimSpace(source),
				Status:   history.Status(strings.TrimSpace(status)),
				Limit:    limit,
			}
			switch filter.Status {
			case "", history.StatusSucceeded, history.StatusEmpty, history.StatusFailed:
			default:
				return fmt.Errorf("unknown status %q (want succeeded, empty or failed)", status)
			}
			runs, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, runs)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Finished", "Source", "Stage", "Status", "Lines", "Inputs", "Duration", "Detail"},
				historyRows(runs),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "Only show runs of this source")
	cmd.Flags().StringVar(&status, "status", "", "Only show runs with this status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum rows (default 50)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func historyRows(runs []history.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		detail := run.Error
		switch {
		case detail != "":
		case len(run.FailedWorkers) > 0:
			detail = "failed workers: " + strings.Join(run.FailedWorkers, ", ")
		case run.ReduceFallback:
			detail = "reduce fallback"
		default:
			detail = run.ReportPath
		}
		rows = append(rows, []string{
			run.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			run.SourceID,
			run.Stage,
			string(run.Status),
			strconv.Itoa(run.LineCount),
			strconv.Itoa(run.InputReports),
			run.Duration().Round(time.Millisecond).String(),
			truncate(detail, 60),
		})
	}
	return rows
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
