package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"stampede/internal/history"
	"stampede/internal/report"
)

func newHistoryCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "history --db <file>",
		Short: "List previous runs stored with run --history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != "text" && output != "json" {
				return &exitError{code: ExitError, err: fmt.Errorf("--output must be 'text' or 'json', got %q", output)}
			}
			store, err := history.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(limit)
			if err != nil {
				return err
			}
			if output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			writeHistory(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "stampede.db", "history file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show at most this many runs (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json")
	return cmd
}

func writeHistory(w io.Writer, records []history.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}

	r := lipgloss.NewRenderer(w)
	pass := r.NewStyle().Foreground(lipgloss.Color("2"))
	fail := r.NewStyle().Foreground(lipgloss.Color("1"))

	t := table.New().
		Headers("STARTED", "RUN ID", "NAME", "STATE", "DURATION", "VUS", "REQS", "ERRORS", "P95", "THRESHOLDS")
	for _, rec := range records {
		verdict := pass.Render("pass")
		if !rec.Passed {
			verdict = fail.Render("fail")
		}
		t.Row(
			rec.Started.Local().Format(time.DateTime),
			rec.ID,
			rec.Name,
			rec.State,
			rec.Duration.Round(time.Second).String(),
			fmt.Sprint(rec.PeakVUs),
			report.FormatNumber(rec.Requests),
			fmt.Sprintf("%.2f%%", rec.ErrorRate*100),
			report.FormatDuration(rec.P95),
			verdict,
		)
	}
	fmt.Fprintln(w, t.Render())
}
