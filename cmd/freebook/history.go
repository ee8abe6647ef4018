package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-freebook/history"
	"github.com/aluiziolira/go-freebook/models"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [--limit N]",
	Short: "Lists the books claimed so far.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		records, err := history.LoadRecords(cfg.HistoryFormat, cfg.HistoryFile)
		if err != nil {
			return err
		}
		if historyLimit > 0 && len(records) > historyLimit {
			records = records[len(records)-historyLimit:]
		}
		renderHistory(cmd.OutOrStdout(), records)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Show only the N most recent claims")
	rootCmd.AddCommand(historyCmd)
}

func renderHistory(w io.Writer, records []*models.ClaimRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No claims recorded yet")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Claimed", "ID", "Title", "Format", "File"})
	for _, r := range records {
		t.AppendRow(table.Row{
			r.ClaimedAt.Local().Format("2006-01-02 15:04"),
			r.BookID,
			r.Title,
			r.Format,
			r.FilePath,
		})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d books", len(records))})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
