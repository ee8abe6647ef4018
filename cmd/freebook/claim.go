package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-freebook/config"
	"github.com/aluiziolira/go-freebook/history"
	"github.com/aluiziolira/go-freebook/models"
	"github.com/aluiziolira/go-freebook/scraper"
	"github.com/aluiziolira/go-freebook/settings"
)

var (
	claimForce      bool
	claimNoDownload bool
)

var claimCmd = &cobra.Command{
	Use:   "claim [--force] [--no-download]",
	Short: "Claims today's free ebook once and exits.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := settings.Load(cfg.SettingsFile)
		if err != nil {
			return err
		}

		ledger, err := history.Open(cfg.HistoryFormat, cfg.HistoryFile, cfg.DedupeMaxSize)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer func() {
			if err := ledger.Close(); err != nil {
				slog.Error("close history", slog.Any("error", err))
			}
		}()

		metrics := scraper.NewMetrics()
		server := startMetricsServer(cfg.MetricsAddr, metrics.Registry)
		defer stopMetricsServer(server)

		opts := scraper.RunOptions{Force: claimForce, SkipDownload: claimNoDownload}
		result, err := claimOnce(cmd.Context(), cfg, st, ledger, metrics, opts)
		if result != nil {
			printSummary(os.Stdout, result, ledger.GetMetrics(), cfg.HistoryFile)
		}
		return err
	},
}

func init() {
	claimCmd.Flags().BoolVar(&claimForce, "force", false, "Claim even if the offer is already in history")
	claimCmd.Flags().BoolVar(&claimNoDownload, "no-download", false, "Claim without downloading, whatever the settings say")
	rootCmd.AddCommand(claimCmd)
}

// claimOnce runs a full claim on a fresh session so every run starts
// without cookies from the previous one.
func claimOnce(ctx context.Context, c *config.Config, st *settings.Settings, ledger *history.Ledger, metrics *scraper.Metrics, opts scraper.RunOptions) (*models.RunResult, error) {
	s, err := scraper.NewSession(c)
	if err != nil {
		return nil, fmt.Errorf("initialising session: %w", err)
	}
	if metrics != nil {
		s.Metrics = metrics
	}

	slog.Info("starting claim",
		slog.String("base_url", c.BaseURL),
		slog.Any("settings", st),
		slog.Bool("force", opts.Force),
	)
	return s.Run(ctx, st, ledger, opts)
}

func printSummary(w io.Writer, result *models.RunResult, ledgerMetrics map[string]interface{}, historyFile string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)

	switch {
	case result.Skipped:
		fmt.Fprintln(w, "Offer already claimed")
	case result.Claimed:
		fmt.Fprintln(w, "Claim complete")
	default:
		fmt.Fprintln(w, "Claim failed")
	}

	if result.RunID != "" {
		fmt.Fprintf(w, "  Run ID:        %s\n", result.RunID)
	}
	if result.Offer != nil {
		fmt.Fprintf(w, "  Book:          %s\n", result.Offer.Title)
		fmt.Fprintf(w, "  Book ID:       %s\n", result.Offer.ID)
	}
	if result.Downloaded {
		fmt.Fprintf(w, "  File:          %s\n", result.FilePath)
		fmt.Fprintf(w, "  Size:          %d bytes\n", result.Bytes)
	}
	fmt.Fprintf(w, "  Requests:      %d\n", result.RequestCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := ledgerMetrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", valErrors)
	}
	if !result.EndTime.IsZero() {
		fmt.Fprintf(w, "  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "  History file:  %s\n", historyFile)
	fmt.Fprintln(w, separator)
}
