package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-freebook/history"
	"github.com/aluiziolira/go-freebook/models"
	"github.com/aluiziolira/go-freebook/schedule"
	"github.com/aluiziolira/go-freebook/scraper"
	"github.com/aluiziolira/go-freebook/settings"
)

var daemonRunNow bool

var daemonCmd = &cobra.Command{
	Use:   "daemon [--at HH:MM] [--run-now]",
	Short: "Stays running and claims the free ebook every day.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// fail fast on a broken settings file; each run reloads it
		if _, err := settings.Load(cfg.SettingsFile); err != nil {
			return err
		}

		spec, err := schedule.DailySpec(cfg.DailyAt)
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

		claim := func(ctx context.Context, st *settings.Settings) (*models.RunResult, error) {
			return claimOnce(ctx, cfg, st, ledger, metrics, scraper.RunOptions{})
		}
		job := daemonJob(cfg.SettingsFile, cfg.HistoryFile, ledger, os.Stdout, claim)

		runner, err := schedule.NewRunner(spec, job, nil)
		if err != nil {
			return err
		}
		slog.Info("daemon started", slog.String("at", cfg.DailyAt), slog.Bool("run_now", daemonRunNow))
		return runner.Run(cmd.Context(), daemonRunNow)
	},
}

func init() {
	daemonCmd.Flags().String("at", "", "Local time of the daily claim, HH:MM (default from FREEBOOK_DAILY_AT or 09:00)")
	daemonCmd.Flags().BoolVar(&daemonRunNow, "run-now", false, "Also claim once immediately on start")
	rootCmd.AddCommand(daemonCmd)
}

type claimFunc func(ctx context.Context, st *settings.Settings) (*models.RunResult, error)

// daemonJob re-reads the settings file before every run, so edits made
// while the daemon is up apply from the next run on.
func daemonJob(settingsFile, historyFile string, ledger *history.Ledger, out io.Writer, claim claimFunc) schedule.Job {
	return func(ctx context.Context) error {
		st, err := settings.Load(settingsFile)
		if err != nil {
			return err
		}
		result, err := claim(ctx, st)
		if result != nil {
			var ledgerMetrics map[string]interface{}
			if ledger != nil {
				ledgerMetrics = ledger.GetMetrics()
			}
			printSummary(out, result, ledgerMetrics, historyFile)
		}
		return err
	}
}
