package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-freebook/config"
)

var (
	cfg *config.Config

	configFile    string
	settingsFile  string
	historyFile   string
	historyFormat string
	baseURL       string
	metricsAddr   string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "freebook",
	Short: "freebook claims the publisher's free ebook of the day.",
	Long: `freebook logs in to the publisher's site, claims the daily free ebook,
optionally downloads it, and keeps a history of what was claimed.

Settings are read from a one-line file: email|password|download|format|save-dir.
Every option can also be set through FREEBOOK_* environment variables.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	defaults := config.DefaultConfig()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", config.DefaultFile, "Optional JSON5 configuration file")
	flags.StringVar(&settingsFile, "settings", defaults.SettingsFile, "Path to the account settings file")
	flags.StringVar(&historyFile, "history", defaults.HistoryFile, "Path to the claim history file")
	flags.StringVar(&historyFormat, "history-format", defaults.HistoryFormat, "History format: csv, json, or dual")
	flags.StringVar(&baseURL, "base-url", defaults.BaseURL, "Base URL of the publisher site")
	flags.StringVar(&metricsAddr, "metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

// loadConfig layers defaults, the config file, FREEBOOK_* variables and
// explicit flags, in that order, then installs the logger.
func loadConfig(cmd *cobra.Command, _ []string) error {
	c := config.DefaultConfig()
	if err := c.ApplyFile(configFile); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := c.ApplyEnv(); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("settings") {
		c.SettingsFile = settingsFile
	}
	if flags.Changed("history") {
		c.HistoryFile = historyFile
	}
	if flags.Changed("history-format") {
		c.HistoryFormat = strings.ToLower(historyFormat)
	}
	if flags.Changed("base-url") {
		c.BaseURL = baseURL
	}
	if flags.Changed("metrics-addr") {
		c.MetricsAddr = metricsAddr
	}
	if flags.Changed("verbose") {
		c.Verbose = verbose
	}
	if flags.Changed("at") {
		c.DailyAt, _ = flags.GetString("at")
	}

	logger, level := newLogger(c.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = c
	return nil
}
