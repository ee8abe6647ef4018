package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-freebook/config"
	"github.com/aluiziolira/go-freebook/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manages the daily claim task in the operating system scheduler.",
}

var scheduleInstallCmd = &cobra.Command{
	Use:   "install [--at HH:MM]",
	Short: "Registers (or replaces) the daily claim task.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		task, err := newTask(cfg, configFile)
		if err != nil {
			return err
		}
		if err := task.Install(cmd.Context()); err != nil {
			return fmt.Errorf("install task: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Installed %q: daily at %s\n", task.Name, task.At)
		return nil
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Removes the daily claim task.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		task := &schedule.Task{Name: cfg.TaskName}
		if err := task.Remove(cmd.Context()); err != nil {
			return fmt.Errorf("remove task: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %q\n", task.Name)
		return nil
	},
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Prints the registered task and the next run time.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		task := &schedule.Task{Name: cfg.TaskName}
		entry, err := task.Show(cmd.Context())
		if errors.Is(err, schedule.ErrTaskNotFound) {
			fmt.Fprintf(out, "No task named %q is installed\n", task.Name)
			return nil
		}
		if err != nil {
			return fmt.Errorf("show task: %w", err)
		}
		fmt.Fprintln(out, entry)

		spec, err := schedule.DailySpec(cfg.DailyAt)
		if err != nil {
			return err
		}
		if next, err := schedule.NextRun(spec, time.Now()); err == nil {
			fmt.Fprintf(out, "Next run (at %s): %s\n", cfg.DailyAt, next.Format(time.RFC1123))
		}
		return nil
	},
}

func init() {
	scheduleInstallCmd.Flags().String("at", "", "Local time of the daily claim, HH:MM (default from FREEBOOK_DAILY_AT or 09:00)")
	scheduleShowCmd.Flags().String("at", "", "Daily time used for the next-run estimate, HH:MM")
	scheduleCmd.AddCommand(scheduleInstallCmd, scheduleRemoveCmd, scheduleShowCmd)
	rootCmd.AddCommand(scheduleCmd)
}

// newTask builds the OS task that runs "freebook claim" with absolute paths,
// since schedulers start jobs from an unrelated working directory.
func newTask(c *config.Config, configPath string) (*schedule.Task, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	command, err := taskCommand(exe, c, configPath)
	if err != nil {
		return nil, err
	}
	return &schedule.Task{
		Name:    c.TaskName,
		At:      c.DailyAt,
		Command: command,
	}, nil
}

// taskCommand forwards configPath only when it (or its local override)
// exists, so a scheduled run sees the same file a manual one does.
func taskCommand(exe string, c *config.Config, configPath string) ([]string, error) {
	settingsPath, err := filepath.Abs(c.SettingsFile)
	if err != nil {
		return nil, fmt.Errorf("resolve settings path: %w", err)
	}
	historyPath, err := filepath.Abs(c.HistoryFile)
	if err != nil {
		return nil, fmt.Errorf("resolve history path: %w", err)
	}

	command := []string{
		exe, "claim",
		"--settings", settingsPath,
		"--history", historyPath,
		"--history-format", c.HistoryFormat,
	}
	if configPath != "" && config.HasFile(configPath) {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		command = append(command, "--config", abs)
	}
	if c.BaseURL != config.DefaultConfig().BaseURL {
		command = append(command, "--base-url", c.BaseURL)
	}
	return command, nil
}
