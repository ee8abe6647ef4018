package schedule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Operating system names handled by Task.
const (
	OSWindows = "windows"
)

// Scheduler commands.
const (
	CrontabCommand  = "crontab"
	SchtasksCommand = "schtasks"
)

const markerPrefix = "# freebook:"

// ErrTaskNotFound is returned by Show when no task is registered under the name.
var ErrTaskNotFound = errors.New("schedule: task not found")

// CommandRunner executes an external command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// Task is a daily OS-level scheduled invocation of Command.
type Task struct {
	Name    string
	At      string   // HH:MM local time
	Command []string // executable followed by its arguments

	// GOOS selects the scheduler; empty means runtime.GOOS.
	GOOS   string
	Runner CommandRunner
}

// Validate checks the task fields.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("task name cannot be empty")
	}
	if strings.ContainsAny(t.Name, "\r\n") {
		return errors.New("task name cannot contain line breaks")
	}
	if _, err := time.Parse("15:04", t.At); err != nil {
		return fmt.Errorf("task time %q must be HH:MM", t.At)
	}
	if len(t.Command) == 0 || strings.TrimSpace(t.Command[0]) == "" {
		return errors.New("task command cannot be empty")
	}
	return nil
}

// Install registers the task, replacing an earlier one with the same name.
func (t *Task) Install(ctx context.Context) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.goos() == OSWindows {
		_, err := t.runner().Run(ctx, nil, SchtasksCommand,
			"/Create", "/SC", "DAILY", "/TN", t.Name, "/TR", windowsCommandLine(t.Command), "/ST", t.At, "/F")
		return err
	}

	spec, err := DailySpec(t.At)
	if err != nil {
		return err
	}
	lines, err := t.readCrontab(ctx)
	if err != nil {
		return err
	}
	lines, _ = removeEntry(lines, t.marker())
	lines = append(lines, t.marker(), spec+" "+crontabCommandLine(t.Command))
	return t.writeCrontab(ctx, lines)
}

// Remove unregisters the task. Removing a task that does not exist is not an error.
func (t *Task) Remove(ctx context.Context) error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("task name cannot be empty")
	}
	if t.goos() == OSWindows {
		out, err := t.runner().Run(ctx, nil, SchtasksCommand, "/Delete", "/TN", t.Name, "/F")
		if err != nil && isMissingWindowsTask(out) {
			return nil
		}
		return err
	}

	lines, err := t.readCrontab(ctx)
	if err != nil {
		return err
	}
	lines, removed := removeEntry(lines, t.marker())
	if !removed {
		return nil
	}
	return t.writeCrontab(ctx, lines)
}

// Show returns the scheduler's description of the task.
func (t *Task) Show(ctx context.Context) (string, error) {
	if t.goos() == OSWindows {
		out, err := t.runner().Run(ctx, nil, SchtasksCommand, "/Query", "/TN", t.Name, "/FO", "LIST")
		if err != nil {
			if isMissingWindowsTask(out) {
				return "", ErrTaskNotFound
			}
			return "", err
		}
		return strings.TrimSpace(string(out)), nil
	}

	lines, err := t.readCrontab(ctx)
	if err != nil {
		return "", err
	}
	for i, line := range lines {
		if line == t.marker() && i+1 < len(lines) {
			return lines[i+1], nil
		}
	}
	return "", ErrTaskNotFound
}

func (t *Task) marker() string {
	return markerPrefix + t.Name
}

func (t *Task) goos() string {
	if t.GOOS != "" {
		return t.GOOS
	}
	return runtime.GOOS
}

func (t *Task) runner() CommandRunner {
	if t.Runner != nil {
		return t.Runner
	}
	return ExecRunner{}
}

func (t *Task) readCrontab(ctx context.Context) ([]string, error) {
	out, err := t.runner().Run(ctx, nil, CrontabCommand, "-l")
	if err != nil {
		// crontab -l exits non-zero for a user without a crontab
		if strings.Contains(strings.ToLower(string(out)), "no crontab") {
			return nil, nil
		}
		return nil, fmt.Errorf("read crontab: %w", err)
	}
	text := strings.TrimRight(string(out), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

func (t *Task) writeCrontab(ctx context.Context, lines []string) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if _, err := t.runner().Run(ctx, &buf, CrontabCommand, "-"); err != nil {
		return fmt.Errorf("write crontab: %w", err)
	}
	return nil
}

// removeEntry drops the marker line and the entry that follows it.
func removeEntry(lines []string, marker string) ([]string, bool) {
	out := make([]string, 0, len(lines))
	removed := false
	for i := 0; i < len(lines); i++ {
		if lines[i] == marker {
			removed = true
			i++
			continue
		}
		out = append(out, lines[i])
	}
	return out, removed
}

func isMissingWindowsTask(out []byte) bool {
	text := strings.ToLower(string(out))
	return strings.Contains(text, "cannot find") || strings.Contains(text, "does not exist")
}

// crontabCommandLine quotes args for sh and escapes '%', which cron turns
// into a newline even inside quotes.
func crontabCommandLine(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = strings.ReplaceAll(shellQuote(arg), "%", `\%`)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, " \t'\"\\$`!*?[]{}()<>|&;#~%") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

func windowsCommandLine(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		if arg == "" || strings.ContainsAny(arg, " \t\"") {
			quoted[i] = `"` + strings.ReplaceAll(arg, `"`, `\"`) + `"`
		} else {
			quoted[i] = arg
		}
	}
	return strings.Join(quoted, " ")
}
