package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aluiziolira/go-freebook/settings"
)

var (
	setupEmail    string
	setupPassword string
	setupDownload bool
	setupFormat   string
	setupSaveDir  string
)

var setupCmd = &cobra.Command{
	Use:   "setup [--email <address>] [--password <secret>] [--download] [--format pdf|epub|mobi] [--save-dir <dir>]",
	Short: "Writes the account settings file.",
	Long: `Writes the account settings file used by claim and daemon.
Missing email or password are asked for on the terminal; the password is read without echo.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		src := cmd.InOrStdin()
		in := bufio.NewReader(src)
		out := cmd.OutOrStdout()

		email := strings.TrimSpace(setupEmail)
		if email == "" {
			value, err := prompt(in, out, "Email: ")
			if err != nil {
				return err
			}
			email = value
		}

		password := setupPassword
		if password == "" {
			value, err := promptPassword(src, in, out, "Password: ")
			if err != nil {
				return err
			}
			password = value
		}

		st := &settings.Settings{
			Email:    email,
			Password: password,
			Download: setupDownload,
			Format:   strings.ToLower(strings.TrimSpace(setupFormat)),
			SaveDir:  strings.TrimSpace(setupSaveDir),
		}
		if err := st.Save(cfg.SettingsFile); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}

		slog.Info("settings saved", slog.String("path", cfg.SettingsFile), slog.Any("settings", st))
		return nil
	},
}

func init() {
	flags := setupCmd.Flags()
	flags.StringVar(&setupEmail, "email", "", "Account email")
	flags.StringVar(&setupPassword, "password", "", "Account password (prompted when omitted)")
	flags.BoolVar(&setupDownload, "download", false, "Download the ebook after claiming")
	flags.StringVar(&setupFormat, "format", "pdf", "Download format: "+strings.Join(settings.Formats, ", "))
	flags.StringVar(&setupSaveDir, "save-dir", "", "Download directory (defaults to ~/Downloads)")
	rootCmd.AddCommand(setupCmd)
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads without echo when src is a terminal and falls back
// to a plain line read from in otherwise.
func promptPassword(src io.Reader, in *bufio.Reader, out io.Writer, label string) (string, error) {
	f, ok := src.(*os.File)
	if !ok || !isTerminal(f) {
		fmt.Fprint(out, label)
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(out, label)
	secret, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(secret), nil
}
