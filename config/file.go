package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// DefaultFile is the optional configuration file read from the working directory.
const DefaultFile = "freebook.json5"

// File is the on-disk shape of the configuration. Empty fields keep the
// current value. Durations use time.ParseDuration syntax ("45s", "10m").
type File struct {
	BaseURL          string `json:"base_url"`
	LoginPath        string `json:"login_path"`
	OfferPath        string `json:"offer_path"`
	DownloadTemplate string `json:"download_template"`

	LoginFormSelector    string `json:"login_form_selector"`
	EmailField           string `json:"email_field"`
	PasswordField        string `json:"password_field"`
	LoginErrorSelector   string `json:"login_error_selector"`
	ClaimLinkSelector    string `json:"claim_link_selector"`
	TitleSelector        string `json:"title_selector"`
	ClaimConfirmSelector string `json:"claim_confirm_selector"`

	Timeout         string `json:"timeout"`
	DownloadTimeout string `json:"download_timeout"`
	UserAgent       string `json:"user_agent"`
	Verbose         bool   `json:"verbose"`
	MetricsAddr     string `json:"metrics_addr"`

	HistoryFile   string `json:"history_file"`
	HistoryFormat string `json:"history_format"`
	DedupeMaxSize int    `json:"dedupe_max_size"`

	SettingsFile string `json:"settings_file"`
	DailyAt      string `json:"daily_at"`
	TaskName     string `json:"task_name"`
}

// ReadFile reads name and, next to it, "<base>.local.<ext>"; values in the
// local file win. It returns fs.ErrNotExist when neither file exists.
func ReadFile(name string) (*File, error) {
	var out File
	found := false

	data, err := os.ReadFile(name)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := json5.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		found = true
	}

	localName := localPath(name)
	data, err = os.ReadFile(localName)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		var override File
		if err := json5.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("parse %s: %w", localName, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge %s: %w", localName, err)
		}
		slog.Debug("merging config with local overrides", slog.String("local", localName))
		found = true
	}

	if !found {
		return nil, fs.ErrNotExist
	}
	return &out, nil
}

// ApplyFile overlays the values of the configuration file at name. A missing
// file is not an error.
func (c *Config) ApplyFile(name string) error {
	f, err := ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	strs := map[*string]string{
		&c.BaseURL:              f.BaseURL,
		&c.LoginPath:            f.LoginPath,
		&c.OfferPath:            f.OfferPath,
		&c.DownloadTemplate:     f.DownloadTemplate,
		&c.LoginFormSelector:    f.LoginFormSelector,
		&c.EmailField:           f.EmailField,
		&c.PasswordField:        f.PasswordField,
		&c.LoginErrorSelector:   f.LoginErrorSelector,
		&c.ClaimLinkSelector:    f.ClaimLinkSelector,
		&c.TitleSelector:        f.TitleSelector,
		&c.ClaimConfirmSelector: f.ClaimConfirmSelector,
		&c.UserAgent:            f.UserAgent,
		&c.MetricsAddr:          f.MetricsAddr,
		&c.HistoryFile:          f.HistoryFile,
		&c.HistoryFormat:        strings.ToLower(f.HistoryFormat),
		&c.SettingsFile:         f.SettingsFile,
		&c.DailyAt:              f.DailyAt,
		&c.TaskName:             f.TaskName,
	}
	for dst, value := range strs {
		if value != "" {
			*dst = value
		}
	}

	if f.Timeout != "" {
		d, err := time.ParseDuration(f.Timeout)
		if err != nil {
			return fmt.Errorf("%s: timeout: %w", name, err)
		}
		c.Timeout = d
	}
	if f.DownloadTimeout != "" {
		d, err := time.ParseDuration(f.DownloadTimeout)
		if err != nil {
			return fmt.Errorf("%s: download_timeout: %w", name, err)
		}
		c.DownloadTimeout = d
	}
	if f.DedupeMaxSize != 0 {
		c.DedupeMaxSize = f.DedupeMaxSize
	}
	if f.Verbose {
		c.Verbose = true
	}
	return nil
}

// HasFile reports whether name or its local override exists.
func HasFile(name string) bool {
	for _, candidate := range []string{name, localPath(name)} {
		if _, err := os.Stat(candidate); err == nil {
			return true
		}
	}
	return false
}

func localPath(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}
