package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Config holds claimer configuration.
type Config struct {
	BaseURL          string
	LoginPath        string
	OfferPath        string
	DownloadTemplate string // path with {id} and {format} placeholders

	LoginFormSelector    string
	EmailField           string
	PasswordField        string
	LoginErrorSelector   string
	ClaimLinkSelector    string
	TitleSelector        string
	ClaimConfirmSelector string // optional; empty accepts any HTML page

	Timeout         time.Duration
	DownloadTimeout time.Duration
	UserAgent       string
	Verbose         bool
	MetricsAddr     string

	HistoryFile   string
	HistoryFormat string // csv, json, or dual
	DedupeMaxSize int

	SettingsFile string
	DailyAt      string // HH:MM local time
	TaskName     string
}

// DefaultConfig returns defaults for the publisher's free-learning page.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://www.packtpub.com",
		LoginPath:          "/",
		OfferPath:          "/packt/offers/free-learning",
		DownloadTemplate:   "/ebook_download/{id}/{format}",
		LoginFormSelector:  "form#packt-user-login-form",
		EmailField:         "email",
		PasswordField:      "password",
		LoginErrorSelector: "div.messages.error",
		ClaimLinkSelector:  "a.twelve-days-claim",
		TitleSelector:      "div.dotd-title h2",
		Timeout:            30 * time.Second,
		DownloadTimeout:    10 * time.Minute,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:            false,
		HistoryFile:        "freebook-history.csv",
		HistoryFormat:      "csv",
		DedupeMaxSize:      4096,
		SettingsFile:       "freebook-settings.txt",
		DailyAt:            "09:00",
		TaskName:           "freebook-daily",
	}
}

// LoginURL returns the absolute URL of the page carrying the login form.
func (c *Config) LoginURL() string {
	return joinURL(c.BaseURL, c.LoginPath)
}

// OfferURL returns the absolute URL of the daily offer page.
func (c *Config) OfferURL() string {
	return joinURL(c.BaseURL, c.OfferPath)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("login path must start with /")
	}
	if !strings.HasPrefix(c.OfferPath, "/") {
		return fmt.Errorf("offer path must start with /")
	}
	if !strings.Contains(c.DownloadTemplate, "{id}") {
		return fmt.Errorf("download template must contain {id}")
	}

	selectors := map[string]string{
		"login form selector":  c.LoginFormSelector,
		"email field":          c.EmailField,
		"password field":       c.PasswordField,
		"claim link selector":  c.ClaimLinkSelector,
		"title selector":       c.TitleSelector,
		"login error selector": c.LoginErrorSelector,
	}
	for name, value := range selectors {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("download timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.HistoryFile == "" {
		return fmt.Errorf("history file cannot be empty")
	}
	if c.HistoryFormat != "csv" && c.HistoryFormat != "json" && c.HistoryFormat != "dual" {
		return fmt.Errorf("history format must be csv, json, or dual")
	}
	if c.HistoryFormat == "dual" && strings.EqualFold(filepath.Ext(c.HistoryFile), ".jsonl") {
		return fmt.Errorf("dual history file %q must not end in .jsonl", c.HistoryFile)
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.SettingsFile == "" {
		return fmt.Errorf("settings file cannot be empty")
	}
	if _, err := time.Parse("15:04", c.DailyAt); err != nil {
		return fmt.Errorf("daily time %q must be HH:MM: %w", c.DailyAt, err)
	}
	if strings.TrimSpace(c.TaskName) == "" {
		return fmt.Errorf("task name cannot be empty")
	}

	return nil
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}
