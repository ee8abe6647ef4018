package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "FREEBOOK_"

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

// EnvBool parses key with strconv.ParseBool semantics.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

// EnvDuration parses key as a time.Duration ("30s", "2m").
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

// ApplyEnv overlays FREEBOOK_* variables onto cfg.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"BASE_URL":       &c.BaseURL,
		"METRICS_ADDR":   &c.MetricsAddr,
		"HISTORY":        &c.HistoryFile,
		"HISTORY_FORMAT": &c.HistoryFormat,
		"SETTINGS":       &c.SettingsFile,
		"DAILY_AT":       &c.DailyAt,
		"USER_AGENT":     &c.UserAgent,
	}
	for key, dst := range strs {
		if value, ok := EnvString(EnvPrefix + key); ok {
			*dst = value
		}
	}

	if value, ok, err := EnvDuration(EnvPrefix + "TIMEOUT"); err != nil {
		return err
	} else if ok {
		c.Timeout = value
	}
	if value, ok, err := EnvDuration(EnvPrefix + "DOWNLOAD_TIMEOUT"); err != nil {
		return err
	} else if ok {
		c.DownloadTimeout = value
	}
	if value, ok, err := EnvInt(EnvPrefix + "DEDUPE_SIZE"); err != nil {
		return err
	} else if ok {
		c.DedupeMaxSize = value
	}
	if value, ok, err := EnvBool(EnvPrefix + "VERBOSE"); err != nil {
		return err
	} else if ok {
		c.Verbose = value
	}
	return nil
}
