// Package settings reads and writes the account record used by the claimer.
//
// The record is a single '|'-delimited line:
//
//	email|password|download|format|save-dir
//
// Fields may be double-quoted so passwords and paths can contain any character.
package settings

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Delimiter separates the record fields.
const Delimiter = '|'

const fieldCount = 5

// Formats lists the download formats the publisher serves.
var Formats = []string{"pdf", "epub", "mobi"}

// ErrEmptyFile is returned when the settings file holds no record.
var ErrEmptyFile = errors.New("settings: no record found")

// Settings is the account record.
type Settings struct {
	Email    string
	Password string
	Download bool
	Format   string
	SaveDir  string
}

// Parse reads the first non-empty record from r.
func Parse(r io.Reader) (*Settings, error) {
	reader := csv.NewReader(r)
	reader.Comma = Delimiter
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	record, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read settings record: %w", err)
	}
	if len(record) != fieldCount {
		return nil, fmt.Errorf("settings record has %d fields, want %d (email|password|download|format|save-dir)", len(record), fieldCount)
	}

	download, err := parseFlag(record[2])
	if err != nil {
		return nil, err
	}

	s := &Settings{
		Email:    strings.TrimSpace(record[0]),
		Password: record[1],
		Download: download,
		Format:   strings.ToLower(strings.TrimSpace(record[3])),
		SaveDir:  strings.TrimSpace(record[4]),
	}
	return s, nil
}

// Load reads and validates the settings file at path.
func Load(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Save writes s to path with owner-only permissions.
func (s *Settings) Save(path string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create settings directory %q: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create settings file: %w", err)
	}

	writer := csv.NewWriter(f)
	writer.Comma = Delimiter
	record := []string{s.Email, s.Password, strconv.FormatBool(s.Download), s.Format, s.SaveDir}
	if err := writer.Write(record); err != nil {
		f.Close()
		return fmt.Errorf("write settings record: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush settings record: %w", err)
	}
	return f.Close()
}

// Validate checks the record and fills the default save directory.
func (s *Settings) Validate() error {
	if s.Email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if !strings.Contains(s.Email, "@") {
		return fmt.Errorf("email %q is not an address", s.Email)
	}
	if s.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if !s.Download {
		return nil
	}

	if !IsFormat(s.Format) {
		return fmt.Errorf("format must be one of %s", strings.Join(Formats, ", "))
	}
	if s.SaveDir == "" {
		dir, err := DefaultSaveDir()
		if err != nil {
			return err
		}
		s.SaveDir = dir
	}
	return nil
}

// LogValue keeps the password out of logs.
func (s *Settings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("email", s.Email),
		slog.Bool("download", s.Download),
		slog.String("format", s.Format),
		slog.String("save_dir", s.SaveDir),
	)
}

// IsFormat reports whether format is a supported download format.
func IsFormat(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// DefaultSaveDir returns the user's Downloads directory.
func DefaultSaveDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, "Downloads"), nil
}

func parseFlag(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "y", "1":
		return true, nil
	case "false", "no", "n", "0", "":
		return false, nil
	default:
		return false, fmt.Errorf("download flag %q must be yes or no", value)
	}
}
