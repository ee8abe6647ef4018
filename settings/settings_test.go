package settings

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *Settings
	}{
		{
			name:  "download enabled",
			input: "reader@example.com|s3cret|yes|EPUB|/srv/books\n",
			want: &Settings{
				Email:    "reader@example.com",
				Password: "s3cret",
				Download: true,
				Format:   "epub",
				SaveDir:  "/srv/books",
			},
		},
		{
			name:  "download disabled with empty trailing fields",
			input: "reader@example.com|s3cret|no||",
			want: &Settings{
				Email:    "reader@example.com",
				Password: "s3cret",
			},
		},
		{
			name:  "quoted password with delimiter",
			input: "reader@example.com|\"pa|ss\"|true|pdf|C:\\Books\n",
			want: &Settings{
				Email:    "reader@example.com",
				Password: "pa|ss",
				Download: true,
				Format:   "pdf",
				SaveDir:  `C:\Books`,
			},
		},
		{
			name:  "comment and blank lines before record",
			input: "# account\n\nreader@example.com|pw|0|mobi|books\n",
			want: &Settings{
				Email:    "reader@example.com",
				Password: "pw",
				Format:   "mobi",
				SaveDir:  "books",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("settings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "too few fields", input: "a@b.c|pw|yes", wantErr: "3 fields"},
		{name: "bad flag", input: "a@b.c|pw|maybe|pdf|dir", wantErr: "download flag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.input)); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := Parse(strings.NewReader("\n# nothing here\n")); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr string
	}{
		{name: "missing email", s: Settings{Password: "pw"}, wantErr: "email"},
		{name: "email without at", s: Settings{Email: "reader", Password: "pw"}, wantErr: "not an address"},
		{name: "missing password", s: Settings{Email: "a@b.c"}, wantErr: "password"},
		{name: "unknown format", s: Settings{Email: "a@b.c", Password: "pw", Download: true, Format: "doc", SaveDir: "x"}, wantErr: "format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.s.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateDefaultsSaveDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	s := &Settings{Email: "a@b.c", Password: "pw", Download: true, Format: "pdf"}
	if err := s.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if want := filepath.Join(home, "Downloads"); s.SaveDir != want {
		t.Fatalf("save dir = %q, want %q", s.SaveDir, want)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "settings.txt")
	want := &Settings{
		Email:    "reader@example.com",
		Password: `p"a|ss word`,
		Download: true,
		Format:   "pdf",
		SaveDir:  filepath.Join(t.TempDir(), "books"),
	}

	if err := want.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Fatalf("settings file permissions %v are too open", perm)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLogValueRedactsPassword(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	s := &Settings{Email: "reader@example.com", Password: "hunter2", Format: "pdf"}
	logger.Info("loaded", slog.Any("settings", s))

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Fatalf("password leaked into log: %s", out)
	}
	if !strings.Contains(out, "reader@example.com") {
		t.Fatalf("email missing from log: %s", out)
	}
}
