package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fpang/image-insight/internal/auth"
)

func TestPromptForImage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Input
		wantErr error
	}{
		{"path", "photos/sunset.jpg\n", Input{Path: "photos/sunset.jpg"}, nil},
		{"quoted path", "\"/tmp/my photo.jpg\"\n", Input{Path: "/tmp/my photo.jpg"}, nil},
		{"url", "https://example.com/a.png\n", Input{URL: "https://example.com/a.png"}, nil},
		{"upper case scheme", "HTTP://example.com/a.png", Input{URL: "HTTP://example.com/a.png"}, nil},
		{"no newline", "pic.webp", Input{Path: "pic.webp"}, nil},
		{"empty", "\n", Input{}, ErrNoInput},
		{"eof", "", Input{}, ErrNoInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := PromptForImage(strings.NewReader(tt.input), &out)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if !strings.Contains(out.String(), "Image path or URL") {
				t.Errorf("prompt not written, got %q", out.String())
			}
		})
	}
}

func TestResolveImagePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveImagePath(file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != file {
		t.Errorf("got %q, want %q", got, file)
	}

	if _, err := ResolveImagePath(dir); err == nil || !strings.Contains(err.Error(), "directory") {
		t.Errorf("directory: err = %v, want directory error", err)
	}
	if _, err := ResolveImagePath(filepath.Join(dir, "missing.jpg")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing: err = %v, want not found", err)
	}
}

func TestResolveImagePathExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.WriteFile(filepath.Join(home, "a.png"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveImagePath("~/a.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Join(home, "a.png") {
		t.Errorf("got %q", got)
	}
}

func TestDescribeKeyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing key", &auth.ConfigurationError{Component: "gemini", Missing: auth.APIKeyEnv}, "No API key configured"},
		{"invalid", &auth.KeyValidationError{Type: auth.ErrTypeInvalidKey}, "Invalid API key"},
		{"network", &auth.KeyValidationError{Type: auth.ErrTypeNetworkError}, "Network error"},
		{"quota", &auth.KeyValidationError{Type: auth.ErrTypeQuotaExceeded}, "quota exceeded"},
		{"unknown type", &auth.KeyValidationError{Type: auth.ErrTypeUnknown}, "validation failed"},
		{"other", errors.New("boom"), "Unexpected error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DescribeKeyError(tt.err); !strings.Contains(got, tt.want) {
				t.Errorf("got %q, want it to contain %q", got, tt.want)
			}
		})
	}
}
