// Package cli holds terminal helpers shared by the command line tools.
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoInput is returned when the user gave neither a path nor a URL.
var ErrNoInput = errors.New("no image given")

// Input is an image location typed by the user.
type Input struct {
	Path string
	URL  string
}

// PromptForImage asks for an image path or URL on w and reads one line
// from r. Lines starting with http:// or https:// are treated as URLs.
func PromptForImage(r io.Reader, w io.Writer) (Input, error) {
	fmt.Fprint(w, "Image path or URL: ")

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return Input{}, fmt.Errorf("failed to read input: %w", err)
	}

	line = strings.Trim(strings.TrimSpace(line), `"'`)
	if line == "" {
		return Input{}, ErrNoInput
	}
	lower := strings.ToLower(line)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return Input{URL: line}, nil
	}
	return Input{Path: line}, nil
}

// ResolveImagePath checks that path names a regular file and returns its
// absolute form. A leading ~ is expanded to the home directory.
func ResolveImagePath(path string) (string, error) {
	if rest, ok := strings.CutPrefix(path, "~"); ok && (rest == "" || rest[0] == '/' || rest[0] == filepath.Separator) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(home, rest)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("failed to access file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("path is a directory, not a file: %s", path)
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}
