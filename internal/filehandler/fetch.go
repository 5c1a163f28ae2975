package filehandler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrEmptyURL is returned when an import is requested without a URL.
var ErrEmptyURL = errors.New("image URL is empty")

// DefaultFetchName is used when the URL path has no usable file name.
const DefaultFetchName = "image.jpg"

// NetworkFetchError reports that an image could not be imported from a URL.
type NetworkFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkFetchError) Unwrap() error {
	return e.Err
}

// Fetcher downloads images over HTTP.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
}

// NewFetcher creates a Fetcher. A nil client gets a 30 second timeout.
func NewFetcher(httpClient *http.Client, userAgent string) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{httpClient: httpClient, userAgent: userAgent}
}

// Fetch downloads rawURL and returns it as an Image. Any failure after the
// URL is accepted is a *NetworkFetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, ErrEmptyURL
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &NetworkFetchError{URL: rawURL, Err: fmt.Errorf("invalid URL: %q", rawURL)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &NetworkFetchError{URL: rawURL, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "image/*")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkFetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkFetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, &NetworkFetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}

	img, err := NewImage(fileNameFromURL(u), data, SourceURL)
	if err != nil {
		return nil, &NetworkFetchError{URL: rawURL, Err: err}
	}
	img.Origin = rawURL

	log.Info().
		Str("url", rawURL).
		Str("mime_type", img.MIMEType).
		Int("size_bytes", img.Size()).
		Dur("duration", time.Since(start)).
		Msg("Image fetched from URL")
	return img, nil
}

func fileNameFromURL(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return DefaultFetchName
	}
	return name
}
