// Package geocode turns GPS coordinates into a human-readable place using
// the Nominatim reverse geocoding API.
//
// Lookup reports an explicit outcome (found, absent or failed); Resolve
// applies a Policy on top of it and always yields a PlaceDescription.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/image-insight/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is the public Nominatim instance.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// DefaultLanguage is the accept-language sent with each lookup.
	DefaultLanguage = "fr"

	// DefaultUserAgent identifies the application, as Nominatim's usage
	// policy requires.
	DefaultUserAgent = "image-insight/1.0 (+https://github.com/fpang/image-insight)"

	defaultTimeout = 10 * time.Second
)

// PlaceDescription is a resolved place. FullAddress is always set.
type PlaceDescription struct {
	City        string `json:"city,omitempty" yaml:"city,omitempty"`
	State       string `json:"state,omitempty" yaml:"state,omitempty"`
	Country     string `json:"country,omitempty" yaml:"country,omitempty"`
	FullAddress string `json:"fullAddress" yaml:"fullAddress"`
}

// Status is the outcome of a lookup.
type Status int

const (
	// StatusFound means at least one of city, state or country was returned.
	StatusFound Status = iota
	// StatusAbsent means the service answered but knows no address there.
	StatusAbsent
	// StatusFailed means the lookup did not complete.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusAbsent:
		return "absent"
	default:
		return "failed"
	}
}

// Result is the explicit outcome of Lookup. Place is set only when Status
// is StatusFound; Err only when Status is StatusFailed.
type Result struct {
	Status Status
	Place  *PlaceDescription
	Err    error
}

// GeocodeError reports a failed lookup. ServiceMessage holds the error text
// returned by Nominatim itself, if it sent one.
type GeocodeError struct {
	StatusCode     int
	ServiceMessage string
	Err            error
}

func (e *GeocodeError) Error() string {
	switch {
	case e.ServiceMessage != "":
		return "geocoding service error: " + e.ServiceMessage
	case e.StatusCode != 0:
		return fmt.Sprintf("geocoding service returned HTTP %d", e.StatusCode)
	default:
		return fmt.Sprintf("geocoding request failed: %v", e.Err)
	}
}

func (e *GeocodeError) Unwrap() error {
	return e.Err
}

// Client queries a Nominatim server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	language   string
	userAgent  string
	policy     Policy
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another Nominatim server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithLanguage sets the accept-language of lookups.
func WithLanguage(lang string) Option {
	return func(c *Client) {
		if lang != "" {
			c.language = lang
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPolicy replaces the sentinel policy used by Resolve.
func WithPolicy(p Policy) Option {
	return func(c *Client) { c.policy = p }
}

// NewClient creates a reverse geocoding client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    DefaultBaseURL,
		language:   DefaultLanguage,
		userAgent:  DefaultUserAgent,
		policy:     DefaultPolicy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// reverseResponse is the subset of the jsonv2 reverse payload we read.
type reverseResponse struct {
	Error   string          `json:"error,omitempty"`
	Address *reverseAddress `json:"address,omitempty"`
}

type reverseAddress struct {
	City    string `json:"city"`
	Town    string `json:"town"`
	Village string `json:"village"`
	State   string `json:"state"`
	County  string `json:"county"`
	Country string `json:"country"`
}

// Lookup performs one reverse geocoding request. It never retries.
func (c *Client) Lookup(ctx context.Context, lat, lon float64) Result {
	start := time.Now()
	result := c.lookup(ctx, lat, lon)

	metrics.New(metrics.Namespace).
		Dimension("Operation", "geocode").
		Dimension("Outcome", result.Status.String()).
		Since("GeocodeLatencyMs", start).
		Flush()

	evt := log.Debug()
	if result.Status == StatusFailed {
		evt = log.Warn().Err(result.Err)
	}
	evt.Str("outcome", result.Status.String()).
		Dur("duration", time.Since(start)).
		Msg("Reverse geocoding complete")
	return result
}

func (c *Client) lookup(ctx context.Context, lat, lon float64) Result {
	params := url.Values{
		"format":          {"jsonv2"},
		"lat":             {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":             {strconv.FormatFloat(lon, 'f', -1, 64)},
		"accept-language": {c.language},
	}
	reqURL := c.baseURL + "/reverse?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return failed(&GeocodeError{Err: err})
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failed(&GeocodeError{Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return failed(&GeocodeError{StatusCode: resp.StatusCode})
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return failed(&GeocodeError{Err: fmt.Errorf("decode response: %w", err)})
	}
	if body.Error != "" {
		return failed(&GeocodeError{ServiceMessage: body.Error})
	}
	if body.Address == nil {
		return Result{Status: StatusAbsent}
	}

	place := &PlaceDescription{
		City:    firstNonEmpty(body.Address.City, body.Address.Town, body.Address.Village),
		State:   firstNonEmpty(body.Address.State, body.Address.County),
		Country: body.Address.Country,
	}
	place.FullAddress = joinNonEmpty(", ", place.City, place.State, place.Country)
	if place.FullAddress == "" {
		return Result{Status: StatusAbsent}
	}
	return Result{Status: StatusFound, Place: place}
}

// Resolve looks up the coordinates and renders the outcome through the
// client's policy. It never fails.
func (c *Client) Resolve(ctx context.Context, lat, lon float64) *PlaceDescription {
	return c.policy.Describe(c.Lookup(ctx, lat, lon))
}

// MapURL returns an OpenStreetMap link centred on the coordinates.
func MapURL(lat, lon float64) string {
	la := strconv.FormatFloat(lat, 'f', 6, 64)
	lo := strconv.FormatFloat(lon, 'f', 6, 64)
	return fmt.Sprintf("https://www.openstreetmap.org/?mlat=%s&mlon=%s#map=15/%s/%s", la, lo, la, lo)
}

func failed(err *GeocodeError) Result {
	return Result{Status: StatusFailed, Err: err}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(sep string, values ...string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}
