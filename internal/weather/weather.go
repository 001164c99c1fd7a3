// Package weather looks up current surface conditions at a coordinate
// from an external reference provider. It is strictly optional
// enrichment: every failure mode degrades to "no reference data".
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultBaseURL = "https://api.weather.com/v3/location/point"
	defaultTimeout = 5 * time.Second

	maxResponseBytes = 1 << 20
)

// Conditions is the provider's view of the surface weather at one point.
// Fields the provider omitted stay nil.
type Conditions struct {
	Temperature  *float64 `json:"temperature"`
	Pressure     *float64 `json:"pressure"`
	Humidity     *float64 `json:"humidity"`
	LocationName string   `json:"displayName"`
}

// Config holds the configuration for the Client.
type Config struct {
	Logger *slog.Logger

	// APIKey enables the lookup; with an empty key the client is disabled
	// and every lookup reports ErrDisabled.
	APIKey string

	// BaseURL overrides the provider endpoint, used by tests.
	BaseURL string

	// Timeout bounds one lookup end to end.
	Timeout time.Duration
}

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("weather: no API key configured")

// Client fetches reference conditions over HTTP.
type Client struct {
	log     *slog.Logger
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates a new Client instance.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("weather config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		log:     cfg.Logger,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// CurrentConditions fetches the surface conditions at a coordinate.
// Callers treat any error as "calibrate without reference data".
func (c *Client) CurrentConditions(ctx context.Context, lat, lon float64) (*Conditions, error) {
	if c.apiKey == "" {
		return nil, ErrDisabled
	}

	q := url.Values{}
	q.Set("geocode", fmt.Sprintf("%f,%f", lat, lon))
	q.Set("language", "en-US")
	q.Set("format", "json")
	q.Set("apiKey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build conditions request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch conditions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("conditions lookup returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read conditions response: %w", err)
	}

	var cond Conditions
	if err := json.Unmarshal(body, &cond); err != nil {
		return nil, fmt.Errorf("decode conditions response: %w", err)
	}

	c.log.Debug("reference conditions fetched",
		"lat", lat, "lon", lon, "location", cond.LocationName)
	return &cond, nil
}
