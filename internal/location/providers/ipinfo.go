package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/i474232898/birdnet-display/internal/common"
	"github.com/i474232898/birdnet-display/internal/location"
)

// IPInfo queries ipinfo.io, which reports coordinates as a "lat,lon" string.
type IPInfo struct {
	name    string
	baseURL string
	httpCfg common.HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewIPInfo(client *http.Client, opts ...BackendOption) *IPInfo {
	cfg := newBackendConfig("https://ipinfo.io/json", opts)
	return &IPInfo{
		name:    "ipinfo.io",
		baseURL: cfg.baseURL,
		httpCfg: common.HTTPClientConfig{
			Client:    client,
			Backoff:   cfg.backoff,
			UserAgent: common.DefaultUserAgent,
		},
		circuit: common.NewBreaker("ipinfo.io"),
	}
}

func (b *IPInfo) Name() string {
	return b.name
}

func (b *IPInfo) Lookup(ctx context.Context) (location.Reading, error) {
	resp, err := common.DoRequest(ctx, b.httpCfg, b.circuit, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, b.baseURL, nil)
	})
	if err != nil {
		return location.Reading{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Loc     string `json:"loc"`
		City    string `json:"city"`
		Region  string `json:"region"`
		Country string `json:"country"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return location.Reading{}, fmt.Errorf("decode: %w", err)
	}

	lat, lon, err := parseLoc(payload.Loc)
	if err != nil {
		return location.Reading{}, err
	}

	return location.Reading{
		Latitude:  lat,
		Longitude: lon,
		Source:    location.SourceIP,
		Provider:  b.name,
		City:      payload.City,
		Region:    payload.Region,
		Country:   payload.Country,
	}, nil
}

func parseLoc(loc string) (float64, float64, error) {
	if loc == "" {
		return 0, 0, errMissingCoordinates
	}
	latStr, lonStr, ok := strings.Cut(loc, ",")
	if !ok {
		return 0, 0, fmt.Errorf("malformed loc %q", loc)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed latitude %q: %w", latStr, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed longitude %q: %w", lonStr, err)
	}
	return lat, lon, nil
}
