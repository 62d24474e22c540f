package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/i474232898/birdnet-display/internal/common"
	"github.com/i474232898/birdnet-display/internal/location"
)

// IPAPICom queries ip-api.com. The free tier is plain HTTP only.
type IPAPICom struct {
	name    string
	baseURL string
	httpCfg common.HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewIPAPICom(client *http.Client, opts ...BackendOption) *IPAPICom {
	cfg := newBackendConfig("http://ip-api.com/json/", opts)
	return &IPAPICom{
		name:    "ip-api.com",
		baseURL: cfg.baseURL,
		httpCfg: common.HTTPClientConfig{
			Client:    client,
			Backoff:   cfg.backoff,
			UserAgent: common.DefaultUserAgent,
		},
		circuit: common.NewBreaker("ip-api.com"),
	}
}

func (b *IPAPICom) Name() string {
	return b.name
}

func (b *IPAPICom) Lookup(ctx context.Context) (location.Reading, error) {
	resp, err := common.DoRequest(ctx, b.httpCfg, b.circuit, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, b.baseURL, nil)
	})
	if err != nil {
		return location.Reading{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Status     string   `json:"status"`
		Message    string   `json:"message"`
		Lat        *float64 `json:"lat"`
		Lon        *float64 `json:"lon"`
		City       string   `json:"city"`
		RegionName string   `json:"regionName"`
		Country    string   `json:"country"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return location.Reading{}, fmt.Errorf("decode: %w", err)
	}

	if payload.Status != "success" {
		return location.Reading{}, fmt.Errorf("ip-api.com status %q: %s", payload.Status, payload.Message)
	}
	if payload.Lat == nil || payload.Lon == nil {
		return location.Reading{}, errMissingCoordinates
	}

	return location.Reading{
		Latitude:  *payload.Lat,
		Longitude: *payload.Lon,
		Source:    location.SourceIP,
		Provider:  b.name,
		City:      payload.City,
		Region:    payload.RegionName,
		Country:   payload.Country,
	}, nil
}
