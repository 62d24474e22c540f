package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/i474232898/birdnet-display/internal/common"
	"github.com/i474232898/birdnet-display/internal/location"
)

var errMissingCoordinates = errors.New("response has no coordinates")

// IPAPICo queries ipapi.co.
type IPAPICo struct {
	name    string
	baseURL string
	httpCfg common.HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewIPAPICo(client *http.Client, opts ...BackendOption) *IPAPICo {
	cfg := newBackendConfig("https://ipapi.co/json/", opts)
	return &IPAPICo{
		name:    "ipapi.co",
		baseURL: cfg.baseURL,
		httpCfg: common.HTTPClientConfig{
			Client:    client,
			Backoff:   cfg.backoff,
			UserAgent: common.DefaultUserAgent,
		},
		circuit: common.NewBreaker("ipapi.co"),
	}
}

func (b *IPAPICo) Name() string {
	return b.name
}

func (b *IPAPICo) Lookup(ctx context.Context) (location.Reading, error) {
	resp, err := common.DoRequest(ctx, b.httpCfg, b.circuit, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, b.baseURL, nil)
	})
	if err != nil {
		return location.Reading{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Error       bool     `json:"error"`
		Reason      string   `json:"reason"`
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
		City        string   `json:"city"`
		Region      string   `json:"region"`
		CountryName string   `json:"country_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return location.Reading{}, fmt.Errorf("decode: %w", err)
	}

	if payload.Error {
		if common.HasAny(payload.Reason, "ratelimit", "rate limit") {
			return location.Reading{}, fmt.Errorf("%w: %s", common.ErrRateLimited, payload.Reason)
		}
		return location.Reading{}, fmt.Errorf("ipapi.co error: %s", payload.Reason)
	}
	if payload.Latitude == nil || payload.Longitude == nil {
		return location.Reading{}, errMissingCoordinates
	}

	return location.Reading{
		Latitude:  *payload.Latitude,
		Longitude: *payload.Longitude,
		Source:    location.SourceIP,
		Provider:  b.name,
		City:      payload.City,
		Region:    payload.Region,
		Country:   payload.CountryName,
	}, nil
}
