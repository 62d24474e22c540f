package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/i474232898/birdnet-display/internal/common"
	"github.com/i474232898/birdnet-display/internal/location"
)

// Backend is a single IP geolocation HTTP service.
type Backend interface {
	Name() string
	Lookup(ctx context.Context) (location.Reading, error)
}

// BackendOption customises a backend.
type BackendOption func(*backendConfig)

type backendConfig struct {
	baseURL string
	backoff common.BackoffConfig
}

// WithBaseURL points a backend at a different endpoint.
func WithBaseURL(u string) BackendOption {
	return func(c *backendConfig) {
		c.baseURL = u
	}
}

// WithBackoff overrides the retry policy.
func WithBackoff(b common.BackoffConfig) BackendOption {
	return func(c *backendConfig) {
		c.backoff = b
	}
}

func newBackendConfig(defaultURL string, opts []BackendOption) backendConfig {
	cfg := backendConfig{baseURL: defaultURL, backoff: common.DefaultBackoff}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// IPGeolocation is the IP provider category: it asks each backend in order
// until one returns an in-range reading.
type IPGeolocation struct {
	backends       []Backend
	backendTimeout time.Duration
}

// NewIPGeolocation keeps the backend order as given (primary first).
func NewIPGeolocation(backendTimeout time.Duration, backends ...Backend) *IPGeolocation {
	return &IPGeolocation{backends: backends, backendTimeout: backendTimeout}
}

// DefaultBackends returns ipapi.co, ip-api.com and ipinfo.io in priority order.
func DefaultBackends(client *http.Client) []Backend {
	return []Backend{
		NewIPAPICo(client),
		NewIPAPICom(client),
		NewIPInfo(client),
	}
}

func (p *IPGeolocation) Name() string { return "ip-geolocation" }

func (p *IPGeolocation) Source() location.Source { return location.SourceIP }

// Attempt returns the first valid backend reading. Rate limiting, network
// errors and malformed bodies all fall through to the next backend.
func (p *IPGeolocation) Attempt(ctx context.Context) (location.Reading, error) {
	if len(p.backends) == 0 {
		return location.Reading{}, fmt.Errorf("%w: no ip geolocation backends configured", location.ErrProviderFailure)
	}

	var errs []error
	for _, b := range p.backends {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		r, err := p.lookup(ctx, b)
		if err != nil {
			log.Warn().Err(err).Str("backend", b.Name()).Msg("ip geolocation: backend failed")
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		return r, nil
	}
	return location.Reading{}, fmt.Errorf("%w: %w", location.ErrProviderFailure, errors.Join(errs...))
}

func (p *IPGeolocation) lookup(ctx context.Context, b Backend) (location.Reading, error) {
	if p.backendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.backendTimeout)
		defer cancel()
	}

	r, err := b.Lookup(ctx)
	if err != nil {
		return location.Reading{}, err
	}
	r.Source = location.SourceIP
	if r.Provider == "" {
		r.Provider = b.Name()
	}
	if err := r.Validate(); err != nil {
		return location.Reading{}, fmt.Errorf("invalid coordinates %.4f,%.4f: %w", r.Latitude, r.Longitude, err)
	}
	return r, nil
}
