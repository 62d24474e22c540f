package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Options toggles whole provider categories on or off. The detector never
// decides this itself.
type Options struct {
	DisableIP     bool
	DisableGPS    bool
	DisableManual bool

	// Timeouts bounds each provider attempt by source. Sources without an
	// entry use DefaultTimeout.
	Timeouts map[Source]time.Duration

	// Describer, when set, fills city/region/country for readings that
	// arrive without them.
	Describer Describer
}

// DefaultTimeout bounds a provider attempt when Options.Timeouts has no entry.
const DefaultTimeout = 30 * time.Second

// Detector tries providers in priority order and returns the first valid reading.
type Detector struct {
	providers []Provider
	timeouts  map[Source]time.Duration
	describer Describer
}

// NewDetector keeps the given priority order and drops providers whose
// category is disabled.
func NewDetector(opts Options, providers ...Provider) *Detector {
	enabled := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		switch p.Source() {
		case SourceIP:
			if opts.DisableIP {
				continue
			}
		case SourceGPS:
			if opts.DisableGPS {
				continue
			}
		case SourceManual:
			if opts.DisableManual {
				continue
			}
		}
		enabled = append(enabled, p)
	}

	return &Detector{
		providers: enabled,
		timeouts:  opts.Timeouts,
		describer: opts.Describer,
	}
}

// Providers returns the enabled providers in priority order.
func (d *Detector) Providers() []Provider {
	return d.providers
}

// Detect walks the provider chain. Each attempt gets its own timeout; a
// failed, timed out or invalid attempt hands over to the next provider.
func (d *Detector) Detect(ctx context.Context) (Reading, error) {
	if len(d.providers) == 0 {
		return Reading{}, fmt.Errorf("%w: no providers enabled", ErrDetectionExhausted)
	}

	var failures []error
	for _, p := range d.providers {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}

		log.Info().Str("provider", p.Name()).Str("source", string(p.Source())).Msg("location: attempting provider")
		r, err := d.attempt(ctx, p)
		if err != nil {
			log.Warn().Err(err).Str("provider", p.Name()).Msg("location: provider failed")
			failures = append(failures, err)
			continue
		}

		r = d.describe(ctx, r)
		log.Info().Str("reading", r.String()).Msg("location: detected")
		return r, nil
	}

	return Reading{}, fmt.Errorf("%w: %w", ErrDetectionExhausted, errors.Join(failures...))
}

func (d *Detector) attempt(ctx context.Context, p Provider) (Reading, error) {
	timeout := d.timeouts[p.Source()]
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r, err := p.Attempt(ctx)
	if err != nil {
		if errors.Is(err, ErrProviderFailure) {
			return Reading{}, err
		}
		return Reading{}, fmt.Errorf("%w: %s: %w", ErrProviderFailure, p.Name(), err)
	}
	if r.Source == "" {
		r.Source = p.Source()
	}
	if r.Provider == "" {
		r.Provider = p.Name()
	}
	if err := r.Validate(); err != nil {
		return Reading{}, fmt.Errorf("%w: %s: invalid reading: %w", ErrProviderFailure, p.Name(), err)
	}
	return r, nil
}

func (d *Detector) describe(ctx context.Context, r Reading) Reading {
	if d.describer == nil || r.City != "" || r.Description != "" {
		return r
	}
	place, err := d.describer.Describe(ctx, r.Latitude, r.Longitude)
	if err != nil {
		log.Debug().Err(err).Msg("location: reverse geocoding failed")
		return r
	}
	r.City = place.City
	r.Region = place.Region
	r.Country = place.Country
	return r
}
