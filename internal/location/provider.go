package location

import (
	"context"
	"errors"
)

var (
	// ErrProviderFailure marks a single provider attempt that failed. The
	// detector moves on to the next provider.
	ErrProviderFailure = errors.New("location provider failed")

	// ErrDetectionExhausted is returned when every enabled provider failed.
	ErrDetectionExhausted = errors.New("all location providers failed")
)

// Provider abstracts one strategy for obtaining a location (IP geolocation,
// GPS, manual file).
type Provider interface {
	Name() string
	Source() Source
	Attempt(ctx context.Context) (Reading, error)
}

// Describer fills in place metadata for bare coordinates.
type Describer interface {
	Describe(ctx context.Context, lat, lon float64) (Place, error)
}

// Place is descriptive metadata for a coordinate pair.
type Place struct {
	City    string
	Region  string
	Country string
}
