// Package geocode fills place metadata for readings that only carry coordinates.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/birdnet-display/internal/location"
)

var errNoResults = errors.New("reverse geocoding returned no results")

// the geocoder package keeps its API key in a package variable.
var apiKeyMu sync.Mutex

// reverseFunc matches geocoder.GeocodingReverse.
type reverseFunc func(geocoder.Location) ([]geocoder.Address, error)

// Google reverse geocodes through the Google Geocoding API.
type Google struct {
	apiKey  string
	reverse reverseFunc
}

func NewGoogle(apiKey string) *Google {
	return &Google{apiKey: apiKey, reverse: geocoder.GeocodingReverse}
}

// Describe returns the first address Google reports for the coordinates.
// The underlying client has no context support; ctx is only checked up front.
func (g *Google) Describe(ctx context.Context, lat, lon float64) (location.Place, error) {
	if g.apiKey == "" {
		return location.Place{}, fmt.Errorf("google geocoding api key is not configured")
	}
	if err := ctx.Err(); err != nil {
		return location.Place{}, err
	}

	apiKeyMu.Lock()
	geocoder.ApiKey = g.apiKey
	addresses, err := g.reverse(geocoder.Location{Latitude: lat, Longitude: lon})
	apiKeyMu.Unlock()
	if err != nil {
		return location.Place{}, fmt.Errorf("reverse geocode: %w", err)
	}
	if len(addresses) == 0 {
		return location.Place{}, errNoResults
	}

	a := addresses[0]
	city := a.City
	if city == "" {
		city = a.County
	}
	return location.Place{
		City:    city,
		Region:  a.State,
		Country: a.Country,
	}, nil
}
