package location

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Source identifies which kind of provider produced a Reading.
type Source string

const (
	SourceIP       Source = "ip"
	SourceGPS      Source = "gps"
	SourceManual   Source = "manual"
	SourceExisting Source = "existing"
)

// Accuracy returns the accuracy class implied by the source.
func (s Source) Accuracy() string {
	switch s {
	case SourceIP:
		return "city-level (~10-50km)"
	case SourceGPS:
		return "high-precision (~5-10m)"
	case SourceManual:
		return "user-specified"
	case SourceExisting:
		return "previously configured"
	default:
		return "unknown"
	}
}

// Reading is a single location fix. Readings are values; providers build a new
// one per attempt and nothing mutates it afterwards.
type Reading struct {
	Latitude    float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude   float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Source      Source  `json:"source" validate:"required,oneof=ip gps manual existing"`
	Provider    string  `json:"provider,omitempty"`
	City        string  `json:"city,omitempty"`
	Region      string  `json:"region,omitempty"`
	Country     string  `json:"country,omitempty"`
	Description string  `json:"description,omitempty"`
}

var validate = validator.New()

// Validate rejects readings with out-of-range or non-finite coordinates and the
// 0,0 "null island" default that unconfigured devices report.
func (r Reading) Validate() error {
	if math.IsNaN(r.Latitude) || math.IsNaN(r.Longitude) ||
		math.IsInf(r.Latitude, 0) || math.IsInf(r.Longitude, 0) {
		return fmt.Errorf("non-finite coordinates")
	}
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.Latitude == 0 && r.Longitude == 0 {
		return fmt.Errorf("coordinates are 0,0")
	}
	return nil
}

// ValidCoordinates reports whether lat/lon would pass Validate.
func ValidCoordinates(lat, lon float64) bool {
	return Reading{Latitude: lat, Longitude: lon, Source: SourceExisting}.Validate() == nil
}

// Place joins the non-empty descriptive fields, falling back to the raw
// coordinates.
func (r Reading) Place() string {
	if r.Description != "" {
		return r.Description
	}
	var parts []string
	for _, p := range []string{r.City, r.Region, r.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%.4f, %.4f", r.Latitude, r.Longitude)
	}
	return strings.Join(parts, ", ")
}

// String formats the reading for log output.
func (r Reading) String() string {
	return fmt.Sprintf("%s (%.6f, %.6f) via %s [%s]", r.Place(), r.Latitude, r.Longitude, r.providerName(), r.Source.Accuracy())
}

func (r Reading) providerName() string {
	if r.Provider != "" {
		return r.Provider
	}
	return string(r.Source)
}
