package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/birdnet-display/internal/common"
	"github.com/i474232898/birdnet-display/internal/location"
)

// DefaultManualPaths are searched in order; the first parseable file wins.
var DefaultManualPaths = []string{
	"location_config.json",
	"~/birdnet_display/location_config.json",
	"/etc/birdnet-display/location.toml",
}

var validate = validator.New()

type manualLocation struct {
	Latitude    *float64 `json:"latitude" toml:"latitude" validate:"required"`
	Longitude   *float64 `json:"longitude" toml:"longitude" validate:"required"`
	Description string   `json:"description" toml:"description"`
	City        string   `json:"city" toml:"city"`
	Region      string   `json:"region" toml:"region"`
	Country     string   `json:"country" toml:"country"`
}

// manualFile accepts both {"location": {...}} and a flat document.
type manualFile struct {
	Location *manualLocation `json:"location" toml:"location"`
	manualLocation
}

// Manual reads a hand-written location file.
type Manual struct {
	paths []string
}

func NewManual(paths ...string) *Manual {
	if len(paths) == 0 {
		paths = DefaultManualPaths
	}
	return &Manual{paths: paths}
}

func (p *Manual) Name() string { return "manual" }

func (p *Manual) Source() location.Source { return location.SourceManual }

// Paths returns the search paths with "~" expanded.
func (p *Manual) Paths() []string {
	out := make([]string, 0, len(p.paths))
	for _, path := range p.paths {
		out = append(out, common.ExpandHome(path))
	}
	return out
}

func (p *Manual) Attempt(ctx context.Context) (location.Reading, error) {
	var errs []error
	for _, path := range p.Paths() {
		if err := ctx.Err(); err != nil {
			return location.Reading{}, err
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}

		r, err := ReadManualFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("manual location: unreadable file")
			errs = append(errs, err)
			continue
		}
		log.Info().Str("path", path).Msg("manual location: using configuration file")
		return r, nil
	}
	if len(errs) == 0 {
		return location.Reading{}, fmt.Errorf("no manual location file in %s", strings.Join(p.paths, ", "))
	}
	return location.Reading{}, errors.Join(errs...)
}

// ReadManualFile parses one location file. ".toml" files are TOML, anything
// else is JSON.
func ReadManualFile(path string) (location.Reading, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return location.Reading{}, err
	}

	var f manualFile
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &f); err != nil {
			return location.Reading{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if err := json.Unmarshal(data, &f); err != nil {
		return location.Reading{}, fmt.Errorf("parse %s: %w", path, err)
	}

	loc := f.manualLocation
	if f.Location != nil {
		loc = *f.Location
	}
	if err := validate.Struct(loc); err != nil {
		return location.Reading{}, fmt.Errorf("%s: %w", path, err)
	}

	r := location.Reading{
		Latitude:    *loc.Latitude,
		Longitude:   *loc.Longitude,
		Source:      location.SourceManual,
		Provider:    "manual:" + path,
		Description: loc.Description,
		City:        loc.City,
		Region:      loc.Region,
		Country:     loc.Country,
	}
	if err := r.Validate(); err != nil {
		return location.Reading{}, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// WriteManualTemplate writes an example location file for the user to edit.
func WriteManualTemplate(path string) error {
	template := map[string]any{
		"location": map[string]any{
			"latitude":    33.7490,
			"longitude":   -84.3880,
			"description": "Atlanta, GA",
			"method":      "manual",
		},
	}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var b strings.Builder
		err = toml.NewEncoder(&b).Encode(template)
		data = []byte(b.String())
	} else {
		data, err = json.MarshalIndent(template, "", "  ")
	}
	if err != nil {
		return err
	}
	return common.WriteFileAtomic(common.ExpandHome(path), data, 0o644)
}
