package providers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/i474232898/birdnet-display/internal/location"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestReadManualFileFormats(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
		lat     float64
		desc    string
	}{
		{"json wrapped", "a.json", `{"location": {"latitude": 33.749, "longitude": -84.388, "description": "Atlanta, GA"}}`, 33.749, "Atlanta, GA"},
		{"json flat", "b.json", `{"latitude": 40.71, "longitude": -74.0}`, 40.71, ""},
		{"toml table", "c.toml", "[location]\nlatitude = 51.5\nlongitude = -0.12\ndescription = \"London\"\n", 51.5, "London"},
		{"toml flat", "d.toml", "latitude = -33.87\nlongitude = 151.21\ncity = \"Sydney\"\n", -33.87, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.content)

			r, err := ReadManualFile(path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Latitude != tt.lat || r.Description != tt.desc || r.Source != location.SourceManual {
				t.Fatalf("unexpected reading: %+v", r)
			}
		})
	}
}

func TestReadManualFileRejects(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"missing.json":   `{"location": {"latitude": 33.7}}`,
		"range.json":     `{"location": {"latitude": 95, "longitude": 10}}`,
		"zero.json":      `{"latitude": 0, "longitude": 0}`,
		"malformed.json": `{"location": `,
		"bad.toml":       "latitude = \n",
	}
	for name, content := range tests {
		path := filepath.Join(dir, name)
		writeFile(t, path, content)
		if _, err := ReadManualFile(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestManualAttemptSearchOrder(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.json")
	good := filepath.Join(dir, "good.json")
	missing := filepath.Join(dir, "missing.json")
	writeFile(t, broken, `not json`)
	writeFile(t, good, `{"location": {"latitude": 12.5, "longitude": 45.25}}`)

	r, err := NewManual(missing, broken, good).Attempt(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Latitude != 12.5 || r.Provider != "manual:"+good {
		t.Fatalf("unexpected reading: %+v", r)
	}

	if _, err := NewManual(missing).Attempt(context.Background()); err == nil {
		t.Fatalf("expected error when no file exists")
	}
}

func TestWriteManualTemplate(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"location_config.json", "location.toml"} {
		path := filepath.Join(dir, name)
		if err := WriteManualTemplate(path); err != nil {
			t.Fatalf("write template: %v", err)
		}
		r, err := ReadManualFile(path)
		if err != nil {
			t.Fatalf("template %s does not parse: %v", name, err)
		}
		if r.Latitude != 33.749 || r.Longitude != -84.388 {
			t.Fatalf("unexpected template reading: %+v", r)
		}
	}
}
