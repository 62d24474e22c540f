package location

import (
	"math"
	"testing"
)

func at(lat, lon float64) Reading {
	return Reading{Latitude: lat, Longitude: lon, Source: SourceIP}
}

func TestDistanceKnownPairs(t *testing.T) {
	tests := []struct {
		name string
		a, b Reading
		want float64
	}{
		{"london-paris", at(51.5074, -0.1278), at(48.8566, 2.3522), 343.6},
		{"sf-nyc", at(37.77, -122.42), at(40.71, -74.00), 4129},
		{"same point", at(37.77, -122.42), at(37.77, -122.42), 0},
		{"one degree of latitude", at(0, 10), at(1, 10), 111.19},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > math.Max(1, tt.want*0.005) {
				t.Fatalf("Distance = %.2f km, want about %.2f km", got, tt.want)
			}
		})
	}
}

func TestDistanceSymmetric(t *testing.T) {
	points := []Reading{
		at(37.77, -122.42), at(-33.87, 151.21), at(64.14, -21.94), at(-0.5, 179.9), at(0.5, -179.9),
	}
	for _, a := range points {
		for _, b := range points {
			ab, ba := Distance(a, b), Distance(b, a)
			if math.Abs(ab-ba) > 1e-9 {
				t.Fatalf("Distance not symmetric for %v/%v: %f vs %f", a, b, ab, ba)
			}
			if ab < 0 {
				t.Fatalf("negative distance %f", ab)
			}
		}
	}
}

func TestDistanceAcrossAntimeridian(t *testing.T) {
	got := Distance(at(0, 179.9), at(0, -179.9))
	if got > 25 {
		t.Fatalf("expected a short hop across the antimeridian, got %.1f km", got)
	}
}

func TestShouldUpdateScenarios(t *testing.T) {
	r := NewReconciler(0)
	if r.ThresholdKm != DefaultThresholdKm {
		t.Fatalf("expected default threshold %v, got %v", DefaultThresholdKm, r.ThresholdKm)
	}

	sf := at(37.77, -122.42)

	if !r.ShouldUpdate(nil, sf) {
		t.Fatalf("first run must update")
	}
	nearby := sf
	if r.ShouldUpdate(&nearby, at(37.78, -122.43)) {
		t.Fatalf("a ~1 km move must not update")
	}
	if !r.ShouldUpdate(&nearby, at(40.71, -74.00)) {
		t.Fatalf("a cross-country move must update")
	}
}

func TestShouldUpdateBoundaryIsExclusive(t *testing.T) {
	a, b := at(10, 10), at(10.9, 10)
	d := Distance(a, b)

	exact := Reconciler{ThresholdKm: d}
	if exact.ShouldUpdate(&a, b) {
		t.Fatalf("a move of exactly the threshold (%.4f km) must not update", d)
	}
	below := Reconciler{ThresholdKm: d - 0.001}
	if !below.ShouldUpdate(&a, b) {
		t.Fatalf("a move just over the threshold must update")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		r    Reading
		ok   bool
	}{
		{"valid", at(37.77, -122.42), true},
		{"poles and antimeridian", at(-90, 180), true},
		{"null island", at(0, 0), false},
		{"latitude out of range", at(91, 0), false},
		{"longitude out of range", at(10, -181), false},
		{"nan", at(math.NaN(), 1), false},
		{"inf", at(1, math.Inf(1)), false},
		{"missing source", Reading{Latitude: 1, Longitude: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("expected error for %+v", tt.r)
			}
		})
	}
}

func TestPlace(t *testing.T) {
	r := Reading{Latitude: 1.5, Longitude: 2.25, City: "Atlanta", Region: " GA ", Country: "US"}
	if got := r.Place(); got != "Atlanta, GA, US" {
		t.Fatalf("Place = %q", got)
	}
	r.Description = "Back yard"
	if got := r.Place(); got != "Back yard" {
		t.Fatalf("Place = %q", got)
	}
	if got := at(1.5, 2.25).Place(); got != "1.5000, 2.2500" {
		t.Fatalf("Place = %q", got)
	}
}
