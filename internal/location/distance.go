package location

import (
	"github.com/golang/geo/s2"
)

const (
	// EarthRadiusKm is the mean earth radius used for great-circle distances.
	EarthRadiusKm = 6371.0

	// DefaultThresholdKm is the distance a new fix must move before the
	// configured location is replaced.
	DefaultThresholdKm = 100.0
)

// Distance returns the great-circle distance between two readings in km.
// s2.LatLng.Distance evaluates the haversine formula.
func Distance(a, b Reading) float64 {
	la := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	lb := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return la.Distance(lb).Radians() * EarthRadiusKm
}

// Reconciler decides whether a detected location should replace the
// configured one.
type Reconciler struct {
	ThresholdKm float64
}

// NewReconciler returns a Reconciler; a non-positive threshold selects the default.
func NewReconciler(thresholdKm float64) Reconciler {
	if thresholdKm <= 0 {
		thresholdKm = DefaultThresholdKm
	}
	return Reconciler{ThresholdKm: thresholdKm}
}

// ShouldUpdate is true on first run (current == nil) or when the distance
// strictly exceeds the threshold. A move of exactly ThresholdKm is not an update.
func (r Reconciler) ShouldUpdate(current *Reading, detected Reading) bool {
	if current == nil {
		return true
	}
	return Distance(*current, detected) > r.ThresholdKm
}
