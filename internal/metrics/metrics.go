// Package metrics exports run outcomes in the Prometheus text format so the
// node_exporter textfile collector can pick them up between runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/i474232898/birdnet-display/internal/orchestrator"
)

const namespace = "birdnet_location_manager"

// Recorder holds the gauges for the most recent run.
type Recorder struct {
	registry *prometheus.Registry

	lastRun        prometheus.Gauge
	exitStatus     prometheus.Gauge
	duration       prometheus.Gauge
	distance       prometheus.Gauge
	configUpdated  prometheus.Gauge
	speciesUpdated prometheus.Gauge
	speciesStale   prometheus.Gauge
	speciesCount   prometheus.Gauge
	images         *prometheus.GaugeVec
	runs           *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	r := &Recorder{
		registry:       prometheus.NewRegistry(),
		lastRun:        gauge("last_run_timestamp_seconds", "Unix time the last run finished."),
		exitStatus:     gauge("last_exit_status", "Exit status of the last run (0 updated, 1 error, 2 unchanged)."),
		duration:       gauge("last_run_duration_seconds", "Duration of the last run."),
		distance:       gauge("location_distance_km", "Distance between the configured and the detected location."),
		configUpdated:  gauge("config_updated", "1 if the last run rewrote the BirdNET-Go configuration."),
		speciesUpdated: gauge("species_updated", "1 if the last run changed the species list."),
		speciesStale:   gauge("species_stale", "1 if the last run fell back to the saved species list."),
		speciesCount:   gauge("species_count", "Number of species in the active list."),
		images: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_species",
			Help:      "Species handled by the last cache reconciliation, by result.",
		}, []string{"result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Runs since the process started, by status.",
		}, []string{"status"}),
	}
	r.registry.MustRegister(
		r.lastRun, r.exitStatus, r.duration, r.distance,
		r.configUpdated, r.speciesUpdated, r.speciesStale, r.speciesCount,
		r.images, r.runs,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Observe records a finished run.
func (r *Recorder) Observe(rep *orchestrator.Report) {
	if rep == nil {
		return
	}
	r.lastRun.Set(float64(rep.FinishedAt.Unix()))
	r.exitStatus.Set(float64(rep.Status))
	r.duration.Set(rep.Duration().Seconds())
	r.distance.Set(rep.DistanceKm)
	r.configUpdated.Set(boolValue(rep.ConfigUpdated))
	r.speciesUpdated.Set(boolValue(rep.SpeciesUpdated))
	r.speciesStale.Set(boolValue(rep.SpeciesStale))
	r.speciesCount.Set(float64(rep.SpeciesCount))
	r.images.WithLabelValues("succeeded").Set(float64(rep.Cache.Succeeded))
	r.images.WithLabelValues("failed").Set(float64(rep.Cache.Failed))
	r.images.WithLabelValues("skipped").Set(float64(rep.Cache.Skipped))
	r.images.WithLabelValues("images_added").Set(float64(rep.Cache.Images))
	r.runs.WithLabelValues(rep.Status.String()).Inc()
}

// WriteTextfile writes the current values to path atomically. An empty path
// is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
