package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/i474232898/birdnet-display/internal/cache"
	"github.com/i474232898/birdnet-display/internal/orchestrator"
)

func TestObserveAndWriteTextfile(t *testing.T) {
	r := NewRecorder()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.Observe(&orchestrator.Report{
		StartedAt:     start,
		FinishedAt:    start.Add(3 * time.Second),
		Status:        orchestrator.StatusUnchanged,
		DistanceKm:    1.5,
		SpeciesStale:  true,
		SpeciesCount:  42,
		Cache:         cache.Summary{Skipped: 42},
		ConfigUpdated: false,
	})
	r.Observe(nil)

	if got := testutil.ToFloat64(r.exitStatus); got != 2 {
		t.Fatalf("exit status gauge = %v", got)
	}
	if got := testutil.ToFloat64(r.speciesStale); got != 1 {
		t.Fatalf("species stale gauge = %v", got)
	}
	if got := testutil.ToFloat64(r.runs.WithLabelValues("unchanged")); got != 1 {
		t.Fatalf("runs counter = %v", got)
	}

	path := filepath.Join(t.TempDir(), "location_manager.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"birdnet_location_manager_species_count 42",
		"birdnet_location_manager_last_run_duration_seconds 3",
		`birdnet_location_manager_cache_species{result="skipped"} 42`,
	} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("textfile missing %q:\n%s", want, data)
		}
	}

	if err := r.WriteTextfile(""); err != nil {
		t.Fatalf("empty path should be a no-op: %v", err)
	}
}
