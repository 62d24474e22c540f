package orchestrator

import (
	"time"

	"github.com/i474232898/birdnet-display/internal/cache"
	"github.com/i474232898/birdnet-display/internal/location"
)

// State is a step of one run.
type State string

const (
	StateStart            State = "START"
	StateLocationDetected State = "LOCATION_DETECTED"
	StateConfigEvaluated  State = "CONFIG_EVALUATED"
	StateSpeciesUpdated   State = "SPECIES_UPDATED"
	StateSpeciesUnchanged State = "SPECIES_UNCHANGED"
	StateCacheReconciled  State = "CACHE_RECONCILED"
	StateDone             State = "DONE"
	StateError            State = "ERROR"
)

// ExitStatus is the process exit code contract with the service manager.
type ExitStatus int

const (
	StatusUpdated   ExitStatus = 0
	StatusError     ExitStatus = 1
	StatusUnchanged ExitStatus = 2
)

func (s ExitStatus) String() string {
	switch s {
	case StatusUpdated:
		return "updated"
	case StatusError:
		return "error"
	case StatusUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Report describes one run. It is what the status API and metrics expose.
type Report struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	States []State    `json:"states"`
	Status ExitStatus `json:"status"`

	Previous   *location.Reading `json:"previous,omitempty"`
	Detected   *location.Reading `json:"detected,omitempty"`
	DistanceKm float64           `json:"distanceKm"`

	ConfigUpdated  bool `json:"configUpdated"`
	SpeciesUpdated bool `json:"speciesUpdated"`
	SpeciesStale   bool `json:"speciesStale"`
	SpeciesCount   int  `json:"speciesCount"`

	Cache cache.Summary `json:"cache"`

	ErrorKind string `json:"errorKind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// State returns the last state reached.
func (r *Report) State() State {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
