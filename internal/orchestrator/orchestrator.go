// Package orchestrator sequences one location-manager run: detect the
// location, reconcile it with the BirdNET-Go config, refresh the species
// list and fill the image cache, then map the outcome to an exit status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/birdnet-display/internal/appconfig"
	"github.com/i474232898/birdnet-display/internal/cache"
	"github.com/i474232898/birdnet-display/internal/location"
	"github.com/i474232898/birdnet-display/internal/species"
)

// ConfigStore is the persisted BirdNET-Go configuration.
type ConfigStore interface {
	Load() error
	Location() *location.Reading
	SetLocation(lat, lon float64) error
	Save(backup bool) error
}

// Detector produces a location reading.
type Detector interface {
	Detect(ctx context.Context) (location.Reading, error)
}

// SpeciesSource fetches the species list for the configured location.
type SpeciesSource interface {
	Fetch(ctx context.Context) (species.Set, error)
}

// ReadyWaiter blocks until the species API is reachable or gives up.
type ReadyWaiter interface {
	WaitReady(ctx context.Context, maxWait, interval time.Duration) bool
}

// SpeciesList is the locally saved species list.
type SpeciesList interface {
	Load() (species.Set, error)
	Save(set species.Set, lat, lon float64) error
}

// CacheReconciler fills the image cache for a species list.
type CacheReconciler interface {
	Reconcile(ctx context.Context, species []string) (cache.Summary, error)
}

// Deps are the collaborators of a run.
type Deps struct {
	Config     ConfigStore
	Detector   Detector
	Reconciler location.Reconciler
	Species    SpeciesSource
	Ready      ReadyWaiter
	List       SpeciesList
	Cache      CacheReconciler
}

// Options tunes a run.
type Options struct {
	// WaitTimeout bounds how long to wait for BirdNET-Go before fetching the
	// species list. Zero skips the wait.
	WaitTimeout time.Duration
}

// Orchestrator runs the location manager workflow.
type Orchestrator struct {
	deps Deps
	opts Options
	now  func() time.Time
}

func New(deps Deps, opts Options) *Orchestrator {
	if deps.Reconciler.ThresholdKm <= 0 {
		deps.Reconciler = location.NewReconciler(0)
	}
	return &Orchestrator{deps: deps, opts: opts, now: time.Now}
}

// Run performs one pass and always returns a report; the exit status is in
// Report.Status.
func (o *Orchestrator) Run(ctx context.Context) *Report {
	rep := &Report{
		ID:        uuid.NewString(),
		StartedAt: o.now().UTC(),
	}
	logger := log.With().Str("run", rep.ID).Logger()
	ctx = logger.WithContext(ctx)

	logger.Info().Msg("location manager starting")
	o.enter(ctx, rep, StateStart)

	if err := o.run(ctx, rep); err != nil {
		rep.Status = StatusError
		rep.ErrorKind = errorKind(err)
		rep.Error = err.Error()
		o.enter(ctx, rep, StateError)
		logger.Error().Err(err).Str("kind", rep.ErrorKind).Msg("location manager failed")
	} else {
		o.enter(ctx, rep, StateDone)
	}

	rep.FinishedAt = o.now().UTC()
	logger.Info().
		Str("status", rep.Status.String()).
		Int("exit_code", int(rep.Status)).
		Bool("config_updated", rep.ConfigUpdated).
		Bool("species_updated", rep.SpeciesUpdated).
		Int("species", rep.SpeciesCount).
		Int("images", rep.Cache.Images).
		Int("cache_failed", rep.Cache.Failed).
		Dur("duration", rep.Duration()).
		Msg("location manager finished")
	return rep
}

func (o *Orchestrator) enter(ctx context.Context, rep *Report, s State) {
	rep.States = append(rep.States, s)
	log.Ctx(ctx).Debug().Str("state", string(s)).Msg("state transition")
}

func (o *Orchestrator) run(ctx context.Context, rep *Report) error {
	if o.deps.Ready != nil && o.opts.WaitTimeout > 0 {
		o.deps.Ready.WaitReady(ctx, o.opts.WaitTimeout, time.Second)
	}

	if err := o.deps.Config.Load(); err != nil {
		return err
	}
	current := o.deps.Config.Location()
	rep.Previous = current
	if current != nil {
		log.Ctx(ctx).Info().Float64("latitude", current.Latitude).Float64("longitude", current.Longitude).Msg("current location in config")
	} else {
		log.Ctx(ctx).Info().Msg("no valid location configured")
	}

	detected, err := o.deps.Detector.Detect(ctx)
	if err != nil {
		if current == nil {
			return fmt.Errorf("no location available and detection failed: %w", err)
		}
		log.Ctx(ctx).Warn().Err(err).Msg("could not detect location, keeping existing configuration")
		detected = *current
		detected.Source = location.SourceExisting
	}
	rep.Detected = &detected
	o.enter(ctx, rep, StateLocationDetected)

	if err := o.evaluateConfig(ctx, rep, current, detected); err != nil {
		return err
	}
	o.enter(ctx, rep, StateConfigEvaluated)

	set, err := o.refreshSpecies(ctx, rep, detected)
	if err != nil {
		return err
	}
	if rep.SpeciesUpdated {
		o.enter(ctx, rep, StateSpeciesUpdated)
	} else {
		o.enter(ctx, rep, StateSpeciesUnchanged)
	}

	sum, err := o.deps.Cache.Reconcile(ctx, set)
	if err != nil {
		return fmt.Errorf("%w: %w", cache.ErrDownload, err)
	}
	rep.Cache = sum
	o.enter(ctx, rep, StateCacheReconciled)

	switch {
	case rep.ConfigUpdated || rep.SpeciesUpdated || sum.Changed():
		rep.Status = StatusUpdated
	case sum.Failed > 0:
		return fmt.Errorf("%w: %d species could not be cached", cache.ErrDownload, sum.Failed)
	default:
		rep.Status = StatusUnchanged
	}
	return nil
}

func (o *Orchestrator) evaluateConfig(ctx context.Context, rep *Report, current *location.Reading, detected location.Reading) error {
	logger := log.Ctx(ctx)
	threshold := o.deps.Reconciler.ThresholdKm

	if current != nil {
		rep.DistanceKm = location.Distance(*current, detected)
	}
	if !o.deps.Reconciler.ShouldUpdate(current, detected) {
		logger.Info().Float64("distance_km", rep.DistanceKm).Float64("threshold_km", threshold).Msg("location change is within threshold")
		return nil
	}

	if current == nil {
		logger.Info().Msg("first-time location setup")
	} else {
		logger.Info().Float64("distance_km", rep.DistanceKm).Float64("threshold_km", threshold).Msg("location changed")
	}

	if err := o.deps.Config.SetLocation(detected.Latitude, detected.Longitude); err != nil {
		return fmt.Errorf("%w: %w", appconfig.ErrConfigWrite, err)
	}
	if err := o.deps.Config.Save(true); err != nil {
		return err
	}
	rep.ConfigUpdated = true
	logger.Info().Msg("configuration saved with backup")
	return nil
}

// refreshSpecies fetches the current list and falls back to the saved one.
func (o *Orchestrator) refreshSpecies(ctx context.Context, rep *Report, loc location.Reading) (species.Set, error) {
	logger := log.Ctx(ctx)

	saved, loadErr := o.deps.List.Load()
	if loadErr != nil && !errors.Is(loadErr, species.ErrNoList) {
		logger.Warn().Err(loadErr).Msg("saved species list unreadable")
	}

	fetched, err := o.deps.Species.Fetch(ctx)
	if err != nil {
		if len(saved) == 0 {
			return nil, err
		}
		logger.Warn().Err(err).Int("species", len(saved)).Msg("species list fetch failed, using saved list")
		rep.SpeciesStale = true
		rep.SpeciesCount = len(saved)
		return saved, nil
	}

	rep.SpeciesCount = len(fetched)
	rep.SpeciesUpdated = !fetched.Equal(saved)
	if rep.SpeciesUpdated || rep.ConfigUpdated {
		if err := o.deps.List.Save(fetched, loc.Latitude, loc.Longitude); err != nil {
			// The cache can still be filled from the fetched list.
			logger.Warn().Err(err).Msg("could not save species list")
		}
	}
	return fetched, nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, location.ErrDetectionExhausted):
		return "DetectionExhausted"
	case errors.Is(err, appconfig.ErrConfigUnavailable):
		return "ConfigUnavailable"
	case errors.Is(err, appconfig.ErrConfigWrite):
		return "ConfigWriteFailure"
	case errors.Is(err, species.ErrFetch):
		return "SpeciesFetchFailure"
	case errors.Is(err, cache.ErrDownload):
		return "DownloadFailure"
	default:
		return "Unknown"
	}
}
