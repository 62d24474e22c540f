package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	httpapi "github.com/i474232898/birdnet-display/internal/api/http"
	"github.com/i474232898/birdnet-display/internal/appconfig"
	"github.com/i474232898/birdnet-display/internal/cache"
	"github.com/i474232898/birdnet-display/internal/config"
	"github.com/i474232898/birdnet-display/internal/geocode"
	"github.com/i474232898/birdnet-display/internal/location"
	"github.com/i474232898/birdnet-display/internal/location/providers"
	"github.com/i474232898/birdnet-display/internal/logging"
	"github.com/i474232898/birdnet-display/internal/metrics"
	"github.com/i474232898/birdnet-display/internal/orchestrator"
	"github.com/i474232898/birdnet-display/internal/scheduler"
	"github.com/i474232898/birdnet-display/internal/species"
	"github.com/i474232898/birdnet-display/internal/store"
)

const appName = "location-manager"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		envFile       = flag.String("env-file", ".env", "optional .env file")
		watch         = flag.Bool("watch", false, "keep running and re-run on WATCH_INTERVAL or location file changes")
		writeTemplate = flag.String("write-location-template", "", "write an example manual location file to `path` and exit")
		showConfig    = flag.Bool("show-config", false, "print the BirdNET-Go configuration summary and exit")
		restoreBackup = flag.Bool("restore-backup", false, "restore the newest BirdNET-Go configuration backup and exit")
		checkCache    = flag.Bool("check-cache", false, "list species missing from the image cache and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logging.Init(appName, "info", "console")
		log.Error().Err(err).Msg("failed to load config")
		return int(orchestrator.StatusError)
	}
	logging.Init(appName, cfg.LogLevel, cfg.LogFormat)

	switch {
	case *writeTemplate != "":
		if err := providers.WriteManualTemplate(*writeTemplate); err != nil {
			log.Error().Err(err).Msg("could not write location template")
			return int(orchestrator.StatusError)
		}
		log.Info().Str("path", *writeTemplate).Msg("location template written")
		return int(orchestrator.StatusUpdated)
	case *showConfig:
		st := appconfig.NewStore(cfg.BirdNETConfigPath)
		if err := st.Load(); err != nil {
			log.Error().Err(err).Msg("could not load BirdNET-Go configuration")
			return int(orchestrator.StatusError)
		}
		fmt.Println(st.Summary())
		return int(orchestrator.StatusUpdated)
	case *restoreBackup:
		if _, err := appconfig.RestoreLatestBackup(cfg.BirdNETConfigPath); err != nil {
			log.Error().Err(err).Msg("could not restore backup")
			return int(orchestrator.StatusError)
		}
		return int(orchestrator.StatusUpdated)
	}

	// Shared HTTP client for outbound calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	fetcher := species.NewFetcher(httpClient, cfg.BirdNETAPIURL)
	list := species.NewListFile(cfg.SpeciesListPath)
	images := cache.NewReconciler(cache.Options{
		Root:             cfg.CacheDir,
		ImagesPerSpecies: cfg.ImagesPerSpecies,
		Workers:          cfg.DownloadWorkers,
		RatePerSecond:    cfg.DownloadRate,
	}, cache.NewHTTPImageSource(httpClient, cfg.ImageSourceURL))

	if *checkCache {
		return checkImageCache(list, images)
	}

	manual := providers.NewManual(cfg.ManualPaths...)
	detector := buildDetector(cfg, httpClient, manual)

	orch := orchestrator.New(orchestrator.Deps{
		Config:     appconfig.NewStore(cfg.BirdNETConfigPath),
		Detector:   detector,
		Reconciler: location.NewReconciler(cfg.ThresholdKm),
		Species:    fetcher,
		Ready:      fetcher,
		List:       list,
		Cache:      images,
	}, orchestrator.Options{WaitTimeout: cfg.BirdNETWaitTimeout})

	recorder := metrics.NewRecorder()
	observe := func(rep *orchestrator.Report) {
		recorder.Observe(rep)
		if err := recorder.WriteTextfile(cfg.MetricsTextfile); err != nil {
			log.Warn().Err(err).Str("path", cfg.MetricsTextfile).Msg("could not write metrics textfile")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !*watch && cfg.WatchInterval <= 0 {
		rep := orch.Run(ctx)
		observe(rep)
		return int(rep.Status)
	}

	return watchMode(ctx, cfg, orch, observe, manual, list, images)
}

func buildDetector(cfg *config.AppConfig, client *http.Client, manual *providers.Manual) *location.Detector {
	backends := providers.DefaultBackends(client)
	provs := []location.Provider{
		providers.NewIPGeolocation(cfg.IPTimeout, backends...),
		providers.NewGPSD(cfg.GPSDAddr, cfg.GPSDUnit, providers.SystemdChecker{}),
	}
	if cfg.GPSSerialDev != "" {
		provs = append(provs, providers.NewSerialNMEA(cfg.GPSSerialDev, cfg.GPSSerialBaud, providers.OpenSerial))
	}
	provs = append(provs, manual)

	opts := location.Options{
		DisableIP:     cfg.DisableIP,
		DisableGPS:    cfg.DisableGPS,
		DisableManual: cfg.DisableManual,
		// The IP provider bounds each backend itself; its overall budget
		// covers every backend in turn.
		Timeouts: map[location.Source]time.Duration{
			location.SourceIP:     cfg.IPBudget(len(backends)),
			location.SourceGPS:    cfg.GPSFixTimeout,
			location.SourceManual: cfg.ManualTimeout,
		},
	}
	if cfg.ReverseGeocode == "google" {
		opts.Describer = geocode.NewGoogle(cfg.GoogleAPIKey)
	}
	return location.NewDetector(opts, provs...)
}

func checkImageCache(list *species.ListFile, images *cache.Reconciler) int {
	set, err := list.Load()
	if err != nil {
		log.Error().Err(err).Str("path", list.Path()).Msg("no species list to check against")
		return int(orchestrator.StatusError)
	}
	missing, m, err := images.Check(set)
	if err != nil {
		log.Error().Err(err).Msg("could not scan image cache")
		return int(orchestrator.StatusError)
	}
	log.Info().
		Int("species", len(set)).
		Int("complete", m.CompleteCount(images.Target())).
		Int("missing", len(missing)).
		Msg("image cache status")
	for _, s := range missing {
		fmt.Println(s)
	}
	if len(missing) > 0 {
		return int(orchestrator.StatusUpdated)
	}
	return int(orchestrator.StatusUnchanged)
}

func watchMode(
	ctx context.Context,
	cfg *config.AppConfig,
	orch *orchestrator.Orchestrator,
	observe func(*orchestrator.Report),
	manual *providers.Manual,
	list *species.ListFile,
	images *cache.Reconciler,
) int {
	history := store.NewMemoryStore(cfg.StatusMaxHistory, cfg.StatusMaxAge)

	interval := cfg.WatchInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	var watchPaths []string
	if !cfg.DisableManual {
		watchPaths = manual.Paths()
	}

	sched := scheduler.New(interval, watchPaths, func(ctx context.Context) {
		rep := orch.Run(ctx)
		history.Save(rep)
		observe(rep)
	})
	if err := sched.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start scheduler")
		return int(orchestrator.StatusError)
	}
	defer sched.Stop()

	var app *fiber.App
	if cfg.StatusAddr != "" {
		app = newStatusApp(httpapi.Handlers{Runs: history, Species: list, Cache: images})
		go func() {
			if err := app.Listen(cfg.StatusAddr); err != nil {
				log.Warn().Err(err).Msg("status server stopped")
			}
		}()
		log.Info().Str("addr", cfg.StatusAddr).Msg("status API listening")
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	if app != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("error during shutdown")
		}
	}

	rep, err := history.Latest()
	if err != nil {
		return int(orchestrator.StatusUnchanged)
	}
	return int(rep.Status)
}

func newStatusApp(h httpapi.Handlers) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})
	app.Use(recover.New())
	app.Use(httpapi.RequestLogger())
	httpapi.RegisterRoutes(app, h)
	return app
}
