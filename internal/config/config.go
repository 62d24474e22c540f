package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// AppConfig is the process configuration, read from the environment.
type AppConfig struct {
	// BirdNET-Go integration.
	BirdNETConfigPath  string        `env:"BIRDNET_CONFIG_PATH" envDefault:"/root/birdnet-go-app/config/config.yaml" validate:"required"`
	BirdNETAPIURL      string        `env:"BIRDNET_API_URL" envDefault:"http://localhost:8080" validate:"required,url"`
	BirdNETWaitTimeout time.Duration `env:"BIRDNET_WAIT_TIMEOUT" envDefault:"30s" validate:"gte=0"`

	// Location detection.
	ThresholdKm   float64  `env:"LOCATION_THRESHOLD_KM" envDefault:"100" validate:"gt=0"`
	DisableIP     bool     `env:"LOCATION_DISABLE_IP"`
	DisableGPS    bool     `env:"LOCATION_DISABLE_GPS"`
	DisableManual bool     `env:"LOCATION_DISABLE_MANUAL"`
	ManualPaths   []string `env:"LOCATION_MANUAL_PATHS" envSeparator:"," envDefault:"location_config.json,~/birdnet_display/location_config.json,/etc/birdnet-display/location.toml"`

	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	IPTimeout   time.Duration `env:"IP_GEOLOCATION_TIMEOUT" envDefault:"10s" validate:"gt=0"`

	GPSDAddr       string        `env:"GPSD_ADDR" envDefault:"127.0.0.1:2947"`
	GPSDUnit       string        `env:"GPSD_UNIT" envDefault:"gpsd.service"`
	GPSFixTimeout  time.Duration `env:"GPS_FIX_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	GPSSerialDev   string        `env:"GPS_SERIAL_DEVICE"`
	GPSSerialBaud  int           `env:"GPS_SERIAL_BAUD" envDefault:"9600" validate:"gt=0"`
	ManualTimeout  time.Duration `env:"MANUAL_LOCATION_TIMEOUT" envDefault:"5s" validate:"gt=0"`
	ReverseGeocode string        `env:"REVERSE_GEOCODE" envDefault:"none" validate:"oneof=none google"`
	GoogleAPIKey   string        `env:"GOOGLE_GEOCODING_API_KEY" validate:"required_if=ReverseGeocode google"`

	// Image cache.
	CacheDir         string  `env:"CACHE_DIR" envDefault:"bird_images" validate:"required"`
	SpeciesListPath  string  `env:"SPECIES_LIST_PATH"`
	ImagesPerSpecies int     `env:"IMAGES_PER_SPECIES" envDefault:"3" validate:"gt=0"`
	ImageSourceURL   string  `env:"IMAGE_SOURCE_URL" envDefault:"http://localhost:8080/api/v2/media/species-image?name={species}&index={index}" validate:"required"`
	DownloadWorkers  int     `env:"DOWNLOAD_WORKERS" envDefault:"2" validate:"gt=0"`
	DownloadRate     float64 `env:"DOWNLOAD_RATE" envDefault:"2" validate:"gte=0"`

	// Watch mode.
	WatchInterval    time.Duration `env:"WATCH_INTERVAL" envDefault:"0s" validate:"gte=0"`
	StatusAddr       string        `env:"STATUS_ADDR"`
	StatusMaxHistory int           `env:"STATUS_MAX_HISTORY" envDefault:"50"`
	StatusMaxAge     time.Duration `env:"STATUS_MAX_AGE" envDefault:"168h"`

	MetricsTextfile string `env:"METRICS_TEXTFILE"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console" validate:"oneof=console json"`
}

var validate = validator.New()

// Load reads configuration from an optional .env file and the environment.
// Variables already set in the environment win over the file.
func Load(envFiles ...string) (*AppConfig, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		log.Debug().Err(err).Msg("config: no .env file loaded")
	}

	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SpeciesListPath == "" {
		cfg.SpeciesListPath = filepath.Join(cfg.CacheDir, "species_list.json")
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// IPBudget bounds the whole IP category: every backend gets IPTimeout in turn.
func (c *AppConfig) IPBudget(backends int) time.Duration {
	if backends < 1 {
		backends = 1
	}
	return c.IPTimeout * time.Duration(backends)
}
