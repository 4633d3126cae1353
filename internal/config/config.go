package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	RegionsPath   string
	RegionIDField string
	CheckpointDir string
	OutputDir     string
	DatasetsFile  string

	HistoricalStart time.Time
	HistoricalEnd   time.Time
	ForecastStart   time.Time
	ForecastEnd     time.Time

	Scales      []int
	EmptyPolicy domain.EmptyPolicy

	// Raster query service.
	RasterBaseURL   string
	RasterProject   string
	RasterTokenFile string
	RasterTimeout   time.Duration

	LedgerPath string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Optional publishing of reconciled rows.
	KafkaBrokers []string
	KafkaTopic   string

	// Optional object-store mirror of checkpoint and output files.
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3Prefix    string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	rasterTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("RASTER_TIMEOUT", "5m"))
	if err != nil || rasterTimeout <= 0 {
		return nil, errors.New("invalid RASTER_TIMEOUT")
	}

	scales, err := parseScales(sharedcfg.EnvOrDefault("SCALES", "2000,5000,7500,10000"))
	if err != nil {
		return nil, err
	}

	policy, err := domain.ParseEmptyPolicy(sharedcfg.EnvOrDefault("EMPTY_RESULT_POLICY", string(domain.EmptyDrop)))
	if err != nil {
		return nil, fmt.Errorf("invalid EMPTY_RESULT_POLICY: %w", err)
	}

	dates := map[string]string{
		"HISTORICAL_START": "2010-01-01",
		"HISTORICAL_END":   "2023-12-31",
		"FORECAST_START":   "2024-01-01",
		"FORECAST_END":     "2050-12-31",
	}
	parsed := make(map[string]time.Time, len(dates))
	for key, def := range dates {
		t, err := domain.ParseDate(sharedcfg.EnvOrDefault(key, def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		parsed[key] = t
	}

	s3UseSSL := true
	if v := os.Getenv("S3_USE_SSL"); v != "" {
		s3UseSSL = v == "true"
	}

	checkpointDir := sharedcfg.EnvOrDefault("CHECKPOINT_DIR", "csv")

	cfg := &Config{
		RegionsPath:   sharedcfg.EnvOrDefault("REGIONS_PATH", "us-climate-regions_corrected.geojson"),
		RegionIDField: sharedcfg.EnvOrDefault("REGION_ID_FIELD", "CLIMDIV_ID"),
		CheckpointDir: checkpointDir,
		OutputDir:     sharedcfg.EnvOrDefault("OUTPUT_DIR", checkpointDir),
		DatasetsFile:  os.Getenv("DATASETS_FILE"),

		HistoricalStart: parsed["HISTORICAL_START"],
		HistoricalEnd:   parsed["HISTORICAL_END"],
		ForecastStart:   parsed["FORECAST_START"],
		ForecastEnd:     parsed["FORECAST_END"],

		Scales:      scales,
		EmptyPolicy: policy,

		RasterBaseURL:   sharedcfg.EnvOrDefault("RASTER_BASE_URL", "https://earthengine.googleapis.com"),
		RasterProject:   os.Getenv("RASTER_PROJECT"),
		RasterTokenFile: os.Getenv("RASTER_TOKEN_FILE"),
		RasterTimeout:   rasterTimeout,

		LedgerPath: sharedcfg.EnvOrDefault("LEDGER_PATH", "data/ledger.db"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaTopic: sharedcfg.EnvOrDefault("KAFKA_TOPIC", "reconciled-climate-data"),

		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:    s3UseSSL,
		S3Prefix:    os.Getenv("S3_PREFIX"),
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(v)
	}

	if cfg.HistoricalEnd.Before(cfg.HistoricalStart) {
		return nil, errors.New("HISTORICAL_END is before HISTORICAL_START")
	}
	if cfg.ForecastEnd.Before(cfg.ForecastStart) {
		return nil, errors.New("FORECAST_END is before FORECAST_START")
	}
	if cfg.CheckpointDir == "" {
		return nil, errors.New("CHECKPOINT_DIR is required")
	}
	if cfg.S3Endpoint != "" && cfg.S3Bucket == "" {
		return nil, errors.New("S3_ENDPOINT is set but S3_BUCKET is not")
	}

	return cfg, nil
}

// ValidateExtract checks the settings only the extract command needs.
func (c *Config) ValidateExtract() error {
	if c.RasterProject == "" {
		return errors.New("RASTER_PROJECT is required for extraction")
	}
	if c.RegionsPath == "" {
		return errors.New("REGIONS_PATH is required for extraction")
	}
	return nil
}

// KafkaEnabled reports whether reconciled rows should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// MirrorEnabled reports whether files are mirrored to object storage.
func (c *Config) MirrorEnabled() bool {
	return c.S3Endpoint != ""
}

// parseScales parses an ascending, comma-separated list of positive scales.
func parseScales(s string) ([]int, error) {
	var scales []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid SCALES entry %q", part)
		}
		scales = append(scales, n)
	}
	if len(scales) == 0 {
		return nil, errors.New("SCALES must list at least one scale")
	}
	if !slices.IsSorted(scales) {
		return nil, errors.New("SCALES must be ascending (finest first)")
	}
	return scales, nil
}
