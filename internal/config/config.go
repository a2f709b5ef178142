package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/veranemoloko/era5-downloader/internal/domain"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"ERA5_ENV" default:"development"`

	HTTPPort    int           `envconfig:"ERA5_HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"ERA5_HTTP_TIMEOUT" default:"15s"`

	OutputDir       string            `envconfig:"ERA5_OUTPUT_DIR" default:"./ERA5_Land_data"`
	Workers         int               `envconfig:"ERA5_WORKERS" default:"4"`
	RetryTimes      int               `envconfig:"ERA5_RETRY_TIMES" default:"3"`
	RetryDelay      time.Duration     `envconfig:"ERA5_RETRY_DELAY" default:"10s"`
	VariableMapping map[string]string `envconfig:"ERA5_VARIABLE_MAPPING"`
	SplitBy         domain.SplitMode  `envconfig:"ERA5_SPLIT_BY" default:"month"`
	MergeFiles      bool              `envconfig:"ERA5_MERGE_FILES" default:"false"`
	MergedName      string            `envconfig:"ERA5_MERGED_NAME"`

	Dataset         string        `envconfig:"ERA5_DATASET" default:"reanalysis-era5-land"`
	ArchiveURL      string        `envconfig:"ERA5_ARCHIVE_URL"`
	ArchiveKey      string        `envconfig:"ERA5_ARCHIVE_KEY"`
	CredentialsFile string        `envconfig:"ERA5_CREDENTIALS_FILE"`
	PollInterval    time.Duration `envconfig:"ERA5_POLL_INTERVAL" default:"5s"`
	FetchTimeout    time.Duration `envconfig:"ERA5_FETCH_TIMEOUT" default:"6h"`

	PublishBucket string `envconfig:"ERA5_PUBLISH_BUCKET"`
	PublishPrefix string `envconfig:"ERA5_PUBLISH_PREFIX"`

	ShutdownTimeout time.Duration `envconfig:"ERA5_SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"ERA5_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"ERA5_LOG_FORMAT" default:"text"`
}

// TempDir is the scratch directory for in-flight downloads and extractions.
func (c *Config) TempDir() string {
	return filepath.Join(c.OutputDir, "temp")
}

// LogDir holds the verification transcript and the status document.
func (c *Config) LogDir() string {
	return filepath.Join(c.OutputDir, "logs")
}

// StatusFile is the persisted task status document.
func (c *Config) StatusFile() string {
	return filepath.Join(c.LogDir(), "download_status.json")
}

// RunsFile stores runs submitted to the HTTP daemon.
func (c *Config) RunsFile() string {
	return filepath.Join(c.LogDir(), "runs.json")
}

// TranscriptFile is the append-only verification log.
func (c *Config) TranscriptFile() string {
	return filepath.Join(c.LogDir(), "verification_log.txt")
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive: %d", c.Workers)
	}

	if c.RetryTimes <= 0 {
		return fmt.Errorf("retry times must be positive: %d", c.RetryTimes)
	}

	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative: %s", c.RetryDelay)
	}

	if c.SplitBy != domain.SplitMonth && c.SplitBy != domain.SplitYear {
		return fmt.Errorf("split must be %q or %q: %q", domain.SplitMonth, domain.SplitYear, c.SplitBy)
	}

	if c.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if c.Dataset == "" {
		return fmt.Errorf("dataset cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %s", c.PollInterval)
	}

	return nil
}
