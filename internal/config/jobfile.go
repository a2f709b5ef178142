package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/veranemoloko/era5-downloader/internal/domain"
	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
)

// JobFile is a batch of named download requests with optional downloader
// overrides. It is read from YAML, TOML or JSON by file extension.
type JobFile struct {
	Settings JobSettings              `json:"downloader_settings" yaml:"downloader_settings" toml:"downloader_settings"`
	Jobs     []domain.DownloadRequest `json:"download_tasks" yaml:"download_tasks" toml:"download_tasks"`
}

// JobSettings overrides Config values for one job file. Zero values are ignored.
type JobSettings struct {
	OutputDir  string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	Workers    int    `json:"max_workers" yaml:"max_workers" toml:"max_workers"`
	RetryTimes int    `json:"retry_times" yaml:"retry_times" toml:"retry_times"`
	// RetryDelay is in seconds.
	RetryDelay int `json:"retry_delay" yaml:"retry_delay" toml:"retry_delay"`
}

// LoadJobFile decodes path according to its extension (.yaml, .yml, .toml, .json).
func LoadJobFile(path string) (*JobFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errpkg.NewFatal("read job file", fmt.Errorf("%w: %s", errpkg.ErrConfigNotFound, path))
	}
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}

	var jf JobFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &jf)
	case ".toml":
		_, err = toml.Decode(string(data), &jf)
	case ".json":
		err = json.Unmarshal(data, &jf)
	default:
		return nil, fmt.Errorf("unsupported job file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}

	return &jf, nil
}

// Enabled returns the jobs not explicitly disabled, in file order.
func (jf *JobFile) Enabled() []domain.DownloadRequest {
	var out []domain.DownloadRequest
	for _, job := range jf.Jobs {
		if job.IsEnabled() {
			out = append(out, job)
		}
	}
	return out
}

// Apply returns a copy of cfg with non-zero settings applied.
func (s JobSettings) Apply(cfg Config) Config {
	if s.OutputDir != "" {
		cfg.OutputDir = s.OutputDir
	}
	if s.Workers != 0 {
		cfg.Workers = s.Workers
	}
	if s.RetryTimes != 0 {
		cfg.RetryTimes = s.RetryTimes
	}
	if s.RetryDelay != 0 {
		cfg.RetryDelay = time.Duration(s.RetryDelay) * time.Second
	}
	return cfg
}
