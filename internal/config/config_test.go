package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/era5-downloader/internal/domain"
)

func validConfig(t *testing.T) Config {
	return Config{
		HTTPPort:     8080,
		OutputDir:    t.TempDir(),
		Workers:      4,
		RetryTimes:   3,
		RetryDelay:   10 * time.Second,
		SplitBy:      domain.SplitMonth,
		Dataset:      "reanalysis-era5-land",
		PollInterval: time.Second,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.HTTPPort = 0 }, wantErr: "invalid HTTP port"},
		{name: "no workers", mutate: func(c *Config) { c.Workers = 0 }, wantErr: "workers must be positive"},
		{name: "no retries", mutate: func(c *Config) { c.RetryTimes = 0 }, wantErr: "retry times"},
		{name: "negative delay", mutate: func(c *Config) { c.RetryDelay = -time.Second }, wantErr: "retry delay"},
		{name: "bad split", mutate: func(c *Config) { c.SplitBy = "day" }, wantErr: "split must be"},
		{name: "empty output", mutate: func(c *Config) { c.OutputDir = "" }, wantErr: "output directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	out := filepath.Join(t.TempDir(), "data")
	t.Setenv("ERA5_OUTPUT_DIR", out)
	t.Setenv("ERA5_WORKERS", "2")
	t.Setenv("ERA5_RETRY_DELAY", "3s")
	t.Setenv("ERA5_VARIABLE_MAPPING", "my_temp:t2m,my_wind:u10")
	t.Setenv("ERA5_SPLIT_BY", "year")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, out, cfg.OutputDir)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 3, cfg.RetryTimes)
	assert.Equal(t, 3*time.Second, cfg.RetryDelay)
	assert.Equal(t, map[string]string{"my_temp": "t2m", "my_wind": "u10"}, cfg.VariableMapping)
	assert.Equal(t, domain.SplitYear, cfg.SplitBy)

	for _, dir := range []string{cfg.OutputDir, cfg.TempDir(), cfg.LogDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, filepath.Join(out, "logs", "download_status.json"), cfg.StatusFile())
}

func TestRead_DoesNotCreateDirs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "later")
	t.Setenv("ERA5_OUTPUT_DIR", out)
	t.Setenv("ERA5_WORKERS", "0")

	cfg, err := Read(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, out, cfg.OutputDir)
	assert.NoDirExists(t, out)
	assert.Error(t, cfg.Validate())
	assert.Equal(t, filepath.Join(out, "logs", "runs.json"), cfg.RunsFile())
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	out := filepath.Join(dir, "from-dotenv")
	require.NoError(t, os.WriteFile(envFile, []byte("ERA5_OUTPUT_DIR="+out+"\nERA5_RETRY_TIMES=5\n"), 0o644))

	// godotenv does not override variables that are already set.
	os.Unsetenv("ERA5_OUTPUT_DIR")
	os.Unsetenv("ERA5_RETRY_TIMES")
	t.Cleanup(func() {
		os.Unsetenv("ERA5_OUTPUT_DIR")
		os.Unsetenv("ERA5_RETRY_TIMES")
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, out, cfg.OutputDir)
	assert.Equal(t, 5, cfg.RetryTimes)
}

func TestSetupLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&Config{LogLevel: "warn", LogFormat: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "task_id", "201401")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"task_id":"201401"`)
}
