package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/veranemoloko/era5-downloader/internal/app"
	"github.com/veranemoloko/era5-downloader/internal/config"
)

// loadConfig reads the environment, applies overrides and then the global
// flags, and validates the result.
func loadConfig(overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Read(globalFlags.envFiles...)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	if globalFlags.outputDir != "" {
		cfg.OutputDir = globalFlags.outputDir
	}
	if globalFlags.workers > 0 {
		cfg.Workers = globalFlags.workers
	}
	if globalFlags.logLevel != "" {
		cfg.LogLevel = globalFlags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func openApp(ctx context.Context, overrides ...func(*config.Config)) (*app.App, error) {
	cfg, err := loadConfig(overrides...)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, config.SetupLogger(cfg))
}

// signalContext is cancelled by the first SIGINT or SIGTERM; in-flight tasks
// then finish and nothing new starts. A second signal exits immediately.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigs:
			fmt.Fprintln(os.Stderr, "Interrupted: finishing in-flight downloads (press Ctrl+C again to abort)")
			cancel()
		case <-done:
			return
		}
		select {
		case <-sigs:
			os.Exit(130)
		case <-done:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
			cancel()
		})
	}
}

func humanSize(b int64) string {
	return humanize.IBytes(uint64(max(b, 0)))
}
