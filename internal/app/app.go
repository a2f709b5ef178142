// Package app wires configuration into the downloader components shared by
// the HTTP daemon and the command line tool.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/veranemoloko/era5-downloader/internal/archive"
	"github.com/veranemoloko/era5-downloader/internal/config"
	"github.com/veranemoloko/era5-downloader/internal/dataset"
	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
	"github.com/veranemoloko/era5-downloader/internal/publish"
	"github.com/veranemoloko/era5-downloader/internal/repository"
	"github.com/veranemoloko/era5-downloader/internal/service"
	"github.com/veranemoloko/era5-downloader/internal/storage"
	"github.com/veranemoloko/era5-downloader/internal/verify"
	"github.com/veranemoloko/era5-downloader/internal/worker"
)

// App holds the wired components for one output directory.
type App struct {
	Config       *config.Config
	Files        *storage.FileStorage
	Store        *repository.StatusStore
	Verifier     *verify.Verifier
	Orchestrator *service.Orchestrator
	Credentials  archive.Credentials
	// CredentialsErr is set when no usable archive credentials were found.
	// Management operations still work; every fetch fails fatally.
	CredentialsErr error

	transcript *verify.Transcript
	publisher  *publish.Publisher
	logger     *slog.Logger
}

// New builds the component graph for cfg. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := config.CreateDirs(cfg); err != nil {
		return nil, err
	}

	store, err := repository.NewStatusStore(cfg.StatusFile(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open status store: %w", err)
	}

	transcript, err := verify.OpenTranscript(cfg.TranscriptFile())
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:     cfg,
		Files:      storage.NewFileStorage(cfg.OutputDir),
		Store:      store,
		transcript: transcript,
		logger:     logger,
	}

	codec := dataset.NetCDF{}
	a.Verifier = verify.New(codec, verify.NewVariableMap(cfg.VariableMapping), transcript, logger)

	var client archive.Client
	a.Credentials, a.CredentialsErr = archive.ResolveCredentials(cfg.CredentialsFile, cfg.ArchiveURL, cfg.ArchiveKey)
	if a.CredentialsErr != nil {
		logger.Warn("archive credentials unavailable", "error", a.CredentialsErr)
		client = unavailableClient{err: a.CredentialsErr}
	} else {
		client = archive.NewCDSClient(a.Credentials, archive.Options{
			PollInterval: cfg.PollInterval,
			FetchTimeout: cfg.FetchTimeout,
		}, logger)
	}

	w := worker.NewFetchWorker(client, a.Verifier, store, a.Files, worker.Options{
		Dataset:    cfg.Dataset,
		RetryTimes: cfg.RetryTimes,
		RetryDelay: cfg.RetryDelay,
	}, logger)

	a.Orchestrator = service.NewOrchestrator(w, store, a.Verifier, a.Files, codec, transcript, service.Options{
		Concurrency: cfg.Workers,
		Split:       cfg.SplitBy,
		Merge:       cfg.MergeFiles,
		MergedName:  cfg.MergedName,
	}, logger)

	if cfg.PublishBucket != "" {
		a.publisher, err = publish.Open(ctx, cfg.PublishBucket, cfg.PublishPrefix, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Orchestrator.SetPublisher(a.publisher)
		logger.Info("publishing enabled", "bucket", cfg.PublishBucket)
	}

	return a, nil
}

// Close releases the transcript and the publish bucket.
func (a *App) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	errs = append(errs, a.transcript.Close())
	return errors.Join(errs...)
}

type unavailableClient struct {
	err error
}

func (c unavailableClient) Fetch(context.Context, archive.Query, string) error {
	return errpkg.NewFatal("credentials", c.err)
}
