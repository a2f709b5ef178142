package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	h "github.com/veranemoloko/era5-downloader/internal/api/http"
	"github.com/veranemoloko/era5-downloader/internal/app"
	cfgpkg "github.com/veranemoloko/era5-downloader/internal/config"
	repo "github.com/veranemoloko/era5-downloader/internal/repository"
	svc "github.com/veranemoloko/era5-downloader/internal/service"
)

func main() {

	cfg, err := cfgpkg.Load()
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			slog.Error("configuration file not found", "error", err)
		} else {
			slog.Error("failed to load configuration", "error", err)
		}
		os.Exit(1)
	}

	logger := cfgpkg.SetupLogger(cfg)
	logger.Info("configuration loaded successfully", "output_dir", cfg.OutputDir, "workers", cfg.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize downloader", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	runStorage, err := repo.NewRunStorage(cfg.RunsFile())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Error("run file does not exist", "error", err)
		} else {
			logger.Error("failed to initialize run repository", "error", err)
		}
		os.Exit(1)
	}

	runService := svc.NewRunService(runStorage, application.Orchestrator, logger)

	if err := runService.Recover(ctx); err != nil {
		logger.Error("failed to recover pending runs", "error", err)
	}

	router := h.NewRouter(runService, application.Orchestrator, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  cfg.HTTPTimeout,
	}

	go func() {
		logger.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	if err := runService.Shutdown(shutdownCtx); err != nil {
		logger.Error("run service shutdown failed", "error", err)
	}
}
