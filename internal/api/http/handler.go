package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veranemoloko/era5-downloader/internal/domain"
	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
	"github.com/veranemoloko/era5-downloader/internal/service"
	"github.com/veranemoloko/era5-downloader/internal/validation"
)

// RunServiceI defines the interface for submitted run business logic.
type RunServiceI interface {
	Submit(ctx context.Context, req domain.DownloadRequest) (*domain.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	Retry(ctx context.Context) (*domain.Run, error)
}

// StatusServiceI exposes the task status store and re-verification.
type StatusServiceI interface {
	Status() domain.StatusSummary
	VerifyCompleted() (service.VerifyResult, error)
	ExportFileList(w io.Writer) (int, error)
}

// RunHandler handles HTTP requests for runs and task status.
type RunHandler struct {
	runs   RunServiceI
	status StatusServiceI
	logger *slog.Logger
}

// NewRunHandler creates a new RunHandler with the provided services and logger.
func NewRunHandler(runs RunServiceI, status StatusServiceI, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		runs:   runs,
		status: status,
		logger: logger,
	}
}

// CreateRun handles POST /runs: validates the request and starts a run.
func (h *RunHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validation.ValidateRequest(&req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.runs.Submit(ctx, req)
	if err != nil {
		h.writeServiceError(w, "failed to create run", err)
		return
	}

	h.logger.Info("run accepted", "run_id", run.ID, "tasks", len(run.TaskIDs))

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id":   run.ID,
		"task_ids": run.TaskIDs,
	})
}

// GetRun handles GET /runs/{runID}.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run ID")
		return
	}

	run, err := h.runs.GetRun(ctx, runID)
	if errors.Is(err, errpkg.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get run", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// Retry handles POST /retry: resubmits failed tasks as a new run.
func (h *RunHandler) Retry(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Retry(r.Context())
	if err != nil {
		h.writeServiceError(w, "failed to start retry", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"run_id": run.ID})
}

// Status handles GET /status. Per-task records are included with ?details=true.
func (h *RunHandler) Status(w http.ResponseWriter, r *http.Request) {
	sum := h.status.Status()
	if r.URL.Query().Get("details") != "true" {
		sum.Records = nil
	}
	writeJSON(w, http.StatusOK, sum)
}

// ExportFiles handles GET /status/export: the completed file list as text.
func (h *RunHandler) ExportFiles(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := h.status.ExportFileList(&buf); err != nil {
		h.logger.Error("file list export failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", service.FileListName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Verify handles POST /verify: re-checks completed outputs and demotes invalid ones.
func (h *RunHandler) Verify(w http.ResponseWriter, r *http.Request) {
	res, err := h.status.VerifyCompleted()
	if err != nil {
		h.logger.Error("verification pass failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *RunHandler) writeServiceError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, errpkg.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
