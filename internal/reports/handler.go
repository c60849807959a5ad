package reports

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tally-lab/project-tally/internal/aggregate"
	"github.com/tally-lab/project-tally/internal/compute"
	httperr "github.com/tally-lab/project-tally/internal/core/errors"
	"github.com/tally-lab/project-tally/internal/dataset"
	"github.com/tally-lab/project-tally/internal/export"
	"github.com/tally-lab/project-tally/internal/fingerprint"
	"github.com/tally-lab/project-tally/internal/orchestrator"
	"github.com/tally-lab/project-tally/internal/report"
)

const (
	msgInvalidJSON     = "Invalid JSON body"
	msgDatasetNotFound = "Dataset not found"
	msgVersionNotFound = "Version not found"
)

// ReportRequest is the body of POST /v1/reports.
type ReportRequest struct {
	RequestID string         `json:"request_id"`
	UploadID  string         `json:"upload_id"`
	Spec      aggregate.Spec `json:"spec"`
}

// InvalidateRequest is the body of POST /v1/cache/invalidate. Either the
// fingerprint itself or an upload id plus spec to derive it from.
type InvalidateRequest struct {
	Fingerprint string          `json:"fingerprint"`
	UploadID    string          `json:"upload_id"`
	Spec        *aggregate.Spec `json:"spec"`
}

// CreateReportHandler runs one report request to a terminal state: a cached
// or freshly computed validated result, or a structured failure.
func (h *Service) CreateReportHandler(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("Invalid report request body", "error", err)
		writeError(c, http.StatusBadRequest, httperr.HttpInvalidJsonError, msgInvalidJSON, nil)
		return
	}
	if req.UploadID == "" {
		writeError(c, http.StatusBadRequest, httperr.HttpInvalidJsonError, "upload_id is required", nil)
		return
	}

	ds, err := h.datasets.Get(c.Request.Context(), req.UploadID)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			writeError(c, http.StatusNotFound, httperr.HttpDatasetNotFoundError, msgDatasetNotFound, nil)
			return
		}
		slog.Error("Failed to load dataset", "error", err, "upload_id", req.UploadID)
		writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Failed to load dataset", nil)
		return
	}

	// Reject malformed specs before any backend work. The orchestrator
	// normalizes again for fingerprinting; this pins the 400 to the handler.
	spec, err := req.Spec.Normalize()
	if err != nil {
		writeError(c, http.StatusBadRequest, httperr.HttpInvalidJsonError, err.Error(), nil)
		return
	}

	out, err := h.orch.Run(c.Request.Context(), orchestrator.Request{
		RequestID: req.RequestID,
		Dataset:   ds,
		Spec:      spec,
	})
	if err != nil {
		h.writeRunError(c, req, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"version_id":    out.VersionID,
		"fingerprint":   out.Fingerprint,
		"from_cache":    out.FromCache,
		"backend_calls": out.BackendCalls,
		"result":        out.Result,
	})
}

// writeRunError maps orchestrator failures onto the HTTP error taxonomy.
func (h *Service) writeRunError(c *gin.Context, req ReportRequest, err error) {
	var mismatch *fingerprint.SchemaMismatchError
	if errors.As(err, &mismatch) {
		writeError(c, http.StatusBadRequest, httperr.HttpSchemaMismatchError, err.Error(), map[string]any{
			"column": mismatch.Column,
		})
		return
	}

	var exhausted *orchestrator.MaxRetriesExceededError
	if errors.As(err, &exhausted) {
		details := map[string]any{"attempts": exhausted.Attempts}
		var verr *orchestrator.ValidationError
		if errors.As(exhausted.LastErr, &verr) {
			for k, v := range verr.Details() {
				details[k] = v
			}
		}
		// Offer the latest stored version for the upload so clients can fall
		// back to stale-but-validated data.
		if prior, perr := h.versions.LatestByUpload(c.Request.Context(), req.UploadID); perr == nil {
			details["fallback_version_id"] = prior.VersionID
		}

		slog.Warn("Report request exhausted its iteration budget",
			"request_id", req.RequestID,
			"upload_id", req.UploadID,
			"attempts", exhausted.Attempts)
		writeError(c, http.StatusUnprocessableEntity, httperr.HttpComputeExhaustedError, err.Error(), details)
		return
	}

	if errors.Is(err, compute.ErrTimeout) || errors.Is(err, compute.ErrUnavailable) {
		slog.Warn("Compute backend unavailable", "request_id", req.RequestID, "error", err)
		writeError(c, http.StatusServiceUnavailable, httperr.HttpComputeUnavailableError, err.Error(), nil)
		return
	}

	slog.Error("Report request failed", "error", err, "request_id", req.RequestID, "upload_id", req.UploadID)
	writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Report request failed", nil)
}

// ListVersionsHandler returns all stored versions for an upload, oldest first.
func (h *Service) ListVersionsHandler(c *gin.Context) {
	uploadID := c.Param("upload_id")

	versions, err := h.versions.ListVersions(c.Request.Context(), uploadID)
	if err != nil {
		slog.Error("Failed to list versions", "error", err, "upload_id", uploadID)
		writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Failed to list versions", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"upload_id": uploadID, "versions": versions})
}

// GetVersionHandler returns one stored version by id.
func (h *Service) GetVersionHandler(c *gin.Context) {
	versionID := c.Param("version_id")

	v, err := h.versions.Get(c.Request.Context(), versionID)
	if err != nil {
		if errors.Is(err, report.ErrVersionNotFound) {
			writeError(c, http.StatusNotFound, httperr.HttpVersionNotFoundError, msgVersionNotFound, nil)
			return
		}
		slog.Error("Failed to load version", "error", err, "version_id", versionID)
		writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Failed to load version", nil)
		return
	}

	c.JSON(http.StatusOK, v)
}

// ExportVersionHandler streams one stored version as an xlsx attachment.
func (h *Service) ExportVersionHandler(c *gin.Context) {
	versionID := c.Param("version_id")

	v, err := h.versions.Get(c.Request.Context(), versionID)
	if err != nil {
		if errors.Is(err, report.ErrVersionNotFound) {
			writeError(c, http.StatusNotFound, httperr.HttpVersionNotFoundError, msgVersionNotFound, nil)
			return
		}
		slog.Error("Failed to load version", "error", err, "version_id", versionID)
		writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Failed to load version", nil)
		return
	}

	buf, err := export.Workbook(v)
	if err != nil {
		slog.Error("Failed to render workbook", "error", err, "version_id", versionID)
		writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Failed to render export", nil)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(v)+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// CacheStatsHandler returns the cache counters.
func (h *Service) CacheStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

// InvalidateCacheHandler removes one cache entry, addressed either by its
// fingerprint or by an upload id plus spec. Stored versions are untouched;
// the next identical request recomputes and supersedes.
func (h *Service) InvalidateCacheHandler(c *gin.Context) {
	var req InvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, httperr.HttpInvalidJsonError, msgInvalidJSON, nil)
		return
	}

	fp := fingerprint.Fingerprint(req.Fingerprint)
	if fp == "" {
		if req.UploadID == "" || req.Spec == nil {
			writeError(c, http.StatusBadRequest, httperr.HttpInvalidJsonError,
				"either fingerprint or upload_id plus spec is required", nil)
			return
		}
		ds, err := h.datasets.Get(c.Request.Context(), req.UploadID)
		if err != nil {
			if errors.Is(err, dataset.ErrNotFound) {
				writeError(c, http.StatusNotFound, httperr.HttpDatasetNotFoundError, msgDatasetNotFound, nil)
				return
			}
			slog.Error("Failed to load dataset", "error", err, "upload_id", req.UploadID)
			writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Failed to load dataset", nil)
			return
		}
		fp, err = fingerprint.Compute(ds.Schema, *req.Spec)
		if err != nil {
			writeError(c, http.StatusBadRequest, httperr.HttpSchemaMismatchError, err.Error(), nil)
			return
		}
	}

	invalidated := h.cache.Invalidate(fp)
	slog.Info("Cache invalidation requested", "fingerprint", fp, "invalidated", invalidated)
	c.JSON(http.StatusOK, gin.H{"fingerprint": fp, "invalidated": invalidated})
}

// writeError serializes the structured error shape as the JSON HTTP response.
func writeError(c *gin.Context, status int, errorType, message string, details map[string]any) {
	body := httperr.ErrorResponse{
		ErrorType: errorType,
		Message:   message,
	}
	if len(details) > 0 {
		body.Details = details
	}
	c.JSON(status, body)
}
