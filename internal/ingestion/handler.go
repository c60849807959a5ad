package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	httperr "github.com/tally-lab/project-tally/internal/core/errors"
	"github.com/tally-lab/project-tally/internal/dataset"
)

const (
	msgReadBodyFailed   = "Failed to read request body"
	msgInvalidJSON      = "Invalid JSON body"
	msgPersistFailed    = "Failed to persist dataset"
	msgDuplicateDataset = "Dataset already exists"
	msgDatasetNotFound  = "Dataset not found"
)

// ingestionError carries the structured HTTP error shape from a helper back
// to the handler. Helpers return this instead of writing to gin.Context
// directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// RegisterHandler handles HTTP POST requests for dataset registration.
func (s *Service) RegisterHandler(c *gin.Context) {
	ds, payloadSize, err := s.parseDataset(c)
	if err != nil {
		writeError(c, err)
		return
	}

	slog.Info("Received dataset",
		"upload_id", ds.UploadID,
		"name", ds.Name,
		"columns", len(ds.Schema),
		"rows", ds.RowCount,
		"payload_size", payloadSize)

	if err := s.persistDataset(c.Request.Context(), ds); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"upload_id":     ds.UploadID,
		"row_count":     ds.RowCount,
		"registered_at": ds.RegisteredAt,
	})
}

// GetDatasetHandler returns one registered dataset's summary by upload id.
// The summary carries the schema and numeric column profiles, not the rows.
func (s *Service) GetDatasetHandler(c *gin.Context) {
	uploadID := c.Param("upload_id")

	ds, err := s.datasets.Get(c.Request.Context(), uploadID)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			writeError(c, &ingestionError{
				statusCode: http.StatusNotFound,
				errorType:  httperr.HttpDatasetNotFoundError,
				message:    msgDatasetNotFound,
			})
			return
		}
		slog.Error("Failed to load dataset", "error", err, "upload_id", uploadID)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    "Failed to load dataset",
		})
		return
	}

	c.JSON(http.StatusOK, dataset.Summarize(ds, dataset.DefaultSampleSize))
}

// ListDatasetsHandler returns the registered datasets, oldest first.
func (s *Service) ListDatasetsHandler(c *gin.Context) {
	all, err := s.datasets.List(c.Request.Context())
	if err != nil {
		slog.Error("Failed to list datasets", "error", err)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    "Failed to list datasets",
		})
		return
	}

	out := make([]gin.H, 0, len(all))
	for _, ds := range all {
		out = append(out, gin.H{
			"upload_id":     ds.UploadID,
			"name":          ds.Name,
			"row_count":     ds.RowCount,
			"registered_at": ds.RegisteredAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"datasets": out})
}

// parseDataset reads the raw request body and binds it into a DataSet.
// Returns the parsed dataset and the raw payload size (used for structured
// logging upstream).
func (s *Service) parseDataset(c *gin.Context) (*dataset.DataSet, int, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var ds dataset.DataSet
	if err := c.ShouldBindJSON(&ds); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	if ds.UploadID == "" {
		ds.UploadID = uuid.NewString()
	}
	if ds.RowCount == 0 {
		ds.RowCount = len(ds.Rows)
	}
	ds.RegisteredAt = time.Now().UTC()

	if err := ds.Validate(); err != nil {
		slog.Warn("Dataset validation failed", "error", err, "upload_id", ds.UploadID)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    err.Error(),
		}
	}

	return &ds, len(bodyBytes), nil
}

// persistDataset saves the dataset to the backing repository.
func (s *Service) persistDataset(ctx context.Context, ds *dataset.DataSet) *ingestionError {
	if err := s.datasets.Create(ctx, ds); err != nil {
		if errors.Is(err, dataset.ErrAlreadyExists) {
			slog.Info("Duplicate dataset rejected", "upload_id", ds.UploadID)
			return &ingestionError{
				statusCode: http.StatusConflict,
				errorType:  httperr.HttpDuplicateDatasetError,
				message:    msgDuplicateDataset,
			}
		}

		slog.Error("Failed to persist dataset", "error", err, "upload_id", ds.UploadID)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgPersistFailed,
		}
	}

	return nil
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
