package errors

const (
	HttpInternalError           = "internal_error"
	HttpInvalidJsonError        = "invalid_json"
	HttpSchemaMismatchError     = "schema_mismatch"
	HttpDatasetNotFoundError    = "dataset_not_found"
	HttpDuplicateDatasetError   = "duplicate_dataset"
	HttpVersionNotFoundError    = "version_not_found"
	HttpComputeExhaustedError   = "compute_exhausted"
	HttpComputeUnavailableError = "compute_unavailable"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
