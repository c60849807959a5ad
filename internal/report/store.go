// Package report persists every accepted computation as an immutable,
// addressable version. Append-only: versions are never mutated or deleted by
// normal operation, and cache eviction never touches them.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/tally-lab/project-tally/internal/aggregate"
)

// ErrVersionNotFound is returned when a version id is unknown.
var ErrVersionNotFound = errors.New("report version not found")

// Version is one accepted computed result. Corrections never overwrite: a
// recomputation for the same fingerprint produces a new version whose
// SupersedesVersionID references the one it replaces.
type Version struct {
	VersionID           string                      `json:"version_id"`
	UploadID            string                      `json:"upload_id"`
	RequestID           string                      `json:"request_id"`
	Fingerprint         string                      `json:"fingerprint"`
	Result              aggregate.ComputationResult `json:"result"`
	CreatedAt           time.Time                   `json:"created_at"`
	SupersedesVersionID string                      `json:"supersedes_version_id,omitempty"`

	// VersionSeq is a monotonic sequence assigned on append. It fixes the
	// creation order under concurrent writers (acceptance order, not
	// submission order). Set by the store, not exposed in the public API.
	VersionSeq int64 `json:"-"`
}

// Store is the append-only version store. Implementations must be safe for
// concurrent appends across upload/request ids.
type Store interface {
	// Append persists v and assigns its VersionSeq.
	Append(ctx context.Context, v *Version) error

	// ListVersions returns all versions for an upload in creation order.
	ListVersions(ctx context.Context, uploadID string) ([]*Version, error)

	// Get returns the version with the given id, or ErrVersionNotFound.
	Get(ctx context.Context, versionID string) (*Version, error)

	// LatestByFingerprint returns the most recent version for a fingerprint,
	// or ErrVersionNotFound. Used to chain supersedes references.
	LatestByFingerprint(ctx context.Context, fp string) (*Version, error)

	// LatestByUpload returns the most recent version for an upload, or
	// ErrVersionNotFound. Used as the fallback offer on exhausted requests.
	LatestByUpload(ctx context.Context, uploadID string) (*Version, error)
}
