// Package orchestrator drives each report request through a bounded
// validate-and-retry loop: fingerprint, cache check, and on miss a
// singleflight-guarded compute loop whose accepted result is written to the
// cache and the version store exactly once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tally-lab/project-tally/internal/aggregate"
	"github.com/tally-lab/project-tally/internal/cache"
	"github.com/tally-lab/project-tally/internal/compute"
	"github.com/tally-lab/project-tally/internal/dataset"
	"github.com/tally-lab/project-tally/internal/fingerprint"
	"github.com/tally-lab/project-tally/internal/report"
)

// DefaultMaxIterations bounds the compute loop when no value is configured.
const DefaultMaxIterations = 3

// ComputeClient is the narrow contract to the external computation backend.
type ComputeClient interface {
	Submit(ctx context.Context, ds *dataset.DataSet, spec aggregate.Spec, feedback *compute.Feedback) (*compute.Candidate, error)
}

// Request is one report request entering the orchestrator.
type Request struct {
	RequestID string
	Dataset   *dataset.DataSet
	Spec      aggregate.Spec
}

// Outcome is the terminal state of a successful request.
type Outcome struct {
	Fingerprint  fingerprint.Fingerprint
	Result       *aggregate.ComputationResult
	VersionID    string
	FromCache    bool
	BackendCalls int
}

// Orchestrator coordinates the cache, the compute backend and the version
// store for report requests.
type Orchestrator struct {
	cache         *cache.Store
	versions      report.Store
	client        ComputeClient
	profiles      *ProfileSet
	maxIterations int
	nowFn         func() time.Time
}

// New creates an orchestrator. maxIterations <= 0 falls back to the default.
func New(cacheStore *cache.Store, versions report.Store, client ComputeClient, profiles *ProfileSet, maxIterations int) *Orchestrator {
	if cacheStore == nil {
		panic("orchestrator: cache must not be nil")
	}
	if versions == nil {
		panic("orchestrator: version store must not be nil")
	}
	if client == nil {
		panic("orchestrator: compute client must not be nil")
	}
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Orchestrator{
		cache:         cacheStore,
		versions:      versions,
		client:        client,
		profiles:      profiles,
		maxIterations: maxIterations,
		nowFn:         func() time.Time { return time.Now().UTC() },
	}
}

// flightOutcome is the value shared among singleflight waiters.
type flightOutcome struct {
	result    *aggregate.ComputationResult
	versionID string
}

// Run executes one request to a terminal state.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	spec, err := req.Spec.Normalize()
	if err != nil {
		return nil, err
	}

	fp, err := fingerprint.Compute(req.Dataset.Schema, spec)
	if err != nil {
		return nil, err
	}

	if entry, ok := o.cache.Lookup(fp); ok {
		slog.Info("Report served from cache",
			"request_id", req.RequestID,
			"upload_id", req.Dataset.UploadID,
			"fingerprint", fp,
			"hit_count", entry.HitCount)

		outcome := &Outcome{
			Fingerprint: fp,
			Result:      entry.Result,
			FromCache:   true,
		}
		// Best effort: a cached result always originated from a version.
		if v, err := o.versions.LatestByFingerprint(ctx, string(fp)); err == nil {
			outcome.VersionID = v.VersionID
		}
		return outcome, nil
	}

	val, _, err := o.cache.WithSingleflight(ctx, fp, func() (any, error) {
		// Double-check after acquiring the flight: a concurrent request may
		// have populated the cache between our lookup and the flight start.
		if entry, ok := o.cache.Lookup(fp); ok {
			return &flightOutcome{result: entry.Result}, nil
		}
		return o.computeLoop(ctx, req, spec, fp)
	})
	if err != nil {
		return nil, err
	}

	fo := val.(*flightOutcome)
	outcome := &Outcome{
		Fingerprint:  fp,
		Result:       fo.result,
		VersionID:    fo.versionID,
		BackendCalls: fo.result.Iterations,
	}
	if fo.versionID == "" {
		// Populated by a sibling flight or the double-checked cache read.
		outcome.FromCache = true
		outcome.BackendCalls = 0
		if v, err := o.versions.LatestByFingerprint(ctx, string(fp)); err == nil {
			outcome.VersionID = v.VersionID
		}
	}
	return outcome, nil
}

// computeLoop is the bounded validate-and-retry state machine. At most
// maxIterations backend calls; zero cache or version writes on failure.
func (o *Orchestrator) computeLoop(ctx context.Context, req Request, spec aggregate.Spec, fp fingerprint.Fingerprint) (*flightOutcome, error) {
	profile := o.profiles.For(spec.Granularity)

	var lastValidation *ValidationError
	var feedback *compute.Feedback

	for attempt := 1; attempt <= o.maxIterations; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", compute.ErrTimeout, err)
		}

		cand, err := o.client.Submit(ctx, req.Dataset, spec, feedback)
		if err != nil {
			if attempt == o.maxIterations || !retryable(err) {
				return nil, err
			}
			slog.Warn("Backend call failed, retrying",
				"request_id", req.RequestID,
				"fingerprint", fp,
				"attempt", attempt,
				"error", err)
			continue
		}

		table, verr := validateCandidate(cand, spec, profile)
		if verr != nil {
			lastValidation = verr
			feedback = feedbackFor(attempt, verr)
			slog.Warn("Candidate rejected by validation",
				"request_id", req.RequestID,
				"fingerprint", fp,
				"attempt", attempt,
				"backend_call_id", cand.CallID,
				"rule", verr.Rule,
				"problems", len(verr.Problems))
			continue
		}

		result := &aggregate.ComputationResult{
			Table:            *table,
			Iterations:       attempt,
			ValidationStatus: aggregate.StatusValidated,
			BackendCallID:    cand.CallID,
			ComputedAt:       o.nowFn(),
		}

		versionID, err := o.accept(ctx, req, fp, result)
		if err != nil {
			return nil, err
		}

		slog.Info("Report accepted",
			"request_id", req.RequestID,
			"upload_id", req.Dataset.UploadID,
			"fingerprint", fp,
			"version_id", versionID,
			"iterations", attempt)

		return &flightOutcome{result: result, versionID: versionID}, nil
	}

	if lastValidation == nil {
		// Exhausted exclusively on hard backend failures; the final attempt's
		// error was returned above, so this is unreachable in practice.
		return nil, &MaxRetriesExceededError{Attempts: o.maxIterations, LastErr: compute.ErrUnavailable}
	}
	return nil, &MaxRetriesExceededError{Attempts: o.maxIterations, LastErr: lastValidation}
}

// accept performs the exactly-once success writes: one version append, one
// cache put. The version chains to the latest prior version for the same
// fingerprint, if one exists (recompute after invalidation).
func (o *Orchestrator) accept(ctx context.Context, req Request, fp fingerprint.Fingerprint, result *aggregate.ComputationResult) (string, error) {
	var supersedes string
	prior, err := o.versions.LatestByFingerprint(ctx, string(fp))
	switch {
	case err == nil:
		supersedes = prior.VersionID
	case errors.Is(err, report.ErrVersionNotFound):
		// first version for this fingerprint
	default:
		return "", fmt.Errorf("lookup prior version: %w", err)
	}

	version := &report.Version{
		VersionID:           uuid.NewString(),
		UploadID:            req.Dataset.UploadID,
		RequestID:           req.RequestID,
		Fingerprint:         string(fp),
		Result:              *result,
		CreatedAt:           o.nowFn(),
		SupersedesVersionID: supersedes,
	}
	if err := o.versions.Append(ctx, version); err != nil {
		return "", fmt.Errorf("append report version: %w", err)
	}

	o.cache.Put(fp, result)
	return version.VersionID, nil
}

// retryable reports whether a backend failure may be retried within the
// remaining iteration budget. Caller cancellation is terminal.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, compute.ErrTimeout) || errors.Is(err, compute.ErrUnavailable)
}
