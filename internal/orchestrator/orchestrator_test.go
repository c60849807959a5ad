package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tally-lab/project-tally/internal/aggregate"
	"github.com/tally-lab/project-tally/internal/cache"
	"github.com/tally-lab/project-tally/internal/compute"
	"github.com/tally-lab/project-tally/internal/dataset"
	"github.com/tally-lab/project-tally/internal/fingerprint"
	"github.com/tally-lab/project-tally/internal/report"
)

func testDataset() *dataset.DataSet {
	return &dataset.DataSet{
		UploadID: "upload-1",
		Name:     "revenue.csv",
		Schema: dataset.Schema{
			{Name: "date", Type: dataset.TypeDate},
			{Name: "entity", Type: dataset.TypeString},
			{Name: "revenue", Type: dataset.TypeNumber},
		},
		RowCount:     3,
		Rows:         []map[string]any{{"date": "2026-01-01", "entity": "acme", "revenue": 10.5}},
		RegisteredAt: time.Now().UTC(),
	}
}

func sumSpec() aggregate.Spec {
	return aggregate.Spec{
		TargetColumns: []string{"revenue"},
		Function:      aggregate.FuncSum,
		Granularity:   aggregate.GranOverall,
	}
}

func goodCandidate(callID string) *compute.Candidate {
	return &compute.Candidate{
		CallID:  callID,
		Columns: []string{"revenue"},
		Rows:    []map[string]any{{"revenue": 10.5}},
	}
}

// missing the declared value column, so structural validation rejects it
func badCandidate(callID string) *compute.Candidate {
	return &compute.Candidate{
		CallID:  callID,
		Columns: []string{"wrong_column"},
		Rows:    []map[string]any{{"wrong_column": 1}},
	}
}

func newTestOrchestrator(t *testing.T, client ComputeClient) (*Orchestrator, *cache.Store, *report.MemoryStore) {
	t.Helper()
	store := cache.New(16, time.Hour)
	versions := report.NewMemoryStore()
	return New(store, versions, client, DefaultProfiles(), 3), store, versions
}

func TestRunFirstAttemptAccepted(t *testing.T) {
	stub := compute.NewStubClient(compute.StubCall{Candidate: goodCandidate("call-1")})
	orch, store, versions := newTestOrchestrator(t, stub)

	out, err := orch.Run(context.Background(), Request{Dataset: testDataset(), Spec: sumSpec()})
	require.NoError(t, err)
	require.False(t, out.FromCache)
	require.Equal(t, 1, out.BackendCalls)
	require.Equal(t, 1, out.Result.Iterations)
	require.Equal(t, "call-1", out.Result.BackendCallID)
	require.Equal(t, aggregate.StatusValidated, out.Result.ValidationStatus)
	require.NotEmpty(t, out.VersionID)

	v, err := versions.Get(context.Background(), out.VersionID)
	require.NoError(t, err)
	require.Equal(t, "upload-1", v.UploadID)
	require.Empty(t, v.SupersedesVersionID)
	require.Equal(t, string(out.Fingerprint), v.Fingerprint)

	stats := store.Stats()
	require.Equal(t, 1, stats.Entries)
}

func TestRunCacheHitSkipsBackend(t *testing.T) {
	stub := compute.NewStubClient(compute.StubCall{Candidate: goodCandidate("call-1")})
	orch, _, _ := newTestOrchestrator(t, stub)

	req := Request{Dataset: testDataset(), Spec: sumSpec()}
	first, err := orch.Run(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, stub.Calls())

	second, err := orch.Run(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Equal(t, 0, second.BackendCalls)
	require.Equal(t, first.VersionID, second.VersionID)
	require.Equal(t, 1, stub.Calls(), "cache hit must not reach the backend")
	require.True(t, first.Result.Table.Rows[0].Values["revenue"].Equal(second.Result.Table.Rows[0].Values["revenue"]))
}

func TestRunRetryWithFeedbackAccepted(t *testing.T) {
	stub := compute.NewStubClient(
		compute.StubCall{Candidate: badCandidate("call-1")},
		compute.StubCall{Candidate: goodCandidate("call-2")},
	)
	orch, _, _ := newTestOrchestrator(t, stub)

	out, err := orch.Run(context.Background(), Request{Dataset: testDataset(), Spec: sumSpec()})
	require.NoError(t, err)
	require.Equal(t, 2, out.BackendCalls)
	require.Equal(t, 2, out.Result.Iterations)
	require.Equal(t, "call-2", out.Result.BackendCallID)

	fbs := stub.Feedbacks()
	require.Len(t, fbs, 2)
	require.Nil(t, fbs[0], "first attempt carries no feedback")
	require.NotNil(t, fbs[1])
	require.Equal(t, 1, fbs[1].Attempt)
	require.Contains(t, fbs[1].Reason, RuleStructure)
	require.NotEmpty(t, fbs[1].Problems)
}

func TestRunExhaustionLeavesNoTrace(t *testing.T) {
	stub := compute.NewStubClient(
		compute.StubCall{Candidate: badCandidate("call-1")},
		compute.StubCall{Candidate: badCandidate("call-2")},
		compute.StubCall{Candidate: badCandidate("call-3")},
	)
	orch, store, versions := newTestOrchestrator(t, stub)

	_, err := orch.Run(context.Background(), Request{Dataset: testDataset(), Spec: sumSpec()})
	require.Error(t, err)

	var exhausted *MaxRetriesExceededError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)

	var verr *ValidationError
	require.ErrorAs(t, exhausted.LastErr, &verr)
	require.Equal(t, RuleStructure, verr.Rule)

	require.Equal(t, 3, stub.Calls())
	require.Equal(t, 0, store.Stats().Entries, "failed request must not populate the cache")

	list, err := versions.ListVersions(context.Background(), "upload-1")
	require.NoError(t, err)
	require.Empty(t, list, "failed request must not append a version")
}

func TestRunBackendFailureThenSuccess(t *testing.T) {
	stub := compute.NewStubClient(
		compute.StubCall{Err: compute.ErrUnavailable},
		compute.StubCall{Candidate: goodCandidate("call-2")},
	)
	orch, _, _ := newTestOrchestrator(t, stub)

	out, err := orch.Run(context.Background(), Request{Dataset: testDataset(), Spec: sumSpec()})
	require.NoError(t, err)
	require.Equal(t, 2, out.BackendCalls)
	require.Equal(t, "call-2", out.Result.BackendCallID)
}

func TestRunBackendFailureExhaustsDirectly(t *testing.T) {
	stub := compute.NewStubClient(
		compute.StubCall{Err: compute.ErrTimeout},
		compute.StubCall{Err: compute.ErrTimeout},
		compute.StubCall{Err: compute.ErrUnavailable},
	)
	orch, _, _ := newTestOrchestrator(t, stub)

	_, err := orch.Run(context.Background(), Request{Dataset: testDataset(), Spec: sumSpec()})
	require.ErrorIs(t, err, compute.ErrUnavailable)
	require.Equal(t, 3, stub.Calls())
}

func TestRunNonRetryableBackendErrorStopsLoop(t *testing.T) {
	rejected := errors.New("backend rejected request with HTTP 400")
	stub := compute.NewStubClient(compute.StubCall{Err: rejected})
	orch, _, _ := newTestOrchestrator(t, stub)

	_, err := orch.Run(context.Background(), Request{Dataset: testDataset(), Spec: sumSpec()})
	require.ErrorIs(t, err, rejected)
	require.Equal(t, 1, stub.Calls(), "a hard rejection must not be retried")
}

func TestRunSchemaMismatch(t *testing.T) {
	stub := compute.NewStubClient()
	orch, _, _ := newTestOrchestrator(t, stub)

	spec := sumSpec()
	spec.TargetColumns = []string{"no_such_column"}

	_, err := orch.Run(context.Background(), Request{Dataset: testDataset(), Spec: spec})
	var mismatch *fingerprint.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "no_such_column", mismatch.Column)
	require.Equal(t, 0, stub.Calls())
}

func TestRunConcurrentIdenticalRequestsShareOneFlight(t *testing.T) {
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	client := submitFunc(func(ctx context.Context, ds *dataset.DataSet, spec aggregate.Spec, fb *compute.Feedback) (*compute.Candidate, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return goodCandidate("call-1"), nil
	})
	orch, _, _ := newTestOrchestrator(t, client)

	const n = 8
	outs := make([]*Outcome, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i], errs[i] = orch.Run(context.Background(), Request{Dataset: testDataset(), Spec: sumSpec()})
		}(i)
	}

	// let every goroutine reach the flight before releasing the backend
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	require.Equal(t, 1, calls, "identical in-flight requests must collapse to one backend call")
	mu.Unlock()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Same(t, outs[0].Result, outs[i].Result, "waiters share the owner's result")
		require.Equal(t, outs[0].VersionID, outs[i].VersionID)
	}
}

func TestRunInvalidateForcesRecomputeWithSupersedes(t *testing.T) {
	stub := compute.NewStubClient(
		compute.StubCall{Candidate: goodCandidate("call-1")},
		compute.StubCall{Candidate: goodCandidate("call-2")},
	)
	orch, store, versions := newTestOrchestrator(t, stub)

	req := Request{Dataset: testDataset(), Spec: sumSpec()}
	first, err := orch.Run(context.Background(), req)
	require.NoError(t, err)

	require.True(t, store.Invalidate(first.Fingerprint))

	second, err := orch.Run(context.Background(), req)
	require.NoError(t, err)
	require.False(t, second.FromCache)
	require.NotEqual(t, first.VersionID, second.VersionID)

	v, err := versions.Get(context.Background(), second.VersionID)
	require.NoError(t, err)
	require.Equal(t, first.VersionID, v.SupersedesVersionID)
	require.Equal(t, 2, stub.Calls())
}

// submitFunc adapts a function to the ComputeClient interface.
type submitFunc func(ctx context.Context, ds *dataset.DataSet, spec aggregate.Spec, feedback *compute.Feedback) (*compute.Candidate, error)

func (f submitFunc) Submit(ctx context.Context, ds *dataset.DataSet, spec aggregate.Spec, feedback *compute.Feedback) (*compute.Candidate, error) {
	return f(ctx, ds, spec, feedback)
}
