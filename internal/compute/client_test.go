package compute

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tally-lab/project-tally/internal/aggregate"
	"github.com/tally-lab/project-tally/internal/dataset"
)

func testDataset() *dataset.DataSet {
	return &dataset.DataSet{
		UploadID: "upload-1",
		Schema: dataset.Schema{
			{Name: "workdate", Type: dataset.TypeDate},
			{Name: "amount", Type: dataset.TypeNumber},
		},
		RowCount: 1,
		Rows:     []map[string]any{{"workdate": "2026-08-01", "amount": 12.5}},
	}
}

func testSpec(t *testing.T) aggregate.Spec {
	t.Helper()
	spec, err := aggregate.Spec{TargetColumns: []string{"amount"}, Function: "sum", Granularity: "daily"}.Normalize()
	require.NoError(t, err)
	return spec
}

func TestClient_Submit(t *testing.T) {
	var received Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/aggregate", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		json.NewEncoder(w).Encode(map[string]any{
			"call_id": "call-7",
			"columns": []string{"date", "amount"},
			"rows": []map[string]any{
				{"date": "2026-08-01", "amount": 12.5},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second})
	require.NoError(t, err)

	fb := &Feedback{Attempt: 1, Reason: "validation failed", Problems: []string{"missing column"}}
	cand, err := client.Submit(context.Background(), testDataset(), testSpec(t), fb)
	require.NoError(t, err)

	require.Equal(t, "call-7", cand.CallID)
	require.Equal(t, []string{"date", "amount"}, cand.Columns)
	require.Len(t, cand.Rows, 1)

	// Numbers survive as json.Number for lossless decimal conversion.
	require.Equal(t, json.Number("12.5"), cand.Rows[0]["amount"])

	// The wire request carries the summary, spec and feedback.
	require.Equal(t, "upload-1", received.Dataset.UploadID)
	require.Equal(t, aggregate.FuncSum, received.Spec.Function)
	require.NotNil(t, received.Feedback)
	require.Equal(t, []string{"missing column"}, received.Feedback.Problems)
}

func TestClient_Submit_AssignsCallID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"columns": []string{"count"},
			"rows":    []map[string]any{{"count": 3}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	cand, err := client.Submit(context.Background(), testDataset(), testSpec(t), nil)
	require.NoError(t, err)
	require.NotEmpty(t, cand.CallID)
}

func TestClient_Submit_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), testDataset(), testSpec(t), nil)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_Submit_TimeoutClassified(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	client, err := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), testDataset(), testSpec(t), nil)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestClient_Submit_CallerCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	client, err := NewClient(Config{BaseURL: srv.URL, Timeout: 10 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = client.Submit(ctx, testDataset(), testSpec(t), nil)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestClient_Submit_ClientErrorNotRetryableClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad spec", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), testDataset(), testSpec(t), nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnavailable)
	require.NotErrorIs(t, err, ErrTimeout)
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}
