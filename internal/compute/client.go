// Package compute is the narrow adapter to the external computation backend.
// It submits one request and returns one candidate or one failure; retries
// are owned by the orchestrator.
package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tally-lab/project-tally/internal/aggregate"
	"github.com/tally-lab/project-tally/internal/dataset"
)

// Failure classes. Both are retryable inside the orchestrator's bounded loop
// and surface to the caller only after exhaustion.
var (
	ErrTimeout     = errors.New("compute backend timed out")
	ErrUnavailable = errors.New("compute backend unavailable")
)

// DefaultTimeout bounds a single backend round trip when none is configured.
const DefaultTimeout = 60 * time.Second

// Config holds the backend connection settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	SampleSize int
}

// Client is the HTTP adapter to the compute backend.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	sampleSize int
	httpClient *http.Client
}

// NewClient creates a compute backend client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("compute: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		sampleSize: cfg.SampleSize,
		httpClient: &http.Client{},
	}, nil
}

// Submit sends one computation request and returns the backend's candidate.
// Bounded by the configured timeout and cancellable through ctx; an
// abandoned caller does not leave a pending backend call behind.
func (c *Client) Submit(ctx context.Context, ds *dataset.DataSet, spec aggregate.Spec, feedback *Feedback) (*Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := Request{
		Dataset:  dataset.Summarize(ds, c.sampleSize),
		Spec:     spec,
		Feedback: feedback,
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("compute: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/aggregate", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("compute: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: backend returned HTTP %d: %s", ErrUnavailable, resp.StatusCode, truncate(body, 256))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("compute: backend rejected request with HTTP %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var cand Candidate
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&cand); err != nil {
		return nil, fmt.Errorf("compute: decode candidate: %w", err)
	}

	if cand.CallID == "" {
		cand.CallID = uuid.NewString()
	}
	return &cand, nil
}

// classifyTransportError maps Go HTTP transport failures onto the service
// failure classes. Deadline and cancellation collapse into ErrTimeout so
// singleflight waiters see a timeout-class outcome when the flight owner
// abandons the call.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
