package compute

import (
	"context"
	"sync"

	"github.com/tally-lab/project-tally/internal/aggregate"
	"github.com/tally-lab/project-tally/internal/dataset"
)

// StubCall is one scripted response of a StubClient.
type StubCall struct {
	Candidate *Candidate
	Err       error
}

// StubClient is a scriptable backend for tests: each Submit consumes the
// next scripted call. It records the feedback it received so tests can
// assert that rejection details reach the backend.
type StubClient struct {
	mu        sync.Mutex
	script    []StubCall
	calls     int
	feedbacks []*Feedback
}

// NewStubClient creates a stub that replays the given calls in order.
func NewStubClient(script ...StubCall) *StubClient {
	return &StubClient{script: script}
}

func (s *StubClient) Submit(ctx context.Context, ds *dataset.DataSet, spec aggregate.Spec, feedback *Feedback) (*Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.feedbacks = append(s.feedbacks, feedback)
	if s.calls >= len(s.script) {
		s.calls++
		return nil, ErrUnavailable
	}
	call := s.script[s.calls]
	s.calls++
	return call.Candidate, call.Err
}

// Calls returns how many times Submit was invoked.
func (s *StubClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Feedbacks returns the feedback pointer passed to each Submit, in order.
func (s *StubClient) Feedbacks() []*Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Feedback, len(s.feedbacks))
	copy(out, s.feedbacks)
	return out
}
