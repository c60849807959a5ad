package orchestrator

import (
	"fmt"
	"strings"
)

// Validation failure classes, used for structured feedback to the backend.
const (
	RuleStructure = "structure"
	RuleNumeric   = "numeric"
)

// ValidationError describes why a candidate result was rejected. Local to
// the compute loop: it drives feedback and only surfaces to the caller
// wrapped inside MaxRetriesExceededError after exhaustion.
type ValidationError struct {
	Rule     string   `json:"rule"` // structure | numeric
	Problems []string `json:"problems"`
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return fmt.Sprintf("candidate failed %s validation", e.Rule)
	}
	return fmt.Sprintf("candidate failed %s validation: %s", e.Rule, strings.Join(e.Problems, "; "))
}

// Details returns the structured fields for API error responses.
func (e *ValidationError) Details() map[string]any {
	return map[string]any{
		"rule":     e.Rule,
		"problems": e.Problems,
	}
}

// MaxRetriesExceededError terminates a request whose candidates failed
// validation on every allowed iteration.
type MaxRetriesExceededError struct {
	Attempts int
	LastErr  error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("no validated result after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *MaxRetriesExceededError) Unwrap() error {
	return e.LastErr
}
