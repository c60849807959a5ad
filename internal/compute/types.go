package compute

import (
	"github.com/tally-lab/project-tally/internal/aggregate"
	"github.com/tally-lab/project-tally/internal/dataset"
)

// Feedback carries structured information about why a previous candidate was
// rejected. The orchestrator builds it; the backend is expected to correct
// the listed problems on the next attempt.
type Feedback struct {
	Attempt  int      `json:"attempt"`
	Reason   string   `json:"reason"`
	Problems []string `json:"problems,omitempty"`
}

// Request is the wire request to the compute backend: a compact dataset
// summary (never the raw file), the normalized aggregation spec, and optional
// rejection feedback from a prior attempt.
type Request struct {
	Dataset  dataset.Summary `json:"dataset"`
	Spec     aggregate.Spec  `json:"spec"`
	Feedback *Feedback       `json:"feedback,omitempty"`
}

// Candidate is an unvalidated result table produced by the backend. Treated
// as untrusted output: the orchestrator validates shape and numerics before
// anything is cached or versioned.
type Candidate struct {
	// CallID identifies the producing backend call for audit trails.
	CallID string `json:"call_id"`

	// Columns is the declared column order of the candidate table.
	Columns []string `json:"columns"`

	// Rows holds the raw row objects keyed by column name. Numbers are
	// decoded as json.Number to avoid premature precision loss.
	Rows []map[string]any `json:"rows"`
}
