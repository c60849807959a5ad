package aggregate

import (
	"fmt"
	"sort"
	"strings"
)

// Supported aggregation functions.
// avg-style composite state is folded into mean at the backend; the service
// only needs the normalized vocabulary for identity and validation.
const (
	FuncSum   = "sum"
	FuncCount = "count"
	FuncMean  = "mean"
	FuncMin   = "min"
	FuncMax   = "max"
)

// Supported granularities. These describe the time-bucketing (or entity
// grouping) of the requested summary.
const (
	GranDaily     = "daily"
	GranWeekly    = "weekly"
	GranMonthly   = "monthly"
	GranOverall   = "overall"
	GranPerEntity = "per-entity"
)

// functionAliases maps accepted spellings onto the canonical vocabulary.
var functionAliases = map[string]string{
	"sum":     FuncSum,
	"total":   FuncSum,
	"count":   FuncCount,
	"mean":    FuncMean,
	"avg":     FuncMean,
	"average": FuncMean,
	"min":     FuncMin,
	"minimum": FuncMin,
	"max":     FuncMax,
	"maximum": FuncMax,
}

var granularityAliases = map[string]string{
	"daily":      GranDaily,
	"day":        GranDaily,
	"weekly":     GranWeekly,
	"week":       GranWeekly,
	"monthly":    GranMonthly,
	"month":      GranMonthly,
	"overall":    GranOverall,
	"total":      GranOverall,
	"all":        GranOverall,
	"per-entity": GranPerEntity,
	"per_entity": GranPerEntity,
	"entity":     GranPerEntity,
}

// Spec describes one requested aggregation. Immutable value: handlers bind
// it once, Normalize returns a canonical copy, nothing mutates it afterwards.
type Spec struct {
	// TargetColumns are the dataset columns the aggregate is computed over.
	// May be empty for count (row count).
	TargetColumns []string `json:"target_columns"`

	// Function is the aggregation function (sum, count, mean, min, max).
	Function string `json:"function"`

	// Granularity is the bucketing of the result (daily, weekly, monthly,
	// overall, per-entity).
	Granularity string `json:"granularity"`

	// Prompt is an optional free-text refinement forwarded to the compute
	// backend. It is deliberately excluded from request identity so phrasing
	// variations do not fragment the cache.
	Prompt string `json:"prompt,omitempty"`
}

// Normalize returns a canonical copy of the spec: function and granularity
// folded onto the fixed vocabulary, target columns trimmed and sorted.
// Returns an error for unknown vocabulary or a missing target list on
// functions that require one.
func (s Spec) Normalize() (Spec, error) {
	fn, ok := functionAliases[strings.ToLower(strings.TrimSpace(s.Function))]
	if !ok {
		return Spec{}, fmt.Errorf("unsupported aggregation function %q", s.Function)
	}

	gran, ok := granularityAliases[strings.ToLower(strings.TrimSpace(s.Granularity))]
	if !ok {
		return Spec{}, fmt.Errorf("unsupported granularity %q", s.Granularity)
	}

	targets := make([]string, 0, len(s.TargetColumns))
	seen := make(map[string]bool, len(s.TargetColumns))
	for _, col := range s.TargetColumns {
		col = strings.TrimSpace(col)
		if col == "" || seen[col] {
			continue
		}
		seen[col] = true
		targets = append(targets, col)
	}
	sort.Strings(targets)

	if fn != FuncCount && len(targets) == 0 {
		return Spec{}, fmt.Errorf("function %q requires at least one target column", fn)
	}

	return Spec{
		TargetColumns: targets,
		Function:      fn,
		Granularity:   gran,
		Prompt:        s.Prompt,
	}, nil
}

// ValueColumns returns the result columns the backend must produce for this
// spec. A bare count with no targets yields a single "count" column.
func (s Spec) ValueColumns() []string {
	if s.Function == FuncCount && len(s.TargetColumns) == 0 {
		return []string{"count"}
	}
	return s.TargetColumns
}
