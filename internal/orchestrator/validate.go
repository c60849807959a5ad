package orchestrator

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/tally-lab/project-tally/internal/aggregate"
	"github.com/tally-lab/project-tally/internal/compute"
)

// validateCandidate runs the validation predicate on an untrusted backend
// candidate and, on success, converts it into a typed result table.
//
// Structural check: the candidate declares the profile's key columns and
// every value column the spec implies, and each row carries them. Numeric
// check: aggregate values parse as finite numbers (no NaN/Inf), counts are
// non-negative, and the row count is consistent with the granularity.
func validateCandidate(cand *compute.Candidate, spec aggregate.Spec, profile Profile) (*aggregate.ResultTable, *ValidationError) {
	valueColumns := spec.ValueColumns()

	declared := make(map[string]bool, len(cand.Columns))
	for _, c := range cand.Columns {
		declared[c] = true
	}

	var problems []string
	for _, kc := range profile.KeyColumns {
		if !declared[kc] {
			problems = append(problems, fmt.Sprintf("missing group-by key column %q required for %s granularity", kc, spec.Granularity))
		}
	}
	for _, vc := range valueColumns {
		if !declared[vc] {
			problems = append(problems, fmt.Sprintf("missing value column %q", vc))
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Rule: RuleStructure, Problems: problems}
	}

	if len(cand.Rows) == 0 {
		return nil, &ValidationError{Rule: RuleStructure, Problems: []string{"candidate has no rows"}}
	}
	if spec.Granularity == aggregate.GranOverall && len(cand.Rows) != 1 {
		return nil, &ValidationError{Rule: RuleNumeric, Problems: []string{
			fmt.Sprintf("overall granularity must produce exactly 1 row, got %d", len(cand.Rows)),
		}}
	}
	if profile.MaxRows > 0 && len(cand.Rows) > profile.MaxRows {
		return nil, &ValidationError{Rule: RuleNumeric, Problems: []string{
			fmt.Sprintf("row count %d exceeds the %d-row bound for %s granularity", len(cand.Rows), profile.MaxRows, spec.Granularity),
		}}
	}

	table := &aggregate.ResultTable{
		KeyColumns:   profile.KeyColumns,
		ValueColumns: valueColumns,
		Rows:         make([]aggregate.ResultRow, 0, len(cand.Rows)),
	}

	seenKeys := make(map[string]bool, len(cand.Rows))
	for i, raw := range cand.Rows {
		row := aggregate.ResultRow{
			Values: make(map[string]decimal.Decimal, len(valueColumns)),
		}
		if len(profile.KeyColumns) > 0 {
			row.Key = make(map[string]string, len(profile.KeyColumns))
		}

		var keyID string
		for _, kc := range profile.KeyColumns {
			v, ok := raw[kc]
			if !ok || v == nil {
				problems = append(problems, fmt.Sprintf("row %d missing key column %q", i, kc))
				continue
			}
			keyStr := fmt.Sprintf("%v", v)
			row.Key[kc] = keyStr
			keyID += kc + "=" + keyStr + ";"
		}

		if keyID != "" {
			if seenKeys[keyID] {
				problems = append(problems, fmt.Sprintf("row %d duplicates group key %s", i, keyID))
			}
			seenKeys[keyID] = true
		}

		for _, vc := range valueColumns {
			v, ok := raw[vc]
			if !ok || v == nil {
				problems = append(problems, fmt.Sprintf("row %d missing value column %q", i, vc))
				continue
			}
			dec, err := toDecimal(v)
			if err != nil {
				problems = append(problems, fmt.Sprintf("row %d column %q: %v", i, vc, err))
				continue
			}
			if spec.Function == aggregate.FuncCount && dec.IsNegative() {
				problems = append(problems, fmt.Sprintf("row %d column %q: count must not be negative, got %s", i, vc, dec))
				continue
			}
			row.Values[vc] = dec
		}

		table.Rows = append(table.Rows, row)
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Rule: RuleNumeric, Problems: problems}
	}

	return table, nil
}

// toDecimal converts an untrusted cell value into an exact decimal,
// rejecting non-finite floats.
func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case json.Number:
		dec, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("not a number: %q", n.String())
		}
		return dec, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, fmt.Errorf("non-finite value %v", n)
		}
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return decimal.Zero, fmt.Errorf("not a number: %q", n)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, fmt.Errorf("non-finite value %q", n)
		}
		dec, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, fmt.Errorf("not a number: %q", n)
		}
		return dec, nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported value type %T", v)
	}
}

// feedbackFor turns a rejection into the structured feedback sent with the
// next attempt.
func feedbackFor(attempt int, verr *ValidationError) *compute.Feedback {
	return &compute.Feedback{
		Attempt:  attempt,
		Reason:   fmt.Sprintf("previous candidate failed %s validation", verr.Rule),
		Problems: verr.Problems,
	}
}
