package aggregate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Validation status of an accepted result. Only validated results are ever
// written to the cache or the version store.
const StatusValidated = "validated"

// ResultRow is one row of an accepted summary table: the group key
// (e.g. {"date": "2026-08-01"}) plus the aggregate value per value column.
type ResultRow struct {
	Key    map[string]string          `json:"key,omitempty"`
	Values map[string]decimal.Decimal `json:"values"`
}

// ResultTable is the accepted aggregated table. Aggregate values use exact
// decimal arithmetic; the group key is kept as formatted strings.
type ResultTable struct {
	KeyColumns   []string    `json:"key_columns,omitempty"`
	ValueColumns []string    `json:"value_columns"`
	Rows         []ResultRow `json:"rows"`
}

// ComputationResult is an accepted result plus the metadata needed for
// observability: how many backend iterations it consumed, its validation
// status, and the producing backend call id.
type ComputationResult struct {
	Table            ResultTable `json:"table"`
	Iterations       int         `json:"iterations"`
	ValidationStatus string      `json:"validation_status"`
	BackendCallID    string      `json:"backend_call_id"`
	ComputedAt       time.Time   `json:"computed_at"`
}

// CheckShape verifies the structural integrity of a stored result: every row
// carries all key and value columns. Used by the cache on read to detect
// corrupt entries.
func (r *ComputationResult) CheckShape() error {
	if r == nil {
		return fmt.Errorf("result is nil")
	}
	if r.ValidationStatus != StatusValidated {
		return fmt.Errorf("result has status %q, want %q", r.ValidationStatus, StatusValidated)
	}
	if len(r.Table.ValueColumns) == 0 {
		return fmt.Errorf("result table has no value columns")
	}
	for i, row := range r.Table.Rows {
		for _, kc := range r.Table.KeyColumns {
			if _, ok := row.Key[kc]; !ok {
				return fmt.Errorf("row %d missing key column %q", i, kc)
			}
		}
		for _, vc := range r.Table.ValueColumns {
			if _, ok := row.Values[vc]; !ok {
				return fmt.Errorf("row %d missing value column %q", i, vc)
			}
		}
	}
	return nil
}
