package dataset

import (
	"encoding/json"
	"strconv"

	"github.com/montanaflynn/stats"
)

// DefaultSampleSize caps the number of raw rows included in a summary sent
// to the compute backend.
const DefaultSampleSize = 20

// ColumnStats are descriptive statistics for one numeric column.
type ColumnStats struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
}

// Summary is the compact dataset description shipped to the compute backend
// instead of the full row set: schema, row count, per-column numeric
// statistics and a bounded row sample.
type Summary struct {
	UploadID string           `json:"upload_id"`
	RowCount int              `json:"row_count"`
	Schema   Schema           `json:"schema"`
	Numeric  []ColumnStats    `json:"numeric_stats,omitempty"`
	Sample   []map[string]any `json:"sample,omitempty"`
}

// Summarize builds a Summary for the dataset, sampling at most sampleSize
// rows. Non-numeric values in numeric columns are skipped rather than failing
// the whole profile; the compute backend sees whatever was parseable.
func Summarize(d *DataSet, sampleSize int) Summary {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	s := Summary{
		UploadID: d.UploadID,
		RowCount: d.RowCount,
		Schema:   d.Schema,
	}

	for _, col := range d.Schema {
		if !col.Type.IsNumeric() {
			continue
		}
		values := numericValues(d.Rows, col.Name)
		if len(values) == 0 {
			continue
		}
		min, _ := stats.Min(values)
		max, _ := stats.Max(values)
		mean, _ := stats.Mean(values)
		s.Numeric = append(s.Numeric, ColumnStats{
			Column: col.Name,
			Count:  len(values),
			Min:    min,
			Max:    max,
			Mean:   mean,
		})
	}

	if len(d.Rows) > 0 {
		n := sampleSize
		if n > len(d.Rows) {
			n = len(d.Rows)
		}
		s.Sample = d.Rows[:n]
	}

	return s
}

// numericValues extracts the float64 values of one column across all rows,
// tolerating the representations JSON decoding produces.
func numericValues(rows []map[string]any, column string) []float64 {
	var values []float64
	for _, row := range rows {
		raw, ok := row[column]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case float64:
			values = append(values, v)
		case int:
			values = append(values, float64(v))
		case int64:
			values = append(values, float64(v))
		case json.Number:
			if f, err := v.Float64(); err == nil {
				values = append(values, f)
			}
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				values = append(values, f)
			}
		}
	}
	return values
}
