package aggregate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSpec_Normalize(t *testing.T) {
	tests := []struct {
		name      string
		input     Spec
		want      Spec
		wantError bool
	}{
		{
			name:  "canonical passes through",
			input: Spec{TargetColumns: []string{"amount"}, Function: "sum", Granularity: "daily"},
			want:  Spec{TargetColumns: []string{"amount"}, Function: FuncSum, Granularity: GranDaily},
		},
		{
			name:  "aliases folded",
			input: Spec{TargetColumns: []string{"amount"}, Function: "AVG", Granularity: "Month"},
			want:  Spec{TargetColumns: []string{"amount"}, Function: FuncMean, Granularity: GranMonthly},
		},
		{
			name:  "targets deduped and sorted",
			input: Spec{TargetColumns: []string{"b", "a", " b "}, Function: "max", Granularity: "weekly"},
			want:  Spec{TargetColumns: []string{"a", "b"}, Function: FuncMax, Granularity: GranWeekly},
		},
		{
			name:  "count without targets allowed",
			input: Spec{Function: "count", Granularity: "overall"},
			want:  Spec{TargetColumns: []string{}, Function: FuncCount, Granularity: GranOverall},
		},
		{
			name:  "prompt preserved",
			input: Spec{TargetColumns: []string{"x"}, Function: "sum", Granularity: "per_entity", Prompt: "round to cents"},
			want:  Spec{TargetColumns: []string{"x"}, Function: FuncSum, Granularity: GranPerEntity, Prompt: "round to cents"},
		},
		{
			name:      "unknown function rejected",
			input:     Spec{TargetColumns: []string{"x"}, Function: "median", Granularity: "daily"},
			wantError: true,
		},
		{
			name:      "unknown granularity rejected",
			input:     Spec{TargetColumns: []string{"x"}, Function: "sum", Granularity: "hourly"},
			wantError: true,
		},
		{
			name:      "sum without targets rejected",
			input:     Spec{Function: "sum", Granularity: "daily"},
			wantError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.input.Normalize()
			if tc.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSpec_ValueColumns(t *testing.T) {
	count, err := Spec{Function: "count", Granularity: "daily"}.Normalize()
	require.NoError(t, err)
	require.Equal(t, []string{"count"}, count.ValueColumns())

	sum, err := Spec{TargetColumns: []string{"amount"}, Function: "sum", Granularity: "daily"}.Normalize()
	require.NoError(t, err)
	require.Equal(t, []string{"amount"}, sum.ValueColumns())
}

func TestComputationResult_CheckShape(t *testing.T) {
	valid := &ComputationResult{
		ValidationStatus: StatusValidated,
		Table: ResultTable{
			KeyColumns:   []string{"date"},
			ValueColumns: []string{"amount"},
			Rows: []ResultRow{{
				Key:    map[string]string{"date": "2026-08-01"},
				Values: map[string]decimal.Decimal{"amount": decimal.NewFromInt(10)},
			}},
		},
	}
	require.NoError(t, valid.CheckShape())

	var nilResult *ComputationResult
	require.Error(t, nilResult.CheckShape())

	missingValue := &ComputationResult{
		ValidationStatus: StatusValidated,
		Table: ResultTable{
			ValueColumns: []string{"amount"},
			Rows:         []ResultRow{{Values: map[string]decimal.Decimal{}}},
		},
	}
	require.Error(t, missingValue.CheckShape())

	wrongStatus := &ComputationResult{ValidationStatus: "pending", Table: valid.Table}
	require.Error(t, wrongStatus.CheckShape())
}
