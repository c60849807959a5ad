package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/tally-lab/project-tally/internal/aggregate"
	"github.com/tally-lab/project-tally/internal/report"
)

func testVersion() *report.Version {
	return &report.Version{
		VersionID:   "ver-1",
		UploadID:    "upload-1",
		RequestID:   "req-1",
		Fingerprint: "abc123",
		Result: aggregate.ComputationResult{
			Table: aggregate.ResultTable{
				KeyColumns:   []string{"date"},
				ValueColumns: []string{"revenue"},
				Rows: []aggregate.ResultRow{
					{Key: map[string]string{"date": "2026-01-01"}, Values: map[string]decimal.Decimal{"revenue": decimal.NewFromFloat(10.5)}},
					{Key: map[string]string{"date": "2026-01-02"}, Values: map[string]decimal.Decimal{"revenue": decimal.NewFromInt(7)}},
				},
			},
			Iterations:       1,
			ValidationStatus: aggregate.StatusValidated,
			BackendCallID:    "call-1",
			ComputedAt:       time.Now().UTC(),
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestWorkbook(t *testing.T) {
	buf, err := Workbook(testVersion())
	require.NoError(t, err)
	require.NotZero(t, buf.Len())

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Report")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 3)
	require.Equal(t, []string{"date", "revenue"}, rows[0])
	require.Equal(t, "2026-01-01", rows[1][0])
	require.Equal(t, "10.5", rows[1][1])

	// metadata block follows a blank row
	found := false
	for _, row := range rows {
		if len(row) >= 2 && row[0] == "version_id" {
			require.Equal(t, "ver-1", row[1])
			found = true
		}
	}
	require.True(t, found, "metadata block missing")
}

func TestWorkbookNilVersion(t *testing.T) {
	_, err := Workbook(nil)
	require.Error(t, err)
}

func TestFilename(t *testing.T) {
	require.Equal(t, "report-ver-1.xlsx", Filename(testVersion()))
}
