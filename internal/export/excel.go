// Package export renders a stored report version as an xlsx workbook.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/tally-lab/project-tally/internal/report"
)

const sheetName = "Report"

// Workbook renders the version's result table plus a metadata block into a
// single-sheet xlsx file.
func Workbook(v *report.Version) (*bytes.Buffer, error) {
	if v == nil {
		return nil, fmt.Errorf("export: version must not be nil")
	}

	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	table := v.Result.Table
	headers := append(append([]string{}, table.KeyColumns...), table.ValueColumns...)

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, err
		}
	}

	for r, row := range table.Rows {
		rowIdx := r + 2
		col := 1
		for _, kc := range table.KeyColumns {
			cell, _ := excelize.CoordinatesToCellName(col, rowIdx)
			if err := f.SetCellValue(sheetName, cell, row.Key[kc]); err != nil {
				return nil, err
			}
			col++
		}
		for _, vc := range table.ValueColumns {
			cell, _ := excelize.CoordinatesToCellName(col, rowIdx)
			val, _ := row.Values[vc].Float64()
			if err := f.SetCellValue(sheetName, cell, val); err != nil {
				return nil, err
			}
			col++
		}
	}

	// Metadata block below the table, separated by one blank row.
	meta := [][2]any{
		{"version_id", v.VersionID},
		{"upload_id", v.UploadID},
		{"fingerprint", v.Fingerprint},
		{"created_at", v.CreatedAt.Format("2006-01-02 15:04:05 MST")},
		{"iterations", v.Result.Iterations},
		{"backend_call_id", v.Result.BackendCallID},
	}
	if v.SupersedesVersionID != "" {
		meta = append(meta, [2]any{"supersedes_version_id", v.SupersedesVersionID})
	}

	base := len(table.Rows) + 3
	for i, kv := range meta {
		keyCell, _ := excelize.CoordinatesToCellName(1, base+i)
		valCell, _ := excelize.CoordinatesToCellName(2, base+i)
		if err := f.SetCellValue(sheetName, keyCell, kv[0]); err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, valCell, kv[1]); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return &buf, nil
}

// Filename is the suggested attachment name for a version export.
func Filename(v *report.Version) string {
	return fmt.Sprintf("report-%s.xlsx", v.VersionID)
}
