package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

// SheetName is the worksheet holding the records.
const SheetName = "CVEs"

// column widths, in Columns order
var xlsxWidths = []float64{15, 10, 10, 12, 12, 50, 30, 15, 40}

// XLSX writes a workbook with one sheet, a bold header row and one row per
// record. At most five references are kept per record.
func XLSX(w io.Writer, records []domain.NormalizedRecord) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err = f.SetCellValue(SheetName, cell, h); err != nil {
			return fmt.Errorf("set header %s: %w", h, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(Columns), 1)
	if err != nil {
		return fmt.Errorf("header range: %w", err)
	}
	if err = f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, width := range xlsxWidths {
		col, colErr := excelize.ColumnNumberToName(i + 1)
		if colErr != nil {
			return fmt.Errorf("column name: %w", colErr)
		}
		if err = f.SetColWidth(SheetName, col, col, width); err != nil {
			return fmt.Errorf("set width %s: %w", col, err)
		}
	}

	for r, rec := range records {
		values := row(rec, xlsxRefLimit)
		for c, v := range values {
			cell, cellErr := excelize.CoordinatesToCellName(c+1, r+2)
			if cellErr != nil {
				return fmt.Errorf("data cell: %w", cellErr)
			}
			var value any = v
			if c == scoreColumn {
				value = rec.CVSSScore
			}
			if err = f.SetCellValue(SheetName, cell, value); err != nil {
				return fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
	}

	if err = f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// scoreColumn is the index of cvss_score in Columns; it is stored as a number.
const scoreColumn = 2
