package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
)

const (
	moneyFormat   = "#,##0.00"
	percentFormat = `0.00"%"`
)

// WriteXLSX renders one worksheet per section. Money cells are numeric with a two-decimal
// number format so the sheet stays usable for further calculation.
func WriteXLSX(ds analytics.Dataset) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	money, err := f.NewStyle(&excelize.Style{CustomNumFmt: strPtr(moneyFormat)})
	if err != nil {
		return nil, err
	}
	pct, err := f.NewStyle(&excelize.Style{CustomNumFmt: strPtr(percentFormat)})
	if err != nil {
		return nil, err
	}

	for i, section := range Sections(ds) {
		sheet := section.Title
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
		headerRow := make([]any, len(section.Header))
		for j, h := range section.Header {
			headerRow[j] = h
		}
		if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
			return nil, err
		}
		last, _ := excelize.CoordinatesToCellName(len(section.Header), 1)
		if err := f.SetCellStyle(sheet, "A1", last, header); err != nil {
			return nil, err
		}
		for r, row := range section.Rows {
			for c, value := range row {
				cell, err := excelize.CoordinatesToCellName(c+1, r+2)
				if err != nil {
					return nil, err
				}
				if err := setCell(f, sheet, cell, value, money, pct); err != nil {
					return nil, fmt.Errorf("export: xlsx %s %s: %w", sheet, cell, err)
				}
			}
		}
		if err := f.SetColWidth(sheet, "A", "A", 22); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, sheet, cell string, value any, money, pct int) error {
	switch v := value.(type) {
	case ledger.Money:
		if err := f.SetCellFloat(sheet, cell, v.InexactFloat64(), 2, 64); err != nil {
			return err
		}
		return f.SetCellStyle(sheet, cell, cell, money)
	case percent:
		if err := f.SetCellFloat(sheet, cell, float64(v), 2, 64); err != nil {
			return err
		}
		return f.SetCellStyle(sheet, cell, cell, pct)
	default:
		return f.SetCellValue(sheet, cell, value)
	}
}

func strPtr(v string) *string {
	return &v
}
