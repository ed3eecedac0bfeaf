package excel

import (
	"strconv"

	"github.com/xuri/excelize/v2"

	"beaconrig/internal/report"
)

// WriteWorkbook saves each table as its own sheet, in order. Numeric cells
// are stored as numbers so the workbook can be charted directly.
func WriteWorkbook(path string, tables ...report.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, t := range tables {
		sheet := t.Name
		if sheet == "" {
			sheet = "Sheet" + strconv.Itoa(i+1)
		}
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return err
		}

		for c, h := range t.Headers {
			cell, _ := excelize.CoordinatesToCellName(c+1, 1)
			if err := f.SetCellValue(sheet, cell, h); err != nil {
				return err
			}
		}
		for r, row := range t.Rows {
			for c, v := range row {
				if v == "" {
					continue
				}
				cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
				if err := f.SetCellValue(sheet, cell, cellValue(v)); err != nil {
					return err
				}
			}
		}
		if len(t.Headers) > 0 {
			last, _ := excelize.CoordinatesToCellName(len(t.Headers), 1)
			if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
				return err
			}
			if err := f.AutoFilter(sheet, "A1:"+last, nil); err != nil {
				return err
			}
		}
	}
	f.SetActiveSheet(0)
	return f.SaveAs(path)
}

func cellValue(v string) interface{} {
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}
