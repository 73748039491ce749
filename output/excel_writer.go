package output

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"metricboard/internal/timeutil"
	"metricboard/storage"
)

type ExcelWriter struct{}

func (w *ExcelWriter) Write(path string, records []storage.RecordDetail) error {
	rows := make([][]any, 0, len(records))
	for _, record := range records {
		rows = append(rows, []any{
			timeutil.FormatDate(record.Date),
			record.SubjectExternalID,
			record.SubjectName,
			record.Type.Code,
			record.Type.Name,
			record.Type.Unit,
			record.Value,
			DisplayValue(record.Type, record.Value),
			record.BatchID,
		})
	}
	return writeExcel(path, recordHeaders, rows)
}

// writeExcel writes one sheet with a bold header row. Numbers stay numeric.
func writeExcel(path string, headers []string, rows [][]any) error {
	file := excelize.NewFile()
	defer file.Close()

	sheet := file.GetSheetName(0)
	headerStyle, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := file.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("set excel header %s: %w", cell, err)
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := file.SetCellStyle(sheet, "A1", lastHeader, headerStyle); err != nil {
		return fmt.Errorf("style excel header: %w", err)
	}

	for i, values := range rows {
		row := i + 2
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := file.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("set excel value %s: %w", cell, err)
			}
		}
	}

	if err := file.SaveAs(path); err != nil {
		return fmt.Errorf("save excel output %s: %w", path, err)
	}

	return nil
}
