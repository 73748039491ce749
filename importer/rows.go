package importer

import (
	"iter"
	"strings"
	"time"

	"metricboard/metric"
)

// Row is one data row after decoding. Date and Value are nil when the cell was
// missing or could not be parsed.
type Row struct {
	Number    int
	SubjectID string
	Date      *time.Time
	Value     *float64
}

// Complete reports whether the row carries everything needed for an upsert.
func (r Row) Complete() bool {
	return r.SubjectID != "" && r.Date != nil && r.Value != nil
}

// ExtractRows yields the data rows following the header, numbered the way a
// spreadsheet shows them (first data row is 2). Blank rows are skipped.
// Errors come only from the sheet itself; a bad cell degrades to nil.
func ExtractRows(sheet Sheet, header HeaderMap, t metric.Type) iter.Seq2[Row, error] {
	isTime := metric.IsTimeMetric(t)
	return func(yield func(Row, error) bool) {
		number := 1
		for sheet.Next() {
			number++
			cells, err := sheet.Cells()
			if err != nil {
				yield(Row{Number: number}, err)
				return
			}
			if allEmpty(cells) {
				continue
			}
			if !yield(decodeRow(number, cells, header, isTime), nil) {
				return
			}
		}
		if err := sheet.Err(); err != nil {
			yield(Row{Number: number}, err)
		}
	}
}

func decodeRow(number int, cells []Cell, header HeaderMap, isTime bool) Row {
	row := Row{
		Number:    number,
		SubjectID: strings.TrimSpace(cellAt(cells, header.SubjectID).String()),
	}
	if date, ok := parseDate(cellAt(cells, header.Date)); ok {
		row.Date = &date
	}
	if value, ok := normalizeCell(isTime, cellAt(cells, header.Value)); ok {
		row.Value = &value
	}
	return row
}

// readHeader consumes the first row of the sheet and resolves it. An empty
// sheet fails the same way as a header without the required columns.
func readHeader(sheet Sheet) (HeaderMap, error) {
	if !sheet.Next() {
		if err := sheet.Err(); err != nil {
			return HeaderMap{}, err
		}
		return ResolveHeader(nil)
	}
	cells, err := sheet.Cells()
	if err != nil {
		return HeaderMap{}, err
	}
	return ResolveHeader(cells)
}
