package importer

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Built-in number formats that render a serial as a date (with or without a
// time part) or as a bare time of day / duration.
var (
	dateNumFmts  = map[int]bool{14: true, 15: true, 16: true, 17: true, 22: true, 27: true, 30: true, 36: true, 50: true, 57: true}
	clockNumFmts = map[int]bool{18: true, 19: true, 20: true, 21: true, 45: true, 46: true, 47: true}
)

type excelSheet struct {
	file     *excelize.File
	name     string
	rows     *excelize.Rows
	row      int
	date1904 bool
	kinds    map[int]CellKind
}

// OpenExcel opens the first worksheet of an xlsx/xlsm workbook for streaming.
func OpenExcel(r io.Reader) (Sheet, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open excel workbook: %v", ErrUnreadableSheet, err)
	}

	sheetName := file.GetSheetName(0)
	if sheetName == "" {
		_ = file.Close()
		return nil, fmt.Errorf("%w: excel workbook has no sheets", ErrUnreadableSheet)
	}

	rows, err := file.Rows(sheetName)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: read rows from sheet %s: %v", ErrUnreadableSheet, sheetName, err)
	}

	date1904 := false
	if props, err := file.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}

	return &excelSheet{
		file:     file,
		name:     sheetName,
		rows:     rows,
		date1904: date1904,
		kinds:    make(map[int]CellKind),
	}, nil
}

func (s *excelSheet) Next() bool {
	if !s.rows.Next() {
		return false
	}
	s.row++
	return true
}

func (s *excelSheet) Cells() ([]Cell, error) {
	values, err := s.rows.Columns(excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s row %d: %w", s.name, s.row, err)
	}

	cells := make([]Cell, len(values))
	for i, raw := range values {
		cell, err := s.cell(i+1, raw)
		if err != nil {
			return nil, err
		}
		cells[i] = cell
	}
	return cells, nil
}

func (s *excelSheet) Err() error {
	return s.rows.Error()
}

func (s *excelSheet) Close() error {
	rowsErr := s.rows.Close()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close excel workbook: %w", err)
	}
	if rowsErr != nil {
		return fmt.Errorf("close sheet rows: %w", rowsErr)
	}
	return nil
}

// cell types a raw value. Only numeric values need the cell type and number
// format, which excelize can only answer from the loaded worksheet.
func (s *excelSheet) cell(col int, raw string) (Cell, error) {
	if raw == "" {
		return Cell{}, nil
	}
	number, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return TextCell(raw), nil
	}

	ref, err := excelize.CoordinatesToCellName(col, s.row)
	if err != nil {
		return Cell{}, fmt.Errorf("cell reference for column %d row %d: %w", col, s.row, err)
	}
	cellType, err := s.file.GetCellType(s.name, ref)
	if err != nil {
		return Cell{}, fmt.Errorf("cell type %s: %w", ref, err)
	}
	switch cellType {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula:
		return TextCell(raw), nil
	}

	kind, err := s.numberKind(ref)
	if err != nil {
		return Cell{}, err
	}
	switch kind {
	case CellClock:
		return ClockCell(number), nil
	case CellTimestamp:
		value, err := excelize.ExcelDateToTime(number, s.date1904)
		if err != nil {
			return NumberCell(number), nil
		}
		return TimestampCell(value), nil
	default:
		return NumberCell(number), nil
	}
}

func (s *excelSheet) numberKind(ref string) (CellKind, error) {
	styleID, err := s.file.GetCellStyle(s.name, ref)
	if err != nil {
		return CellEmpty, fmt.Errorf("cell style %s: %w", ref, err)
	}
	if kind, ok := s.kinds[styleID]; ok {
		return kind, nil
	}

	kind := CellNumber
	if style, err := s.file.GetStyle(styleID); err == nil && style != nil {
		kind = kindForNumFmt(style.NumFmt, style.CustomNumFmt)
	}
	s.kinds[styleID] = kind
	return kind, nil
}

func kindForNumFmt(numFmt int, custom *string) CellKind {
	if custom == nil {
		switch {
		case dateNumFmts[numFmt]:
			return CellTimestamp
		case clockNumFmts[numFmt]:
			return CellClock
		default:
			return CellNumber
		}
	}

	code := strings.ToLower(stripFormatLiterals(*custom))
	switch {
	case strings.ContainsAny(code, "yd"):
		return CellTimestamp
	case strings.ContainsAny(code, "hs"):
		return CellClock
	default:
		return CellNumber
	}
}

// stripFormatLiterals drops quoted text, escaped characters and bracketed
// sections other than elapsed-time markers ([h], [mm], [ss]) from a format code.
func stripFormatLiterals(code string) string {
	var out strings.Builder
	inQuote := false
	for i := 0; i < len(code); i++ {
		ch := code[i]
		switch {
		case inQuote:
			if ch == '"' {
				inQuote = false
			}
		case ch == '"':
			inQuote = true
		case ch == '\\':
			i++
		case ch == '[':
			end := strings.IndexByte(code[i:], ']')
			if end < 0 {
				return out.String()
			}
			section := strings.ToLower(code[i+1 : i+end])
			if strings.Trim(section, "hms") == "" {
				out.WriteString(section)
			}
			i += end
		default:
			out.WriteByte(ch)
		}
	}
	return out.String()
}
