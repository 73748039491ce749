package importer

import (
	"strconv"
	"strings"
	"time"
)

type CellKind int

const (
	CellEmpty CellKind = iota
	CellNumber
	CellText
	// CellClock holds a duration or time of day as an Excel day serial in Number.
	CellClock
	// CellTimestamp holds a date or date-time in Time.
	CellTimestamp
)

// Cell is one raw spreadsheet value, typed the way the workbook stored it.
type Cell struct {
	Kind   CellKind
	Number float64
	// Text is the raw text of text cells, and of number cells read from CSV
	// so identifiers like "00123" keep their leading zeros.
	Text string
	Time time.Time
}

func NumberCell(value float64) Cell {
	return Cell{Kind: CellNumber, Number: value}
}

func TextCell(value string) Cell {
	if value == "" {
		return Cell{}
	}
	return Cell{Kind: CellText, Text: value}
}

func ClockCell(serial float64) Cell {
	return Cell{Kind: CellClock, Number: serial}
}

func TimestampCell(value time.Time) Cell {
	return Cell{Kind: CellTimestamp, Time: value}
}

func (c Cell) IsEmpty() bool {
	return c.Kind == CellEmpty
}

// String renders the cell the way a user would type it; used for identifiers
// and header names.
func (c Cell) String() string {
	switch c.Kind {
	case CellNumber, CellClock:
		if c.Text != "" {
			return c.Text
		}
		return strconv.FormatFloat(c.Number, 'f', -1, 64)
	case CellText:
		return c.Text
	case CellTimestamp:
		return c.Time.Format("2006-01-02 15:04:05")
	default:
		return ""
	}
}

func cellAt(cells []Cell, index int) Cell {
	if index < 0 || index >= len(cells) {
		return Cell{}
	}
	return cells[index]
}

func allEmpty(cells []Cell) bool {
	for _, cell := range cells {
		switch {
		case cell.Kind == CellEmpty:
			continue
		case cell.Kind == CellText && strings.TrimSpace(cell.Text) == "":
			continue
		}
		return false
	}
	return true
}
