package importer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

type csvSheet struct {
	reader *csv.Reader
	row    int
	record []string
	err    error
}

// OpenCSV streams a comma or semicolon separated file. Values that parse as
// plain dot-decimal numbers become number cells; everything else, comma
// decimals included, stays text for the normalizer.
func OpenCSV(r io.Reader) (Sheet, error) {
	buffered := bufio.NewReader(r)
	comma, err := sniffDelimiter(buffered)
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %v", ErrUnreadableSheet, err)
	}

	reader := csv.NewReader(buffered)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	return &csvSheet{reader: reader}, nil
}

func (s *csvSheet) Next() bool {
	if s.err != nil {
		return false
	}
	record, err := s.reader.Read()
	if err == io.EOF {
		return false
	}
	if err != nil {
		s.err = fmt.Errorf("read csv row %d: %w", s.row+1, err)
		return false
	}
	s.row++
	s.record = record
	return true
}

func (s *csvSheet) Cells() ([]Cell, error) {
	cells := make([]Cell, len(s.record))
	for i, value := range s.record {
		cells[i] = csvCell(value)
	}
	return cells, nil
}

func csvCell(raw string) Cell {
	trimmed := strings.TrimSpace(raw)
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return TextCell(raw)
	}
	return Cell{Kind: CellNumber, Number: value, Text: trimmed}
}

func (s *csvSheet) Err() error {
	return s.err
}

func (s *csvSheet) Close() error {
	return nil
}

// sniffDelimiter picks ';' when the header line has more semicolons than
// commas, which is what spreadsheets export in comma-decimal locales.
func sniffDelimiter(r *bufio.Reader) (rune, error) {
	line, err := r.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return 0, err
	}
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';', nil
	}
	return ',', nil
}
