package importer

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrUnreadableSheet marks uploads that are not a workbook or CSV file we can
// open. Nothing is persisted for them.
var ErrUnreadableSheet = errors.New("unreadable spreadsheet")

// Sheet streams the rows of one worksheet. Rows are visited once, top to
// bottom; re-reading means opening the source again.
type Sheet interface {
	Next() bool
	Cells() ([]Cell, error)
	Err() error
	Close() error
}

// SupportedExtensions lists the upload extensions OpenSheet understands.
func SupportedExtensions() []string {
	return []string{".xlsx", ".xlsm", ".csv"}
}

func OpenSheet(format string, r io.Reader) (Sheet, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return OpenCSV(r)
	case "excel", "xlsx", "xlsm":
		return OpenExcel(r)
	default:
		return nil, fmt.Errorf("%w: unsupported input format: %s", ErrUnreadableSheet, format)
	}
}

// InferFormat maps a file name to the format understood by OpenSheet.
func InferFormat(filename string) (string, error) {
	extension := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch extension {
	case "csv":
		return "csv", nil
	case "xlsx", "xlsm":
		return "excel", nil
	default:
		return "", fmt.Errorf("%w: unsupported file extension for %s (supported: %s)",
			ErrUnreadableSheet, filename, strings.Join(SupportedExtensions(), ", "))
	}
}
