package output

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"metricboard/metric"
	"metricboard/storage"
)

func sampleRecords(t *testing.T) []storage.RecordDetail {
	t.Helper()
	tma := metric.Type{ID: 1, Code: "tma", Name: "Tempo médio", Unit: "min"}
	prod := metric.Type{ID: 2, Code: "prod", Name: "Produção", Unit: "%"}
	return []storage.RecordDetail{
		detail(t, "2024-03-05", "1001", tma, 90.5),
		detail(t, "2024-03-05", "1001", prod, 87.25),
	}
}

func TestCSVWriter_WritesDisplayColumn(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.csv")
	if err := (&CSVWriter{}).Write(path, sampleRecords(t)); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if rows[1][0] != "2024-03-05" || rows[1][3] != "tma" || rows[1][6] != "90.5" || rows[1][7] != "01:30:30" {
		t.Fatalf("unexpected time metric row: %v", rows[1])
	}
	if rows[2][7] != "87.25" {
		t.Fatalf("unexpected plain metric display: %v", rows[2])
	}
}

func TestExcelWriter_WritesNumericValues(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.xlsx")
	if err := (&ExcelWriter{}).Write(path, sampleRecords(t)); err != nil {
		t.Fatalf("write excel: %v", err)
	}

	file, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open excel: %v", err)
	}
	defer file.Close()

	sheet := file.GetSheetName(0)
	header, err := file.GetCellValue(sheet, "A1")
	if err != nil || header != "Date" {
		t.Fatalf("unexpected header %q: %v", header, err)
	}
	cellType, err := file.GetCellType(sheet, "G2")
	if err != nil {
		t.Fatalf("cell type: %v", err)
	}
	if cellType == excelize.CellTypeSharedString || cellType == excelize.CellTypeInlineString {
		t.Fatalf("expected numeric value cell, got %v", cellType)
	}
	display, err := file.GetCellValue(sheet, "H2")
	if err != nil || display != "01:30:30" {
		t.Fatalf("unexpected display %q: %v", display, err)
	}
}

func TestWriterForFormat(t *testing.T) {
	t.Parallel()

	if _, err := WriterForFormat("XLSX"); err != nil {
		t.Fatalf("expected excel writer: %v", err)
	}
	if _, err := WriterForFormat("pdf"); err == nil {
		t.Fatalf("expected error for pdf")
	}
	if got := FormatForPath("out/Records.XLSX"); got != "excel" {
		t.Fatalf("unexpected format %q", got)
	}
}

func TestWriteDailySummaries_CSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daily.csv")
	summaries := BuildDailySummaries(sampleRecords(t))
	if err := WriteDailySummaries(path, "csv", summaries); err != nil {
		t.Fatalf("write daily summaries: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(content) == 0 {
		t.Fatalf("expected content")
	}
	if err := WriteDailySummaries(path, "pdf", summaries); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
