package output

import (
	"fmt"
	"strconv"
	"strings"

	"metricboard/internal/timeutil"
	"metricboard/metric"
	"metricboard/storage"
)

type Writer interface {
	Write(path string, records []storage.RecordDetail) error
}

func WriterForFormat(format string) (Writer, error) {
	switch normalizeFormat(format) {
	case "csv":
		return &CSVWriter{}, nil
	case "excel", "xlsx":
		return &ExcelWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// FormatForPath picks the output format from the file extension.
func FormatForPath(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return "excel"
	}
	return "csv"
}

func normalizeFormat(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}

var recordHeaders = []string{"Date", "SubjectID", "SubjectName", "MetricCode", "MetricName", "Unit", "Value", "Display", "BatchID"}

// DisplayValue renders value the way the dashboard does: HH:MM:SS for time
// metrics, the plain number otherwise.
func DisplayValue(t metric.Type, value float64) string {
	if metric.IsTimeMetric(t) {
		return metric.FormatMinutes(value)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func recordRow(record storage.RecordDetail) []string {
	return []string{
		timeutil.FormatDate(record.Date),
		record.SubjectExternalID,
		record.SubjectName,
		record.Type.Code,
		record.Type.Name,
		record.Type.Unit,
		strconv.FormatFloat(record.Value, 'f', -1, 64),
		DisplayValue(record.Type, record.Value),
		strconv.FormatInt(record.BatchID, 10),
	}
}
