package output

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"metricboard/internal/timeutil"
	"metricboard/metric"
	"metricboard/storage"
)

// DailySummary aggregates all subjects' records of one metric on one day.
type DailySummary struct {
	Date        string
	MetricCode  string
	MetricName  string
	IsTime      bool
	RecordCount int
	Average     float64
	Min         float64
	Max         float64
	UnmetCount  int
}

type summaryKey struct {
	date string
	code string
}

func BuildDailySummaries(records []storage.RecordDetail) []DailySummary {
	if len(records) == 0 {
		return []DailySummary{}
	}

	byKey := make(map[summaryKey][]storage.RecordDetail)
	for _, record := range records {
		key := summaryKey{date: timeutil.FormatDate(record.Date), code: record.Type.Code}
		byKey[key] = append(byKey[key], record)
	}

	keys := make([]summaryKey, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date == keys[j].date {
			return keys[i].code < keys[j].code
		}
		return keys[i].date < keys[j].date
	})

	summaries := make([]DailySummary, 0, len(keys))
	for _, key := range keys {
		summaries = append(summaries, summarizeDay(key, byKey[key]))
	}
	return summaries
}

func summarizeDay(key summaryKey, records []storage.RecordDetail) DailySummary {
	t := records[0].Type
	summary := DailySummary{
		Date:        key.date,
		MetricCode:  key.code,
		MetricName:  t.Name,
		IsTime:      metric.IsTimeMetric(t),
		RecordCount: len(records),
		Min:         records[0].Value,
		Max:         records[0].Value,
	}

	sum, counted := 0.0, 0
	for _, record := range records {
		summary.Min = math.Min(summary.Min, record.Value)
		summary.Max = math.Max(summary.Max, record.Value)
		if record.Value > 0 {
			sum += record.Value
			counted++
		}
		if metric.Unmet(t, record.Value) {
			summary.UnmetCount++
		}
	}
	if counted > 0 {
		summary.Average = roundValue(sum / float64(counted))
	}
	return summary
}

func roundValue(value float64) float64 {
	return math.Round(value*100) / 100
}

var summaryHeaders = []string{"Date", "MetricCode", "MetricName", "Records", "Average", "AverageDisplay", "Min", "Max", "Unmet"}

func (s DailySummary) display(value float64) string {
	if s.IsTime {
		return metric.FormatMinutes(value)
	}
	return fmt.Sprintf("%.2f", value)
}

func WriteDailySummaries(path, format string, summaries []DailySummary) error {
	switch normalizeFormat(format) {
	case "csv":
		rows := make([][]string, 0, len(summaries))
		for _, s := range summaries {
			rows = append(rows, []string{
				s.Date,
				s.MetricCode,
				s.MetricName,
				strconv.Itoa(s.RecordCount),
				fmt.Sprintf("%.2f", s.Average),
				s.display(s.Average),
				fmt.Sprintf("%.2f", s.Min),
				fmt.Sprintf("%.2f", s.Max),
				strconv.Itoa(s.UnmetCount),
			})
		}
		return writeCSV(path, summaryHeaders, rows)
	case "excel", "xlsx":
		rows := make([][]any, 0, len(summaries))
		for _, s := range summaries {
			rows = append(rows, []any{
				s.Date, s.MetricCode, s.MetricName, s.RecordCount,
				s.Average, s.display(s.Average), s.Min, s.Max, s.UnmetCount,
			})
		}
		return writeExcel(path, summaryHeaders, rows)
	default:
		return fmt.Errorf("unsupported output format for daily summaries: %s", format)
	}
}
