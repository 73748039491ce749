package importer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"metricboard/internal/timeutil"
	"metricboard/metric"
)

const minutesPerDay = 24 * 60

// Accepted textual date layouts, tried in order: ISO, then day-first with
// slashes and with dashes. Single-digit days and months are accepted.
var dateLayouts = []string{"2006-1-2", "2/1/2006", "2-1-2006"}

var clockPattern = regexp.MustCompile(`^(\d+):(\d+)(?::(\d+))?$`)

// NormalizeValue converts a raw cell into the stored value for t: minutes for
// time metrics, the metric's own unit otherwise. Malformed input yields false.
func NormalizeValue(t metric.Type, cell Cell) (float64, bool) {
	return normalizeCell(metric.IsTimeMetric(t), cell)
}

func normalizeCell(isTime bool, cell Cell) (float64, bool) {
	if isTime {
		return durationMinutes(cell)
	}
	return plainNumber(cell)
}

func durationMinutes(cell Cell) (float64, bool) {
	switch cell.Kind {
	case CellClock:
		seconds := math.Round(cell.Number * minutesPerDay * 60)
		return seconds / 60, true
	case CellTimestamp:
		return timeutil.ClockMinutes(cell.Time), true
	case CellNumber:
		// TODO: a serial of exactly 1.0 (24h) or hour-valued input is taken as
		// minutes; needs an explicit unit on the metric type to disambiguate.
		if cell.Number >= 0 && cell.Number < 1 {
			return cell.Number * minutesPerDay, true
		}
		return cell.Number, true
	case CellText:
		value := strings.TrimSpace(cell.Text)
		if minutes, ok := parseClockMinutes(value); ok {
			return minutes, true
		}
		return parseLocaleNumber(value)
	default:
		return 0, false
	}
}

func plainNumber(cell Cell) (float64, bool) {
	switch cell.Kind {
	case CellNumber:
		return cell.Number, true
	case CellText:
		return parseLocaleNumber(cell.Text)
	default:
		return 0, false
	}
}

// parseClockMinutes parses H:MM or H:MM:SS into minutes.
func parseClockMinutes(value string) (float64, bool) {
	match := clockPattern.FindStringSubmatch(value)
	if match == nil {
		return 0, false
	}
	hours, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(match[2])
	if err != nil {
		return 0, false
	}
	seconds := 0
	if match[3] != "" {
		if seconds, err = strconv.Atoi(match[3]); err != nil {
			return 0, false
		}
	}
	return float64(hours*60+minutes) + float64(seconds)/60, true
}

// parseLocaleNumber reads comma-decimal numbers: spaces and thousands dots are
// dropped and the decimal comma becomes a point ("1.234,56" -> 1234.56).
func parseLocaleNumber(raw string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '.':
			return -1
		case ',':
			return '.'
		default:
			return r
		}
	}, raw)
	if cleaned == "" {
		return 0, false
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

// parseDate accepts timestamp cells and the textual layouts in dateLayouts.
func parseDate(cell Cell) (time.Time, bool) {
	switch cell.Kind {
	case CellTimestamp:
		return timeutil.Date(cell.Time), true
	case CellText:
		value := strings.TrimSpace(cell.Text)
		for _, layout := range dateLayouts {
			if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
