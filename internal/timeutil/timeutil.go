package timeutil

import (
	"strings"
	"time"
)

// DateLayout is the storage and API format of calendar dates.
const DateLayout = "2006-01-02"

// Date returns the calendar day of value as midnight UTC, dropping the
// original location so dates compare equal across zones.
func Date(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}

// ClockMinutes returns the time of day of value in minutes, seconds included
// as a fraction.
func ClockMinutes(value time.Time) float64 {
	return float64(value.Hour()*60+value.Minute()) + float64(value.Second())/60
}

func FormatDate(value time.Time) string {
	return value.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD value into a UTC calendar date.
func ParseDate(value string) (time.Time, error) {
	parsed, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return parsed, nil
}
