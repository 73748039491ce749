package metric

import (
	"fmt"
	"math"

	"metricboard/internal/textnorm"
)

var (
	timeHints     = []string{"time", "tempo", "hh:mm", "hhmm", "ti", "duracao", "sla"}
	timeUnitNames = map[string]bool{
		"min":     true,
		"minuto":  true,
		"minutos": true,
		"hora":    true,
		"horas":   true,
		"h":       true,
	}
)

// IsTimeMetric reports whether values of t are durations. Import and
// dashboard both go through this function so stored and displayed units agree.
func IsTimeMetric(t Type) bool {
	if timeUnitNames[textnorm.Fold(t.Unit)] {
		return true
	}
	for _, field := range []string{t.Code, t.Name, t.Unit} {
		if textnorm.ContainsAny(textnorm.Fold(field), timeHints...) {
			return true
		}
	}
	return false
}

type Group string

const (
	GroupBonus  Group = "bonus"
	GroupRV     Group = "rv"
	GroupICSIVS Group = "ics_ivs"
)

// GroupOf sorts a metric type into its dashboard section.
func GroupOf(t Type) Group {
	name := textnorm.Fold(t.Name)
	code := textnorm.Fold(t.Code)
	both := func(a, b string) bool {
		return (textnorm.ContainsAny(name, a) && textnorm.ContainsAny(name, b)) ||
			(textnorm.ContainsAny(code, a) && textnorm.ContainsAny(code, b))
	}
	switch {
	case both("aderencia", "raio"), both("aderencia", "checklist"):
		return GroupBonus
	case textnorm.ContainsAny(name, "producao", "devolucao"), textnorm.ContainsAny(code, "producao", "devolucao"):
		return GroupRV
	default:
		return GroupICSIVS
	}
}

// Unmet reports whether value misses the target of t. Zero values count as
// "no data" and never miss; types without a target never miss.
func Unmet(t Type, value float64) bool {
	if t.Target == nil || value <= 0 {
		return false
	}
	if t.BetterWhen == LowerIsBetter {
		return value > *t.Target
	}
	return value < *t.Target
}

// UnmetAverage is Unmet without the zero-value rule, for period averages.
func UnmetAverage(t Type, avg float64) bool {
	if t.Target == nil {
		return false
	}
	if t.BetterWhen == LowerIsBetter {
		return avg > *t.Target
	}
	return avg < *t.Target
}

// FormatMinutes renders minutes as HH:MM:SS (90.5 -> "01:30:30").
func FormatMinutes(minutes float64) string {
	total := int64(math.Round(minutes * 60))
	sign := ""
	if total < 0 {
		sign = "-"
		total = -total
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, total/3600, (total%3600)/60, total%60)
}

// ParseBetterWhen accepts "higher"/"lower" (any case); empty means higher.
func ParseBetterWhen(value string) (BetterWhen, error) {
	switch textnorm.Fold(value) {
	case "", "higher":
		return HigherIsBetter, nil
	case "lower":
		return LowerIsBetter, nil
	default:
		return "", fmt.Errorf("invalid better_when %q (supported: higher|lower)", value)
	}
}
