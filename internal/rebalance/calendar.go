package rebalance

import (
	"fmt"
	"strings"
	"time"
)

// Cadence values
const (
	CadenceMonthly = "monthly" // last business day of the month
	CadenceWeekly  = "weekly"  // Friday
)

// ParseCadence trims and lower-cases a cadence and checks it is supported
func ParseCadence(raw string) (string, error) {
	cadence := strings.ToLower(strings.TrimSpace(raw))
	switch cadence {
	case CadenceMonthly, CadenceWeekly:
		return cadence, nil
	case "":
		return "", fmt.Errorf("%w: cadence must be configured", ErrUnsupportedCadence)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedCadence, raw)
	}
}

// IsRebalanceDay reports whether date is a cadence day
func IsRebalanceDay(date time.Time, cadence string) bool {
	switch cadence {
	case CadenceMonthly:
		return isBusinessDay(date) && nextBusinessDay(date).Month() != date.Month()
	case CadenceWeekly:
		return date.Weekday() == time.Friday
	default:
		return false
	}
}

func isBusinessDay(d time.Time) bool {
	return d.Weekday() != time.Saturday && d.Weekday() != time.Sunday
}

func nextBusinessDay(d time.Time) time.Time {
	next := d.AddDate(0, 0, 1)
	for !isBusinessDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
