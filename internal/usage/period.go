package usage

import (
	"fmt"
	"time"
)

// Periods lists the accepted period names.
var Periods = []string{"today", "yesterday", "week", "month", "all"}

// ParsePeriod converts a period name to a start/end range relative to
// now. Unknown names cover all time.
func ParsePeriod(period string, now time.Time) (time.Time, time.Time) {
	end := now.Add(time.Minute) // slight future buffer

	switch period {
	case "today":
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return start, end
	case "yesterday":
		y := now.AddDate(0, 0, -1)
		start := time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, y.Location())
		endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return start, endOfDay
	case "week":
		return now.AddDate(0, 0, -7), end
	case "month":
		return now.AddDate(0, -1, 0), end
	default:
		return time.Time{}, end
	}
}

// FormatTokenCount formats a token count compactly, e.g. "1.23M",
// "456.0K" or "789".
func FormatTokenCount(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2fM", float64(n)/1_000_000.0)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000.0)
	}
	return fmt.Sprintf("%d", n)
}
