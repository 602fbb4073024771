package usage

import (
	"fmt"
	"time"
)

// FormatReset renders the time until resetAt as a short relative string:
// "{d}d {h}h" past 24 hours, "{h}h {m}m" past one hour, "{m}m" below that.
// A non-positive difference renders as "Soon", a missing timestamp as
// "Unknown".
func FormatReset(now time.Time, resetAt *time.Time) string {
	if resetAt == nil {
		return "Unknown"
	}
	return FormatDelta(int(resetAt.Sub(now).Minutes()))
}

// FormatDelta renders a whole-minute difference using the same bucketing as
// FormatReset. TotalMinutes is its inverse over the rendered buckets.
func FormatDelta(minutes int) string {
	if minutes <= 0 {
		return "Soon"
	}
	hours := minutes / 60
	mins := minutes % 60
	if hours > 24 {
		return fmt.Sprintf("%dd %dh", hours/24, hours%24)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

// TotalMinutes converts day/hour/minute components back to whole minutes.
func TotalMinutes(days, hours, minutes int) int {
	return days*24*60 + hours*60 + minutes
}
