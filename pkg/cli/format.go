package cli

import (
	"fmt"
	"math"
	"time"
)

// FormatDuration formats milliseconds to human readable string
func FormatDuration(ms int) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	secs := float64(ms) / 1000
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	mins := int(secs / 60)
	secs = secs - float64(mins*60)
	return fmt.Sprintf("%dm%.1fs", mins, secs)
}

// FormatElapsed formats d, rounded to the millisecond.
func FormatElapsed(d time.Duration) string {
	return FormatDuration(int(d.Round(time.Millisecond) / time.Millisecond))
}

// FormatMillis formats fractional milliseconds, as reported by processing
// results.
func FormatMillis(ms float64) string {
	return FormatDuration(int(math.Round(ms)))
}

// FormatConfidence formats an edge confidence with two decimals.
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%.2f", c)
}
