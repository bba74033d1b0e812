package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatAmount shortens thousands with a K suffix: 1500 -> 1.5K, 2000 -> 2K.
func FormatAmount(n int64) string {
	if n < 1000 && n > -1000 {
		return strconv.FormatInt(n, 10)
	}
	s := strconv.FormatFloat(float64(n)/1000, 'f', 1, 64)
	return strings.TrimSuffix(s, ".0") + "K"
}

// FormatTimeRemaining renders the time left until an auction closes.
func FormatTimeRemaining(d time.Duration) string {
	if d <= 0 {
		return "⏰ Ended"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm left", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm left", minutes)
	default:
		return "⚡ Less than a minute"
	}
}

// FormatDuration renders a duration as "12h", "1h 30m" or "45m".
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

// Truncate cuts s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
