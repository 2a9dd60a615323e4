package utils

import (
	"fmt"
	"time"
)

// FromUnixMilli converts a payload timestamp back into a UTC time.
func FromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// TimeAgo renders the age of t relative to now the way the dashboard lists do:
// "just now", "N min ago", "N hour(s) ago".
func TimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	seconds := int(d / time.Second)
	if seconds < 60 {
		return "just now"
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%d min ago", minutes)
	}
	hours := minutes / 60
	if hours == 1 {
		return "1 hour ago"
	}
	return fmt.Sprintf("%d hours ago", hours)
}
