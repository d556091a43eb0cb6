package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// DurationMinutes converts a pair of timestamps into minute duration.
func DurationMinutes(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return end.Sub(start).Minutes()
}

// ParseWindow parses an evaluation window such as "30d", "7d", "24h" or "90m".
// Day and week suffixes are accepted in addition to time.ParseDuration units.
func ParseWindow(value string) (time.Duration, error) {
	v := strings.TrimSpace(strings.ToLower(value))
	if v == "" {
		return 0, fmt.Errorf("empty window")
	}
	unit := time.Duration(0)
	switch {
	case strings.HasSuffix(v, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(v, "w"):
		unit = 7 * 24 * time.Hour
	}
	if unit > 0 {
		n, err := strconv.ParseFloat(strings.TrimSpace(v[:len(v)-1]), 64)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid window %q", value)
		}
		return time.Duration(n * float64(unit)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid window %q", value)
	}
	return d, nil
}

// FormatAgo renders an offset as a compact "30d ago" style label.
func FormatAgo(d time.Duration) string {
	if d <= 0 {
		return "Now"
	}
	if d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	}
	return fmt.Sprintf("%s ago", d.Round(time.Minute))
}
