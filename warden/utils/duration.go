package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationPattern = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|w|days?|d|hours?|hrs?|h|minutes?|mins?|m|seconds?|secs?|s)`)

// ParseDuration parses human duration strings like "10m", "1d2h30m" or
// "2 weeks". Units larger than hours are not covered by time.ParseDuration,
// which is why this exists.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	matches := durationPattern.FindAllStringSubmatch(s, -1)
	if matches == nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	// Reject input with leftovers the pattern did not consume, like "10x".
	if strings.TrimSpace(durationPattern.ReplaceAllString(s, "")) != "" {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	var total time.Duration
	for _, m := range matches {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		switch strings.ToLower(m[2])[0] {
		case 'w':
			total += time.Duration(n) * 7 * 24 * time.Hour
		case 'd':
			total += time.Duration(n) * 24 * time.Hour
		case 'h':
			total += time.Duration(n) * time.Hour
		case 'm':
			total += time.Duration(n) * time.Minute
		case 's':
			total += time.Duration(n) * time.Second
		}
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return total, nil
}

// HumanizeDuration renders a duration as "2 days, 3 hours and 10 minutes".
func HumanizeDuration(d time.Duration) string {
	if d < time.Second {
		return "less than a second"
	}

	type unit struct {
		name string
		span time.Duration
	}
	units := []unit{
		{"week", 7 * 24 * time.Hour},
		{"day", 24 * time.Hour},
		{"hour", time.Hour},
		{"minute", time.Minute},
		{"second", time.Second},
	}

	var parts []string
	for _, u := range units {
		if n := d / u.span; n > 0 {
			label := u.name
			if n > 1 {
				label += "s"
			}
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
			d -= n * u.span
		}
	}
	return HumanizeList(parts)
}

// HumanizeList joins items as prose: "a", "a and b", "a, b and c".
func HumanizeList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}
