package cleanup

import (
	"regexp"
	"strconv"
	"time"
)

var durationPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseDuration parses a duration string of the form "<digits><unit>" where
// unit is one of s, m, h, d (seconds, minutes, hours, days). Strings that
// don't match this grammar fall back to DefaultDelay rather than erroring,
// matching the forgiving config parsing used throughout the daemon.
func ParseDuration(s string) time.Duration {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return DefaultDelay
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return DefaultDelay
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second
	case "m":
		return time.Duration(n) * time.Minute
	case "h":
		return time.Duration(n) * time.Hour
	case "d":
		return time.Duration(n) * 24 * time.Hour
	default:
		return DefaultDelay
	}
}
