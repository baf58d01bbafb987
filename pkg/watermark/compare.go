package watermark

import (
	"strconv"
	"time"
)

// Compare orders two watermark values: the first-run sentinel sorts below
// everything, then RFC3339 timestamps, then numerics, then plain string
// ordering. Returns -1, 0, or 1.
func Compare(a, b string) int {
	if a == b {
		return 0
	}

	// The sentinel means "no cursor yet" and must sort below every real
	// value, numeric cursors included; time parsing alone cannot order it
	// against epoch seconds or sequence IDs
	if a == Sentinel {
		return -1
	}

	if b == Sentinel {
		return 1
	}

	if ta, errA := parseTime(a); errA == nil {
		if tb, errB := parseTime(b); errB == nil {
			return ta.Compare(tb)
		}
	}

	if na, errA := strconv.ParseFloat(a, 64); errA == nil {
		if nb, errB := strconv.ParseFloat(b, 64); errB == nil {
			switch {
			case na < nb:
				return -1
			case na > nb:
				return 1
			default:
				return 0
			}
		}
	}

	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts strictly before b
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

// Max returns the greater of two watermark values
func Max(a, b string) string {
	if Less(a, b) {
		return b
	}

	return a
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}

	return time.Parse("2006-01-02", v)
}
