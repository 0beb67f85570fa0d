package logparse

import (
	"strconv"
	"strings"
	"time"
)

// TimestampFallback reports how far Normalize had to degrade to produce an
// instant.
type TimestampFallback int

const (
	// TimestampExact means the raw value carried an unambiguous instant.
	TimestampExact TimestampFallback = iota
	// TimestampAssumedZone means the raw value had no zone and was read in
	// the process's local zone.
	TimestampAssumedZone
	// TimestampNow means the raw value was unparseable and the current
	// wall-clock instant was substituted.
	TimestampNow
)

// Layouts tried after the numeric and RFC3339 checks. time.Parse accepts a
// comma as the fractional-second separator, so the dotted layouts cover both
// "15:04:05,123" and "15:04:05.123".
const (
	layoutSpaceMillis = "2006-01-02 15:04:05.000"
	layoutSpace       = "2006-01-02 15:04:05"
	layoutLocalMillis = "2006-01-02T15:04:05.000"
	layoutLocal       = "2006-01-02T15:04:05"
)

// Normalize converts a raw timestamp string into an absolute instant. It
// never fails: unparseable input yields the current time with TimestampNow.
func Normalize(raw string) (time.Time, TimestampFallback) {
	raw = strings.TrimSpace(raw)

	if isDigits(raw) {
		if ts, ok := normalizeEpoch(raw); ok {
			return ts, TimestampExact
		}
		return time.Now(), TimestampNow
	}

	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, TimestampExact
	}

	for _, layout := range []string{layoutSpaceMillis, layoutSpace} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, TimestampExact
		}
	}

	for _, layout := range []string{layoutLocalMillis, layoutLocal} {
		if ts, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return ts, TimestampAssumedZone
		}
	}

	return time.Now(), TimestampNow
}

// normalizeEpoch maps a pure-digit string onto an epoch instant: 10 digits
// are epoch seconds, 13 through 17 digits are epoch milliseconds.
func normalizeEpoch(raw string) (time.Time, bool) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}

	switch digits := len(raw); {
	case digits == 10:
		return time.Unix(n, 0), true
	case digits >= 13 && digits <= 17:
		return time.UnixMilli(n), true
	default:
		return time.Time{}, false
	}
}

func isDigits(raw string) bool {
	if raw == "" {
		return false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
