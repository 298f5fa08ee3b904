package connector

import "time"

// isoMillis is the wire format for canonical timestamps.
const isoMillis = "2006-01-02T15:04:05.000Z"

// FormatTime renders a timestamp as ISO-8601 with millisecond precision in
// UTC. Zero times render as the empty string (the canonical null).
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(isoMillis)
}

// ParseTime accepts ISO-8601 timestamps with or without fractional seconds.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// FromUnix converts Unix seconds to a UTC timestamp; non-positive values
// yield the zero time.
func FromUnix(secs int64) time.Time {
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
