package timeutil

import (
	"math"
	"time"
)

// Timer is implemented by store values that carry their own time conversion,
// e.g. document-database timestamp wrappers.
type Timer interface {
	Time() time.Time
}

// Layouts tried in order when normalizing string timestamps.
var stringLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
}

// NormalizeMillis converts a heterogeneous timestamp value into integer epoch
// milliseconds. Accepted inputs: integer or float epoch millis, time.Time,
// anything implementing Timer, and common date string layouts. Returns 0 for
// nil, negative, NaN, or unparsable values. Never panics; callers must treat
// 0 as "unknown time".
func NormalizeMillis(value any) int64 {
	switch v := value.(type) {
	case nil:
		return 0
	case int64:
		return clampMs(v)
	case int:
		return clampMs(int64(v))
	case int32:
		return clampMs(int64(v))
	case uint64:
		if v > math.MaxInt64 {
			return 0
		}
		return clampMs(int64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > math.MaxInt64 {
			return 0
		}
		return clampMs(int64(v))
	case float32:
		return NormalizeMillis(float64(v))
	case time.Time:
		return timeMs(v)
	case *time.Time:
		if v == nil {
			return 0
		}
		return timeMs(*v)
	case Timer:
		return timeMs(v.Time())
	case string:
		return parseStringMs(v)
	default:
		return 0
	}
}

func timeMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return clampMs(t.UnixMilli())
}

func parseStringMs(s string) int64 {
	if s == "" {
		return 0
	}
	for _, layout := range stringLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return timeMs(t)
		}
	}
	return 0
}

func clampMs(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	return ms
}
