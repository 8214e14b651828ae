package timeutil

import (
	"math"
	"testing"
	"time"
)

type tsWrapper struct{ t time.Time }

func (w tsWrapper) Time() time.Time { return w.t }

func TestNormalizeMillis(t *testing.T) {
	ref := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	refMs := ref.UnixMilli()

	cases := []struct {
		name  string
		value any
		want  int64
	}{
		{"nil", nil, 0},
		{"int64 millis", int64(1700000000000), 1700000000000},
		{"int millis", 1700000000000, 1700000000000},
		{"negative int", int64(-5), 0},
		{"float millis", float64(1700000000000), 1700000000000},
		{"nan", math.NaN(), 0},
		{"positive infinity", math.Inf(1), 0},
		{"time value", ref, refMs},
		{"time pointer", &ref, refMs},
		{"nil time pointer", (*time.Time)(nil), 0},
		{"zero time", time.Time{}, 0},
		{"timestamp wrapper", tsWrapper{t: ref}, refMs},
		{"rfc3339 string", "2024-03-01T12:30:00Z", refMs},
		{"date only string", "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()},
		{"empty string", "", 0},
		{"garbage string", "not a date", 0},
		{"unsupported type", struct{}{}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeMillis(tc.value); got != tc.want {
				t.Fatalf("NormalizeMillis(%v) = %d, want %d", tc.value, got, tc.want)
			}
		})
	}
}
