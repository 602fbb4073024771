package usage

import (
	"fmt"
	"regexp"
	"strconv"
	"testing"
	"time"
)

func TestFormatDelta_Buckets(t *testing.T) {
	cases := []struct {
		minutes int
		want    string
	}{
		{-5, "Soon"},
		{0, "Soon"},
		{1, "1m"},
		{59, "59m"},
		{60, "1h 0m"},
		{135, "2h 15m"},
		{24 * 60, "24h 0m"},
		{26 * 60, "1d 2h"},
		{3*24*60 + 5*60 + 9, "3d 5h"},
	}
	for _, tc := range cases {
		if got := FormatDelta(tc.minutes); got != tc.want {
			t.Errorf("FormatDelta(%d)=%q, want %q", tc.minutes, got, tc.want)
		}
	}
}

func TestFormatReset_MissingTimestamp(t *testing.T) {
	if got := FormatReset(time.Now(), nil); got != "Unknown" {
		t.Fatalf("FormatReset(nil)=%q, want Unknown", got)
	}
}

var deltaRe = regexp.MustCompile(`^(?:(\d+)d )?(?:(\d+)h)(?: (\d+)m)?$|^(\d+)m$`)

// Formatting must be a faithful inverse of its own total-minutes arithmetic:
// parsing a rendered string back to components and re-rendering reproduces
// the same bucket.
func TestFormatDelta_RoundTrip(t *testing.T) {
	for _, minutes := range []int{1, 30, 59, 60, 61, 90, 24 * 60, 25*60 + 1, 26 * 60, 49 * 60, 7 * 24 * 60} {
		rendered := FormatDelta(minutes)
		m := deltaRe.FindStringSubmatch(rendered)
		if m == nil {
			t.Fatalf("FormatDelta(%d)=%q does not match grammar", minutes, rendered)
		}
		days := atoiZero(m[1])
		hours := atoiZero(m[2])
		mins := atoiZero(m[3]) + atoiZero(m[4])
		if got := FormatDelta(TotalMinutes(days, hours, mins)); got != rendered {
			t.Errorf("round trip %d min: %q -> %q", minutes, rendered, got)
		}
	}
}

func atoiZero(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

func TestFormatReset_MultiDayBranch(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	at := now.Add(26 * time.Hour)
	if got := FormatReset(now, &at); got != "1d 2h" {
		t.Fatalf(`FormatReset(+26h)=%q, want "1d 2h"`, got)
	}
}

func ExampleFormatDelta() {
	fmt.Println(FormatDelta(135))
	// Output: 2h 15m
}
