package identity

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateTriple is the normalized form of an expected-time value. Year is -1
// when the value carries only a month and day.
type dateTriple struct {
	year  int
	month int
	day   int
}

var (
	fullDatePattern  = regexp.MustCompile(`^(\d{4})\s*[.\-/年]\s*(\d{1,2})\s*[.\-/月]\s*(\d{1,2})\s*日?$`)
	monthDayPattern  = regexp.MustCompile(`^(\d{1,2})\s*[.\-/月]\s*(\d{1,2})\s*日?$`)
)

// parseInterfaceTime tries to read s as a date. It accepts the separator
// variants seen in real workbooks ("2025.11.07", "2025-11-07", "2025/11/07",
// "2025年11月7日") and the month-day-only shorthand ("11.07").
func parseInterfaceTime(s string) (dateTriple, bool) {
	s = strings.TrimSpace(s)
	if m := fullDatePattern.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if mo >= 1 && mo <= 12 && d >= 1 && d <= 31 {
			return dateTriple{year: y, month: mo, day: d}, true
		}
		return dateTriple{}, false
	}
	if m := monthDayPattern.FindStringSubmatch(s); m != nil {
		mo, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		if mo >= 1 && mo <= 12 && d >= 1 && d <= 31 {
			return dateTriple{year: -1, month: mo, day: d}, true
		}
	}
	return dateTriple{}, false
}

// InterfaceDate resolves an expected-time value to a calendar day.
// A month-day-only value is resolved in defaultYear. The second return is
// false when the value is not date-like.
func InterfaceDate(s string, defaultYear int) (time.Time, bool) {
	t, ok := parseInterfaceTime(s)
	if !ok {
		return time.Time{}, false
	}
	y := t.year
	if y == -1 {
		y = defaultYear
	}
	return time.Date(y, time.Month(t.month), t.day, 0, 0, 0, 0, time.Local), true
}

// SameInterfaceTime is the comparison predicate for the expected-time
// column. It never mutates stored values; it only decides whether two
// representations mean the same deadline.
//
// "2025.11.07" and "2025-11-07" compare equal. A month-day-only value
// ("11.07") compares equal to any full date with the same month and day.
// Values that do not parse as dates (e.g. "25C2") fall back to trimmed
// string equality. Format variation alone must never trigger a reset.
func SameInterfaceTime(a, b string) bool {
	ta, okA := parseInterfaceTime(a)
	tb, okB := parseInterfaceTime(b)
	if okA && okB {
		if ta.month != tb.month || ta.day != tb.day {
			return false
		}
		if ta.year == -1 || tb.year == -1 {
			return true
		}
		return ta.year == tb.year
	}
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
