// Package calendar supplies the business-day overdue predicate injected
// into display-status derivation. The holiday table lives in configuration,
// not here.
package calendar

import (
	"time"

	"github.com/linwei/iface-registry/internal/identity"
)

// OverdueFunc decides whether an expected-time value is overdue as of today.
type OverdueFunc func(timeStr string, today time.Time) bool

// Workdays evaluates overdue by counting business days. Saturdays, Sundays
// and any configured holidays do not count.
type Workdays struct {
	holidays map[string]bool
}

// NewWorkdays builds a Workdays calendar. Holidays are "2006-01-02" dates.
func NewWorkdays(holidays []string) *Workdays {
	m := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		m[h] = true
	}
	return &Workdays{holidays: m}
}

// IsBusinessDay reports whether d counts as a working day.
func (w *Workdays) IsBusinessDay(d time.Time) bool {
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !w.holidays[d.Format(identity.DateLayout)]
}

// IsOverdue reports whether the expected-time value lies at least one
// business day before today. Values that do not parse as a date are never
// overdue. A month-day-only value is interpreted in today's year.
func (w *Workdays) IsOverdue(timeStr string, today time.Time) bool {
	due, ok := identity.InterfaceDate(timeStr, today.Year())
	if !ok {
		return false
	}
	today = truncateDay(today)
	if !due.Before(today) {
		return false
	}
	for d := due; d.Before(today); d = d.AddDate(0, 0, 1) {
		if w.IsBusinessDay(d) {
			return true
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
