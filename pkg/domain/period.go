package domain

import (
	"fmt"
	"regexp"
	"time"
)

// PeriodLayout is the time layout of a billing period key.
const PeriodLayout = "2006-01"

var periodPattern = regexp.MustCompile(`^[0-9]{4}-(0[1-9]|1[0-2])$`)

// Period is a billing period in the fixed "YYYY-MM" textual form. Periods are compared
// by exact string equality; they are never parsed for filtering.
type Period string

// ParsePeriod validates s and returns it as a Period.
func ParsePeriod(s string) (Period, error) {
	if !periodPattern.MatchString(s) {
		return "", fmt.Errorf("invalid period %q: want YYYY-MM", s)
	}
	return Period(s), nil
}

// PeriodOf returns the period containing t (in UTC).
func PeriodOf(t time.Time) Period {
	return Period(t.UTC().Format(PeriodLayout))
}

// Valid reports whether p has the YYYY-MM form.
func (p Period) Valid() bool { return periodPattern.MatchString(string(p)) }

// String implements fmt.Stringer.
func (p Period) String() string { return string(p) }
