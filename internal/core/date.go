// Package core holds the domain model: accounts, ledger entries, recurring
// rules and the calendar/money value types they are built on.
package core

import (
	"errors"
	"fmt"
	"time"
)

// Date is a pure calendar date (no time component, no location).
//
// Recurring-rule arithmetic must never drift: adding a month to Jan 31 has to
// land on the clamped end of February, and adding another month has to land on
// Mar 31 again, not Mar 28. Scheduling code therefore advances a first-of-month
// cursor with AddMonths and derives the day with WithDayClamped, instead of
// mutating a time.Time.
type Date struct {
	Year  int
	Month int // 1-12
	Day   int // 1-31
}

var ErrInvalidDate = errors.New("invalid date")

// NewDate builds a Date without normalization. Out-of-range components are
// kept as-is; use Validate or WithDayClamped when the input is untrusted.
func NewDate(year, month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf truncates a time.Time to its UTC calendar date.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{Year: y, Month: int(m), Day: d}
}

// Today returns the current UTC calendar date.
func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses an ISO date (2006-01-02).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) Validate() error {
	if d.Month < 1 || d.Month > 12 {
		return ErrInvalidDate
	}
	if d.Day < 1 || d.Day > DaysIn(d.Year, d.Month) {
		return ErrInvalidDate
	}
	return nil
}

// Time returns the date at midnight UTC. Machine-generated ledger entries
// store exactly this instant.
func (d Date) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) Equal(o Date) bool {
	return d == o
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) After(o Date) bool {
	return o.Before(d)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year, month int) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// WithDayClamped returns the date with the given target day, clamped to the
// last day of the month (day 31 in February yields Feb 28/29).
func (d Date) WithDayClamped(day int) Date {
	if last := DaysIn(d.Year, d.Month); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return Date{Year: d.Year, Month: d.Month, Day: day}
}

// AddMonths advances the date by n months (n may be negative), clamping the
// day to the end of the target month.
func (d Date) AddMonths(n int) Date {
	months := d.Year*12 + (d.Month - 1) + n
	year := months / 12
	month := months%12 + 1
	if months < 0 {
		// Integer division truncates toward zero; floor it so month stays
		// in 1..12 for year-zero inputs.
		year = (months - 11) / 12
		month = months - year*12 + 1
	}
	return Date{Year: year, Month: month}.WithDayClamped(d.Day)
}

// AddYears shifts the date by n years, clamping Feb 29 as needed.
func (d Date) AddYears(n int) Date {
	return Date{Year: d.Year + n, Month: d.Month}.WithDayClamped(d.Day)
}

// MarshalJSON encodes the date as "2006-01-02".
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes "2006-01-02"; null and "" yield the zero Date.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*d = Date{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("%w: %s", ErrInvalidDate, s)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
