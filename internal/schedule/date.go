package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidDate  = errors.New("invalid date")
	ErrInvalidClock = errors.New("invalid time")
)

// Date is a civil calendar date without a location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

// String renders the date as dd-mm-yyyy.
func (d Date) String() string {
	return fmt.Sprintf("%02d-%02d-%04d", d.Day, int(d.Month), d.Year)
}

// At combines the date with a clock time in loc.
func (d Date) At(c ClockTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, loc)
}

// ParseDate parses a dd-mm-yyyy date. Malformed numbers and dates that do not
// exist (31-04-2024) are rejected with ErrInvalidDate.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "-")
	if len(parts) != 3 || len(parts[2]) != 4 {
		return Date{}, fmt.Errorf("%w %q, expected dd-mm-yyyy", ErrInvalidDate, s)
	}
	day, err := atoiStrict(parts[0])
	if err != nil {
		return Date{}, fmt.Errorf("%w: bad day in %q", ErrInvalidDate, s)
	}
	month, err := atoiStrict(parts[1])
	if err != nil || month < 1 || month > 12 {
		return Date{}, fmt.Errorf("%w: bad month in %q", ErrInvalidDate, s)
	}
	year, err := atoiStrict(parts[2])
	if err != nil || year < 1 {
		return Date{}, fmt.Errorf("%w: bad year in %q", ErrInvalidDate, s)
	}
	if day < 1 || day > daysIn(year, time.Month(month)) {
		return Date{}, fmt.Errorf("%w: day %d out of range in %q", ErrInvalidDate, day, s)
	}
	return Date{Year: year, Month: time.Month(month), Day: day}, nil
}

// ClockTime is a wall-clock time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c ClockTime) Valid() bool {
	return c.Hour >= 0 && c.Hour <= 23 && c.Minute >= 0 && c.Minute <= 59
}

// ParseClock parses HH:MM (24h).
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("%w %q, expected HH:MM", ErrInvalidClock, s)
	}
	h, err := atoiStrict(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("%w: bad hour in %q", ErrInvalidClock, s)
	}
	m, err := atoiStrict(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("%w: bad minute in %q", ErrInvalidClock, s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// atoiStrict accepts only ASCII digits (no sign, no spaces).
func atoiStrict(s string) (int, error) {
	if s == "" || len(s) > 9 {
		return 0, strconv.ErrSyntax
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}

func daysIn(year int, m time.Month) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
