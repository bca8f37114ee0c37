package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidRule = errors.New("invalid repeat rule")

// Pattern names a RepeatRule variant. The string values are part of the
// persisted encoding.
type Pattern string

const (
	PatternOnce    Pattern = "ONCE"
	PatternDaily   Pattern = "DAILY"
	PatternWeekly  Pattern = "WEEKLY"
	PatternMonthly Pattern = "MONTHLY"
)

func ParsePattern(s string) (Pattern, error) {
	p := Pattern(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PatternOnce, PatternDaily, PatternWeekly, PatternMonthly:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown pattern %q", ErrInvalidRule, s)
}

// RepeatRule is the calendar pattern of a schedule. The set of variants is
// closed: Once, Daily, Weekly and Monthly.
//
// Next follows cron.Schedule semantics: it returns the first occurrence
// strictly after t, or the zero time when the rule has no further occurrence.
// All arithmetic happens in t's location.
type RepeatRule interface {
	cron.Schedule

	Pattern() Pattern
	// First returns the first fire instant for a schedule starting on start.
	First(start Date, loc *time.Location) time.Time
	Validate() error

	isRepeatRule()
}

// Once fires a single time on the start date.
type Once struct {
	At ClockTime
}

// Daily fires every day at At, starting on the start date.
type Daily struct {
	At ClockTime
}

// Weekly fires every week on Weekday (ISO: 1=Monday .. 7=Sunday) at At.
type Weekly struct {
	At      ClockTime
	Weekday int
}

// Monthly fires every month on Day at At. Months shorter than Day fire on
// their last day; the following month uses Day again.
type Monthly struct {
	Day int
	At  ClockTime
}

var (
	_ RepeatRule = Once{}
	_ RepeatRule = Daily{}
	_ RepeatRule = Weekly{}
	_ RepeatRule = Monthly{}
)

func (Once) isRepeatRule()    {}
func (Daily) isRepeatRule()   {}
func (Weekly) isRepeatRule()  {}
func (Monthly) isRepeatRule() {}

func (Once) Pattern() Pattern    { return PatternOnce }
func (Daily) Pattern() Pattern   { return PatternDaily }
func (Weekly) Pattern() Pattern  { return PatternWeekly }
func (Monthly) Pattern() Pattern { return PatternMonthly }

func (r Once) Validate() error {
	if !r.At.Valid() {
		return fmt.Errorf("%w: once time %s", ErrInvalidRule, r.At)
	}
	return nil
}

func (r Daily) Validate() error {
	if !r.At.Valid() {
		return fmt.Errorf("%w: daily time %s", ErrInvalidRule, r.At)
	}
	return nil
}

func (r Weekly) Validate() error {
	if !r.At.Valid() {
		return fmt.Errorf("%w: weekly time %s", ErrInvalidRule, r.At)
	}
	if r.Weekday < 1 || r.Weekday > 7 {
		return fmt.Errorf("%w: weekday %d not in 1..7", ErrInvalidRule, r.Weekday)
	}
	return nil
}

func (r Monthly) Validate() error {
	if !r.At.Valid() {
		return fmt.Errorf("%w: monthly time %s", ErrInvalidRule, r.At)
	}
	if r.Day < 1 || r.Day > 31 {
		return fmt.Errorf("%w: day of month %d not in 1..31", ErrInvalidRule, r.Day)
	}
	return nil
}

func (r Once) First(start Date, loc *time.Location) time.Time  { return start.At(r.At, loc) }
func (r Daily) First(start Date, loc *time.Location) time.Time { return start.At(r.At, loc) }

func (r Weekly) First(start Date, loc *time.Location) time.Time {
	t := start.At(r.At, loc)
	diff := (int(ISOWeekday(r.Weekday)) - int(t.Weekday()) + 7) % 7
	return atDay(t, diff, r.At)
}

func (r Monthly) First(start Date, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m := start.Year, start.Month
	if clampDay(y, m, r.Day) < start.Day {
		y, m = addMonth(y, m)
	}
	return time.Date(y, m, clampDay(y, m, r.Day), r.At.Hour, r.At.Minute, 0, 0, loc)
}

// Next of a Once rule is always the zero time.
func (r Once) Next(time.Time) time.Time { return time.Time{} }

func (r Daily) Next(t time.Time) time.Time {
	c := atDay(t, 0, r.At)
	if !c.After(t) {
		c = atDay(t, 1, r.At)
	}
	return c
}

func (r Weekly) Next(t time.Time) time.Time {
	diff := (int(ISOWeekday(r.Weekday)) - int(t.Weekday()) + 7) % 7
	c := atDay(t, diff, r.At)
	if !c.After(t) {
		c = atDay(t, diff+7, r.At)
	}
	return c
}

func (r Monthly) Next(t time.Time) time.Time {
	y, m, _ := t.Date()
	c := time.Date(y, m, clampDay(y, m, r.Day), r.At.Hour, r.At.Minute, 0, 0, t.Location())
	if !c.After(t) {
		y, m = addMonth(y, m)
		c = time.Date(y, m, clampDay(y, m, r.Day), r.At.Hour, r.At.Minute, 0, 0, t.Location())
	}
	return c
}

// NextAfter returns the first occurrence of r strictly after both prev and
// now. Missed occurrences are skipped. The zero time means the rule is
// exhausted.
func NextAfter(r RepeatRule, prev, now time.Time) time.Time {
	next := r.Next(prev)
	for !next.IsZero() && !next.After(now) {
		next = r.Next(next)
	}
	return next
}

// ISOWeekday converts ISO numbering (1=Monday .. 7=Sunday) to time.Weekday.
func ISOWeekday(n int) time.Weekday { return time.Weekday(n % 7) }

// WeekdayISO converts time.Weekday to ISO numbering.
func WeekdayISO(w time.Weekday) int {
	if w == time.Sunday {
		return 7
	}
	return int(w)
}

// atDay returns t's calendar date plus days, at c, in t's location.
func atDay(t time.Time, days int, c ClockTime) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+days, c.Hour, c.Minute, 0, 0, t.Location())
}

func clampDay(year int, m time.Month, day int) int {
	if n := daysIn(year, m); day > n {
		return n
	}
	return day
}

func addMonth(y int, m time.Month) (int, time.Month) {
	if m == time.December {
		return y + 1, time.January
	}
	return y, m + 1
}
