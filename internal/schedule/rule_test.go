package schedule

import (
	"testing"
	"time"
)

func mustDate(t *testing.T, s string) Date {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q): %v", s, err)
	}
	return d
}

func TestFirstFire(t *testing.T) {
	t.Parallel()
	loc := time.UTC
	nine := ClockTime{Hour: 9}

	tests := []struct {
		name  string
		rule  RepeatRule
		start string
		want  time.Time
	}{
		{"once", Once{At: nine}, "01-03-2024", time.Date(2024, 3, 1, 9, 0, 0, 0, loc)},
		{"daily", Daily{At: nine}, "01-03-2024", time.Date(2024, 3, 1, 9, 0, 0, 0, loc)},
		// 01-03-2024 is a Friday.
		{"weekly same day", Weekly{At: nine, Weekday: 5}, "01-03-2024", time.Date(2024, 3, 1, 9, 0, 0, 0, loc)},
		{"weekly monday", Weekly{At: nine, Weekday: 1}, "01-03-2024", time.Date(2024, 3, 4, 9, 0, 0, 0, loc)},
		{"weekly sunday", Weekly{Weekday: 7}, "01-03-2024", time.Date(2024, 3, 3, 0, 0, 0, 0, loc)},
		{"monthly this month", Monthly{Day: 15, At: nine}, "01-03-2024", time.Date(2024, 3, 15, 9, 0, 0, 0, loc)},
		{"monthly start day", Monthly{Day: 1}, "01-03-2024", time.Date(2024, 3, 1, 0, 0, 0, 0, loc)},
		{"monthly passed", Monthly{Day: 5}, "10-03-2024", time.Date(2024, 4, 5, 0, 0, 0, 0, loc)},
		{"monthly clamp", Monthly{Day: 31}, "01-04-2024", time.Date(2024, 4, 30, 0, 0, 0, 0, loc)},
		{"monthly december rollover", Monthly{Day: 2}, "20-12-2024", time.Date(2025, 1, 2, 0, 0, 0, 0, loc)},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := tc.rule.First(mustDate(t, tc.start), loc)
			if !got.Equal(tc.want) {
				t.Fatalf("First = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOnceHasNoNext(t *testing.T) {
	t.Parallel()
	r := Once{At: ClockTime{Hour: 9}}
	first := r.First(mustDate(t, "01-03-2024"), time.UTC)
	if next := r.Next(first); !next.IsZero() {
		t.Fatalf("Once.Next = %v, want zero", next)
	}
	if next := NextAfter(r, first, first.Add(-time.Hour)); !next.IsZero() {
		t.Fatalf("NextAfter(Once) = %v, want zero", next)
	}
}

func TestWeeklyAlwaysOnWeekday(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	for wd := 1; wd <= 7; wd++ {
		r := Weekly{At: ClockTime{Hour: 2, Minute: 30}, Weekday: wd}
		fire := r.First(mustDate(t, "27-02-2024"), loc)
		for i := 0; i < 60; i++ {
			if got := WeekdayISO(fire.Weekday()); got != wd {
				t.Fatalf("weekday %d: fire %v falls on %d", wd, fire, got)
			}
			next := r.Next(fire)
			y1, m1, d1 := fire.Date()
			gap := time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, time.UTC).
				Sub(time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC))
			if gap != 7*24*time.Hour {
				t.Fatalf("weekday %d: calendar gap %v between %v and %v", wd, gap, fire, next)
			}
			if next.Hour() != r.At.Hour && !isDSTGap(next) {
				t.Fatalf("weekday %d: wall clock drifted %v -> %v", wd, fire, next)
			}
			fire = next
		}
	}
}

// isDSTGap reports whether t was normalized out of a spring-forward gap.
func isDSTGap(t time.Time) bool {
	return t.Hour() == 3 && t.Month() == time.March
}

func TestDailySpacing(t *testing.T) {
	t.Parallel()
	r := Daily{At: ClockTime{Hour: 23, Minute: 59}}
	fire := r.First(mustDate(t, "28-02-2024"), time.UTC)
	want := []string{"29-02-2024", "01-03-2024", "02-03-2024"}
	for _, w := range want {
		fire = r.Next(fire)
		if got := DateOf(fire).String(); got != w {
			t.Fatalf("next daily = %s, want %s", got, w)
		}
		if fire.Hour() != 23 || fire.Minute() != 59 {
			t.Fatalf("time drifted: %v", fire)
		}
	}
}

func TestMonthlyClampReappliesDay(t *testing.T) {
	t.Parallel()
	r := Monthly{Day: 31, At: ClockTime{Hour: 9}}
	fire := r.First(mustDate(t, "01-01-2024"), time.UTC)
	want := []string{"31-01-2024", "29-02-2024", "31-03-2024", "30-04-2024", "31-05-2024"}
	for i, w := range want {
		if got := DateOf(fire).String(); got != w {
			t.Fatalf("occurrence %d = %s, want %s", i, got, w)
		}
		fire = r.Next(fire)
	}
}

func TestMonthlyClampInThirtyDayMonth(t *testing.T) {
	t.Parallel()
	r := Monthly{Day: 31}
	fire := r.First(mustDate(t, "15-06-2024"), time.UTC)
	if got := DateOf(fire).String(); got != "30-06-2024" {
		t.Fatalf("fire = %s, want 30-06-2024 (clamped), not 01-07-2024", got)
	}
}

func TestNextAfterSkipsMissed(t *testing.T) {
	t.Parallel()
	r := Daily{At: ClockTime{Hour: 9}}
	prev := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	got := NextAfter(r, prev, now)
	want := time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextAfter = %v, want %v", got, want)
	}
}

func TestRuleValidate(t *testing.T) {
	t.Parallel()
	bad := []RepeatRule{
		Once{At: ClockTime{Hour: 24}},
		Daily{At: ClockTime{Minute: 60}},
		Weekly{Weekday: 0},
		Weekly{Weekday: 8},
		Monthly{Day: 0},
		Monthly{Day: 32},
	}
	for _, r := range bad {
		if err := r.Validate(); err == nil {
			t.Fatalf("%#v: expected validation error", r)
		}
	}
	if err := (Monthly{Day: 31, At: ClockTime{Hour: 23, Minute: 59}}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
