package schedule

import (
	"errors"
	"testing"
)

func TestParseDate(t *testing.T) {
	t.Parallel()
	ok := map[string]Date{
		"01-03-2024": {2024, 3, 1},
		"29-02-2024": {2024, 2, 29},
		" 31-12-1999 ": {1999, 12, 31},
	}
	for in, want := range ok {
		got, err := ParseDate(in)
		if err != nil {
			t.Fatalf("ParseDate(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseDate(%q) = %+v, want %+v", in, got, want)
		}
	}
	bad := []string{"", "1-3", "01/03/2024", "aa-03-2024", "01-13-2024", "00-01-2024",
		"29-02-2023", "31-04-2024", "01-03-24", "+1-03-2024", "01--3-2024", "99999999999-01-2024"}
	for _, in := range bad {
		if _, err := ParseDate(in); !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("ParseDate(%q) err = %v, want ErrInvalidDate", in, err)
		}
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()
	got, err := ParseClock("09:05")
	if err != nil || got != (ClockTime{Hour: 9, Minute: 5}) {
		t.Fatalf("ParseClock = %+v, %v", got, err)
	}
	if got.String() != "09:05" {
		t.Fatalf("String = %q", got.String())
	}
	for _, in := range []string{"", "9", "24:00", "12:60", "ab:cd", "-1:00", "12:00:00"} {
		if _, err := ParseClock(in); !errors.Is(err, ErrInvalidClock) {
			t.Fatalf("ParseClock(%q) err = %v, want ErrInvalidClock", in, err)
		}
	}
}

func TestParseKey(t *testing.T) {
	t.Parallel()
	k, err := ParseKey("of:0000000000000001/p1")
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if k.Source != "of:0000000000000001" || k.Name != "p1" {
		t.Fatalf("unexpected key %+v", k)
	}
	if k.String() != "of:0000000000000001/p1" {
		t.Fatalf("String = %q", k.String())
	}
	for _, in := range []string{"", "devA", "/p1", "devA/"} {
		if _, err := ParseKey(in); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("ParseKey(%q) err = %v", in, err)
		}
	}
}
