package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"pathsched/internal/schedule"
	"pathsched/internal/task/scheduler"
)

// ValidationError rejects a request before any state is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return "invalid " + e.Field + ": " + e.Reason
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// SetupRequest is a scheduled path setup as it arrives from the CLI or RPC.
// Daily and Once carry their own time of day. Weekly and Monthly are mutually
// exclusive and take the time of day from At, or from Daily or Once when the
// caller uses that field instead (default 00:00).
type SetupRequest struct {
	Source          string  `json:"source"`
	Destination     string  `json:"destination"`
	Mode            int     `json:"mode"`
	Name            string  `json:"name"`
	StartDate       string  `json:"start_date"`
	DurationMinutes int     `json:"duration_minutes"`
	Cost            int     `json:"cost,omitempty"`
	Bandwidth       float64 `json:"bandwidth,omitempty"`

	Daily   string `json:"daily,omitempty"`
	Weekly  int    `json:"weekly,omitempty"`
	Monthly int    `json:"monthly,omitempty"`
	Once    string `json:"once,omitempty"`
	At      string `json:"at,omitempty"`
}

// accepted is a validated SetupRequest.
type accepted struct {
	key      schedule.Key
	start    schedule.Date
	rule     schedule.RepeatRule
	duration int
	spec     schedule.PathRequestSpec
}

func (r SetupRequest) validate() (accepted, error) {
	var a accepted

	src := strings.TrimSpace(r.Source)
	dst := strings.TrimSpace(r.Destination)
	name := strings.TrimSpace(r.Name)
	if src == "" {
		return a, invalid("source", "required")
	}
	if dst == "" {
		return a, invalid("destination", "required")
	}
	if name == "" {
		return a, invalid("name", "required")
	}
	if strings.Contains(src, "/") {
		return a, invalid("source", "must not contain '/'")
	}

	mode := schedule.LspType(r.Mode)
	if !mode.Valid() {
		return a, invalid("mode", "%d not in 0..2", r.Mode)
	}

	cost := schedule.CostTE
	if r.Cost != 0 {
		cost = schedule.CostType(r.Cost)
		if !cost.Valid() {
			return a, invalid("cost", "%d not in 1..2", r.Cost)
		}
	}
	if r.Bandwidth < 0 {
		return a, invalid("bandwidth", "must not be negative")
	}

	start, err := schedule.ParseDate(r.StartDate)
	if err != nil {
		return a, invalid("start_date", "%v", err)
	}
	if r.DurationMinutes <= 0 {
		return a, invalid("duration_minutes", "must be positive")
	}

	rule, err := r.rule()
	if err != nil {
		return a, err
	}

	constraints := make([]schedule.Constraint, 0, 2)
	if r.Bandwidth != 0 {
		constraints = append(constraints, schedule.BandwidthConstraint(r.Bandwidth))
	}
	constraints = append(constraints, schedule.CostConstraint(cost))

	a.spec = schedule.PathRequestSpec{
		Source:      schedule.EndpointID(src),
		Destination: schedule.EndpointID(dst),
		Name:        name,
		Constraints: constraints,
		Mode:        mode,
	}
	a.key = a.spec.Key()
	a.start = start
	a.rule = rule
	a.duration = r.DurationMinutes
	return a, nil
}

func (r SetupRequest) rule() (schedule.RepeatRule, error) {
	if r.Weekly != 0 && r.Monthly != 0 {
		return nil, invalid("repeat", "only one of weekly or monthly may be set")
	}
	clocks := map[string]string{}
	for field, v := range map[string]string{"daily": r.Daily, "once": r.Once, "at": r.At} {
		if v != "" {
			clocks[field] = v
		}
	}

	if r.Weekly == 0 && r.Monthly == 0 {
		switch {
		case r.At != "":
			return nil, invalid("at", "only used with weekly or monthly")
		case len(clocks) == 0:
			return nil, invalid("repeat", "one of daily, weekly, monthly or once is required")
		case len(clocks) > 1:
			return nil, invalid("repeat", "only one of daily or once may be set")
		}
		if r.Daily != "" {
			c, err := schedule.ParseClock(r.Daily)
			if err != nil {
				return nil, invalid("daily", "%v", err)
			}
			return schedule.Daily{At: c}, nil
		}
		c, err := schedule.ParseClock(r.Once)
		if err != nil {
			return nil, invalid("once", "%v", err)
		}
		return schedule.Once{At: c}, nil
	}

	// Weekly and monthly take their time of day from whichever of at, daily
	// or once is given.
	at := schedule.ClockTime{}
	if len(clocks) > 1 {
		return nil, invalid("at", "time of day given more than once")
	}
	for field, v := range clocks {
		c, err := schedule.ParseClock(v)
		if err != nil {
			return nil, invalid(field, "%v", err)
		}
		at = c
	}

	var (
		rule  schedule.RepeatRule
		field string
	)
	if r.Weekly != 0 {
		rule, field = schedule.Weekly{At: at, Weekday: r.Weekly}, "weekly"
	} else {
		rule, field = schedule.Monthly{Day: r.Monthly, At: at}, "monthly"
	}
	if err := rule.Validate(); err != nil {
		return nil, invalid(field, "%v", err)
	}
	return rule, nil
}

// asValidation converts engine rejections into validation errors.
func asValidation(err error) error {
	switch {
	case errors.Is(err, scheduler.ErrDuplicate):
		return invalid("name", "%v", err)
	case errors.Is(err, scheduler.ErrInvalidDuration):
		return invalid("duration_minutes", "%v", err)
	case errors.Is(err, schedule.ErrInvalidRule):
		return invalid("repeat", "%v", err)
	case errors.Is(err, schedule.ErrInvalidDate):
		return invalid("start_date", "%v", err)
	case errors.Is(err, schedule.ErrInvalidKey), errors.Is(err, scheduler.ErrKeyMismatch):
		return invalid("name", "%v", err)
	}
	return err
}
