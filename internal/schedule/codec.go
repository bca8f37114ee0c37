package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Tag is the stable encoding tag of a persisted type. The tags double as the
// names of the store collections.
type Tag string

const (
	TagSchedule   Tag = "schedule-path-info"
	TagFailedPath Tag = "failed-path-info"
	TagTunnelInfo Tag = "tunnel-info"
)

// Current encoding versions. Decoders accept any version up to these.
const (
	ScheduleVersion   = 1
	FailedPathVersion = 1
	TunnelInfoVersion = 1
)

var (
	ErrUnknownTag         = errors.New("unknown encoding tag")
	ErrUnsupportedVersion = errors.New("unsupported encoding version")
)

type envelope struct {
	Type Tag             `json:"type"`
	V    int             `json:"v"`
	Data json.RawMessage `json:"data"`
}

func supportedVersion(t Tag) (int, bool) {
	switch t {
	case TagSchedule:
		return ScheduleVersion, true
	case TagFailedPath:
		return FailedPathVersion, true
	case TagTunnelInfo:
		return TunnelInfoVersion, true
	}
	return 0, false
}

func seal(t Tag, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	ver, _ := supportedVersion(t)
	return json.Marshal(envelope{Type: t, V: ver, Data: data})
}

func open(want Tag, b []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	maxV, ok := supportedVersion(env.Type)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTag, env.Type)
	}
	if env.Type != want {
		return nil, fmt.Errorf("%w %q, expected %q", ErrUnknownTag, env.Type, want)
	}
	if env.V < 1 || env.V > maxV {
		return nil, fmt.Errorf("%w: %s v%d (max v%d)", ErrUnsupportedVersion, env.Type, env.V, maxV)
	}
	return env.Data, nil
}

// RuleSpec is the flat wire form of a RepeatRule. Only the fields meaningful
// for Pattern are set.
type RuleSpec struct {
	Pattern Pattern `json:"pattern"`
	Time    string  `json:"time,omitempty"`
	Weekday int     `json:"weekday,omitempty"`
	Day     int     `json:"day,omitempty"`
}

func SpecOf(r RepeatRule) RuleSpec {
	switch v := r.(type) {
	case Once:
		return RuleSpec{Pattern: PatternOnce, Time: v.At.String()}
	case Daily:
		return RuleSpec{Pattern: PatternDaily, Time: v.At.String()}
	case Weekly:
		return RuleSpec{Pattern: PatternWeekly, Time: v.At.String(), Weekday: v.Weekday}
	case Monthly:
		return RuleSpec{Pattern: PatternMonthly, Time: v.At.String(), Day: v.Day}
	default:
		return RuleSpec{}
	}
}

// Rule builds and validates the RepeatRule described by s. A missing time
// means 00:00.
func (s RuleSpec) Rule() (RepeatRule, error) {
	at := ClockTime{}
	if s.Time != "" {
		c, err := ParseClock(s.Time)
		if err != nil {
			return nil, err
		}
		at = c
	}
	pattern, err := ParsePattern(string(s.Pattern))
	if err != nil {
		return nil, err
	}
	var r RepeatRule
	switch pattern {
	case PatternOnce:
		r = Once{At: at}
	case PatternDaily:
		r = Daily{At: at}
	case PatternWeekly:
		r = Weekly{At: at, Weekday: s.Weekday}
	case PatternMonthly:
		r = Monthly{Day: s.Day, At: at}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

type recordWire struct {
	StartDate       string          `json:"start_date"`
	Rule            RuleSpec        `json:"rule"`
	DurationMinutes int             `json:"duration_minutes"`
	PathRequest     PathRequestSpec `json:"path_request"`
	Status          Status          `json:"status"`
	NextFire        *time.Time      `json:"next_fire,omitempty"`
	TeardownAt      *time.Time      `json:"teardown_at,omitempty"`
	TunnelID        TunnelID        `json:"tunnel_id,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	Failures        int             `json:"failures,omitempty"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func EncodeRecord(r Record) ([]byte, error) {
	if r.Rule == nil {
		return nil, fmt.Errorf("encode %s: %w: nil rule", TagSchedule, ErrInvalidRule)
	}
	return seal(TagSchedule, recordWire{
		StartDate:       r.StartDate.String(),
		Rule:            SpecOf(r.Rule),
		DurationMinutes: r.DurationMinutes,
		PathRequest:     r.PathRequest,
		Status:          r.Status,
		NextFire:        timePtr(r.NextFire),
		TeardownAt:      timePtr(r.TeardownAt),
		TunnelID:        r.TunnelID,
		LastError:       r.LastError,
		Failures:        r.Failures,
		UpdatedAt:       timePtr(r.UpdatedAt),
	})
}

func DecodeRecord(b []byte) (Record, error) {
	data, err := open(TagSchedule, b)
	if err != nil {
		return Record{}, err
	}
	var w recordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", TagSchedule, err)
	}
	start, err := ParseDate(w.StartDate)
	if err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", TagSchedule, err)
	}
	rule, err := w.Rule.Rule()
	if err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", TagSchedule, err)
	}
	switch w.Status {
	case StatusScheduled, StatusActive, StatusTerminated:
	default:
		return Record{}, fmt.Errorf("decode %s: unknown status %q", TagSchedule, w.Status)
	}
	return Record{
		StartDate:       start,
		Rule:            rule,
		DurationMinutes: w.DurationMinutes,
		PathRequest:     w.PathRequest,
		Status:          w.Status,
		NextFire:        derefTime(w.NextFire),
		TeardownAt:      derefTime(w.TeardownAt),
		TunnelID:        w.TunnelID,
		LastError:       w.LastError,
		Failures:        w.Failures,
		UpdatedAt:       derefTime(w.UpdatedAt),
	}, nil
}

func EncodeFailedPath(f FailedPathRecord) ([]byte, error) { return seal(TagFailedPath, f) }

func DecodeFailedPath(b []byte) (FailedPathRecord, error) {
	data, err := open(TagFailedPath, b)
	if err != nil {
		return FailedPathRecord{}, err
	}
	var f FailedPathRecord
	if err := json.Unmarshal(data, &f); err != nil {
		return FailedPathRecord{}, fmt.Errorf("decode %s: %w", TagFailedPath, err)
	}
	return f, nil
}

type tunnelInfoWire struct {
	Consumer ConsumerID `json:"consumer"`
}

func EncodeConsumer(c ConsumerID) ([]byte, error) {
	return seal(TagTunnelInfo, tunnelInfoWire{Consumer: c})
}

func DecodeConsumer(b []byte) (ConsumerID, error) {
	data, err := open(TagTunnelInfo, b)
	if err != nil {
		return "", err
	}
	var w tunnelInfoWire
	if err := json.Unmarshal(data, &w); err != nil {
		return "", fmt.Errorf("decode %s: %w", TagTunnelInfo, err)
	}
	return w.Consumer, nil
}
