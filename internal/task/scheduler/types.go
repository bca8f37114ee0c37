package scheduler

import (
	"context"
	"errors"
	"time"

	"pathsched/internal/schedule"
	"pathsched/internal/storage"
	"pathsched/internal/task/engine"
)

var (
	ErrDuplicate       = errors.New("schedule already exists")
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrKeyMismatch     = errors.New("key does not match path request")
	ErrNoLifecycle     = errors.New("lifecycle hooks not configured")
	ErrConflict        = errors.New("schedule kept changing concurrently")
)

// Config controls the ScheduleEngine.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local

	// StoreTimeout bounds every store call.
	StoreTimeout time.Duration
	// TeardownRetry is the delay before retrying a failed teardown.
	TeardownRetry time.Duration
	// ReconcileEvery is the period of the leader's reconcile scan.
	ReconcileEvery time.Duration
	// TaskTimeout bounds one fire callback attempt (0: engine default).
	TaskTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.TeardownRetry <= 0 {
		c.TeardownRetry = time.Minute
	}
	if c.ReconcileEvery <= 0 {
		c.ReconcileEvery = 30 * time.Second
	}
	return c
}

// Lifecycle performs the external work of a fire. Implementations must be
// idempotent: a retried Setup for a path that already exists returns the
// existing tunnel; a retried Teardown for a released path succeeds.
type Lifecycle interface {
	Setup(ctx context.Context, key schedule.Key, rec schedule.Record) (schedule.TunnelID, error)
	Teardown(ctx context.Context, key schedule.Key, rec schedule.Record) error
}

// Store is the subset of the ScheduleStore the engine needs. Every write is
// conditional on the version last loaded, so nodes sharing one store never
// overwrite each other's transitions.
type Store interface {
	LoadSchedule(ctx context.Context, k schedule.Key) (storage.Versioned, bool, error)
	CreateSchedule(ctx context.Context, r schedule.Record) (bool, error)
	SwapSchedule(ctx context.Context, old storage.Versioned, r schedule.Record) (storage.Versioned, bool, error)
	RemoveScheduleIf(ctx context.Context, old storage.Versioned) (bool, error)
	GetSchedule(ctx context.Context, k schedule.Key) (schedule.Record, bool, error)
	Schedules(ctx context.Context) ([]schedule.Record, error)
}

// Executor runs fire callbacks. *engine.Service implements it.
type Executor interface {
	Submit(ctx context.Context, t engine.Task) error
}

// Clock abstracts wall time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock is the wall clock.
func RealClock() Clock { return realClock{} }

// ScheduleEvent is the payload of schedule.* events.
type ScheduleEvent struct {
	Key      string          `json:"key"`
	Status   schedule.Status `json:"status"`
	NextFire time.Time       `json:"next_fire,omitempty"`
	TunnelID string          `json:"tunnel_id,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Snapshot is a diagnostics view of the engine.
type Snapshot struct {
	Active   bool
	Timezone string
	Armed    []ArmedTimer
}
