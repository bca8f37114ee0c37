package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pathsched/internal/schedule"
	"pathsched/internal/storage"
	"pathsched/internal/task/engine"
	logx "pathsched/pkg/logx"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock and runs every due timer in instant order,
// including timers armed by the callbacks themselves.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(c.now) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.mu.Unlock()
		next.f()
	}
}

// syncExec runs tasks inline once.
type syncExec struct {
	mu   sync.Mutex
	errs []error
}

func (e *syncExec) Submit(ctx context.Context, t engine.Task) error {
	err := t.Run(ctx)
	if err != nil {
		e.mu.Lock()
		e.errs = append(e.errs, err)
		e.mu.Unlock()
	}
	return nil
}

type fakeHooks struct {
	mu          sync.Mutex
	setups      int
	teardowns   int
	setupErr    error
	teardownErr error
	released    []schedule.TunnelID
}

func (h *fakeHooks) Setup(_ context.Context, _ schedule.Key, _ schedule.Record) (schedule.TunnelID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setups++
	if h.setupErr != nil {
		return "", h.setupErr
	}
	return schedule.TunnelID(fmt.Sprintf("tun-%d", h.setups)), nil
}

func (h *fakeHooks) Teardown(_ context.Context, _ schedule.Key, rec schedule.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teardowns++
	if h.teardownErr != nil {
		return h.teardownErr
	}
	h.released = append(h.released, rec.TunnelID)
	return nil
}

func (h *fakeHooks) set(setupErr, teardownErr error) {
	h.mu.Lock()
	h.setupErr, h.teardownErr = setupErr, teardownErr
	h.mu.Unlock()
}

func (h *fakeHooks) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setups, h.teardowns
}

var (
	errCollaborator = errors.New("pce unreachable")
	errStoreDown    = errors.New("store unavailable")
)

// interceptStore runs a callback once, right before the next conditional
// remove or create reaches the shared store. It stands in for another node
// writing in between.
type interceptStore struct {
	Store
	beforeRemove func()
	beforeCreate func()
}

func (s *interceptStore) RemoveScheduleIf(ctx context.Context, old storage.Versioned) (bool, error) {
	if f := s.beforeRemove; f != nil {
		s.beforeRemove = nil
		f()
	}
	return s.Store.RemoveScheduleIf(ctx, old)
}

func (s *interceptStore) CreateSchedule(ctx context.Context, r schedule.Record) (bool, error) {
	if f := s.beforeCreate; f != nil {
		s.beforeCreate = nil
		f()
	}
	return s.Store.CreateSchedule(ctx, r)
}

// churnStore loses every conditional remove, as if another node rewrote the
// record each time.
type churnStore struct {
	Store
	removes int
}

func (s *churnStore) RemoveScheduleIf(ctx context.Context, old storage.Versioned) (bool, error) {
	s.removes++
	return false, nil
}

// flakySwapStore fails the first n swaps.
type flakySwapStore struct {
	Store
	mu sync.Mutex
	n  int
}

func (s *flakySwapStore) SwapSchedule(ctx context.Context, old storage.Versioned, r schedule.Record) (storage.Versioned, bool, error) {
	s.mu.Lock()
	if s.n > 0 {
		s.n--
		s.mu.Unlock()
		return storage.Versioned{}, false, errStoreDown
	}
	s.mu.Unlock()
	return s.Store.SwapSchedule(ctx, old, r)
}

// gateHooks holds every callback for hold and records the highest number of
// callbacks seen in flight for a single key. Setup is idempotent per key.
type gateHooks struct {
	hold time.Duration

	mu        sync.Mutex
	inFlight  map[schedule.Key]int
	peak      int
	setups    int
	teardowns int
	created   int
	live      map[schedule.Key]schedule.TunnelID
}

func newGateHooks(hold time.Duration) *gateHooks {
	return &gateHooks{
		hold:     hold,
		inFlight: map[schedule.Key]int{},
		live:     map[schedule.Key]schedule.TunnelID{},
	}
}

func (h *gateHooks) enter(key schedule.Key) func() {
	h.mu.Lock()
	h.inFlight[key]++
	if h.inFlight[key] > h.peak {
		h.peak = h.inFlight[key]
	}
	h.mu.Unlock()
	time.Sleep(h.hold)
	return func() {
		h.mu.Lock()
		h.inFlight[key]--
		h.mu.Unlock()
	}
}

func (h *gateHooks) Setup(_ context.Context, key schedule.Key, _ schedule.Record) (schedule.TunnelID, error) {
	defer h.enter(key)()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setups++
	if tid, ok := h.live[key]; ok {
		return tid, nil
	}
	h.created++
	tid := schedule.TunnelID(fmt.Sprintf("tun-%d", h.created))
	h.live[key] = tid
	return tid, nil
}

func (h *gateHooks) Teardown(_ context.Context, key schedule.Key, rec schedule.Record) error {
	defer h.enter(key)()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teardowns++
	if h.live[key] == rec.TunnelID {
		delete(h.live, key)
	}
	return nil
}

// hookFunc runs onSetup before delegating each Setup.
type hookFunc struct {
	Lifecycle
	onSetup func()
}

func (h hookFunc) Setup(ctx context.Context, key schedule.Key, rec schedule.Record) (schedule.TunnelID, error) {
	if h.onSetup != nil {
		h.onSetup()
	}
	return h.Lifecycle.Setup(ctx, key, rec)
}

// countingExec is a real engine that counts accepted submissions.
type countingExec struct {
	*engine.Service
	submitted atomic.Uint64
}

func (e *countingExec) Submit(ctx context.Context, t engine.Task) error {
	err := e.Service.Submit(ctx, t)
	if err == nil {
		e.submitted.Add(1)
	}
	return err
}

// drained reports whether every accepted task has finished or failed.
func (e *countingExec) drained() bool {
	snap := e.Snapshot()
	return snap.Finished+snap.Failed == e.submitted.Load()
}

func newEngine(t *testing.T, cfg engine.Config) *countingExec {
	t.Helper()
	eng := engine.New(cfg, logx.Nop(), nil)
	eng.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		eng.Stop(ctx)
	})
	return &countingExec{Service: eng}
}

type harness struct {
	svc   *Service
	clock *fakeClock
	hooks *fakeHooks
	exec  *syncExec
	store *storage.Store
}

func newHarness(t *testing.T, now time.Time, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock: newFakeClock(now),
		hooks: &fakeHooks{},
		exec:  &syncExec{},
		store: storage.New(storage.NewMemory(), logx.Nop()),
	}
	opts = append([]Option{WithClock(h.clock), WithLifecycle(h.hooks)}, opts...)
	h.svc = New(Config{Timezone: "UTC", ReconcileEvery: time.Hour}, h.store, h.exec, logx.Nop(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.svc.Deactivate(ctx)
	})
	return h
}

func (h *harness) get(t *testing.T, key schedule.Key) (schedule.Record, bool) {
	t.Helper()
	rec, ok, err := h.store.GetSchedule(context.Background(), key)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	return rec, ok
}

func pathSpec(name string) schedule.PathRequestSpec {
	return schedule.PathRequestSpec{
		Source:      "of:0000000000000001",
		Destination: "of:0000000000000005",
		Name:        name,
		Constraints: []schedule.Constraint{schedule.CostConstraint(schedule.CostTE)},
		Mode:        schedule.WithSignalling,
	}
}

func clockAt(hour, min int) schedule.ClockTime { return schedule.ClockTime{Hour: hour, Minute: min} }

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}
