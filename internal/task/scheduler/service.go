package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pathsched/internal/eventbus"
	"pathsched/internal/metrics"
	"pathsched/internal/schedule"
	logx "pathsched/pkg/logx"
)

// Service is the ScheduleEngine.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	log     logx.Logger
	bus     eventbus.Bus
	metrics metrics.Sink
	clock   Clock

	store Store
	exec  Executor
	hooks Lifecycle

	active    bool
	runCtx    context.Context
	cancelRun context.CancelFunc
	c         *cron.Cron

	timers *TimerRegistry
	locks  keyLocks
}

type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

func WithMetrics(m metrics.Sink) Option { return func(s *Service) { s.metrics = m } }

func WithLifecycle(h Lifecycle) Option { return func(s *Service) { s.hooks = h } }

func New(cfg Config, store Store, exec Executor, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:   cfg.withDefaults(),
		log:   log,
		store: store,
		exec:  exec,
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.clock == nil {
		s.clock = RealClock()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoopSink()
	}
	s.timers = NewTimerRegistry(s.clock)
	s.loc = s.loadLocationLocked()
	return s
}

// SetLifecycle installs the setup/teardown hooks. The facade owns the hooks and
// is built after the engine, so they are wired late.
func (s *Service) SetLifecycle(h Lifecycle) {
	s.mu.Lock()
	s.hooks = h
	s.mu.Unlock()
}

func (s *Service) lifecycle() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hooks
}

// Apply swaps the runtime config. A timezone change affects instants computed
// afterwards; persisted instants are absolute and stay as they are.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	oldEvery := s.cfg.ReconcileEvery
	s.cfg = cfg
	if strings.TrimSpace(cfg.Timezone) != oldTZ {
		s.loc = s.loadLocationLocked()
	}
	if s.c != nil && (cfg.ReconcileEvery != oldEvery || strings.TrimSpace(cfg.Timezone) != oldTZ) {
		s.c.Stop()
		s.c = s.startCronLocked(s.runCtx)
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location returns the zone calendar rules are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Active reports whether this node currently arms timers.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Activate makes this node the one that fires schedules: it starts the
// periodic reconcile and runs a recovery scan right away. ctx bounds the
// activation; cancelling it has the same effect as Deactivate for new fires.
func (s *Service) Activate(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.active = true
	s.runCtx = runCtx
	s.cancelRun = cancel
	s.c = s.startCronLocked(runCtx)
	tz := s.loc.String()
	s.mu.Unlock()

	s.log.Info("scheduler activated", logx.String("tz", tz))
	return s.Reconcile(runCtx)
}

// Deactivate stops firing on this node. Persisted records are untouched.
func (s *Service) Deactivate(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	c := s.c
	s.c = nil
	cancel := s.cancelRun
	s.cancelRun = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	n := s.timers.DisarmAll()
	s.metrics.ArmedTimers(0)
	s.log.Info("scheduler deactivated", logx.Int("disarmed", n), logx.Duration("took", time.Since(start)))
}

func (s *Service) startCronLocked(ctx context.Context) *cron.Cron {
	every := s.cfg.ReconcileEvery
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: s.log}),
		cron.WithChain(cron.Recover(cronLogger{log: s.log}), cron.SkipIfStillRunning(cronLogger{log: s.log})),
	)
	if _, err := c.AddFunc("@every "+every.String(), func() {
		if err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("periodic reconcile failed", logx.Err(err))
		}
	}); err != nil {
		s.log.Error("failed to register reconcile job", logx.Err(err))
	}
	c.Start()
	return c
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config().StoreTimeout)
}

// arm is a no-op on an inactive node.
func (s *Service) arm(key schedule.Key, slot Slot, at time.Time) {
	if !s.Active() {
		return
	}
	s.timers.Arm(key, slot, at, func() { s.onTimer(key, slot, at) })
	s.log.Debug("timer armed",
		logx.String("key", key.String()),
		logx.String("slot", slot.String()),
		logx.Time("at", at),
	)
}

func (s *Service) emit(typ string, rec schedule.Record, err error) {
	ev := ScheduleEvent{
		Key:      rec.Key().String(),
		Status:   rec.Status,
		NextFire: rec.NextFire,
		TunnelID: string(rec.TunnelID),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	eventbus.Emit(s.bus, typ, ev)
}

// Snapshot returns a diagnostics view.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	active := s.active
	tz := s.loc.String()
	s.mu.Unlock()
	return Snapshot{Active: active, Timezone: tz, Armed: s.timers.List()}
}

// Preview returns up to n upcoming instants of rule after from, in the
// engine's zone.
func (s *Service) Preview(rule cron.Schedule, from time.Time, n int) []time.Time {
	if rule == nil || n <= 0 {
		return nil
	}
	t := from.In(s.Location())
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		t = rule.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Trace("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
