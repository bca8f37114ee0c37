package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pathsched/internal/metrics"
	"pathsched/internal/pathsvc"
	"pathsched/internal/schedule"
	logx "pathsched/pkg/logx"
)

var ErrNotFound = errors.New("scheduled path not found")

// Config bounds calls to the path collaborator.
type Config struct {
	RatePerSec  float64
	Burst       int
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

func (c Config) limit() rate.Limit {
	if c.RatePerSec <= 0 {
		return rate.Inf
	}
	return rate.Limit(c.RatePerSec)
}

// Engine is the ScheduleEngine surface the facade drives.
type Engine interface {
	Schedule(ctx context.Context, key schedule.Key, start schedule.Date, rule schedule.RepeatRule, durationMinutes int, spec schedule.PathRequestSpec) (schedule.Record, error)
	Cancel(ctx context.Context, key schedule.Key) (bool, error)
	Get(ctx context.Context, key schedule.Key) (schedule.Record, bool, error)
	List(ctx context.Context) ([]schedule.Record, error)
}

// Store holds the tunnel bindings and the failed-path set.
type Store interface {
	PutTunnelBinding(ctx context.Context, id schedule.TunnelID, c schedule.ConsumerID) error
	GetTunnelBinding(ctx context.Context, id schedule.TunnelID) (schedule.ConsumerID, bool, error)
	TunnelBindingExists(ctx context.Context, id schedule.TunnelID) (bool, error)
	RemoveTunnelBinding(ctx context.Context, id schedule.TunnelID) (bool, error)
	AddFailedPath(ctx context.Context, f schedule.FailedPathRecord) error
	FailedPathExists(ctx context.Context, p schedule.PathRequestSpec) (bool, error)
	RemoveFailedPath(ctx context.Context, p schedule.PathRequestSpec) (bool, error)
	FailedPaths(ctx context.Context) ([]schedule.FailedPathRecord, error)
}

type Facade struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	log     logx.Logger
	engine  Engine
	store   Store
	paths   pathsvc.Service
	metrics metrics.Sink
	now     func() time.Time
	newID   func() schedule.ConsumerID
}

type Option func(*Facade)

func WithMetrics(m metrics.Sink) Option { return func(f *Facade) { f.metrics = m } }

// WithNow overrides the wall clock used for failure timestamps.
func WithNow(now func() time.Time) Option { return func(f *Facade) { f.now = now } }

func New(cfg Config, engine Engine, store Store, paths pathsvc.Service, log logx.Logger, opts ...Option) *Facade {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	f := &Facade{
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.limit(), cfg.Burst),
		log:     log,
		engine:  engine,
		store:   store,
		paths:   paths,
		now:     time.Now,
		newID:   newConsumerID,
	}
	for _, o := range opts {
		if o != nil {
			o(f)
		}
	}
	if f.metrics == nil {
		f.metrics = metrics.NewNoopSink()
	}
	return f
}

// Apply updates the collaborator limits at runtime.
func (f *Facade) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
	f.limiter.SetLimit(cfg.limit())
	f.limiter.SetBurst(cfg.Burst)
}

func (f *Facade) config() Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

// Setup validates req and hands it to the engine. Every rejection is a
// *ValidationError; nothing is written when validation fails.
func (f *Facade) Setup(ctx context.Context, req SetupRequest) (schedule.Record, error) {
	a, err := req.validate()
	if err != nil {
		return schedule.Record{}, err
	}

	tunnels, err := f.paths.QueryTunnels(ctx)
	if err != nil {
		return schedule.Record{}, fmt.Errorf("query tunnels: %w", err)
	}
	if t, ok := pathsvc.FindByName(tunnels, a.spec.Source, a.spec.Name); ok {
		return schedule.Record{}, invalid("name", "path %q already exists at %s (tunnel %s)", a.spec.Name, a.spec.Source, t.ID)
	}

	rec, err := f.engine.Schedule(ctx, a.key, a.start, a.rule, a.duration, a.spec)
	if err != nil {
		return schedule.Record{}, asValidation(err)
	}
	f.log.Info("scheduled path accepted",
		logx.String("key", a.key.String()),
		logx.String("path", a.spec.String()),
		logx.String("start", a.start.String()),
		logx.Time("next_fire", rec.NextFire),
	)
	return rec, nil
}

// Cancel removes the schedule named by id ("source/name" or a tunnel id).
func (f *Facade) Cancel(ctx context.Context, id string) (bool, error) {
	key, err := f.resolve(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return f.engine.Cancel(ctx, key)
}

// FailedPaths lists the failed-path set.
func (f *Facade) FailedPaths(ctx context.Context) ([]schedule.FailedPathRecord, error) {
	return f.store.FailedPaths(ctx)
}

// resolve maps a query id to a schedule key. An id without '/' is a tunnel id.
func (f *Facade) resolve(ctx context.Context, id string) (schedule.Key, error) {
	id = strings.TrimSpace(id)
	if strings.Contains(id, "/") {
		key, err := schedule.ParseKey(id)
		if err != nil {
			return schedule.Key{}, invalid("id", "%v", err)
		}
		return key, nil
	}
	if id == "" {
		return schedule.Key{}, invalid("id", "required")
	}
	recs, err := f.engine.List(ctx)
	if err != nil {
		return schedule.Key{}, err
	}
	for _, r := range recs {
		if string(r.TunnelID) == id {
			return r.Key(), nil
		}
	}
	return schedule.Key{}, fmt.Errorf("%w: tunnel %s", ErrNotFound, id)
}
