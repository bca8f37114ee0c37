package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pathsched/internal/eventbus"
	"pathsched/internal/leader"
	"pathsched/internal/lifecycle"
	"pathsched/internal/metrics"
	"pathsched/internal/pathsvc"
	"pathsched/internal/rpc"
	"pathsched/internal/storage"
	"pathsched/internal/task/engine"
	"pathsched/internal/task/scheduler"
	logx "pathsched/pkg/logx"
)

// Version is stamped at build time.
var Version = "dev"

type App struct {
	cfgm *ConfigManager
	sup  *Supervisor

	node string
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	reg     *prometheus.Registry
	metrics metrics.Sink

	store  *storage.Store
	engine *engine.Service
	sched  *scheduler.Service
	paths  *pathsvc.Memory
	facade *lifecycle.Facade

	elector  leader.Elector
	leaderDB *sql.DB

	rpc  *rpc.Server
	http *http.Server
	ln   net.Listener
}

// NewApp loads the config at cfgPath and wires every component. Nothing
// runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *ConfigManager, cfg *Config) (*App, error) {
	logSvc, log := logx.New(mapLoggingConfig(cfg))
	node := nodeID(cfg)
	log = log.With(logx.String("node", node))

	bus := eventbus.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := metrics.NewPrometheusSink(reg, log.With(logx.String("comp", "metrics")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	fail := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	schedSvc := scheduler.New(schedCfg, store, engineSvc, log.With(logx.String("comp", "scheduler")),
		scheduler.WithBus(bus),
		scheduler.WithMetrics(sink),
	)

	pathCfg, err := mapPathConfig(cfg)
	if err != nil {
		return fail(err)
	}
	paths := pathsvc.NewMemory(log.With(logx.String("comp", "pathsvc")))
	facade := lifecycle.New(pathCfg, schedSvc, store, paths, log.With(logx.String("comp", "lifecycle")),
		lifecycle.WithMetrics(sink),
	)
	schedSvc.SetLifecycle(facade.Hooks())

	a := &App{
		cfgm:    cfgm,
		node:    node,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		reg:     reg,
		metrics: sink,
		store:   store,
		engine:  engineSvc,
		sched:   schedSvc,
		paths:   paths,
		facade:  facade,
	}

	if err := a.buildElector(cfg); err != nil {
		return fail(err)
	}

	a.rpc = rpc.NewServer(rpc.Config{
		Token:   cfg.RPC.Token,
		Version: Version,
		Node:    node,
	}, facade, a.status, log.With(logx.String("comp", "rpc")))

	mux := http.NewServeMux()
	mux.Handle("/rpc", a.rpc.Handler())
	if cfg.RPC.MetricsEnabled() {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	a.mountDebug(mux, cfg.RPC.Token, cfg.RPC.Pprof)
	a.http = &http.Server{
		Addr:              cfg.RPC.RPCAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// buildElector picks the leader mode. Leadership drives scheduler
// activation: elected nodes arm timers, demoted nodes drop them.
func (a *App) buildElector(cfg *Config) error {
	cb := leader.Callbacks{
		OnElected: func(ctx context.Context) {
			if err := a.sched.Activate(ctx); err != nil {
				a.log.Warn("initial reconcile failed", logx.Err(err))
			}
			<-ctx.Done()
			a.deactivate()
		},
		OnDemoted: a.deactivate,
	}
	log := a.log.With(logx.String("comp", "leader"))

	switch strings.ToLower(strings.TrimSpace(cfg.Leader.Mode)) {
	case "", "local":
		a.elector = leader.NewLocal(a.node, cb, log, a.bus, a.metrics)
	case "postgres":
		pc, err := mapLeaderConfig(cfg)
		if err != nil {
			return err
		}
		db, err := leader.OpenPostgres(cfg.LeaderDSN())
		if err != nil {
			return fmt.Errorf("open leader database: %w", err)
		}
		a.leaderDB = db
		a.elector = leader.NewPostgres(db, pc, cb, log, a.bus, a.metrics)
	default:
		return fmt.Errorf("unknown leader.mode: %s", cfg.Leader.Mode)
	}
	return nil
}

func (a *App) deactivate() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	a.sched.Deactivate(ctx)
}

func (a *App) status() rpc.NodeStatus {
	return rpc.NodeStatus{
		Leader:      a.sched.Active(),
		ArmedTimers: len(a.sched.Snapshot().Armed),
		QueueLen:    a.engine.Snapshot().QueueLen,
	}
}

// Facade exposes the lifecycle facade (used by tests and embedding callers).
func (a *App) Facade() *lifecycle.Facade { return a.facade }

// Addr returns the bound RPC address once Start has returned.
func (a *App) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.http.Addr)
	if err != nil {
		return fmt.Errorf("rpc listen %s: %w", a.http.Addr, err)
	}
	a.ln = ln

	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.engine.Start(a.sup.Context())

	a.sup.Go0("leader", a.elector.Run)

	a.sup.Go("rpc.http", func(c context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- a.http.Serve(ln) }()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-c.Done():
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return a.http.Shutdown(sctx)
		}
	})

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("version", Version),
		logx.String("rpc", ln.Addr().String()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancelling the supervisor demotes the leader and stops the listener.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("supervisor", 4*time.Second, a.sup.Wait)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Deactivate(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("rpc", time.Second, func(context.Context) error { a.rpc.Close(); return nil })
	step("leader.db", time.Second, func(context.Context) error {
		if a.leaderDB != nil {
			return a.leaderDB.Close()
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
