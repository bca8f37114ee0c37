package leader

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"time"

	_ "github.com/lib/pq"

	"pathsched/internal/eventbus"
	"pathsched/internal/metrics"
	logx "pathsched/pkg/logx"
)

// PostgresConfig configures advisory-lock election.
type PostgresConfig struct {
	Node              string
	LockKey           int64
	RetryInterval     time.Duration // follower: how often to try the lock
	HeartbeatInterval time.Duration // leader: how often to ping the lock connection
}

func (c PostgresConfig) withDefaults() PostgresConfig {
	if c.LockKey == 0 {
		c.LockKey = 0x70617468 // "path"
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 2 * time.Second
	}
	return c
}

// Postgres elects the holder of a session-scoped advisory lock.
//
// The lock lives as long as the dedicated connection. The heartbeat only
// detects local connection death so duties stop promptly; it does not renew
// anything.
type Postgres struct {
	db      *sql.DB
	cfg     PostgresConfig
	cb      Callbacks
	log     logx.Logger
	bus     eventbus.Bus
	metrics metrics.Sink
}

// OpenPostgres opens a lock database handle through lib/pq.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	return db, nil
}

func NewPostgres(db *sql.DB, cfg PostgresConfig, cb Callbacks, log logx.Logger, bus eventbus.Bus, m metrics.Sink) *Postgres {
	if log.IsZero() {
		log = logx.Nop()
	}
	if m == nil {
		m = metrics.NewNoopSink()
	}
	return &Postgres{db: db, cfg: cfg.withDefaults(), cb: cb, log: log, bus: bus, metrics: m}
}

// Run blocks until ctx is cancelled.
func (e *Postgres) Run(ctx context.Context) {
	e.log.Info("leader: starting election loop",
		logx.Int64("lock_key", e.cfg.LockKey),
		logx.Duration("retry", e.cfg.RetryInterval),
		logx.Duration("heartbeat", e.cfg.HeartbeatInterval),
	)
	for {
		if ctx.Err() != nil {
			break
		}
		reason := e.runOnce(ctx)
		if ctx.Err() != nil {
			break
		}
		if reason != "" {
			e.log.Warn("leader: lost leadership", logx.String("reason", reason), logx.Duration("retry_in", e.cfg.RetryInterval))
		}
		if !sleepCtx(ctx, e.cfg.RetryInterval) {
			break
		}
	}
	e.log.Info("leader: election loop stopped")
}

// runOnce tries the lock and holds it. It returns why leadership ended, or ""
// if the lock was not acquired.
func (e *Postgres) runOnce(ctx context.Context) string {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		e.log.Warn("leader: dedicated connection failed", logx.Err(err))
		return ""
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.cfg.LockKey).Scan(&acquired); err != nil {
		e.log.Warn("leader: advisory lock query failed", logx.Err(err))
		return ""
	}
	if !acquired {
		e.log.Debug("leader: lock held by another node", logx.Int64("lock_key", e.cfg.LockKey))
		return ""
	}

	e.log.Info("leader: acquired advisory lock", logx.Int64("lock_key", e.cfg.LockKey), logx.String("node", e.cfg.Node))
	e.metrics.LeaderStatusChanged(true)
	e.metrics.LeaderAcquired()
	eventbus.Emit(e.bus, eventbus.LeaderElected, LeaderEvent{Node: e.cfg.Node, Mode: "postgres"})

	leaderCtx, cancel := context.WithCancel(ctx)
	go e.cb.elected(leaderCtx)

	reason := e.holdLock(ctx, conn)

	cancel()
	e.cb.demoted()
	e.release(conn, reason)

	e.metrics.LeaderStatusChanged(false)
	e.metrics.LeaderLost(reason)
	eventbus.Emit(e.bus, eventbus.LeaderDemoted, LeaderEvent{Node: e.cfg.Node, Mode: "postgres", Reason: reason})
	e.log.Info("leader: released advisory lock", logx.Int64("lock_key", e.cfg.LockKey))
	return reason
}

func (e *Postgres) holdLock(ctx context.Context, conn *sql.Conn) string {
	t := time.NewTicker(e.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-t.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				e.log.Error("leader: lock connection ping failed", logx.Err(err))
				return "conn_lost"
			}
		}
	}
}

// release unlocks explicitly; a pooled connection would otherwise keep the
// session and the lock. If unlocking fails the connection is discarded.
func (e *Postgres) release(conn *sql.Conn, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if reason != "conn_lost" {
		if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", e.cfg.LockKey); err == nil {
			return
		}
	}
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
}
