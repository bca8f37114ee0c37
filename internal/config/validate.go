package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	logx "pathsched/pkg/logx"
)

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !logx.ValidLevel(c.Logging.Level) {
		add("logging.level: unknown level %q", c.Logging.Level)
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}

	var d durations
	d.get("scheduler.store_timeout", c.Scheduler.StoreTimeout)
	d.get("scheduler.teardown_retry", c.Scheduler.TeardownRetry)
	d.get("scheduler.reconcile_every", c.Scheduler.ReconcileEvery)
	d.get("scheduler.task_timeout", c.Scheduler.TaskTimeout)
	d.get("task_engine.default_timeout", c.TaskEngine.DefaultTimeout)
	d.get("task_engine.retry_base", c.TaskEngine.RetryBase)
	d.get("task_engine.retry_max_delay", c.TaskEngine.RetryMaxDelay)
	d.get("storage.busy_timeout", c.Storage.BusyTimeout)
	d.get("leader.retry_interval", c.Leader.RetryInterval)
	d.get("leader.heartbeat_interval", c.Leader.HeartbeatInterval)
	d.get("path.call_timeout", c.Path.CallTimeout)
	errs = append(errs, d.errs...)

	for name, v := range map[string]int{
		"task_engine.workers":      c.TaskEngine.Workers,
		"task_engine.queue_size":   c.TaskEngine.QueueSize,
		"task_engine.history_size": c.TaskEngine.HistorySize,
		"task_engine.retry_max":    c.TaskEngine.RetryMax,
		"storage.db":               c.Storage.DB,
		"path.burst":               c.Path.Burst,
	} {
		if v < 0 {
			add("%s: must be >= 0", name)
		}
	}
	if c.Path.RatePerSec < 0 {
		add("path.rate_per_sec: must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory":
	case "file", "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add("storage.path: required for the %s driver", c.Storage.Driver)
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add("storage.dsn: required for the postgres driver")
		}
	case "redis":
		if strings.TrimSpace(c.Storage.Addr) == "" {
			add("storage.addr: required for the redis driver")
		}
	default:
		add("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	switch strings.ToLower(strings.TrimSpace(c.Leader.Mode)) {
	case "", "local":
	case "postgres":
		if c.LeaderDSN() == "" {
			add("leader.dsn: required for postgres mode (or use the postgres storage driver)")
		}
	default:
		add("leader.mode: unknown mode %q", c.Leader.Mode)
	}

	if c.RPC.Addr != "" {
		if _, _, err := net.SplitHostPort(c.RPC.Addr); err != nil {
			add("rpc.addr: %v", err)
		}
	}

	return errors.Join(errs...)
}

// LeaderDSN returns leader.dsn, falling back to the postgres storage DSN.
func (c *Config) LeaderDSN() string {
	if dsn := strings.TrimSpace(c.Leader.DSN); dsn != "" {
		return dsn
	}
	if strings.EqualFold(strings.TrimSpace(c.Storage.Driver), "postgres") {
		return strings.TrimSpace(c.Storage.DSN)
	}
	return ""
}
