package app

import (
	"errors"
	"os"
	"strings"
	"time"

	"pathsched/internal/leader"
	"pathsched/internal/lifecycle"
	"pathsched/internal/storage"
	"pathsched/internal/task/engine"
	"pathsched/internal/task/scheduler"
	logx "pathsched/pkg/logx"
)

type durations struct{ errs []error }

func (p *durations) get(path, raw string) time.Duration {
	d, err := parseDurationField(path, raw)
	if err != nil {
		p.errs = append(p.errs, err)
	}
	return d
}

func mapLoggingConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := parseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		Addr:        strings.TrimSpace(sc.Addr),
		Password:    sc.Password,
		DB:          sc.DB,
		Prefix:      strings.TrimSpace(sc.Prefix),
		BusyTimeout: busy,
	}, nil
}

func mapTaskEngineConfig(cfg *Config) (engine.Config, error) {
	te := cfg.TaskEngine
	var p durations
	out := engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: p.get("task_engine.default_timeout", te.DefaultTimeout),
		HistorySize:    te.HistorySize,
		RetryMax:       te.RetryMax,
		RetryBase:      p.get("task_engine.retry_base", te.RetryBase),
		RetryMaxDelay:  p.get("task_engine.retry_max_delay", te.RetryMaxDelay),
	}
	return out, errors.Join(p.errs...)
}

func mapSchedulerConfig(cfg *Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	var p durations
	out := scheduler.Config{
		Timezone:       strings.TrimSpace(sc.Timezone),
		StoreTimeout:   p.get("scheduler.store_timeout", sc.StoreTimeout),
		TeardownRetry:  p.get("scheduler.teardown_retry", sc.TeardownRetry),
		ReconcileEvery: p.get("scheduler.reconcile_every", sc.ReconcileEvery),
		TaskTimeout:    p.get("scheduler.task_timeout", sc.TaskTimeout),
	}
	return out, errors.Join(p.errs...)
}

func mapPathConfig(cfg *Config) (lifecycle.Config, error) {
	d, err := parseDurationOrDefault("path.call_timeout", cfg.Path.CallTimeout, 30*time.Second)
	if err != nil {
		return lifecycle.Config{}, err
	}
	return lifecycle.Config{RatePerSec: cfg.Path.RatePerSec, Burst: cfg.Path.Burst, CallTimeout: d}, nil
}

func mapLeaderConfig(cfg *Config) (leader.PostgresConfig, error) {
	lc := cfg.Leader
	retry, err := parseDurationField("leader.retry_interval", lc.RetryInterval)
	if err != nil {
		return leader.PostgresConfig{}, err
	}
	hb, err := parseDurationField("leader.heartbeat_interval", lc.HeartbeatInterval)
	if err != nil {
		return leader.PostgresConfig{}, err
	}
	return leader.PostgresConfig{
		Node:              nodeID(cfg),
		LockKey:           lc.LockKey,
		RetryInterval:     retry,
		HeartbeatInterval: hb,
	}, nil
}

// nodeID returns node_id, defaulting to the hostname.
func nodeID(cfg *Config) string {
	if id := strings.TrimSpace(cfg.NodeID); id != "" {
		return id
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "pathsched"
}
