package config

import (
	"sort"
	"strings"

	logx "pathsched/pkg/logx"
)

// restartSections cannot be applied to a running node.
var restartSections = map[string]bool{
	"node_id": true,
	"storage": true,
	"leader":  true,
	"rpc":     true,
}

// SummarizeConfigChange returns the changed section names (sorted) and
// log attrs describing the new values. Secrets are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.NodeID) != strings.TrimSpace(newCfg.NodeID) {
		changed = append(changed, "node_id")
		attrs = append(attrs, logx.String("node_id", strings.TrimSpace(newCfg.NodeID)))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.teardown_retry", newCfg.Scheduler.TeardownRetry),
			logx.String("scheduler.reconcile_every", newCfg.Scheduler.ReconcileEvery),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", newCfg.TaskEngine.Workers),
			logx.Int("task_engine.queue_size", newCfg.TaskEngine.QueueSize),
			logx.String("task_engine.default_timeout", newCfg.TaskEngine.DefaultTimeout),
			logx.Int("task_engine.retry_max", newCfg.TaskEngine.RetryMax),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
			logx.String("storage.addr", strings.TrimSpace(newCfg.Storage.Addr)),
		)
	}

	if oldCfg.Leader != newCfg.Leader {
		changed = append(changed, "leader")
		attrs = append(attrs,
			logx.String("leader.mode", strings.TrimSpace(newCfg.Leader.Mode)),
			logx.Int64("leader.lock_key", newCfg.Leader.LockKey),
		)
	}

	if oldCfg.Path != newCfg.Path {
		changed = append(changed, "path")
		attrs = append(attrs,
			logx.Any("path.rate_per_sec", newCfg.Path.RatePerSec),
			logx.Int("path.burst", newCfg.Path.Burst),
			logx.String("path.call_timeout", newCfg.Path.CallTimeout),
		)
	}

	if oldCfg.RPC.Addr != newCfg.RPC.Addr ||
		oldCfg.RPC.Token != newCfg.RPC.Token ||
		oldCfg.RPC.MetricsEnabled() != newCfg.RPC.MetricsEnabled() ||
		oldCfg.RPC.Pprof != newCfg.RPC.Pprof {
		changed = append(changed, "rpc")
		attrs = append(attrs,
			logx.String("rpc.addr", newCfg.RPC.RPCAddr()),
			logx.Bool("rpc.token_set", newCfg.RPC.Token != ""),
			logx.Bool("rpc.metrics", newCfg.RPC.MetricsEnabled()),
			logx.Bool("rpc.pprof", newCfg.RPC.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired returns the subset of changed that only takes effect
// after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}
