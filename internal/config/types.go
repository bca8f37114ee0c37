package config

// Config is the pathsched node configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m"). Omitted
// or zero values take the component defaults.
type Config struct {
	// NodeID names this node in logs, leader events and system.version.
	// Defaults to the hostname.
	NodeID string `json:"node_id,omitempty"`

	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Storage    StorageConfig    `json:"storage"`
	Leader     LeaderConfig     `json:"leader"`
	Path       PathConfig       `json:"path"`
	RPC        RPCConfig        `json:"rpc"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the ScheduleEngine.
//
// Defaults:
//   - timezone: Local
//   - store_timeout: "5s"
//   - teardown_retry: "1m"
//   - reconcile_every: "30s"
type SchedulerConfig struct {
	Timezone       string `json:"timezone,omitempty"`
	StoreTimeout   string `json:"store_timeout,omitempty"`
	TeardownRetry  string `json:"teardown_retry,omitempty"`
	ReconcileEvery string `json:"reconcile_every,omitempty"`
	// TaskTimeout bounds one fire attempt; "0s" uses task_engine.default_timeout.
	TaskTimeout string `json:"task_timeout,omitempty"`
}

// TaskEngineConfig controls the worker pool that runs fire callbacks.
//
// Defaults: workers 4, queue_size 256, history_size 200, retry_max 0,
// retry_base "500ms", retry_max_delay "15s".
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

// StorageConfig selects the ScheduleStore backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pathsched.db" }
//	"storage": { "driver": "redis", "addr": "127.0.0.1:6379", "prefix": "pathsched" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory | file | sqlite | postgres | redis
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres (do not log)
	Addr        string `json:"addr,omitempty"`
	Password    string `json:"password,omitempty"` // redis (do not log)
	DB          int    `json:"db,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// LeaderConfig selects how the timer-owning node is chosen.
type LeaderConfig struct {
	Mode              string `json:"mode,omitempty"` // local (default) | postgres
	DSN               string `json:"dsn,omitempty"`  // defaults to storage.dsn
	LockKey           int64  `json:"lock_key,omitempty"`
	RetryInterval     string `json:"retry_interval,omitempty"`
	HeartbeatInterval string `json:"heartbeat_interval,omitempty"`
}

// PathConfig bounds calls to the path collaborator.
type PathConfig struct {
	RatePerSec  float64 `json:"rate_per_sec,omitempty"` // 0: unlimited
	Burst       int     `json:"burst,omitempty"`
	CallTimeout string  `json:"call_timeout,omitempty"`
}

// RPCConfig controls the HTTP listener serving /rpc and /metrics.
type RPCConfig struct {
	Addr    string `json:"addr,omitempty"`  // default "127.0.0.1:8181"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
	Metrics *bool  `json:"metrics,omitempty"`
	// Pprof mounts /debug/pprof/ on the RPC listener, behind the token.
	Pprof bool `json:"pprof,omitempty"`
}

// MetricsEnabled reports whether /metrics is served (default true).
func (r RPCConfig) MetricsEnabled() bool { return r.Metrics == nil || *r.Metrics }

const DefaultRPCAddr = "127.0.0.1:8181"

// RPCAddr returns the listen address with its default applied.
func (r RPCConfig) RPCAddr() string {
	if r.Addr == "" {
		return DefaultRPCAddr
	}
	return r.Addr
}
