package config

type Config struct {
	Server   ServerConfig   `json:"server"`
	Identity IdentityConfig `json:"identity"`
	Logging  LoggingConfig  `json:"logging"`

	// Storage may be omitted; the file driver under ./data is used then.
	Storage *StorageConfig `json:"storage,omitempty"`
	Inbox   InboxConfig    `json:"inbox"`
	// Alerts may be omitted; defaults to enabled with a conservative rate.
	Alerts *AlertsConfig `json:"alerts,omitempty"`
	Debug  DebugConfig   `json:"debug"`
}

// ServerConfig points at the maintenance tracker.
//
// URL may be an http(s) base URL ("http://localhost:5000"), in which case the
// WebSocket endpoint is derived from it, or a full ws(s) URL.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ServerConfig struct {
	URL          string `json:"url"`
	DialTimeout  string `json:"dial_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// PingInterval enables keepalive pings; "0s" or empty disables them.
	PingInterval string          `json:"ping_interval,omitempty"`
	Reconnect    ReconnectConfig `json:"reconnect"`
}

// ReconnectConfig shapes the delay between failed connection attempts:
// min(base * multiplier^failures, max), plus up to jitter*delay.
//
// Defaults: base "1s", multiplier 1.5, max "30s", jitter 0.1.
type ReconnectConfig struct {
	Base       string  `json:"base,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty"`
	Max        string  `json:"max,omitempty"`
	Jitter     float64 `json:"jitter,omitempty"`
}

// IdentityConfig is the local principal. A zero user_id means anonymous:
// nothing is announced and assignment/mention rules never fire.
type IdentityConfig struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
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

// StorageConfig controls persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/maintwatch.db" }
//
// Drivers: file (default), sqlite, redis, memory.
type StorageConfig struct {
	Driver      string             `json:"driver"`
	Path        string             `json:"path,omitempty"`
	BusyTimeout string             `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Redis       *RedisStorageConfig `json:"redis,omitempty"`
}

type RedisStorageConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"` // do not log
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

type InboxConfig struct {
	// MaxItems caps the inbox; 0 means the built-in default.
	MaxItems  int              `json:"max_items,omitempty"`
	Retention *RetentionConfig `json:"retention,omitempty"`
}

// RetentionConfig drives the periodic inbox sweep.
//
// Schedule is a cron spec ("0 3 * * *") or a descriptor ("@every 1h").
// MaxAge is a Go duration string. With read_only, unread notifications are
// never pruned.
type RetentionConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	MaxAge   string `json:"max_age,omitempty"`
	ReadOnly *bool  `json:"read_only,omitempty"`
}

// AlertsConfig controls the audible cue for urgent notifications. The
// per-user sound setting still applies on top of this.
type AlertsConfig struct {
	Enabled     bool    `json:"enabled"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	Burst       int     `json:"burst,omitempty"`
	MinPriority string  `json:"min_priority,omitempty"`
}

// DebugConfig controls the local pprof and status listener.
//
// Example:
//
//	"debug": { "enabled": true, "address": "127.0.0.1:6060" }
type DebugConfig struct {
	Enabled              bool   `json:"enabled"`
	Address              string `json:"address,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
}
