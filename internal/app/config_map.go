package app

import (
	"fmt"
	"strings"
	"time"

	"maintwatch/internal/config"
	"maintwatch/internal/inbox"
	"maintwatch/internal/ingest"
	"maintwatch/internal/observability/debug"
	"maintwatch/internal/priority"
	"maintwatch/internal/storage"
	"maintwatch/internal/transport/ws"
	"maintwatch/pkg/logx"
)

const defaultMaxItems = 1000

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapIdentity(cfg *config.Config) *ws.Identity {
	id := cfg.Identity
	if id.UserID <= 0 {
		return nil
	}
	return &ws.Identity{UserID: id.UserID, Username: strings.TrimSpace(id.Username), Role: strings.TrimSpace(id.Role)}
}

func mapSelf(cfg *config.Config) ingest.Self {
	return ingest.Self{UserID: cfg.Identity.UserID, Username: strings.TrimSpace(cfg.Identity.Username)}
}

func mapWSConfig(cfg *config.Config) (ws.Config, error) {
	sc := cfg.Server
	url, err := ws.Endpoint(sc.URL)
	if err != nil {
		return ws.Config{}, fmt.Errorf("server.url: %w", err)
	}
	dial, err := config.ParseDurationOrDefault("server.dial_timeout", sc.DialTimeout, 5*time.Second)
	if err != nil {
		return ws.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("server.write_timeout", sc.WriteTimeout, 10*time.Second)
	if err != nil {
		return ws.Config{}, err
	}
	ping, err := config.ParseDurationField("server.ping_interval", sc.PingInterval)
	if err != nil {
		return ws.Config{}, err
	}

	def := ws.DefaultBackoff()
	base, err := config.ParseDurationOrDefault("server.reconnect.base", sc.Reconnect.Base, def.Base)
	if err != nil {
		return ws.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("server.reconnect.max", sc.Reconnect.Max, def.Max)
	if err != nil {
		return ws.Config{}, err
	}
	b := ws.Backoff{Base: base, Max: maxDelay, Multiplier: def.Multiplier, Jitter: def.Jitter}
	if sc.Reconnect.Multiplier != 0 {
		b.Multiplier = sc.Reconnect.Multiplier
	}
	if sc.Reconnect.Jitter != 0 {
		b.Jitter = sc.Reconnect.Jitter
	}

	return ws.Config{
		URL:          url,
		Identity:     mapIdentity(cfg),
		DialTimeout:  dial,
		WriteTimeout: write,
		PingInterval: ping,
		Backoff:      b,
	}, nil
}

// mapStorageConfig defaults to the file driver when the section is omitted.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{Driver: "file"}, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	out := storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}
	if r := sc.Redis; r != nil {
		out.Redis = storage.RedisConfig{Addr: r.Addr, Password: r.Password, DB: r.DB, Prefix: r.Prefix}
	}
	return out, nil
}

func mapInboxOptions(cfg *config.Config) inbox.Options {
	n := cfg.Inbox.MaxItems
	if n <= 0 {
		n = defaultMaxItems
	}
	return inbox.Options{MaxItems: n}
}

func mapRetention(cfg *config.Config) (inbox.RetentionConfig, error) {
	out := inbox.DefaultRetention()
	r := cfg.Inbox.Retention
	if r == nil {
		return out, nil
	}
	out.Enabled = r.Enabled
	if s := strings.TrimSpace(r.Schedule); s != "" {
		out.Schedule = s
	}
	age, err := config.ParseDurationOrDefault("inbox.retention.max_age", r.MaxAge, out.MaxAge)
	if err != nil {
		return inbox.RetentionConfig{}, err
	}
	out.MaxAge = age
	if r.ReadOnly != nil {
		out.ReadOnly = *r.ReadOnly
	}
	if err := inbox.ValidateSchedule(out.Schedule); err != nil {
		return inbox.RetentionConfig{}, fmt.Errorf("inbox.retention.schedule: %w", err)
	}
	return out, nil
}

type alertSettings struct {
	Enabled    bool
	RatePerSec float64
	Burst      int
	Min        priority.Tier
}

func mapAlerts(cfg *config.Config) (alertSettings, error) {
	out := alertSettings{Enabled: true, RatePerSec: 0.2, Burst: 1, Min: priority.High}
	a := cfg.Alerts
	if a == nil {
		return out, nil
	}
	out.Enabled = a.Enabled
	if a.RatePerSec > 0 {
		out.RatePerSec = a.RatePerSec
	}
	if a.Burst > 0 {
		out.Burst = a.Burst
	}
	if s := strings.TrimSpace(a.MinPriority); s != "" {
		t, err := priority.ParseTier(s)
		if err != nil {
			return alertSettings{}, fmt.Errorf("alerts.min_priority: %w", err)
		}
		out.Min = t
	}
	return out, nil
}

// validate is the hot-reload gate: everything the reload loop maps must map.
func validate(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := mapWSConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRetention(cfg); err != nil {
		return err
	}
	_, err := mapAlerts(cfg)
	return err
}

func mapDebug(cfg *config.Config) debug.Config {
	d := cfg.Debug
	return debug.Config{
		Enabled:              d.Enabled,
		Address:              strings.TrimSpace(d.Address),
		BlockProfileRate:     d.BlockProfileRate,
		MutexProfileFraction: d.MutexProfileFraction,
	}
}
