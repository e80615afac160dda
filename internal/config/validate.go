package config

import (
	"fmt"
	"net"
	"strings"

	"maintwatch/internal/priority"
)

// Validate rejects values that would only fail later at apply time, so a bad
// hot reload is refused as a whole.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	for path, raw := range map[string]string{
		"server.dial_timeout":   c.Server.DialTimeout,
		"server.write_timeout":  c.Server.WriteTimeout,
		"server.ping_interval":  c.Server.PingInterval,
		"server.reconnect.base": c.Server.Reconnect.Base,
		"server.reconnect.max":  c.Server.Reconnect.Max,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if m := c.Server.Reconnect.Multiplier; m != 0 && m < 1 {
		return fmt.Errorf("server.reconnect.multiplier must be >= 1, got %v", m)
	}
	if j := c.Server.Reconnect.Jitter; j < 0 || j > 1 {
		return fmt.Errorf("server.reconnect.jitter must be within [0,1], got %v", j)
	}

	if c.Identity.UserID < 0 {
		return fmt.Errorf("identity.user_id must be >= 0")
	}
	if c.Identity.UserID > 0 && strings.TrimSpace(c.Identity.Username) == "" {
		return fmt.Errorf("identity.username is required when identity.user_id is set")
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "file", "sqlite", "sqlite3", "memory", "none":
		case "redis":
			if s.Redis == nil || strings.TrimSpace(s.Redis.Addr) == "" {
				return fmt.Errorf("storage.redis.addr is required when storage.driver=redis")
			}
		default:
			return fmt.Errorf("unknown storage.driver: %s", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	if c.Inbox.MaxItems < 0 {
		return fmt.Errorf("inbox.max_items must be >= 0")
	}
	if r := c.Inbox.Retention; r != nil {
		if _, err := ParseDurationField("inbox.retention.max_age", r.MaxAge); err != nil {
			return err
		}
	}

	if a := c.Alerts; a != nil {
		if a.RatePerSec < 0 {
			return fmt.Errorf("alerts.rate_per_sec must be >= 0")
		}
		if a.Burst < 0 {
			return fmt.Errorf("alerts.burst must be >= 0")
		}
		if strings.TrimSpace(a.MinPriority) != "" {
			if _, err := priority.ParseTier(a.MinPriority); err != nil {
				return fmt.Errorf("alerts.min_priority: %w", err)
			}
		}
	}

	if d := c.Debug; d.Enabled && strings.TrimSpace(d.Address) != "" {
		if _, _, err := net.SplitHostPort(d.Address); err != nil {
			return fmt.Errorf("debug.address: %w", err)
		}
	}
	if c.Debug.BlockProfileRate < 0 || c.Debug.MutexProfileFraction < 0 {
		return fmt.Errorf("debug profile rates must be >= 0")
	}
	return nil
}
