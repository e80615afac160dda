package config

import (
	"reflect"
	"sort"
	"strings"

	"maintwatch/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{"server": true, "storage": true, "inbox": true}

// SummarizeConfigChange returns the changed section names and safe
// structured attrs for logging. Secrets (redis password) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.url", strings.TrimSpace(newCfg.Server.URL)),
			logx.String("server.reconnect.max", newCfg.Server.Reconnect.Max),
		)
	}

	if oldCfg.Identity != newCfg.Identity {
		changed = append(changed, "identity")
		attrs = append(attrs,
			logx.Int64("identity.user_id", newCfg.Identity.UserID),
			logx.String("identity.username", newCfg.Identity.Username),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Nil storage means the default file driver.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet, oRedis, nRedis bool
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout)
		oPathSet = strings.TrimSpace(s.Path) != ""
		oRedis = s.Redis != nil && !reflect.DeepEqual(*s.Redis, RedisStorageConfig{})
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout)
		nPathSet = strings.TrimSpace(s.Path) != ""
		nRedis = s.Redis != nil && !reflect.DeepEqual(*s.Redis, RedisStorageConfig{})
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet || oRedis != nRedis ||
		!reflect.DeepEqual(redisOf(oldCfg), redisOf(newCfg)) || redisPassword(oldCfg) != redisPassword(newCfg) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.Bool("storage.redis_set", nRedis),
		)
	}

	if !reflect.DeepEqual(oldCfg.Inbox, newCfg.Inbox) {
		changed = append(changed, "inbox")
		attrs = append(attrs, logx.Int("inbox.max_items", newCfg.Inbox.MaxItems))
		if r := newCfg.Inbox.Retention; r != nil {
			attrs = append(attrs,
				logx.Bool("inbox.retention.enabled", r.Enabled),
				logx.String("inbox.retention.schedule", r.Schedule),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
		if a := newCfg.Alerts; a != nil {
			attrs = append(attrs,
				logx.Bool("alerts.enabled", a.Enabled),
				logx.Float64("alerts.rate_per_sec", a.RatePerSec),
				logx.String("alerts.min_priority", a.MinPriority),
			)
		}
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.address", newCfg.Debug.Address),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// redisOf strips the password so it never influences logged output.
func redisOf(c *Config) RedisStorageConfig {
	if c.Storage == nil || c.Storage.Redis == nil {
		return RedisStorageConfig{}
	}
	r := *c.Storage.Redis
	r.Password = ""
	return r
}

func redisPassword(c *Config) string {
	if c.Storage == nil || c.Storage.Redis == nil {
		return ""
	}
	return c.Storage.Redis.Password
}

// RequiresRestart reports which of the changed sections are not hot-reloadable.
func RequiresRestart(sections []string) []string {
	var out []string
	for _, s := range sections {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}
