package config

import (
	"reflect"
	"strings"

	logx "songbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured fields for logging. Secrets are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	o, n := redacted(oldCfg), redacted(newCfg)

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(o.Telegram, n.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(n.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", n.Telegram.GroupLog != ""),
			logx.String("telegram.poll_timeout", n.Telegram.PollTimeout),
		)
	}
	if !reflect.DeepEqual(o.Logging, n.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", n.Logging.Level),
			logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", n.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(o.Storage, n.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", n.Storage.Driver))
	}
	if !reflect.DeepEqual(o.Broadcast, n.Broadcast) {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.Bool("broadcast.enabled", n.Broadcast.Enabled),
			logx.String("broadcast.daily_at", n.Broadcast.DailyAt),
			logx.String("broadcast.pacing", n.Broadcast.Pacing),
			logx.Int("broadcast.workers", n.Broadcast.Workers),
		)
	}
	if !reflect.DeepEqual(o.Scheduler, n.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", n.Scheduler.Enabled),
			logx.String("scheduler.timezone", n.Scheduler.Timezone),
		)
	}
	if !reflect.DeepEqual(o.Catalog, n.Catalog) {
		changed = append(changed, "catalog")
		attrs = append(attrs, logx.String("catalog.path", n.Catalog.Path))
	}
	if !reflect.DeepEqual(o.AI, n.AI) {
		changed = append(changed, "ai")
		attrs = append(attrs,
			logx.Bool("ai.enabled", n.AI.Enabled),
			logx.String("ai.model", n.AI.Model),
			logx.Bool("ai.key_set", n.AI.APIKey != ""),
		)
	}
	if !reflect.DeepEqual(o.Search, n.Search) {
		changed = append(changed, "search")
		attrs = append(attrs,
			logx.Bool("search.enabled", n.Search.Enabled),
			logx.Bool("search.key_set", n.Search.APIKey != ""),
		)
	}
	if !reflect.DeepEqual(o.Ops, n.Ops) {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", n.Ops.Enabled),
			logx.String("ops.addr", n.Ops.Addr),
			logx.Bool("ops.token_set", n.Ops.Token != ""),
		)
	}
	return changed, attrs
}

// redacted replaces secrets with a presence marker so a rotated secret still
// shows up as a change without leaking the value.
func redacted(cfg *Config) Config {
	c := *cfg
	mask := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return ""
		}
		return "set:" + hashString(s)
	}
	c.Telegram.Token = mask(c.Telegram.Token)
	c.Storage.DSN = mask(c.Storage.DSN)
	c.Storage.Password = mask(c.Storage.Password)
	c.AI.APIKey = mask(c.AI.APIKey)
	c.Search.APIKey = mask(c.Search.APIKey)
	c.Ops.Token = mask(c.Ops.Token)
	return c
}
