package app

import (
	"strings"
	"testing"
	"time"

	"songbot/internal/config"
	"songbot/internal/delivery"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{"defaults", func(c *config.Config) {}, ""},
		{"bad daily_at", func(c *config.Config) { c.Broadcast.DailyAt = "25:00" }, "broadcast.daily_at"},
		{"bad grace", func(c *config.Config) { c.Broadcast.MisfireGrace = "soon" }, "broadcast.misfire_grace"},
		{"negative pacing", func(c *config.Config) { c.Broadcast.Pacing = "-1s" }, "broadcast.pacing"},
		{"negative workers", func(c *config.Config) { c.Broadcast.Workers = -1 }, "broadcast.workers"},
		{"bad timezone", func(c *config.Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"bad group log", func(c *config.Config) { c.Telegram.GroupLog = "chat" }, "telegram.group_log"},
		{"unknown driver", func(c *config.Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"sqlite without path", func(c *config.Config) {
			c.Storage.Driver = "sqlite"
			c.Storage.Path = ""
		}, "storage.path"},
		{"postgres without dsn", func(c *config.Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"redis without addr", func(c *config.Config) { c.Storage.Driver = "redis" }, "storage.addr"},
		{"too many search results", func(c *config.Config) { c.Search.NumResults = 11 }, "search.num_results"},
		{"ops public without token", func(c *config.Config) {
			c.Ops.Enabled = true
			c.Ops.Addr = "0.0.0.0:9090"
		}, "non-loopback"},
		{"ops public with token", func(c *config.Config) {
			c.Ops.Enabled = true
			c.Ops.Addr = "0.0.0.0:9090"
			c.Ops.Token = "s3cret"
		}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			err := validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestMapBroadcastConfig(t *testing.T) {
	cfg := config.Default()
	bc, err := mapBroadcastConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if bc.Pacing != 50*time.Millisecond || bc.Workers != 1 {
		t.Fatalf("pacing=%v workers=%d", bc.Pacing, bc.Workers)
	}
	if bc.CycleTimeout != 2*time.Hour || bc.Retry.MaxWait != 5*time.Minute {
		t.Fatalf("cycle=%v maxWait=%v", bc.CycleTimeout, bc.Retry.MaxWait)
	}
	if bc.Retry.MaxRetries != 1 || len(bc.Retry.RetryOn) != 1 || bc.Retry.RetryOn[0] != delivery.OutcomeRateLimited {
		t.Fatalf("retry policy=%+v", bc.Retry)
	}
	if !bc.PruneOnRetryGone {
		t.Fatalf("retry-gone pruning should default on")
	}

	off := false
	cfg.Broadcast.PruneOnRetryGone = &off
	cfg.Broadcast.Pacing = ""
	bc, err = mapBroadcastConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if bc.PruneOnRetryGone {
		t.Fatalf("explicit false ignored")
	}
	if bc.Pacing != 50*time.Millisecond {
		t.Fatalf("empty pacing should fall back to default, got %v", bc.Pacing)
	}
}

func TestMapStorageConfigDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = ""
	cfg.Storage.Path = ""
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if sc.Driver != "file" || sc.Path != config.DefaultStoragePath {
		t.Fatalf("got %+v", sc)
	}

	cfg.Storage.Driver = "SQLite"
	cfg.Storage.Path = "./bot.db"
	sc, err = mapStorageConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if sc.Driver != "sqlite" || sc.BusyTimeout != time.Second {
		t.Fatalf("got %+v", sc)
	}
}

func TestMapDaily(t *testing.T) {
	cfg := config.Default()
	at, opt, ok, err := mapDaily(cfg)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if at != "09:00" || opt.Grace != time.Hour || opt.Timeout != 2*time.Hour {
		t.Fatalf("at=%q opt=%+v", at, opt)
	}

	cfg.Broadcast.Enabled = false
	cfg.Broadcast.DailyAt = " "
	at, _, ok, err = mapDaily(cfg)
	if err != nil || ok || at != config.DefaultDailyAt {
		t.Fatalf("disabled: at=%q ok=%v err=%v", at, ok, err)
	}
}

func TestMapAIRequiresKey(t *testing.T) {
	cfg := config.Default()
	if _, enabled, err := mapLLMConfig(cfg); err != nil || enabled {
		t.Fatalf("no key: enabled=%v err=%v", enabled, err)
	}
	cfg.AI.APIKey = "sk-or"
	lc, enabled, err := mapLLMConfig(cfg)
	if err != nil || !enabled || lc.Model != config.DefaultAIModel {
		t.Fatalf("with key: %+v enabled=%v err=%v", lc, enabled, err)
	}
	cc, err := mapChatConfig(cfg)
	if err != nil || cc.Timeout != 180*time.Second || cc.SystemPrompt != config.DefaultSystemPrompt {
		t.Fatalf("chat=%+v err=%v", cc, err)
	}
	if _, err := mapAdapterConfig(cfg); err == nil {
		t.Fatalf("missing token should fail")
	}
}
