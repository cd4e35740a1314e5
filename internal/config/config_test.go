package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestParseMissingFileUsesDefaults(t *testing.T) {
	m := NewConfigManager(filepath.Join(t.TempDir(), "nope.yaml"))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Broadcast.DailyAt != DefaultDailyAt || cfg.Broadcast.Pacing != DefaultPacing || cfg.Broadcast.MisfireGrace != DefaultMisfireGrace {
		t.Fatalf("broadcast defaults not applied: %+v", cfg.Broadcast)
	}
	if cfg.Storage.Driver != "file" || cfg.AI.Model != DefaultAIModel {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestParseYAMLKeepsOmittedDefaults(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", `
telegram:
  owner_user_ids: [42]
broadcast:
  daily_at: "07:30"
storage:
  driver: sqlite
  path: ./bot.db
`)
	cfg, err := NewConfigManager(p).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Broadcast.DailyAt != "07:30" {
		t.Fatalf("daily_at=%q", cfg.Broadcast.DailyAt)
	}
	if !cfg.Broadcast.Enabled || cfg.Broadcast.Pacing != DefaultPacing {
		t.Fatalf("omitted keys should keep defaults: %+v", cfg.Broadcast)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners=%v", cfg.Telegram.OwnerUserIDs)
	}
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"unknown.json":  `{"broadcast":{"dayly_at":"09:00"}}`,
		"trailing.json": `{"logging":{"level":"info"}}{"x":1}`,
		"unknown.yaml":  "ai:\n  temperature: 0.3\n",
	}
	for name, body := range cases {
		p := writeFile(t, dir, name, body)
		if _, err := NewConfigManager(p).Parse(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEnvOverlay(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Token = "from-file"
	e := Env{BotToken: " from-env ", OpenRouterKey: "sk-or", OwnerUserIDs: "1, 2;3"}
	if err := e.Overlay(cfg); err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if cfg.Telegram.Token != "from-env" || cfg.AI.APIKey != "sk-or" {
		t.Fatalf("overlay not applied: %+v", cfg.Telegram)
	}
	if got := cfg.Telegram.OwnerUserIDs; len(got) != 3 || got[2] != 3 {
		t.Fatalf("owners=%v", got)
	}
	if cfg.AI.Model != DefaultAIModel {
		t.Fatalf("empty env value should not clear model")
	}

	if err := (Env{OwnerUserIDs: "abc"}).Overlay(Default()); err == nil {
		t.Fatalf("expected error for bad owner ids")
	}
}

func TestLoadDotEnvOverridesProcessEnv(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, ".env", "AI_MODEL=\"dotenv-model\"\n# comment\n")
	t.Setenv("AI_MODEL", "process-model")
	if err := LoadDotEnv(p, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	e, err := ReadEnv()
	if err != nil {
		t.Fatalf("ReadEnv: %v", err)
	}
	if e.AIModel != "dotenv-model" {
		t.Fatalf("AI_MODEL=%q", e.AIModel)
	}
}

func TestReloadValidatesBeforePublish(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"broadcast":{"daily_at":"09:00"}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	reject := errors.New("nope")
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Broadcast.DailyAt == "25:00" {
			return reject
		}
		return nil
	})

	writeFile(t, dir, "config.json", `{"broadcast":{"daily_at":"25:00"}}`)
	if err := m.reload(context.Background()); !errors.Is(err, reject) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if m.Get().Broadcast.DailyAt != "09:00" {
		t.Fatalf("rejected config must not be committed")
	}

	writeFile(t, dir, "config.json", `{"broadcast":{"daily_at":"10:15"}}`)
	if err := m.reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	select {
	case cfg := <-sub:
		if cfg.Broadcast.DailyAt != "10:15" {
			t.Fatalf("published %q", cfg.Broadcast.DailyAt)
		}
	case <-time.After(time.Second):
		t.Fatalf("no publish")
	}
}

func TestSummarizeConfigChangeRedactsSecrets(t *testing.T) {
	a := Default()
	b := Default()
	b.AI.APIKey = "sk-secret"
	b.Broadcast.DailyAt = "08:00"

	sections, attrs := SummarizeConfigChange(a, b)
	got := strings.Join(sections, ",")
	if got != "broadcast,ai" {
		t.Fatalf("sections=%q", got)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
	if r := redacted(b); strings.Contains(r.AI.APIKey, "sk-secret") {
		t.Fatalf("secret leaked: %q", r.AI.APIKey)
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationOrDefault("x", "", 3*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("default: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative should fail")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatalf("garbage should fail")
	}
}

func TestDecodeStrict(t *testing.T) {
	type target struct {
		Name  string            `json:"name"`
		Tags  map[string]string `json:"tags"`
		Count int               `json:"count"`
	}
	tests := []struct {
		file    string
		body    string
		want    target
		wantErr string
	}{
		{"a.yaml", "name: x\ncount: 2\n", target{Name: "x", Count: 2}, ""},
		{"a.yml", "tags:\n  1: one\n", target{Tags: map[string]string{"1": "one"}}, ""},
		{"a.json", `{"name":"y"}`, target{Name: "y"}, ""},
		{"empty.yaml", "", target{}, ""},
		{"empty.json", "  \n", target{}, ""},
		{"typo.yaml", "nmae: x\n", target{}, "unknown field"},
		{"twice.json", `{"name":"a"} {"name":"b"}`, target{}, "after the document"},
		{"bad.yaml", "name: [x\n", target{}, "yaml"},
	}
	for _, tt := range tests {
		var got target
		err := DecodeStrict(tt.file, []byte(tt.body), &got)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) || !strings.Contains(err.Error(), tt.file) {
				t.Fatalf("%s: err=%v, want %q naming the file", tt.file, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.file, err)
		}
		if got.Name != tt.want.Name || got.Count != tt.want.Count || len(got.Tags) != len(tt.want.Tags) || got.Tags["1"] != tt.want.Tags["1"] {
			t.Fatalf("%s: got %+v want %+v", tt.file, got, tt.want)
		}
	}
}
