package config

// Config is the on-disk configuration (JSON or YAML). Secrets may be left
// empty in the file and supplied through the environment, see Env.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Catalog   CatalogConfig   `json:"catalog"`
	AI        AIConfig        `json:"ai"`
	Search    SearchConfig    `json:"search"`
	Ops       OpsConfig       `json:"ops"`
}

type TelegramConfig struct {
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Workers bounds concurrent command handlers.
	Workers int `json:"workers,omitempty"`
	// HandlerTimeout is the default per-command timeout.
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects where subscribers, schedule markers and the audit
// trail live.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/songbot" }
//
// Drivers: file (default), sqlite, postgres, redis, memory.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`         // file, sqlite
	DSN         string `json:"dsn,omitempty"`          // postgres
	Addr        string `json:"addr,omitempty"`         // redis
	Password    string `json:"password,omitempty"`     // redis
	DB          int    `json:"db,omitempty"`           // redis
	KeyPrefix   string `json:"key_prefix,omitempty"`   // redis
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite, Go duration string
	AuditLimit  int    `json:"audit_limit,omitempty"`  // redis list cap
}

// BroadcastConfig controls the daily fan-out.
//
// Defaults:
//   - daily_at: "09:00"
//   - misfire_grace: "1h"
//   - pacing: "50ms"
//   - workers: 1 (sequential)
//   - send_timeout: "15s"
//   - max_retry_wait: "5m"
type BroadcastConfig struct {
	Enabled      bool   `json:"enabled"`
	DailyAt      string `json:"daily_at,omitempty"`
	MisfireGrace string `json:"misfire_grace,omitempty"`
	Pacing       string `json:"pacing,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	SendTimeout  string `json:"send_timeout,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	MaxRetryWait string `json:"max_retry_wait,omitempty"`
	// PruneOnRetryGone prunes recipients whose retry came back "gone".
	PruneOnRetryGone *bool `json:"prune_on_retry_gone,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

type CatalogConfig struct {
	// Path to a YAML or JSON song list. Empty uses the built-in catalog.
	Path string `json:"path,omitempty"`
}

type AIConfig struct {
	Enabled      bool   `json:"enabled"`
	APIKey       string `json:"api_key,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
}

type SearchConfig struct {
	Enabled    bool   `json:"enabled"`
	APIKey     string `json:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	NumResults int    `json:"num_results,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// OpsConfig controls the operational HTTP server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - A non-loopback address needs a token or allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
