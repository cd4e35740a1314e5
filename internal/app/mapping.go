package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"songbot/internal/broadcast"
	"songbot/internal/chat"
	"songbot/internal/config"
	"songbot/internal/delivery"
	"songbot/internal/llm"
	"songbot/internal/observability/ops"
	"songbot/internal/scheduler"
	"songbot/internal/search"
	"songbot/internal/storage"
	telegram "songbot/internal/transport/telegram/adapter"
	logx "songbot/pkg/logx"
)

// DailyJobName is the scheduler entry for the daily song.
const DailyJobName = "broadcast.daily"

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Operator: logx.OperatorConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return telegram.Config{}, errors.New("telegram.token is required (set BOT_TOKEN)")
	}
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: poll}, nil
}

func mapHandlerTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("telegram.handler_timeout", cfg.Telegram.HandlerTimeout, 60*time.Second)
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	out := storage.Config{
		Driver:     driver,
		Path:       strings.TrimSpace(sc.Path),
		DSN:        strings.TrimSpace(sc.DSN),
		Addr:       strings.TrimSpace(sc.Addr),
		Password:   sc.Password,
		DB:         sc.DB,
		KeyPrefix:  sc.KeyPrefix,
		AuditLimit: sc.AuditLimit,
	}
	switch driver {
	case "", "file":
		out.Driver = "file"
		if out.Path == "" {
			out.Path = config.DefaultStoragePath
		}
	case "sqlite", "sqlite3":
		if out.Path == "" {
			return storage.Config{}, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	case "postgres", "postgresql", "pgx":
		if out.DSN == "" {
			return storage.Config{}, errors.New("storage.dsn is required when storage.driver=postgres (or set STORAGE_DSN)")
		}
	case "redis":
		if out.Addr == "" {
			return storage.Config{}, errors.New("storage.addr is required when storage.driver=redis")
		}
		if sc.DB < 0 {
			return storage.Config{}, errors.New("storage.db must be >= 0")
		}
	case "memory":
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	if sc.AuditLimit < 0 {
		return storage.Config{}, errors.New("storage.audit_limit must be >= 0")
	}
	return out, nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	bc := cfg.Broadcast
	out := broadcast.DefaultConfig()
	var err error

	if out.Pacing, err = config.ParseDurationOrDefault("broadcast.pacing", bc.Pacing, out.Pacing); err != nil {
		return broadcast.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("broadcast.send_timeout", bc.SendTimeout, out.SendTimeout); err != nil {
		return broadcast.Config{}, err
	}
	if out.CycleTimeout, err = config.ParseDurationField("broadcast.cycle_timeout", bc.CycleTimeout); err != nil {
		return broadcast.Config{}, err
	}
	maxWait, err := config.ParseDurationField("broadcast.max_retry_wait", bc.MaxRetryWait)
	if err != nil {
		return broadcast.Config{}, err
	}
	out.Retry = delivery.RetryPolicy{
		MaxRetries: 1,
		RetryOn:    []delivery.OutcomeKind{delivery.OutcomeRateLimited},
		MaxWait:    maxWait,
	}
	if bc.Workers < 0 {
		return broadcast.Config{}, errors.New("broadcast.workers must be >= 0")
	}
	if bc.Workers > 0 {
		out.Workers = bc.Workers
	}
	if bc.PruneOnRetryGone != nil {
		out.PruneOnRetryGone = *bc.PruneOnRetryGone
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: tz}, nil
}

// mapDaily returns the daily slot and options. ok is false when the daily
// broadcast is disabled.
func mapDaily(cfg *config.Config) (at string, opt scheduler.DailyOptions, ok bool, err error) {
	bc := cfg.Broadcast
	at = strings.TrimSpace(bc.DailyAt)
	if at == "" {
		at = config.DefaultDailyAt
	}
	if err := scheduler.ValidateDaily(at); err != nil {
		return "", opt, false, fmt.Errorf("broadcast.daily_at: %w", err)
	}
	grace, err := config.ParseDurationOrDefault("broadcast.misfire_grace", bc.MisfireGrace, scheduler.DefaultGrace)
	if err != nil {
		return "", opt, false, err
	}
	timeout, err := config.ParseDurationField("broadcast.cycle_timeout", bc.CycleTimeout)
	if err != nil {
		return "", opt, false, err
	}
	return at, scheduler.DailyOptions{Grace: grace, Timeout: timeout}, bc.Enabled, nil
}

func mapLLMConfig(cfg *config.Config) (llm.Config, bool, error) {
	ac := cfg.AI
	timeout, err := config.ParseDurationOrDefault("ai.timeout", ac.Timeout, 90*time.Second)
	if err != nil {
		return llm.Config{}, false, err
	}
	out := llm.Config{
		APIKey:  strings.TrimSpace(ac.APIKey),
		BaseURL: strings.TrimSpace(ac.BaseURL),
		Model:   strings.TrimSpace(ac.Model),
		Timeout: timeout,
	}
	if out.Model == "" {
		out.Model = config.DefaultAIModel
	}
	return out, ac.Enabled && out.APIKey != "", nil
}

func mapSearchConfig(cfg *config.Config) (search.Config, bool, error) {
	sc := cfg.Search
	timeout, err := config.ParseDurationOrDefault("search.timeout", sc.Timeout, 20*time.Second)
	if err != nil {
		return search.Config{}, false, err
	}
	if sc.NumResults < 0 || sc.NumResults > 10 {
		return search.Config{}, false, errors.New("search.num_results must be between 0 and 10")
	}
	out := search.Config{
		APIKey:     strings.TrimSpace(sc.APIKey),
		BaseURL:    strings.TrimSpace(sc.BaseURL),
		NumResults: sc.NumResults,
		Timeout:    timeout,
	}
	return out, sc.Enabled && out.APIKey != "", nil
}

func mapChatConfig(cfg *config.Config) (chat.Config, error) {
	// one answer may include a search and a completion
	timeout, err := config.ParseDurationOrDefault("ai.timeout", cfg.AI.Timeout, 90*time.Second)
	if err != nil {
		return chat.Config{}, err
	}
	prompt := strings.TrimSpace(cfg.AI.SystemPrompt)
	if prompt == "" {
		prompt = config.DefaultSystemPrompt
	}
	return chat.Config{SystemPrompt: prompt, Timeout: 2 * timeout}, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	out := ops.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 10*time.Second); err != nil {
		return ops.Config{}, err
	}
	// pprof profiles stream for up to 30s by default
	if out.WriteTimeout, err = config.ParseDurationOrDefault("ops.write_timeout", oc.WriteTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.Enabled {
		if err := ops.CheckBind(out); err != nil {
			return ops.Config{}, err
		}
	}
	return out, nil
}

// validate runs every mapper so a bad file is rejected as a whole, both at
// startup and on hot reload.
func validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if _, err := config.ParseChatID("telegram.group_log", cfg.Telegram.GroupLog); err != nil {
		return err
	}
	if cfg.Telegram.Workers < 0 {
		return errors.New("telegram.workers must be >= 0")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := mapHandlerTimeout(cfg); err != nil {
		return err
	}
	if cfg.Logging.Telegram.RatePerSec < 0 {
		return errors.New("logging.telegram.rate_per_sec must be >= 0")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBroadcastConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, _, _, err := mapDaily(cfg); err != nil {
		return err
	}
	if _, _, err := mapLLMConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapSearchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	return nil
}
