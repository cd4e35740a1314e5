package config

const (
	DefaultAIBaseURL     = "https://openrouter.ai/api/v1"
	DefaultAIModel       = "google/gemini-2.0-flash-exp:free"
	DefaultSystemPrompt  = "Ты Гарри Поттер, который общается в стихотворной форме."
	DefaultSearchBaseURL = "https://api.exa.ai"

	DefaultDailyAt      = "09:00"
	DefaultMisfireGrace = "1h"
	DefaultPacing       = "50ms"
	DefaultStoragePath  = "./data/songbot"
)

// Default returns the configuration used when no file exists. Parse decodes
// the file on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout:    "10s",
			Workers:        4,
			HandlerTimeout: "60s",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Telegram: LoggingTelegram{
				MinLevel:   "warn",
				RatePerSec: 1,
			},
		},
		Storage: StorageConfig{
			Driver: "file",
			Path:   DefaultStoragePath,
		},
		Broadcast: BroadcastConfig{
			Enabled:      true,
			DailyAt:      DefaultDailyAt,
			MisfireGrace: DefaultMisfireGrace,
			Pacing:       DefaultPacing,
			Workers:      1,
			SendTimeout:  "15s",
			CycleTimeout: "2h",
			MaxRetryWait: "5m",
		},
		Scheduler: SchedulerConfig{Enabled: true},
		AI: AIConfig{
			Enabled:      true,
			BaseURL:      DefaultAIBaseURL,
			Model:        DefaultAIModel,
			SystemPrompt: DefaultSystemPrompt,
			Timeout:      "90s",
		},
		Search: SearchConfig{
			Enabled:    true,
			BaseURL:    DefaultSearchBaseURL,
			NumResults: 3,
			Timeout:    "20s",
		},
		Ops: OpsConfig{
			Addr:  "127.0.0.1:9090",
			Pprof: true,
		},
	}
}
