package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

// Env holds secrets and overrides read from the process environment.
// Non-empty values win over the config file.
type Env struct {
	BotToken       string `env:"BOT_TOKEN"`
	OwnerUserIDs   string `env:"OWNER_USER_IDS"`
	OpenRouterKey  string `env:"OPENROUTER_API_KEY"`
	ExaKey         string `env:"EXA_API_KEY"`
	AIModel        string `env:"AI_MODEL"`
	AISystemPrompt string `env:"AI_SYSTEM_PROMPT"`
	StorageDSN     string `env:"STORAGE_DSN"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	OpsToken       string `env:"OPS_TOKEN"`
}

// LoadDotEnv loads KEY=VALUE files into the process environment. Values from
// the files take precedence over variables already set. Missing files are
// skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Overload(p); err != nil {
			return fmt.Errorf("dotenv %s: %w", p, err)
		}
	}
	return nil
}

func ReadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// Overlay copies non-empty environment values into cfg.
func (e Env) Overlay(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, e.BotToken)
	set(&cfg.AI.APIKey, e.OpenRouterKey)
	set(&cfg.AI.Model, e.AIModel)
	set(&cfg.AI.SystemPrompt, e.AISystemPrompt)
	set(&cfg.Search.APIKey, e.ExaKey)
	set(&cfg.Storage.DSN, e.StorageDSN)
	set(&cfg.Storage.Password, e.RedisPassword)
	set(&cfg.Ops.Token, e.OpsToken)

	if raw := strings.TrimSpace(e.OwnerUserIDs); raw != "" {
		ids, err := parseIDList(raw)
		if err != nil {
			return fmt.Errorf("OWNER_USER_IDS: %w", err)
		}
		cfg.Telegram.OwnerUserIDs = ids
	}
	return nil
}

func parseIDList(raw string) ([]int64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", f)
		}
		out = append(out, id)
	}
	return out, nil
}
