package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvTelegramToken = "TICKERWATCH_TELEGRAM_TOKEN"
	EnvNotifyPort    = "TICKERWATCH_NOTIFY_PORT"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// applyEnv overlays environment overrides on a parsed config.
// Secrets belong in the environment (or .env), not in the watched file.
func applyEnv(cfg *Config) {
	if tok := strings.TrimSpace(os.Getenv(EnvTelegramToken)); tok != "" {
		if cfg.Telegram == nil {
			cfg.Telegram = &TelegramConfig{}
		}
		cfg.Telegram.Token = tok
	}
	if raw := strings.TrimSpace(os.Getenv(EnvNotifyPort)); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && ValidPortOr(p, 0) != 0 {
			cfg.Relay.Port = p
		}
	}
}
