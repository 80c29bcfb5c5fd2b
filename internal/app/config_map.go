package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"tickerwatch/internal/alerts"
	"tickerwatch/internal/config"
	"tickerwatch/internal/notifier"
	"tickerwatch/internal/observability/pprof"
	"tickerwatch/internal/relay"
	"tickerwatch/internal/server"
	"tickerwatch/internal/storage"
	logx "tickerwatch/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertsConfig{
			Enabled:    cfg.Logging.Alerts.Enabled,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

// mapStorageConfig returns the store to open. No storage section means the
// snooze list lives in memory only.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			path = "./tickerwatch-state.json"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapAlertsConfig(cfg *config.Config) (alerts.Config, error) {
	toast, err := config.ParseDurationOrDefault("alerts.toast_duration", cfg.Alerts.ToastDuration, 6*time.Second)
	if err != nil {
		return alerts.Config{}, err
	}
	// Zero keeps the queue's own default transition.
	trans, err := config.ParseDurationField("alerts.transition_delay", cfg.Alerts.TransitionDelay)
	if err != nil {
		return alerts.Config{}, err
	}
	backlog := cfg.Alerts.MaxBacklog
	if backlog == 0 {
		backlog = config.DefaultMaxBacklog
	}
	return alerts.Config{ToastDuration: toast, TransitionDelay: trans, MaxBacklog: backlog}, nil
}

func mapServerConfig(cfg *config.Config) (server.Config, error) {
	rt, err := config.ParseDurationOrDefault("server.read_timeout", cfg.Server.ReadTimeout, 10*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	wt, err := config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout)
	if err != nil {
		return server.Config{}, err
	}
	addr := strings.TrimSpace(cfg.Server.Addr)
	if addr == "" {
		addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.NotifyPort()))
	}
	return server.Config{Addr: addr, ReadTimeout: rt, WriteTimeout: wt}, nil
}

func mapRelayOptions(cfg *config.Config) (relay.Options, error) {
	t, err := config.ParseDurationOrDefault("relay.timeout", cfg.Relay.Timeout, relay.DefaultTimeout)
	if err != nil {
		return relay.Options{}, err
	}
	return relay.Options{Timeout: t}, nil
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	rps := cfg.Desktop.RatePerSec
	if rps <= 0 {
		rps = 3
	}
	return notifier.Config{
		Enabled:     true,
		Workers:     2,
		QueueSize:   64,
		RatePerSec:  rps,
		SendTimeout: 10 * time.Second,
	}
}

func mapTelegramConfig(cfg *config.Config) (notifier.TelegramConfig, bool, error) {
	if cfg.Telegram == nil || !cfg.Telegram.Enabled {
		return notifier.TelegramConfig{}, false, nil
	}
	pt, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return notifier.TelegramConfig{}, false, err
	}
	return notifier.TelegramConfig{
		Token:       cfg.Telegram.Token,
		ChatID:      cfg.Telegram.ChatID,
		PollTimeout: pt,
	}, true, nil
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	return pprof.Config{Addr: strings.TrimSpace(cfg.Debug.PprofAddr), Token: cfg.Debug.Token}
}

// validate gates the initial load and every hot reload: the static checks
// plus every mapping NewApp and applyConfig would run.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAlertsConfig(cfg); err != nil {
		return err
	}
	if _, err := mapServerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRelayOptions(cfg); err != nil {
		return err
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	return nil
}
