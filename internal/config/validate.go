package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate rejects configs that would break a running pipeline on hot reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if p := cfg.Relay.Port; p < 0 || p > 65535 {
		return fmt.Errorf("relay.port must be within 1..65535 (or 0 for default), got %d", p)
	}
	for _, f := range []struct{ path, raw string }{
		{"relay.timeout", cfg.Relay.Timeout},
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"watch.reconnect_delay", cfg.Watch.ReconnectDelay},
		{"sound.cooldown", cfg.Sound.Cooldown},
		{"alerts.toast_duration", cfg.Alerts.ToastDuration},
		{"alerts.transition_delay", cfg.Alerts.TransitionDelay},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if cfg.Alerts.MaxBacklog < 0 {
		return fmt.Errorf("alerts.max_backlog must be >= 0")
	}
	if strings.TrimSpace(cfg.Snooze.ClearAt) != "" {
		if _, _, err := ParseClock("snooze.clear_at", cfg.Snooze.ClearAt); err != nil {
			return err
		}
	}
	if _, err := LoadLocation("snooze.timezone", cfg.Snooze.Timezone); err != nil {
		return err
	}
	for i, ch := range cfg.Watch.Channels {
		u, err := url.Parse(strings.TrimSpace(ch.URL))
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("watch.channels[%d].url: want ws:// or wss:// url, got %q", i, ch.URL)
		}
	}
	if cfg.Telegram != nil && cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is required when telegram.enabled (or set %s)", EnvTelegramToken)
		}
		if cfg.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram.enabled")
		}
		if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
	}
	if addr := strings.TrimSpace(cfg.Debug.PprofAddr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("debug.pprof_addr: %w", err)
		}
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
