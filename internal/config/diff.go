package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tickerwatch/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.Bool("server.enabled", newCfg.Server.Enabled),
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
		)
	}
	if oldCfg.NotifyPort() != newCfg.NotifyPort() || oldCfg.Relay.Timeout != newCfg.Relay.Timeout {
		changed = append(changed, "relay")
		attrs = append(attrs, logx.Int("relay.port", newCfg.NotifyPort()))
	}
	if !reflect.DeepEqual(oldCfg.Watch, newCfg.Watch) {
		changed = append(changed, "watch")
		attrs = append(attrs,
			logx.Bool("watch.enabled", newCfg.Watch.Enabled),
			logx.Int("watch.channels", len(newCfg.Watch.Channels)),
		)
	}
	if oldCfg.Snooze != newCfg.Snooze {
		changed = append(changed, "snooze")
		attrs = append(attrs,
			logx.String("snooze.clear_at", newCfg.Snooze.ClearAt),
			logx.String("snooze.timezone", newCfg.Snooze.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.Sound, newCfg.Sound) {
		changed = append(changed, "sound")
		attrs = append(attrs,
			logx.Bool("sound.enabled", newCfg.Sound.Enabled),
			logx.Bool("sound.muted", newCfg.Sound.Muted),
			logx.String("sound.cooldown", newCfg.Sound.Cooldown),
		)
	}
	if oldCfg.Alerts != newCfg.Alerts {
		changed = append(changed, "alerts")
		attrs = append(attrs, logx.String("alerts.toast_duration", newCfg.Alerts.ToastDuration))
	}
	if !reflect.DeepEqual(oldCfg.Desktop, newCfg.Desktop) {
		changed = append(changed, "desktop")
		attrs = append(attrs, logx.Bool("desktop.enabled", newCfg.Desktop.Enabled))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.String("debug.pprof_addr", strings.TrimSpace(newCfg.Debug.PprofAddr)),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	// Telegram: never log the token, only whether it is set.
	oT, nT := derefTelegram(oldCfg.Telegram), derefTelegram(newCfg.Telegram)
	if oT.Enabled != nT.Enabled || oT.ChatID != nT.ChatID || oT.PollTimeout != nT.PollTimeout || oT.Token != nT.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nT.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(nT.Token) != ""),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTelegram(t *TelegramConfig) TelegramConfig {
	if t == nil {
		return TelegramConfig{}
	}
	return *t
}
