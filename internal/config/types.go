package config

// Config is the on-disk configuration (JSON or YAML).
//
// Every section is optional; Defaults() documents the values used when a
// section or field is omitted.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Relay   RelayConfig   `json:"relay"`
	Watch   WatchConfig   `json:"watch"`
	Snooze  SnoozeConfig  `json:"snooze"`
	Sound   SoundConfig   `json:"sound"`
	Alerts  AlertsConfig  `json:"alerts"`
	Desktop DesktopConfig `json:"desktop"`
	Logging LoggingConfig `json:"logging"`
	Debug   DebugConfig   `json:"debug"`

	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

// ServerConfig controls the local notification server (serve role).
type ServerConfig struct {
	Enabled bool `json:"enabled"`
	// Addr defaults to 127.0.0.1:<relay.port> so both roles agree out of the box.
	Addr         string `json:"addr,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// ChartURL is a template; "{symbol}" is replaced with the ticker.
	ChartURL string `json:"chart_url,omitempty"`
}

// RelayConfig controls the relay client (watch role).
//
// Port is the "notifyPort" key. Zero means "use the default port".
type RelayConfig struct {
	Port    int    `json:"port"`
	Timeout string `json:"timeout,omitempty"`
}

// WatchConfig lists the feeds the watcher observes.
type WatchConfig struct {
	Enabled bool `json:"enabled"`
	// Channels is the whitelist ("whitelistedChannels"); only these are watched.
	Channels []Channel `json:"channels"`
	// Stdin treats standard input as one long-lived page session.
	Stdin bool `json:"stdin,omitempty"`
	// ReconnectDelay between websocket sessions (Go duration).
	ReconnectDelay string `json:"reconnect_delay,omitempty"`
}

type Channel struct {
	URL         string `json:"url"`
	DisplayName string `json:"display_name"`
}

// SnoozeConfig controls the scheduled daily clear of the snooze list.
type SnoozeConfig struct {
	// ClearAt is a wall-clock HH:MM. Empty disables the daily clear.
	ClearAt  string `json:"clear_at,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type SoundConfig struct {
	Enabled  bool   `json:"enabled"`
	Name     string `json:"name"`
	Cooldown string `json:"cooldown,omitempty"`
	Muted    bool   `json:"muted,omitempty"`
	// Command is the player argv; "{sound}" is replaced with Name.
	Command []string `json:"command,omitempty"`
}

type AlertsConfig struct {
	ToastDuration   string `json:"toast_duration,omitempty"`
	TransitionDelay string `json:"transition_delay,omitempty"`
	// MaxBacklog caps each queue's backlog (drop-oldest). 0 uses the default cap.
	MaxBacklog int `json:"max_backlog,omitempty"`
}

// DesktopConfig controls OS-level notifications through a local command.
type DesktopConfig struct {
	Enabled bool `json:"enabled"`
	// Command is the notifier argv; "{title}", "{body}" and "{url}" are substituted.
	Command    []string `json:"command,omitempty"`
	RatePerSec int      `json:"rate_per_sec,omitempty"`
}

// TelegramConfig enables the Telegram deliverer (open chart + snooze buttons).
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts funnels user-significant log records into the error queue.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// DebugConfig enables the pprof listener. Keep it on loopback; any other
// address needs a token.
type DebugConfig struct {
	PprofAddr string `json:"pprof_addr,omitempty"`
	Token     string `json:"token,omitempty"`
}

// StorageConfig controls the persistence layer for snoozes.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tickerwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

const (
	DefaultPort          = 8765
	DefaultChartURL      = "https://www.tradingview.com/chart/?symbol={symbol}"
	DefaultToastDuration = "6s"
	DefaultTransition    = "300ms"
	DefaultMaxBacklog    = 500
	DefaultSoundCooldown = "2s"
)

// Defaults returns the configuration used when the config file is missing or
// unreadable. Both roles are on so a bare install relays and notifies.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Enabled: true, ChartURL: DefaultChartURL},
		Relay:  RelayConfig{Port: DefaultPort},
		Watch:  WatchConfig{Enabled: true, ReconnectDelay: "3s"},
		Sound:  SoundConfig{Enabled: true, Name: "alert", Cooldown: DefaultSoundCooldown},
		Alerts: AlertsConfig{
			ToastDuration:   DefaultToastDuration,
			TransitionDelay: DefaultTransition,
			MaxBacklog:      DefaultMaxBacklog,
		},
		Desktop: DesktopConfig{Enabled: true, RatePerSec: 3},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Alerts:  LoggingAlerts{Enabled: true, MinLevel: "error", RatePerSec: 1},
		},
	}
}

// NotifyPort returns the effective relay port, falling back to DefaultPort
// when the configured value is empty or out of range.
func (c *Config) NotifyPort() int {
	if c == nil {
		return DefaultPort
	}
	return ValidPortOr(c.Relay.Port, DefaultPort)
}

func ValidPortOr(p, def int) int {
	if p < 1 || p > 65535 {
		return def
	}
	return p
}
