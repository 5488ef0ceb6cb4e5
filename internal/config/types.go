package config

// DefaultEndpointURL is the homework status API.
const DefaultEndpointURL = "https://practicum.yandex.ru/api/user_api/homework_statuses/"

// Config is the file-backed part of the configuration. Credentials never live
// here; they come from the environment (see LoadCredentials).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Endpoint EndpointConfig `json:"endpoint"`
	Poll     PollConfig     `json:"poll"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Status   StatusConfig   `json:"status"`
}

type EndpointConfig struct {
	URL     string `json:"url"`
	Timeout string `json:"timeout"`
}

// PollConfig controls the fetch cadence.
//
// Interval accepts a Go duration ("600s"), "@every 10m" or a cron expression.
// It is read once at startup.
type PollConfig struct {
	Interval string `json:"interval"`
}

type TelegramConfig struct {
	// APIURL overrides the Bot API base URL (self-hosted bot API servers).
	APIURL         string `json:"api_url,omitempty"`
	ThreadID       int    `json:"thread_id,omitempty"`
	ParseMode      string `json:"parse_mode,omitempty"`
	DisablePreview bool   `json:"disable_preview"`
	SendTimeout    string `json:"send_timeout"`
	RatePerSec     int    `json:"rate_per_sec"`
	HistorySize    int    `json:"history_size,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls optional cursor persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hwbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// StatusConfig controls the optional HTTP status server.
//
// Prefer binding to localhost. A non-loopback address requires a token or
// allow_insecure.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// Default returns the configuration used when no file is given. Parse decodes
// on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		Endpoint: EndpointConfig{URL: DefaultEndpointURL, Timeout: "30s"},
		Poll:     PollConfig{Interval: "600s"},
		Telegram: TelegramConfig{
			DisablePreview: true,
			SendTimeout:    "10s",
			RatePerSec:     1,
			HistorySize:    100,
		},
		Logging: LoggingConfig{Level: "info", Console: true},
		Status:  StatusConfig{Addr: "127.0.0.1:8085"},
	}
}
