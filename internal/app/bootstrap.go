package app

import (
	"fmt"
	"strings"
	"time"

	"hwbot/internal/config"
	"hwbot/internal/homework"
	"hwbot/internal/notifier"
	"hwbot/internal/observability/status"
	"hwbot/internal/storage"
	kit "hwbot/internal/transport"
	logx "hwbot/pkg/logx"
)

// checkTokens logs the missing environment variables and returns a
// configuration error when any credential is absent.
func checkTokens(log logx.Logger, creds config.Credentials) error {
	missing := creds.Missing()
	if len(missing) == 0 {
		return nil
	}
	log.Error("required environment variables are missing", logx.Strs("missing", missing))
	return homework.ConfigurationError(
		"missing required environment variables: "+strings.Join(missing, ", "), nil)
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapNotifierConfig(cfg *config.Config, target kit.ChatTarget) (notifier.Config, error) {
	sendTimeout, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Target:         target,
		ParseMode:      strings.TrimSpace(cfg.Telegram.ParseMode),
		DisablePreview: cfg.Telegram.DisablePreview,
		SendTimeout:    sendTimeout,
		RatePerSec:     cfg.Telegram.RatePerSec,
		HistorySize:    cfg.Telegram.HistorySize,
	}, nil
}

// mapStorageConfig returns enabled=false when no driver is configured.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path)}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapStatusConfig(cfg *config.Config) status.Config {
	return status.Config{
		Addr:          strings.TrimSpace(cfg.Status.Addr),
		Token:         strings.TrimSpace(cfg.Status.Token),
		AllowInsecure: cfg.Status.AllowInsecure,
		Pprof:         cfg.Status.Pprof,
		ReadTimeout:   10 * time.Second,
		IdleTimeout:   60 * time.Second,
	}
}
