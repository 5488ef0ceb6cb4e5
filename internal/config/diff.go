package config

import (
	"reflect"
	"sort"
	"strings"

	logx "hwbot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, safe attrs for logging
// (never tokens) and the subset of changed sections that only take effect
// after a restart. Logging is the only live-reloadable section.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Endpoint, newCfg.Endpoint) {
		restart = append(restart, "endpoint")
		attrs = append(attrs, logx.String("endpoint.timeout", strings.TrimSpace(newCfg.Endpoint.Timeout)))
	}
	if strings.TrimSpace(oldCfg.Poll.Interval) != strings.TrimSpace(newCfg.Poll.Interval) {
		restart = append(restart, "poll")
		attrs = append(attrs, logx.String("poll.interval", strings.TrimSpace(newCfg.Poll.Interval)))
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		restart = append(restart, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.rate_per_sec", newCfg.Telegram.RatePerSec),
			logx.String("telegram.send_timeout", strings.TrimSpace(newCfg.Telegram.SendTimeout)),
			logx.Bool("telegram.api_url_set", strings.TrimSpace(newCfg.Telegram.APIURL) != ""),
		)
	}

	oDriver, nDriver := storageDriver(oldCfg.Storage), storageDriver(newCfg.Storage)
	if oDriver != nDriver || !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		restart = append(restart, "storage")
		attrs = append(attrs, logx.String("storage.driver", nDriver))
	}

	o, n := oldCfg.Status, newCfg.Status
	if o.Enabled != n.Enabled || o.Addr != n.Addr || o.Pprof != n.Pprof || o.AllowInsecure != n.AllowInsecure ||
		(strings.TrimSpace(o.Token) != "") != (strings.TrimSpace(n.Token) != "") {
		restart = append(restart, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", n.Enabled),
			logx.String("status.addr", n.Addr),
			logx.Bool("status.token_set", strings.TrimSpace(n.Token) != ""),
		)
	}

	changed = append(changed, restart...)
	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}

func storageDriver(sc *StorageConfig) string {
	if sc == nil {
		return "none"
	}
	d := strings.ToLower(strings.TrimSpace(sc.Driver))
	if d == "" {
		return "none"
	}
	return d
}
