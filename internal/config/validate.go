package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate checks everything that can be checked without touching the network.
// The poll interval is validated by the poller, which owns the schedule syntax.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	u, err := url.Parse(strings.TrimSpace(cfg.Endpoint.URL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("endpoint.url: invalid url %q", cfg.Endpoint.URL))
	}
	if _, err := ParseDurationField("endpoint.timeout", cfg.Endpoint.Timeout); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(cfg.Poll.Interval) == "" {
		errs = append(errs, errors.New("poll.interval: required"))
	}
	if _, err := ParseDurationField("telegram.send_timeout", cfg.Telegram.SendTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Telegram.RatePerSec < 0 {
		errs = append(errs, errors.New("telegram.rate_per_sec: must be >= 0"))
	}
	if api := strings.TrimSpace(cfg.Telegram.APIURL); api != "" {
		if u, err := url.Parse(api); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("telegram.api_url: invalid url %q", api))
		}
	}
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Status.Enabled {
		if err := validateStatusAddr(cfg.Status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateStatusAddr(sc StatusConfig) error {
	host, _, err := net.SplitHostPort(strings.TrimSpace(sc.Addr))
	if err != nil {
		return fmt.Errorf("status.addr: %w", err)
	}
	if isLoopbackHost(host) || strings.TrimSpace(sc.Token) != "" || sc.AllowInsecure {
		return nil
	}
	return fmt.Errorf("status.addr: %q is not loopback; set status.token or status.allow_insecure", sc.Addr)
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
