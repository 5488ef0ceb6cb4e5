package poller

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultInterval is the pause between two polls.
const DefaultInterval = 600 * time.Second

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseInterval turns the poll.interval setting into a schedule.
//
// Supported forms:
//   - Go duration: "600s", "10m" (fixed pause after each iteration)
//   - Descriptor: "@every 10m", "@hourly"
//   - Cron: "*/10 * * * *" or "cron:0 */10 * * * *"
//
// An empty string yields DefaultInterval.
func ParseInterval(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return cron.Every(DefaultInterval), nil
	}
	if strings.HasPrefix(strings.ToLower(s), "cron:") {
		s = strings.TrimSpace(s[len("cron:"):])
		if s == "" {
			return nil, fmt.Errorf("poll.interval: cron expression required after 'cron:'")
		}
		return parseCron(s)
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return parseCron(s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("poll.interval: invalid interval %q (use a duration like '600s', '@every 10m' or a cron expression)", raw)
	}
	if d < time.Second {
		return nil, fmt.Errorf("poll.interval: interval must be >= 1s, got %s", d)
	}
	return cron.Every(d), nil
}

func parseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("poll.interval: invalid cron %q: %w", expr, err)
	}
	return sched, nil
}

// untilNext is how long to sleep before the next poll. It is never negative.
func untilNext(s cron.Schedule, now time.Time) time.Duration {
	next := s.Next(now)
	if next.IsZero() || !next.After(now) {
		return 0
	}
	return next.Sub(now)
}
