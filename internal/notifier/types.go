package notifier

import (
	"time"

	kit "hwbot/internal/transport"
)

type Config struct {
	Target         kit.ChatTarget
	ParseMode      string
	DisablePreview bool
	SendTimeout    time.Duration
	// RatePerSec <= 0 disables rate limiting.
	RatePerSec  int
	HistorySize int
}

type HistoryItem struct {
	At        time.Time `json:"at"`
	Text      string    `json:"text"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
}

// Stats are cumulative counters since start.
type Stats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

// NotificationEvent is published on the event bus after each attempt.
type NotificationEvent struct {
	Target    string    `json:"target"`
	MessageID int       `json:"message_id,omitempty"`
	Length    int       `json:"length"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}
