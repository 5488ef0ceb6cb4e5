package notifier

import (
	"context"
	"errors"
	"html"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"hwbot/internal/eventbus"
	"hwbot/internal/homework"
	kit "hwbot/internal/transport"
	logx "hwbot/pkg/logx"
)

const (
	defaultSendTimeout = 10 * time.Second
	defaultHistorySize = 100
	logPreviewRunes    = 200
)

var ErrNoTarget = errors.New("notifier: no chat target configured")

// Service is the notification dispatcher. It is safe for concurrent use.
type Service struct {
	cfg     Config
	sender  kit.Sender
	log     logx.Logger
	bus     eventbus.Bus
	limiter *rate.Limiter

	sent   atomic.Uint64
	failed atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		// burst = rate so a message plus its error report never wait on each other
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, sender: sender, log: log, bus: bus, limiter: lim}
}

// Send makes one delivery attempt and reports whether it succeeded.
func (s *Service) Send(ctx context.Context, text string) bool {
	return s.Deliver(ctx, text) == nil
}

// Deliver is Send with the failure cause. Errors are KindDelivery and have
// already been logged.
func (s *Service) Deliver(ctx context.Context, text string) error {
	start := time.Now()
	ref, err := s.deliver(ctx, text)
	now := time.Now()
	ev := NotificationEvent{Target: s.cfg.Target.String(), MessageID: ref.MessageID, Length: len(text), At: now}

	if err != nil {
		s.failed.Add(1)
		ev.Error = err.Error()
		s.appendHistory(HistoryItem{At: now, Text: text, Error: err.Error()})
		eventbus.Publish(s.bus, eventbus.NotifierFailed, ev)
		s.log.Error("message delivery failed",
			logx.String("chat", s.cfg.Target.String()),
			logx.String("text", preview(text)),
			logx.Duration("took", now.Sub(start)),
			logx.Err(err),
		)
		return homework.DeliveryError(err)
	}

	s.sent.Add(1)
	s.appendHistory(HistoryItem{At: now, Text: text, Delivered: true})
	eventbus.Publish(s.bus, eventbus.NotifierSent, ev)
	s.log.Info("message delivered",
		logx.String("chat", s.cfg.Target.String()),
		logx.Int("message_id", ref.MessageID),
		logx.String("text", preview(text)),
		logx.Duration("took", now.Sub(start)),
	)
	return nil
}

func (s *Service) deliver(ctx context.Context, text string) (ref kit.MessageRef, err error) {
	if s.sender == nil || s.cfg.Target.IsZero() {
		return kit.MessageRef{}, ErrNoTarget
	}
	// A buggy sender must not take the poll loop down with it.
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("notifier: sender panicked")
		}
	}()

	sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	if err := s.limiter.Wait(sctx); err != nil {
		return kit.MessageRef{}, err
	}
	return s.sender.SendText(sctx, s.cfg.Target, escapeFor(s.cfg.ParseMode, text), &kit.SendOptions{
		ParseMode:      s.cfg.ParseMode,
		DisablePreview: s.cfg.DisablePreview,
	})
}

func (s *Service) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Failed: s.failed.Load()}
}

// Snapshot returns the history, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

// escapeFor makes plain text safe for the chat parse mode. Messages are
// always plain text; only HTML needs escaping.
func escapeFor(parseMode, text string) string {
	if strings.EqualFold(parseMode, "HTML") {
		return html.EscapeString(text)
	}
	return text
}

func preview(s string) string {
	rs := []rune(s)
	if len(rs) <= logPreviewRunes {
		return s
	}
	return string(rs[:logPreviewRunes-3]) + "..."
}
