package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "hwbot/internal/transport"
	logx "hwbot/pkg/logx"
)

const (
	telegramTextLimit = 4000
	defaultAPIURL     = tele.DefaultApiURL
)

type Config struct {
	Token string
	// APIURL overrides the Bot API base URL (self-hosted servers, tests).
	APIURL string
	// Timeout bounds a single HTTP call to the Bot API.
	Timeout time.Duration
}

// Adapter is a send-only Telegram client. It never polls for updates.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	api := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if api == "" {
		api = defaultAPIURL
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		URL:    api,
		Client: &http.Client{Timeout: cfg.Timeout},
		// Offline skips getMe so startup never depends on Telegram being reachable.
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// BotInfo is the subset of getMe we report.
type BotInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Probe calls getMe. It is best-effort and only used for startup diagnostics.
func (a *Adapter) Probe(ctx context.Context) (BotInfo, error) {
	if err := ctx.Err(); err != nil {
		return BotInfo{}, err
	}
	raw, err := a.bot.Raw("getMe", map[string]string{})
	if err != nil {
		return BotInfo{}, err
	}
	var resp struct {
		Result BotInfo `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return BotInfo{}, fmt.Errorf("decode getMe: %w", err)
	}
	return resp.Result, nil
}

type recipient string

func (r recipient) Recipient() string { return string(r) }

func toRecipient(to kit.ChatTarget) tele.Recipient {
	return recipient(to.String())
}

// splitTelegramText splits long messages into chunks Telegram accepts.
// It prefers newline boundaries and, for HTML, avoids cutting inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// SendText sends text as one message, or several when it exceeds the Telegram
// limit. The reference of the first message is returned.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if to.IsZero() {
		return kit.MessageRef{}, errors.New("telegram: empty chat target")
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	rcpt := toRecipient(to)
	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(rcpt, chunk, &tele.SendOptions{
			ParseMode:             tele.ParseMode(opt.ParseMode),
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, fmt.Errorf("telegram sendMessage to %s: %w", to, err)
		}
		if i == 0 && msg != nil {
			first = kit.MessageRef{Chat: to, MessageID: msg.ID}
		}
	}
	return first, nil
}
