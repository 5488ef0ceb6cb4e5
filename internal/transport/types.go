// Package transport holds the platform-neutral types used to deliver text
// to a chat.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ChatTarget identifies the destination chat. Either ChatID or Username is set.
type ChatTarget struct {
	ChatID   int64
	Username string // channel username without "@"
	ThreadID int    // forum topic thread id (0 if none)
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 && t.Username == "" }

func (t ChatTarget) String() string {
	if t.Username != "" {
		return "@" + t.Username
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseChatTarget accepts a numeric chat id ("-100123") or a public
// username ("@channel").
func ParseChatTarget(s string, threadID int) (ChatTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ChatTarget{}, errors.New("chat id is empty")
	}
	if strings.HasPrefix(s, "@") {
		name := strings.TrimPrefix(s, "@")
		if name == "" || strings.ContainsAny(name, " \t/") {
			return ChatTarget{}, fmt.Errorf("invalid chat username %q", s)
		}
		return ChatTarget{Username: name, ThreadID: threadID}, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return ChatTarget{}, fmt.Errorf("invalid chat id %q", s)
	}
	return ChatTarget{ChatID: id, ThreadID: threadID}, nil
}

type MessageRef struct {
	Chat      ChatTarget
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers text to a chat. Implementations make exactly one attempt
// per chunk and do not retry.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
