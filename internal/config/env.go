package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvPracticumToken = "PRACTICUM_TOKEN"
	EnvTelegramToken  = "TELEGRAM_TOKEN"
	EnvTelegramChatID = "TELEGRAM_CHAT_ID"
)

// Credentials are read once at startup and never reloaded.
type Credentials struct {
	PracticumToken string
	TelegramToken  string
	ChatID         string
}

// LoadCredentials reads credentials from the environment. getenv may be nil
// (os.Getenv is used).
func LoadCredentials(getenv func(string) string) Credentials {
	if getenv == nil {
		getenv = os.Getenv
	}
	return Credentials{
		PracticumToken: strings.TrimSpace(getenv(EnvPracticumToken)),
		TelegramToken:  strings.TrimSpace(getenv(EnvTelegramToken)),
		ChatID:         strings.TrimSpace(getenv(EnvTelegramChatID)),
	}
}

// Missing lists the environment variable names that are unset or blank, in a
// stable order.
func (c Credentials) Missing() []string {
	var out []string
	if c.PracticumToken == "" {
		out = append(out, EnvPracticumToken)
	}
	if c.TelegramToken == "" {
		out = append(out, EnvTelegramToken)
	}
	if c.ChatID == "" {
		out = append(out, EnvTelegramChatID)
	}
	return out
}

// ReadDotEnv reads KEY=VALUE pairs from a dotenv file. A missing file or an
// empty path yields a nil map.
func ReadDotEnv(path string) (map[string]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	vals, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vals, nil
}

// WithDotEnv layers file values under getenv: a non-blank process value
// always wins.
func WithDotEnv(getenv func(string) string, file map[string]string) func(string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	if len(file) == 0 {
		return getenv
	}
	return func(k string) string {
		if v := getenv(k); strings.TrimSpace(v) != "" {
			return v
		}
		return file[k]
	}
}
