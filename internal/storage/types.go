package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the poll loop.
type Store interface {
	// LoadCursor returns the stored cursor; ok is false when none was saved yet.
	LoadCursor(ctx context.Context) (cursor int64, ok bool, err error)
	// SaveCursor stores cursor unless a larger value is already stored.
	SaveCursor(ctx context.Context, cursor int64) error
	Close() error
}

type cursorRecord struct {
	Cursor    int64     `json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}
