package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logx "hwbot/pkg/logx"
)

// fileStore keeps the cursor in one JSON document. Writes go to a temp file
// that is renamed over the target.
type fileStore struct {
	path string
	log  logx.Logger

	mu     sync.Mutex
	cached *cursorRecord
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	st := &fileStore{path: path, log: log}
	rec, err := st.read()
	if err != nil {
		return nil, err
	}
	st.cached = rec
	return st, nil
}

func (s *fileStore) read() (*cursorRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var rec cursorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// Keep the damaged file for inspection and start over.
		broken := s.path + ".broken"
		_ = os.Rename(s.path, broken)
		s.log.Warn("cursor file is corrupt; moved aside", logx.String("path", s.path), logx.String("moved_to", broken), logx.Err(err))
		return nil, nil
	}
	return &rec, nil
}

func (s *fileStore) LoadCursor(ctx context.Context) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return 0, false, nil
	}
	return s.cached.Cursor, true, nil
}

func (s *fileStore) SaveCursor(ctx context.Context, cursor int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && s.cached.Cursor >= cursor {
		return nil
	}

	rec := cursorRecord{Cursor: cursor, UpdatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp cursor file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp cursor file: %w", err)
	}
	s.cached = &rec
	return nil
}

func (s *fileStore) Close() error { return nil }
