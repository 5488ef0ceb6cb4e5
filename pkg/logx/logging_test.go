package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFixedAndCallSiteFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("comp", "poller"))

	log.Info("iteration finished", Int64("cursor", 1000), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["comp"] != "poller" {
		t.Fatalf("comp=%v", m["comp"])
	}
	if m["cursor"] != float64(1000) {
		t.Fatalf("cursor=%v", m["cursor"])
	}
	if m["message"] != "iteration finished" {
		t.Fatalf("message=%v", m["message"])
	}
	if m["error"] == nil && m["err"] == nil {
		t.Fatalf("expected error field, got %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller=%v", m["caller"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %q", buf.String())
	}
	if log.Enabled(LevelInfo) {
		t.Fatalf("info should not be enabled")
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn missing: %q", buf.String())
	}
}

func TestZeroAndNopLoggersAreSafe(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatalf("zero value should report IsZero")
	}
	zero.Error("nothing happens")
	Nop().With(String("k", "v")).Info("nothing happens")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in, LevelInfo); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestServiceApplySwitchesFileSink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.log")
	second := filepath.Join(dir, "b.log")

	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	defer svc.Close()

	log.Info("to-first")
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: second}})
	log.Info("to-second")

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read a: %v", err)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("read b: %v", err)
	}
	if !strings.Contains(string(a), "to-first") || strings.Contains(string(a), "to-second") {
		t.Fatalf("unexpected a.log: %q", a)
	}
	if !strings.Contains(string(b), "to-second") {
		t.Fatalf("unexpected b.log: %q", b)
	}
	if svc.Config().File.Path != second {
		t.Fatalf("config not recorded: %+v", svc.Config())
	}
}
