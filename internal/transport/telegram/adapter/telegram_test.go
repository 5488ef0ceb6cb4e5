package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	kit "hwbot/internal/transport"
	logx "hwbot/pkg/logx"
)

type fakeBotAPI struct {
	mu    sync.Mutex
	calls []map[string]any
	paths []string
	fail  bool
}

func (f *fakeBotAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)

		f.mu.Lock()
		f.paths = append(f.paths, r.URL.Path)
		f.calls = append(f.calls, payload)
		n := len(f.calls)
		fail := f.fail
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"hw","username":"hw_bot"}}`))
		case fail:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":` + itoa(n) + `,"date":0,"chat":{"id":42,"type":"private"}}}`))
		}
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newTestAdapter(t *testing.T, api *fakeBotAPI) *Adapter {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	a, err := New(Config{Token: "123:abc", APIURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return a
}

func TestSendTextPostsSendMessage(t *testing.T) {
	api := &fakeBotAPI{}
	a := newTestAdapter(t, api)

	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 42}, "hello", &kit.SendOptions{DisablePreview: true})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ref.MessageID != 1 || ref.Chat.ChatID != 42 {
		t.Fatalf("ref=%+v", ref)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.paths) != 1 || api.paths[0] != "/bot123:abc/sendMessage" {
		t.Fatalf("paths=%v", api.paths)
	}
	if got := api.calls[0]["chat_id"]; got != "42" {
		t.Fatalf("chat_id=%v", got)
	}
	if got := api.calls[0]["text"]; got != "hello" {
		t.Fatalf("text=%v", got)
	}
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	api := &fakeBotAPI{}
	a := newTestAdapter(t, api)

	text := strings.Repeat("a", telegramTextLimit) + "\n" + strings.Repeat("b", 10)
	ref, err := a.SendText(context.Background(), kit.ChatTarget{Username: "chan"}, text, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ref.MessageID != 1 {
		t.Fatalf("first message id=%d", ref.MessageID)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.calls) != 2 {
		t.Fatalf("calls=%d want 2", len(api.calls))
	}
	if api.calls[0]["chat_id"] != "@chan" {
		t.Fatalf("chat_id=%v", api.calls[0]["chat_id"])
	}
}

func TestSendTextReportsAPIError(t *testing.T) {
	api := &fakeBotAPI{fail: true}
	a := newTestAdapter(t, api)

	_, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 42}, "x", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "sendMessage to 42") {
		t.Fatalf("err=%v", err)
	}
}

func TestSendTextRejectsEmptyTargetAndCancelledContext(t *testing.T) {
	api := &fakeBotAPI{}
	a := newTestAdapter(t, api)

	if _, err := a.SendText(context.Background(), kit.ChatTarget{}, "x", nil); err == nil {
		t.Fatalf("expected empty target error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.SendText(ctx, kit.ChatTarget{ChatID: 1}, "x", nil); err == nil {
		t.Fatalf("expected context error")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.calls) != 0 {
		t.Fatalf("no request should be made, got %d", len(api.calls))
	}
}

func TestProbe(t *testing.T) {
	a := newTestAdapter(t, &fakeBotAPI{})
	info, err := a.Probe(context.Background())
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.ID != 99 || info.Username != "hw_bot" {
		t.Fatalf("info=%+v", info)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	if _, err := New(Config{Token: " "}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSplitTelegramText(t *testing.T) {
	if got := splitTelegramText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short=%v", got)
	}

	in := "line one\nline two\nline three"
	got := splitTelegramText(in, 12, "")
	if strings.Join(got, "\n") != in {
		t.Fatalf("chunks do not reassemble: %q", got)
	}
	for _, c := range got {
		if len([]rune(c)) > 12 {
			t.Fatalf("chunk too long: %q", c)
		}
	}

	html := "abcdefgh<b>bold</b>"
	got = splitTelegramText(html, 10, "HTML")
	if got[0] != "abcdefgh" {
		t.Fatalf("html split inside tag: %q", got)
	}
}
