package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hwbot/internal/eventbus"
	"hwbot/internal/homework"
	"hwbot/internal/storage"
	logx "hwbot/pkg/logx"
)

type fakeFetcher struct {
	mu      sync.Mutex
	cursors []int64
	fetch   func(cursor int64) (homework.Response, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, cursor int64) (homework.Response, error) {
	f.mu.Lock()
	f.cursors = append(f.cursors, cursor)
	f.mu.Unlock()
	return f.fetch(cursor)
}

// jsonFetcher decodes body the way the real client does.
func jsonFetcher(body string) *fakeFetcher {
	return &fakeFetcher{fetch: func(int64) (homework.Response, error) {
		dec := json.NewDecoder(strings.NewReader(body))
		dec.UseNumber()
		var v any
		err := dec.Decode(&v)
		return v, err
	}}
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []string
	ok   bool
}

func (d *fakeDispatcher) Send(ctx context.Context, text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, text)
	return d.ok
}

func (d *fakeDispatcher) texts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

func newLoop(f Fetcher, d Dispatcher, opts Options) *Loop {
	if opts.Cursor == 0 {
		opts.Cursor = 500
	}
	opts.Log = logx.Nop()
	return New(f, homework.NewTranslator(nil), d, opts)
}

func approvedMessage(name string) string {
	verdict, _ := homework.NewTranslator(nil).Verdict("approved")
	return `Changed review status for "` + name + `". ` + verdict
}

func TestScenarioApprovedAdvancesCursor(t *testing.T) {
	f := jsonFetcher(`{"homeworks":[{"homework_name":"proj1","status":"approved"}],"current_date":1000}`)
	d := &fakeDispatcher{ok: true}
	l := newLoop(f, d, Options{})

	res := l.Iterate(context.Background())
	if res.Outcome != OutcomeNotified {
		t.Fatalf("outcome=%v err=%v", res.Outcome, res.Err)
	}
	sent := d.texts()
	if len(sent) != 1 || sent[0] != approvedMessage("proj1") {
		t.Fatalf("sent=%q", sent)
	}
	if l.Cursor() != 1000 {
		t.Fatalf("cursor=%d want 1000", l.Cursor())
	}
	if f.cursors[0] != 500 {
		t.Fatalf("fetched with cursor %d", f.cursors[0])
	}
}

func TestScenarioServiceUnavailableReportsOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := &fakeDispatcher{ok: true}
	l := newLoop(homework.NewClient(srv.URL, "token"), d, Options{})

	res := l.Iterate(context.Background())
	if !homework.IsKind(res.Err, homework.KindRemoteRejection) {
		t.Fatalf("err=%v", res.Err)
	}
	if res.Outcome != OutcomeErrorReported {
		t.Fatalf("outcome=%v", res.Outcome)
	}
	sent := d.texts()
	if len(sent) != 1 || !strings.HasPrefix(sent[0], ErrorPrefix) || !strings.Contains(sent[0], "503") {
		t.Fatalf("sent=%q", sent)
	}
	if l.Cursor() != 500 {
		t.Fatalf("cursor moved to %d", l.Cursor())
	}

	// the same failure again is suppressed
	res = l.Iterate(context.Background())
	if res.Outcome != OutcomeErrorSuppressed || len(d.texts()) != 1 {
		t.Fatalf("outcome=%v sent=%d", res.Outcome, len(d.texts()))
	}
}

func TestScenarioEmptyBatchSendsNothing(t *testing.T) {
	d := &fakeDispatcher{ok: true}
	l := newLoop(jsonFetcher(`{"homeworks":[],"current_date":2000}`), d, Options{})

	res := l.Iterate(context.Background())
	if res.Outcome != OutcomeNoUpdates || res.Err != nil {
		t.Fatalf("outcome=%v err=%v", res.Outcome, res.Err)
	}
	if len(d.texts()) != 0 {
		t.Fatalf("sent=%q", d.texts())
	}
	if l.Cursor() != 500 {
		t.Fatalf("cursor=%d", l.Cursor())
	}
}

func TestMissingHomeworksReportsSchemaErrorOnly(t *testing.T) {
	d := &fakeDispatcher{ok: true}
	l := newLoop(jsonFetcher(`{"current_date":1000}`), d, Options{})

	res := l.Iterate(context.Background())
	if !homework.IsKind(res.Err, homework.KindSchema) {
		t.Fatalf("err=%v", res.Err)
	}
	sent := d.texts()
	if len(sent) != 1 || sent[0] != ErrorPrefix+"missing homeworks key" {
		t.Fatalf("sent=%q", sent)
	}
}

func TestUnknownVerdictIsReported(t *testing.T) {
	d := &fakeDispatcher{ok: true}
	l := newLoop(jsonFetcher(`{"homeworks":[{"homework_name":"p","status":"on_hold"}],"current_date":900}`), d, Options{})

	res := l.Iterate(context.Background())
	if !homework.IsKind(res.Err, homework.KindUnknownVerdict) {
		t.Fatalf("err=%v", res.Err)
	}
	if sent := d.texts(); len(sent) != 1 || !strings.Contains(sent[0], "on_hold") {
		t.Fatalf("sent=%q", sent)
	}
	if l.Cursor() != 500 {
		t.Fatalf("cursor advanced on error: %d", l.Cursor())
	}
}

func TestOnlyFirstRecordIsReported(t *testing.T) {
	d := &fakeDispatcher{ok: true}
	l := newLoop(jsonFetcher(`{"homeworks":[
		{"homework_name":"first","status":"approved"},
		{"homework_name":"second","status":"rejected"}],"current_date":1000}`), d, Options{})

	l.Iterate(context.Background())
	if sent := d.texts(); len(sent) != 1 || sent[0] != approvedMessage("first") {
		t.Fatalf("sent=%q", sent)
	}
}

func TestDeliveryFailureKeepsCursorAndRetriesSameMessage(t *testing.T) {
	f := jsonFetcher(`{"homeworks":[{"homework_name":"proj1","status":"approved"}],"current_date":1000}`)
	d := &fakeDispatcher{ok: false}
	l := newLoop(f, d, Options{})

	first := l.Iterate(context.Background())
	if first.Outcome != OutcomeDeliveryFailed || !homework.IsKind(first.Err, homework.KindDelivery) {
		t.Fatalf("outcome=%v err=%v", first.Outcome, first.Err)
	}
	if l.Cursor() != 500 {
		t.Fatalf("cursor advanced without delivery: %d", l.Cursor())
	}

	d.mu.Lock()
	d.ok = true
	d.mu.Unlock()
	second := l.Iterate(context.Background())
	if second.Message != first.Message {
		t.Fatalf("retry produced %q, want %q", second.Message, first.Message)
	}
	if f.cursors[1] != 500 {
		t.Fatalf("retry fetched with cursor %d", f.cursors[1])
	}
	if l.Cursor() != 1000 {
		t.Fatalf("cursor=%d", l.Cursor())
	}
}

func TestErrorDeduplication(t *testing.T) {
	errA := errors.New("connection refused")
	errB := errors.New("connection reset")
	seq := []error{errA, errA, errB, errA}
	i := 0
	f := &fakeFetcher{fetch: func(int64) (homework.Response, error) {
		err := seq[i]
		i++
		return nil, err
	}}
	d := &fakeDispatcher{ok: true}
	l := newLoop(f, d, Options{})

	for range seq {
		l.Iterate(context.Background())
	}
	want := []string{ErrorPrefix + "connection refused", ErrorPrefix + "connection reset", ErrorPrefix + "connection refused"}
	got := d.texts()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("sent=%q want %q", got, want)
	}
	if l.LastError() != want[2] {
		t.Fatalf("last error=%q", l.LastError())
	}
}

func TestUndeliveredErrorIsRetried(t *testing.T) {
	f := &fakeFetcher{fetch: func(int64) (homework.Response, error) { return nil, errors.New("down") }}
	d := &fakeDispatcher{ok: false}
	l := newLoop(f, d, Options{})

	if res := l.Iterate(context.Background()); res.Outcome != OutcomeErrorUndelivered {
		t.Fatalf("outcome=%v", res.Outcome)
	}
	if res := l.Iterate(context.Background()); res.Outcome != OutcomeErrorUndelivered {
		t.Fatalf("undelivered error must not be suppressed, outcome=%v", res.Outcome)
	}
	if len(d.texts()) != 2 {
		t.Fatalf("sends=%d", len(d.texts()))
	}
}

func TestCursorNeverMovesBackward(t *testing.T) {
	dates := []int{1000, 800, 1200, 0}
	i := 0
	f := &fakeFetcher{fetch: func(int64) (homework.Response, error) {
		m := map[string]any{"homeworks": []any{map[string]any{"homework_name": "p", "status": "reviewing"}}}
		if dates[i] > 0 {
			m["current_date"] = dates[i]
		}
		i++
		return m, nil
	}}
	l := newLoop(f, &fakeDispatcher{ok: true}, Options{})

	want := []int64{1000, 1000, 1200, 1200}
	for step, w := range want {
		l.Iterate(context.Background())
		if l.Cursor() != w {
			t.Fatalf("step %d: cursor=%d want %d", step, l.Cursor(), w)
		}
	}
}

func TestCursorPersistedAndEventsPublished(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "cursor.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	f := jsonFetcher(`{"homeworks":[{"homework_name":"proj1","status":"approved"}],"current_date":1000}`)
	l := newLoop(f, &fakeDispatcher{ok: true}, Options{Store: st, Bus: bus})
	l.Iterate(context.Background())

	got, ok, err := st.LoadCursor(context.Background())
	if err != nil || !ok || got != 1000 {
		t.Fatalf("stored cursor=%d ok=%v err=%v", got, ok, err)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	want := []string{eventbus.PollFetched, eventbus.PollNotified, eventbus.CursorAdvanced}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events=%v want %v", types, want)
	}
}

func TestCanceledIterationIsNotReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeFetcher{fetch: func(int64) (homework.Response, error) {
		cancel()
		return nil, context.Canceled
	}}
	d := &fakeDispatcher{ok: true}
	l := newLoop(f, d, Options{})

	if res := l.Iterate(ctx); res.Outcome != OutcomeCanceled {
		t.Fatalf("outcome=%v", res.Outcome)
	}
	if len(d.texts()) != 0 {
		t.Fatalf("sent=%q", d.texts())
	}
}

type everySchedule time.Duration

func (e everySchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestRunSleepsBetweenIterationsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var results []Result
	f := jsonFetcher(`{"homeworks":[]}`)
	l := newLoop(f, &fakeDispatcher{ok: true}, Options{
		Schedule: everySchedule(5 * time.Millisecond),
		AfterIteration: func(r Result) {
			mu.Lock()
			results = append(results, r)
			n := len(results)
			mu.Unlock()
			if n == 3 {
				cancel()
			}
		},
	})

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("loop did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 3 {
		t.Fatalf("iterations=%d", len(results))
	}
	if results[0].PollID == results[1].PollID {
		t.Fatalf("poll ids should differ")
	}
	snap := l.Snapshot()
	if snap.State != StateStopped.String() || snap.Iterations != 3 {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestRestartedRunSleepsBeforePolling(t *testing.T) {
	const interval = 150 * time.Millisecond
	var (
		mu      sync.Mutex
		fetched []time.Time
	)
	f := &fakeFetcher{fetch: func(int64) (homework.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		fetched = append(fetched, time.Now())
		if len(fetched) == 1 {
			panic("decoder exploded")
		}
		return map[string]any{"homeworks": []any{}}, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := newLoop(f, &fakeDispatcher{ok: true}, Options{
		Schedule:       everySchedule(interval),
		AfterIteration: func(Result) { cancel() },
	})

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected the first run to panic")
			}
		}()
		_ = l.Run(ctx)
	}()

	restarted := time.Now()
	if err := l.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fetched) != 2 {
		t.Fatalf("fetches=%d", len(fetched))
	}
	if gap := fetched[1].Sub(restarted); gap < interval {
		t.Fatalf("restarted run polled after %v, want >= %v", gap, interval)
	}
}

func TestDefaultCursorIsNow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(&fakeFetcher{}, nil, &fakeDispatcher{}, Options{Now: func() time.Time { return now }})
	if l.Cursor() != now.Unix() {
		t.Fatalf("cursor=%d", l.Cursor())
	}
}
