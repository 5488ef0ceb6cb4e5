// Package poller runs the fetch, validate, translate and notify cycle on a
// fixed cadence.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"hwbot/internal/eventbus"
	"hwbot/internal/homework"
	"hwbot/internal/storage"
	logx "hwbot/pkg/logx"
)

// ErrorPrefix starts every error report sent to the chat.
const ErrorPrefix = "Program failure: "

// Fetcher is satisfied by *homework.Client.
type Fetcher interface {
	Fetch(ctx context.Context, cursor int64) (homework.Response, error)
}

// Dispatcher is satisfied by *notifier.Service.
type Dispatcher interface {
	Send(ctx context.Context, text string) bool
}

type Options struct {
	// Schedule decides the pause between iterations. Nil means DefaultInterval.
	Schedule cron.Schedule
	// Cursor is the starting cursor. Zero means "now".
	Cursor int64
	// Store persists the cursor after each advance. Optional.
	Store storage.Store
	Bus   eventbus.Bus
	Log   logx.Logger
	// AfterIteration runs on the loop goroutine after every iteration.
	AfterIteration func(Result)
	// Now is replaceable in tests.
	Now func() time.Time
}

// Loop owns the cursor and the last reported error. Only the goroutine
// calling Run/Iterate mutates them; Snapshot may be called concurrently.
type Loop struct {
	fetcher    Fetcher
	translator *homework.Translator
	dispatcher Dispatcher

	schedule cron.Schedule
	store    storage.Store
	bus      eventbus.Bus
	log      logx.Logger
	after    func(Result)
	now      func() time.Time

	mu     sync.Mutex
	status Status
	// lastError is the last error report that was delivered.
	lastError string
	// runs counts Run calls; a restarted Run sleeps before polling again.
	runs int
}

func New(f Fetcher, t *homework.Translator, d Dispatcher, opts Options) *Loop {
	if t == nil {
		t = homework.NewTranslator(nil)
	}
	if opts.Schedule == nil {
		opts.Schedule = cron.Every(DefaultInterval)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	cursor := opts.Cursor
	if cursor <= 0 {
		cursor = opts.Now().Unix()
	}
	return &Loop{
		fetcher:    f,
		translator: t,
		dispatcher: d,
		schedule:   opts.Schedule,
		store:      opts.Store,
		bus:        opts.Bus,
		log:        opts.Log,
		after:      opts.AfterIteration,
		now:        opts.Now,
		status:     Status{State: StateIdle.String(), Cursor: cursor},
	}
}

// Cursor returns the current cursor (epoch seconds).
func (l *Loop) Cursor() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status.Cursor
}

// LastError returns the last delivered error report.
func (l *Loop) LastError() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastError
}

func (l *Loop) Snapshot() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.status
	st.LastError = l.lastError
	return st
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.status.State = s.String()
	l.mu.Unlock()
}

// Run iterates until ctx is done, sleeping according to the schedule after
// every iteration regardless of its outcome. When Run is called again on the
// same Loop (a supervisor restart after a panic) it sleeps first.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	resumed := l.runs > 0
	l.runs++
	l.mu.Unlock()

	l.log.Info("poll loop started", logx.Int64("cursor", l.Cursor()), logx.Bool("resumed", resumed))
	defer func() {
		l.setState(StateStopped)
		l.log.Info("poll loop stopped", logx.Int64("cursor", l.Cursor()))
	}()

	if resumed && !l.sleep(ctx) {
		return nil
	}
	for {
		res := l.Iterate(ctx)
		if l.after != nil {
			l.after(res)
		}
		if ctx.Err() != nil {
			return nil
		}
		if !l.sleep(ctx) {
			return nil
		}
	}
}

// sleep waits for the next scheduled poll. It returns false if ctx ended.
func (l *Loop) sleep(ctx context.Context) bool {
	now := l.now()
	wait := untilNext(l.schedule, now)
	l.mu.Lock()
	l.status.State = StateSleeping.String()
	l.status.NextPollAt = now.Add(wait)
	l.mu.Unlock()
	l.log.Debug("sleeping until next poll", logx.Duration("wait", wait))

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Iterate performs exactly one fetch/validate/translate/notify cycle.
func (l *Loop) Iterate(ctx context.Context) Result {
	start := l.now()
	res := Result{PollID: uuid.NewString(), Cursor: l.Cursor()}
	log := l.log.With(logx.String("poll_id", res.PollID))

	res = l.iterate(ctx, log, res)
	res.Took = l.now().Sub(start)
	res.Cursor = l.Cursor()

	l.mu.Lock()
	l.status.Iterations++
	l.status.LastIterationAt = start
	l.status.LastOutcome = res.Outcome.String()
	switch res.Outcome {
	case OutcomeNotified:
		l.status.Notified++
		l.status.LastNotifiedAt = l.now()
	case OutcomeErrorReported, OutcomeErrorUndelivered, OutcomeErrorSuppressed:
		l.status.Errors++
	}
	l.status.State = StateIdle.String()
	l.mu.Unlock()

	log.Debug("iteration finished",
		logx.String("outcome", res.Outcome.String()),
		logx.Int64("cursor", res.Cursor),
		logx.Duration("took", res.Took),
	)
	return res
}

func (l *Loop) iterate(ctx context.Context, log logx.Logger, res Result) Result {
	cursor := res.Cursor

	l.setState(StateFetching)
	resp, err := l.fetcher.Fetch(ctx, cursor)
	if err != nil {
		return l.handleError(ctx, log, res, err)
	}
	eventbus.Publish(l.bus, eventbus.PollFetched, cursor)

	l.setState(StateValidating)
	records, err := homework.ValidateResponse(resp)
	if err != nil {
		return l.handleError(ctx, log, res, err)
	}
	if len(records) == 0 {
		log.Debug("no status changes", logx.Int64("cursor", cursor))
		res.Outcome = OutcomeNoUpdates
		return res
	}
	if len(records) > 1 {
		log.Debug("only the first record is reported", logx.Int("records", len(records)))
	}

	l.setState(StateTranslating)
	msg, err := l.translator.Translate(records[0])
	if err != nil {
		return l.handleError(ctx, log, res, err)
	}
	res.Message = msg

	l.setState(StateNotifying)
	if !l.dispatcher.Send(ctx, msg) {
		// the dispatcher has logged the cause; keep the cursor so the next
		// iteration fetches and sends the same change again
		log.Warn("status change not delivered; cursor kept", logx.Int64("cursor", cursor))
		res.Outcome = OutcomeDeliveryFailed
		res.Err = homework.DeliveryError(errors.New("status message not delivered"))
		return res
	}
	res.Outcome = OutcomeNotified
	eventbus.Publish(l.bus, eventbus.PollNotified, msg)

	if next, ok := homework.CurrentDate(resp); ok {
		l.advance(ctx, log, next)
	}
	return res
}

// advance moves the cursor forward only.
func (l *Loop) advance(ctx context.Context, log logx.Logger, next int64) {
	l.mu.Lock()
	prev := l.status.Cursor
	if next <= prev {
		l.mu.Unlock()
		return
	}
	l.status.Cursor = next
	l.mu.Unlock()

	log.Info("cursor advanced", logx.Int64("from", prev), logx.Int64("to", next))
	eventbus.Publish(l.bus, eventbus.CursorAdvanced, next)

	if l.store != nil {
		// a delivered change must be recorded even while shutting down
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.store.SaveCursor(sctx, next); err != nil {
			log.Warn("cursor not persisted", logx.Int64("cursor", next), logx.Err(err))
		}
	}
}

func (l *Loop) handleError(ctx context.Context, log logx.Logger, res Result, err error) Result {
	res.Err = err
	if ctx.Err() != nil {
		// shutting down; a cancelled request is not worth reporting
		res.Outcome = OutcomeCanceled
		return res
	}

	l.setState(StateErrorHandling)
	msg := ErrorPrefix + err.Error()
	res.Message = msg
	kind := homework.KindOf(err)
	log.Error("poll iteration failed", logx.String("kind", kind.String()), logx.Err(err))
	eventbus.Publish(l.bus, eventbus.PollFailed, kind.String())

	if msg == l.LastError() {
		log.Debug("error report suppressed (unchanged)")
		eventbus.Publish(l.bus, eventbus.PollSuppressed, kind.String())
		res.Outcome = OutcomeErrorSuppressed
		return res
	}

	if !l.dispatcher.Send(ctx, msg) {
		res.Outcome = OutcomeErrorUndelivered
		return res
	}
	l.mu.Lock()
	l.lastError = msg
	l.mu.Unlock()
	res.Outcome = OutcomeErrorReported
	return res
}
