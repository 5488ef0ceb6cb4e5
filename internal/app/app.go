package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"hwbot/internal/config"
	"hwbot/internal/eventbus"
	"hwbot/internal/homework"
	"hwbot/internal/notifier"
	"hwbot/internal/observability/status"
	"hwbot/internal/poller"
	rtsup "hwbot/internal/runtime/supervisor"
	"hwbot/internal/storage"
	kit "hwbot/internal/transport"
	telegram "hwbot/internal/transport/telegram/adapter"
	logx "hwbot/pkg/logx"
)

// Options customizes NewApp. The zero value reads the real environment.
type Options struct {
	// ConfigPath is an optional JSON/YAML file. A missing file means defaults.
	ConfigPath string
	// DotEnvPath is an optional dotenv file filling credentials that are
	// not set in the process environment. A missing file is ignored.
	DotEnvPath string
	// Getenv replaces os.Getenv (tests).
	Getenv func(string) string
}

// Restart backoff of the optional status server.
var (
	statusBackoffMin = 500 * time.Millisecond
	statusBackoffMax = 10 * time.Second
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store   storage.Store
	adapter *telegram.Adapter
	notif   *notifier.Service
	loop    *poller.Loop
	status  *status.Server
	sd      *sdNotifier
}

// NewApp builds every component. All errors returned here are startup
// failures; configuration problems are homework.KindConfiguration.
func NewApp(opts Options) (*App, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	// the configured logger does not exist until the config is valid
	boot := logx.NewConsole("info").With(logx.String("comp", "app"))

	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, found, err := cfgm.LoadOrDefault()
	if err != nil {
		boot.Error("config load failed", logx.String("path", opts.ConfigPath), logx.Err(err))
		return nil, homework.ConfigurationError("load config", err)
	}
	if err := config.Validate(cfg); err != nil {
		boot.Error("config rejected", logx.String("path", opts.ConfigPath), logx.Err(err))
		return nil, homework.ConfigurationError("invalid config", err)
	}
	dotenv, err := config.ReadDotEnv(opts.DotEnvPath)
	if err != nil {
		boot.Error("dotenv file unreadable", logx.String("path", opts.DotEnvPath), logx.Err(err))
		return nil, homework.ConfigurationError("load dotenv", err)
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	if opts.ConfigPath != "" && !found {
		log.Warn("config file not found; using defaults", logx.String("path", opts.ConfigPath))
	}

	if dotenv != nil {
		log.Info("dotenv file loaded", logx.String("path", opts.DotEnvPath), logx.Int("keys", len(dotenv)))
	}
	creds := config.LoadCredentials(config.WithDotEnv(getenv, dotenv))
	if err := checkTokens(log, creds); err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	fail := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}

	target, err := kit.ParseChatTarget(creds.ChatID, cfg.Telegram.ThreadID)
	if err != nil {
		return fail(homework.ConfigurationError(config.EnvTelegramChatID, err))
	}
	endpointTimeout, err := config.ParseDurationOrDefault("endpoint.timeout", cfg.Endpoint.Timeout, 30*time.Second)
	if err != nil {
		return fail(homework.ConfigurationError("invalid config", err))
	}
	schedule, err := poller.ParseInterval(cfg.Poll.Interval)
	if err != nil {
		return fail(homework.ConfigurationError("invalid config", err))
	}
	ncfg, err := mapNotifierConfig(cfg, target)
	if err != nil {
		return fail(homework.ConfigurationError("invalid config", err))
	}
	sc, storeEnabled, err := mapStorageConfig(cfg)
	if err != nil {
		return fail(homework.ConfigurationError("invalid config", err))
	}

	ad, err := telegram.New(telegram.Config{
		Token:   creds.TelegramToken,
		APIURL:  cfg.Telegram.APIURL,
		Timeout: ncfg.SendTimeout,
	}, root.With(logx.String("comp", "telegram")))
	if err != nil {
		return fail(homework.ConfigurationError("telegram", err))
	}

	bus := eventbus.New()
	notif := notifier.New(ncfg, ad, root.With(logx.String("comp", "notifier")), bus)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		adapter: ad,
		notif:   notif,
		sd:      newSDNotifier(root.With(logx.String("comp", "systemd"))),
	}

	var cursor int64
	if storeEnabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return fail(fmt.Errorf("open storage: %w", err))
		}
		a.store = st
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		saved, ok, err := st.LoadCursor(ctx)
		cancel()
		switch {
		case err != nil:
			log.Warn("stored cursor unreadable; starting from now", logx.Err(err))
		case ok:
			cursor = saved
			log.Info("cursor restored", logx.Int64("cursor", saved))
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	client := homework.NewClient(cfg.Endpoint.URL, creds.PracticumToken, homework.WithTimeout(endpointTimeout))
	a.loop = poller.New(client, homework.NewTranslator(nil), notif, poller.Options{
		Schedule:       schedule,
		Cursor:         cursor,
		Store:          a.store,
		Bus:            bus,
		Log:            root.With(logx.String("comp", "poller")),
		AfterIteration: a.afterIteration,
	})

	if cfg.Status.Enabled {
		a.status = status.New(mapStatusConfig(cfg), status.Sources{
			Poll:     a.loop,
			Notifier: notif,
		}, root.With(logx.String("comp", "status")))
	}

	log.Info("app configured",
		logx.String("endpoint", client.Endpoint()),
		logx.String("chat", target.String()),
		logx.String("interval", strings.TrimSpace(cfg.Poll.Interval)),
		logx.Int64("cursor", a.loop.Cursor()),
		logx.Bool("status_enabled", cfg.Status.Enabled),
	)
	return a, nil
}

// Loop exposes the poll loop (status, tests).
func (a *App) Loop() *poller.Loop { return a.loop }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) afterIteration(res poller.Result) {
	a.sd.Alive()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	a.sup.Go0("telegram.probe", func(c context.Context) {
		pctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		info, err := a.adapter.Probe(pctx)
		if err != nil {
			a.log.Warn("telegram getMe failed; deliveries may fail", logx.Err(err))
			return
		}
		a.log.Info("telegram bot ready", logx.String("username", info.Username), logx.Int64("id", info.ID))
	})

	a.sup.GoRestart("poller.run", a.loop.Run, rtsup.WithRestartBackoff(time.Second, time.Minute))

	// Debug-level event log; components can also subscribe themselves.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// keep only the latest config from a burst
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.status != nil {
		a.status.SetSupervisor(a.sup)
		// optional: giving up must never stop the poll loop
		a.sup.GoRestart("status.serve", a.status.Run,
			rtsup.WithRestartBackoff(statusBackoffMin, statusBackoffMax),
			rtsup.WithMaxRestarts(10),
			rtsup.WithOptional(),
		)
	}

	a.sup.Go0("systemd.watchdog", a.sd.keepalive)
	a.sd.Ready()
	a.log.Info("app started")
	return nil
}

// applyConfig applies the live-reloadable sections and warns about the rest.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogConfig(next))
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// cancel first so the poll loop leaves its sleep immediately
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// the loop may still be saving the cursor; wait before closing storage
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped",
		logx.Int64("cursor", a.loop.Cursor()),
		logx.Any("notifier", a.notif.Stats()),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
