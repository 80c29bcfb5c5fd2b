package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tickerwatch/internal/alerts"
	"tickerwatch/internal/clock"
	"tickerwatch/internal/config"
	"tickerwatch/internal/delivery"
	"tickerwatch/internal/eventbus"
	"tickerwatch/internal/feed"
	"tickerwatch/internal/notifier"
	"tickerwatch/internal/observability/pprof"
	"tickerwatch/internal/relay"
	"tickerwatch/internal/runtime/supervisor"
	"tickerwatch/internal/server"
	"tickerwatch/internal/snooze"
	"tickerwatch/internal/sound"
	"tickerwatch/internal/storage"
	logx "tickerwatch/pkg/logx"
)

// App hosts both roles: the watch role (feeds -> relay) and the serve role
// (notification server -> delivery). Either may be disabled in config.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clk   clock.Clock
	stdin io.Reader

	snoozes *snooze.Store
	sched   *snooze.Scheduler
	gate    *sound.Gate
	player  atomic.Pointer[sound.ExecPlayer]
	alerts  *alerts.Manager
	notif   *notifier.Dispatcher
	tg      *notifier.Telegram
	pipe    *delivery.Pipeline
	srv     *server.Server
	relay   *relay.Client
	feeds   *feed.Watcher
	pprof   *pprof.Service

	serveOn bool
}

type Option func(*App)

// WithStdin replaces os.Stdin as the line source for watch.stdin.
func WithStdin(r io.Reader) Option { return func(a *App) { a.stdin = r } }

// WithClock replaces the wall clock for alert timers, sound cooldowns and
// the snooze schedule.
func WithClock(c clock.Clock) Option { return func(a *App) { a.clk = c } }

// NewApp loads the config (falling back to defaults) and builds every
// component. Nothing runs until Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	a := &App{stdin: os.Stdin, clk: clock.Real()}
	for _, o := range opts {
		o(a)
	}

	a.cfgm = config.NewConfigManager(cfgPath)
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return validate(c) })
	cfg, loadErr := a.cfgm.LoadOrDefault()

	a.logs, a.log = logx.New(mapLogConfig(cfg))
	log := a.log.With(logx.String("comp", "app"))
	a.log = log
	a.bus = eventbus.New()

	alertsCfg, err := mapAlertsConfig(cfg)
	if err != nil {
		return nil, err
	}
	// The alert sink feeds the error queue; its own records must not.
	a.alerts = alerts.New(alertsCfg, alerts.Deps{
		Clock: a.clk,
		Log:   a.logs.QuietLogger().With(logx.String("comp", "alerts")),
		OnToastShown: func(t alerts.Toast) {
			if a.pipe != nil {
				a.pipe.ToastShown(t)
			}
		},
		OnChange: func(string) {
			if a.srv != nil {
				a.srv.Hub().Notify()
			}
		},
	})
	a.logs.SetReporter(a.alerts)
	if loadErr != nil {
		a.alerts.ReportError("config", loadErr)
		log.Warn("config unavailable", logx.Err(loadErr))
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, a.logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	a.store = st
	log.Info("storage ready", logx.String("driver", sc.Driver))

	a.snoozes = snooze.Open(context.Background(), st, a.logs.Logger().With(logx.String("comp", "snooze")))
	a.sched = snooze.NewScheduler(a.snoozes, st, a.clk, a.logs.Logger().With(logx.String("comp", "snooze.schedule")))
	a.sched.OnClear = func(n int) {
		a.alerts.ShowDialog("Snoozes cleared", fmt.Sprintf("Daily reset cleared %d snoozed symbol(s).", n))
	}

	a.player.Store(sound.NewExecPlayer(cfg.Sound.Command))
	a.gate = sound.NewGate(sound.PlayerFunc(func(ctx context.Context, name string) error {
		return a.player.Load().Play(ctx, name)
	}), a.clk, a.logs.Logger().With(logx.String("comp", "sound")))
	a.gate.SetMuted(cfg.Sound.Muted)

	a.notif = notifier.NewDispatcher(mapNotifierConfig(cfg), a.logs.Logger().With(logx.String("comp", "notifier")), a.bus)
	if tc, ok, err := mapTelegramConfig(cfg); err != nil {
		return nil, err
	} else if ok {
		tg, err := notifier.NewTelegram(tc, a.snoozes, a.logs.Logger().With(logx.String("comp", "telegram")))
		if err != nil {
			// Desktop delivery still works; surface the problem and go on.
			log.Error("telegram disabled", logx.Err(err))
		} else {
			a.tg = tg
		}
	}
	a.notif.SetDeliverers(a.deliverers(cfg)...)

	a.pipe = delivery.New(delivery.Deps{
		Snoozes:    a.snoozes,
		Dispatcher: a.notif,
		Toasts:     a.alerts.Toasts,
		Sound:      a.gate,
		Bus:        a.bus,
		Log:        a.logs.Logger().With(logx.String("comp", "delivery")),
	})
	a.pipe.Apply(cfg)

	a.serveOn = cfg.Server.Enabled
	if a.serveOn {
		srvCfg, err := mapServerConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.srv = server.New(srvCfg, server.Deps{
			Events:  a.pipe,
			Snoozes: a.snoozes,
			Alerts:  a.alerts,
			Health:  a.health,
			Log:     a.logs.Logger().With(logx.String("comp", "server")),
		})
	}

	relayOpts, err := mapRelayOptions(cfg)
	if err != nil {
		return nil, err
	}
	a.relay = relay.New(a.cfgm, a.logs.Logger().With(logx.String("comp", "relay")), relayOpts)
	a.feeds = feed.NewWatcher(a.relay, a.logs.Logger().With(logx.String("comp", "feed")))
	a.pprof = pprof.New(a.logs.Logger().With(logx.String("comp", "pprof")))

	return a, nil
}

func (a *App) deliverers(cfg *config.Config) []notifier.Deliverer {
	var ds []notifier.Deliverer
	if cfg.Desktop.Enabled {
		ds = append(ds, notifier.NewDesktop(cfg.Desktop.Command))
	}
	if a.tg != nil {
		ds = append(ds, a.tg)
	}
	return ds
}

// Server returns the notification server, or nil when the serve role is off.
func (a *App) Server() *server.Server { return a.srv }

func (a *App) Alerts() *alerts.Manager { return a.alerts }

func (a *App) Snoozes() *snooze.Store { return a.snoozes }

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

// healthDeliveries caps the delivery history shown by /health.
const healthDeliveries = 20

func (a *App) health() map[string]any {
	deliveries := a.notif.History()
	if len(deliveries) > healthDeliveries {
		deliveries = deliveries[len(deliveries)-healthDeliveries:]
	}
	h := map[string]any{
		"snoozed":           len(a.snoozes.List()),
		"last_snooze_clear": a.sched.LastDay(),
		"pipeline":          a.pipe.Stats(),
		"deliverers":        a.notif.Deliverers(),
		"deliveries":        deliveries,
		"relay":             a.relay.Stats(),
		"feeds":             a.feeds.Stats(),
		"bus_dropped":       a.bus.Dropped(),
	}
	if a.srv != nil {
		h["stream_clients"] = a.srv.Hub().Clients()
	}
	if a.sup != nil {
		h["tasks"] = a.sup.Snapshot().Active
	}
	return h
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))

	if err := a.sched.Apply(cfg.Snooze); err != nil {
		a.log.Warn("snooze schedule rejected; daily clear disabled", logx.Err(err))
	}
	a.sched.Start(run)

	if a.serveOn {
		a.notif.Start(run)
		a.sup.Go("server.http", a.srv.Run)
		a.sup.Go0("server.stream", a.srv.Hub().Run)
		if a.tg != nil {
			a.sup.GoRestart("telegram.poll", a.tg.Run,
				supervisor.WithRestartBackoff(time.Second, 30*time.Second))
		}
		changes, unsub := a.snoozes.Subscribe(16)
		a.sup.Go0("snooze.stream", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case _, ok := <-changes:
					if !ok {
						return
					}
					a.srv.Hub().Notify()
				}
			}
		})
	}

	portSub := a.cfgm.Subscribe(4)
	a.sup.Go0("relay.port", func(c context.Context) {
		defer a.cfgm.Unsubscribe(portSub)
		a.relay.Watch(c, portSub)
	})
	a.feeds.Apply(run, cfg.Watch)
	if cfg.Watch.Enabled && cfg.Watch.Stdin {
		a.startStdin(run)
	}

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
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
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	// pprof is optional; a bad bind never stops the app.
	if err := a.pprof.Reconfigure(run, mapPprofConfig(cfg)); err != nil {
		a.log.Warn("pprof not started", logx.Err(err))
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started",
		logx.Bool("serve", a.serveOn),
		logx.Bool("watch", cfg.Watch.Enabled),
		logx.Int("notify_port", cfg.NotifyPort()),
	)
	return nil
}

// startStdin reads stdin as one page session. A blocked read cannot be
// interrupted, so the reader is not supervised; it exits on EOF or on the
// first line after ctx is done.
func (a *App) startStdin(ctx context.Context) {
	sess := feed.NewSession("stdin", a.relay, a.logs.Logger().With(logx.String("comp", "feed.stdin")))
	go func() {
		if err := feed.ReadLines(ctx, a.stdin, sess); err != nil && ctx.Err() == nil {
			a.log.Warn("stdin feed ended", logx.Err(err))
		}
	}()
}

// applyConfig fans a validated reload out to the components that support
// live changes. The rest need a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "watch":
			a.feeds.Apply(a.sup.Context(), newCfg.Watch)
			if newCfg.Watch.Stdin != oldCfg.Watch.Stdin {
				a.log.Warn("watch.stdin changed; restart required")
			}
		case "snooze":
			if err := a.sched.Apply(newCfg.Snooze); err != nil {
				a.log.Warn("invalid snooze schedule; keeping previous", logx.Err(err))
			}
		case "sound":
			a.gate.SetMuted(newCfg.Sound.Muted)
			a.player.Store(sound.NewExecPlayer(newCfg.Sound.Command))
		case "desktop":
			a.notif.Apply(mapNotifierConfig(newCfg))
			a.notif.SetDeliverers(a.deliverers(newCfg)...)
		case "debug":
			if err := a.pprof.Reconfigure(a.sup.Context(), mapPprofConfig(newCfg)); err != nil {
				a.log.Warn("pprof not started", logx.Err(err))
			}
		case "server", "telegram", "storage", "alerts":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	// Chart template and sound settings are cheap to re-apply wholesale.
	a.pipe.Apply(newCfg)

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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

	step("feeds", 2*time.Second, func(context.Context) error { a.feeds.Stop(); return nil })
	step("relay", 2*time.Second, a.relay.Wait)
	// Release the sound gate before anything that might wait on playback.
	step("sound", time.Second, func(context.Context) error {
		a.gate.Close()
		a.pipe.Close()
		return nil
	})
	step("scheduler", time.Second, func(context.Context) error { a.sched.Stop(); return nil })
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("alerts", time.Second, func(context.Context) error { a.alerts.Stop(); return nil })
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.SetReporter(nil)
	return a.logs.Close()
}
