// Package delivery is the serve-side path of a relayed ticker: snooze
// filter, OS/chat dispatch, toast, and sound when the toast is shown.
package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tickerwatch/internal/alertq"
	"tickerwatch/internal/alerts"
	"tickerwatch/internal/config"
	"tickerwatch/internal/eventbus"
	"tickerwatch/internal/notifier"
	"tickerwatch/internal/ticker"
	logx "tickerwatch/pkg/logx"
)

const (
	EventReceived = "ticker.received"
	EventSnoozed  = "ticker.snoozed"
)

type Snoozes interface {
	IsSnoozed(symbol string) bool
}

type Dispatcher interface {
	Dispatch(n notifier.Notification) error
}

type Toasts interface {
	Enqueue(t alerts.Toast) (alertq.Item[alerts.Toast], error)
}

type Sound interface {
	Play(ctx context.Context, name string, cooldown time.Duration) bool
}

type Outcome string

const (
	Delivered Outcome = "delivered"
	Snoozed   Outcome = "snoozed"
)

type Deps struct {
	Snoozes    Snoozes
	Dispatcher Dispatcher
	Toasts     Toasts
	Sound      Sound
	Bus        eventbus.Bus
	Log        logx.Logger
}

type soundSettings struct {
	enabled  bool
	name     string
	cooldown time.Duration
}

type Stats struct {
	Received   uint64 `json:"received"`
	Snoozed    uint64 `json:"snoozed"`
	Dispatched uint64 `json:"dispatched"`
	Dropped    uint64 `json:"dropped"`
}

type Pipeline struct {
	d   Deps
	log logx.Logger

	// ctx bounds background sound playback; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	sounds sync.WaitGroup

	chartTmpl atomic.Value // string
	sound     atomic.Value // soundSettings

	received, snoozed, dispatched, dropped atomic.Uint64
}

func New(d Deps) *Pipeline {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{d: d, log: d.Log, ctx: ctx, cancel: cancel}
	p.chartTmpl.Store(config.DefaultChartURL)
	p.sound.Store(soundSettings{})
	return p
}

// Apply picks up chart and sound settings from a (re)loaded config.
func (p *Pipeline) Apply(cfg *config.Config) {
	if cfg == nil {
		return
	}
	p.chartTmpl.Store(cfg.Server.ChartURL)
	cd, err := config.ParseDurationOrDefault("sound.cooldown", cfg.Sound.Cooldown, 2*time.Second)
	if err != nil {
		p.log.Warn("bad sound cooldown; using default", logx.Err(err))
	}
	p.sound.Store(soundSettings{enabled: cfg.Sound.Enabled, name: cfg.Sound.Name, cooldown: cd})
}

// Handle processes one validated event. It never blocks on delivery.
func (p *Pipeline) Handle(ev ticker.Event) Outcome {
	p.received.Add(1)
	p.d.Bus.Publish(eventbus.Event{Type: EventReceived, Data: ev})

	if p.d.Snoozes != nil && p.d.Snoozes.IsSnoozed(ev.Symbol) {
		p.snoozed.Add(1)
		p.d.Bus.Publish(eventbus.Event{Type: EventSnoozed, Data: ev})
		p.log.Debug("delivery skipped: snoozed", logx.String("symbol", ev.Symbol))
		return Snoozed
	}

	url := notifier.ChartURL(p.chartTmpl.Load().(string), ev.Symbol)
	if p.d.Dispatcher != nil {
		err := p.d.Dispatcher.Dispatch(notifier.Notification{
			Symbol:       ev.Symbol,
			HighPriority: ev.HighPriority,
			ChartURL:     url,
			At:           time.Now(),
		})
		switch {
		case err == nil:
			p.dispatched.Add(1)
		case errors.Is(err, notifier.ErrDisabled):
		default:
			p.dropped.Add(1)
			p.log.Warn("dispatch dropped", logx.String("symbol", ev.Symbol), logx.Err(err))
		}
	}
	if p.d.Toasts != nil {
		_, _ = p.d.Toasts.Enqueue(alerts.Toast{Symbol: ev.Symbol, HighPriority: ev.HighPriority, ChartURL: url})
	}
	return Delivered
}

// ToastShown is the toast queue's promotion hook: it plays the alert sound
// in the background so the queue owner is never held up by playback.
func (p *Pipeline) ToastShown(t alerts.Toast) {
	s := p.sound.Load().(soundSettings)
	if !s.enabled || p.d.Sound == nil || p.ctx.Err() != nil {
		return
	}
	p.sounds.Add(1)
	go func() {
		defer p.sounds.Done()
		p.d.Sound.Play(p.ctx, s.name, s.cooldown)
	}()
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:   p.received.Load(),
		Snoozed:    p.snoozed.Load(),
		Dispatched: p.dispatched.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// Close stops pending sounds and waits for them to return.
func (p *Pipeline) Close() {
	p.cancel()
	p.sounds.Wait()
}
