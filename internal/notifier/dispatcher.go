package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tickerwatch/internal/eventbus"
	rtsup "tickerwatch/internal/runtime/supervisor"
	logx "tickerwatch/pkg/logx"
)

const historyCap = 200

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	log logx.Logger
	bus eventbus.Bus

	mu         sync.Mutex
	cfg        Config
	limiter    *rate.Limiter
	deliverers []Deliverer
	queue      chan Notification
	accepting  bool
	sendWG     sync.WaitGroup
	sup        *rtsup.Supervisor

	hmu     sync.Mutex
	history []HistoryItem
}

func NewDispatcher(cfg Config, log logx.Logger, bus eventbus.Bus, deliverers ...Deliverer) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	d := &Dispatcher{log: log, bus: bus, deliverers: deliverers}
	d.applyLocked(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	d.cfg = cfg
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetDeliverers replaces the output channels (config reload).
func (d *Dispatcher) SetDeliverers(ds ...Deliverer) {
	d.mu.Lock()
	d.deliverers = ds
	d.mu.Unlock()
}

func (d *Dispatcher) Deliverers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.deliverers))
	for _, dl := range d.deliverers {
		names = append(names, dl.Name())
	}
	return names
}

// Start launches the workers. It is a no-op when running or disabled.
// Workers outlive ctx so Stop can drain what is already queued.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue != nil || !d.cfg.Enabled {
		return
	}
	d.queue = make(chan Notification, d.cfg.QueueSize)
	d.accepting = true
	d.sup = rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(d.log.With(logx.String("comp", "notifier"))))
	q := d.queue
	for i := 0; i < d.cfg.Workers; i++ {
		d.sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			d.workerLoop(c, q)
			if c.Err() != nil {
				return c.Err()
			}
			return nil
		})
	}
}

// Stop stops intake and delivers what is queued. Anything still pending
// when ctx is done is dropped.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	q, sup := d.queue, d.sup
	if q == nil {
		d.mu.Unlock()
		return
	}
	d.accepting = false
	d.queue = nil
	d.sup = nil
	d.mu.Unlock()

	d.sendWG.Wait()
	close(q)
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		sup.Cancel()
		d.log.Warn("notifier drain cut short", logx.Err(err), logx.Int("pending", len(q)))
	}
}

// Dispatch queues n for delivery. It never blocks.
func (d *Dispatcher) Dispatch(n Notification) error {
	d.mu.Lock()
	if !d.cfg.Enabled {
		d.mu.Unlock()
		return ErrDisabled
	}
	if !d.accepting || d.queue == nil {
		d.mu.Unlock()
		return ErrStopped
	}
	q := d.queue
	d.sendWG.Add(1)
	d.mu.Unlock()
	defer d.sendWG.Done()

	if n.At.IsZero() {
		n.At = time.Now()
	}
	select {
	case q <- n:
		d.bus.Publish(eventbus.Event{Type: EventQueued, Data: DeliveryEvent{Symbol: n.Symbol, At: n.At}})
		return nil
	default:
		d.bus.Publish(eventbus.Event{Type: EventDropped, Data: DeliveryEvent{Symbol: n.Symbol, At: n.At, Error: ErrQueueFull.Error()}})
		return ErrQueueFull
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context, q <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	d.mu.Lock()
	lim, timeout := d.limiter, d.cfg.SendTimeout
	ds := append([]Deliverer(nil), d.deliverers...)
	d.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return
	}
	for _, dl := range ds {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		err := dl.Deliver(cctx, n)
		cancel()

		ev := DeliveryEvent{Symbol: n.Symbol, Deliverer: dl.Name(), At: time.Now()}
		typ := EventSent
		if err != nil {
			typ = EventFailed
			ev.Error = err.Error()
			d.log.Warn("delivery failed", logx.String("deliverer", dl.Name()), logx.String("symbol", n.Symbol), logx.Err(err))
		}
		d.appendHistory(HistoryItem{At: ev.At, Symbol: n.Symbol, Deliverer: dl.Name(), Error: ev.Error})
		d.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

func (d *Dispatcher) appendHistory(it HistoryItem) {
	d.hmu.Lock()
	d.history = append(d.history, it)
	if len(d.history) > historyCap {
		d.history = d.history[len(d.history)-historyCap:]
	}
	d.hmu.Unlock()
}

// History returns recent delivery attempts, oldest first.
func (d *Dispatcher) History() []HistoryItem {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	return append([]HistoryItem(nil), d.history...)
}
