// Package alertq is a single-visible-item alert queue engine.
//
// A Queue shows at most one item at a time. New items wait in a FIFO backlog.
// After the current item is dismissed the next one is promoted only once
// TransitionDelay has passed, so the presentation layer can finish its exit
// animation. Items may carry a display duration after which they dismiss
// themselves.
//
// All mutations serialize on the queue's mutex. Callbacks run after the
// mutex is released, in the order the mutations happened.
package alertq

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"tickerwatch/internal/clock"
	logx "tickerwatch/pkg/logx"
)

var ErrStopped = errors.New("alert queue stopped")

const DefaultTransitionDelay = 300 * time.Millisecond

type Item[T any] struct {
	ID         string        `json:"id"`
	Payload    T             `json:"payload"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	ShownAt    time.Time     `json:"shown_at,omitzero"`
	Duration   time.Duration `json:"duration,omitempty"`
}

type Snapshot[T any] struct {
	Name          string    `json:"name"`
	Current       *Item[T]  `json:"current,omitempty"`
	Backlog       []Item[T] `json:"backlog"`
	Transitioning bool      `json:"transitioning"`
	Dropped       uint64    `json:"dropped"`
}

type Options[T any] struct {
	Name  string
	Clock clock.Clock
	Log   logx.Logger

	// TransitionDelay separates a dismissal from the next promotion.
	// Zero uses DefaultTransitionDelay; negative promotes immediately.
	TransitionDelay time.Duration

	// Duration returns how long an item stays current before it dismisses
	// itself. Nil or a non-positive result disables auto-dismiss.
	Duration func(T) time.Duration

	// MaxBacklog caps the backlog. When full, the oldest waiting item is
	// dropped. Zero means unbounded.
	MaxBacklog int

	// Type-specific side effects.
	OnPromote func(Item[T])
	OnDismiss func(Item[T])
	OnChange  func(Snapshot[T])
}

type Queue[T any] struct {
	opts Options[T]
	clk  clock.Clock
	log  logx.Logger

	mu         sync.Mutex
	current    *Item[T]
	backlog    []Item[T]
	dropped    uint64
	stopped    bool
	dismissT   clock.Timer
	promoteT   clock.Timer
	promoteGen uint64
}

func New[T any](opts Options[T]) *Queue[T] {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.TransitionDelay == 0 {
		opts.TransitionDelay = DefaultTransitionDelay
	}
	if opts.MaxBacklog < 0 {
		opts.MaxBacklog = 0
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue[T]{
		opts: opts,
		clk:  opts.Clock,
		log:  log.With(logx.String("queue", opts.Name)),
	}
}

func (q *Queue[T]) Name() string { return q.opts.Name }

// effects collects callbacks and log records produced under the lock. The
// logger may feed back into Enqueue, so nothing is logged while q.mu is held.
type effects[T any] struct {
	promoted  []Item[T]
	dismissed []Item[T]
	changed   bool
	dropped   int
}

func (q *Queue[T]) run(fx effects[T]) {
	if fx.dropped > 0 {
		q.log.Warn("alert backlog full; dropped oldest", logx.Int("dropped", fx.dropped), logx.Int("cap", q.opts.MaxBacklog))
	}
	for _, it := range fx.dismissed {
		if q.opts.OnDismiss != nil {
			q.opts.OnDismiss(it)
		}
	}
	for _, it := range fx.promoted {
		if q.opts.OnPromote != nil {
			q.opts.OnPromote(it)
		}
	}
	if fx.changed && q.opts.OnChange != nil {
		q.opts.OnChange(q.Snapshot())
	}
}

// Enqueue appends payload to the backlog and promotes it right away when
// nothing is current and no transition is pending.
func (q *Queue[T]) Enqueue(payload T) (Item[T], error) {
	it := Item[T]{
		ID:         uuid.NewString(),
		Payload:    payload,
		EnqueuedAt: q.clk.Now(),
	}
	if q.opts.Duration != nil {
		if d := q.opts.Duration(payload); d > 0 {
			it.Duration = d
		}
	}

	var fx effects[T]
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return Item[T]{}, ErrStopped
	}
	q.backlog = append(q.backlog, it)
	if n := q.opts.MaxBacklog; n > 0 && len(q.backlog) > n {
		drop := len(q.backlog) - n
		q.dropped += uint64(drop)
		fx.dropped = drop
		q.backlog = append(q.backlog[:0:0], q.backlog[drop:]...)
	}
	if q.current == nil && q.promoteT == nil {
		q.promoteLocked(&fx)
	}
	fx.changed = true
	q.mu.Unlock()

	q.run(fx)
	return it, nil
}

// DismissCurrent clears the current item and schedules the next promotion.
// It reports whether there was anything to dismiss.
func (q *Queue[T]) DismissCurrent() bool {
	var fx effects[T]
	q.mu.Lock()
	ok := q.dismissLocked(&fx)
	q.mu.Unlock()
	q.run(fx)
	return ok
}

// Dismiss removes the item with the given id, whether current or waiting.
func (q *Queue[T]) Dismiss(id string) bool {
	var fx effects[T]
	q.mu.Lock()
	ok := false
	if q.current != nil && q.current.ID == id {
		ok = q.dismissLocked(&fx)
	} else {
		for i, it := range q.backlog {
			if it.ID == id {
				q.backlog = append(q.backlog[:i], q.backlog[i+1:]...)
				fx.changed = true
				ok = true
				break
			}
		}
	}
	q.mu.Unlock()
	q.run(fx)
	return ok
}

func (q *Queue[T]) Current() (Item[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return Item[T]{}, false
	}
	return *q.current, true
}

func (q *Queue[T]) Backlog() []Item[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Item[T](nil), q.backlog...)
}

func (q *Queue[T]) Snapshot() Snapshot[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Snapshot[T]{
		Name:          q.opts.Name,
		Backlog:       append([]Item[T]{}, q.backlog...),
		Transitioning: q.promoteT != nil,
		Dropped:       q.dropped,
	}
	if q.current != nil {
		cur := *q.current
		s.Current = &cur
	}
	return s
}

// Stop disarms timers and rejects further enqueues. Items already queued
// stay visible in snapshots.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	q.stopped = true
	if q.dismissT != nil {
		q.dismissT.Stop()
		q.dismissT = nil
	}
	if q.promoteT != nil {
		q.promoteT.Stop()
		q.promoteT = nil
	}
	q.promoteGen++
	q.mu.Unlock()
}

func (q *Queue[T]) dismissLocked(fx *effects[T]) bool {
	if q.current == nil {
		return false
	}
	if q.dismissT != nil {
		q.dismissT.Stop()
		q.dismissT = nil
	}
	fx.dismissed = append(fx.dismissed, *q.current)
	fx.changed = true
	q.current = nil
	q.schedulePromoteLocked(fx)
	return true
}

func (q *Queue[T]) schedulePromoteLocked(fx *effects[T]) {
	if q.stopped {
		return
	}
	if q.opts.TransitionDelay < 0 {
		q.promoteLocked(fx)
		return
	}
	if q.promoteT != nil {
		return
	}
	q.promoteGen++
	gen := q.promoteGen
	q.promoteT = q.clk.AfterFunc(q.opts.TransitionDelay, func() { q.onTransitionDone(gen) })
}

func (q *Queue[T]) onTransitionDone(gen uint64) {
	var fx effects[T]
	q.mu.Lock()
	if gen != q.promoteGen || q.promoteT == nil {
		q.mu.Unlock()
		return
	}
	q.promoteT = nil
	fx.changed = true
	if q.current == nil {
		q.promoteLocked(&fx)
	}
	q.mu.Unlock()
	q.run(fx)
}

func (q *Queue[T]) promoteLocked(fx *effects[T]) {
	if len(q.backlog) == 0 {
		return
	}
	it := q.backlog[0]
	q.backlog[0] = Item[T]{}
	q.backlog = q.backlog[1:]
	it.ShownAt = q.clk.Now()
	q.current = &it
	fx.promoted = append(fx.promoted, it)
	fx.changed = true

	if it.Duration > 0 && !q.stopped {
		id := it.ID
		q.dismissT = q.clk.AfterFunc(it.Duration, func() { q.autoDismiss(id) })
	}
}

func (q *Queue[T]) autoDismiss(id string) {
	var fx effects[T]
	q.mu.Lock()
	if q.current == nil || q.current.ID != id {
		q.mu.Unlock()
		return
	}
	q.dismissT = nil
	q.dismissLocked(&fx)
	q.mu.Unlock()
	q.log.Trace("alert auto-dismissed", logx.String("id", id))
	q.run(fx)
}
