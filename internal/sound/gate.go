// Package sound serializes alert sounds and enforces a cooldown between them.
package sound

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tickerwatch/internal/clock"
	logx "tickerwatch/pkg/logx"
)

// Player performs the actual playback. Play should return when the sound
// finished or ctx is done.
type Player interface {
	Play(ctx context.Context, name string) error
}

type PlayerFunc func(ctx context.Context, name string) error

func (f PlayerFunc) Play(ctx context.Context, name string) error { return f(ctx, name) }

// Gate owns the cooldown state. Calls are serialized, including playback,
// so two bursts can never overlap or both pass the cooldown check.
type Gate struct {
	log    logx.Logger
	clk    clock.Clock
	player Player

	// base is canceled by Close to abort playback in progress.
	base   context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu       sync.Mutex
	muted    bool
	lastPlay time.Time
	played   bool
}

func NewGate(player Player, clk clock.Clock, log logx.Logger) *Gate {
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Gate{log: log, clk: clk, player: player, base: base, cancel: cancel}
}

// Play plays name unless the gate is muted, name is empty, or less than
// cooldown has passed since the last playback. It reports whether the sound
// was played.
func (g *Gate) Play(ctx context.Context, name string, cooldown time.Duration) bool {
	if name == "" {
		g.log.Debug("sound skipped: empty name")
		return false
	}
	if g.closed.Load() {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.muted {
		return false
	}
	now := g.clk.Now()
	if g.played && now.Sub(g.lastPlay) < cooldown {
		g.log.Trace("sound suppressed by cooldown", logx.String("sound", name), logx.Duration("since", now.Sub(g.lastPlay)))
		return false
	}
	g.lastPlay = now
	g.played = true

	if g.player == nil {
		return true
	}
	pctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(g.base, cancel)
	defer func() {
		stop()
		cancel()
	}()
	if err := g.player.Play(pctx, name); err != nil {
		g.log.Warn("sound playback failed", logx.String("sound", name), logx.Err(err))
		return false
	}
	return true
}

func (g *Gate) SetMuted(m bool) {
	g.mu.Lock()
	g.muted = m
	g.mu.Unlock()
}

func (g *Gate) Muted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.muted
}

// LastPlayed returns the time of the last playback, if any.
func (g *Gate) LastPlayed() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastPlay, g.played
}

// Close aborts playback in progress and turns further Play calls into
// no-ops. It never blocks, so it is safe on the signal path.
func (g *Gate) Close() {
	g.closed.Store(true)
	g.cancel()
}
