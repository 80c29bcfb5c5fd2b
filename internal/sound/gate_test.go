package sound

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tickerwatch/internal/clock"
	logx "tickerwatch/pkg/logx"
)

type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) Play(_ context.Context, name string) error {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	return nil
}

func TestCooldown(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	rec := &recorder{}
	g := NewGate(rec, clk, logx.Nop())
	ctx := context.Background()

	steps := []struct {
		at   time.Duration
		want bool
	}{
		{0, true},
		{time.Second, false},
		{3 * time.Second, true},
		{4 * time.Second, false},
		{5 * time.Second, true},
	}
	var elapsed time.Duration
	for _, st := range steps {
		clk.Advance(st.at - elapsed)
		elapsed = st.at
		if got := g.Play(ctx, "x", 2*time.Second); got != st.want {
			t.Fatalf("Play at t=%v = %v, want %v", st.at, got, st.want)
		}
	}
	if len(rec.names) != 3 {
		t.Fatalf("player called %d times, want 3", len(rec.names))
	}
}

func TestMutedAndEmptyNameAreNoops(t *testing.T) {
	rec := &recorder{}
	g := NewGate(rec, clock.NewManual(time.Unix(0, 0)), logx.Nop())

	if g.Play(context.Background(), "", 0) {
		t.Fatal("empty name should not play")
	}
	g.SetMuted(true)
	if g.Play(context.Background(), "x", 0) {
		t.Fatal("muted gate should not play")
	}
	if _, ok := g.LastPlayed(); ok {
		t.Fatal("suppressed calls must not update lastPlayed")
	}
	g.SetMuted(false)
	if !g.Play(context.Background(), "x", 0) {
		t.Fatal("unmuted gate should play")
	}
}

func TestPlaybackIsSerialized(t *testing.T) {
	var active, maxActive atomic.Int32
	player := PlayerFunc(func(ctx context.Context, name string) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return nil
	})
	g := NewGate(player, nil, logx.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Play(context.Background(), "x", 0)
		}()
	}
	wg.Wait()
	if maxActive.Load() != 1 {
		t.Fatalf("overlapping playback: max active = %d", maxActive.Load())
	}
}

func TestCloseAbortsPlayback(t *testing.T) {
	started := make(chan struct{})
	player := PlayerFunc(func(ctx context.Context, name string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	g := NewGate(player, nil, logx.Nop())

	done := make(chan bool)
	go func() { done <- g.Play(context.Background(), "x", 0) }()
	<-started
	g.Close()

	select {
	case played := <-done:
		if played {
			t.Fatal("aborted playback reported as played")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not abort playback")
	}
	if g.Play(context.Background(), "x", 0) {
		t.Fatal("Play after Close should be a no-op")
	}
}

func TestExecPlayer(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true(1) not available")
	}
	if err := NewExecPlayer([]string{"true", "{sound}"}).Play(context.Background(), "ding"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	var p *ExecPlayer
	if err := p.Play(context.Background(), "x"); err == nil {
		t.Fatal("nil player should error")
	}
	if err := (&ExecPlayer{}).Play(context.Background(), "x"); err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("empty argv err = %v", err)
	}
}
