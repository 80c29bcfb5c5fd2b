package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tickerwatch/internal/alertq"
	"tickerwatch/internal/alerts"
	"tickerwatch/internal/clock"
	"tickerwatch/internal/config"
	"tickerwatch/internal/notifier"
	"tickerwatch/internal/snooze"
	"tickerwatch/internal/ticker"
	logx "tickerwatch/pkg/logx"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	got []notifier.Notification
	err error
}

func (r *recordingDispatcher) Dispatch(n notifier.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

type recordingSound struct {
	mu    sync.Mutex
	names []string
	done  chan struct{}
}

func (r *recordingSound) Play(_ context.Context, name string, _ time.Duration) bool {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	r.done <- struct{}{}
	return true
}

type toastFunc func(alerts.Toast)

func (f toastFunc) Enqueue(t alerts.Toast) (alertq.Item[alerts.Toast], error) {
	f(t)
	return alertq.Item[alerts.Toast]{Payload: t}, nil
}

func TestSnoozedSymbolIsNotDelivered(t *testing.T) {
	ctx := context.Background()
	sn := snooze.Open(ctx, nil, logx.Nop())
	_ = sn.SetSnooze(ctx, "GME", true)
	disp := &recordingDispatcher{}
	var toasts []string
	p := New(Deps{Snoozes: sn, Dispatcher: disp, Toasts: toastFunc(func(t alerts.Toast) { toasts = append(toasts, t.Symbol) })})
	defer p.Close()

	if got := p.Handle(ticker.Event{Symbol: "GME", HighPriority: true}); got != Snoozed {
		t.Fatalf("Handle(GME) = %s", got)
	}
	if got := p.Handle(ticker.Event{Symbol: "AMC"}); got != Delivered {
		t.Fatalf("Handle(AMC) = %s", got)
	}
	if len(disp.got) != 1 || disp.got[0].Symbol != "AMC" {
		t.Fatalf("dispatched = %+v", disp.got)
	}
	if diff := cmp.Diff([]string{"AMC"}, toasts); diff != "" {
		t.Fatalf("toasts (-want +got):\n%s", diff)
	}
	want := Stats{Received: 2, Snoozed: 1, Dispatched: 1}
	if diff := cmp.Diff(want, p.Stats()); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}
}

func TestChartTemplateApplied(t *testing.T) {
	disp := &recordingDispatcher{}
	p := New(Deps{Dispatcher: disp})
	defer p.Close()
	cfg := config.Defaults()
	cfg.Server.ChartURL = "https://charts.example/{symbol}/1D"
	p.Apply(cfg)

	p.Handle(ticker.Event{Symbol: "NVDA"})
	if got := disp.got[0].ChartURL; got != "https://charts.example/NVDA/1D" {
		t.Fatalf("ChartURL = %q", got)
	}
}

func TestSoundPlaysWhenToastIsShown(t *testing.T) {
	snd := &recordingSound{done: make(chan struct{}, 4)}
	clk := clock.NewManual(time.Unix(0, 0))
	var p *Pipeline
	am := alerts.New(alerts.Config{ToastDuration: time.Second}, alerts.Deps{
		Clock:        clk,
		OnToastShown: func(t alerts.Toast) { p.ToastShown(t) },
	})
	p = New(Deps{Toasts: am.Toasts, Sound: snd})
	defer p.Close()
	cfg := config.Defaults()
	cfg.Sound.Name = "ding"
	p.Apply(cfg)

	p.Handle(ticker.Event{Symbol: "AAPL"})
	p.Handle(ticker.Event{Symbol: "MSFT"})
	<-snd.done

	select {
	case <-snd.done:
		t.Fatal("second toast played before it was shown")
	case <-time.After(50 * time.Millisecond):
	}

	clk.Advance(time.Second + 300*time.Millisecond)
	<-snd.done
	if diff := cmp.Diff([]string{"ding", "ding"}, snd.names); diff != "" {
		t.Fatalf("sounds (-want +got):\n%s", diff)
	}
}

func TestDispatchErrorsAreCounted(t *testing.T) {
	p := New(Deps{Dispatcher: &recordingDispatcher{err: notifier.ErrQueueFull}})
	defer p.Close()
	p.Handle(ticker.Event{Symbol: "X"})
	if p.Stats().Dropped != 1 {
		t.Fatalf("Dropped = %d", p.Stats().Dropped)
	}
}
